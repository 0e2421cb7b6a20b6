package main

import "github.com/xeo-systems/org-platform/cmd"

func main() {
	cmd.Execute()
}
