package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xeo-systems/org-platform/internal/apierror"
	"github.com/xeo-systems/org-platform/internal/ledger"
)

type settleCall struct {
	TenantID     int64
	CredentialID string
	Reserved     bool
	Status       int
	Quantity     int
}

type stubLedger struct {
	reserveRes ledger.Reservation
	reserveErr error
	settleErr  error

	reserveCalls int
	settles      []settleCall
	settleCtx    context.Context
}

func (s *stubLedger) Reserve(_ context.Context, tenantID int64) (ledger.Reservation, error) {
	s.reserveCalls++
	return s.reserveRes, s.reserveErr
}

func (s *stubLedger) Settle(ctx context.Context, tenantID int64, credentialID string, reserved bool, responseStatus int, quantity int) error {
	s.settleCtx = ctx
	s.settles = append(s.settles, settleCall{tenantID, credentialID, reserved, responseStatus, quantity})
	return s.settleErr
}

func gateRequest(t *testing.T, l *stubLedger, withIdentity bool, handler echo.HandlerFunc) error {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if withIdentity {
		SetIdentity(c, Identity{TenantID: 42, CredentialID: "01JC0KEY"})
	}

	return RequestGate(l, zap.NewNop())(handler)(c)
}

func okHandler(c echo.Context) error { return c.NoContent(http.StatusOK) }

func TestRequestGate_BypassesWithoutIdentity(t *testing.T) {
	l := &stubLedger{}
	err := gateRequest(t, l, false, okHandler)
	require.NoError(t, err)
	assert.Zero(t, l.reserveCalls, "unauthenticated traffic never touches the ledger")
	assert.Empty(t, l.settles)
}

func TestRequestGate_QuotaRejectionSkipsHandlerAndSettle(t *testing.T) {
	l := &stubLedger{reserveErr: apierror.RateLimit("usage limit exceeded", 3600)}

	called := false
	err := gateRequest(t, l, true, func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})

	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.CodeRateLimit, apiErr.Code)
	assert.Equal(t, 3600, apiErr.RetryAfterSeconds)
	assert.False(t, called)
	assert.Empty(t, l.settles, "a rejected request holds no reservation to settle")
}

func TestRequestGate_StorageFaultBecomesInternal(t *testing.T) {
	l := &stubLedger{reserveErr: errors.New("connection refused")}

	err := gateRequest(t, l, true, okHandler)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.CodeInternal, apiErr.Code)
	assert.NotContains(t, apiErr.Message, "connection", "storage detail never leaks to clients")
	assert.Empty(t, l.settles)
}

func TestRequestGate_SettlesSuccess(t *testing.T) {
	l := &stubLedger{reserveRes: ledger.Reservation{Reserved: true, Used: 10, Limit: 100}}

	err := gateRequest(t, l, true, okHandler)
	require.NoError(t, err)

	require.Len(t, l.settles, 1)
	s := l.settles[0]
	assert.Equal(t, int64(42), s.TenantID)
	assert.Equal(t, "01JC0KEY", s.CredentialID)
	assert.True(t, s.Reserved)
	assert.Equal(t, http.StatusOK, s.Status)
	assert.Equal(t, 1, s.Quantity)
}

func TestRequestGate_SettlesHandlerError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"api error", apierror.NotFound("no such thing"), http.StatusNotFound},
		{"echo http error", echo.NewHTTPError(http.StatusBadRequest, "bad"), http.StatusBadRequest},
		{"opaque error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := &stubLedger{reserveRes: ledger.Reservation{Reserved: true}}

			err := gateRequest(t, l, true, func(echo.Context) error { return tc.err })
			assert.Equal(t, tc.err, err, "the handler's error passes through untouched")

			require.Len(t, l.settles, 1)
			assert.Equal(t, tc.wantStatus, l.settles[0].Status)
			assert.True(t, l.settles[0].Reserved)
		})
	}
}

func TestRequestGate_SettlesWhenHandlerPanics(t *testing.T) {
	l := &stubLedger{reserveRes: ledger.Reservation{Reserved: true}}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	SetIdentity(c, Identity{TenantID: 42, CredentialID: "01JC0KEY"})

	// Recover sits outside the gate, as in the server's middleware chain.
	_ = echoMid.Recover()(RequestGate(l, zap.NewNop())(func(echo.Context) error {
		panic("handler exploded")
	}))(c)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	require.Len(t, l.settles, 1, "a panic must still settle the reservation")
	assert.Equal(t, http.StatusInternalServerError, l.settles[0].Status)
	assert.True(t, l.settles[0].Reserved, "the 500 settlement compensates the reservation")
}

func TestRequestGate_SettleSurvivesRequestCancellation(t *testing.T) {
	l := &stubLedger{reserveRes: ledger.Reservation{Reserved: true}}

	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	SetIdentity(c, Identity{TenantID: 42, CredentialID: "01JC0KEY"})

	err := RequestGate(l, zap.NewNop())(func(echo.Context) error {
		// The client goes away mid-handler.
		cancel()
		return echo.NewHTTPError(http.StatusServiceUnavailable, "aborted")
	})(c)
	require.Error(t, err)

	require.Len(t, l.settles, 1)
	assert.Equal(t, http.StatusServiceUnavailable, l.settles[0].Status)
	require.NotNil(t, l.settleCtx)
	assert.NoError(t, l.settleCtx.Err(), "settlement must not inherit the request's cancellation")
}

func TestRequestGate_SettleFailureDoesNotMaskResponse(t *testing.T) {
	l := &stubLedger{
		reserveRes: ledger.Reservation{Reserved: true},
		settleErr:  errors.New("settle write failed"),
	}

	err := gateRequest(t, l, true, okHandler)
	assert.NoError(t, err, "the client already has a response; settlement faults stay internal")
	require.Len(t, l.settles, 1)
}
