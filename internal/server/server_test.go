package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"topup-checkout/internal/domain"
	"topup-checkout/internal/infrastructure/khqr"
	"topup-checkout/internal/service"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) ListCatalog(ctx context.Context, game string) (map[string]domain.Price, error) {
	args := m.Called(ctx, game)
	return args.Get(0).(map[string]domain.Price), args.Error(1)
}

func (m *MockOrderService) Purchase(ctx context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PurchaseResult), args.Error(1)
}

func (m *MockOrderService) GetStatus(ctx context.Context, orderID string) (*service.OrderStatusView, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.OrderStatusView), args.Error(1)
}

func (m *MockOrderService) IsUserCurrentlyPaying(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.Order), args.Error(1)
}

func (m *MockOrderService) CancelPolling(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *MockOrderService) ProvisionUser(ctx context.Context, userID int64, username string) error {
	args := m.Called(ctx, userID, username)
	return args.Error(0)
}

func (m *MockOrderService) IsReseller(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type staticHealth map[string]string

func (h staticHealth) Health(context.Context) map[string]string { return h }

func newTestServer(svc service.OrderService) *Server {
	gin.SetMode(gin.TestMode)
	return NewServer(svc, staticHealth{"status": "up"}, Options{
		DemoUserID:   1,
		DemoUsername: "demo_user",
		CORSOrigins:  []string{"*"},
	})
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{fmt.Errorf("%w: missing ZoneID", domain.ErrValidation), http.StatusBadRequest, purchaseFormMessage},
		{domain.ErrItemNotFound, http.StatusNotFound, "Item not found"},
		{fmt.Errorf("%w: encode", domain.ErrQRGenerationFailed), http.StatusBadGateway, "Failed to generate QR"},
		{domain.ErrPaymentInProgress, http.StatusConflict, "payment already in progress"},
		{domain.ErrOrderNotFound, http.StatusNotFound, "not found"},
		{domain.ErrNotPolling, http.StatusNotFound, "order is not being polled"},
		{errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, msg := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.msg, msg)
		})
	}
}

func TestHandleIndex_ProvisionsDemoUser(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("ProvisionUser", mock.Anything, int64(1), "demo_user").Return(nil).Once()
	svc.On("IsReseller", mock.Anything, int64(1)).Return(false, nil)
	svc.On("ListCatalog", mock.Anything, "MLBB").Return(map[string]domain.Price{
		"86_DIAMOND": {Normal: decimal.RequireFromString("0.03"), Reseller: decimal.RequireFromString("0.03")},
	}, nil)
	svc.On("ListCatalog", mock.Anything, "FF").Return(map[string]domain.Price{}, nil)

	rr := serve(newTestServer(svc), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, false, body["reseller"])
	assert.Contains(t, body["catalog"].(map[string]any)["MLBB"], "86_DIAMOND")
	assert.Contains(t, rr.Header().Get("Set-Cookie"), "uid=1")
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))
	svc.AssertExpectations(t)
}

func TestHandleIndex_KeepsBoundUser(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("IsReseller", mock.Anything, int64(7)).Return(true, nil)
	svc.On("ListCatalog", mock.Anything, mock.Anything).Return(map[string]domain.Price{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "uid", Value: "7"})
	rr := serve(newTestServer(svc), req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["reseller"])
	assert.Empty(t, rr.Header().Get("Set-Cookie"))
	svc.AssertNotCalled(t, "ProvisionUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleBuy_Created(t *testing.T) {
	svc := new(MockOrderService)
	qr := &khqr.QR{Payload: "000201010212...6304ABCD", Fingerprint: "abc123", PNG: []byte("png")}
	svc.On("Purchase", mock.Anything, service.PurchaseRequest{
		UserID: 1, Game: "MLBB", ItemID: "86_DIAMOND", ServerID: "123", ZoneID: "456",
	}).Return(&service.PurchaseResult{
		Order: &domain.Order{
			OrderID: "AB12CD34",
			Amount:  decimal.RequireFromString("0.03"),
			Status:  domain.OrderUnpaid,
		},
		QR: qr,
	}, nil)

	form := url.Values{"game": {"MLBB"}, "item_id": {"86_DIAMOND"}, "server_id": {"123"}, "zone_id": {"456"}}
	req := httptest.NewRequest(http.MethodPost, "/buy", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := serve(newTestServer(svc), req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "AB12CD34", body["order_id"])
	assert.Equal(t, "0.03", body["amount"])
	assert.Equal(t, "UNPAID", body["status"])
	assert.Equal(t, "abc123", body["fingerprint"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png")), body["qr_png"])
}

func TestHandleBuy_JSONBody(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("Purchase", mock.Anything, service.PurchaseRequest{
		UserID: 3, Game: "FF", ItemID: "50_DIAMOND", ServerID: "9", ZoneID: "8",
	}).Return(nil, domain.ErrItemNotFound)

	req := httptest.NewRequest(http.MethodPost, "/buy",
		strings.NewReader(`{"game":"FF","item_id":"50_DIAMOND","server_id":"9","zone_id":"8"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "uid", Value: "3"})
	rr := serve(newTestServer(svc), req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Item not found", decode(t, rr)["error"])
}

func TestHandleBuy_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"validation", fmt.Errorf("%w: missing ServerID", domain.ErrValidation), http.StatusBadRequest, purchaseFormMessage},
		{"qr", domain.ErrQRGenerationFailed, http.StatusBadGateway, "Failed to generate QR"},
		{"strict guard", domain.ErrPaymentInProgress, http.StatusConflict, "payment already in progress"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockOrderService)
			svc.On("Purchase", mock.Anything, mock.Anything).Return(nil, tt.err)

			req := httptest.NewRequest(http.MethodPost, "/buy", strings.NewReader("game=MLBB"))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rr := serve(newTestServer(svc), req)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.msg, decode(t, rr)["error"])
		})
	}
}

func TestHandleBuy_MalformedJSON(t *testing.T) {
	svc := new(MockOrderService)
	req := httptest.NewRequest(http.MethodPost, "/buy", strings.NewReader(`{"game":`))
	req.Header.Set("Content-Type", "application/json")
	rr := serve(newTestServer(svc), req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, purchaseFormMessage, decode(t, rr)["error"])
	svc.AssertNotCalled(t, "Purchase", mock.Anything, mock.Anything)
}

func TestHandleOrderStatus(t *testing.T) {
	paidAt := time.Date(2024, 5, 1, 17, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	svc := new(MockOrderService)
	svc.On("GetStatus", mock.Anything, "AB12CD34").Return(&service.OrderStatusView{
		Status:          domain.OrderPaid,
		PaymentResponse: json.RawMessage(`{"success":true,"status":"PAID"}`),
		PaidAt:          &paidAt,
	}, nil)
	svc.On("GetStatus", mock.Anything, "MISSING1").Return(nil, domain.ErrOrderNotFound)
	s := newTestServer(svc)

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/order_status/AB12CD34", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t,
		`{"status":"PAID","payment_response":{"success":true,"status":"PAID"},"paid_at":"2024-05-01T17:00:00+07:00"}`,
		rr.Body.String())

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/order_status/MISSING1", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rr.Body.String())
}

func TestHandleOrderStatus_Unpaid(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("GetStatus", mock.Anything, "AB12CD34").Return(&service.OrderStatusView{Status: domain.OrderUnpaid}, nil)

	rr := serve(newTestServer(svc), httptest.NewRequest(http.MethodGet, "/order_status/AB12CD34", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"UNPAID","payment_response":null,"paid_at":null}`, rr.Body.String())
}

func TestHandleCheckPaymentStatus(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("IsUserCurrentlyPaying", mock.Anything, int64(1)).Return(true, nil)
	svc.On("IsUserCurrentlyPaying", mock.Anything, int64(2)).Return(false, nil)
	s := newTestServer(svc)

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/check_payment_status/1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"paid":false}`, rr.Body.String())

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/check_payment_status/2", nil))
	assert.JSONEq(t, `{"paid":true}`, rr.Body.String())

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/check_payment_status/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleListOrders(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("ListOrders", mock.Anything, int64(1)).Return([]domain.Order{
		{OrderID: "NEWER001", Status: domain.OrderUnpaid, Amount: decimal.RequireFromString("0.03")},
		{OrderID: "OLDER001", Status: domain.OrderPaid, Amount: decimal.RequireFromString("6.4")},
	}, nil)

	rr := serve(newTestServer(svc), httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Orders []domain.Order `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Orders, 2)
	assert.Equal(t, "NEWER001", body.Orders[0].OrderID)
}

func TestHandleCancelPolling(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("CancelPolling", mock.Anything, "AB12CD34").Return(nil)
	svc.On("CancelPolling", mock.Anything, "IDLE0001").Return(domain.ErrNotPolling)
	s := newTestServer(svc)

	rr := serve(s, httptest.NewRequest(http.MethodDelete, "/orders/AB12CD34/polling", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(s, httptest.NewRequest(http.MethodDelete, "/orders/IDLE0001/polling", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	up := NewServer(new(MockOrderService), staticHealth{"status": "up"}, Options{DemoUserID: 1})
	rr := serve(up, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	down := NewServer(new(MockOrderService), staticHealth{"status": "down"}, Options{DemoUserID: 1})
	rr = serve(down, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRequestID_Propagated(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("IsUserCurrentlyPaying", mock.Anything, int64(1)).Return(false, nil)

	req := httptest.NewRequest(http.MethodGet, "/check_payment_status/1", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rr := serve(newTestServer(svc), req)

	assert.Equal(t, "req-42", rr.Header().Get(requestIDHeader))
}
