package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/Highrates/vspomni-sub000/internal/commerce"
	"github.com/Highrates/vspomni-sub000/internal/config"
	"github.com/Highrates/vspomni-sub000/internal/payment"
	"github.com/Highrates/vspomni-sub000/internal/pricing"
	"github.com/Highrates/vspomni-sub000/internal/services"
	"github.com/Highrates/vspomni-sub000/internal/session"
	"github.com/Highrates/vspomni-sub000/internal/storage"
)

// stubBackend satisfies the commerce-facing service interfaces with canned
// responses.
type stubBackend struct {
	checkoutTotal int64
	voucher       *commerce.Voucher
	voucherErr    error
}

func (s *stubBackend) GetProduct(context.Context, string) (*commerce.Product, error) {
	return nil, commerce.ErrProductNotFound
}

func (s *stubBackend) CreateCheckoutDirect(context.Context, []commerce.CheckoutLine, string) (*commerce.Checkout, error) {
	return &commerce.Checkout{ID: "chk_1", TotalAmount: s.checkoutTotal}, nil
}

func (s *stubBackend) CreateCheckoutStandard(context.Context, []commerce.CheckoutLine, string) (*commerce.Checkout, error) {
	return &commerce.Checkout{ID: "chk_1", TotalAmount: s.checkoutTotal}, nil
}

func (s *stubBackend) GetCheckout(_ context.Context, checkoutID string) (*commerce.Checkout, error) {
	return &commerce.Checkout{ID: checkoutID, TotalAmount: s.checkoutTotal}, nil
}

func (s *stubBackend) ValidateVoucher(context.Context, string, []string) (*commerce.Voucher, error) {
	if s.voucherErr != nil {
		return nil, s.voucherErr
	}
	return s.voucher, nil
}

func (s *stubBackend) AttachVoucher(_ context.Context, checkoutID, _ string) (*commerce.Checkout, error) {
	return &commerce.Checkout{ID: checkoutID, TotalAmount: s.checkoutTotal}, nil
}

func (s *stubBackend) RecordTransaction(context.Context, string, string, int64) error { return nil }
func (s *stubBackend) AttachEmail(context.Context, string, string) error              { return nil }
func (s *stubBackend) SetBillingAddress(context.Context, string, commerce.Address) error {
	return nil
}

func (s *stubBackend) GetDefaultAddress(context.Context, string) (*commerce.Address, error) {
	return nil, nil
}

func (s *stubBackend) CompleteDirect(context.Context, string) (*commerce.Order, error) {
	return &commerce.Order{ID: "ord_1", Number: "1042", Status: "COMPLETED"}, nil
}

func (s *stubBackend) CompleteStandard(context.Context, string) (*commerce.Order, error) {
	return &commerce.Order{ID: "ord_1", Number: "1042", Status: "COMPLETED"}, nil
}

type stubGateway struct{}

func (stubGateway) CreateIntent(_ context.Context, params payment.IntentParams) (*payment.Intent, error) {
	return &payment.Intent{ID: "pi_1", ClientSecret: "pi_1_secret", Amount: params.Amount, Currency: params.Currency}, nil
}

type testEnv struct {
	router  *mux.Router
	cookies []*http.Cookie
}

func newTestEnv(t *testing.T, backend *stubBackend) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider, err := storage.NewMemoryProvider()
	if err != nil {
		t.Fatalf("NewMemoryProvider() error = %v", err)
	}
	engine := pricing.NewEngine()
	sessionManager := session.NewManager(session.NewMemoryStore(), false)

	promoService := services.NewPromoService(backend, logger)
	checkoutService := services.NewCheckoutService(
		backend, stubGateway{}, nil, promoService, provider, nil,
		services.CheckoutConfig{Currency: "rub", ReturnURL: "http://localhost/checkout/confirmation"},
		logger,
	)
	recoveryService := services.NewRecoveryService(checkoutService, provider, logger)
	paymentRouter := NewPaymentEventRouter(checkoutService, provider, engine, logger)

	h, err := New(Dependencies{
		Config:          &config.Config{Currency: "rub"},
		StorageProvider: provider,
		PricingEngine:   engine,
		PromoService:    promoService,
		CheckoutService: checkoutService,
		RecoveryService: recoveryService,
		PaymentRouter:   paymentRouter,
		SessionManager:  sessionManager,
		Logger:          logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.SessionMiddleware)
	api.HandleFunc("/cart", h.GetCart).Methods(http.MethodGet)
	api.HandleFunc("/cart", h.ClearCart).Methods(http.MethodDelete)
	api.HandleFunc("/cart/items", h.AddCartLine).Methods(http.MethodPost)
	api.HandleFunc("/cart/items/{lineID}/increment", h.IncrementCartLine).Methods(http.MethodPost)
	api.HandleFunc("/cart/items/{lineID}/decrement", h.DecrementCartLine).Methods(http.MethodPost)
	api.HandleFunc("/cart/items/{lineID}", h.RemoveCartLine).Methods(http.MethodDelete)
	api.HandleFunc("/cart/promo", h.ApplyPromo).Methods(http.MethodPost)
	api.HandleFunc("/cart/promo", h.RemovePromo).Methods(http.MethodDelete)
	api.HandleFunc("/checkout", h.BeginCheckout).Methods(http.MethodPost)
	api.HandleFunc("/checkout/confirmation", h.CheckoutConfirmation).Methods(http.MethodGet)

	return &testEnv{router: router}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for _, cookie := range e.cookies {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	if cookies := rec.Result().Cookies(); len(cookies) > 0 {
		e.cookies = cookies
	}

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response not JSON: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, decoded
}

const addLineBody = `{"product_id":"prod_1","slug":"verdant-oud","name":"Verdant Oud","price":12990,"quantity":1,"size":"50ml","variant_id":"var_50"}`

func TestCartLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &stubBackend{checkoutTotal: 12990})

	rec, body := env.do(t, http.MethodGet, "/api/cart", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/cart = %d", rec.Code)
	}
	if body["total_items"].(float64) != 0 {
		t.Fatalf("fresh cart total_items = %v", body["total_items"])
	}

	rec, body = env.do(t, http.MethodPost, "/api/cart/items", addLineBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/cart/items = %d (%v)", rec.Code, body)
	}
	if body["total_price"].(float64) != 12990 {
		t.Fatalf("total_price = %v", body["total_price"])
	}

	lineID := body["lines"].([]any)[0].(map[string]any)["line_id"].(string)

	rec, body = env.do(t, http.MethodPost, "/api/cart/items/"+lineID+"/increment", "")
	if rec.Code != http.StatusOK || body["total_items"].(float64) != 2 {
		t.Fatalf("increment = %d, total_items = %v", rec.Code, body["total_items"])
	}

	rec, body = env.do(t, http.MethodPost, "/api/cart/items/"+lineID+"/decrement", "")
	if rec.Code != http.StatusOK || body["total_items"].(float64) != 1 {
		t.Fatalf("decrement = %d, total_items = %v", rec.Code, body["total_items"])
	}

	rec, _ = env.do(t, http.MethodDelete, "/api/cart/items/"+lineID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE line = %d", rec.Code)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/cart/items/missing/increment", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("increment missing line = %d, want 404", rec.Code)
	}
}

func TestPromoEndpoints(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{
		checkoutTotal: 11691,
		voucher:       &commerce.Voucher{Code: "SPRING10", Type: pricing.DiscountPercentage, Percent: 10},
	}
	env := newTestEnv(t, backend)

	env.do(t, http.MethodPost, "/api/cart/items", addLineBody)

	rec, body := env.do(t, http.MethodPost, "/api/cart/promo", `{"code":"spring10"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("apply promo = %d (%v)", rec.Code, body)
	}
	if body["total_price"].(float64) != 11691 {
		t.Fatalf("discounted total_price = %v", body["total_price"])
	}

	rec, body = env.do(t, http.MethodPost, "/api/cart/promo", `{"code":"OTHER"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second promo = %d (%v), want 409", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodDelete, "/api/cart/promo", "")
	if rec.Code != http.StatusOK || body["promo"] != nil {
		t.Fatalf("remove promo = %d (%v)", rec.Code, body)
	}

	rec, _ = env.do(t, http.MethodDelete, "/api/cart/promo", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("remove absent promo = %d, want 404", rec.Code)
	}
}

func TestBeginCheckoutEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &stubBackend{checkoutTotal: 12990})
	env.do(t, http.MethodPost, "/api/cart/items", addLineBody)

	rec, body := env.do(t, http.MethodPost, "/api/checkout", `{"email":"buyer@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/checkout = %d (%v)", rec.Code, body)
	}
	if body["checkout_id"] != "chk_1" || body["payment_id"] != "pi_1" {
		t.Fatalf("handoff = %v", body)
	}
	if body["client_secret"] != "pi_1_secret" {
		t.Fatalf("client_secret = %v", body["client_secret"])
	}
}

func TestBeginCheckoutEmptyCart(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &stubBackend{})

	rec, body := env.do(t, http.MethodPost, "/api/checkout", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("POST /api/checkout = %d (%v), want 422", rec.Code, body)
	}
}

func TestConfirmationNothingPending(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &stubBackend{})

	rec, body := env.do(t, http.MethodGet, "/api/checkout/confirmation", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET confirmation = %d", rec.Code)
	}
	if body["status"] != "nothing_pending" {
		t.Fatalf("status = %v", body["status"])
	}
}

func TestConfirmationResumesAfterHandoff(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &stubBackend{checkoutTotal: 12990})
	env.do(t, http.MethodPost, "/api/cart/items", addLineBody)

	rec, _ := env.do(t, http.MethodPost, "/api/checkout", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/checkout = %d", rec.Code)
	}

	// The widget navigated away before any webhook arrived; the
	// confirmation page picks the hand-off record up and finishes.
	rec, body := env.do(t, http.MethodGet, "/api/checkout/confirmation", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET confirmation = %d", rec.Code)
	}
	if body["status"] != "completed" {
		t.Fatalf("status = %v (%v)", body["status"], body)
	}
	order := body["order"].(map[string]any)
	if order["Number"] != "1042" {
		t.Fatalf("order = %v", order)
	}

	// The cart was cleared by finalization.
	rec, body = env.do(t, http.MethodGet, "/api/cart", "")
	if rec.Code != http.StatusOK || body["total_items"].(float64) != 0 {
		t.Fatalf("cart after completion = %v", body)
	}

	// Reload: nothing left to resume.
	rec, body = env.do(t, http.MethodGet, "/api/checkout/confirmation", "")
	if body["status"] != "nothing_pending" {
		t.Fatalf("second confirmation status = %v", body["status"])
	}
}
