package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Highrates/vspomni-sub000/internal/cart"
	"github.com/Highrates/vspomni-sub000/internal/commerce"
	"github.com/Highrates/vspomni-sub000/internal/payment"
	"github.com/Highrates/vspomni-sub000/internal/pricing"
	"github.com/Highrates/vspomni-sub000/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackend struct {
	products map[string]*commerce.Product

	createDirectErr   error
	createStandardErr error
	createTotal       int64
	createDirectCalls int
	standardCalls     int

	voucherErr  error
	voucher     *commerce.Voucher
	attachErr   error
	attachTotal int64

	getCheckout    *commerce.Checkout
	getCheckoutErr error

	recordTransactionErr error
	attachEmailErr       error
	setAddressErr        error
	defaultAddress       *commerce.Address
	defaultAddressErr    error

	completeDirectErr    error
	completeStandardErr  error
	completeDirectCalls  int
	completeStdCalls     int
	recordedTransactions int
	recordedAmounts      []int64
	attachedEmails       []string
	billingAddresses     []commerce.Address
}

func (b *fakeBackend) GetProduct(_ context.Context, slug string) (*commerce.Product, error) {
	product, ok := b.products[slug]
	if !ok {
		return nil, commerce.ErrProductNotFound
	}
	return product, nil
}

func (b *fakeBackend) CreateCheckoutDirect(_ context.Context, lines []commerce.CheckoutLine, _ string) (*commerce.Checkout, error) {
	b.createDirectCalls++
	if b.createDirectErr != nil {
		return nil, b.createDirectErr
	}
	return &commerce.Checkout{ID: "chk_direct", TotalAmount: b.createTotal}, nil
}

func (b *fakeBackend) CreateCheckoutStandard(_ context.Context, lines []commerce.CheckoutLine, _ string) (*commerce.Checkout, error) {
	b.standardCalls++
	if b.createStandardErr != nil {
		return nil, b.createStandardErr
	}
	return &commerce.Checkout{ID: "chk_standard", TotalAmount: b.createTotal}, nil
}

func (b *fakeBackend) GetCheckout(_ context.Context, checkoutID string) (*commerce.Checkout, error) {
	if b.getCheckoutErr != nil {
		return nil, b.getCheckoutErr
	}
	if b.getCheckout != nil {
		return b.getCheckout, nil
	}
	return &commerce.Checkout{ID: checkoutID}, nil
}

func (b *fakeBackend) ValidateVoucher(_ context.Context, code string, variantIDs []string) (*commerce.Voucher, error) {
	if b.voucherErr != nil {
		return nil, b.voucherErr
	}
	return b.voucher, nil
}

func (b *fakeBackend) AttachVoucher(_ context.Context, checkoutID, code string) (*commerce.Checkout, error) {
	if b.attachErr != nil {
		return nil, b.attachErr
	}
	return &commerce.Checkout{ID: checkoutID, TotalAmount: b.attachTotal}, nil
}

func (b *fakeBackend) RecordTransaction(_ context.Context, checkoutID, paymentID string, amount int64) error {
	if b.recordTransactionErr != nil {
		return b.recordTransactionErr
	}
	b.recordedTransactions++
	b.recordedAmounts = append(b.recordedAmounts, amount)
	return nil
}

func (b *fakeBackend) AttachEmail(_ context.Context, checkoutID, email string) error {
	if b.attachEmailErr != nil {
		return b.attachEmailErr
	}
	b.attachedEmails = append(b.attachedEmails, email)
	return nil
}

func (b *fakeBackend) SetBillingAddress(_ context.Context, checkoutID string, address commerce.Address) error {
	if b.setAddressErr != nil {
		return b.setAddressErr
	}
	b.billingAddresses = append(b.billingAddresses, address)
	return nil
}

func (b *fakeBackend) GetDefaultAddress(_ context.Context, email string) (*commerce.Address, error) {
	if b.defaultAddressErr != nil {
		return nil, b.defaultAddressErr
	}
	return b.defaultAddress, nil
}

func (b *fakeBackend) CompleteDirect(_ context.Context, checkoutID string) (*commerce.Order, error) {
	b.completeDirectCalls++
	if b.completeDirectErr != nil {
		return nil, b.completeDirectErr
	}
	return &commerce.Order{ID: "ord_1", Number: "1042", Status: "COMPLETED"}, nil
}

func (b *fakeBackend) CompleteStandard(_ context.Context, checkoutID string) (*commerce.Order, error) {
	b.completeStdCalls++
	if b.completeStandardErr != nil {
		return nil, b.completeStandardErr
	}
	return &commerce.Order{ID: "ord_1", Number: "1042", Status: "COMPLETED"}, nil
}

type fakeGateway struct {
	err    error
	calls  int
	params payment.IntentParams
	// observe lets a test inspect persisted state at the moment the
	// gateway is invoked.
	observe func()
}

func (g *fakeGateway) CreateIntent(_ context.Context, params payment.IntentParams) (*payment.Intent, error) {
	g.calls++
	g.params = params
	if g.observe != nil {
		g.observe()
	}
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Intent{ID: "pi_123", ClientSecret: "pi_123_secret", Amount: params.Amount, Currency: params.Currency}, nil
}

type fakeSigner struct {
	err error
}

func (f *fakeSigner) Sign(intent *payment.Intent, returnURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "token-" + intent.ID, nil
}

func newTestCart(t *testing.T, provider storage.Provider, clientID string, lines ...cart.Line) *cart.Store {
	t.Helper()
	store, err := cart.Load(context.Background(), clientID, provider, pricing.NewEngine(), testLogger())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, line := range lines {
		if err := store.AddLine(context.Background(), line); err != nil {
			t.Fatalf("AddLine() error = %v", err)
		}
	}
	return store
}

func sprayLine() cart.Line {
	return cart.Line{
		ProductID: "prod_1",
		Slug:      "verdant-oud",
		Name:      "Verdant Oud",
		Price:     12990,
		Quantity:  1,
		Size:      "50ml",
		VariantID: "var_50",
	}
}

func newCheckoutService(backend *fakeBackend, gateway *fakeGateway, provider storage.Provider) *CheckoutService {
	return NewCheckoutService(
		backend,
		gateway,
		&fakeSigner{},
		NewPromoService(backend, testLogger()),
		provider,
		nil,
		CheckoutConfig{Currency: "rub", ReturnURL: "https://shop.test/confirm"},
		testLogger(),
	)
}

func TestBeginHandoff(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{createTotal: 12990}
	gateway := &fakeGateway{}
	svc := newCheckoutService(backend, gateway, provider)
	cartStore := newTestCart(t, provider, "client-1", sprayLine())

	handoff, err := svc.Begin(context.Background(), cartStore, Customer{ClientID: "client-1"})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if handoff.CheckoutID != "chk_direct" {
		t.Errorf("CheckoutID = %q, want chk_direct", handoff.CheckoutID)
	}
	if handoff.PaymentID != "pi_123" || handoff.ClientSecret != "pi_123_secret" {
		t.Errorf("payment fields = %q/%q", handoff.PaymentID, handoff.ClientSecret)
	}
	if handoff.Amount != 12990 || handoff.Currency != "rub" {
		t.Errorf("Amount/Currency = %d/%q, want 12990/rub", handoff.Amount, handoff.Currency)
	}
	if handoff.WidgetToken != "token-pi_123" {
		t.Errorf("WidgetToken = %q", handoff.WidgetToken)
	}
	if gateway.params.Metadata["client_id"] != "client-1" || gateway.params.Metadata["checkout_id"] != "chk_direct" {
		t.Errorf("intent metadata = %v", gateway.params.Metadata)
	}

	record, err := LoadPendingCheckout(context.Background(), provider, "client-1")
	if err != nil {
		t.Fatalf("LoadPendingCheckout() error = %v", err)
	}
	if record == nil || record.CheckoutID != "chk_direct" || record.PaymentID != "pi_123" || record.Amount != 12990 {
		t.Errorf("pending record = %+v", record)
	}
}

func TestBeginPersistsHandoffBeforeGateway(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{createTotal: 12990}
	gateway := &fakeGateway{}
	svc := newCheckoutService(backend, gateway, provider)
	cartStore := newTestCart(t, provider, "client-1", sprayLine())

	var recordAtIntent *PendingCheckout
	gateway.observe = func() {
		recordAtIntent, _ = LoadPendingCheckout(context.Background(), provider, "client-1")
	}

	if _, err := svc.Begin(context.Background(), cartStore, Customer{ClientID: "client-1"}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if recordAtIntent == nil {
		t.Fatal("hand-off record was not persisted before the gateway call")
	}
	if recordAtIntent.CheckoutID != "chk_direct" {
		t.Errorf("record at intent time = %+v", recordAtIntent)
	}
}

func TestBeginEmptyCart(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	svc := newCheckoutService(&fakeBackend{}, &fakeGateway{}, provider)
	cartStore := newTestCart(t, provider, "client-1")

	_, err := svc.Begin(context.Background(), cartStore, Customer{ClientID: "client-1"})
	var userErr *UserError
	if !errors.As(err, &userErr) {
		t.Fatalf("Begin() error = %v, want UserError", err)
	}
}

func TestBeginResolvesMissingVariant(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{
		createTotal: 12990,
		products: map[string]*commerce.Product{
			"verdant-oud": {
				ID:        "prod_1",
				Name:      "Verdant Oud",
				Available: true,
				Variants:  []commerce.Variant{{ID: "var_50", Size: "50ml", Price: 12990}},
			},
		},
	}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)

	line := sprayLine()
	line.VariantID = ""
	cartStore := newTestCart(t, provider, "client-1", line)

	if _, err := svc.Begin(context.Background(), cartStore, Customer{ClientID: "client-1"}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if got := cartStore.Lines()[0].VariantID; got != "var_50" {
		t.Errorf("cached VariantID = %q, want var_50", got)
	}
}

func TestBeginDirectTransientNoFallback(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{
		createDirectErr: &commerce.Fault{Kind: commerce.FaultTransient, Err: errors.New("504")},
	}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)
	cartStore := newTestCart(t, provider, "client-1", sprayLine())

	_, err := svc.Begin(context.Background(), cartStore, Customer{ClientID: "client-1"})
	var userErr *UserError
	if !errors.As(err, &userErr) {
		t.Fatalf("Begin() error = %v, want UserError", err)
	}
	if backend.standardCalls != 0 {
		t.Errorf("standardCalls = %d, want 0 on transient direct failure", backend.standardCalls)
	}
}

func TestBeginDirectFatalFallsBackToStandard(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{
		createDirectErr: &commerce.Fault{Kind: commerce.FaultFatal, Err: errors.New("404")},
		createTotal:     12990,
	}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)
	cartStore := newTestCart(t, provider, "client-1", sprayLine())

	handoff, err := svc.Begin(context.Background(), cartStore, Customer{ClientID: "client-1"})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if handoff.CheckoutID != "chk_standard" {
		t.Errorf("CheckoutID = %q, want chk_standard", handoff.CheckoutID)
	}
	if backend.standardCalls != 1 {
		t.Errorf("standardCalls = %d, want 1", backend.standardCalls)
	}
}

func TestBeginStandardStockNamesProduct(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{
		createDirectErr: &commerce.Fault{Kind: commerce.FaultFatal, Err: errors.New("404")},
		createStandardErr: &commerce.Fault{
			Kind:        commerce.FaultStock,
			ProductName: "Verdant Oud",
			Size:        "50ml",
			Err:         errors.New("INSUFFICIENT_STOCK"),
		},
	}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)
	cartStore := newTestCart(t, provider, "client-1", sprayLine())

	_, err := svc.Begin(context.Background(), cartStore, Customer{ClientID: "client-1"})
	msg := UserMessage(err)
	if !strings.Contains(msg, "Verdant Oud") || !strings.Contains(msg, "50ml") {
		t.Errorf("UserMessage() = %q, want product and size named", msg)
	}
}

func TestBeginPromoSyncAdoptsRemoteTotal(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{createTotal: 12990, attachTotal: 11691}
	gateway := &fakeGateway{}
	svc := newCheckoutService(backend, gateway, provider)
	cartStore := newTestCart(t, provider, "client-1", sprayLine())
	if err := cartStore.ApplyPromo(context.Background(), cart.Promo{Code: "SPRING10", Type: pricing.DiscountPercentage, Percent: 10}); err != nil {
		t.Fatalf("ApplyPromo() error = %v", err)
	}

	handoff, err := svc.Begin(context.Background(), cartStore, Customer{ClientID: "client-1"})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if handoff.Amount != 11691 {
		t.Errorf("Amount = %d, want remote authoritative 11691", handoff.Amount)
	}
}

func TestBeginPromoSyncFailureProceeds(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{createTotal: 12990, attachErr: errors.New("boom")}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)
	cartStore := newTestCart(t, provider, "client-1", sprayLine())
	if err := cartStore.ApplyPromo(context.Background(), cart.Promo{Code: "SPRING10", Type: pricing.DiscountPercentage, Percent: 10}); err != nil {
		t.Fatalf("ApplyPromo() error = %v", err)
	}

	handoff, err := svc.Begin(context.Background(), cartStore, Customer{ClientID: "client-1"})
	if err != nil {
		t.Fatalf("Begin() error = %v, want success despite promo sync failure", err)
	}
	if handoff.Amount != 12990 {
		t.Errorf("Amount = %d, want pre-discount 12990", handoff.Amount)
	}
}

func TestBeginIntentFailureClearsHandoff(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{createTotal: 12990}
	gateway := &fakeGateway{err: errors.New("card network down")}
	svc := newCheckoutService(backend, gateway, provider)
	cartStore := newTestCart(t, provider, "client-1", sprayLine())

	_, err := svc.Begin(context.Background(), cartStore, Customer{ClientID: "client-1"})
	var userErr *UserError
	if !errors.As(err, &userErr) {
		t.Fatalf("Begin() error = %v, want UserError", err)
	}

	record, err := LoadPendingCheckout(context.Background(), provider, "client-1")
	if err != nil {
		t.Fatalf("LoadPendingCheckout() error = %v", err)
	}
	if record != nil {
		t.Errorf("pending record = %+v, want cleared after intent failure", record)
	}
}

func TestFinalizeCompletesAndClears(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)
	cartStore := newTestCart(t, provider, "client-1", sprayLine())
	if err := savePendingCheckout(context.Background(), provider, "client-1", PendingCheckout{CheckoutID: "chk_1", PaymentID: "pi_123", Amount: 12990}); err != nil {
		t.Fatalf("savePendingCheckout() error = %v", err)
	}

	order, err := svc.Finalize(context.Background(), cartStore, FinalizeInput{
		ClientID:   "client-1",
		CheckoutID: "chk_1",
		PaymentID:  "pi_123",
		Amount:     12990,
		Email:      "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if order.Number != "1042" {
		t.Errorf("order.Number = %q, want 1042", order.Number)
	}
	if backend.recordedTransactions != 1 {
		t.Errorf("recordedTransactions = %d, want 1", backend.recordedTransactions)
	}
	if len(backend.attachedEmails) != 1 || backend.attachedEmails[0] != "buyer@example.com" {
		t.Errorf("attachedEmails = %v", backend.attachedEmails)
	}
	if len(backend.billingAddresses) != 1 {
		t.Errorf("billingAddresses = %v", backend.billingAddresses)
	}

	record, _ := LoadPendingCheckout(context.Background(), provider, "client-1")
	if record != nil {
		t.Errorf("pending record = %+v, want cleared", record)
	}
	if !cartStore.IsEmpty() {
		t.Error("cart not cleared after completion")
	}
}

func TestFinalizeAdvisoryFailuresNeverAbort(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{
		recordTransactionErr: errors.New("boom"),
		attachEmailErr:       errors.New("boom"),
		setAddressErr:        errors.New("boom"),
	}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)

	order, err := svc.Finalize(context.Background(), nil, FinalizeInput{
		ClientID:   "client-1",
		CheckoutID: "chk_1",
		PaymentID:  "pi_123",
		Amount:     12990,
		Email:      "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("Finalize() error = %v, want advisory failures swallowed", err)
	}
	if order == nil {
		t.Fatal("Finalize() order = nil")
	}
}

func TestFinalizePrefersRemoteAmount(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{getCheckout: &commerce.Checkout{ID: "chk_1", TotalAmount: 11691}}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)

	if _, err := svc.Finalize(context.Background(), nil, FinalizeInput{
		ClientID:   "client-1",
		CheckoutID: "chk_1",
		PaymentID:  "pi_123",
		Amount:     12990,
	}); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(backend.recordedAmounts) != 1 || backend.recordedAmounts[0] != 11691 {
		t.Errorf("recordedAmounts = %v, want the remote authoritative 11691", backend.recordedAmounts)
	}
}

func TestFinalizeDirectFailureFallsBackToStandard(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{
		completeDirectErr: &commerce.Fault{Kind: commerce.FaultFatal, Err: errors.New("500")},
	}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)

	order, err := svc.Finalize(context.Background(), nil, FinalizeInput{ClientID: "client-1", CheckoutID: "chk_1", PaymentID: "pi_123", Amount: 12990})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if order.Status != "COMPLETED" {
		t.Errorf("order.Status = %q", order.Status)
	}
	if backend.completeStdCalls != 1 {
		t.Errorf("completeStdCalls = %d, want 1", backend.completeStdCalls)
	}
}

func TestFinalizeAlreadyCompletedIsSuccess(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{completeDirectErr: commerce.ErrCheckoutCompleted}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)

	order, err := svc.Finalize(context.Background(), nil, FinalizeInput{ClientID: "client-1", CheckoutID: "chk_1", Amount: 12990})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if order.Status != "COMPLETED" {
		t.Errorf("order.Status = %q, want COMPLETED", order.Status)
	}
	if backend.completeStdCalls != 0 {
		t.Errorf("completeStdCalls = %d, want 0", backend.completeStdCalls)
	}
}

func TestFinalizeFailureKeepsHandoffRecord(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{
		completeDirectErr:   &commerce.Fault{Kind: commerce.FaultFatal, Err: errors.New("500")},
		completeStandardErr: &commerce.Fault{Kind: commerce.FaultFatal, Err: errors.New("500")},
	}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)
	if err := savePendingCheckout(context.Background(), provider, "client-1", PendingCheckout{CheckoutID: "chk_1", PaymentID: "pi_123", Amount: 12990}); err != nil {
		t.Fatalf("savePendingCheckout() error = %v", err)
	}

	_, err := svc.Finalize(context.Background(), nil, FinalizeInput{ClientID: "client-1", CheckoutID: "chk_1", PaymentID: "pi_123", Amount: 12990})
	if err == nil {
		t.Fatal("Finalize() error = nil, want failure")
	}

	record, loadErr := LoadPendingCheckout(context.Background(), provider, "client-1")
	if loadErr != nil {
		t.Fatalf("LoadPendingCheckout() error = %v", loadErr)
	}
	if record == nil {
		t.Error("hand-off record cleared despite failed completion")
	}
}

func TestHandleGatewayResultFailureKeepsRecord(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)
	if err := savePendingCheckout(context.Background(), provider, "client-1", PendingCheckout{CheckoutID: "chk_1", PaymentID: "pi_123", Amount: 12990}); err != nil {
		t.Fatalf("savePendingCheckout() error = %v", err)
	}

	order, err := svc.HandleGatewayResult(context.Background(), nil, GatewayResult{
		ClientID:       "client-1",
		PaymentID:      "pi_123",
		Succeeded:      false,
		FailureMessage: "card declined",
	})
	if err != nil || order != nil {
		t.Fatalf("HandleGatewayResult() = %v, %v, want nil, nil", order, err)
	}

	record, _ := LoadPendingCheckout(context.Background(), provider, "client-1")
	if record == nil {
		t.Error("hand-off record cleared on gateway failure, want kept for retry")
	}
	if backend.completeDirectCalls != 0 {
		t.Errorf("completeDirectCalls = %d, want 0", backend.completeDirectCalls)
	}
}

func TestHandleGatewayResultSuccessFinalizesFromRecord(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)
	if err := savePendingCheckout(context.Background(), provider, "client-1", PendingCheckout{CheckoutID: "chk_1", PaymentID: "pi_123", Amount: 12990}); err != nil {
		t.Fatalf("savePendingCheckout() error = %v", err)
	}

	order, err := svc.HandleGatewayResult(context.Background(), nil, GatewayResult{
		ClientID:  "client-1",
		PaymentID: "pi_123",
		Succeeded: true,
	})
	if err != nil {
		t.Fatalf("HandleGatewayResult() error = %v", err)
	}
	if order == nil || order.Number != "1042" {
		t.Fatalf("order = %+v, want finalized order", order)
	}

	record, _ := LoadPendingCheckout(context.Background(), provider, "client-1")
	if record != nil {
		t.Errorf("pending record = %+v, want cleared after finalize", record)
	}
}

func TestHandleGatewayResultSuccessWithoutRecord(t *testing.T) {
	t.Parallel()

	provider, _ := storage.NewMemoryProvider()
	backend := &fakeBackend{}
	svc := newCheckoutService(backend, &fakeGateway{}, provider)

	order, err := svc.HandleGatewayResult(context.Background(), nil, GatewayResult{
		ClientID:  "client-1",
		PaymentID: "pi_123",
		Succeeded: true,
	})
	if err != nil || order != nil {
		t.Fatalf("HandleGatewayResult() = %v, %v, want nil, nil without a record", order, err)
	}
}
