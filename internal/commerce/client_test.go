package commerce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_CreateCheckoutDirect(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkouts" {
			t.Errorf("path = %s, want /checkouts", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"id":"chk_42","total_amount":22490}`)); err != nil {
			t.Errorf("write: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL+"/graphql", server.URL, "token", server.Client(), nil)

	checkout, err := client.CreateCheckoutDirect(context.Background(), []CheckoutLine{
		{VariantID: "var_1", Quantity: 1},
		{VariantID: "var_2", Quantity: 2},
	}, "buyer@example.com")
	if err != nil {
		t.Fatalf("CreateCheckoutDirect() error = %v", err)
	}
	if checkout.ID != "chk_42" || checkout.TotalAmount != 22490 {
		t.Fatalf("checkout = %+v", checkout)
	}
	if gotBody["email"] != "buyer@example.com" {
		t.Fatalf("email = %v", gotBody["email"])
	}
}

func TestClient_CompleteDirect(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkouts/chk_42/complete" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"order":{"id":"ord_1","number":"1001","status":"CONFIRMED"}}`)); err != nil {
			t.Errorf("write: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL+"/graphql", server.URL, "", server.Client(), nil)

	order, err := client.CompleteDirect(context.Background(), "chk_42")
	if err != nil {
		t.Fatalf("CompleteDirect() error = %v", err)
	}
	if order.Number != "1001" || order.Status != "CONFIRMED" {
		t.Fatalf("order = %+v", order)
	}
}

func TestClient_DirectFaultClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantStock  bool
		wantTrans  bool
		wantName   string
		wantSize   string
	}{
		{
			name:      "stock conflict",
			status:    http.StatusConflict,
			body:      `{"code":"INSUFFICIENT_STOCK","message":"not enough stock","product":"Noir Extrait","size":"50ml"}`,
			wantStock: true,
			wantName:  "Noir Extrait",
			wantSize:  "50ml",
		},
		{
			name:      "gateway timeout is transient",
			status:    http.StatusGatewayTimeout,
			body:      `{"message":"upstream timeout"}`,
			wantTrans: true,
		},
		{
			name:   "gone endpoint is fatal",
			status: http.StatusNotFound,
			body:   `{"message":"no such endpoint"}`,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				if _, err := w.Write([]byte(tc.body)); err != nil {
					t.Errorf("write: %v", err)
				}
			}))
			defer server.Close()

			client := NewClient(server.URL+"/graphql", server.URL, "", server.Client(), nil)

			_, err := client.CreateCheckoutDirect(context.Background(), []CheckoutLine{{VariantID: "v", Quantity: 1}}, "")
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsStock(err); got != tc.wantStock {
				t.Fatalf("IsStock() = %v, want %v (err=%v)", got, tc.wantStock, err)
			}
			if got := IsTransient(err); got != tc.wantTrans {
				t.Fatalf("IsTransient() = %v, want %v (err=%v)", got, tc.wantTrans, err)
			}
			if tc.wantStock {
				var fault *Fault
				if !asFault(err, &fault) {
					t.Fatalf("error %v is not a Fault", err)
				}
				if fault.ProductName != tc.wantName || fault.Size != tc.wantSize {
					t.Fatalf("fault = %+v", fault)
				}
			}
		})
	}
}
