package commerce

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// asFault is a test helper mirroring errors.As for *Fault.
func asFault(err error, target **Fault) bool {
	return errors.As(err, target)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want FaultKind
	}{
		{
			name: "deadline exceeded is transient",
			err:  context.DeadlineExceeded,
			want: FaultTransient,
		},
		{
			name: "503 message is transient",
			err:  errors.New("graphql: 503 service unavailable"),
			want: FaultTransient,
		},
		{
			name: "stock code is stock",
			err:  errors.New("INSUFFICIENT_STOCK: variant var_1"),
			want: FaultStock,
		},
		{
			name: "plain backend rejection is fatal",
			err:  errors.New("graphql: field does not exist"),
			want: FaultFatal,
		},
		{
			name: "existing fault is preserved",
			err:  fmt.Errorf("wrapped: %w", &Fault{Kind: FaultStock, ProductName: "Amber Oud"}),
			want: FaultStock,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fault := classify(tc.err)
			if fault.Kind != tc.want {
				t.Fatalf("classify(%v).Kind = %s, want %s", tc.err, fault.Kind, tc.want)
			}
		})
	}
}

func TestFault_Unwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	fault := &Fault{Kind: FaultFatal, Err: base}
	wrapped := fmt.Errorf("while completing: %w", fault)

	if !errors.Is(wrapped, base) {
		t.Fatal("wrapped fault should unwrap to the base error")
	}
	if IsStock(wrapped) {
		t.Fatal("fatal fault misclassified as stock")
	}
}
