// Package cart holds the per-client shopping cart: its lines, the applied
// promo code, and the derived totals. Every mutation recomputes the totals
// through the pricing engine and persists a snapshot through the injected
// storage provider, so a new request (or a reload) reconstructs the same
// cart without any server-side order state.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Highrates/vspomni-sub000/internal/logging"
	"github.com/Highrates/vspomni-sub000/internal/pricing"
	"github.com/Highrates/vspomni-sub000/internal/storage"
)

// persistTTL keeps an idle cart recoverable for a month.
const persistTTL = 30 * 24 * time.Hour

var (
	ErrLineNotFound     = errors.New("cart line not found")
	ErrPromoActive      = errors.New("a promo code is already applied")
	ErrInvalidLine      = errors.New("invalid cart line")
	ErrPromoNotFound    = errors.New("no promo code applied")
	ErrInvalidPromoCode = errors.New("invalid promo code")
)

// Line is a single cart position, unique by LineID (product + size).
// VariantID is resolved lazily at checkout time and cached back here.
type Line struct {
	LineID    string `json:"line_id"`
	ProductID string `json:"product_id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	OldPrice  int64  `json:"old_price,omitempty"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
	VariantID string `json:"variant_id,omitempty"`
}

// Promo is the normalized discount descriptor for the applied code.
// At most one promo is active per cart.
type Promo struct {
	Code    string               `json:"code"`
	Type    pricing.DiscountType `json:"discount_type"`
	Percent int64                `json:"discount_percent,omitempty"`
	Amount  int64                `json:"discount_amount,omitempty"`
}

// LineIDFor derives the stable line identifier from product and size.
func LineIDFor(productID, size string) string {
	return productID + "|" + size
}

// Store is the handle to one client's cart. It is the single source of truth
// for the totals shown to the user and later sent to checkout.
type Store struct {
	clientID string
	provider storage.Provider
	engine   *pricing.Engine
	logger   *slog.Logger

	mu         sync.Mutex
	lines      []Line
	promo      *Promo
	totalItems int
	totalPrice int64
}

// Load reconstructs the client's cart from persisted storage. A missing
// snapshot yields an empty cart, never an error.
func Load(ctx context.Context, clientID string, provider storage.Provider, engine *pricing.Engine, logger *slog.Logger) (*Store, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("storage provider is required")
	}
	if engine == nil {
		engine = pricing.NewEngine()
	}

	s := &Store{
		clientID: clientID,
		provider: provider,
		engine:   engine,
		logger:   logger,
	}

	raw, err := provider.Get(ctx, storage.CartLinesKey(clientID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load cart lines: %w", err)
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.lines); err != nil {
			logging.FromContext(ctx, logger).Warn("discarding unreadable cart snapshot", "client_id", clientID, "error", err)
			s.lines = nil
		}
	}

	rawPromo, err := provider.Get(ctx, storage.CartPromoKey(clientID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load cart promo: %w", err)
	}
	if rawPromo != "" {
		var promo Promo
		if err := json.Unmarshal([]byte(rawPromo), &promo); err != nil {
			logging.FromContext(ctx, logger).Warn("discarding unreadable promo snapshot", "client_id", clientID, "error", err)
		} else if promo.Code != "" {
			s.promo = &promo
		}
	}

	s.recomputeLocked()
	return s, nil
}

func (s *Store) ClientID() string {
	return s.clientID
}

// AddLine adds a product/size position or bumps its quantity when the same
// line already exists.
func (s *Store) AddLine(ctx context.Context, line Line) error {
	if line.ProductID == "" || line.Size == "" {
		return ErrInvalidLine
	}
	if line.Quantity < 1 {
		line.Quantity = 1
	}
	line.LineID = LineIDFor(line.ProductID, line.Size)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].LineID == line.LineID {
			s.lines[i].Quantity += line.Quantity
			if line.VariantID != "" {
				s.lines[i].VariantID = line.VariantID
			}
			return s.commitLocked(ctx)
		}
	}

	s.lines = append(s.lines, line)
	return s.commitLocked(ctx)
}

func (s *Store) Increment(ctx context.Context, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].LineID == lineID {
			s.lines[i].Quantity++
			return s.commitLocked(ctx)
		}
	}
	return ErrLineNotFound
}

// Decrement lowers the quantity by one and removes the line entirely when it
// would drop to zero; a quantity of zero is never persisted.
func (s *Store) Decrement(ctx context.Context, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].LineID == lineID {
			s.lines[i].Quantity--
			if s.lines[i].Quantity < 1 {
				s.lines = append(s.lines[:i], s.lines[i+1:]...)
			}
			return s.commitLocked(ctx)
		}
	}
	return ErrLineNotFound
}

func (s *Store) RemoveLine(ctx context.Context, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].LineID == lineID {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return s.commitLocked(ctx)
		}
	}
	return ErrLineNotFound
}

// SetLineVariant caches the resolved backend variant identifier onto a line
// so later checkouts skip the lookup.
func (s *Store) SetLineVariant(ctx context.Context, lineID, variantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].LineID == lineID {
			s.lines[i].VariantID = variantID
			return s.commitLocked(ctx)
		}
	}
	return ErrLineNotFound
}

// ApplyPromo stores the validated promo descriptor. A second code while one
// is active is rejected without mutating state.
func (s *Store) ApplyPromo(ctx context.Context, promo Promo) error {
	if strings.TrimSpace(promo.Code) == "" {
		return ErrInvalidPromoCode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.promo != nil {
		return ErrPromoActive
	}

	s.promo = &promo
	return s.commitLocked(ctx)
}

func (s *Store) RemovePromo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.promo == nil {
		return ErrPromoNotFound
	}
	s.promo = nil
	return s.commitLocked(ctx)
}

// Clear empties the cart and its promo. Clearing an already-empty cart is a
// no-op so a repeated checkout completion is not destructive.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.lines) == 0 && s.promo == nil {
		return nil
	}
	s.lines = nil
	s.promo = nil
	return s.commitLocked(ctx)
}

func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *Store) Promo() *Promo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.promo == nil {
		return nil
	}
	promo := *s.promo
	return &promo
}

func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalItems
}

func (s *Store) TotalPrice() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalPrice
}

func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines) == 0
}

// commitLocked recomputes totals and persists the snapshot. Callers hold the
// mutex so no partial totals are ever observed.
func (s *Store) commitLocked(ctx context.Context) error {
	s.recomputeLocked()
	return s.persistLocked(ctx)
}

func (s *Store) recomputeLocked() {
	pricingLines := make([]pricing.Line, 0, len(s.lines))
	for _, line := range s.lines {
		pricingLines = append(pricingLines, pricing.Line{
			Price:    line.Price,
			OldPrice: line.OldPrice,
			Quantity: line.Quantity,
		})
	}

	s.totalItems = s.engine.TotalItems(pricingLines)
	s.totalPrice = s.engine.OrderTotal(pricingLines, s.pricingPromoLocked())
}

func (s *Store) pricingPromoLocked() *pricing.Promo {
	if s.promo == nil {
		return nil
	}
	return &pricing.Promo{
		Code:    s.promo.Code,
		Type:    s.promo.Type,
		Percent: s.promo.Percent,
		Amount:  s.promo.Amount,
	}
}

func (s *Store) persistLocked(ctx context.Context) error {
	if len(s.lines) == 0 {
		if err := s.provider.Delete(ctx, storage.CartLinesKey(s.clientID)); err != nil {
			return fmt.Errorf("failed to clear cart lines: %w", err)
		}
	} else {
		raw, err := json.Marshal(s.lines)
		if err != nil {
			return fmt.Errorf("failed to encode cart lines: %w", err)
		}
		if err := s.provider.Set(ctx, storage.CartLinesKey(s.clientID), string(raw), persistTTL); err != nil {
			return fmt.Errorf("failed to persist cart lines: %w", err)
		}
	}

	if s.promo == nil {
		if err := s.provider.Delete(ctx, storage.CartPromoKey(s.clientID)); err != nil {
			return fmt.Errorf("failed to clear cart promo: %w", err)
		}
		return nil
	}

	raw, err := json.Marshal(s.promo)
	if err != nil {
		return fmt.Errorf("failed to encode cart promo: %w", err)
	}
	if err := s.provider.Set(ctx, storage.CartPromoKey(s.clientID), string(raw), persistTTL); err != nil {
		return fmt.Errorf("failed to persist cart promo: %w", err)
	}
	return nil
}
