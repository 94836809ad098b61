// Package services – PurchaseService
//
// This file implements PurchaseService, the component that owns the purchase
// lifecycle. It coerces loosely typed line items, enforces the pricing rules,
// computes totals, assigns identity and timestamps, and hands finished
// records to the configured PurchaseStore.
//
// Update and Delete are gated by AllowMutations; when disabled they return
// ErrNotImplemented so the HTTP layer can answer 501 uniformly.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-purchases-api/internal/clock"
	"github.com/tbourn/go-purchases-api/internal/domain"
	"github.com/tbourn/go-purchases-api/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RawItem is a loosely typed line item as decoded from JSON. Recognized keys
// are product_id, price and quantity; anything else is ignored.
type RawItem map[string]any

// PurchasePatch lists the mutable fields of a purchase. Nil means "leave as is".
type PurchasePatch struct {
	UserID *string
	Items  *[]RawItem
}

// PurchaseStore defines the storage contract required by PurchaseService.
// Missing records must be reported with repo.ErrNotFound.
type PurchaseStore interface {
	// Create appends a new purchase.
	Create(ctx context.Context, p *domain.Purchase) error

	// GetByID returns the purchase with the given id.
	GetByID(ctx context.Context, id string) (*domain.Purchase, error)

	// ListAll returns every purchase in insertion order.
	ListAll(ctx context.Context) ([]domain.Purchase, error)

	// Update overwrites an existing purchase.
	Update(ctx context.Context, p *domain.Purchase) error

	// Delete removes a purchase by id.
	Delete(ctx context.Context, id string) error
}

// PurchaseService coordinates validation, pricing and storage of purchases.
type PurchaseService struct {
	Store PurchaseStore
	Clock clock.Clock

	// NewID generates purchase ids. Defaults to random UUIDv4 strings.
	NewID func() string

	// AllowMutations enables Update and Delete.
	AllowMutations bool
}

// NewPurchaseService constructs a PurchaseService with a UTC system clock
// and UUIDv4 ids.
func NewPurchaseService(store PurchaseStore, allowMutations bool) *PurchaseService {
	return &PurchaseService{
		Store:          store,
		Clock:          clock.NewSystem(),
		NewID:          func() string { return uuid.NewString() },
		AllowMutations: allowMutations,
	}
}

func (s *PurchaseService) tracer() trace.Tracer { return otel.Tracer("services/PurchaseService") }

// Create validates userID and rawItems, prices the order and stores it.
//
// Items are processed in order; the first item that cannot be coerced or that
// has a negative price or non-positive quantity aborts the call with a
// *ValidationError and nothing is stored.
func (s *PurchaseService) Create(ctx context.Context, userID string, rawItems []RawItem) (*domain.Purchase, error) {
	ctx, span := s.tracer().Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("items.count", len(rawItems)),
		),
	)
	defer span.End()

	userID = normalizeID(userID)
	if userID == "" || len(rawItems) == 0 {
		observeRejection(ErrInvalidPurchase)
		return nil, ErrInvalidPurchase
	}

	items, err := coerceItems(rawItems)
	if err != nil {
		observeRejection(err)
		span.RecordError(err)
		return nil, err
	}

	p := domain.NewPurchase(s.nextID(), userID, items, s.now())
	if err := s.Store.Create(ctx, p); err != nil {
		span.RecordError(err)
		return nil, err
	}

	purchasesCreated.Inc()
	purchaseAmount.Observe(p.Total)
	span.SetAttributes(attribute.String("purchase.id", p.ID))
	return p, nil
}

// GetByID returns the purchase with the given id or ErrPurchaseNotFound.
func (s *PurchaseService) GetByID(ctx context.Context, id string) (*domain.Purchase, error) {
	ctx, span := s.tracer().Start(ctx, "GetByID",
		trace.WithAttributes(attribute.String("purchase.id", id)),
	)
	defer span.End()

	p, err := s.Store.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPurchaseNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return p, nil
}

// List returns all purchases in insertion order.
func (s *PurchaseService) List(ctx context.Context) ([]domain.Purchase, error) {
	ctx, span := s.tracer().Start(ctx, "List")
	defer span.End()

	out, err := s.Store.ListAll(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if out == nil {
		out = []domain.Purchase{}
	}
	span.SetAttributes(attribute.Int("purchases.count", len(out)))
	return out, nil
}

// Update applies patch to the purchase with the given id.
//
// UserID, when present, must be non-blank. Items, when present, must be
// non-empty and are coerced and validated exactly like Create; the total is
// recomputed. ID, CreatedAt and Status never change.
func (s *PurchaseService) Update(ctx context.Context, id string, patch PurchasePatch) (*domain.Purchase, error) {
	if !s.AllowMutations {
		return nil, ErrNotImplemented
	}
	ctx, span := s.tracer().Start(ctx, "Update",
		trace.WithAttributes(attribute.String("purchase.id", id)),
	)
	defer span.End()

	if patch.UserID == nil && patch.Items == nil {
		observeRejection(ErrInvalidPurchase)
		return nil, ErrInvalidPurchase
	}

	var (
		userID string
		items  []domain.PurchaseItem
	)
	if patch.UserID != nil {
		userID = normalizeID(*patch.UserID)
		if userID == "" {
			observeRejection(ErrInvalidPurchase)
			return nil, ErrInvalidPurchase
		}
	}
	if patch.Items != nil {
		if len(*patch.Items) == 0 {
			observeRejection(ErrInvalidPurchase)
			return nil, ErrInvalidPurchase
		}
		var err error
		if items, err = coerceItems(*patch.Items); err != nil {
			observeRejection(err)
			return nil, err
		}
	}

	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = cur.UserID
	}
	if items == nil {
		items = cur.Items
	}

	next := domain.NewPurchase(cur.ID, userID, items, cur.CreatedAt)
	next.Status = cur.Status
	if err := s.Store.Update(ctx, next); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPurchaseNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return next, nil
}

// Delete removes the purchase with the given id.
func (s *PurchaseService) Delete(ctx context.Context, id string) error {
	if !s.AllowMutations {
		return ErrNotImplemented
	}
	ctx, span := s.tracer().Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("purchase.id", id)),
	)
	defer span.End()

	if err := s.Store.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPurchaseNotFound
		}
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *PurchaseService) nextID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *PurchaseService) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return clock.NewSystem().Now()
}

// --- item coercion ---

// coerceItems converts raw items into validated domain items, stopping at the
// first failure. The running total must stay representable as a float64, the
// type every amount is stored and serialized as.
func coerceItems(raw []RawItem) ([]domain.PurchaseItem, error) {
	out := make([]domain.PurchaseItem, 0, len(raw))
	sum := decimal.Zero
	for _, r := range raw {
		it, line, err := coerceItem(r)
		if err != nil {
			return nil, err
		}
		sum = sum.Add(line)
		if !fitsFloat(sum) {
			return nil, &ValidationError{ProductID: it.ProductID, Reason: "purchase total out of range"}
		}
		out = append(out, it)
	}
	return out, nil
}

// coerceItem returns the validated item and its line amount (price*quantity).
func coerceItem(r RawItem) (domain.PurchaseItem, decimal.Decimal, error) {
	pid, ok := coerceProductID(r["product_id"])
	if !ok {
		return domain.PurchaseItem{}, decimal.Zero, &ValidationError{ProductID: domain.UnknownProductID, Reason: "product_id must be a string"}
	}
	price, ok := coercePrice(r["price"])
	if !ok {
		return domain.PurchaseItem{}, decimal.Zero, &ValidationError{ProductID: pid, Reason: "price must be a number"}
	}
	qty, ok := coerceQuantity(r["quantity"])
	if !ok {
		return domain.PurchaseItem{}, decimal.Zero, &ValidationError{ProductID: pid, Reason: "quantity must be an integer"}
	}
	if price.IsNegative() || qty <= 0 {
		return domain.PurchaseItem{}, decimal.Zero, &ValidationError{ProductID: pid}
	}
	if !fitsFloat(price) {
		return domain.PurchaseItem{}, decimal.Zero, &ValidationError{ProductID: pid, Reason: "price out of range"}
	}
	line := price.Mul(decimal.NewFromInt(int64(qty)))
	if !fitsFloat(line) {
		return domain.PurchaseItem{}, decimal.Zero, &ValidationError{ProductID: pid, Reason: "line total out of range"}
	}
	return domain.PurchaseItem{
		ProductID: pid,
		Price:     price.InexactFloat64(),
		Quantity:  qty,
	}, line, nil
}

// maxAmountDigits is the decimal magnitude of float64's range (about 1.8e308).
const maxAmountDigits = 309

// fitsFloat reports whether d, rounded to cents, is a finite float64.
// Exponents outside float64 range fail before any rescaling happens.
func fitsFloat(d decimal.Decimal) bool {
	exp := int(d.Exponent())
	if exp < -maxAmountDigits || exp+d.NumDigits() > maxAmountDigits {
		return false
	}
	return !math.IsInf(d.Round(2).InexactFloat64(), 0)
}

// coerceProductID accepts strings and numbers. Absent, null or blank values
// become domain.UnknownProductID.
func coerceProductID(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return domain.UnknownProductID, true
	case string:
		s = normalizeID(t)
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	default:
		return "", false
	}
	if s == "" {
		return domain.UnknownProductID, true
	}
	return s, true
}

// coercePrice accepts numbers and numeric strings; absent or null is zero.
func coercePrice(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

// maxQuantity caps a line item's quantity at a 32-bit count.
const maxQuantity = math.MaxInt32

// coerceQuantity accepts integers, fractional numbers (truncated toward zero)
// and integer strings; absent or null is one.
func coerceQuantity(v any) (int, bool) {
	var d decimal.Decimal
	switch t := v.(type) {
	case nil:
		return 1, true
	case json.Number:
		var err error
		if d, err = decimal.NewFromString(t.String()); err != nil {
			return 0, false
		}
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		d = decimal.NewFromFloat(t)
	case int:
		d = decimal.NewFromInt(int64(t))
	case int64:
		d = decimal.NewFromInt(t)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		d = decimal.NewFromInt(n)
	default:
		return 0, false
	}
	if exp := d.Exponent(); exp > 10 || exp < -maxAmountDigits {
		return 0, false
	}
	d = d.Truncate(0)
	if d.Abs().GreaterThan(decimal.NewFromInt(maxQuantity)) {
		return 0, false
	}
	return int(d.IntPart()), true
}

// normalizeID trims surrounding space and applies Unicode NFC so visually
// identical identifiers compare equal.
func normalizeID(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
