// Purchase HTTP handlers.
//
// This file exposes REST endpoints for purchases:
//   - POST   /purchases        (create, optional Idempotency-Key)
//   - GET    /purchases        (list, insertion order)
//   - GET    /purchases/{id}   (fetch one)
//   - PUT    /purchases/{id}   (partial update, when mutations are enabled)
//   - DELETE /purchases/{id}   (delete, when mutations are enabled)
//
// Handlers are transport-thin: they check the payload shape, call the
// PurchaseService and translate its sentinel errors into status codes.
//
// Idempotency:
// If the client supplies an Idempotency-Key and a previous successful create
// exists for that key with the same body, the stored purchase is returned
// with `Idempotency-Replayed: true`. The same key with a different body is a
// 409.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-purchases-api/internal/domain"
	"github.com/tbourn/go-purchases-api/internal/http/middleware"
	"github.com/tbourn/go-purchases-api/internal/repo"
	"github.com/tbourn/go-purchases-api/internal/services"
)

//
// Service contracts (context-aware)
//

// PurchaseService defines the purchase operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PurchaseService interface {
	Create(ctx context.Context, userID string, items []services.RawItem) (*domain.Purchase, error)
	GetByID(ctx context.Context, id string) (*domain.Purchase, error)
	List(ctx context.Context) ([]domain.Purchase, error)
	Update(ctx context.Context, id string, patch services.PurchasePatch) (*domain.Purchase, error)
	Delete(ctx context.Context, id string) error
}

// IdempotencyService remembers which purchase an Idempotency-Key produced.
type IdempotencyService interface {
	Fingerprint(body []byte) string
	Lookup(ctx context.Context, scope, key, fingerprint string) (*domain.Idempotency, error)
	Remember(ctx context.Context, scope, key, resourceID, fingerprint string, status int) (*domain.Idempotency, error)
}

//
// Handler wiring
//

// Info identifies the running service in /health and / responses.
type Info struct {
	AppName     string
	AppEnv      string
	APIBasePath string
}

// Handlers groups the HTTP endpoints of the service.
type Handlers struct {
	purchases PurchaseService
	idem      IdempotencyService // optional
	info      Info
}

// New constructs a Handlers instance. idem may be nil, in which case
// Idempotency-Key headers are validated upstream but otherwise ignored.
func New(purchases PurchaseService, idem IdempotencyService, info Info) *Handlers {
	return &Handlers{purchases: purchases, idem: idem, info: info}
}

//
// DTOs
//

// CreatePurchaseRequest is the JSON payload for creating a purchase.
//
// Item fields are loosely typed: price and quantity may be numbers or numeric
// strings, product_id may be a string or a number. Missing values default to
// price 0, quantity 1 and product_id "unknown".
type CreatePurchaseRequest struct {
	UserID *string            `json:"user_id" example:"u1"`
	Items  []services.RawItem `json:"items" swaggertype:"array,object"`
}

// UpdatePurchaseRequest is the JSON payload for a partial update. Omitted
// fields keep their stored values.
type UpdatePurchaseRequest struct {
	UserID *string             `json:"user_id,omitempty" example:"u2"`
	Items  *[]services.RawItem `json:"items,omitempty" swaggertype:"array,object"`
}

//
// Helpers
//

var errEmptyBody = errors.New("empty body")

// readJSON reads the whole request body and decodes it into dst with numbers
// kept as json.Number. The raw bytes are returned for fingerprinting.
func readJSON(c *gin.Context, dst any) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return body, errEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return body, err
	}
	return body, nil
}

// failBody maps a readJSON error to a 400.
func failBody(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, errEmptyBody):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "JSON payload required")
	case errors.As(err, &tooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON payload")
	}
}

// failService translates service errors into the error envelope.
func failService(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, ErrCodeValidation, verr.Error())
	case errors.Is(err, services.ErrInvalidItem):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, services.ErrInvalidPurchase):
		fail(c, http.StatusBadRequest, ErrCodeValidation, "user_id must be non-empty and items must be a non-empty list")
	case errors.Is(err, services.ErrPurchaseNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "purchase not found")
	case errors.Is(err, services.ErrNotImplemented):
		fail(c, http.StatusNotImplemented, ErrCodeNotImplemented, "operation not implemented")
	case errors.Is(err, services.ErrIdempotencyConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		internalError(c, err)
	}
}

//
// Handlers
//

// CreatePurchase godoc
// @ID          createPurchase
// @Summary     Create a purchase
// @Description Validates the line items, computes the total and stores a CONFIRMED purchase.
// @Description Supports idempotency via the Idempotency-Key header (same key and body → same result).
// @Tags        Purchases
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreatePurchaseRequest  true  "Purchase payload"
//
// @Success     201  {object}  domain.Purchase         "Created purchase"
// @Success     200  {object}  domain.Purchase         "Replayed purchase"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or validation failure"
// @Failure     409  {object}  handlers.ErrorResponse  "Idempotency key reused with a different body"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /purchases [post]
func (h *Handlers) CreatePurchase(c *gin.Context) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)

	var req CreatePurchaseRequest
	body, err := readJSON(c, &req)
	if err != nil {
		lg.Warn().Err(err).Msg("create purchase: unreadable payload")
		failBody(c, err)
		return
	}
	if req.UserID == nil || strings.TrimSpace(*req.UserID) == "" || len(req.Items) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing required fields: user_id, items (list)")
		return
	}

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	var fingerprint string
	if idemKey != "" && h.idem != nil {
		fingerprint = h.idem.Fingerprint(body)
		rec, err := h.idem.Lookup(ctx, services.ScopePurchases, idemKey, fingerprint)
		switch {
		case errors.Is(err, services.ErrIdempotencyConflict):
			failService(c, err)
			return
		case err != nil:
			internalError(c, err)
			return
		case rec != nil:
			if prev, err := h.purchases.GetByID(ctx, rec.ResourceID); err == nil {
				c.Header(middleware.HeaderIdempotencyReplayed, "true")
				ok(c, http.StatusOK, prev)
				return
			}
			// The remembered purchase is gone; create a fresh one.
		}
	}

	p, err := h.purchases.Create(ctx, *req.UserID, req.Items)
	if err != nil {
		if !errors.Is(err, services.ErrInvalidItem) && !errors.Is(err, services.ErrInvalidPurchase) {
			internalError(c, err)
			return
		}
		lg.Warn().Err(err).Msg("create purchase: rejected")
		failService(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && h.idem != nil {
		if _, err := h.idem.Remember(ctx, services.ScopePurchases, idemKey, p.ID, fingerprint, http.StatusCreated); err != nil {
			ev := lg.Warn().Err(err).Str("purchase_id", p.ID)
			if errors.Is(err, repo.ErrDuplicate) {
				ev.Msg("idempotency key stored concurrently")
			} else {
				ev.Msg("idempotency record not stored")
			}
		}
	}

	lg.Info().Str("purchase_id", p.ID).Str("user_id", p.UserID).Msg("purchase created")
	ok(c, http.StatusCreated, p)
}

// ListPurchases godoc
// @ID          listPurchases
// @Summary     List purchases
// @Description Returns every purchase in creation order.
// @Tags        Purchases
// @Produce     json
//
// @Success     200  {array}   domain.Purchase
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /purchases [get]
func (h *Handlers) ListPurchases(c *gin.Context) {
	items, err := h.purchases.List(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, items)
}

// GetPurchase godoc
// @ID          getPurchase
// @Summary     Get a purchase
// @Tags        Purchases
// @Produce     json
//
// @Param       id   path      string  true  "Purchase ID"  format(uuid)
//
// @Success     200  {object}  domain.Purchase
// @Failure     404  {object}  handlers.ErrorResponse  "Purchase not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /purchases/{id} [get]
func (h *Handlers) GetPurchase(c *gin.Context) {
	p, err := h.purchases.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// UpdatePurchase godoc
// @ID          updatePurchase
// @Summary     Update a purchase
// @Description Partially updates user_id and/or items; the total is recomputed.
// @Description Returns 501 when purchase mutations are disabled.
// @Tags        Purchases
// @Accept      json
// @Produce     json
//
// @Param       id    path  string                          true  "Purchase ID"  format(uuid)
// @Param       body  body  handlers.UpdatePurchaseRequest  true  "Fields to change"
//
// @Success     200  {object}  domain.Purchase
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or validation failure"
// @Failure     404  {object}  handlers.ErrorResponse  "Purchase not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Failure     501  {object}  handlers.ErrorResponse  "Mutations disabled"
// @Router      /purchases/{id} [put]
func (h *Handlers) UpdatePurchase(c *gin.Context) {
	var req UpdatePurchaseRequest
	if _, err := readJSON(c, &req); err != nil {
		failBody(c, err)
		return
	}

	p, err := h.purchases.Update(c.Request.Context(), c.Param("id"), services.PurchasePatch{
		UserID: req.UserID,
		Items:  req.Items,
	})
	if err != nil {
		failService(c, err)
		return
	}
	middleware.LoggerFrom(c).Info().Str("purchase_id", p.ID).Msg("purchase updated")
	ok(c, http.StatusOK, p)
}

// DeletePurchase godoc
// @ID          deletePurchase
// @Summary     Delete a purchase
// @Description Returns 501 when purchase mutations are disabled.
// @Tags        Purchases
// @Produce     json
//
// @Param       id   path      string  true  "Purchase ID"  format(uuid)
//
// @Success     200  {object}  handlers.MessageResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Purchase not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Failure     501  {object}  handlers.ErrorResponse  "Mutations disabled"
// @Router      /purchases/{id} [delete]
func (h *Handlers) DeletePurchase(c *gin.Context) {
	id := c.Param("id")
	if err := h.purchases.Delete(c.Request.Context(), id); err != nil {
		failService(c, err)
		return
	}
	middleware.LoggerFrom(c).Info().Str("purchase_id", id).Msg("purchase deleted")
	ok(c, http.StatusOK, MessageResponse{Message: "purchase deleted"})
}
