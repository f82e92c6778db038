/**
 * @description
 * This file contains the HTTP handlers for the distribution-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For route parameters.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/giftvault/distribution-service/internal/app"
	"github.com/giftvault/distribution-service/internal/domain"
	"github.com/giftvault/distribution-service/internal/store"
)

// DistributionHandlers holds the application service that handlers will use.
type DistributionHandlers struct {
	service *app.Service
}

// NewDistributionHandlers creates a new instance of DistributionHandlers.
func NewDistributionHandlers(service *app.Service) *DistributionHandlers {
	return &DistributionHandlers{service: service}
}

// InitializeDistributionHandler handles requests to create and fund a new
// distribution for the authenticated caller.
func (h *DistributionHandlers) InitializeDistributionHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req domain.InitializeDistributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.service.InitializeDistribution(r.Context(), ownerID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=initialize_distribution outcome=failed owner_id=%s err=%v", ownerID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// GetDistributionHandler returns the caller's own distribution view.
func (h *DistributionHandlers) GetDistributionHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetDistribution(r.Context(), ownerID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=get_distribution outcome=failed owner_id=%s err=%v", ownerID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// AddGiftHandler handles requests to add or top up a gift in the caller's
// distribution.
func (h *DistributionHandlers) AddGiftHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req domain.AddGiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RecipientID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "Recipient is required")
		return
	}
	if req.Amount < 0 {
		h.writeError(w, http.StatusBadRequest, "Amount must not be negative")
		return
	}

	gift, err := h.service.AddGift(r.Context(), ownerID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=add_gift outcome=failed owner_id=%s recipient_id=%s err=%v", ownerID, req.RecipientID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, gift)
}

// RemoveGiftHandler handles requests to cancel a gift in the caller's
// distribution. Cancelling an absent recipient succeeds with removed=false.
func (h *DistributionHandlers) RemoveGiftHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	recipientIDStr := chi.URLParam(r, "recipient_id")
	recipientID, err := uuid.Parse(recipientIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid recipient ID format")
		return
	}

	result, err := h.service.RemoveGift(r.Context(), ownerID, recipientID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=remove_gift outcome=failed owner_id=%s recipient_id=%s err=%v", ownerID, recipientID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ClaimGiftHandler handles requests by the authenticated caller to claim their
// own matured gift from the named owner's distribution.
func (h *DistributionHandlers) ClaimGiftHandler(w http.ResponseWriter, r *http.Request) {
	claimantID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	ownerIDStr := chi.URLParam(r, "owner_id")
	ownerID, err := uuid.Parse(ownerIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid owner ID format")
		return
	}

	resp, err := h.service.ClaimGift(r.Context(), claimantID, ownerID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=claim_gift outcome=failed claimant_id=%s owner_id=%s err=%v", claimantID, ownerID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetPendingGiftHandler returns the caller's pending gift in the named owner's
// distribution, with claimability evaluated at request time.
func (h *DistributionHandlers) GetPendingGiftHandler(w http.ResponseWriter, r *http.Request) {
	claimantID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	ownerIDStr := chi.URLParam(r, "owner_id")
	ownerID, err := uuid.Parse(ownerIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid owner ID format")
		return
	}

	view, err := h.service.GetPendingGift(r.Context(), claimantID, ownerID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=get_pending_gift outcome=failed claimant_id=%s owner_id=%s err=%v", claimantID, ownerID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// callerID extracts the authenticated caller's ledger id from the request
// context. The auth middleware guarantees the value was taken from a verified
// token's `sub` claim.
func (h *DistributionHandlers) callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	callerIDStr, ok := GetCallerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get caller identity from context")
		return uuid.Nil, false
	}
	callerID, err := uuid.Parse(callerIDStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_caller_id caller_id=%s", callerIDStr)
		h.writeError(w, http.StatusBadRequest, "Invalid caller identity format")
		return uuid.Nil, false
	}
	return callerID, true
}

// writeServiceError maps application and store errors to HTTP responses.
func (h *DistributionHandlers) writeServiceError(w http.ResponseWriter, err error) {
	var rateLimited *app.RateLimitedError
	if errors.As(err, &rateLimited) {
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, "Too many claim attempts. Please wait and try again.")
		return
	}

	switch {
	case errors.Is(err, app.ErrLengthMismatch), errors.Is(err, app.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrAlreadyInitialized):
		h.writeError(w, http.StatusConflict, "A distribution already exists for this owner")
	case errors.Is(err, store.ErrNotInitialized):
		h.writeError(w, http.StatusNotFound, "No distribution exists for this owner")
	case errors.Is(err, store.ErrGiftNotFound):
		h.writeError(w, http.StatusNotFound, "No pending gift for this recipient")
	case errors.Is(err, store.ErrGiftNotMature):
		h.writeError(w, http.StatusConflict, "Gift is not yet mature")
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusBadRequest, "Insufficient funds")
	case errors.Is(err, store.ErrAmountOverflow):
		h.writeError(w, http.StatusBadRequest, "Amount exceeds ledger capacity")
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusBadRequest, "No wallet account for this user")
	default:
		h.writeError(w, http.StatusInternalServerError, "Operation failed")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *DistributionHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *DistributionHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
