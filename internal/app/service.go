/**
 * @description
 * This file contains the core business logic for the distribution-service. The
 * `Service` struct orchestrates the four escrow ledger operations — initialize,
 * add, remove, claim — coordinating between the repository and the message
 * broker while enforcing every precondition before any state changes.
 *
 * Key features:
 * - Initialize collapses duplicate recipients last-wins (table upsert semantics)
 *   before funding, so the escrow is funded with exactly the collapsed sum.
 * - AddGift merges on insert: amounts sum, the maturity is replaced.
 * - RemoveGift is an idempotent cancel: a missing recipient is a silent no-op.
 * - ClaimGift is gated on a strict `now > maturity` check against an injected
 *   clock, which makes eligibility deterministic under test.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/events: For publishing lifecycle events to RabbitMQ.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/giftvault/distribution-service/internal/domain"
	"github.com/giftvault/distribution-service/internal/store"
	"github.com/giftvault/distribution-service/pkg/events"
)

var (
	// ErrLengthMismatch is returned when initialize receives parallel arrays of
	// unequal length. Nothing is created and no funds move.
	ErrLengthMismatch = errors.New("recipients, amounts and maturities must have equal length")

	// ErrInvalidAmount is returned for negative amounts. Zero amounts are
	// accepted; the ledger deliberately permits zero-value entries.
	ErrInvalidAmount = errors.New("amount must not be negative")
)

// RateLimitedError is returned when a claimant has exceeded the claim attempt
// budget for the current window.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("claim rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

// ClaimRateLimiter counts claim attempts per subject within a fixed window.
type ClaimRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for gift distributions.
type Service struct {
	repo          store.Repository
	eventProducer events.Publisher
	now           func() time.Time

	claimLimiter            ClaimRateLimiter
	claimRateLimitPerMinute int
}

// NewService creates a new distribution service instance.
func NewService(repo store.Repository, producer events.Publisher) *Service {
	return &Service{
		repo:          repo,
		eventProducer: producer,
		now:           time.Now,
	}
}

// SetClock overrides the wall clock used for maturity checks. Tests use this
// to make claim eligibility deterministic.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetClaimRateLimiter installs a distributed rate limiter for claim attempts.
func (s *Service) SetClaimRateLimiter(limiter ClaimRateLimiter) {
	s.claimLimiter = limiter
}

// ConfigureClaimRateLimit sets the per-claimant claim attempt budget per minute.
// A non-positive limit disables rate limiting.
func (s *Service) ConfigureClaimRateLimit(perMinute int) {
	s.claimRateLimitPerMinute = perMinute
}

// InitializeDistribution creates and funds a new distribution for the owner.
func (s *Service) InitializeDistribution(ctx context.Context, ownerID uuid.UUID, req domain.InitializeDistributionRequest) (*domain.InitializeDistributionResponse, error) {
	if len(req.RecipientIDs) != len(req.Amounts) || len(req.RecipientIDs) != len(req.MaturesAt) {
		return nil, ErrLengthMismatch
	}
	for _, amount := range req.Amounts {
		if amount < 0 {
			return nil, ErrInvalidAmount
		}
	}

	gifts, total, err := collapseGiftInputs(req)
	if err != nil {
		return nil, err
	}

	dist, err := s.repo.CreateDistributionAtomic(ctx, ownerID, gifts, total)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=app op=initialize_distribution owner_id=%s gift_count=%d total_funded=%d", ownerID, len(gifts), total)
	s.publishEvent(ctx, "distribution.initialized", domain.DistributionEventPayload{
		DistributionID: dist.ID,
		OwnerID:        ownerID,
		GiftCount:      len(gifts),
		TotalFunded:    total,
		Timestamp:      s.now().UTC(),
	})

	return &domain.InitializeDistributionResponse{
		DistributionID: dist.ID,
		GiftCount:      len(gifts),
		TotalFunded:    total,
		CreatedAt:      dist.CreatedAt,
	}, nil
}

// AddGift adds or tops up one recipient's gift and funds it from the owner's
// wallet. For an existing entry the amounts sum and the maturity is replaced
// by the incoming one, even if the old maturity was later.
func (s *Service) AddGift(ctx context.Context, ownerID uuid.UUID, req domain.AddGiftRequest) (*domain.Gift, error) {
	if req.Amount < 0 {
		return nil, ErrInvalidAmount
	}

	maturesAt := time.Unix(req.MaturesAt, 0).UTC()
	gift, err := s.repo.AddGiftAtomic(ctx, ownerID, req.RecipientID, req.Amount, maturesAt)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=app op=add_gift owner_id=%s recipient_id=%s amount=%d total=%d", ownerID, req.RecipientID, req.Amount, gift.Amount)
	s.publishEvent(ctx, "gift.added", domain.GiftEventPayload{
		OwnerID:     ownerID,
		RecipientID: req.RecipientID,
		Amount:      req.Amount,
		MaturesAt:   gift.MaturesAt,
		Timestamp:   s.now().UTC(),
	})

	return gift, nil
}

// RemoveGift cancels one recipient's gift and refunds its amount to the owner.
// Removing a recipient who has no entry succeeds without changing anything.
func (s *Service) RemoveGift(ctx context.Context, ownerID uuid.UUID, recipientID uuid.UUID) (*domain.RemoveGiftResult, error) {
	gift, err := s.repo.RemoveGiftAtomic(ctx, ownerID, recipientID)
	if err != nil {
		if errors.Is(err, store.ErrGiftNotFound) {
			// Idempotent cancel: absence is success, not an error.
			return &domain.RemoveGiftResult{Removed: false}, nil
		}
		return nil, err
	}

	log.Printf("level=info component=app op=remove_gift owner_id=%s recipient_id=%s refunded=%d", ownerID, recipientID, gift.Amount)
	s.publishEvent(ctx, "gift.removed", domain.GiftEventPayload{
		OwnerID:     ownerID,
		RecipientID: recipientID,
		Amount:      gift.Amount,
		Timestamp:   s.now().UTC(),
	})

	return &domain.RemoveGiftResult{Removed: true, AmountRefunded: gift.Amount}, nil
}

// ClaimGift pays out the claimant's own matured gift from the owner's escrow.
func (s *Service) ClaimGift(ctx context.Context, claimantID uuid.UUID, ownerID uuid.UUID) (*domain.ClaimGiftResponse, error) {
	if s.claimLimiter != nil && s.claimRateLimitPerMinute > 0 {
		count, retryAfter, err := s.claimLimiter.ConsumeRateLimit(ctx, "gift_claim", claimantID.String(), s.claimRateLimitPerMinute, time.Minute)
		if err != nil {
			// The limiter is protective infrastructure; its outage must not
			// block legitimate claims.
			log.Printf("level=warn component=app op=claim_gift msg=\"rate limiter unavailable\" claimant_id=%s err=%v", claimantID, err)
		} else if count > s.claimRateLimitPerMinute {
			return nil, &RateLimitedError{RetryAfterSeconds: retryAfter}
		}
	}

	gift, err := s.repo.ClaimGiftAtomic(ctx, ownerID, claimantID, s.now())
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=app op=claim_gift owner_id=%s claimant_id=%s amount=%d", ownerID, claimantID, gift.Amount)
	s.publishEvent(ctx, "gift.claimed", domain.GiftEventPayload{
		OwnerID:     ownerID,
		RecipientID: claimantID,
		Amount:      gift.Amount,
		MaturesAt:   gift.MaturesAt,
		Timestamp:   s.now().UTC(),
	})

	return &domain.ClaimGiftResponse{
		Message:       "Gift claimed successfully",
		AmountClaimed: gift.Amount,
		OwnerID:       ownerID,
	}, nil
}

// GetDistribution returns the owner's distribution with its gift table and
// escrow balance. Claimability is evaluated lazily against the clock.
func (s *Service) GetDistribution(ctx context.Context, ownerID uuid.UUID) (*domain.DistributionView, error) {
	dist, err := s.repo.FindDistributionByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	gifts, err := s.repo.ListGiftsByDistribution(ctx, dist.ID)
	if err != nil {
		return nil, err
	}
	escrow, err := s.repo.FindAccountByID(ctx, dist.EscrowAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load escrow account: %w", err)
	}

	now := s.now()
	view := &domain.DistributionView{
		DistributionID: dist.ID,
		OwnerID:        dist.OwnerID,
		EscrowBalance:  escrow.Balance,
		Gifts:          make([]domain.GiftView, 0, len(gifts)),
		CreatedAt:      dist.CreatedAt,
	}
	for _, g := range gifts {
		view.TotalPending += g.Amount
		view.Gifts = append(view.Gifts, domain.GiftView{
			RecipientID: g.RecipientID,
			Amount:      g.Amount,
			MaturesAt:   g.MaturesAt,
			Claimable:   now.After(g.MaturesAt),
		})
	}
	return view, nil
}

// GetPendingGift returns the claimant's pending gift in the given owner's
// distribution, with claimability evaluated against the clock.
func (s *Service) GetPendingGift(ctx context.Context, claimantID uuid.UUID, ownerID uuid.UUID) (*domain.GiftView, error) {
	gift, err := s.repo.FindGift(ctx, ownerID, claimantID)
	if err != nil {
		return nil, err
	}
	return &domain.GiftView{
		RecipientID: gift.RecipientID,
		Amount:      gift.Amount,
		MaturesAt:   gift.MaturesAt,
		Claimable:   s.now().After(gift.MaturesAt),
	}, nil
}

// collapseGiftInputs turns the parallel request arrays into a gift list with at
// most one entry per recipient. A recipient appearing more than once keeps only
// the last occurrence (table-upsert semantics, not additive merge), and the
// returned total is the sum over the collapsed list so the escrow is funded
// with exactly what the table owes. A collapsed sum that would not fit in int64
// fails with ErrAmountOverflow: a wrapped negative total would otherwise pass
// the wallet balance check and credit the owner out of nothing.
func collapseGiftInputs(req domain.InitializeDistributionRequest) ([]domain.Gift, int64, error) {
	index := make(map[uuid.UUID]int, len(req.RecipientIDs))
	gifts := make([]domain.Gift, 0, len(req.RecipientIDs))

	for i, recipientID := range req.RecipientIDs {
		entry := domain.Gift{
			RecipientID: recipientID,
			Amount:      req.Amounts[i],
			MaturesAt:   time.Unix(req.MaturesAt[i], 0).UTC(),
		}
		if at, seen := index[recipientID]; seen {
			gifts[at] = entry
			continue
		}
		index[recipientID] = len(gifts)
		gifts = append(gifts, entry)
	}

	var total int64
	for _, g := range gifts {
		if g.Amount > math.MaxInt64-total {
			return nil, 0, store.ErrAmountOverflow
		}
		total += g.Amount
	}
	return gifts, total, nil
}

// publishEvent emits a lifecycle event. Broker trouble is logged, never fatal:
// the ledger mutation has already committed.
func (s *Service) publishEvent(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, routingKey, body); err != nil {
		log.Printf("level=warn component=app msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
