/**
 * @description
 * This file provides an in-memory implementation of the `Repository` interface.
 * It mirrors the PostgreSQL implementation's precondition ordering and merge
 * semantics exactly, and is used by unit tests and local development runs where
 * a database is not available.
 *
 * A single mutex serializes all operations, which matches the per-distribution
 * serialization guarantee of the SQL implementation (coarser, but observably
 * equivalent for callers).
 */

package store

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/giftvault/distribution-service/internal/domain"
	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used by tests and local runs.
type MemoryRepository struct {
	mu sync.Mutex

	accounts      map[uuid.UUID]*domain.Account
	walletsByUser map[uuid.UUID]uuid.UUID
	distributions map[uuid.UUID]*domain.Distribution          // keyed by owner id
	gifts         map[uuid.UUID]map[uuid.UUID]*domain.Gift    // distribution id -> recipient id -> gift
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:      make(map[uuid.UUID]*domain.Account),
		walletsByUser: make(map[uuid.UUID]uuid.UUID),
		distributions: make(map[uuid.UUID]*domain.Distribution),
		gifts:         make(map[uuid.UUID]map[uuid.UUID]*domain.Gift),
	}
}

// CreateAccount inserts a new ledger account.
func (r *MemoryRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *account
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.accounts[stored.ID] = &stored
	if stored.Kind == domain.AccountKindWallet && stored.OwnerUserID != nil {
		r.walletsByUser[*stored.OwnerUserID] = stored.ID
	}
	out := stored
	return &out, nil
}

// FindAccountByID retrieves a ledger account by its ID.
func (r *MemoryRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := *account
	return &out, nil
}

// FindWalletByUserID retrieves a user's wallet account.
func (r *MemoryRepository) FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, err := r.walletLocked(userID)
	if err != nil {
		return nil, err
	}
	out := *account
	return &out, nil
}

// FindDistributionByOwner retrieves the distribution belonging to an owner.
func (r *MemoryRepository) FindDistributionByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Distribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dist, ok := r.distributions[ownerID]
	if !ok {
		return nil, ErrNotInitialized
	}
	out := *dist
	return &out, nil
}

// ListGiftsByDistribution returns all pending gifts in a distribution's table.
func (r *MemoryRepository) ListGiftsByDistribution(ctx context.Context, distributionID uuid.UUID) ([]domain.Gift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var gifts []domain.Gift
	for _, g := range r.gifts[distributionID] {
		gifts = append(gifts, *g)
	}
	return gifts, nil
}

// FindGift retrieves one recipient's pending gift in an owner's distribution.
func (r *MemoryRepository) FindGift(ctx context.Context, ownerID uuid.UUID, recipientID uuid.UUID) (*domain.Gift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dist, ok := r.distributions[ownerID]
	if !ok {
		return nil, ErrNotInitialized
	}
	g, ok := r.gifts[dist.ID][recipientID]
	if !ok {
		return nil, ErrGiftNotFound
	}
	out := *g
	return &out, nil
}

// CreateDistributionAtomic creates the distribution, escrow account, and gift
// table, and funds the escrow from the owner's wallet, all or nothing.
func (r *MemoryRepository) CreateDistributionAtomic(ctx context.Context, ownerID uuid.UUID, gifts []domain.Gift, total int64) (*domain.Distribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.distributions[ownerID]; ok {
		return nil, ErrAlreadyInitialized
	}
	wallet, err := r.walletLocked(ownerID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance < total {
		return nil, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	wallet.Balance -= total
	wallet.UpdatedAt = now

	escrow := &domain.Account{
		ID:        uuid.New(),
		Kind:      domain.AccountKindEscrow,
		Balance:   total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.accounts[escrow.ID] = escrow

	dist := &domain.Distribution{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		EscrowAccountID: escrow.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.distributions[ownerID] = dist

	table := make(map[uuid.UUID]*domain.Gift, len(gifts))
	for i := range gifts {
		g := gifts[i]
		g.DistributionID = dist.ID
		g.CreatedAt = now
		g.UpdatedAt = now
		table[g.RecipientID] = &g
	}
	r.gifts[dist.ID] = table

	out := *dist
	return &out, nil
}

// AddGiftAtomic merges a gift into the owner's table and moves the amount from
// the owner's wallet into escrow.
func (r *MemoryRepository) AddGiftAtomic(ctx context.Context, ownerID uuid.UUID, recipientID uuid.UUID, amount int64, maturesAt time.Time) (*domain.Gift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dist, ok := r.distributions[ownerID]
	if !ok {
		return nil, ErrNotInitialized
	}
	table := r.gifts[dist.ID]
	existing, exists := table[recipientID]
	if exists && existing.Amount > math.MaxInt64-amount {
		// The merged amount would wrap negative and corrupt the ledger.
		return nil, ErrAmountOverflow
	}
	wallet, err := r.walletLocked(ownerID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	wallet.Balance -= amount
	wallet.UpdatedAt = now
	escrow := r.accounts[dist.EscrowAccountID]
	escrow.Balance += amount
	escrow.UpdatedAt = now

	if exists {
		// Merge-on-insert: amount sums, maturity replaces.
		existing.Amount += amount
		existing.MaturesAt = maturesAt
		existing.UpdatedAt = now
		out := *existing
		return &out, nil
	}

	g := &domain.Gift{
		DistributionID: dist.ID,
		RecipientID:    recipientID,
		Amount:         amount,
		MaturesAt:      maturesAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	table[recipientID] = g
	out := *g
	return &out, nil
}

// RemoveGiftAtomic deletes the recipient's gift and refunds the amount from
// escrow back to the owner's wallet.
func (r *MemoryRepository) RemoveGiftAtomic(ctx context.Context, ownerID uuid.UUID, recipientID uuid.UUID) (*domain.Gift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dist, ok := r.distributions[ownerID]
	if !ok {
		return nil, ErrNotInitialized
	}
	g, ok := r.gifts[dist.ID][recipientID]
	if !ok {
		return nil, ErrGiftNotFound
	}
	wallet, err := r.walletLocked(ownerID)
	if err != nil {
		return nil, err
	}
	escrow := r.accounts[dist.EscrowAccountID]
	if escrow.Balance < g.Amount {
		return nil, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	delete(r.gifts[dist.ID], recipientID)
	escrow.Balance -= g.Amount
	escrow.UpdatedAt = now
	wallet.Balance += g.Amount
	wallet.UpdatedAt = now

	out := *g
	return &out, nil
}

// ClaimGiftAtomic deletes the claimant's gift and pays the amount from escrow
// to the claimant's wallet. Preconditions are checked in order: distribution
// exists, gift exists, gift is mature (strictly past maturity).
func (r *MemoryRepository) ClaimGiftAtomic(ctx context.Context, ownerID uuid.UUID, claimantID uuid.UUID, now time.Time) (*domain.Gift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dist, ok := r.distributions[ownerID]
	if !ok {
		return nil, ErrNotInitialized
	}
	g, ok := r.gifts[dist.ID][claimantID]
	if !ok {
		return nil, ErrGiftNotFound
	}
	if !now.After(g.MaturesAt) {
		return nil, ErrGiftNotMature
	}
	wallet, err := r.walletLocked(claimantID)
	if err != nil {
		return nil, err
	}
	escrow := r.accounts[dist.EscrowAccountID]
	if escrow.Balance < g.Amount {
		return nil, ErrInsufficientFunds
	}

	ts := time.Now().UTC()
	delete(r.gifts[dist.ID], claimantID)
	escrow.Balance -= g.Amount
	escrow.UpdatedAt = ts
	wallet.Balance += g.Amount
	wallet.UpdatedAt = ts

	out := *g
	return &out, nil
}

func (r *MemoryRepository) walletLocked(userID uuid.UUID) (*domain.Account, error) {
	accountID, ok := r.walletsByUser[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	account, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

var _ Repository = (*MemoryRepository)(nil)
