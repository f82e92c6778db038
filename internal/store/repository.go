/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the distribution-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * The four mutating operations are atomic: the gift-table change and the matching
 * fund movement commit together or not at all, and operations against one owner's
 * distribution serialize on that distribution's row.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/giftvault/distribution-service/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAlreadyInitialized = errors.New("distribution already initialized for owner")
	ErrNotInitialized     = errors.New("distribution not initialized for owner")
	ErrGiftNotFound       = errors.New("gift not found")
	ErrGiftNotMature      = errors.New("gift is not yet mature")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAmountOverflow     = errors.New("amount exceeds ledger capacity")
)

// Repository defines the set of methods for interacting with the ledger state.
type Repository interface {
	// Account methods. Wallet provisioning belongs to the surrounding platform;
	// the distribution-service only ever creates escrow accounts itself, inside
	// CreateDistributionAtomic.
	CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error)

	// Read methods
	FindDistributionByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Distribution, error)
	ListGiftsByDistribution(ctx context.Context, distributionID uuid.UUID) ([]domain.Gift, error)
	FindGift(ctx context.Context, ownerID uuid.UUID, recipientID uuid.UUID) (*domain.Gift, error)

	// CreateDistributionAtomic creates the distribution row, its dedicated escrow
	// account, and the initial gift table, and moves the collapsed total from the
	// owner's wallet into escrow. Fails with ErrAlreadyInitialized if the owner
	// already has a distribution, ErrAccountNotFound if the owner has no wallet,
	// and ErrInsufficientFunds if the wallet cannot cover the total. The gifts
	// slice must already contain at most one entry per recipient.
	CreateDistributionAtomic(ctx context.Context, ownerID uuid.UUID, gifts []domain.Gift, total int64) (*domain.Distribution, error)

	// AddGiftAtomic merges a gift into the owner's table (amount sums, maturity
	// replaces; a missing entry is inserted) and moves `amount` from the owner's
	// wallet into escrow. Fails with ErrNotInitialized when the owner has no
	// distribution and ErrInsufficientFunds when the wallet cannot fund it.
	AddGiftAtomic(ctx context.Context, ownerID uuid.UUID, recipientID uuid.UUID, amount int64, maturesAt time.Time) (*domain.Gift, error)

	// RemoveGiftAtomic deletes the recipient's gift and refunds its amount from
	// escrow back to the owner's wallet. Fails with ErrNotInitialized when the
	// owner has no distribution and ErrGiftNotFound when the recipient has no
	// entry; the caller decides whether the latter is an error.
	RemoveGiftAtomic(ctx context.Context, ownerID uuid.UUID, recipientID uuid.UUID) (*domain.Gift, error)

	// ClaimGiftAtomic deletes the claimant's gift and pays its amount from escrow
	// to the claimant's wallet. Preconditions are checked in order against the
	// caller-supplied clock reading: ErrNotInitialized, ErrGiftNotFound, then
	// ErrGiftNotMature unless now is strictly after the gift's maturity.
	ClaimGiftAtomic(ctx context.Context, ownerID uuid.UUID, claimantID uuid.UUID, now time.Time) (*domain.Gift, error)
}

// escrowAuthority is the capability to move funds out of a distribution's
// pooled account. Values are only ever constructed inside this package, by the
// mutation that locked the distribution row, and only consumed by the
// transfer-out paths of RemoveGiftAtomic and ClaimGiftAtomic. No external code
// can obtain one, so nothing outside the store can drain an escrow account.
type escrowAuthority struct {
	escrowAccountID uuid.UUID
}
