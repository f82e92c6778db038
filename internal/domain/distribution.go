/**
 * @description
 * This file defines the core domain models for the distribution-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit, which avoids floating-point inaccuracies with financial data.
 * - Maturity times travel over the wire as unix seconds and are held internally
 *   as `time.Time` values in UTC.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account kinds. A wallet belongs to a user; an escrow account belongs to a
// distribution and is never directly operable by any user.
const (
	AccountKindWallet = "wallet"
	AccountKindEscrow = "escrow"
)

// Account represents a fund-holding account in the ledger. Both user wallets
// and distribution escrow accounts are rows of this shape.
type Account struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	OwnerUserID *uuid.UUID `json:"owner_user_id,omitempty" db:"owner_user_id"`
	Kind        string     `json:"kind" db:"kind"`
	Balance     int64      `json:"balance" db:"balance"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Distribution is the aggregate root for one owner's scheduled gifts: the
// owner identity, the gift table, and the escrow account that pools the funds.
// There is at most one distribution per owner.
type Distribution struct {
	ID              uuid.UUID `json:"id" db:"id"`
	OwnerID         uuid.UUID `json:"owner_id" db:"owner_id"`
	EscrowAccountID uuid.UUID `json:"escrow_account_id" db:"escrow_account_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Gift is a single pending entry in a distribution's gift table: an amount
// earmarked for one recipient, claimable only after MaturesAt has passed.
type Gift struct {
	DistributionID uuid.UUID `json:"distribution_id" db:"distribution_id"`
	RecipientID    uuid.UUID `json:"recipient_id" db:"recipient_id"`
	Amount         int64     `json:"amount" db:"amount"`
	MaturesAt      time.Time `json:"matures_at" db:"matures_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// InitializeDistributionRequest is the DTO for creating a distribution. The
// three arrays are parallel: index i describes one gift. Maturity values are
// unix seconds.
type InitializeDistributionRequest struct {
	RecipientIDs []uuid.UUID `json:"recipient_ids"`
	Amounts      []int64     `json:"amounts"`
	MaturesAt    []int64     `json:"matures_at"`
}

// InitializeDistributionResponse is the successful response after a
// distribution has been created and funded.
type InitializeDistributionResponse struct {
	DistributionID uuid.UUID `json:"distribution_id"`
	GiftCount      int       `json:"gift_count"`
	TotalFunded    int64     `json:"total_funded"`
	CreatedAt      time.Time `json:"created_at"`
}

// AddGiftRequest is the DTO for adding or topping up a single gift.
type AddGiftRequest struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Amount      int64     `json:"amount"`
	MaturesAt   int64     `json:"matures_at"` // unix seconds
}

// RemoveGiftResult reports the outcome of a cancel. Removing an absent
// recipient is not an error; Removed is false and nothing moved.
type RemoveGiftResult struct {
	Removed        bool  `json:"removed"`
	AmountRefunded int64 `json:"amount_refunded"`
}

// ClaimGiftResponse is the successful response after a recipient has claimed
// their matured gift.
type ClaimGiftResponse struct {
	Message       string    `json:"message"`
	AmountClaimed int64     `json:"amount_claimed"`
	OwnerID       uuid.UUID `json:"owner_id"`
}

// GiftView is a read model for one pending gift, with claimability evaluated
// lazily against the clock at request time.
type GiftView struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Amount      int64     `json:"amount"`
	MaturesAt   time.Time `json:"matures_at"`
	Claimable   bool      `json:"claimable"`
}

// DistributionView is a read model for an owner's whole distribution.
type DistributionView struct {
	DistributionID uuid.UUID  `json:"distribution_id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	EscrowBalance  int64      `json:"escrow_balance"`
	TotalPending   int64      `json:"total_pending"`
	Gifts          []GiftView `json:"gifts"`
	CreatedAt      time.Time  `json:"created_at"`
}

// GiftEventPayload is the message body published to RabbitMQ for gift
// lifecycle events (gift.added, gift.removed, gift.claimed).
type GiftEventPayload struct {
	OwnerID     uuid.UUID `json:"owner_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Amount      int64     `json:"amount"`
	MaturesAt   time.Time `json:"matures_at,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// DistributionEventPayload is the message body published when a distribution
// is initialized.
type DistributionEventPayload struct {
	DistributionID uuid.UUID `json:"distribution_id"`
	OwnerID        uuid.UUID `json:"owner_id"`
	GiftCount      int       `json:"gift_count"`
	TotalFunded    int64     `json:"total_funded"`
	Timestamp      time.Time `json:"timestamp"`
}
