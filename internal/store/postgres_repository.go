/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to distributions, gifts, and ledger accounts.
 *
 * Each mutating operation runs as a single database transaction: the distribution
 * row is locked first (`FOR UPDATE`), so all mutations of one owner's distribution
 * serialize, and the gift-table change commits together with the fund movement.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giftvault/distribution-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateAccount inserts a new ledger account and returns the stored row.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	query := `
		INSERT INTO accounts (id, owner_user_id, kind, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, account.ID, account.OwnerUserID, account.Kind, account.Balance).
		Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// FindAccountByID retrieves a ledger account by its ID.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT id, owner_user_id, kind, balance, created_at, updated_at FROM accounts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.ID, &account.OwnerUserID, &account.Kind, &account.Balance, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindWalletByUserID retrieves a user's wallet account.
func (r *PostgresRepository) FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT id, owner_user_id, kind, balance, created_at, updated_at FROM accounts WHERE owner_user_id = $1 AND kind = 'wallet'`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&account.ID, &account.OwnerUserID, &account.Kind, &account.Balance, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindDistributionByOwner retrieves the distribution belonging to an owner.
func (r *PostgresRepository) FindDistributionByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Distribution, error) {
	var dist domain.Distribution
	query := `SELECT id, owner_id, escrow_account_id, created_at, updated_at FROM distributions WHERE owner_id = $1`
	err := r.db.QueryRow(ctx, query, ownerID).Scan(
		&dist.ID, &dist.OwnerID, &dist.EscrowAccountID, &dist.CreatedAt, &dist.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	return &dist, nil
}

// ListGiftsByDistribution returns all pending gifts in a distribution's table.
func (r *PostgresRepository) ListGiftsByDistribution(ctx context.Context, distributionID uuid.UUID) ([]domain.Gift, error) {
	query := `
		SELECT distribution_id, recipient_id, amount, matures_at, created_at, updated_at
		FROM gifts
		WHERE distribution_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, distributionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gifts: %w", err)
	}
	defer rows.Close()

	var gifts []domain.Gift
	for rows.Next() {
		var g domain.Gift
		if err := rows.Scan(&g.DistributionID, &g.RecipientID, &g.Amount, &g.MaturesAt, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan gift: %w", err)
		}
		gifts = append(gifts, g)
	}
	return gifts, rows.Err()
}

// FindGift retrieves one recipient's pending gift in an owner's distribution.
func (r *PostgresRepository) FindGift(ctx context.Context, ownerID uuid.UUID, recipientID uuid.UUID) (*domain.Gift, error) {
	var g domain.Gift
	query := `
		SELECT g.distribution_id, g.recipient_id, g.amount, g.matures_at, g.created_at, g.updated_at
		FROM gifts g
		JOIN distributions d ON d.id = g.distribution_id
		WHERE d.owner_id = $1 AND g.recipient_id = $2
	`
	err := r.db.QueryRow(ctx, query, ownerID, recipientID).Scan(
		&g.DistributionID, &g.RecipientID, &g.Amount, &g.MaturesAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGiftNotFound
		}
		return nil, err
	}
	return &g, nil
}

// CreateDistributionAtomic creates the distribution, its escrow account, and the
// initial gift table, and funds the escrow from the owner's wallet, all in one
// database transaction.
func (r *PostgresRepository) CreateDistributionAtomic(ctx context.Context, ownerID uuid.UUID, gifts []domain.Gift, total int64) (*domain.Distribution, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Reject a second distribution for the same owner.
	var existing uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM distributions WHERE owner_id = $1`, ownerID).Scan(&existing)
	if err == nil {
		return nil, ErrAlreadyInitialized
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to check existing distribution: %w", err)
	}

	// 2. Lock the owner's wallet and verify it can cover the total.
	if err := debitWalletTx(ctx, tx, ownerID, total); err != nil {
		return nil, err
	}

	// 3. Create the escrow account already holding the pooled funds.
	escrowID := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (id, owner_user_id, kind, balance, created_at, updated_at)
		VALUES ($1, NULL, 'escrow', $2, NOW(), NOW())
	`, escrowID, total)
	if err != nil {
		return nil, fmt.Errorf("failed to create escrow account: %w", err)
	}

	// 4. Create the distribution row.
	dist := &domain.Distribution{ID: uuid.New(), OwnerID: ownerID, EscrowAccountID: escrowID}
	err = tx.QueryRow(ctx, `
		INSERT INTO distributions (id, owner_id, escrow_account_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING created_at, updated_at
	`, dist.ID, dist.OwnerID, dist.EscrowAccountID).Scan(&dist.CreatedAt, &dist.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create distribution: %w", err)
	}

	// 5. Insert the gift table. Callers collapse duplicate recipients first, so
	// plain inserts are sufficient here.
	for i := range gifts {
		_, err = tx.Exec(ctx, `
			INSERT INTO gifts (distribution_id, recipient_id, amount, matures_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
		`, dist.ID, gifts[i].RecipientID, gifts[i].Amount, gifts[i].MaturesAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert gift for recipient %s: %w", gifts[i].RecipientID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit distribution creation: %w", err)
	}
	return dist, nil
}

// AddGiftAtomic merges a gift into the owner's table and moves the amount from
// the owner's wallet into escrow in one database transaction.
func (r *PostgresRepository) AddGiftAtomic(ctx context.Context, ownerID uuid.UUID, recipientID uuid.UUID, amount int64, maturesAt time.Time) (*domain.Gift, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	dist, auth, err := lockDistributionTx(ctx, tx, ownerID)
	if err != nil {
		return nil, err
	}

	// Lock any existing entry and reject a merge whose sum would not fit in
	// bigint, before any funds move.
	var existingAmount int64
	err = tx.QueryRow(ctx, `
		SELECT amount FROM gifts
		WHERE distribution_id = $1 AND recipient_id = $2
		FOR UPDATE
	`, dist.ID, recipientID).Scan(&existingAmount)
	if err == nil {
		if existingAmount > math.MaxInt64-amount {
			return nil, ErrAmountOverflow
		}
	} else if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to lock gift: %w", err)
	}

	if err := debitWalletTx(ctx, tx, ownerID, amount); err != nil {
		return nil, err
	}
	if err := creditEscrowTx(ctx, tx, auth, amount); err != nil {
		return nil, err
	}

	// Merge-on-insert: amount sums, maturity replaces.
	var g domain.Gift
	err = tx.QueryRow(ctx, `
		INSERT INTO gifts (distribution_id, recipient_id, amount, matures_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (distribution_id, recipient_id) DO UPDATE
		SET amount = gifts.amount + EXCLUDED.amount,
		    matures_at = EXCLUDED.matures_at,
		    updated_at = NOW()
		RETURNING distribution_id, recipient_id, amount, matures_at, created_at, updated_at
	`, dist.ID, recipientID, amount, maturesAt).Scan(
		&g.DistributionID, &g.RecipientID, &g.Amount, &g.MaturesAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert gift: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit gift addition: %w", err)
	}
	return &g, nil
}

// RemoveGiftAtomic deletes the recipient's gift and refunds the amount from
// escrow back to the owner's wallet in one database transaction.
func (r *PostgresRepository) RemoveGiftAtomic(ctx context.Context, ownerID uuid.UUID, recipientID uuid.UUID) (*domain.Gift, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	dist, auth, err := lockDistributionTx(ctx, tx, ownerID)
	if err != nil {
		return nil, err
	}

	g, err := deleteGiftTx(ctx, tx, dist.ID, recipientID)
	if err != nil {
		return nil, err
	}

	if err := debitEscrowTx(ctx, tx, auth, g.Amount); err != nil {
		return nil, err
	}
	if err := creditWalletTx(ctx, tx, ownerID, g.Amount); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit gift removal: %w", err)
	}
	return g, nil
}

// ClaimGiftAtomic deletes the claimant's gift and pays the amount from escrow
// to the claimant's wallet in one database transaction. Preconditions are
// checked in order: distribution exists, gift exists, gift is mature.
func (r *PostgresRepository) ClaimGiftAtomic(ctx context.Context, ownerID uuid.UUID, claimantID uuid.UUID, now time.Time) (*domain.Gift, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	dist, auth, err := lockDistributionTx(ctx, tx, ownerID)
	if err != nil {
		return nil, err
	}

	// Lock the claimant's own entry; nobody can claim on another identity's behalf.
	var g domain.Gift
	err = tx.QueryRow(ctx, `
		SELECT distribution_id, recipient_id, amount, matures_at, created_at, updated_at
		FROM gifts
		WHERE distribution_id = $1 AND recipient_id = $2
		FOR UPDATE
	`, dist.ID, claimantID).Scan(
		&g.DistributionID, &g.RecipientID, &g.Amount, &g.MaturesAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGiftNotFound
		}
		return nil, fmt.Errorf("failed to lock gift: %w", err)
	}

	// Strict gate: a claim at exactly the maturity instant is still too early.
	if !now.After(g.MaturesAt) {
		return nil, ErrGiftNotMature
	}

	if _, err := tx.Exec(ctx, `DELETE FROM gifts WHERE distribution_id = $1 AND recipient_id = $2`, dist.ID, claimantID); err != nil {
		return nil, fmt.Errorf("failed to delete claimed gift: %w", err)
	}

	if err := debitEscrowTx(ctx, tx, auth, g.Amount); err != nil {
		return nil, err
	}
	if err := creditWalletTx(ctx, tx, claimantID, g.Amount); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit gift claim: %w", err)
	}
	return &g, nil
}

// lockDistributionTx locks the owner's distribution row for the duration of the
// transaction and returns it together with the escrow authority derived from it.
func lockDistributionTx(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID) (*domain.Distribution, escrowAuthority, error) {
	var dist domain.Distribution
	err := tx.QueryRow(ctx, `
		SELECT id, owner_id, escrow_account_id, created_at, updated_at
		FROM distributions
		WHERE owner_id = $1
		FOR UPDATE
	`, ownerID).Scan(&dist.ID, &dist.OwnerID, &dist.EscrowAccountID, &dist.CreatedAt, &dist.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, escrowAuthority{}, ErrNotInitialized
		}
		return nil, escrowAuthority{}, fmt.Errorf("failed to lock distribution: %w", err)
	}
	return &dist, escrowAuthority{escrowAccountID: dist.EscrowAccountID}, nil
}

// deleteGiftTx removes one gift row and returns it, or ErrGiftNotFound.
func deleteGiftTx(ctx context.Context, tx pgx.Tx, distributionID uuid.UUID, recipientID uuid.UUID) (*domain.Gift, error) {
	var g domain.Gift
	err := tx.QueryRow(ctx, `
		DELETE FROM gifts
		WHERE distribution_id = $1 AND recipient_id = $2
		RETURNING distribution_id, recipient_id, amount, matures_at, created_at, updated_at
	`, distributionID, recipientID).Scan(
		&g.DistributionID, &g.RecipientID, &g.Amount, &g.MaturesAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGiftNotFound
		}
		return nil, fmt.Errorf("failed to delete gift: %w", err)
	}
	return &g, nil
}

// debitWalletTx locks the user's wallet, verifies the balance, and debits it.
func debitWalletTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	var balance int64
	err := tx.QueryRow(ctx, `
		SELECT balance FROM accounts
		WHERE owner_user_id = $1 AND kind = 'wallet'
		FOR UPDATE
	`, userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to lock wallet: %w", err)
	}
	if balance < amount {
		return ErrInsufficientFunds
	}
	_, err = tx.Exec(ctx, `
		UPDATE accounts SET balance = balance - $1, updated_at = NOW()
		WHERE owner_user_id = $2 AND kind = 'wallet'
	`, amount, userID)
	if err != nil {
		return fmt.Errorf("failed to debit wallet: %w", err)
	}
	return nil
}

// creditWalletTx credits the user's wallet, which must already exist.
func creditWalletTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = balance + $1, updated_at = NOW()
		WHERE owner_user_id = $2 AND kind = 'wallet'
	`, amount, userID)
	if err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// creditEscrowTx moves funds into the pooled account.
func creditEscrowTx(ctx context.Context, tx pgx.Tx, auth escrowAuthority, amount int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
	`, amount, auth.escrowAccountID)
	if err != nil {
		return fmt.Errorf("failed to credit escrow account: %w", err)
	}
	return nil
}

// debitEscrowTx moves funds out of the pooled account. Only reachable through
// an escrowAuthority obtained by locking the owning distribution row.
func debitEscrowTx(ctx context.Context, tx pgx.Tx, auth escrowAuthority, amount int64) error {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, auth.escrowAccountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to lock escrow account: %w", err)
	}
	if balance < amount {
		return ErrInsufficientFunds
	}
	_, err = tx.Exec(ctx, `
		UPDATE accounts SET balance = balance - $1, updated_at = NOW()
		WHERE id = $2
	`, amount, auth.escrowAccountID)
	if err != nil {
		return fmt.Errorf("failed to debit escrow account: %w", err)
	}
	return nil
}

var _ Repository = (*PostgresRepository)(nil)
