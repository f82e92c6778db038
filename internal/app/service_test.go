package app

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/giftvault/distribution-service/internal/domain"
	"github.com/giftvault/distribution-service/internal/store"
)

// testClock is a controllable wall clock so maturity checks are deterministic.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*Service, *store.MemoryRepository, *testClock) {
	t.Helper()
	repo := store.NewMemoryRepository()
	clock := &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
	svc := NewService(repo, nil)
	svc.SetClock(clock.Now)
	return svc, repo, clock
}

func seedWallet(t *testing.T, repo *store.MemoryRepository, userID uuid.UUID, balance int64) {
	t.Helper()
	owner := userID
	_, err := repo.CreateAccount(context.Background(), &domain.Account{
		OwnerUserID: &owner,
		Kind:        domain.AccountKindWallet,
		Balance:     balance,
	})
	if err != nil {
		t.Fatalf("failed to seed wallet for %s: %v", userID, err)
	}
}

func walletBalance(t *testing.T, repo *store.MemoryRepository, userID uuid.UUID) int64 {
	t.Helper()
	account, err := repo.FindWalletByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to read wallet for %s: %v", userID, err)
	}
	return account.Balance
}

func escrowBalance(t *testing.T, repo *store.MemoryRepository, ownerID uuid.UUID) int64 {
	t.Helper()
	dist, err := repo.FindDistributionByOwner(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("failed to read distribution for %s: %v", ownerID, err)
	}
	escrow, err := repo.FindAccountByID(context.Background(), dist.EscrowAccountID)
	if err != nil {
		t.Fatalf("failed to read escrow account: %v", err)
	}
	return escrow.Balance
}

func pendingTotal(t *testing.T, repo *store.MemoryRepository, ownerID uuid.UUID) int64 {
	t.Helper()
	dist, err := repo.FindDistributionByOwner(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("failed to read distribution for %s: %v", ownerID, err)
	}
	gifts, err := repo.ListGiftsByDistribution(context.Background(), dist.ID)
	if err != nil {
		t.Fatalf("failed to list gifts: %v", err)
	}
	var total int64
	for _, g := range gifts {
		total += g.Amount
	}
	return total
}

func TestInitializeDistribution_FundsEscrowAndBuildsTable(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	r1, r2 := uuid.New(), uuid.New()
	t1 := int64(1_700_100_000)
	t2 := int64(1_700_200_000)
	seedWallet(t, repo, owner, 300)

	resp, err := svc.InitializeDistribution(context.Background(), owner, domain.InitializeDistributionRequest{
		RecipientIDs: []uuid.UUID{r1, r2},
		Amounts:      []int64{100, 200},
		MaturesAt:    []int64{t1, t2},
	})
	if err != nil {
		t.Fatalf("InitializeDistribution returned error: %v", err)
	}
	if resp.GiftCount != 2 {
		t.Fatalf("expected gift_count=2, got %d", resp.GiftCount)
	}
	if resp.TotalFunded != 300 {
		t.Fatalf("expected total_funded=300, got %d", resp.TotalFunded)
	}

	if got := walletBalance(t, repo, owner); got != 0 {
		t.Fatalf("expected owner wallet drained to 0, got %d", got)
	}
	if got := escrowBalance(t, repo, owner); got != 300 {
		t.Fatalf("expected escrow balance 300, got %d", got)
	}

	g1, err := repo.FindGift(context.Background(), owner, r1)
	if err != nil {
		t.Fatalf("expected gift for r1: %v", err)
	}
	if g1.Amount != 100 || g1.MaturesAt.Unix() != t1 {
		t.Fatalf("expected r1 gift (100, %d), got (%d, %d)", t1, g1.Amount, g1.MaturesAt.Unix())
	}
	g2, err := repo.FindGift(context.Background(), owner, r2)
	if err != nil {
		t.Fatalf("expected gift for r2: %v", err)
	}
	if g2.Amount != 200 || g2.MaturesAt.Unix() != t2 {
		t.Fatalf("expected r2 gift (200, %d), got (%d, %d)", t2, g2.Amount, g2.MaturesAt.Unix())
	}
}

func TestInitializeDistribution_LengthMismatchLeavesNoState(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	seedWallet(t, repo, owner, 500)

	_, err := svc.InitializeDistribution(context.Background(), owner, domain.InitializeDistributionRequest{
		RecipientIDs: []uuid.UUID{uuid.New(), uuid.New()},
		Amounts:      []int64{100},
		MaturesAt:    []int64{1, 2},
	})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}

	if _, err := repo.FindDistributionByOwner(context.Background(), owner); !errors.Is(err, store.ErrNotInitialized) {
		t.Fatalf("expected no distribution after failed initialize, got %v", err)
	}
	if got := walletBalance(t, repo, owner); got != 500 {
		t.Fatalf("expected wallet untouched at 500, got %d", got)
	}
}

func TestInitializeDistribution_InsufficientFundsLeavesNoState(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	seedWallet(t, repo, owner, 250)

	_, err := svc.InitializeDistribution(context.Background(), owner, domain.InitializeDistributionRequest{
		RecipientIDs: []uuid.UUID{uuid.New(), uuid.New()},
		Amounts:      []int64{100, 200},
		MaturesAt:    []int64{1, 2},
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if _, err := repo.FindDistributionByOwner(context.Background(), owner); !errors.Is(err, store.ErrNotInitialized) {
		t.Fatalf("expected no distribution after failed initialize, got %v", err)
	}
	if got := walletBalance(t, repo, owner); got != 250 {
		t.Fatalf("expected wallet untouched at 250, got %d", got)
	}
}

func TestInitializeDistribution_OverflowingTotalLeavesNoState(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	seedWallet(t, repo, owner, 100)

	// Each amount passes the non-negative check on its own; the sum wraps
	// negative, which would sail past the wallet balance check and credit the
	// owner while creating a negative escrow.
	_, err := svc.InitializeDistribution(context.Background(), owner, domain.InitializeDistributionRequest{
		RecipientIDs: []uuid.UUID{uuid.New(), uuid.New()},
		Amounts:      []int64{math.MaxInt64, math.MaxInt64},
		MaturesAt:    []int64{1, 2},
	})
	if !errors.Is(err, store.ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}

	if _, err := repo.FindDistributionByOwner(context.Background(), owner); !errors.Is(err, store.ErrNotInitialized) {
		t.Fatalf("expected no distribution after rejected initialize, got %v", err)
	}
	if got := walletBalance(t, repo, owner); got != 100 {
		t.Fatalf("expected wallet untouched at 100, got %d", got)
	}
}

func TestInitializeDistribution_SecondInitializeRejected(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	seedWallet(t, repo, owner, 1000)

	req := domain.InitializeDistributionRequest{
		RecipientIDs: []uuid.UUID{uuid.New()},
		Amounts:      []int64{100},
		MaturesAt:    []int64{1},
	}
	if _, err := svc.InitializeDistribution(context.Background(), owner, req); err != nil {
		t.Fatalf("first initialize failed: %v", err)
	}
	_, err := svc.InitializeDistribution(context.Background(), owner, req)
	if !errors.Is(err, store.ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	if got := walletBalance(t, repo, owner); got != 900 {
		t.Fatalf("expected wallet 900 after single funding, got %d", got)
	}
}

func TestInitializeDistribution_DuplicateRecipientLastWins(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	r1 := uuid.New()
	seedWallet(t, repo, owner, 1000)

	// Bulk initialize uses table-upsert semantics: the second occurrence of r1
	// overwrites the first rather than summing with it.
	_, err := svc.InitializeDistribution(context.Background(), owner, domain.InitializeDistributionRequest{
		RecipientIDs: []uuid.UUID{r1, r1},
		Amounts:      []int64{100, 40},
		MaturesAt:    []int64{10, 20},
	})
	if err != nil {
		t.Fatalf("InitializeDistribution returned error: %v", err)
	}

	g, err := repo.FindGift(context.Background(), owner, r1)
	if err != nil {
		t.Fatalf("expected gift for r1: %v", err)
	}
	if g.Amount != 40 || g.MaturesAt.Unix() != 20 {
		t.Fatalf("expected last entry to win (40, 20), got (%d, %d)", g.Amount, g.MaturesAt.Unix())
	}
	// The escrow holds the collapsed sum, not the raw input sum.
	if got := escrowBalance(t, repo, owner); got != 40 {
		t.Fatalf("expected escrow balance 40, got %d", got)
	}
	if got := walletBalance(t, repo, owner); got != 960 {
		t.Fatalf("expected wallet 960, got %d", got)
	}
}

func TestAddGift_MergeLaw(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	r1 := uuid.New()
	seedWallet(t, repo, owner, 1000)

	t1 := int64(1_700_100_000)
	t3 := int64(1_700_300_000)
	_, err := svc.InitializeDistribution(context.Background(), owner, domain.InitializeDistributionRequest{
		RecipientIDs: []uuid.UUID{r1},
		Amounts:      []int64{100},
		MaturesAt:    []int64{t1},
	})
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	gift, err := svc.AddGift(context.Background(), owner, domain.AddGiftRequest{
		RecipientID: r1,
		Amount:      50,
		MaturesAt:   t3,
	})
	if err != nil {
		t.Fatalf("AddGift returned error: %v", err)
	}

	// Amount sums, maturity replaces.
	if gift.Amount != 150 {
		t.Fatalf("expected merged amount 150, got %d", gift.Amount)
	}
	if gift.MaturesAt.Unix() != t3 {
		t.Fatalf("expected maturity replaced with %d, got %d", t3, gift.MaturesAt.Unix())
	}
	if got := escrowBalance(t, repo, owner); got != 150 {
		t.Fatalf("expected escrow 150, got %d", got)
	}
	if got := walletBalance(t, repo, owner); got != 850 {
		t.Fatalf("expected wallet 850, got %d", got)
	}
}

func TestAddGift_MaturityReplacedEvenWhenEarlier(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	r1 := uuid.New()
	seedWallet(t, repo, owner, 1000)

	_, err := svc.InitializeDistribution(context.Background(), owner, domain.InitializeDistributionRequest{
		RecipientIDs: []uuid.UUID{r1},
		Amounts:      []int64{100},
		MaturesAt:    []int64{2_000_000_000},
	})
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	gift, err := svc.AddGift(context.Background(), owner, domain.AddGiftRequest{
		RecipientID: r1,
		Amount:      1,
		MaturesAt:   1_000_000_000,
	})
	if err != nil {
		t.Fatalf("AddGift returned error: %v", err)
	}
	if gift.MaturesAt.Unix() != 1_000_000_000 {
		t.Fatalf("expected the incoming (earlier) maturity to win, got %d", gift.MaturesAt.Unix())
	}
	if got := escrowBalance(t, repo, owner); got != 101 {
		t.Fatalf("expected escrow 101, got %d", got)
	}
}

func TestAddGift_NotInitialized(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	seedWallet(t, repo, owner, 1000)

	_, err := svc.AddGift(context.Background(), owner, domain.AddGiftRequest{
		RecipientID: uuid.New(),
		Amount:      50,
		MaturesAt:   1,
	})
	if !errors.Is(err, store.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if got := walletBalance(t, repo, owner); got != 1000 {
		t.Fatalf("expected wallet untouched at 1000, got %d", got)
	}
}

func TestAddGift_NegativeAmountRejected(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.AddGift(context.Background(), uuid.New(), domain.AddGiftRequest{
		RecipientID: uuid.New(),
		Amount:      -1,
		MaturesAt:   1,
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestRemoveGift_RefundsOwner(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	r1, r2 := uuid.New(), uuid.New()
	seedWallet(t, repo, owner, 300)

	_, err := svc.InitializeDistribution(context.Background(), owner, domain.InitializeDistributionRequest{
		RecipientIDs: []uuid.UUID{r1, r2},
		Amounts:      []int64{100, 200},
		MaturesAt:    []int64{1, 2},
	})
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	result, err := svc.RemoveGift(context.Background(), owner, r2)
	if err != nil {
		t.Fatalf("RemoveGift returned error: %v", err)
	}
	if !result.Removed || result.AmountRefunded != 200 {
		t.Fatalf("expected removed=true refunded=200, got removed=%t refunded=%d", result.Removed, result.AmountRefunded)
	}

	if _, err := repo.FindGift(context.Background(), owner, r2); !errors.Is(err, store.ErrGiftNotFound) {
		t.Fatalf("expected r2 gift deleted, got %v", err)
	}
	if got := walletBalance(t, repo, owner); got != 200 {
		t.Fatalf("expected wallet refunded to 200, got %d", got)
	}
	if got := escrowBalance(t, repo, owner); got != 100 {
		t.Fatalf("expected escrow 100, got %d", got)
	}
}

func TestRemoveGift_AbsentRecipientIsSilentNoop(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	r1 := uuid.New()
	seedWallet(t, repo, owner, 300)

	_, err := svc.InitializeDistribution(context.Background(), owner, domain.InitializeDistributionRequest{
		RecipientIDs: []uuid.UUID{r1},
		Amounts:      []int64{100},
		MaturesAt:    []int64{1},
	})
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	result, err := svc.RemoveGift(context.Background(), owner, uuid.New())
	if err != nil {
		t.Fatalf("expected idempotent no-op, got error: %v", err)
	}
	if result.Removed || result.AmountRefunded != 0 {
		t.Fatalf("expected removed=false refunded=0, got removed=%t refunded=%d", result.Removed, result.AmountRefunded)
	}

	// Nothing changed.
	if got := escrowBalance(t, repo, owner); got != 100 {
		t.Fatalf("expected escrow unchanged at 100, got %d", got)
	}
	if got := walletBalance(t, repo, owner); got != 200 {
		t.Fatalf("expected wallet unchanged at 200, got %d", got)
	}
}

func TestRemoveGift_NotInitialized(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.RemoveGift(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, store.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestSolvencyAndUniquenessAcrossOperations(t *testing.T) {
	svc, repo, clock := newTestService(t)
	owner := uuid.New()
	r1, r2, r3 := uuid.New(), uuid.New(), uuid.New()
	seedWallet(t, repo, owner, 10_000)
	seedWallet(t, repo, r1, 0)

	base := clock.now.Unix()
	_, err := svc.InitializeDistribution(context.Background(), owner, domain.InitializeDistributionRequest{
		RecipientIDs: []uuid.UUID{r1, r2, r3},
		Amounts:      []int64{100, 200, 300},
		MaturesAt:    []int64{base - 100, base + 100, base + 200},
	})
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	steps := []func() error{
		func() error { _, err := svc.AddGift(context.Background(), owner, domain.AddGiftRequest{RecipientID: r2, Amount: 50, MaturesAt: base + 150}); return err },
		func() error { _, err := svc.RemoveGift(context.Background(), owner, r3); return err },
		func() error { _, err := svc.AddGift(context.Background(), owner, domain.AddGiftRequest{RecipientID: r3, Amount: 75, MaturesAt: base + 300}); return err },
		func() error { _, err := svc.ClaimGift(context.Background(), r1, owner); return err },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		// Solvency: escrow balance always equals the sum of the table.
		if escrow, pending := escrowBalance(t, repo, owner), pendingTotal(t, repo, owner); escrow != pending {
			t.Fatalf("solvency violated after step %d: escrow=%d pending=%d", i, escrow, pending)
		}
	}

	// Uniqueness: one entry per recipient despite repeated adds.
	dist, err := repo.FindDistributionByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("failed to read distribution: %v", err)
	}
	gifts, err := repo.ListGiftsByDistribution(context.Background(), dist.ID)
	if err != nil {
		t.Fatalf("failed to list gifts: %v", err)
	}
	seen := make(map[uuid.UUID]bool)
	for _, g := range gifts {
		if seen[g.RecipientID] {
			t.Fatalf("duplicate table entry for recipient %s", g.RecipientID)
		}
		seen[g.RecipientID] = true
	}
}

func TestCollapseGiftInputs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	tests := []struct {
		name       string
		req        domain.InitializeDistributionRequest
		wantErr    error
		wantCount  int
		wantTotal  int64
		wantAmount map[uuid.UUID]int64
	}{
		{
			name: "distinct recipients pass through",
			req: domain.InitializeDistributionRequest{
				RecipientIDs: []uuid.UUID{a, b},
				Amounts:      []int64{10, 20},
				MaturesAt:    []int64{1, 2},
			},
			wantCount:  2,
			wantTotal:  30,
			wantAmount: map[uuid.UUID]int64{a: 10, b: 20},
		},
		{
			name: "duplicate keeps last occurrence only",
			req: domain.InitializeDistributionRequest{
				RecipientIDs: []uuid.UUID{a, b, a},
				Amounts:      []int64{10, 20, 5},
				MaturesAt:    []int64{1, 2, 3},
			},
			wantCount:  2,
			wantTotal:  25,
			wantAmount: map[uuid.UUID]int64{a: 5, b: 20},
		},
		{
			name: "zero amounts are preserved",
			req: domain.InitializeDistributionRequest{
				RecipientIDs: []uuid.UUID{a},
				Amounts:      []int64{0},
				MaturesAt:    []int64{1},
			},
			wantCount:  1,
			wantTotal:  0,
			wantAmount: map[uuid.UUID]int64{a: 0},
		},
		{
			name: "sum wrapping int64 is rejected",
			req: domain.InitializeDistributionRequest{
				RecipientIDs: []uuid.UUID{a, b},
				Amounts:      []int64{math.MaxInt64, math.MaxInt64},
				MaturesAt:    []int64{1, 2},
			},
			wantErr: store.ErrAmountOverflow,
		},
		{
			name: "duplicate collapse can bring the sum back in range",
			req: domain.InitializeDistributionRequest{
				RecipientIDs: []uuid.UUID{a, b, a},
				Amounts:      []int64{math.MaxInt64, 7, 3},
				MaturesAt:    []int64{1, 2, 3},
			},
			wantCount:  2,
			wantTotal:  10,
			wantAmount: map[uuid.UUID]int64{a: 3, b: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gifts, total, err := collapseGiftInputs(tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("collapseGiftInputs returned error: %v", err)
			}
			if len(gifts) != tt.wantCount {
				t.Fatalf("expected %d gifts, got %d", tt.wantCount, len(gifts))
			}
			if total != tt.wantTotal {
				t.Fatalf("expected total=%d, got %d", tt.wantTotal, total)
			}
			for _, g := range gifts {
				if want, ok := tt.wantAmount[g.RecipientID]; !ok || g.Amount != want {
					t.Fatalf("unexpected amount for %s: got %d want %d", g.RecipientID, g.Amount, want)
				}
			}
		})
	}
}
