package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xerr"
)

func TestMain(m *testing.M) {
	logger.Init("custody-test", "error")
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *Repo {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, AutoMigrate(db))
	return New(db)
}

func TestApplyBalanceDeltaGuards(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()

	err := repo.Transaction(ctx, func(txCtx context.Context) error {
		_, err := repo.GetBalanceForUpdate(txCtx, 1, "BTC")
		require.NoError(t, err)
		return repo.ApplyBalanceDelta(txCtx, 1, "BTC", decimal.NewFromInt(10), decimal.NewFromInt(10))
	})
	require.NoError(t, err)

	tests := []struct {
		name           string
		totalDelta     string
		availableDelta string
		wantErr        bool
	}{
		{"正常扣减", "-5", "-5", false},
		{"总额扣成负数被拒", "-100", "0", true},
		{"可用扣成负数被拒", "0", "-100", true},
		{"可用超过总额被拒", "0", "3", true}, // 现在 total=5 available=5
		{"冻结 (只动可用)", "0", "-2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.ApplyBalanceDelta(ctx, 1, "BTC",
				decimal.RequireFromString(tt.totalDelta),
				decimal.RequireFromString(tt.availableDelta))
			if tt.wantErr {
				assert.True(t, xerr.IsCode(err, xerr.InsufficientFunds))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInsertIgnoreDuplicateDeposit(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()

	d := &domain.Deposit{
		UserID:      7,
		Currency:    "BTC",
		Amount:      decimal.NewFromInt(1),
		Address:     "addr",
		ExternalRef: "tx:0",
		DetectedAt:  time.Now(),
	}
	created, err := repo.InsertIgnore(ctx, d)
	require.NoError(t, err)
	assert.True(t, created)

	// 同一个 ExternalRef 再插直接被唯一索引吞掉
	dup := &domain.Deposit{
		UserID:      7,
		Currency:    "BTC",
		Amount:      decimal.NewFromInt(1),
		Address:     "addr",
		ExternalRef: "tx:0",
		DetectedAt:  time.Now(),
	}
	created, err = repo.InsertIgnore(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestMarkCompletedFlipsOnce(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()

	d := &domain.Deposit{
		UserID:      8,
		Currency:    "BTC",
		Amount:      decimal.NewFromInt(1),
		Address:     "addr",
		ExternalRef: "tx:1",
		Status:      domain.DepositStatusConfirming,
		DetectedAt:  time.Now(),
	}
	_, err := repo.InsertIgnore(ctx, d)
	require.NoError(t, err)
	got, err := repo.GetByRef(ctx, "tx:1")
	require.NoError(t, err)

	flipped, err := repo.MarkCompleted(ctx, got.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, flipped)

	// 第二次翻转失败，调用方据此跳过重复入账
	flipped, err = repo.MarkCompleted(ctx, got.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, flipped)
}

func TestTransitionWithdrawConditional(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()

	w := &domain.Withdraw{
		UserID:    9,
		Currency:  "BTC",
		Amount:    decimal.NewFromInt(2),
		ToAddress: "dest",
		Status:    domain.WithdrawStatusPending,
		HoldID:    1,
	}
	require.NoError(t, repo.CreateWithdraw(ctx, w))

	ok, err := repo.TransitionWithdraw(ctx, w.ID, domain.WithdrawStatusPending, domain.WithdrawStatusApproved, 100, "")
	require.NoError(t, err)
	assert.True(t, ok)

	// 已经不是 pending，再翻失败
	ok, err = repo.TransitionWithdraw(ctx, w.ID, domain.WithdrawStatusPending, domain.WithdrawStatusRejected, 101, "late")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetWithdraw(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawStatusApproved, got.Status)
	assert.EqualValues(t, 100, got.AdminID)
}

func TestListInFlightNeedsTxRef(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()

	// approved 无 hash: 不算在途 (要么还没广播，要么超时未知，都轮不到自动恢复)
	w1 := &domain.Withdraw{UserID: 1, Currency: "BTC", Amount: decimal.NewFromInt(1),
		Status: domain.WithdrawStatusApproved}
	require.NoError(t, repo.CreateWithdraw(ctx, w1))

	// approved 带 hash: 广播成功但没落账，这是恢复目标
	w2 := &domain.Withdraw{UserID: 2, Currency: "BTC", Amount: decimal.NewFromInt(1),
		Status: domain.WithdrawStatusApproved, TxRef: "0xaa"}
	require.NoError(t, repo.CreateWithdraw(ctx, w2))

	list, err := repo.ListInFlight(ctx, "BTC", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, w2.ID, list[0].ID)
}

func TestNestedTransactionRollsBackTogether(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()

	err := repo.Transaction(ctx, func(txCtx context.Context) error {
		_, err := repo.GetBalanceForUpdate(txCtx, 42, "BTC")
		require.NoError(t, err)
		if err := repo.ApplyBalanceDelta(txCtx, 42, "BTC", decimal.NewFromInt(5), decimal.NewFromInt(5)); err != nil {
			return err
		}
		// 内层失败要把外层的加钱一起回滚
		return assert.AnError
	})
	require.Error(t, err)

	b, err := repo.GetBalance(ctx, 42, "BTC")
	require.NoError(t, err)
	assert.True(t, b.Total.IsZero())
}

func TestBalanceCursorConditionalAdvance(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()

	// 没见过的地址
	_, seen, err := repo.GetCursor(ctx, "ETH", "0xaaa")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, repo.InitCursor(ctx, "ETH", "0xaaa", decimal.Zero))
	// 基线幂等，重复落不覆盖
	require.NoError(t, repo.InitCursor(ctx, "ETH", "0xaaa", decimal.NewFromInt(99)))

	cur, seen, err := repo.GetCursor(ctx, "ETH", "0xaaa")
	require.NoError(t, err)
	require.True(t, seen)
	assert.Equal(t, "0", cur.String())

	ok, err := repo.AdvanceCursor(ctx, "ETH", "0xaaa", decimal.Zero, decimal.NewFromInt(8))
	require.NoError(t, err)
	assert.True(t, ok)

	// 旧水位对不上就推不动
	ok, err = repo.AdvanceCursor(ctx, "ETH", "0xaaa", decimal.Zero, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.False(t, ok)

	cur, _, err = repo.GetCursor(ctx, "ETH", "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, "8", cur.String())
}
