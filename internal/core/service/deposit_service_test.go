package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/core/notify"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/infra/persistence"
)

func testPolicies() map[string]domain.CurrencyPolicy {
	return map[string]domain.CurrencyPolicy{
		"BTC": {
			Currency:              "BTC",
			Chain:                 "BTC",
			Family:                domain.FamilyUTXO,
			RequiredConfirmations: 3,
			WithdrawFee:           decimal.RequireFromString("0.0005"),
		},
		"ETH": {
			Currency:              "ETH",
			Chain:                 "ETH",
			Family:                domain.FamilyAccount,
			RequiredConfirmations: 6,
			WithdrawFee:           decimal.RequireFromString("0.002"),
		},
	}
}

func newDepositFixture(t *testing.T) (*persistence.Repo, *LedgerService, *DepositService) {
	t.Helper()
	repo := newTestRepo(t)
	ledger := NewLedgerService(repo)
	svc := NewDepositService(repo, ledger, notify.Nop{}, testPolicies(), nil)
	return repo, ledger, svc
}

func watchAddress(t *testing.T, repo *persistence.Repo, uid int64, currency, addr string) {
	t.Helper()
	require.NoError(t, repo.SaveAddress(context.Background(), &domain.UserAddress{
		UserID:   uid,
		Currency: currency,
		Address:  addr,
	}))
}

func TestReconcileConfirmationLifecycle(t *testing.T) {
	repo, ledger, svc := newDepositFixture(t)
	ctx := context.Background()

	addr := "bcrt1qga52l9u6hre8wu6r6rh8a8xgexyzf6f7kcfl2v"
	watchAddress(t, repo, 1001, "BTC", addr)
	amount := decimal.RequireFromString("0.5")

	// 同一笔交易随确认数推进反复上报: 1 → 3 → 6 → 7
	for _, conf := range []int64{1, 3, 6, 7} {
		err := svc.Reconcile(ctx, "BTC", domain.Observation{
			Address:       addr,
			Amount:        amount,
			ExternalRef:   "txid-life:0",
			Confirmations: conf,
		})
		require.NoError(t, err)
	}

	// 阈值是 3，入账必须发生且只发生一次
	b, err := ledger.GetBalance(ctx, 1001, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "0.5", b.Total.String())

	d, err := repo.GetByRef(ctx, "txid-life:0")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, domain.DepositStatusCompleted, d.Status)
	assert.NotNil(t, d.CreditedAt)
}

func TestReconcileBelowThresholdDoesNotCredit(t *testing.T) {
	repo, ledger, svc := newDepositFixture(t)
	ctx := context.Background()

	addr := "bcrt1q_below"
	watchAddress(t, repo, 1002, "BTC", addr)

	err := svc.Reconcile(ctx, "BTC", domain.Observation{
		Address:       addr,
		Amount:        decimal.NewFromInt(1),
		ExternalRef:   "txid-low:0",
		Confirmations: 2, // 阈值 3
	})
	require.NoError(t, err)

	b, err := ledger.GetBalance(ctx, 1002, "BTC")
	require.NoError(t, err)
	assert.True(t, b.Total.IsZero())

	d, err := repo.GetByRef(ctx, "txid-low:0")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, domain.DepositStatusConfirming, d.Status)
}

func TestReconcileIgnoresUnknownAddress(t *testing.T) {
	repo, _, svc := newDepositFixture(t)
	ctx := context.Background()

	err := svc.Reconcile(ctx, "BTC", domain.Observation{
		Address:       "not-ours",
		Amount:        decimal.NewFromInt(5),
		ExternalRef:   "txid-stranger:0",
		Confirmations: 10,
	})
	require.NoError(t, err)

	// 不建记录也不入账
	d, err := repo.GetByRef(ctx, "txid-stranger:0")
	require.NoError(t, err)
	assert.Nil(t, d)

	net, err := repo.SumEntries(ctx, 0, "BTC")
	require.NoError(t, err)
	assert.True(t, net.IsZero())
}

func TestReconcileHealsCompletedWithoutCredit(t *testing.T) {
	repo, ledger, svc := newDepositFixture(t)
	ctx := context.Background()

	addr := "bcrt1q_heal"
	watchAddress(t, repo, 1003, "BTC", addr)

	// 人为制造崩溃残留：completed 的充值记录，但账本里没有流水
	now := time.Now()
	created, err := repo.InsertIgnore(ctx, &domain.Deposit{
		UserID:                1003,
		Currency:              "BTC",
		Amount:                decimal.NewFromInt(2),
		Address:               addr,
		ExternalRef:           "txid-heal:0",
		Confirmations:         5,
		RequiredConfirmations: 3,
		Status:                domain.DepositStatusCompleted,
		DetectedAt:            now,
		CreditedAt:            &now,
	})
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, svc.Reconcile(ctx, "BTC", domain.Observation{
		Address:       addr,
		Amount:        decimal.NewFromInt(2),
		ExternalRef:   "txid-heal:0",
		Confirmations: 6,
	}))

	b, err := ledger.GetBalance(ctx, 1003, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "2", b.Total.String())

	// 再跑一次不会重复补账
	require.NoError(t, svc.Reconcile(ctx, "BTC", domain.Observation{
		Address:       addr,
		Amount:        decimal.NewFromInt(2),
		ExternalRef:   "txid-heal:0",
		Confirmations: 7,
	}))
	b, err = ledger.GetBalance(ctx, 1003, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "2", b.Total.String())
}

func TestReconcileQueuesSweepForAccountChains(t *testing.T) {
	repo := newTestRepo(t)
	ledger := NewLedgerService(repo)
	sweepC := make(chan domain.SweepRequest, 4)
	svc := NewDepositService(repo, ledger, notify.Nop{}, testPolicies(), sweepC)
	ctx := context.Background()

	addr := "0x1111111111111111111111111111111111111111"
	watchAddress(t, repo, 1004, "ETH", addr)

	require.NoError(t, svc.Reconcile(ctx, "ETH", domain.Observation{
		Address:       addr,
		Amount:        decimal.NewFromInt(1),
		ExternalRef:   "native:0x1111:100:1",
		Confirmations: 6,
	}))

	select {
	case req := <-sweepC:
		assert.Equal(t, "ETH", req.Currency)
		assert.Equal(t, addr, req.Address)
		assert.Equal(t, int64(1004), req.UserID)
	case <-time.After(time.Second):
		t.Fatal("入账后应当排队归集")
	}
}

func TestReconcileAdvancesCursorWithCredit(t *testing.T) {
	repo, ledger, svc := newDepositFixture(t)
	ctx := context.Background()

	addr := "0x2222222222222222222222222222222222222222"
	watchAddress(t, repo, 1005, "ETH", addr)
	require.NoError(t, repo.InitCursor(ctx, "ETH", addr, decimal.Zero))

	obs := domain.Observation{
		Address:       addr,
		Amount:        decimal.NewFromInt(8),
		ExternalRef:   "native:" + addr + ":0:8",
		Confirmations: 6,
		Cursor:        &domain.CursorAdvance{From: decimal.Zero, To: decimal.NewFromInt(8)},
	}
	require.NoError(t, svc.Reconcile(ctx, "ETH", obs))

	// 入账和水位推进同时落定
	b, err := ledger.GetBalance(ctx, 1005, "ETH")
	require.NoError(t, err)
	assert.Equal(t, "8", b.Total.String())

	cur, seen, err := repo.GetCursor(ctx, "ETH", addr)
	require.NoError(t, err)
	require.True(t, seen)
	assert.Equal(t, "8", cur.String())

	// 另一个节点重放同一段差额，既不重复入账也不动水位
	require.NoError(t, svc.Reconcile(ctx, "ETH", obs))
	b, err = ledger.GetBalance(ctx, 1005, "ETH")
	require.NoError(t, err)
	assert.Equal(t, "8", b.Total.String())
}

func TestReconcileStaleCursorDropsObservation(t *testing.T) {
	repo, ledger, svc := newDepositFixture(t)
	ctx := context.Background()

	addr := "0x3333333333333333333333333333333333333333"
	watchAddress(t, repo, 1006, "ETH", addr)
	require.NoError(t, repo.InitCursor(ctx, "ETH", addr, decimal.Zero))

	// 0 → 8 正常入账
	require.NoError(t, svc.Reconcile(ctx, "ETH", domain.Observation{
		Address:       addr,
		Amount:        decimal.NewFromInt(8),
		ExternalRef:   "native:" + addr + ":0:8",
		Confirmations: 6,
		Cursor:        &domain.CursorAdvance{From: decimal.Zero, To: decimal.NewFromInt(8)},
	}))

	// 慢节点基于过期水位合成的 0 → 10 必须整体作废：
	// 那 8 已经入过账了，照单全收等于重复入账
	err := svc.Reconcile(ctx, "ETH", domain.Observation{
		Address:       addr,
		Amount:        decimal.NewFromInt(10),
		ExternalRef:   "native:" + addr + ":0:10",
		Confirmations: 6,
		Cursor:        &domain.CursorAdvance{From: decimal.Zero, To: decimal.NewFromInt(10)},
	})
	require.Error(t, err)

	d, err := repo.GetByRef(ctx, "native:"+addr+":0:10")
	require.NoError(t, err)
	assert.Nil(t, d)

	b, err := ledger.GetBalance(ctx, 1006, "ETH")
	require.NoError(t, err)
	assert.Equal(t, "8", b.Total.String())

	// 下一轮按新水位做差把剩下的 2 补上
	require.NoError(t, svc.Reconcile(ctx, "ETH", domain.Observation{
		Address:       addr,
		Amount:        decimal.NewFromInt(2),
		ExternalRef:   "native:" + addr + ":8:10",
		Confirmations: 6,
		Cursor:        &domain.CursorAdvance{From: decimal.NewFromInt(8), To: decimal.NewFromInt(10)},
	}))
	b, err = ledger.GetBalance(ctx, 1006, "ETH")
	require.NoError(t, err)
	assert.Equal(t, "10", b.Total.String())
}

func TestReconcileAmountMismatchMarksFailed(t *testing.T) {
	repo, ledger, svc := newDepositFixture(t)
	ctx := context.Background()

	addr := "bcrt1q_mismatch"
	watchAddress(t, repo, 1007, "BTC", addr)

	require.NoError(t, svc.Reconcile(ctx, "BTC", domain.Observation{
		Address:       addr,
		Amount:        decimal.NewFromInt(2),
		ExternalRef:   "txid-mm:0",
		Confirmations: 1,
	}))

	// 同一个链上标识报了另一个金额，重组或节点数据异常
	require.NoError(t, svc.Reconcile(ctx, "BTC", domain.Observation{
		Address:       addr,
		Amount:        decimal.NewFromInt(3),
		ExternalRef:   "txid-mm:0",
		Confirmations: 2,
	}))

	d, err := repo.GetByRef(ctx, "txid-mm:0")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, domain.DepositStatusFailed, d.Status)
	assert.Contains(t, d.ErrorMsg, "amount mismatch")

	// 标失败之后确认数再怎么涨都不入账
	require.NoError(t, svc.Reconcile(ctx, "BTC", domain.Observation{
		Address:       addr,
		Amount:        decimal.NewFromInt(2),
		ExternalRef:   "txid-mm:0",
		Confirmations: 9,
	}))
	b, err := ledger.GetBalance(ctx, 1007, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "0", b.Total.String())
}
