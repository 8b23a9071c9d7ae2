package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/core/notify"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/infra/persistence"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xerr"
)

// mockAdapter 可编程的链适配器
type mockAdapter struct {
	family      domain.ChainFamily
	poolBalance decimal.Decimal
	fee         decimal.Decimal
	sendErr     error
	sendDelay   time.Duration // 模拟慢链
	sendCount   int64         // 原子计数，验证只广播一次
	confirmed   bool
}

var _ domain.ChainAdapter = (*mockAdapter)(nil)

func (m *mockAdapter) Family() domain.ChainFamily { return m.family }

func (m *mockAdapter) ObserveAddress(context.Context, string) ([]domain.Observation, error) {
	return nil, nil
}

func (m *mockAdapter) PoolBalance(context.Context, string) (decimal.Decimal, error) {
	return m.poolBalance, nil
}

func (m *mockAdapter) EstimateFee(context.Context) (decimal.Decimal, error) {
	return m.fee, nil
}

func (m *mockAdapter) ValidateAddress(string) error { return nil }

func (m *mockAdapter) SendFromPool(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	atomic.AddInt64(&m.sendCount, 1)
	if m.sendDelay > 0 {
		select {
		case <-time.After(m.sendDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.sendErr != nil {
		return "", m.sendErr
	}
	return "0xbroadcast", nil
}

func (m *mockAdapter) TxConfirmed(context.Context, string) (bool, error) {
	return m.confirmed, nil
}

func (m *mockAdapter) sends() int64 { return atomic.LoadInt64(&m.sendCount) }

func newWithdrawFixture(t *testing.T, adapter *mockAdapter) (*persistence.Repo, *LedgerService, *WithdrawService) {
	t.Helper()
	repo := newTestRepo(t)
	ledger := NewLedgerService(repo)
	pool := NewPoolService(
		map[string]domain.ChainAdapter{"BTC": adapter},
		map[string]domain.PoolAddress{"BTC": {Currency: "BTC", Address: "pool-addr"}},
	)
	policies := map[string]domain.CurrencyPolicy{
		"BTC": {
			Currency:              "BTC",
			Chain:                 "BTC",
			Family:                domain.FamilyUTXO,
			RequiredConfirmations: 3,
			WithdrawFee:           decimal.Zero, // 测试里费率归零，数字整一点
		},
	}
	svc := NewWithdrawService(repo, ledger, pool, notify.Nop{}, policies, time.Second)
	return repo, ledger, svc
}

func TestWithdrawRequestHoldsFunds(t *testing.T) {
	adapter := &mockAdapter{poolBalance: decimal.NewFromInt(100)}
	_, ledger, svc := newWithdrawFixture(t, adapter)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, 3001, "BTC", decimal.NewFromInt(10), "dep-w1")
	require.NoError(t, err)

	w, err := svc.Request(ctx, 3001, "BTC", decimal.NewFromInt(6), "dest-addr")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawStatusPending, w.Status)

	// 冻结生效: 总额 10，可用 4
	b, err := ledger.GetBalance(ctx, 3001, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "10", b.Total.String())
	assert.Equal(t, "4", b.Available.String())

	// 超出可用的申请连记录都不会留下
	_, err = svc.Request(ctx, 3001, "BTC", decimal.NewFromInt(5), "dest-addr")
	assert.True(t, xerr.IsCode(err, xerr.InsufficientFunds))
}

func TestWithdrawRejectRefunds(t *testing.T) {
	adapter := &mockAdapter{poolBalance: decimal.NewFromInt(100)}
	_, ledger, svc := newWithdrawFixture(t, adapter)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, 3002, "BTC", decimal.NewFromInt(10), "dep-w2")
	require.NoError(t, err)
	w, err := svc.Request(ctx, 3002, "BTC", decimal.NewFromInt(6), "dest-addr")
	require.NoError(t, err)

	require.NoError(t, svc.Reject(ctx, w.ID, 9, "风控不过"))

	// 10 → 6 冻结 → 驳回退回 10/10
	b, err := ledger.GetBalance(ctx, 3002, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "10", b.Total.String())
	assert.Equal(t, "10", b.Available.String())

	got, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawStatusRejected, got.Status)

	// 驳回过的单子不能再审核通过
	err = svc.Approve(ctx, w.ID, 9)
	assert.True(t, xerr.IsCode(err, xerr.InvalidTransition))
	assert.Zero(t, adapter.sends())
}

func TestWithdrawApproveCompletes(t *testing.T) {
	adapter := &mockAdapter{poolBalance: decimal.NewFromInt(100)}
	_, ledger, svc := newWithdrawFixture(t, adapter)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, 3003, "BTC", decimal.NewFromInt(10), "dep-w3")
	require.NoError(t, err)
	w, err := svc.Request(ctx, 3003, "BTC", decimal.NewFromInt(6), "dest-addr")
	require.NoError(t, err)

	require.NoError(t, svc.Approve(ctx, w.ID, 9))

	got, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawStatusCompleted, got.Status)
	assert.Equal(t, "0xbroadcast", got.TxRef)
	assert.EqualValues(t, 1, adapter.sends())

	// 冻结落账: 总额和可用都降到 4
	b, err := ledger.GetBalance(ctx, 3003, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "4", b.Total.String())
	assert.Equal(t, "4", b.Available.String())

	// 幂等: 已完成的单子再审一次报错且不再广播
	err = svc.Approve(ctx, w.ID, 9)
	assert.True(t, xerr.IsCode(err, xerr.InvalidTransition))
	assert.EqualValues(t, 1, adapter.sends())
}

func TestWithdrawBroadcastFailureReleasesHold(t *testing.T) {
	adapter := &mockAdapter{
		poolBalance: decimal.NewFromInt(100),
		sendErr:     errors.New("mempool rejected"),
	}
	_, ledger, svc := newWithdrawFixture(t, adapter)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, 3004, "BTC", decimal.NewFromInt(10), "dep-w4")
	require.NoError(t, err)
	w, err := svc.Request(ctx, 3004, "BTC", decimal.NewFromInt(6), "dest-addr")
	require.NoError(t, err)

	err = svc.Approve(ctx, w.ID, 9)
	require.Error(t, err)
	assert.True(t, xerr.IsCode(err, xerr.BroadcastFailed))

	// 确定性的失败必须把冻结退回去
	b, err := ledger.GetBalance(ctx, 3004, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "10", b.Total.String())
	assert.Equal(t, "10", b.Available.String())

	got, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawStatusFailed, got.Status)
}

func TestWithdrawInsufficientPoolRefusesBroadcast(t *testing.T) {
	adapter := &mockAdapter{poolBalance: decimal.NewFromInt(1)} // 池子只有 1
	_, ledger, svc := newWithdrawFixture(t, adapter)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, 3005, "BTC", decimal.NewFromInt(10), "dep-w5")
	require.NoError(t, err)
	w, err := svc.Request(ctx, 3005, "BTC", decimal.NewFromInt(6), "dest-addr")
	require.NoError(t, err)

	err = svc.Approve(ctx, w.ID, 9)
	require.Error(t, err)
	// 池子不足是拒绝而不是广播失败，根本没碰链
	assert.Zero(t, adapter.sends())

	// 单子进 failed，冻结退回 (拒绝发生在广播前，资金不可能已离开池子)
	b, err := ledger.GetBalance(ctx, 3005, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "10", b.Available.String())
}

func TestConcurrentApprovalsSingleBroadcast(t *testing.T) {
	adapter := &mockAdapter{poolBalance: decimal.NewFromInt(100)}
	_, ledger, svc := newWithdrawFixture(t, adapter)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, 3006, "BTC", decimal.NewFromInt(10), "dep-w6")
	require.NoError(t, err)
	w, err := svc.Request(ctx, 3006, "BTC", decimal.NewFromInt(6), "dest-addr")
	require.NoError(t, err)

	// 两个管理员同时点了通过
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Approve(ctx, w.ID, int64(100+i))
		}(i)
	}
	wg.Wait()

	// 恰好一个成功、一个吃到状态冲突，链上只有一笔交易
	var okCount, conflictCount int
	for _, e := range errs {
		if e == nil {
			okCount++
		} else if xerr.IsCode(e, xerr.InvalidTransition) {
			conflictCount++
		}
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, conflictCount)
	assert.EqualValues(t, 1, adapter.sends())
}

func TestApproveTimeoutLeavesRecoverableState(t *testing.T) {
	adapter := &mockAdapter{
		poolBalance: decimal.NewFromInt(100),
		sendDelay:   5 * time.Second, // 远超 fixture 的 1s 超时
	}
	repo, ledger, svc := newWithdrawFixture(t, adapter)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, 3007, "BTC", decimal.NewFromInt(10), "dep-w7")
	require.NoError(t, err)
	w, err := svc.Request(ctx, 3007, "BTC", decimal.NewFromInt(6), "dest-addr")
	require.NoError(t, err)

	err = svc.Approve(ctx, w.ID, 9)
	require.Error(t, err)
	assert.True(t, xerr.IsCode(err, xerr.ChainUnavailable))

	// 超时不是失败: 单子停在 approved，冻结原地不动，等链上事实
	got, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawStatusApproved, got.Status)
	b, err := ledger.GetBalance(ctx, 3007, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "4", b.Available.String())

	// 模拟后来查明交易其实广播成功了: 补上 hash，恢复流程凭链上确认落账
	require.NoError(t, repo.SetWithdrawTxRef(ctx, w.ID, "0xlate"))
	adapter.confirmed = true

	require.NoError(t, svc.RecoverInFlight(ctx))

	got, err = svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawStatusCompleted, got.Status)
	b, err = ledger.GetBalance(ctx, 3007, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "4", b.Total.String())
	assert.Equal(t, "4", b.Available.String())

	// 恢复绝不二次广播
	assert.EqualValues(t, 1, adapter.sends())
}

func TestApproveCallerDisconnectKeepsHold(t *testing.T) {
	// 审核请求的 HTTP 连接在广播中途断开：交易可能已经出去了，
	// 绝不能走解冻路径，单子留在 approved 等链上对账
	adapter := &mockAdapter{poolBalance: decimal.NewFromInt(100), sendDelay: 2 * time.Second}
	_, ledger, svc := newWithdrawFixture(t, adapter)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, 3008, "BTC", decimal.NewFromInt(10), "dep-w8")
	require.NoError(t, err)
	w, err := svc.Request(ctx, 3008, "BTC", decimal.NewFromInt(6), "dest-addr")
	require.NoError(t, err)

	reqCtx, disconnect := context.WithCancel(ctx)
	go func() {
		time.Sleep(200 * time.Millisecond)
		disconnect()
	}()

	err = svc.Approve(reqCtx, w.ID, 9)
	assert.True(t, xerr.IsCode(err, xerr.ChainUnavailable))
	assert.EqualValues(t, 1, adapter.sends())

	// 冻结原封不动，状态停在 approved，没有误退款
	got, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawStatusApproved, got.Status)
	assert.Empty(t, got.TxRef)

	b, err := ledger.GetBalance(ctx, 3008, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "10", b.Total.String())
	assert.Equal(t, "4", b.Available.String())
}
