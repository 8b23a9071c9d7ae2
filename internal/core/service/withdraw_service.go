package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/core/notify"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/metrics"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/safe"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xerr"
)

// WithdrawStore 提现协调器需要的仓储能力
type WithdrawStore interface {
	domain.WithdrawRepo
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// WithdrawService 提现状态机协调器
// pending → approved | rejected；approved → completed | failed
// 冻结在申请时就占住；审核通过才广播；广播失败必须解冻
type WithdrawService struct {
	store       WithdrawStore
	ledger      *LedgerService
	pool        *PoolService
	notifier    notify.Notifier
	policies    map[string]domain.CurrencyPolicy
	sendTimeout time.Duration
}

func NewWithdrawService(store WithdrawStore, ledger *LedgerService, pool *PoolService,
	notifier notify.Notifier, policies map[string]domain.CurrencyPolicy, sendTimeout time.Duration) *WithdrawService {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &WithdrawService{
		store:       store,
		ledger:      ledger,
		pool:        pool,
		notifier:    notifier,
		policies:    policies,
		sendTimeout: sendTimeout,
	}
}

// Request 用户申请提现
// 先冻结后建单；冻结失败 (可用不足) 时不会留下任何请求记录
func (s *WithdrawService) Request(ctx context.Context, uid int64, currency string, amount decimal.Decimal, dest string) (*domain.Withdraw, error) {
	policy, ok := s.policies[currency]
	if !ok {
		return nil, xerr.New(xerr.RequestParamsError, "unsupported currency: "+currency)
	}
	if amount.Sign() <= 0 {
		return nil, xerr.New(xerr.RequestParamsError, "withdraw amount must be positive")
	}
	if err := s.pool.ValidateAddress(currency, dest); err != nil {
		return nil, err
	}

	fee := policy.WithdrawFee
	total := amount.Add(fee)

	var w *domain.Withdraw
	err := s.store.Transaction(ctx, func(txCtx context.Context) error {
		holdID, err := s.ledger.Hold(txCtx, uid, currency, total)
		if err != nil {
			return err
		}
		w = &domain.Withdraw{
			UserID:    uid,
			Currency:  currency,
			Amount:    amount,
			Fee:       fee,
			ToAddress: dest,
			Status:    domain.WithdrawStatusPending,
			HoldID:    holdID,
		}
		return s.store.CreateWithdraw(txCtx, w)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "提现申请已受理",
		zap.Int64("id", w.ID),
		zap.Int64("uid", uid),
		zap.String("currency", currency),
		zap.String("amount", amount.String()))
	return w, nil
}

// Approve 管理员审核通过并触发广播
// pending → approved 的条件更新是防重入点：两个并发审核，只有一个能走到广播
func (s *WithdrawService) Approve(ctx context.Context, id, adminID int64) error {
	w, err := s.store.GetWithdraw(ctx, id)
	if err != nil {
		return err
	}

	ok, err := s.store.TransitionWithdraw(ctx, id, domain.WithdrawStatusPending, domain.WithdrawStatusApproved, adminID, "")
	if err != nil {
		return err
	}
	if !ok {
		return xerr.New(xerr.InvalidTransition, "只有 pending 状态可以审核")
	}

	// 广播是全系统唯一允许长阻塞的调用，必须带显式超时
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	txRef, err := s.pool.SendFromPool(sendCtx, w.Currency, w.ToAddress, w.Amount)

	// 过了广播这道门，后面的落库和解冻不许再被调用方断连打断
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		if sendCtx.Err() != nil {
			// 超时也好、审核请求中途断开也好，交易都可能已经出去了：
			// 保持 approved，既不标完成也不解冻，留给对账拿链上事实裁决。
			// 静默标完成或擅自解冻都可能双花
			logger.Warn(ctx, "⏳ 广播被打断，留在可恢复中间态",
				zap.Int64("id", id), zap.Error(err))
			return xerr.New(xerr.ChainUnavailable, "广播被打断，等待链上对账")
		}
		return s.failAndRelease(ctx, w, err)
	}

	// 先落 hash 再落账：崩在两步之间，恢复逻辑凭 hash 对链补账，不会二次广播
	if err := s.store.SetWithdrawTxRef(ctx, id, txRef); err != nil {
		logger.Error(ctx, "广播成功但 hash 落库失败，等待对账恢复",
			zap.Int64("id", id), zap.String("ref", txRef), zap.Error(err))
		return err
	}
	if err := s.commit(ctx, w, txRef); err != nil {
		return err
	}

	metrics.WithdrawTotal.WithLabelValues(w.Currency, "completed").Inc()
	s.notifySettled(ctx, w, "completed", txRef, "")
	return nil
}

// Reject 管理员驳回：解冻 + 终态，一个事务
// 同样只允许从 pending 出发，approved 的单子驳不掉
func (s *WithdrawService) Reject(ctx context.Context, id, adminID int64, reason string) error {
	w, err := s.store.GetWithdraw(ctx, id)
	if err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(txCtx context.Context) error {
		ok, err := s.store.TransitionWithdraw(txCtx, id, domain.WithdrawStatusPending, domain.WithdrawStatusRejected, adminID, reason)
		if err != nil {
			return err
		}
		if !ok {
			return xerr.New(xerr.InvalidTransition, "只有 pending 状态可以驳回")
		}
		return s.ledger.ReleaseHold(txCtx, w.HoldID, domain.EntryWithdrawRejected, reason)
	})
	if err != nil {
		return err
	}

	metrics.WithdrawTotal.WithLabelValues(w.Currency, "rejected").Inc()
	logger.Info(ctx, "提现已驳回", zap.Int64("id", id), zap.String("reason", reason))
	s.notifySettled(ctx, w, "rejected", "", reason)
	return nil
}

// Get 查单 (给 API 层)
func (s *WithdrawService) Get(ctx context.Context, id int64) (*domain.Withdraw, error) {
	return s.store.GetWithdraw(ctx, id)
}

// RecoverInFlight 崩溃恢复
// 有广播 hash 但没落账的单子，拿链上事实裁决：确认了就补落账，绝不二次广播
func (s *WithdrawService) RecoverInFlight(ctx context.Context) error {
	for currency := range s.policies {
		inFlight, err := s.store.ListInFlight(ctx, currency, 100)
		if err != nil {
			return err
		}
		for i := range inFlight {
			w := inFlight[i]
			confirmed, err := s.pool.TxConfirmed(ctx, currency, w.TxRef)
			if err != nil {
				// 链现在不可用，下一轮再说
				logger.Warn(ctx, "恢复检查失败，下轮重试",
					zap.Int64("id", w.ID), zap.Error(err))
				continue
			}
			if !confirmed {
				continue
			}
			if err := s.commit(ctx, &w, w.TxRef); err != nil {
				logger.Error(ctx, "恢复落账失败", zap.Int64("id", w.ID), zap.Error(err))
				continue
			}
			logger.Warn(ctx, "♻️ 恢复了一笔已广播未落账的提现",
				zap.Int64("id", w.ID),
				zap.String("ref", w.TxRef),
				zap.Int("code", xerr.InconsistentState))
			metrics.WithdrawTotal.WithLabelValues(currency, "completed").Inc()
			s.notifySettled(ctx, &w, "completed", w.TxRef, "")
		}
	}
	return nil
}

// commit 冻结落账 + 终态，一个事务
func (s *WithdrawService) commit(ctx context.Context, w *domain.Withdraw, txRef string) error {
	return s.store.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.ledger.CommitHold(txCtx, w.HoldID, txRef); err != nil {
			return err
		}
		return s.store.FinishWithdraw(txCtx, w.ID, domain.WithdrawStatusCompleted, txRef, "")
	})
}

// failAndRelease 广播确定失败：解冻 + 终态
// 解冻失败是资金泄漏，必须大声告警，绝不吞掉
func (s *WithdrawService) failAndRelease(ctx context.Context, w *domain.Withdraw, sendErr error) error {
	err := s.store.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.ledger.ReleaseHold(txCtx, w.HoldID, domain.EntryWithdrawFailed, sendErr.Error()); err != nil {
			return err
		}
		return s.store.FinishWithdraw(txCtx, w.ID, domain.WithdrawStatusFailed, "", sendErr.Error())
	})
	if err != nil {
		metrics.HoldLeakTotal.WithLabelValues(w.Currency).Inc()
		logger.Error(ctx, "🚨 FATAL: 广播失败后解冻失败，冻结泄漏",
			zap.Int64("id", w.ID),
			zap.Int64("hold", w.HoldID),
			zap.NamedError("send_err", sendErr),
			zap.Error(err))
		return fmt.Errorf("release after broadcast failure: %w", err)
	}

	metrics.WithdrawTotal.WithLabelValues(w.Currency, "failed").Inc()
	logger.Error(ctx, "❌ 提现广播失败，冻结已退回",
		zap.Int64("id", w.ID), zap.Error(sendErr))
	s.notifySettled(ctx, w, "failed", "", sendErr.Error())
	return fmt.Errorf("broadcast: %w", sendErr)
}

func (s *WithdrawService) notifySettled(ctx context.Context, w *domain.Withdraw, status, txRef, reason string) {
	ev := domain.WithdrawSettledEvent{
		WithdrawID: w.ID,
		UserID:     w.UserID,
		Currency:   w.Currency,
		Amount:     w.Amount.String(),
		Status:     status,
		TxRef:      txRef,
		Reason:     reason,
	}
	safe.GoCtx(ctx, func(c context.Context) {
		s.notifier.WithdrawSettled(c, ev)
	})
}
