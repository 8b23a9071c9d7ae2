package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xerr"
)

// LedgerService 权威账本
// 所有余额变更走这里的事务 + (用户,币种) 行锁，充值入账和提现冻结
// 抢同一行时由数据库排队，不会丢更新
type LedgerService struct {
	repo domain.LedgerRepo
}

func NewLedgerService(repo domain.LedgerRepo) *LedgerService {
	return &LedgerService{repo: repo}
}

// holdRef 冻结单在流水里的引用格式
func holdRef(holdID int64) string {
	return fmt.Sprintf("hold-%d", holdID)
}

// Credit 入账，按 externalRef (链上交易 hash) 幂等
// 同一个 ref 第二次进来是 no-op，返回已结算的余额，绝不加两次钱
func (s *LedgerService) Credit(ctx context.Context, uid int64, currency string, amount decimal.Decimal, externalRef string) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, xerr.New(xerr.RequestParamsError, "credit amount must be positive")
	}
	if externalRef == "" {
		return decimal.Zero, xerr.New(xerr.RequestParamsError, "credit requires an idempotency key")
	}

	var newTotal decimal.Decimal
	err := s.repo.Transaction(ctx, func(txCtx context.Context) error {
		// 先拿行锁，再做幂等检查，并发的重放在这里排队
		b, err := s.repo.GetBalanceForUpdate(txCtx, uid, currency)
		if err != nil {
			return err
		}

		entry, err := s.repo.GetEntryByRef(txCtx, domain.EntryDeposit, externalRef)
		if err != nil {
			return err
		}
		if entry != nil {
			// 幂等短路：这笔已经入过账了
			logger.Debug(txCtx, "重复入账被短路",
				zap.String("ref", externalRef), zap.Int64("uid", uid))
			newTotal = b.Total
			return nil
		}

		if err := s.repo.ApplyBalanceDelta(txCtx, uid, currency, amount, amount); err != nil {
			return err
		}
		if err := s.repo.CreateEntry(txCtx, &domain.LedgerEntry{
			UserID:      uid,
			Type:        domain.EntryDeposit,
			Currency:    currency,
			Amount:      amount,
			ExternalRef: externalRef,
		}); err != nil {
			return err
		}
		newTotal = b.Total.Add(amount)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newTotal, nil
}

// Hold 冻结可用余额，Total 不动
// 可用不足返回 InsufficientFunds，调用方不应该创建任何后续记录
func (s *LedgerService) Hold(ctx context.Context, uid int64, currency string, amount decimal.Decimal) (int64, error) {
	if amount.Sign() <= 0 {
		return 0, xerr.New(xerr.RequestParamsError, "hold amount must be positive")
	}

	var holdID int64
	err := s.repo.Transaction(ctx, func(txCtx context.Context) error {
		b, err := s.repo.GetBalanceForUpdate(txCtx, uid, currency)
		if err != nil {
			return err
		}
		if b.Available.LessThan(amount) {
			return xerr.New(xerr.InsufficientFunds, "可用余额不足")
		}

		if err := s.repo.ApplyBalanceDelta(txCtx, uid, currency, decimal.Zero, amount.Neg()); err != nil {
			return err
		}

		h := &domain.Hold{
			UserID:   uid,
			Currency: currency,
			Amount:   amount,
			Status:   domain.HoldStatusActive,
		}
		if err := s.repo.CreateHold(txCtx, h); err != nil {
			return err
		}
		holdID = h.ID

		return s.repo.CreateEntry(txCtx, &domain.LedgerEntry{
			UserID:      uid,
			Type:        domain.EntryWithdrawRequest,
			Currency:    currency,
			Amount:      amount,
			ExternalRef: holdRef(h.ID),
		})
	})
	if err != nil {
		return 0, err
	}
	return holdID, nil
}

// CommitHold 冻结落账：Total 减掉冻结额，写 withdrawal_completed 流水
// externalRef 是广播出去的链上交易 hash
func (s *LedgerService) CommitHold(ctx context.Context, holdID int64, externalRef string) error {
	if externalRef == "" {
		return xerr.New(xerr.RequestParamsError, "commit requires the broadcast reference")
	}
	return s.repo.Transaction(ctx, func(txCtx context.Context) error {
		h, err := s.repo.GetHoldForUpdate(txCtx, holdID)
		if err != nil {
			return err
		}
		ok, err := s.repo.FinishHold(txCtx, holdID, domain.HoldStatusActive, domain.HoldStatusCommitted, externalRef)
		if err != nil {
			return err
		}
		if !ok {
			// 已经 commit/release 过的单子不允许再动
			return xerr.New(xerr.InvalidTransition, "hold is not active")
		}
		if err := s.repo.ApplyBalanceDelta(txCtx, h.UserID, h.Currency, h.Amount.Neg(), decimal.Zero); err != nil {
			return err
		}
		return s.repo.CreateEntry(txCtx, &domain.LedgerEntry{
			UserID:      h.UserID,
			Type:        domain.EntryWithdrawCompleted,
			Currency:    h.Currency,
			Amount:      h.Amount,
			ExternalRef: externalRef,
		})
	})
}

// ReleaseHold 解冻退回：Available 恢复，Total 不动
// entryType 标记退回原因 (驳回 / 广播失败)
func (s *LedgerService) ReleaseHold(ctx context.Context, holdID int64, entryType domain.EntryType, reason string) error {
	if entryType != domain.EntryWithdrawRejected && entryType != domain.EntryWithdrawFailed {
		return xerr.New(xerr.RequestParamsError, "release entry type must be rejected or failed")
	}
	return s.repo.Transaction(ctx, func(txCtx context.Context) error {
		h, err := s.repo.GetHoldForUpdate(txCtx, holdID)
		if err != nil {
			return err
		}
		ok, err := s.repo.FinishHold(txCtx, holdID, domain.HoldStatusActive, domain.HoldStatusReleased, "")
		if err != nil {
			return err
		}
		if !ok {
			return xerr.New(xerr.InvalidTransition, "hold is not active")
		}
		if err := s.repo.ApplyBalanceDelta(txCtx, h.UserID, h.Currency, decimal.Zero, h.Amount); err != nil {
			return err
		}
		return s.repo.CreateEntry(txCtx, &domain.LedgerEntry{
			UserID:      h.UserID,
			Type:        entryType,
			Currency:    h.Currency,
			Amount:      h.Amount,
			ExternalRef: holdRef(h.ID),
			Metadata:    reason,
		})
	})
}

// GetBalance 查余额 (给 API 层)
func (s *LedgerService) GetBalance(ctx context.Context, uid int64, currency string) (*domain.Balance, error) {
	return s.repo.GetBalance(ctx, uid, currency)
}

// HasCredit externalRef 是否已入账 (对账自愈的判据)
func (s *LedgerService) HasCredit(ctx context.Context, externalRef string) (bool, error) {
	e, err := s.repo.GetEntryByRef(ctx, domain.EntryDeposit, externalRef)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}
