package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/core/notify"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/metrics"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/safe"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xerr"
)

// DepositStore 对账需要的仓储能力
type DepositStore interface {
	domain.DepositRepo
	domain.AddressRepo
	domain.BalanceCursorRepo
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// DepositService 充值对账状态机
// pending → confirming → completed，或 pending → failed
// "状态翻转 + 入账" 在同一个事务里，崩在中间也不会出现翻了状态没加钱
type DepositService struct {
	store    DepositStore
	ledger   *LedgerService
	notifier notify.Notifier
	policies map[string]domain.CurrencyPolicy
	sweepC   chan<- domain.SweepRequest // 可以为 nil (纯 UTXO 部署)
}

func NewDepositService(store DepositStore, ledger *LedgerService, notifier notify.Notifier,
	policies map[string]domain.CurrencyPolicy, sweepC chan<- domain.SweepRequest) *DepositService {
	return &DepositService{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		policies: policies,
		sweepC:   sweepC,
	}
}

// Reconcile 消费一条链上观察
// 同一个 externalRef 的重放进来多少次，最终都只入账一次
func (s *DepositService) Reconcile(ctx context.Context, currency string, obs domain.Observation) error {
	policy, ok := s.policies[currency]
	if !ok {
		return xerr.New(xerr.RequestParamsError, "unknown currency: "+currency)
	}
	if obs.ExternalRef == "" {
		return xerr.New(xerr.RequestParamsError, "observation without external ref")
	}

	d, err := s.store.GetByRef(ctx, obs.ExternalRef)
	if err != nil {
		return err
	}

	if d == nil {
		// 首见。先归属到用户，归属不了的不是我们的钱
		uid, err := s.store.GetUserIDByAddress(ctx, obs.Address)
		if err != nil {
			return err
		}
		if uid == 0 {
			logger.Debug(ctx, "观察到非平台地址的转账，忽略",
				zap.String("currency", currency), zap.String("addr", obs.Address))
			return nil
		}
		if obs.Amount.Sign() <= 0 {
			logger.Warn(ctx, "非法金额的观察，忽略",
				zap.String("ref", obs.ExternalRef), zap.String("amount", obs.Amount.String()))
			return nil
		}

		d = &domain.Deposit{
			UserID:                uid,
			Currency:              currency,
			Amount:                obs.Amount,
			Address:               obs.Address,
			ExternalRef:           obs.ExternalRef,
			Confirmations:         obs.Confirmations,
			RequiredConfirmations: policy.RequiredConfirmations,
			Status:                statusFor(obs.Confirmations, policy.RequiredConfirmations),
			DetectedAt:            time.Now(),
		}
		// 记录、水位、入账一个事务落定：哪一步失败都整体回滚，
		// 水位没推进，下一轮就会重新合成同一段差额，钱丢不了
		var created bool
		err = s.store.Transaction(ctx, func(txCtx context.Context) error {
			var err error
			created, err = s.store.InsertIgnore(txCtx, d)
			if err != nil {
				return err
			}
			if !created {
				return nil
			}
			if obs.Cursor != nil {
				ok, err := s.store.AdvanceCursor(txCtx, currency, obs.Address, obs.Cursor.From, obs.Cursor.To)
				if err != nil {
					return err
				}
				if !ok {
					// 水位被别的节点推过了，这条观察基于过期基线，
					// 整体作废，下一轮按新水位重新做差
					return xerr.New(xerr.InconsistentState, "balance cursor moved")
				}
			}
			if d.Confirmations >= d.RequiredConfirmations {
				// 首见就过了阈值 (终局型链走这条路)
				return s.settle(txCtx, policy, d)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if created {
			metrics.DepositDetectedTotal.WithLabelValues(currency).Inc()
			logger.Info(ctx, "💰 捕获充值",
				zap.String("currency", currency),
				zap.String("ref", obs.ExternalRef),
				zap.String("amount", obs.Amount.String()),
				zap.Int64("uid", uid))
			return nil
		}
		// 并发首见，别的协程刚插进去，重新读一份带 ID 的
		if d, err = s.store.GetByRef(ctx, obs.ExternalRef); err != nil || d == nil {
			return err
		}
	} else if d.Status == domain.DepositStatusPending || d.Status == domain.DepositStatusConfirming {
		if !obs.Amount.Equal(d.Amount) {
			// 同一个链上标识两次观察金额对不上，重组或节点数据异常，
			// 冻住这条记录等人工裁决，绝不带着存疑数据入账
			if err := s.store.MarkFailed(ctx, d.ID,
				fmt.Sprintf("amount mismatch: recorded %s, observed %s", d.Amount, obs.Amount)); err != nil {
				return err
			}
			logger.Error(ctx, "⚠️ 同一笔充值两次观察金额不一致，已标失败",
				zap.String("ref", d.ExternalRef),
				zap.String("recorded", d.Amount.String()),
				zap.String("observed", obs.Amount.String()),
				zap.Int("code", xerr.InconsistentState))
			return nil
		}
		if obs.Confirmations > d.Confirmations {
			newStatus := statusFor(obs.Confirmations, d.RequiredConfirmations)
			if err := s.store.UpdateConfirmations(ctx, d.ID, obs.Confirmations, newStatus); err != nil {
				return err
			}
			d.Confirmations = obs.Confirmations
			d.Status = newStatus
		}
	}

	// 自愈：completed 但账本里找不到入账流水 (崩溃残留)，补账并告警
	if d.Status == domain.DepositStatusCompleted {
		credited, err := s.ledger.HasCredit(ctx, d.ExternalRef)
		if err != nil {
			return err
		}
		if !credited {
			logger.Warn(ctx, "⚠️ 状态与账本脱节，补入账",
				zap.String("ref", d.ExternalRef),
				zap.Int("code", xerr.InconsistentState))
			if _, err := s.ledger.Credit(ctx, d.UserID, d.Currency, d.Amount, d.ExternalRef); err != nil {
				return err
			}
		}
		return nil
	}
	if d.Status == domain.DepositStatusFailed {
		return nil
	}

	// 过了确认阈值才能花
	if d.Confirmations >= d.RequiredConfirmations {
		return s.settle(ctx, policy, d)
	}
	return nil
}

// settle 状态翻转 + 入账，一个事务
func (s *DepositService) settle(ctx context.Context, policy domain.CurrencyPolicy, d *domain.Deposit) error {
	var flipped bool
	err := s.store.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		flipped, err = s.store.MarkCompleted(txCtx, d.ID, time.Now())
		if err != nil {
			return err
		}
		if !flipped {
			// 另一个对账协程先到了，什么都不用做
			return nil
		}
		// 幂等键就是链上交易标识；即使状态被重置过，这里也只会入一次账
		_, err = s.ledger.Credit(txCtx, d.UserID, d.Currency, d.Amount, d.ExternalRef)
		return err
	})
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}

	metrics.DepositCreditedTotal.WithLabelValues(d.Currency).Inc()
	logger.Info(ctx, "✅ 充值入账",
		zap.Int64("uid", d.UserID),
		zap.String("currency", d.Currency),
		zap.String("amount", d.Amount.String()),
		zap.String("ref", d.ExternalRef))

	// 通知尽力而为，不阻塞对账
	ev := domain.DepositCreditedEvent{
		UserID:      d.UserID,
		Currency:    d.Currency,
		Amount:      d.Amount.String(),
		ExternalRef: d.ExternalRef,
	}
	safe.GoCtx(ctx, func(c context.Context) {
		s.notifier.DepositCredited(c, ev)
	})

	// 余额差分型链入账后排队归集；队列满了就等下一笔，归集不追求实时
	if policy.Family == domain.FamilyAccount && s.sweepC != nil {
		select {
		case s.sweepC <- domain.SweepRequest{Currency: d.Currency, Address: d.Address, UserID: d.UserID}:
		default:
		}
	}
	return nil
}

func statusFor(confirmations, required int64) domain.DepositStatus {
	switch {
	case confirmations >= required:
		return domain.DepositStatusConfirming // settle 马上会翻成 completed
	case confirmations > 0:
		return domain.DepositStatusConfirming
	default:
		return domain.DepositStatusPending
	}
}
