package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/metrics"
)

// ReconcileService 两套事实的定期互核
// 账本汇总和池子链上余额是两个独立的数字，谁也不是谁的影子；
// 这里只负责把偏差暴露出来 (指标 + 日志)，告警由监控系统接走
type ReconcileService struct {
	ledgerRepo domain.LedgerRepo
	pool       *PoolService
	withdraw   *WithdrawService
	policies   map[string]domain.CurrencyPolicy
	interval   time.Duration
}

func NewReconcileService(ledgerRepo domain.LedgerRepo, pool *PoolService,
	withdraw *WithdrawService, policies map[string]domain.CurrencyPolicy,
	interval time.Duration) *ReconcileService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReconcileService{
		ledgerRepo: ledgerRepo,
		pool:       pool,
		withdraw:   withdraw,
		policies:   policies,
		interval:   interval,
	}
}

// Start 周期任务入口，阻塞到 ctx 取消
// 启动时先跑一遍崩溃恢复：发出去没落账的提现必须先对完，再谈别的
func (s *ReconcileService) Start(ctx context.Context) {
	logger.Info(ctx, "🧮 对账任务启动", zap.Duration("interval", s.interval))

	if err := s.withdraw.RecoverInFlight(ctx); err != nil {
		logger.Error(ctx, "启动恢复失败", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "🛑 对账任务停止")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *ReconcileService) runOnce(ctx context.Context) {
	// 顺手把上个周期没恢复完的单子再过一遍
	if err := s.withdraw.RecoverInFlight(ctx); err != nil {
		logger.Error(ctx, "恢复检查失败", zap.Error(err))
	}

	for currency := range s.policies {
		ledgerSum, err := s.ledgerRepo.AggregateTotal(ctx, currency)
		if err != nil {
			logger.Error(ctx, "账本汇总失败", zap.String("currency", currency), zap.Error(err))
			continue
		}
		poolBal, err := s.pool.PoolBalance(ctx, currency)
		if err != nil {
			// 链暂时不可用不算偏差，下轮再看
			logger.Warn(ctx, "池子余额查询失败", zap.String("currency", currency), zap.Error(err))
			continue
		}

		drift := ledgerSum.Sub(poolBal)
		f, _ := drift.Float64()
		metrics.PoolDrift.WithLabelValues(currency).Set(f)

		// 展示地址上未归集的钱会让池子看起来偏少，这是预期内的正向偏差；
		// 负向偏差 (账本比链上还少) 才是真正要人看的
		if !drift.IsZero() {
			logger.Warn(ctx, "⚖️ 账本与池子存在偏差",
				zap.String("currency", currency),
				zap.String("ledger_sum", ledgerSum.String()),
				zap.String("pool_balance", poolBal.String()),
				zap.String("drift", drift.String()))
		}
	}
}
