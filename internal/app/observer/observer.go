package observer

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/core/service"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/metrics"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xredis"
)

const (
	// 一轮里同时查多少个地址
	observeConcurrency = 8
	// 单笔观察的对账锁 TTL，处理完主动释放，挂了自动过期
	refLockTTL = 30 * time.Second
)

// Engine 单币种的链上观察引擎
// 定时拉一遍所有展示地址，把观察喂给对账服务
// 节点抽风时熔断器先断一会儿，别把错误打满日志
type Engine struct {
	currency string
	adapter  domain.ChainAdapter
	deposits *service.DepositService
	store    service.DepositStore
	lock     *xredis.RefLock
	interval time.Duration
	breaker  *gobreaker.CircuitBreaker[[]domain.Observation]
}

func NewEngine(currency string, adapter domain.ChainAdapter, deposits *service.DepositService,
	store service.DepositStore, lock *xredis.RefLock, interval time.Duration) *Engine {
	breaker := gobreaker.NewCircuitBreaker[[]domain.Observation](gobreaker.Settings{
		Name:        "observe-" + currency,
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "链观察熔断器状态切换",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Engine{
		currency: currency,
		adapter:  adapter,
		deposits: deposits,
		store:    store,
		lock:     lock,
		interval: interval,
		breaker:  breaker,
	}
}

// Start 阻塞运行，ctx 取消后退出
func (e *Engine) Start(ctx context.Context) {
	logger.Info(ctx, "🔍 链观察引擎启动",
		zap.String("currency", e.currency),
		zap.Duration("interval", e.interval))

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "链观察引擎退出", zap.String("currency", e.currency))
			return
		case <-ticker.C:
			if err := e.pollOnce(ctx); err != nil {
				metrics.ChainPollErrorTotal.WithLabelValues(e.currency).Inc()
				logger.Error(ctx, "本轮链观察失败",
					zap.String("currency", e.currency), zap.Error(err))
			}
		}
	}
}

// pollOnce 扫一遍所有在管地址
func (e *Engine) pollOnce(ctx context.Context) error {
	addrs, err := e.store.ListWatched(ctx, e.currency)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(observeConcurrency)
	for _, ua := range addrs {
		addr := ua.Address
		g.Go(func() error {
			observations, err := e.breaker.Execute(func() ([]domain.Observation, error) {
				return e.adapter.ObserveAddress(gctx, addr)
			})
			if err != nil {
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
					// 熔断中，这轮整体放弃，不算每个地址一次错误
					return nil
				}
				metrics.ChainPollErrorTotal.WithLabelValues(e.currency).Inc()
				logger.Warn(gctx, "地址观察失败",
					zap.String("currency", e.currency),
					zap.String("addr", addr), zap.Error(err))
				return nil // 单个地址失败不拖垮整轮
			}
			for _, obs := range observations {
				e.reconcileLocked(gctx, obs)
			}
			return nil
		})
	}
	return g.Wait()
}

// reconcileLocked 加分布式锁后对账
// 观察键只由链上事实决定，多节点生成的是同一个键，锁得住。
// 抢锁失败或对账失败都不丢：UTXO 键下一轮还会出现，
// 余额差分的水位没推进，下一轮重新做差还是同一段钱
func (e *Engine) reconcileLocked(ctx context.Context, obs domain.Observation) {
	key := xredis.DepositLockKey(e.currency, obs.ExternalRef)
	ok, err := e.lock.TryAcquire(ctx, key, refLockTTL)
	if err != nil {
		logger.Warn(ctx, "抢对账锁失败", zap.String("key", key), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := e.lock.Release(ctx, key); err != nil {
			logger.Warn(ctx, "释放对账锁失败", zap.String("key", key), zap.Error(err))
		}
	}()

	if err := e.deposits.Reconcile(ctx, e.currency, obs); err != nil {
		logger.Error(ctx, "对账失败",
			zap.String("currency", e.currency),
			zap.String("ref", obs.ExternalRef), zap.Error(err))
	}
}
