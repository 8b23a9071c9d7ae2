package observer

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/core/service"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/metrics"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xredis"
)

const (
	sweepLockTTL = 5 * time.Minute
	// 失败重试的上限和首次退避，之后指数翻倍
	sweepMaxAttempts = 4
	sweepRetryBase   = 30 * time.Second
)

// Sweeper 归集任务
// 余额差分型链的展示地址收到钱后扫进资金池
// 归集不影响用户余额 (入账早就完成了)，失败了退避重排几次，
// 次数用完就放弃，下次入金还会再触发
type Sweeper struct {
	adapters  map[string]domain.ChainAdapter
	addresses *service.AddressService
	policies  map[string]domain.CurrencyPolicy
	lock      *xredis.RefLock
	requests  chan domain.SweepRequest
	limiter   *rate.Limiter // 限制广播频率，别把 nonce 排成长队
	retryBase time.Duration
}

func NewSweeper(adapters map[string]domain.ChainAdapter, addresses *service.AddressService,
	policies map[string]domain.CurrencyPolicy, lock *xredis.RefLock,
	requests chan domain.SweepRequest) *Sweeper {
	return &Sweeper{
		adapters:  adapters,
		addresses: addresses,
		policies:  policies,
		lock:      lock,
		requests:  requests,
		limiter:   rate.NewLimiter(rate.Every(5*time.Second), 1),
		retryBase: sweepRetryBase,
	}
}

// Start 阻塞消费归集队列，ctx 取消后退出
func (s *Sweeper) Start(ctx context.Context) {
	logger.Info(ctx, "🧹 归集任务启动")
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "归集任务退出")
			return
		case req := <-s.requests:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.sweepOne(ctx, req)
		}
	}
}

func (s *Sweeper) sweepOne(ctx context.Context, req domain.SweepRequest) {
	adapter, ok := s.adapters[req.Currency]
	if !ok {
		return
	}
	sweeper, ok := adapter.(domain.Sweeper)
	if !ok {
		// UTXO 链池子直接花 UTXO，不需要归集
		return
	}
	policy := s.policies[req.Currency]

	key := xredis.SweepLockKey(req.Currency, req.Address)
	got, err := s.lock.TryAcquire(ctx, key, sweepLockTTL)
	if err != nil || !got {
		return
	}
	defer func() {
		if err := s.lock.Release(ctx, key); err != nil {
			logger.Warn(ctx, "释放归集锁失败", zap.String("key", key), zap.Error(err))
		}
	}()

	privHex, err := s.addresses.DeriveSpendKey(req.UserID, req.Currency)
	if err != nil {
		logger.Error(ctx, "派生归集私钥失败",
			zap.Int64("uid", req.UserID), zap.String("currency", req.Currency), zap.Error(err))
		return
	}

	ref, amount, err := sweeper.SweepToPool(ctx, privHex, req.Address)
	if err != nil {
		metrics.SweepTotal.WithLabelValues(req.Currency, "failed").Inc()
		logger.Error(ctx, "归集失败",
			zap.String("currency", req.Currency),
			zap.String("addr", req.Address),
			zap.Int("attempt", req.Attempts+1), zap.Error(err))
		s.requeue(req)
		return
	}
	if ref == "" {
		// 余额太小或没 gas，适配器自己跳过了
		return
	}
	if !policy.SweepDust.IsZero() && amount.LessThan(policy.SweepDust) {
		// 到这说明适配器扫了粒小的，记一笔但不报警
		logger.Debug(ctx, "归集金额低于灰尘线",
			zap.String("currency", req.Currency), zap.String("amount", amount.String()))
	}

	metrics.SweepTotal.WithLabelValues(req.Currency, "success").Inc()
	logger.Info(ctx, "🧹 归集已广播",
		zap.String("currency", req.Currency),
		zap.String("from", req.Address),
		zap.String("amount", amount.String()),
		zap.String("ref", ref))
}

// requeue 失败后指数退避重排，次数用完就放弃
func (s *Sweeper) requeue(req domain.SweepRequest) {
	req.Attempts++
	if req.Attempts >= sweepMaxAttempts {
		logger.Warn(context.Background(), "归集重试次数用完，放弃",
			zap.String("currency", req.Currency),
			zap.String("addr", req.Address))
		return
	}
	delay := s.retryBase << (req.Attempts - 1)
	time.AfterFunc(delay, func() {
		select {
		case s.requests <- req:
		default:
			// 队列满就算了，下一笔入金还会触发
		}
	})
}
