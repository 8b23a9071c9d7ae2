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

// PoolService 资金池托管
// 全平台对外转账只从这里出；发之前核对的是链上真实余额，不是账本汇总
// 这两个数字的核对交给对账任务，发币时信链上
type PoolService struct {
	adapters map[string]domain.ChainAdapter
	pools    map[string]domain.PoolAddress
}

func NewPoolService(adapters map[string]domain.ChainAdapter, pools map[string]domain.PoolAddress) *PoolService {
	return &PoolService{
		adapters: adapters,
		pools:    pools,
	}
}

// Adapter 静态表选适配器，不做运行时字符串分支
func (s *PoolService) Adapter(currency string) (domain.ChainAdapter, error) {
	a, ok := s.adapters[currency]
	if !ok {
		return nil, xerr.New(xerr.RequestParamsError, "unsupported currency: "+currency)
	}
	return a, nil
}

func (s *PoolService) PoolAddress(currency string) (domain.PoolAddress, error) {
	p, ok := s.pools[currency]
	if !ok {
		return domain.PoolAddress{}, xerr.New(xerr.RequestParamsError, "no pool address for "+currency)
	}
	return p, nil
}

// ValidateAddress 校验目标地址格式
func (s *PoolService) ValidateAddress(currency, address string) error {
	a, err := s.Adapter(currency)
	if err != nil {
		return err
	}
	if err := a.ValidateAddress(address); err != nil {
		return xerr.New(xerr.InvalidAddress, fmt.Sprintf("bad %s address: %v", currency, err))
	}
	return nil
}

// SendFromPool 从资金池对外转账
// 链上余额 < 金额 + 估算费用 → 拒绝，这是不让池子发超的硬边界
func (s *PoolService) SendFromPool(ctx context.Context, currency, to string, amount decimal.Decimal) (string, error) {
	a, err := s.Adapter(currency)
	if err != nil {
		return "", err
	}
	pool, err := s.PoolAddress(currency)
	if err != nil {
		return "", err
	}
	if err := s.ValidateAddress(currency, to); err != nil {
		return "", err
	}

	bal, err := a.PoolBalance(ctx, pool.Address)
	if err != nil {
		return "", xerr.New(xerr.ChainUnavailable, fmt.Sprintf("query pool balance: %v", err))
	}
	fee, err := a.EstimateFee(ctx)
	if err != nil {
		return "", xerr.New(xerr.ChainUnavailable, fmt.Sprintf("estimate fee: %v", err))
	}
	if bal.LessThan(amount.Add(fee)) {
		logger.Warn(ctx, "资金池余额不足，拒绝广播",
			zap.String("currency", currency),
			zap.String("pool_balance", bal.String()),
			zap.String("need", amount.Add(fee).String()))
		return "", xerr.New(xerr.InsufficientPoolBalance, "资金池余额不足")
	}

	txRef, err := a.SendFromPool(ctx, to, amount)
	if err != nil {
		return "", fmt.Errorf("%w: %v", xerr.New(xerr.BroadcastFailed, "广播失败"), err)
	}
	logger.Info(ctx, "📤 资金池已广播",
		zap.String("currency", currency),
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.String("ref", txRef))
	return txRef, nil
}

// PoolBalance 池子链上余额 (对账任务用)
func (s *PoolService) PoolBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	a, err := s.Adapter(currency)
	if err != nil {
		return decimal.Zero, err
	}
	pool, err := s.PoolAddress(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return a.PoolBalance(ctx, pool.Address)
}

// TxConfirmed 广播引用是否已在链上确认 (崩溃恢复用)
func (s *PoolService) TxConfirmed(ctx context.Context, currency, txRef string) (bool, error) {
	a, err := s.Adapter(currency)
	if err != nil {
		return false, err
	}
	return a.TxConfirmed(ctx, txRef)
}
