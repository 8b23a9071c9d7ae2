package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/hdwallet"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xerr"
)

// AddressService 展示地址服务
// 地址永远可以从种子重算，表里只是缓存派生结果方便按地址反查用户
type AddressService struct {
	repo     domain.AddressRepo
	wallet   *hdwallet.HDWallet
	policies map[string]domain.CurrencyPolicy
}

func NewAddressService(repo domain.AddressRepo, wallet *hdwallet.HDWallet,
	policies map[string]domain.CurrencyPolicy) *AddressService {
	return &AddressService{
		repo:     repo,
		wallet:   wallet,
		policies: policies,
	}
}

// GetDepositAddress 取用户充值地址，第一次调用时派生并缓存
// 同一个 (用户, 币种) 在种子生命周期内永远得到同一个地址
func (s *AddressService) GetDepositAddress(ctx context.Context, uid int64, currency string) (string, error) {
	policy, ok := s.policies[currency]
	if !ok {
		return "", xerr.New(xerr.RequestParamsError, "unsupported currency: "+currency)
	}

	cached, err := s.repo.GetAddress(ctx, uid, currency)
	if err != nil {
		return "", err
	}
	if cached != nil {
		return cached.Address, nil
	}

	addr, path, _, err := s.wallet.DeriveForUser(policy.CoinType, uid)
	if err != nil {
		return "", err
	}
	if err := s.repo.SaveAddress(ctx, &domain.UserAddress{
		UserID:         uid,
		Currency:       currency,
		Address:        addr,
		DerivationPath: path,
	}); err != nil {
		return "", err
	}

	logger.Info(ctx, "✅ 派生展示地址",
		zap.Int64("uid", uid),
		zap.String("currency", currency),
		zap.String("path", path))
	return addr, nil
}

// DeriveSpendKey 派生展示地址的私钥Hex，只给归集任务用
// 不参与任何对外接口，也不落库
func (s *AddressService) DeriveSpendKey(uid int64, currency string) (string, error) {
	policy, ok := s.policies[currency]
	if !ok {
		return "", xerr.New(xerr.RequestParamsError, "unsupported currency: "+currency)
	}
	_, _, privHex, err := s.wallet.DeriveForUser(policy.CoinType, uid)
	if err != nil {
		return "", err
	}
	return privHex, nil
}
