package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xerr"
)

// SaveAddress 缓存派生结果，重复派生直接忽略 (地址本来就是确定性的)
func (r *Repo) SaveAddress(ctx context.Context, ua *domain.UserAddress) error {
	err := r.conn(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ua).Error
	if err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("save address failed: %v", err))
	}
	return nil
}

// GetUserIDByAddress 地址反查用户，查不到返回 0
func (r *Repo) GetUserIDByAddress(ctx context.Context, address string) (int64, error) {
	var ua domain.UserAddress
	err := r.conn(ctx).WithContext(ctx).
		Where("address = ?", address).
		First(&ua).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, xerr.New(xerr.DbError, fmt.Sprintf("query address failed: %v", err))
	}
	return ua.UserID, nil
}

func (r *Repo) GetAddress(ctx context.Context, uid int64, currency string) (*domain.UserAddress, error) {
	var ua domain.UserAddress
	err := r.conn(ctx).WithContext(ctx).
		Where("user_id = ? AND currency = ?", uid, currency).
		First(&ua).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query address failed: %v", err))
	}
	return &ua, nil
}

func (r *Repo) ListWatched(ctx context.Context, currency string) ([]domain.UserAddress, error) {
	var out []domain.UserAddress
	err := r.conn(ctx).WithContext(ctx).
		Where("currency = ?", currency).
		Find(&out).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("list watched addresses failed: %v", err))
	}
	return out, nil
}
