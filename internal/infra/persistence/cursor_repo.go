package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xerr"
)

func (r *Repo) GetCursor(ctx context.Context, currency, address string) (decimal.Decimal, bool, error) {
	var c domain.BalanceCursor
	err := r.conn(ctx).WithContext(ctx).
		Where("currency = ? AND address = ?", currency, address).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, xerr.New(xerr.DbError, fmt.Sprintf("query balance cursor failed: %v", err))
	}
	return c.Balance, true, nil
}

// InitCursor 首见落基线，并发首见只有一个能插进去，都无害
func (r *Repo) InitCursor(ctx context.Context, currency, address string, balance decimal.Decimal) error {
	err := r.conn(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.BalanceCursor{
			Currency: currency,
			Address:  address,
			Balance:  balance,
		}).Error
	if err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("init balance cursor failed: %v", err))
	}
	return nil
}

// AdvanceCursor 条件推进，WHERE 带上旧水位
// 返回 false 说明水位已经被别的节点推过，调用方必须整体回滚这条观察
func (r *Repo) AdvanceCursor(ctx context.Context, currency, address string, from, to decimal.Decimal) (bool, error) {
	res := r.conn(ctx).WithContext(ctx).Model(&domain.BalanceCursor{}).
		Where("currency = ? AND address = ? AND balance = ?", currency, address, from).
		Update("balance", to)
	if res.Error != nil {
		return false, xerr.New(xerr.DbError, fmt.Sprintf("advance balance cursor failed: %v", res.Error))
	}
	return res.RowsAffected > 0, nil
}
