package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xerr"
)

// InsertIgnore 按 ExternalRef 唯一索引幂等插入
// 两个轮询周期同时发现同一笔交易，只有一个能插进去
func (r *Repo) InsertIgnore(ctx context.Context, d *domain.Deposit) (bool, error) {
	res := r.conn(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(d)
	if res.Error != nil {
		return false, xerr.New(xerr.DbError, fmt.Sprintf("insert deposit failed: %v", res.Error))
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) GetByRef(ctx context.Context, externalRef string) (*domain.Deposit, error) {
	var d domain.Deposit
	err := r.conn(ctx).WithContext(ctx).
		Where("external_ref = ?", externalRef).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query deposit failed: %v", err))
	}
	return &d, nil
}

func (r *Repo) UpdateConfirmations(ctx context.Context, id int64, confirmations int64, status domain.DepositStatus) error {
	err := r.conn(ctx).WithContext(ctx).Model(&domain.Deposit{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"confirmations": confirmations,
			"status":        status,
		}).Error
	if err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("update confirmations failed: %v", err))
	}
	return nil
}

// MarkCompleted 条件翻转到 completed，credited_at 至多写一次
// 返回 false 说明别的协程先翻过了
func (r *Repo) MarkCompleted(ctx context.Context, id int64, creditedAt time.Time) (bool, error) {
	res := r.conn(ctx).WithContext(ctx).Model(&domain.Deposit{}).
		Where("id = ? AND status <> ?", id, domain.DepositStatusCompleted).
		Updates(map[string]interface{}{
			"status":      domain.DepositStatusCompleted,
			"credited_at": creditedAt,
		})
	if res.Error != nil {
		return false, xerr.New(xerr.DbError, fmt.Sprintf("mark deposit completed failed: %v", res.Error))
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) MarkFailed(ctx context.Context, id int64, reason string) error {
	err := r.conn(ctx).WithContext(ctx).Model(&domain.Deposit{}).
		Where("id = ? AND status <> ?", id, domain.DepositStatusCompleted).
		Updates(map[string]interface{}{
			"status":    domain.DepositStatusFailed,
			"error_msg": reason,
		}).Error
	if err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("mark deposit failed: %v", err))
	}
	return nil
}
