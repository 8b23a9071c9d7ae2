package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xerr"
)

func (r *Repo) CreateWithdraw(ctx context.Context, w *domain.Withdraw) error {
	if err := r.conn(ctx).WithContext(ctx).Create(w).Error; err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("create withdraw failed: %v", err))
	}
	return nil
}

func (r *Repo) GetWithdraw(ctx context.Context, id int64) (*domain.Withdraw, error) {
	var w domain.Withdraw
	err := r.conn(ctx).WithContext(ctx).First(&w, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, xerr.NewErrCode(xerr.RecordNotFound)
	}
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query withdraw failed: %v", err))
	}
	return &w, nil
}

// TransitionWithdraw 条件状态翻转 (WHERE status = from)
// 两个管理员并发审核同一单，数据库保证只有一个 UPDATE 命中
func (r *Repo) TransitionWithdraw(ctx context.Context, id int64, from, to domain.WithdrawStatus, adminID int64, notes string) (bool, error) {
	updates := map[string]interface{}{
		"status": to,
	}
	if adminID != 0 {
		updates["admin_id"] = adminID
	}
	if notes != "" {
		updates["admin_notes"] = notes
	}
	res := r.conn(ctx).WithContext(ctx).Model(&domain.Withdraw{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, xerr.New(xerr.DbError, fmt.Sprintf("transition withdraw failed: %v", res.Error))
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) SetWithdrawTxRef(ctx context.Context, id int64, txRef string) error {
	err := r.conn(ctx).WithContext(ctx).Model(&domain.Withdraw{}).
		Where("id = ?", id).
		Update("tx_ref", txRef).Error
	if err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("set tx_ref failed: %v", err))
	}
	return nil
}

// FinishWithdraw 写终态
func (r *Repo) FinishWithdraw(ctx context.Context, id int64, status domain.WithdrawStatus, txRef, errMsg string) error {
	updates := map[string]interface{}{
		"status":    status,
		"error_msg": errMsg,
	}
	if txRef != "" {
		updates["tx_ref"] = txRef
	}
	if status == domain.WithdrawStatusCompleted {
		now := time.Now()
		updates["completed_at"] = &now
	}
	err := r.conn(ctx).WithContext(ctx).Model(&domain.Withdraw{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("finish withdraw failed: %v", err))
	}
	return nil
}

// ListInFlight 已审核、已有广播 hash、但还没落账的单子
// 这是崩溃恢复的输入：发出去的钱必须先对完账才能继续放提现
func (r *Repo) ListInFlight(ctx context.Context, currency string, limit int) ([]domain.Withdraw, error) {
	var out []domain.Withdraw
	err := r.conn(ctx).WithContext(ctx).
		Where("currency = ? AND status = ? AND tx_ref <> ''",
			currency, domain.WithdrawStatusApproved).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("list in-flight withdraws failed: %v", err))
	}
	return out, nil
}

func (r *Repo) ListWithdrawsByStatus(ctx context.Context, currency string, status domain.WithdrawStatus, limit int) ([]domain.Withdraw, error) {
	var out []domain.Withdraw
	err := r.conn(ctx).WithContext(ctx).
		Where("currency = ? AND status = ?", currency, status).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("list withdraws failed: %v", err))
	}
	return out, nil
}
