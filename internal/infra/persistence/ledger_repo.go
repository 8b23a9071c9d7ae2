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

// forUpdate 行锁
// sqlite 没有 FOR UPDATE 语法 (单写者，整库就是锁)，测试库直接跳过
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// GetBalanceForUpdate 行锁读余额，零余额行不存在则先补一行
// 必须在 Transaction 里调用，锁才有意义
func (r *Repo) GetBalanceForUpdate(ctx context.Context, uid int64, currency string) (*domain.Balance, error) {
	db := r.conn(ctx)

	var b domain.Balance
	err := forUpdate(db.WithContext(ctx)).
		Where("user_id = ? AND currency = ?", uid, currency).
		First(&b).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		// 首次见到这个 (用户, 币种)：插入零余额行再回头拿锁
		// OnConflict DoNothing 兜住并发的首次插入
		zero := domain.Balance{
			UserID:    uid,
			Currency:  currency,
			Total:     decimal.Zero,
			Available: decimal.Zero,
		}
		if err := db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&zero).Error; err != nil {
			return nil, xerr.New(xerr.DbError, fmt.Sprintf("init balance row failed: %v", err))
		}
		err = forUpdate(db.WithContext(ctx)).
			Where("user_id = ? AND currency = ?", uid, currency).
			First(&b).Error
	}
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("lock balance failed: %v", err))
	}
	return &b, nil
}

func (r *Repo) GetBalance(ctx context.Context, uid int64, currency string) (*domain.Balance, error) {
	var b domain.Balance
	err := r.conn(ctx).WithContext(ctx).
		Where("user_id = ? AND currency = ?", uid, currency).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// 没充过钱就是零余额
		return &domain.Balance{UserID: uid, Currency: currency,
			Total: decimal.Zero, Available: decimal.Zero}, nil
	}
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query balance failed: %v", err))
	}
	return &b, nil
}

// ApplyBalanceDelta 更新余额
// WHERE 里的守卫是最后防线：扣负了、可用超总额了，一律拒绝
func (r *Repo) ApplyBalanceDelta(ctx context.Context, uid int64, currency string, totalDelta, availableDelta decimal.Decimal) error {
	res := r.conn(ctx).WithContext(ctx).Model(&domain.Balance{}).
		Where("user_id = ? AND currency = ?", uid, currency).
		Where("total + ? >= 0", totalDelta).
		Where("available + ? >= 0", availableDelta).
		Where("available + ? <= total + ?", availableDelta, totalDelta).
		Updates(map[string]interface{}{
			"total":     gorm.Expr("total + ?", totalDelta),
			"available": gorm.Expr("available + ?", availableDelta),
			"version":   gorm.Expr("version + 1"),
		})

	if res.Error != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("apply balance delta failed: %v", res.Error))
	}
	if res.RowsAffected == 0 {
		return xerr.New(xerr.InsufficientFunds, "余额守卫拒绝了本次变更")
	}
	return nil
}

// AggregateTotal 某币种全体用户总额之和
func (r *Repo) AggregateTotal(ctx context.Context, currency string) (decimal.Decimal, error) {
	var out struct {
		Sum decimal.Decimal
	}
	err := r.conn(ctx).WithContext(ctx).Model(&domain.Balance{}).
		Select("COALESCE(SUM(total), 0) AS sum").
		Where("currency = ?", currency).
		Scan(&out).Error
	if err != nil {
		return decimal.Zero, xerr.New(xerr.DbError, fmt.Sprintf("aggregate total failed: %v", err))
	}
	return out.Sum, nil
}

// CreateEntry 追加流水，(type, external_ref) 唯一索引兜底防重
func (r *Repo) CreateEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if err := r.conn(ctx).WithContext(ctx).Create(e).Error; err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("append ledger entry failed: %v", err))
	}
	return nil
}

// GetEntryByRef 按幂等键查流水，没有返回 (nil, nil)
func (r *Repo) GetEntryByRef(ctx context.Context, typ domain.EntryType, ref string) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := r.conn(ctx).WithContext(ctx).
		Where("type = ? AND external_ref = ?", typ, ref).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query entry failed: %v", err))
	}
	return &e, nil
}

// SumEntries 流水净额：入金为正，落账提现为负
// 对账任务拿它和 Balance 行互核
func (r *Repo) SumEntries(ctx context.Context, uid int64, currency string) (decimal.Decimal, error) {
	var out struct {
		Net decimal.Decimal
	}
	err := r.conn(ctx).WithContext(ctx).Model(&domain.LedgerEntry{}).
		Select(`COALESCE(SUM(CASE
			WHEN type = ? THEN amount
			WHEN type = ? THEN -amount
			ELSE 0 END), 0) AS net`,
			domain.EntryDeposit, domain.EntryWithdrawCompleted).
		Where("user_id = ? AND currency = ?", uid, currency).
		Scan(&out).Error
	if err != nil {
		return decimal.Zero, xerr.New(xerr.DbError, fmt.Sprintf("sum entries failed: %v", err))
	}
	return out.Net, nil
}

func (r *Repo) CreateHold(ctx context.Context, h *domain.Hold) error {
	if err := r.conn(ctx).WithContext(ctx).Create(h).Error; err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("create hold failed: %v", err))
	}
	return nil
}

func (r *Repo) GetHoldForUpdate(ctx context.Context, id int64) (*domain.Hold, error) {
	var h domain.Hold
	err := forUpdate(r.conn(ctx).WithContext(ctx)).
		First(&h, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, xerr.NewErrCode(xerr.RecordNotFound)
	}
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("lock hold failed: %v", err))
	}
	return &h, nil
}

// FinishHold 条件翻转冻结单状态，翻过的单子翻不了第二次
func (r *Repo) FinishHold(ctx context.Context, id int64, from, to domain.HoldStatus, externalRef string) (bool, error) {
	res := r.conn(ctx).WithContext(ctx).Model(&domain.Hold{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":       to,
			"external_ref": externalRef,
		})
	if res.Error != nil {
		return false, xerr.New(xerr.DbError, fmt.Sprintf("finish hold failed: %v", res.Error))
	}
	return res.RowsAffected > 0, nil
}
