package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawStatus uint8

// 提现状态机: pending → approved | rejected; approved → completed | failed
// 审核/驳回只允许从 pending 出发，其余一律拒绝 (防止同一笔冻结被花两次)
const (
	WithdrawStatusPending   WithdrawStatus = iota // 0: 待审核
	WithdrawStatusApproved                        // 1: 审核通过 (广播中/待确认)
	WithdrawStatusRejected                        // 2: 已驳回
	WithdrawStatusCompleted                       // 3: 已完成 (冻结已落账)
	WithdrawStatusFailed                          // 4: 广播失败 (冻结已退回)
)

// Withdraw 提现请求
type Withdraw struct {
	ID         int64
	UserID     int64           `gorm:"index"`
	Currency   string          `gorm:"size:20"`
	Amount     decimal.Decimal `gorm:"type:decimal(36,18)"`
	Fee        decimal.Decimal `gorm:"type:decimal(36,18)"`
	ToAddress  string          `gorm:"size:128"`
	Status     WithdrawStatus  `gorm:"default:0;index"`
	HoldID     int64           `gorm:"index"` // 对应的账本冻结单
	AdminID    int64
	AdminNotes string `gorm:"size:255"`
	TxRef      string `gorm:"size:128;index"` // 链上交易 hash
	ErrorMsg   string `gorm:"size:255"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	CompletedAt *time.Time
}

// WithdrawRepo 提现仓储
type WithdrawRepo interface {
	CreateWithdraw(ctx context.Context, w *Withdraw) error
	GetWithdraw(ctx context.Context, id int64) (*Withdraw, error)
	// TransitionWithdraw 条件状态翻转，WHERE status = from
	// 返回 false 表示状态早已不是 from，调用方必须当作非法流转处理
	TransitionWithdraw(ctx context.Context, id int64, from, to WithdrawStatus, adminID int64, notes string) (bool, error)
	SetWithdrawTxRef(ctx context.Context, id int64, txRef string) error
	FinishWithdraw(ctx context.Context, id int64, status WithdrawStatus, txRef, errMsg string) error
	// ListInFlight 找出已广播但没落账的单子 (崩溃恢复用)
	ListInFlight(ctx context.Context, currency string, limit int) ([]Withdraw, error)
	ListWithdrawsByStatus(ctx context.Context, currency string, status WithdrawStatus, limit int) ([]Withdraw, error)
}
