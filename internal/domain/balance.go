package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Balance 账本余额，每个 (用户, 币种) 一行
// Total 是总额，Available 是可用额 (总额减去被提现冻结的部分)
// 不变量: 0 <= Available <= Total
type Balance struct {
	ID        int64
	UserID    int64           `gorm:"uniqueIndex:idx_user_currency"`
	Currency  string          `gorm:"uniqueIndex:idx_user_currency;size:20"`
	Total     decimal.Decimal `gorm:"type:decimal(36,18);default:0;column:total"`
	Available decimal.Decimal `gorm:"type:decimal(36,18);default:0"`
	Version   int64           `gorm:"default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EntryType string

// 流水类型
const (
	EntryDeposit           EntryType = "deposit"
	EntryWithdrawRequest   EntryType = "withdrawal_request"
	EntryWithdrawCompleted EntryType = "withdrawal_completed"
	EntryWithdrawRejected  EntryType = "withdrawal_rejected"
	EntryWithdrawFailed    EntryType = "withdrawal_failed"
)

// LedgerEntry 只追加的账本流水，审计和幂等检查都靠它
// (Type, ExternalRef) 唯一：同一笔链上交易永远只入账一次
// 任何情况下不允许 UPDATE/DELETE 这张表
type LedgerEntry struct {
	ID          int64
	UserID      int64           `gorm:"index"`
	Type        EntryType       `gorm:"uniqueIndex:idx_type_ref;size:32"`
	Currency    string          `gorm:"size:20"`
	Amount      decimal.Decimal `gorm:"type:decimal(36,18)"`
	ExternalRef string          `gorm:"uniqueIndex:idx_type_ref;size:128"`
	Metadata    string          `gorm:"size:255"`
	CreatedAt   time.Time
}

type HoldStatus uint8

// 冻结单状态
const (
	HoldStatusActive    HoldStatus = iota // 冻结中
	HoldStatusCommitted                   // 已落账 (提现完成，总额已扣)
	HoldStatusReleased                    // 已解冻 (驳回/失败退回)
)

// Hold 提现冻结单：占住 Available，不动 Total，直到 commit 或 release
type Hold struct {
	ID          int64
	UserID      int64  `gorm:"index"`
	Currency    string `gorm:"size:20"`
	Amount      decimal.Decimal `gorm:"type:decimal(36,18)"`
	Status      HoldStatus      `gorm:"default:0"`
	ExternalRef string          `gorm:"size:128"` // commit 时填链上交易 hash
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LedgerRepo 账本仓储
// 所有余额变更都走 Transaction + 行锁，这是全平台资金正确性的唯一串行点
type LedgerRepo interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error

	// GetBalanceForUpdate 行锁读余额 (SELECT ... FOR UPDATE)，不存在则创建零余额行
	GetBalanceForUpdate(ctx context.Context, uid int64, currency string) (*Balance, error)
	GetBalance(ctx context.Context, uid int64, currency string) (*Balance, error)
	// ApplyBalanceDelta 在持有行锁的事务内更新余额
	ApplyBalanceDelta(ctx context.Context, uid int64, currency string, totalDelta, availableDelta decimal.Decimal) error

	// AggregateTotal 某币种全体用户总额之和 (对账任务拿它和池子链上余额互核)
	AggregateTotal(ctx context.Context, currency string) (decimal.Decimal, error)

	CreateEntry(ctx context.Context, e *LedgerEntry) error
	GetEntryByRef(ctx context.Context, typ EntryType, ref string) (*LedgerEntry, error)
	SumEntries(ctx context.Context, uid int64, currency string) (decimal.Decimal, error)

	CreateHold(ctx context.Context, h *Hold) error
	GetHoldForUpdate(ctx context.Context, id int64) (*Hold, error)
	FinishHold(ctx context.Context, id int64, from, to HoldStatus, externalRef string) (bool, error)
}
