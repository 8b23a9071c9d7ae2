package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus uint8

// 充值状态机: pending → confirming → completed，或 pending → failed
const (
	DepositStatusPending    DepositStatus = iota // 首次发现，确认数不足
	DepositStatusConfirming                      // 确认中
	DepositStatusCompleted                       // 已入账
	DepositStatusFailed                          // 无法归属/非法数据
)

// Deposit 每笔检测到的入金一条记录
// ExternalRef (链上交易标识) 全局唯一，这是防止重复入账的硬约束
// 只由 ChainObserver 创建、DepositReconciler 更新，永不删除
type Deposit struct {
	ID                    int64
	UserID                int64           `gorm:"index"`
	Currency              string          `gorm:"size:20"`
	Amount                decimal.Decimal `gorm:"type:decimal(36,18)"`
	FromAddress           string          `gorm:"size:128"`
	Address               string          `gorm:"size:128;index"` // 收款的展示地址
	ExternalRef           string          `gorm:"uniqueIndex;size:128"`
	Confirmations         int64
	RequiredConfirmations int64
	Status                DepositStatus `gorm:"default:0;index"`
	ErrorMsg              string        `gorm:"size:255"`
	DetectedAt            time.Time
	CreditedAt            *time.Time // 至多设置一次
}

// DepositRepo 充值仓储
type DepositRepo interface {
	// InsertIgnore 按 ExternalRef 幂等插入，已存在返回 false
	InsertIgnore(ctx context.Context, d *Deposit) (bool, error)
	GetByRef(ctx context.Context, externalRef string) (*Deposit, error)
	UpdateConfirmations(ctx context.Context, id int64, confirmations int64, status DepositStatus) error
	// MarkCompleted 条件更新：只允许从非 completed 状态翻转，返回是否翻转成功
	MarkCompleted(ctx context.Context, id int64, creditedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, reason string) error
}
