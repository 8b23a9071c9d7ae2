package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceCursor 余额差分型链的每地址入账水位
// 记的是"已经合成过观察的余额"，落库持久化，重启不丢窗口。
// 只允许在对应充值记录落库的同一个事务里条件推进：
// 推进不了说明别的节点先处理了，这条观察整体作废，差额不丢也不重
type BalanceCursor struct {
	ID        int64
	Currency  string          `gorm:"uniqueIndex:idx_cursor_ccy_addr;size:20"`
	Address   string          `gorm:"uniqueIndex:idx_cursor_ccy_addr;size:128"`
	Balance   decimal.Decimal `gorm:"type:decimal(36,18)"`
	UpdatedAt time.Time
}

// BalanceCursorRepo 水位仓储
type BalanceCursorRepo interface {
	// GetCursor 读当前水位，没见过这个地址返回 seen=false
	GetCursor(ctx context.Context, currency, address string) (decimal.Decimal, bool, error)
	// InitCursor 首见落基线，幂等插入
	InitCursor(ctx context.Context, currency, address string, balance decimal.Decimal) error
	// AdvanceCursor 条件推进 from → to，水位已经不是 from 时返回 false
	AdvanceCursor(ctx context.Context, currency, address string, from, to decimal.Decimal) (bool, error)
}
