package domain

import (
	"context"
	"time"
)

// UserAddress 用户展示地址
// 派生下标由用户ID哈希算出，可以随时重算；这里只缓存派生结果方便反查
type UserAddress struct {
	ID        int64
	UserID    int64  `gorm:"uniqueIndex:idx_uid_currency"`
	Currency  string `gorm:"uniqueIndex:idx_uid_currency;size:20"`
	Address   string `gorm:"uniqueIndex;size:128"`
	DerivationPath string `gorm:"size:64"`
	CreatedAt time.Time
}

// AddressRepo 地址仓储
type AddressRepo interface {
	SaveAddress(ctx context.Context, ua *UserAddress) error
	GetUserIDByAddress(ctx context.Context, address string) (int64, error)
	GetAddress(ctx context.Context, uid int64, currency string) (*UserAddress, error)
	// ListWatched 某币种所有需要盯的展示地址
	ListWatched(ctx context.Context, currency string) ([]UserAddress, error)
}
