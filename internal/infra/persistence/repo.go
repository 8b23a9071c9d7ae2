package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
)

type txKey struct{}

// Repo 聚合仓储，一个实例实现全部领域接口
type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// 编译期确认接口都实现了
var (
	_ domain.LedgerRepo   = (*Repo)(nil)
	_ domain.DepositRepo  = (*Repo)(nil)
	_ domain.WithdrawRepo = (*Repo)(nil)
	_ domain.AddressRepo  = (*Repo)(nil)

	_ domain.BalanceCursorRepo = (*Repo)(nil)
)

// Transaction 开事务，把 tx 注入 context 让嵌套调用复用
// 已经在事务里时走 SAVEPOINT，保证 "状态翻转 + 入账" 这类配对写的原子性
func (r *Repo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.conn(ctx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn 取当前连接：事务里用 tx，否则用裸连接
func (r *Repo) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

// AutoMigrate 建表 (部署脚本和测试用)
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Balance{},
		&domain.LedgerEntry{},
		&domain.Hold{},
		&domain.Deposit{},
		&domain.Withdraw{},
		&domain.UserAddress{},
		&domain.BalanceCursor{},
	)
}
