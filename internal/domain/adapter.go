package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

type ChainFamily uint8

// 两类链适配策略
const (
	// FamilyUTXO 交易索引型链：能按地址列交易，确认数直接取链上数据
	FamilyUTXO ChainFamily = iota
	// FamilyAccount 余额差分型链 (账户模型 + 其上的代币账本)：
	// 轮询地址当前余额，正向差额合成一条观察，见到即视为终局
	FamilyAccount
)

// Observation 一次轮询产出的入金观察
type Observation struct {
	Address       string
	Amount        decimal.Decimal
	ExternalRef   string // 链上交易标识，入账幂等键
	Confirmations int64
	// Cursor 余额差分型链专用：这条观察覆盖的水位区间，
	// 入账时在同一个事务里条件推进。UTXO 链恒为 nil
	Cursor *CursorAdvance
}

// CursorAdvance 观察覆盖的余额水位推进 From → To
type CursorAdvance struct {
	From decimal.Decimal
	To   decimal.Decimal
}

// ChainAdapter 链适配器，每个币种家族一个实现，由静态表选择
// 任何方法失败都只代表这一个周期失败，下个周期重试，绝不合成观察
type ChainAdapter interface {
	Family() ChainFamily
	// ObserveAddress 对单个受监控地址做一次检查
	ObserveAddress(ctx context.Context, address string) ([]Observation, error)
	// PoolBalance 资金池地址的链上余额
	PoolBalance(ctx context.Context, address string) (decimal.Decimal, error)
	// EstimateFee 一笔对外转账的估算费用 (以币种主单位计)
	EstimateFee(ctx context.Context) (decimal.Decimal, error)
	ValidateAddress(address string) error
	// SendFromPool 从资金池地址对外转账，返回链上交易标识
	SendFromPool(ctx context.Context, to string, amount decimal.Decimal) (string, error)
	// TxConfirmed 链上交易是否已确认 (崩溃恢复和提现确认用)
	TxConfirmed(ctx context.Context, txRef string) (bool, error)
}

// Sweeper 余额差分型链的展示地址归集能力
// 归集失败只影响资金物理位置，不影响入账
type Sweeper interface {
	// SweepToPool 用派生私钥把展示地址上的余额扫进资金池
	// 返回 (交易标识, 实际归集金额)；残值扣掉手续费不剩什么时返回空标识
	SweepToPool(ctx context.Context, privHex, fromAddress string) (string, decimal.Decimal, error)
}

// SweepRequest 归集请求：把展示地址上的钱扫进资金池
// 入账成功后排队，归集挂了不影响已入的账
type SweepRequest struct {
	Currency string
	Address  string
	UserID   int64
	Attempts int // 已失败次数，重排时递增
}

// CurrencyPolicy 币种策略 (静态配置表)
type CurrencyPolicy struct {
	Currency       string
	Chain          string
	Family         ChainFamily
	CoinType       uint32 // BIP44
	RequiredConfirmations int64
	WithdrawFee    decimal.Decimal // 简单费率模型
	SweepDust      decimal.Decimal // 残值低于这个数就不值得归集
}
