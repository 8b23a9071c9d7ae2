package domain

// PoolAddress 平台资金池地址，每个币种一个
// 这是全平台唯一允许对外广播交易的地址
// KeySealed 是 AES-GCM 密文，解密 Key 不进数据库
type PoolAddress struct {
	Currency  string
	Address   string
	KeySealed string
}

// 通知事件，尽力而为投递，失败绝不回滚账本
type DepositCreditedEvent struct {
	UserID      int64  `json:"user_id"`
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
	ExternalRef string `json:"external_ref"`
}

type WithdrawSettledEvent struct {
	WithdrawID int64  `json:"withdraw_id"`
	UserID     int64  `json:"user_id"`
	Currency   string `json:"currency"`
	Amount     string `json:"amount"`
	Status     string `json:"status"`
	TxRef      string `json:"tx_ref,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
