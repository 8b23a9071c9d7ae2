package config

// Config 对应 config/custody.yaml 的内容
type Config struct {
	Name string
	Api  struct {
		Addr string // HTTP 监听地址，例如 ":8080"
	}

	// MySQL 配置
	Mysql struct {
		DataSource  string // DSN: "user:pass@tcp(ip:port)/db..."
		MaxIdle     int
		MaxOpen     int
		MaxLifetime int // 秒
	}

	// Redis 配置
	Redis struct {
		Addr     string // "ip:port"
		Password string
		DB       int
	}

	Nats struct {
		Url string // 空 = 不发通知
	}

	// 种子封存件。KeyHex 不要写进文件，用环境变量 CUSTODY_SEED_KEYHEX 注入
	Seed struct {
		SealedHex string
		KeyHex    string
	}

	Bitcoin struct {
		Host    string
		User    string
		Pass    string
		Network string // mainnet | testnet | regtest
		Pool    string // 资金池地址
	}

	Ethereum struct {
		Url         string
		PoolPrivHex string // 池子私钥，用环境变量注入
		Pool        string
		// ERC20 支持：配了就多挂一个代币币种
		TokenSymbol   string
		TokenAddress  string
		TokenDecimals int32
	}

	// 币种策略
	Currencies []CurrencyConf

	Scan struct {
		IntervalSec          int // 链观察轮询间隔
		ReconcileIntervalSec int // 对账任务间隔
		SendTimeoutSec       int // 提现广播超时
	}
}

type CurrencyConf struct {
	Symbol        string
	Chain         string // BTC | ETH
	Confirmations int64
	WithdrawFee   string // decimal 串
	SweepDust     string
}
