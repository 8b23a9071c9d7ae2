package main

import (
	"context"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	appcfg "github.com/techninja0210-maker/UOB-track-home-backend-sub000/config"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/api"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/api/handler"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/app/observer"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/core/notify"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/core/service"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/infra/bitcoin"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/infra/ethereum"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/infra/persistence"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/config"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/hdwallet"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/metrics"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/orm"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/safe"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/xredis"
)

func main() {
	// 1. 加载配置
	var c appcfg.Config
	if _, err := config.LoadAndWatch("custody", &c); err != nil {
		log.Fatalf("load config: %v", err)
	}

	// 2. 初始化基础设施
	logger.Init(c.Name, "info")
	defer logger.Sync()
	metrics.MustRegister()

	db := orm.NewMySQL(&orm.Config{
		DSN:         c.Mysql.DataSource,
		MaxIdle:     c.Mysql.MaxIdle,
		MaxOpen:     c.Mysql.MaxOpen,
		MaxLifetime: c.Mysql.MaxLifetime,
	})
	if err := persistence.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rdb := xredis.NewRedis(&xredis.Config{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info(ctx, "✅ Infrastructure initialized")

	// 3. 解封种子，实例化钱包
	// 任何一步失败都直接退出：宁可不开服务，也不能用错误的派生链收钱
	btcParams := btcNetwork(c.Bitcoin.Network)
	sealKey, err := hex.DecodeString(c.Seed.KeyHex)
	if err != nil {
		log.Fatalf("seed key hex: %v", err)
	}
	mnemonic, err := hdwallet.OpenSeed(c.Seed.SealedHex, sealKey)
	if err != nil {
		log.Fatalf("open seed: %v", err)
	}
	wallet, err := hdwallet.New(mnemonic, btcParams)
	if err != nil {
		log.Fatalf("hdwallet: %v", err)
	}

	// 4. 币种策略 + 链适配器 (静态表，不做运行时分支)
	repo := persistence.New(db)
	policies := buildPolicies(&c)
	adapters := map[string]domain.ChainAdapter{}
	pools := map[string]domain.PoolAddress{}

	for symbol, p := range policies {
		switch p.Chain {
		case "BTC":
			a, err := bitcoin.New(c.Bitcoin.Host, c.Bitcoin.User, c.Bitcoin.Pass, btcParams)
			if err != nil {
				log.Fatalf("btc adapter: %v", err)
			}
			adapters[symbol] = a
			pools[symbol] = domain.PoolAddress{Currency: symbol, Address: c.Bitcoin.Pool}
		case "ETH":
			cfg := ethereum.Config{
				Currency:      symbol,
				NodeURL:       c.Ethereum.Url,
				PoolPrivHex:   c.Ethereum.PoolPrivHex,
				PoolAddress:   c.Ethereum.Pool,
				Confirmations: p.RequiredConfirmations,
			}
			if symbol == c.Ethereum.TokenSymbol {
				cfg.TokenAddress = c.Ethereum.TokenAddress
				cfg.TokenDecimals = c.Ethereum.TokenDecimals
			}
			a, err := ethereum.New(cfg, repo)
			if err != nil {
				log.Fatalf("eth adapter (%s): %v", symbol, err)
			}
			adapters[symbol] = a
			pools[symbol] = domain.PoolAddress{Currency: symbol, Address: c.Ethereum.Pool}
		default:
			log.Fatalf("unknown chain %q for currency %s", p.Chain, symbol)
		}
	}

	// 5. 组装服务 (依赖注入)
	lock := xredis.NewRefLock(rdb)

	var notifier notify.Notifier = notify.Nop{}
	if c.Nats.Url != "" {
		n, err := notify.NewNats(c.Nats.Url)
		if err != nil {
			// 通知是尽力而为的，连不上降级成 Nop，不拦着启动
			logger.Warn(ctx, "NATS 连接失败，通知降级为空实现", zap.Error(err))
		} else {
			notifier = n
		}
	}

	sweepC := make(chan domain.SweepRequest, 256)
	ledgerSvc := service.NewLedgerService(repo)
	depositSvc := service.NewDepositService(repo, ledgerSvc, notifier, policies, sweepC)
	addressSvc := service.NewAddressService(repo, wallet, policies)
	poolSvc := service.NewPoolService(adapters, pools)
	withdrawSvc := service.NewWithdrawService(repo, ledgerSvc, poolSvc, notifier, policies,
		time.Duration(c.Scan.SendTimeoutSec)*time.Second)
	reconcileSvc := service.NewReconcileService(repo, poolSvc, withdrawSvc, policies,
		time.Duration(c.Scan.ReconcileIntervalSec)*time.Second)

	// 6. 后台任务
	interval := time.Duration(c.Scan.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	for symbol, adapter := range adapters {
		engine := observer.NewEngine(symbol, adapter, depositSvc, repo, lock, interval)
		safe.Go(func() { engine.Start(ctx) })
	}
	sweeper := observer.NewSweeper(adapters, addressSvc, policies, lock, sweepC)
	safe.Go(func() { sweeper.Start(ctx) })
	safe.Go(func() { reconcileSvc.Start(ctx) })

	// 7. HTTP
	h := &handler.Custody{
		Addresses: addressSvc,
		Ledger:    ledgerSvc,
		Withdraws: withdrawSvc,
	}
	srv := api.NewRouter(ctx, c.Api.Addr, h)
	safe.Go(func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	})
	logger.Info(ctx, "🚀 custody service started", zap.String("addr", c.Api.Addr))

	// 8. 优雅退出
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info(ctx, "Shutdown signal received...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http shutdown", zap.Error(err))
	}
	// 给后台任务一点时间收尾
	time.Sleep(1 * time.Second)
}

func btcNetwork(name string) *chaincfg.Params {
	switch name {
	case "mainnet":
		return &chaincfg.MainNetParams
	case "testnet":
		return &chaincfg.TestNet3Params
	default:
		return &chaincfg.RegressionNetParams
	}
}

func buildPolicies(c *appcfg.Config) map[string]domain.CurrencyPolicy {
	policies := make(map[string]domain.CurrencyPolicy, len(c.Currencies))
	for _, cc := range c.Currencies {
		fee, err := decimal.NewFromString(cc.WithdrawFee)
		if err != nil {
			log.Fatalf("withdraw fee for %s: %v", cc.Symbol, err)
		}
		dust := decimal.Zero
		if cc.SweepDust != "" {
			if dust, err = decimal.NewFromString(cc.SweepDust); err != nil {
				log.Fatalf("sweep dust for %s: %v", cc.Symbol, err)
			}
		}
		family := domain.FamilyUTXO
		coinType := hdwallet.CoinTypeBTC
		if cc.Chain == "ETH" {
			family = domain.FamilyAccount
			coinType = hdwallet.CoinTypeETH
		}
		policies[cc.Symbol] = domain.CurrencyPolicy{
			Currency:              cc.Symbol,
			Chain:                 cc.Chain,
			Family:                family,
			CoinType:              coinType,
			RequiredConfirmations: cc.Confirmations,
			WithdrawFee:           fee,
			SweepDust:             dust,
		}
	}
	return policies
}
