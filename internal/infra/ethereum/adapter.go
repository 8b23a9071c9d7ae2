package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/logger"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"payable":false,"stateMutability":"nonpayable","type":"function"}
]`

// 转账 gas 上限
const (
	gasLimitNative = 21000
	gasLimitToken  = 65000
)

// Config 一个币种一个适配器实例
type Config struct {
	Currency      string // 币种符号，水位表的分区键
	NodeURL       string
	PoolPrivHex   string // 池子私钥 (启动时解封注入，不落库)
	PoolAddress   string
	TokenAddress  string // 空 = 原生 ETH；非空 = ERC20 合约地址
	TokenDecimals int32  // ERC20 精度 (原生 ETH 固定 18)
	Confirmations int64  // 见到即终局的上报确认数 / 提现确认深度
}

// Adapter 余额差分型适配器 (ETH 及其上的 ERC20 代币账本)
// 这类链在本设计里没有独立的未确认交易列表，轮询地址当前余额，
// 对库里水位的正向差额合成一条观察，见到即视为终局。
// 水位落库，入账成功才推进：本轮处理失败，下一轮还是同一段差额
type Adapter struct {
	client    *ethclient.Client
	cfg       Config
	chainID   *big.Int
	parsedABI abi.ABI
	poolKey   *ecdsa.PrivateKey
	poolAddr  common.Address
	cursors   domain.BalanceCursorRepo
}

var (
	_ domain.ChainAdapter = (*Adapter)(nil)
	_ domain.Sweeper      = (*Adapter)(nil)
)

func New(cfg Config, cursors domain.BalanceCursorRepo) (*Adapter, error) {
	client, err := ethclient.Dial(cfg.NodeURL)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		client:    client,
		cfg:       cfg,
		chainID:   chainID,
		parsedABI: parsed,
		cursors:   cursors,
	}
	if cfg.PoolPrivHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PoolPrivHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse pool key: %w", err)
		}
		a.poolKey = key
		a.poolAddr = crypto.PubkeyToAddress(key.PublicKey)
	} else if cfg.PoolAddress != "" {
		a.poolAddr = common.HexToAddress(cfg.PoolAddress)
	}
	return a, nil
}

func (a *Adapter) Family() domain.ChainFamily {
	return domain.FamilyAccount
}

func (a *Adapter) isToken() bool {
	return a.cfg.TokenAddress != ""
}

func (a *Adapter) decimals() int32 {
	if a.isToken() {
		return a.cfg.TokenDecimals
	}
	return 18
}

// balanceWei 地址当前余额 (原生或代币，wei 级整数)
func (a *Adapter) balanceWei(ctx context.Context, addr common.Address) (*big.Int, error) {
	if !a.isToken() {
		return a.client.BalanceAt(ctx, addr, nil)
	}
	data, err := a.parsedABI.Pack("balanceOf", addr)
	if err != nil {
		return nil, err
	}
	contract := common.HexToAddress(a.cfg.TokenAddress)
	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	var bal *big.Int
	if err := a.parsedABI.UnpackIntoInterface(&bal, "balanceOf", out); err != nil {
		return nil, err
	}
	return bal, nil
}

// ObserveAddress 余额差分
// 基线在库里：首见只落基线，之后每轮对水位做差
func (a *Adapter) ObserveAddress(ctx context.Context, address string) ([]domain.Observation, error) {
	wei, err := a.balanceWei(ctx, common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	cur := weiToDecimal(wei, a.decimals())

	last, seen, err := a.cursors.GetCursor(ctx, a.cfg.Currency, address)
	if err != nil {
		return nil, err
	}
	if !seen {
		if err := a.cursors.InitCursor(ctx, a.cfg.Currency, address, cur); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return diffObservation(a.tag(), address, last, cur, a.cfg.Confirmations), nil
}

func (a *Adapter) tag() string {
	if a.isToken() {
		return strings.ToLower(a.cfg.TokenAddress)
	}
	return "native"
}

// diffObservation 把水位差合成一条观察
// ExternalRef 只由水位区间决定，跟轮询时机无关：
// 多个节点不论在什么高度看，同一段差额永远是同一个键。
// 观察带着水位区间走，入账时条件推进，推不动的观察整体作废
func diffObservation(tag, address string, last, cur decimal.Decimal, confirmations int64) []domain.Observation {
	delta := cur.Sub(last)
	if delta.Sign() <= 0 {
		// 余额没变或变少 (归集/提现出账)，不是入金
		return nil
	}
	return []domain.Observation{{
		Address:       address,
		Amount:        delta,
		ExternalRef:   fmt.Sprintf("%s:%s:%s:%s", tag, strings.ToLower(address), last.String(), cur.String()),
		Confirmations: confirmations, // 见到即终局
		Cursor:        &domain.CursorAdvance{From: last, To: cur},
	}}
}

func (a *Adapter) PoolBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	bal, err := a.balanceWei(ctx, common.HexToAddress(address))
	if err != nil {
		return decimal.Zero, err
	}
	return weiToDecimal(bal, a.decimals()), nil
}

// EstimateFee 原生转账的估算费用 (ETH)
// 代币的 gas 用 ETH 付，不占代币余额，这里返回 0，
// 代币发送前的 gas 检查在 SendFromPool 里单独做
func (a *Adapter) EstimateFee(ctx context.Context) (decimal.Decimal, error) {
	if a.isToken() {
		return decimal.Zero, nil
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	fee := new(big.Int).Mul(gasPrice, big.NewInt(gasLimitNative))
	return weiToDecimal(fee, 18), nil
}

func (a *Adapter) ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("not a hex address: %s", address)
	}
	return nil
}

// SendFromPool 用池子私钥签名广播
func (a *Adapter) SendFromPool(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	if a.poolKey == nil {
		return "", fmt.Errorf("pool key not configured")
	}
	return a.send(ctx, a.poolKey, a.poolAddr, common.HexToAddress(to), amount)
}

// SweepToPool 把展示地址上的余额扫进池子
// 残值扣掉 gas 不剩什么就跳过；代币归集还要求展示地址上有 ETH 付 gas
func (a *Adapter) SweepToPool(ctx context.Context, privHex, fromAddress string) (string, decimal.Decimal, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("parse sweep key: %w", err)
	}
	from := common.HexToAddress(fromAddress)

	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", decimal.Zero, err
	}

	if a.isToken() {
		tokenBal, err := a.balanceWei(ctx, from)
		if err != nil {
			return "", decimal.Zero, err
		}
		if tokenBal.Sign() <= 0 {
			return "", decimal.Zero, nil
		}
		// 展示地址得有 ETH 付 gas，没有就先跳过 (gas 充值是运营动作)
		ethBal, err := a.client.BalanceAt(ctx, from, nil)
		if err != nil {
			return "", decimal.Zero, err
		}
		gasCost := new(big.Int).Mul(gasPrice, big.NewInt(gasLimitToken))
		if ethBal.Cmp(gasCost) < 0 {
			logger.Debug(ctx, "展示地址 gas 不足，跳过代币归集",
				zap.String("addr", fromAddress))
			return "", decimal.Zero, nil
		}
		amount := weiToDecimal(tokenBal, a.decimals())
		ref, err := a.send(ctx, key, from, a.poolAddr, amount)
		return ref, amount, err
	}

	bal, err := a.client.BalanceAt(ctx, from, nil)
	if err != nil {
		return "", decimal.Zero, err
	}
	gasCost := new(big.Int).Mul(gasPrice, big.NewInt(gasLimitNative))
	residual := new(big.Int).Sub(bal, gasCost)
	if residual.Sign() <= 0 {
		// 扣掉 gas 是负的，扫了反而亏
		return "", decimal.Zero, nil
	}
	amount := weiToDecimal(residual, 18)
	ref, err := a.send(ctx, key, from, a.poolAddr, amount)
	return ref, amount, err
}

// send 构造 EIP-1559 交易、签名、广播
func (a *Adapter) send(ctx context.Context, key *ecdsa.PrivateKey, from, to common.Address, amount decimal.Decimal) (string, error) {
	nonce, err := a.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasTipCap, err := a.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("tip cap: %w", err)
	}
	head, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("header: %w", err)
	}
	// maxFee = 2*baseFee + tip，扛一段时间的 baseFee 上涨
	gasFeeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
		gasTipCap,
	)

	var (
		txTo     common.Address
		value    *big.Int
		data     []byte
		gasLimit uint64
	)
	if a.isToken() {
		contract := common.HexToAddress(a.cfg.TokenAddress)
		packed, err := a.parsedABI.Pack("transfer", to, decimalToWei(amount, a.decimals()))
		if err != nil {
			return "", fmt.Errorf("pack transfer: %w", err)
		}
		txTo, value, data, gasLimit = contract, big.NewInt(0), packed, gasLimitToken
	} else {
		txTo, value, data, gasLimit = to, decimalToWei(amount, 18), nil, gasLimitNative
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &txTo,
		Value:     value,
		Data:      data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), key)
	if err != nil {
		return "", fmt.Errorf("sign failed: %w", err)
	}
	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("broadcast failed: %w", err)
	}

	logger.Info(ctx, "ETH 交易已广播",
		zap.Uint64("nonce", nonce),
		zap.String("hash", signedTx.Hash().Hex()))
	return signedTx.Hash().Hex(), nil
}

// TxConfirmed 收据成功且深度达标才算确认
func (a *Adapter) TxConfirmed(ctx context.Context, txRef string) (bool, error) {
	receipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(txRef))
	if err != nil {
		// 还在 pending 或者丢了，都当未确认，由调用方下轮再查
		return false, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return false, nil
	}
	latest, err := a.client.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	return int64(latest)-receipt.BlockNumber.Int64() >= a.cfg.Confirmations, nil
}

func (a *Adapter) Close() {
	a.client.Close()
}

// 辅助工具
func weiToDecimal(wei *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(wei, 0).Shift(-decimals)
}

func decimalToWei(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).BigInt()
}
