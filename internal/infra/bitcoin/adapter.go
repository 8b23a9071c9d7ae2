package bitcoin

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/shopspring/decimal"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/domain"
)

// 估算手续费时按一笔典型交易 ~250 vB 算
const typicalTxKSize = 0.25

// Adapter 交易索引型适配器 (BTC)
// 依赖节点钱包以 watch-only 方式导入了所有展示地址和池子地址
type Adapter struct {
	rpcClient   *rpcclient.Client
	networkType *chaincfg.Params
}

var _ domain.ChainAdapter = (*Adapter)(nil)

func New(host, user, password string, network *chaincfg.Params) (*Adapter, error) {
	rpcConfig := &rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         password,
		HTTPPostMode: true, // 比特币核心节点必须使用 POST 模式
		DisableTLS:   true,
	}
	client, err := rpcclient.New(rpcConfig, nil)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		rpcClient:   client,
		networkType: network,
	}, nil
}

func (a *Adapter) Family() domain.ChainFamily {
	return domain.FamilyUTXO
}

// ObserveAddress 列出打到该地址的未花费输出
// 确认数直接取链上数据；ExternalRef 用 txid:vout，同一笔输出永远同一个键
func (a *Adapter) ObserveAddress(ctx context.Context, address string) ([]domain.Observation, error) {
	addr, err := btcutil.DecodeAddress(address, a.networkType)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}

	// minconf=0: 刚进内存池的也要记下来，让状态机走 pending
	unspents, err := a.rpcClient.ListUnspentMinMaxAddresses(0, 9999999, []btcutil.Address{addr})
	if err != nil {
		return nil, fmt.Errorf("list unspent: %w", err)
	}

	obs := make([]domain.Observation, 0, len(unspents))
	for _, u := range unspents {
		obs = append(obs, domain.Observation{
			Address:       address,
			Amount:        decimal.NewFromFloat(u.Amount),
			ExternalRef:   fmt.Sprintf("%s:%d", u.TxID, u.Vout),
			Confirmations: u.Confirmations,
		})
	}
	return obs, nil
}

// PoolBalance 池子地址上已确认的未花费输出之和
func (a *Adapter) PoolBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	addr, err := btcutil.DecodeAddress(address, a.networkType)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode pool address: %w", err)
	}
	unspents, err := a.rpcClient.ListUnspentMinMaxAddresses(1, 9999999, []btcutil.Address{addr})
	if err != nil {
		return decimal.Zero, fmt.Errorf("list pool unspent: %w", err)
	}
	sum := decimal.Zero
	for _, u := range unspents {
		sum = sum.Add(decimal.NewFromFloat(u.Amount))
	}
	return sum, nil
}

// EstimateFee 按 6 个块目标估算一笔典型交易的费用
// 费率是 BTC/kvB，乘上典型交易体积得到单笔估算
func (a *Adapter) EstimateFee(ctx context.Context) (decimal.Decimal, error) {
	mode := btcjson.EstimateModeEconomical
	res, err := a.rpcClient.EstimateSmartFee(6, &mode)
	if err != nil {
		return decimal.Zero, fmt.Errorf("estimatesmartfee: %w", err)
	}
	if res.FeeRate == nil || *res.FeeRate <= 0 {
		// 节点数据不足 (常见于回归测试网)，给一个保守的兜底值
		return decimal.RequireFromString("0.0001"), nil
	}
	return decimal.NewFromFloat(*res.FeeRate).Mul(decimal.NewFromFloat(typicalTxKSize)), nil
}

func (a *Adapter) ValidateAddress(address string) error {
	addr, err := btcutil.DecodeAddress(address, a.networkType)
	if err != nil {
		return err
	}
	if !addr.IsForNet(a.networkType) {
		return fmt.Errorf("address %s is for a different network", address)
	}
	return nil
}

// SendFromPool 经节点钱包广播 (池子私钥由节点托管)
func (a *Adapter) SendFromPool(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	addr, err := btcutil.DecodeAddress(to, a.networkType)
	if err != nil {
		return "", fmt.Errorf("invalid address: %w", err)
	}
	f, _ := amount.Float64()
	btcAmount, err := btcutil.NewAmount(f)
	if err != nil {
		return "", fmt.Errorf("invalid amount: %w", err)
	}
	hash, err := a.rpcClient.SendToAddress(addr, btcAmount)
	if err != nil {
		return "", fmt.Errorf("rpc send failed: %w", err)
	}
	return hash.String(), nil
}

// TxConfirmed 查广播引用是否已上链
func (a *Adapter) TxConfirmed(ctx context.Context, txRef string) (bool, error) {
	txHash, err := chainhash.NewHashFromStr(txRef)
	if err != nil {
		return false, fmt.Errorf("invalid hash: %w", err)
	}
	txResult, err := a.rpcClient.GetTransaction(txHash)
	if err != nil {
		// 节点不认识这笔交易：可能还没同步到，也可能被丢弃了
		if strings.Contains(err.Error(), "Invalid or non-wallet") {
			return false, nil
		}
		return false, err
	}
	// 被冲突/抛弃的交易永远到不了 confirmed
	for _, detail := range txResult.Details {
		if detail.Category == "conflict" || detail.Category == "abandoned" {
			return false, nil
		}
	}
	return txResult.Confirmations > 0, nil
}

func (a *Adapter) Close() {
	a.rpcClient.Shutdown()
}
