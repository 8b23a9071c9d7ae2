// 托管钱包的确定性派生
package hdwallet

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// BIP44 币种常量
const (
	CoinTypeBTC uint32 = 0
	CoinTypeETH uint32 = 60
)

var (
	ErrNoSeed          = errors.New("hdwallet: mnemonic is empty, refusing to derive")
	ErrInvalidMnemonic = errors.New("hdwallet: mnemonic failed checksum validation")
)

type HDWallet struct {
	// 主私钥
	masterKey *hdkeychain.ExtendedKey
	// 网络参数
	btcParams *chaincfg.Params
}

// New 实例化钱包
// 种子缺失或校验失败直接拒绝，绝不退回任何默认值：
// 派生出一个错误的地址链等于把用户的钱收进黑洞
func New(mnemonic string, netParams *chaincfg.Params) (*HDWallet, error) {
	if mnemonic == "" {
		return nil, ErrNoSeed
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")
	extendKey, err := hdkeychain.NewMaster(seed, netParams)
	if err != nil {
		return nil, err
	}
	return &HDWallet{
		masterKey: extendKey,
		btcParams: netParams,
	}, nil
}

// IndexForUser 用户ID -> 派生下标
// 对用户ID做单向哈希再折进非硬化区间 [0, 2^31)，
// 同一个用户永远落在同一个下标上，不需要落库保存
func IndexForUser(userID int64) uint32 {
	sum := sha256.Sum256([]byte(strconv.FormatInt(userID, 10)))
	return binary.BigEndian.Uint32(sum[:4]) & 0x7FFFFFFF
}

// DeriveForUser 为用户派生展示地址
// 返回 (地址, 派生路径, 私钥Hex)
// 私钥Hex只给归集服务用，不许出现在任何对外响应里
func (w *HDWallet) DeriveForUser(coinType uint32, userID int64) (string, string, string, error) {
	idx := IndexForUser(userID)
	address, privHex, err := w.DeriveAddress(coinType, idx)
	if err != nil {
		return "", "", "", err
	}
	path := fmt.Sprintf("m/44'/%d'/0'/0/%d", coinType, idx)
	return address, path, privHex, nil
}

// DeriveAddress 按 BIP44 路径派生
// m / 44' / coin_type' / 0' / 0 / account_index
func (w *HDWallet) DeriveAddress(coinType uint32, accountIdx uint32) (string, string, error) {
	path := []uint32{
		44 + hdkeychain.HardenedKeyStart,       // Purpose
		coinType + hdkeychain.HardenedKeyStart, // CoinType
		0 + hdkeychain.HardenedKeyStart,        // Account (平台总账户)
		0,
		accountIdx,
	}
	key := w.masterKey
	var err error
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return "", "", err
		}
	}
	privKey, err := key.ECPrivKey()
	if err != nil {
		return "", "", err
	}
	privateKeyHex := fmt.Sprintf("%x", privKey.Serialize())
	address, err := w.encodeAddress(coinType, privKey)
	if err != nil {
		return "", "", err
	}
	return address, privateKeyHex, nil
}

func (w *HDWallet) encodeAddress(coinType uint32, privKey *btcec.PrivateKey) (string, error) {
	var address string
	switch coinType {
	case CoinTypeBTC:
		// SegWit 地址 (p2wpkh)，手续费最省
		publicKeyHash, err := btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(privKey.PubKey().SerializeCompressed()),
			w.btcParams,
		)
		if err != nil {
			return "", err
		}
		address = publicKeyHash.EncodeAddress()
	case CoinTypeETH:
		ethPrivateKey := privKey.ToECDSA()
		addr := crypto.PubkeyToAddress(ethPrivateKey.PublicKey)
		address = addr.Hex()
	default:
		return "", errors.New("invalid coin type")
	}
	return address, nil
}
