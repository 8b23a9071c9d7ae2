package hdwallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// 助记词落库/落盘必须是密文，解密 Key 由环境变量/KMS 下发，不进数据库
// 进程启动时 OpenSeed 一次，之后钱包对象显式传递，不走全局变量

var ErrSealKeySize = errors.New("hdwallet: seal key must be 32 bytes (AES-256)")

// SealSeed 用 AES-256-GCM 加密助记词，输出 hex(nonce||ciphertext)
func SealSeed(mnemonic string, key []byte) (string, error) {
	if len(key) != 32 {
		return "", ErrSealKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(mnemonic), nil)
	return hex.EncodeToString(sealed), nil
}

// OpenSeed 解密 SealSeed 的输出
func OpenSeed(sealedHex string, key []byte) (string, error) {
	if len(key) != 32 {
		return "", ErrSealKeySize
	}
	raw, err := hex.DecodeString(sealedHex)
	if err != nil {
		return "", fmt.Errorf("decode sealed seed: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("hdwallet: sealed seed too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed seed: %w", err)
	}
	return string(plain), nil
}
