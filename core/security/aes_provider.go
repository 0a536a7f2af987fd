package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix 标记数据库中的密文版本
const sealedPrefix = "gcm1:"

var (
	ErrInvalidKeyLength = errors.New("secret key must be 16, 24 or 32 bytes")
	ErrNotSealed        = errors.New("value is not a sealed credential")
	ErrCiphertextShort  = errors.New("ciphertext too short")
)

// AESSecretProvider AES-GCM 加密存储的上游 API Key
type AESSecretProvider struct {
	aead cipher.AEAD
}

// NewAESSecretProvider keyStr 长度决定 AES-128/192/256
func NewAESSecretProvider(keyStr string) (*AESSecretProvider, error) {
	switch len(keyStr) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKeyLength, len(keyStr))
	}
	block, err := aes.NewCipher([]byte(keyStr))
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESSecretProvider{aead: aead}, nil
}

// Encrypt 返回 "gcm1:" + base64(nonce || ciphertext)
func (p *AESSecretProvider) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := p.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (p *AESSecretProvider) Decrypt(value string) (string, error) {
	if !IsSealed(value) {
		return "", ErrNotSealed
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode credential: %w", err)
	}
	n := p.aead.NonceSize()
	if len(data) < n {
		return "", ErrCiphertextShort
	}
	plain, err := p.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open credential: %w", err)
	}
	return string(plain), nil
}

// IsSealed 判断值是否由 Encrypt 生成
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
