package core

import "errors"

// ErrEncryptionDisabled 未配置 SECRET_KEY 时拒绝存储上游 Key
var ErrEncryptionDisabled = errors.New("credential storage requires SECRET_KEY")

// DisabledSecretProvider 在没有加密密钥时使用：不允许写入，也无法读取已存储的 Key
type DisabledSecretProvider struct{}

func NewDisabledSecretProvider() *DisabledSecretProvider {
	return &DisabledSecretProvider{}
}

func (s *DisabledSecretProvider) Decrypt(ciphertext string) (string, error) {
	return "", ErrEncryptionDisabled
}

func (s *DisabledSecretProvider) Encrypt(plaintext string) (string, error) {
	return "", ErrEncryptionDisabled
}
