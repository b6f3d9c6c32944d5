// Package wallet provides the harness signing wallet: key loading from a raw
// hex key or a password-encrypted key file, the connect/disconnect lifecycle,
// and transaction signing.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// keyFile is the on-disk format of an encrypted signing key. Address is kept
// in clear so operators can tell files apart without the password.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the signing key comes from. A raw key wins over an
// encrypted file.
type KeySource struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// ParseKey decodes a hex private key with or without 0x prefix.
func ParseKey(keyHex string) (*ecdsa.PrivateKey, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid private key: %w", err)
	}
	return pk, nil
}

// EncryptKey seals key with password (PBKDF2-HMAC-SHA256 + AES-256-GCM) and
// returns the JSON key file contents.
func EncryptKey(key *ecdsa.PrivateKey, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("wallet: password must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("wallet: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("wallet: generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey. The recovered key must
// match the address recorded in the file.
func DecryptKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("wallet: password must not be empty")
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("wallet: parsing key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("wallet: unsupported key file version %d", kf.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return nil, fmt.Errorf("wallet: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(kf.Nonce)
	if err != nil {
		return nil, fmt.Errorf("wallet: decoding nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(kf.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("wallet: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	raw, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("wallet: decryption failed (wrong password?): %w", err)
	}

	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("wallet: decrypted key invalid: %w", err)
	}
	if kf.Address != "" && ethcrypto.PubkeyToAddress(key.PublicKey) != common.HexToAddress(kf.Address) {
		return nil, fmt.Errorf("wallet: key file address mismatch")
	}
	return key, nil
}

// LoadKey resolves the signing key from src.
func LoadKey(src KeySource) (*ecdsa.PrivateKey, error) {
	if src.RawPrivateKey != "" {
		return ParseKey(src.RawPrivateKey)
	}
	if src.EncryptedKeyPath != "" {
		data, err := os.ReadFile(src.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("wallet: reading key file: %w", err)
		}
		return DecryptKey(data, src.KeyPassword)
	}
	return nil, errors.New("wallet: no key source configured (set private_key or encrypted_key_path)")
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("wallet: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("wallet: creating GCM: %w", err)
	}
	return gcm, nil
}
