// Package credential seals embedder API keys before they reach the snapshot
// database. Values are AES-256-GCM encrypted under a key derived from the
// local machine and user, so a copied database does not leak them.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Prefix marks a sealed value in storage.
const Prefix = "enc:v1:"

const salt = "graphfusion-credential-v1"

var (
	ErrDecryptionFailed = goerr.New("decryption failed")
	ErrInvalidFormat    = goerr.New("invalid sealed format")
)

// Manager seals and opens stored secrets.
type Manager struct {
	aead cipher.AEAD
}

// NewManager derives the machine key and prepares the cipher.
func NewManager() (*Manager, error) {
	return newManager(machineKey())
}

func newManager(key []byte) (*Manager, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Manager{aead: aead}, nil
}

// Seal encrypts value. Empty values stay empty.
func (m *Manager) Seal(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := m.aead.Seal(nonce, nonce, []byte(value), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the prefix were stored in the clear
// and are returned unchanged.
func (m *Manager) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, Prefix))
	if err != nil {
		return "", goerr.Wrap(ErrInvalidFormat, "invalid base64", goerr.V("cause", err.Error()))
	}
	n := m.aead.NonceSize()
	if len(raw) < n {
		return "", ErrInvalidFormat
	}
	plain, err := m.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// IsSecretKey reports whether a config key names a secret, such as
// openai.api_key.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.HasSuffix(k, "api_key") || strings.HasSuffix(k, "token")
}

// Mask hides all but the first and last four characters.
func Mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func machineKey() []byte {
	var b strings.Builder
	host, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	b.WriteString(host)
	b.WriteString(home)
	b.WriteString(runtime.GOOS + "/" + runtime.GOARCH)
	b.WriteString(salt)
	if uid := os.Getuid(); uid != -1 {
		fmt.Fprintf(&b, "uid:%d", uid)
	}
	b.WriteString(os.Getenv("USER"))
	sum := sha256.Sum256([]byte(b.String()))
	return sum[:]
}
