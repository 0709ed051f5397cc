// Package credential keeps the Gemini API key in the key-value store,
// sealed with XChaCha20-Poly1305 under a key derived from an operator secret.
package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/phrazzld/chatrelay/internal/store"
)

// MinSecretLength is the shortest operator secret a Vault accepts.
const MinSecretLength = 16

const (
	sealedVersion = 1
	saltSize      = 16
)

var (
	// ErrNoAPIKey is returned by LoadAPIKey when no key has been saved.
	ErrNoAPIKey = errors.New("no API key stored")

	// ErrInvalidAPIKey is returned when a key does not look like a Gemini key.
	ErrInvalidAPIKey = errors.New("invalid API key format")

	// ErrWeakSecret is returned when the vault secret is too short.
	ErrWeakSecret = errors.New("vault secret too short")

	// ErrDecrypt is returned when a sealed key cannot be opened, usually
	// because the vault secret changed since it was saved.
	ErrDecrypt = errors.New("failed to decrypt stored API key")
)

var apiKeyPattern = regexp.MustCompile(`^AIza[0-9A-Za-z_-]{35}$`)

// ValidateAPIKey checks the shape of a Gemini API key.
func ValidateAPIKey(key string) error {
	if !apiKeyPattern.MatchString(key) {
		return ErrInvalidAPIKey
	}
	return nil
}

// kdfParams are the Argon2id cost parameters.
type kdfParams struct {
	Time    uint32 `json:"t"`
	Memory  uint32 `json:"m"`
	Threads uint8  `json:"p"`
}

var defaultKDF = kdfParams{Time: 1, Memory: 64 * 1024, Threads: 4}

// Upper bounds on parameters read back from a record. Memory is in KiB.
const (
	maxKDFTime    = 16
	maxKDFMemory  = 1 << 20
	maxKDFThreads = 64
)

// validate rejects parameters argon2 would panic on or that would make a
// damaged record allocate unbounded memory.
func (p kdfParams) validate() error {
	switch {
	case p.Time < 1 || p.Time > maxKDFTime:
		return fmt.Errorf("kdf time %d out of range", p.Time)
	case p.Threads < 1 || p.Threads > maxKDFThreads:
		return fmt.Errorf("kdf threads %d out of range", p.Threads)
	case p.Memory > maxKDFMemory:
		return fmt.Errorf("kdf memory %d KiB out of range", p.Memory)
	}
	return nil
}

// sealedKey is the stored form. The KDF parameters travel with the record
// so they can be raised later without breaking old records.
type sealedKey struct {
	Version    int       `json:"v"`
	KDF        kdfParams `json:"kdf"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ct"`
}

// Vault saves and loads the API key under store.KeyAPIKey.
type Vault struct {
	store  store.Store
	secret []byte
	kdf    kdfParams
	logger *slog.Logger
}

// NewVault creates a vault over s. secret must be at least MinSecretLength
// bytes.
func NewVault(s store.Store, secret string, logger *slog.Logger) (*Vault, error) {
	if s == nil {
		return nil, errors.New("store cannot be nil")
	}
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrWeakSecret, MinSecretLength)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		store:  s,
		secret: []byte(secret),
		kdf:    defaultKDF,
		logger: logger.With("component", "credential_vault"),
	}, nil
}

func deriveKey(secret, salt []byte, p kdfParams) []byte {
	return argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, chacha20poly1305.KeySize)
}

// SaveAPIKey validates, seals and stores key, replacing any previous key.
func (v *Vault) SaveAPIKey(ctx context.Context, key string) error {
	if err := ValidateAPIKey(key); err != nil {
		return err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(v.secret, salt, v.kdf))
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	record := sealedKey{
		Version:    sealedVersion,
		KDF:        v.kdf,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, []byte(key), []byte(store.KeyAPIKey)),
	}
	if err := store.SetJSON(ctx, v.store, store.KeyAPIKey, record); err != nil {
		return fmt.Errorf("failed to save API key: %w", err)
	}

	v.logger.InfoContext(ctx, "API key saved")
	return nil
}

// LoadAPIKey returns the stored key, or ErrNoAPIKey when none is saved.
func (v *Vault) LoadAPIKey(ctx context.Context) (string, error) {
	var record sealedKey
	if err := store.GetJSON(ctx, v.store, store.KeyAPIKey, &record); err != nil {
		if store.IsNotFound(err) {
			return "", ErrNoAPIKey
		}
		return "", fmt.Errorf("failed to load API key: %w", err)
	}
	if record.Version != sealedVersion {
		return "", fmt.Errorf("%w: unsupported record version %d", ErrDecrypt, record.Version)
	}
	if err := record.KDF.validate(); err != nil {
		v.logger.WarnContext(ctx, "stored API key has invalid KDF parameters", "error", err)
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(record.Salt) != saltSize {
		return "", fmt.Errorf("%w: malformed salt", ErrDecrypt)
	}

	aead, err := chacha20poly1305.NewX(deriveKey(v.secret, record.Salt, record.KDF))
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(record.Nonce) != aead.NonceSize() {
		return "", fmt.Errorf("%w: malformed nonce", ErrDecrypt)
	}
	plain, err := aead.Open(nil, record.Nonce, record.Ciphertext, []byte(store.KeyAPIKey))
	if err != nil {
		v.logger.WarnContext(ctx, "stored API key could not be decrypted")
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// RemoveAPIKey deletes the stored key. Removing a missing key is not an error.
func (v *Vault) RemoveAPIKey(ctx context.Context) error {
	if err := v.store.Delete(ctx, store.KeyAPIKey); err != nil {
		return fmt.Errorf("failed to remove API key: %w", err)
	}
	v.logger.InfoContext(ctx, "API key removed")
	return nil
}
