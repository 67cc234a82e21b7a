package vault

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	ErrKeyNotFound  = errors.New("encryption key not found")
	ErrKeyNotLoaded = errors.New("key manager not initialized")
)

// KeyManager holds encryption keys for multiple versions so blobs written
// under an old key stay readable after rotation.
type KeyManager struct {
	mu           sync.RWMutex
	currentVer   int
	encryptors   map[int]*Encryptor
	envKeyPrefix string
}

// NewKeyManager loads keys from environment variables following the pattern:
//   - MASTER_ENCRYPTION_KEY (version 1)
//   - MASTER_ENCRYPTION_KEY_V2 (version 2)
//   - etc.
func NewKeyManager() (*KeyManager, error) {
	km := &KeyManager{
		encryptors:   make(map[int]*Encryptor),
		envKeyPrefix: "MASTER_ENCRYPTION_KEY",
	}

	if err := km.loadKey(1, km.envKeyPrefix); err != nil {
		return nil, fmt.Errorf("load primary key: %w", err)
	}
	km.currentVer = 1

	// Additional versions are optional; the newest one wins.
	for v := 2; v <= 10; v++ {
		envName := fmt.Sprintf("%s_V%d", km.envKeyPrefix, v)
		if err := km.loadKey(v, envName); err == nil {
			km.currentVer = v
		}
	}

	return km, nil
}

// NewKeyManagerWithKey builds a single-version KeyManager from a raw key.
// Used by tests and by deployments that inject keys out of band.
func NewKeyManagerWithKey(key []byte) (*KeyManager, error) {
	enc, err := NewEncryptor(key, 1)
	if err != nil {
		return nil, err
	}
	return &KeyManager{
		currentVer: 1,
		encryptors: map[int]*Encryptor{1: enc},
	}, nil
}

func (km *KeyManager) loadKey(version int, envName string) error {
	keyBase64 := os.Getenv(envName)
	if keyBase64 == "" {
		return ErrKeyNotFound
	}

	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return fmt.Errorf("decode key %s: %w", envName, err)
	}

	enc, err := NewEncryptor(key, version)
	if err != nil {
		return fmt.Errorf("create encryptor v%d: %w", version, err)
	}

	km.encryptors[version] = enc
	return nil
}

// Encrypt encrypts plaintext using the current (latest) key version.
func (km *KeyManager) Encrypt(plaintext []byte) (string, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	enc, ok := km.encryptors[km.currentVer]
	if !ok {
		return "", ErrKeyNotLoaded
	}

	return enc.Encrypt(plaintext)
}

// Decrypt decrypts a blob, selecting the key version from its prefix.
func (km *KeyManager) Decrypt(blob string) ([]byte, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	version := ParseVersion(blob)
	if version == 0 {
		return nil, ErrInvalidCiphertext
	}

	enc, ok := km.encryptors[version]
	if !ok {
		return nil, fmt.Errorf("key version %d not available", version)
	}

	return enc.Decrypt(blob)
}

// ReEncrypt re-encrypts a blob with the current key version.
// Used during key rotation.
func (km *KeyManager) ReEncrypt(blob string) (string, error) {
	plaintext, err := km.Decrypt(blob)
	if err != nil {
		return "", fmt.Errorf("decrypt for re-encryption: %w", err)
	}
	return km.Encrypt(plaintext)
}

// CurrentVersion returns the key version used for new encryptions.
func (km *KeyManager) CurrentVersion() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.currentVer
}
