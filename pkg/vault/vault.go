package vault

import (
	"encoding/json"
	"fmt"
)

// Credentials is the decrypted login material for one trading account.
// Instances exist only inside a WithCredentials callback.
type Credentials struct {
	AccountNumber string `json:"account_number"`
	Password      string `json:"password"`
	Server        string `json:"server"`
}

// Vault encrypts account credentials for storage and scopes decryption to a
// single callback invocation.
type Vault struct {
	keys *KeyManager
}

// New creates a Vault on top of a KeyManager.
func New(keys *KeyManager) *Vault {
	return &Vault{keys: keys}
}

// Seal encrypts credentials into a blob suitable for storage.
func (v *Vault) Seal(creds Credentials) (string, error) {
	raw, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}
	blob, err := v.keys.Encrypt(raw)
	zero(raw)
	if err != nil {
		return "", fmt.Errorf("encrypt credentials: %w", err)
	}
	return blob, nil
}

// Reseal re-encrypts a blob under the current key version so rotated keys
// propagate to stored credentials. It reports whether the blob changed; blobs
// already on the current version are returned as-is.
func (v *Vault) Reseal(blob string) (string, bool, error) {
	if ParseVersion(blob) == v.keys.CurrentVersion() {
		return blob, false, nil
	}
	out, err := v.keys.ReEncrypt(blob)
	if err != nil {
		return "", false, fmt.Errorf("reseal credentials: %w", err)
	}
	return out, true, nil
}

// WithCredentials decrypts blob, invokes fn with the plaintext credentials,
// and wipes the intermediate buffer before returning. The credentials must
// not escape fn.
func (v *Vault) WithCredentials(blob string, fn func(Credentials) error) error {
	raw, err := v.keys.Decrypt(blob)
	if err != nil {
		return fmt.Errorf("decrypt credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		zero(raw)
		return fmt.Errorf("unmarshal credentials: %w", err)
	}
	zero(raw)

	return fn(creds)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
