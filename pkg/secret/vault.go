package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16
	keySize  = 32
)

// vaultFile is the on-disk layout; entries are sealed as one JSON document
type vaultFile struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// FileVault is a Store backed by a single AES-GCM encrypted file. Entries are
// namespaced as "<service>/<id>" so several services may share one vault.
type FileVault struct {
	mu         sync.Mutex
	path       string
	service    string
	passphrase []byte
}

func NewFileVault(path, service, passphrase string) (*FileVault, error) {
	if path == "" {
		return nil, fmt.Errorf("vault path is required")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("vault passphrase is required")
	}

	return &FileVault{
		path:       path,
		service:    service,
		passphrase: []byte(passphrase),
	}, nil
}

func (v *FileVault) Set(ctx context.Context, id, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entries, salt, err := v.load()
	if err != nil {
		return err
	}
	entries[v.key(id)] = secret
	return v.store(entries, salt)
}

func (v *FileVault) Get(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entries, _, err := v.load()
	if err != nil {
		return "", err
	}

	secret, ok := entries[v.key(id)]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

func (v *FileVault) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entries, salt, err := v.load()
	if err != nil {
		return err
	}

	key := v.key(id)
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return v.store(entries, salt)
}

func (v *FileVault) key(id string) string {
	if v.service == "" {
		return id
	}
	return v.service + "/" + id
}

func (v *FileVault) load() (map[string]string, []byte, error) {
	raw, err := os.ReadFile(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("failed to generate vault salt: %w", err)
		}
		return map[string]string{}, salt, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var file vaultFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, nil, fmt.Errorf("failed to decode vault: %w", err)
	}

	aead, err := v.cipher(file.Salt)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := aead.Open(nil, file.Nonce, file.Data, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt vault: %w", err)
	}

	entries := map[string]string{}
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, nil, fmt.Errorf("failed to decode vault entries: %w", err)
	}
	return entries, file.Salt, nil
}

func (v *FileVault) store(entries map[string]string, salt []byte) error {
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	aead, err := v.cipher(salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	raw, err := json.Marshal(vaultFile{
		Salt:  salt,
		Nonce: nonce,
		Data:  aead.Seal(nil, nonce, plaintext, nil),
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(v.path), ".vault-*")
	if err != nil {
		return fmt.Errorf("failed to create temp vault: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}

	return os.Rename(tmp.Name(), v.path)
}

func (v *FileVault) cipher(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(v.passphrase, salt, 1, 64*1024, 4, keySize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
