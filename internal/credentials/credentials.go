// Package credentials persists WebDAV connection credentials encrypted at
// rest. The encryption key lives in the OS keyring; when no keyring is
// available the file degrades to plaintext and callers must not assume
// confidentiality.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"nexus/internal/utils"
)

const (
	keyringService = "nexus-webdav"
	keyringAccount = "encryption-key"

	schemeEncrypted = "keyring-aes-gcm"
	schemePlaintext = "plaintext"

	credentialsFile = "webdav-credentials.json"
)

// Folders is the cached remote collection layout, discovered once and
// stored alongside the credentials.
type Folders struct {
	RootPath    string `json:"rootPath"`
	LivePath    string `json:"livePath"`
	BackupsPath string `json:"backupsPath"`
}

// Auth holds the WebDAV connection material. It is loaded for the duration
// of an operation and not retained beyond it.
type Auth struct {
	URL       string   `json:"url"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	Connected bool     `json:"connected"`
	Folders   *Folders `json:"folders,omitempty"`
}

// envelope is the on-disk wrapper distinguishing encrypted payloads from
// the plaintext fallback.
type envelope struct {
	Scheme  string `json:"scheme"`
	Payload string `json:"payload"`
}

// Store persists Auth at a fixed per-application path.
type Store struct {
	path    string
	keyring Keyring
}

// StoreOption is a functional option for Store
type StoreOption func(*Store)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) StoreOption {
	return func(s *Store) {
		s.keyring = k
	}
}

// WithPath overrides the backing file path (for testing)
func WithPath(path string) StoreOption {
	return func(s *Store) {
		s.path = path
	}
}

// NewStore creates a credential store rooted in configDir, relocating data
// from legacyConfigDir on first use if the new path does not yet exist.
// Migration is best-effort: a failure is logged and ignored.
func NewStore(configDir, legacyConfigDir string, opts ...StoreOption) *Store {
	s := &Store{
		path:    filepath.Join(configDir, credentialsFile),
		keyring: &systemKeyring{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if legacyConfigDir != "" {
		if err := migrateLegacyFile(filepath.Join(legacyConfigDir, credentialsFile), s.path); err != nil {
			utils.Warnf("credential migration from legacy path skipped: %v", err)
		}
	}
	return s
}

// migrateLegacyFile moves the credential file from a legacy location if the
// new location does not exist yet.
func migrateLegacyFile(oldPath, newPath string) error {
	if _, err := os.Stat(newPath); err == nil {
		return nil
	}
	if _, err := os.Stat(oldPath); err != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(newPath), 0700); err != nil {
		return err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		// Rename can fail across filesystems; fall back to copy.
		data, readErr := os.ReadFile(oldPath)
		if readErr != nil {
			return readErr
		}
		if writeErr := os.WriteFile(newPath, data, 0600); writeErr != nil {
			return writeErr
		}
		_ = os.Remove(oldPath)
	}
	return nil
}

// Read returns the stored credentials, or nil if absent or undecryptable.
// It never fails hard: a corrupt or unreadable file is treated as "no
// credentials" so a broken installation degrades rather than crashes.
func (s *Store) Read() *Auth {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		utils.Debugf("credential file unreadable: %v", err)
		return nil
	}

	var payload []byte
	switch env.Scheme {
	case schemeEncrypted:
		payload, err = s.decrypt(env.Payload)
		if err != nil {
			utils.Warnf("stored credentials could not be decrypted: %v", err)
			return nil
		}
	case schemePlaintext:
		payload, err = base64.StdEncoding.DecodeString(env.Payload)
		if err != nil {
			return nil
		}
	default:
		return nil
	}

	var auth Auth
	if err := json.Unmarshal(payload, &auth); err != nil {
		return nil
	}
	return &auth
}

// Write serializes auth to JSON and persists it, encrypting when the
// platform keyring is available and falling back to plaintext otherwise.
// The file is written atomically: readers never observe a partial write.
func (s *Store) Write(auth *Auth) error {
	if auth == nil {
		return utils.ValidationError("credentials must not be nil")
	}

	payload, err := json.Marshal(auth)
	if err != nil {
		return utils.ParseError(err, "failed to serialize credentials")
	}

	env := envelope{}
	if encrypted, err := s.encrypt(payload); err == nil {
		env.Scheme = schemeEncrypted
		env.Payload = encrypted
	} else {
		utils.Warnf("platform secure storage unavailable, storing credentials in plaintext: %v", err)
		env.Scheme = schemePlaintext
		env.Payload = base64.StdEncoding.EncodeToString(payload)
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return utils.ParseError(err, "failed to serialize credential envelope")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return utils.IOError(err, "failed to create credential directory")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return utils.IOError(err, "failed to write credentials")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return utils.IOError(err, "failed to move credentials into place")
	}
	return nil
}

// Clear deletes the backing file if present. Idempotent.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return utils.IOError(err, "failed to delete credentials")
	}
	return nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// encryptionKey fetches the AES key from the keyring, generating and
// storing one on first use.
func (s *Store) encryptionKey() ([]byte, error) {
	stored, err := s.keyring.Get(keyringService, keyringAccount)
	if err == nil && stored != "" {
		key, decodeErr := base64.StdEncoding.DecodeString(stored)
		if decodeErr == nil && len(key) == 32 {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := s.keyring.Set(keyringService, keyringAccount, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, err
	}
	return key, nil
}

// encrypt seals payload with AES-GCM under the keyring-held key.
func (s *Store) encrypt(payload []byte) (string, error) {
	key, err := s.encryptionKey()
	if err != nil {
		return "", err
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

	sealed := gcm.Seal(nonce, nonce, payload, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decrypt opens an AES-GCM payload sealed by encrypt.
func (s *Store) decrypt(encoded string) ([]byte, error) {
	key, err := s.encryptionKey()
	if err != nil {
		return nil, err
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
