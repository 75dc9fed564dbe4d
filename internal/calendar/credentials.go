package calendar

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/oauth2"
)

// CredentialStore reads per-user calendar OAuth tokens. Tokens are written
// by the onboarding flow; this process only reads and decrypts them.
type CredentialStore interface {
	GetToken(ctx context.Context, userID string) (*oauth2.Token, error)
}

// TokenCipher seals token JSON with AES-GCM. Nonce is prepended to the
// ciphertext.
type TokenCipher struct {
	aead cipher.AEAD
}

func NewTokenCipher(base64Key string) (*TokenCipher, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("calendar: token key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("calendar: token key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{aead: aead}, nil
}

func (c *TokenCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *TokenCipher) Decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < c.aead.NonceSize() {
		return nil, errors.New("calendar: ciphertext too short")
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	return c.aead.Open(nil, nonce, ciphertext, nil)
}

// PostgresCredentialStore reads encrypted tokens from calendar_credentials.
type PostgresCredentialStore struct {
	db     *sql.DB
	cipher *TokenCipher
}

func NewPostgresCredentialStore(db *sql.DB, cipher *TokenCipher) *PostgresCredentialStore {
	return &PostgresCredentialStore{db: db, cipher: cipher}
}

var _ CredentialStore = (*PostgresCredentialStore)(nil)

func (s *PostgresCredentialStore) GetToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	const q = `
		SELECT token_ciphertext
		FROM calendar_credentials
		WHERE user_id = $1
	`
	var sealed []byte
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("calendar: load credential: %w", err)
	}

	plain, err := s.cipher.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("calendar: decrypt credential for user %s: %w", userID, err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(plain, &token); err != nil {
		return nil, fmt.Errorf("calendar: decode credential: %w", err)
	}
	return &token, nil
}

// MemoryCredentialStore holds plaintext tokens for tests.
type MemoryCredentialStore struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.Token
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{tokens: make(map[string]*oauth2.Token)}
}

var _ CredentialStore = (*MemoryCredentialStore)(nil)

func (s *MemoryCredentialStore) Put(userID string, token *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
}

func (s *MemoryCredentialStore) GetToken(_ context.Context, userID string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[userID]
	if !ok {
		return nil, ErrNoCredential
	}
	return t, nil
}
