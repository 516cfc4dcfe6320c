package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onchainhedge/hedgebridge/internal/crypto"
	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// CredentialStore implements domain.BrokerCredentialStore. Access and
// refresh tokens are encrypted at rest with a TokenCipher; the database never
// sees plaintext token material.
type CredentialStore struct {
	pool   *pgxpool.Pool
	cipher *crypto.TokenCipher
}

// NewCredentialStore creates a new CredentialStore using cipher to
// encrypt/decrypt token columns.
func NewCredentialStore(pool *pgxpool.Pool, cipher *crypto.TokenCipher) *CredentialStore {
	return &CredentialStore{pool: pool, cipher: cipher}
}

func (s *CredentialStore) Get(ctx context.Context, accountIndex int) (domain.BrokerCredentials, error) {
	const query = `
		SELECT account_index, access_token_enc, refresh_token_enc, expires_at, updated_at
		FROM broker_tokens WHERE account_index = $1`

	var accessEnc, refreshEnc string
	var creds domain.BrokerCredentials
	err := s.pool.QueryRow(ctx, query, accountIndex).Scan(
		&creds.AccountIndex, &accessEnc, &refreshEnc, &creds.ExpiresAt, &creds.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BrokerCredentials{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BrokerCredentials{}, fmt.Errorf("postgres: get broker credentials %d: %w", accountIndex, err)
	}

	creds.AccessToken, err = s.cipher.Decrypt(accessEnc)
	if err != nil {
		return domain.BrokerCredentials{}, fmt.Errorf("postgres: decrypt access token for account %d: %w", accountIndex, err)
	}
	creds.RefreshToken, err = s.cipher.Decrypt(refreshEnc)
	if err != nil {
		return domain.BrokerCredentials{}, fmt.Errorf("postgres: decrypt refresh token for account %d: %w", accountIndex, err)
	}
	return creds, nil
}

func (s *CredentialStore) Upsert(ctx context.Context, creds domain.BrokerCredentials) error {
	accessEnc, err := s.cipher.Encrypt(creds.AccessToken)
	if err != nil {
		return fmt.Errorf("postgres: encrypt access token for account %d: %w", creds.AccountIndex, err)
	}
	refreshEnc, err := s.cipher.Encrypt(creds.RefreshToken)
	if err != nil {
		return fmt.Errorf("postgres: encrypt refresh token for account %d: %w", creds.AccountIndex, err)
	}

	const query = `
		INSERT INTO broker_tokens (account_index, access_token_enc, refresh_token_enc, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (account_index) DO UPDATE SET
			access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, creds.AccountIndex, accessEnc, refreshEnc, creds.ExpiresAt); err != nil {
		return fmt.Errorf("postgres: upsert broker credentials %d: %w", creds.AccountIndex, err)
	}
	return nil
}

var _ domain.BrokerCredentialStore = (*CredentialStore)(nil)
