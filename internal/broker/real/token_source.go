package real

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// CredentialTokenSource adapts a domain.BrokerCredentialStore (the
// encrypted-at-rest Postgres store) into the TokenSource shape this package
// consumes, so the broker adapter never depends on a concrete storage
// package directly.
type CredentialTokenSource struct {
	store        domain.BrokerCredentialStore
	accountIndex int
}

// NewCredentialTokenSource builds a CredentialTokenSource for accountIndex.
func NewCredentialTokenSource(store domain.BrokerCredentialStore, accountIndex int) *CredentialTokenSource {
	return &CredentialTokenSource{store: store, accountIndex: accountIndex}
}

// Token loads the current access/refresh token pair for this account.
func (s *CredentialTokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	creds, err := s.store.Get(ctx, s.accountIndex)
	if err != nil {
		return nil, fmt.Errorf("credential token source: load account %d: %w", s.accountIndex, err)
	}
	return &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.ExpiresAt,
	}, nil
}

// SaveToken persists a freshly refreshed token pair.
func (s *CredentialTokenSource) SaveToken(ctx context.Context, tok *oauth2.Token) error {
	err := s.store.Upsert(ctx, domain.BrokerCredentials{
		AccountIndex: s.accountIndex,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("credential token source: save account %d: %w", s.accountIndex, err)
	}
	return nil
}

var _ TokenSource = (*CredentialTokenSource)(nil)
