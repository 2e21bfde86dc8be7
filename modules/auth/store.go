package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/guarzo/authsession/common"
)

// DefaultCredentialTTL is how long a stored credential is kept.
const DefaultCredentialTTL = 30 * 24 * time.Hour

// PersistingAuthenticator stores every refreshed credential in a cache and
// seeds new coordinators from it.
type PersistingAuthenticator struct {
	Authenticator
	cache  common.CacheRepository
	key    string
	ttl    time.Duration
	logger common.Logger
}

// Persisting wraps a so refreshed credentials are saved under key.
func Persisting(a Authenticator, cache common.CacheRepository, key string) *PersistingAuthenticator {
	return &PersistingAuthenticator{
		Authenticator: a,
		cache:         cache,
		key:           key,
		ttl:           DefaultCredentialTTL,
		logger:        common.NopLogger(),
	}
}

// WithTTL sets the cache expiration for saved credentials.
func (p *PersistingAuthenticator) WithTTL(ttl time.Duration) *PersistingAuthenticator {
	if ttl > 0 {
		p.ttl = ttl
	}
	return p
}

func (p *PersistingAuthenticator) WithLogger(l common.Logger) *PersistingAuthenticator {
	if l != nil {
		p.logger = l
	}
	return p
}

func (p *PersistingAuthenticator) Refresh(ctx context.Context, current *Credential) (Credential, error) {
	cred, err := p.Authenticator.Refresh(ctx, current)
	if err != nil {
		return cred, err
	}
	p.Save(ctx, cred)
	return cred, nil
}

// Load implements CredentialLoader.
func (p *PersistingAuthenticator) Load() (Credential, bool) {
	data, found := p.cache.Get(p.key)
	if !found {
		return Credential{}, false
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		p.logger.Warn(context.Background(), "discarding unreadable stored credential", "key", p.key, "error", err)
		p.cache.Delete(p.key)
		return Credential{}, false
	}
	return cred, true
}

func (p *PersistingAuthenticator) Save(ctx context.Context, cred Credential) {
	cred.RequiresRefresh = false
	data, err := json.Marshal(cred)
	if err != nil {
		p.logger.Warn(ctx, "failed to encode credential", "key", p.key, "error", err)
		return
	}
	p.cache.Set(p.key, data, p.ttl)
}

// Forget removes the stored credential.
func (p *PersistingAuthenticator) Forget() {
	p.cache.Delete(p.key)
}
