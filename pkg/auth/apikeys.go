package auth

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/types"
)

// KeyStore is an in-memory, mutex-guarded registry of API keys, the
// signature-free alt-path for callers that can't sign requests directly.
// Persistence is left to the state store's Account records in a future
// iteration; for now keys live for the process lifetime.
type KeyStore struct {
	mu sync.RWMutex
	keys map[string]*types.APIKey
}

// NewKeyStore returns an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]*types.APIKey)}
}

// Issue creates a new key scoped to an account.
func (ks *KeyStore) Issue(account string, scope types.APIKeyScope, expiresAt *time.Time, ipAllowList []string) *types.APIKey {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	key := &types.APIKey{
		ID: "sk_" + uuid.NewString(),
		Account: account,
		Scope: scope,
		Status: types.APIKeyActive,
		ExpiresAt: expiresAt,
		IPAllowList: ipAllowList,
	}
	ks.keys[key.ID] = key
	return key
}

// Revoke marks a key Revoked; future validations fail.
func (ks *KeyStore) Revoke(id string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	k, ok := ks.keys[id]
	if !ok {
		return apierr.New(apierr.KindNotFound, "api key not found")
	}
	k.Status = types.APIKeyRevoked
	return nil
}

// Validate checks a key's status, expiry, and IP allow-list, recording an
// audit event regardless of outcome.
func (ks *KeyStore) Validate(id, remoteIP, path string) (*types.APIKey, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	k, ok := ks.keys[id]
	if !ok {
		return nil, apierr.New(apierr.KindAuthentication, "unknown api key")
	}

	status := 200
	defer func() { k.RecordAudit(types.APIKeyAuditEvent{At: time.Now(), Path: path, Status: status}) }()

	if k.Status == types.APIKeyRevoked {
		status = 401
		return nil, apierr.New(apierr.KindAuthentication, "api key revoked")
	}
	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		k.Status = types.APIKeyExpired
		status = 401
		return nil, apierr.New(apierr.KindAuthentication, "api key expired")
	}
	if len(k.IPAllowList) > 0 && remoteIP != "" {
		allowed := false
		ip := net.ParseIP(remoteIP)
		for _, cidrOrIP := range k.IPAllowList {
			if cidrOrIP == remoteIP {
				allowed = true
				break
			}
			if _, cidr, err := net.ParseCIDR(cidrOrIP); err == nil && ip != nil && cidr.Contains(ip) {
				allowed = true
				break
			}
		}
		if !allowed {
			status = 401
			return nil, apierr.New(apierr.KindAuthentication, "source ip not allow-listed")
		}
	}
	return k, nil
}
