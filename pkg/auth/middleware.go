package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/log"
)

// HandlerFunc is an authenticated handler: the recovered address is passed
// explicitly rather than smuggled through the request context, per
// the preferred alternative to the source's extension-threading
// pattern.
type HandlerFunc func(addr Address, w http.ResponseWriter, r *http.Request)

// Middleware wraps an authenticated handler. It accepts either a signature
// header or, failing that, a valid API key; keys are only consulted when no
// signature header is present at all.
type Middleware struct {
	Keys *KeyStore
	Now func() time.Time // overridable for tests
}

// NewMiddleware returns a Middleware backed by the given key store.
func NewMiddleware(keys *KeyStore) *Middleware {
	return &Middleware{Keys: keys, Now: time.Now}
}

// Wrap produces an http.HandlerFunc that authenticates the request and
// delegates to next with the recovered principal address.
func (m *Middleware) Wrap(next HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")

		if header == "" {
			if m.Keys != nil {
				if key := extractAPIKey(r); key != "" {
					remoteIP := remoteHost(r)
					validated, err := m.Keys.Validate(key, remoteIP, r.URL.Path)
					if err != nil {
						log.WithComponent("auth").Warn().Str("path", r.URL.Path).Msg("api key rejected")
						apierr.WriteError(w, err)
						return
					}
					next(Address(validated.Account), w, r)
					return
				}
			}
			apierr.WriteError(w, apierr.ErrMissingSignature)
			return
		}

		addr, err := VerifyAndRecover(header, m.Now())
		if err != nil {
			log.WithComponent("auth").Warn().Str("path", r.URL.Path).Msg("signature rejected")
			apierr.WriteError(w, err)
			return
		}
		next(addr, w, r)
	}
}

func extractAPIKey(r *http.Request) string {
	if v := r.Header.Get("X-Api-Key"); strings.HasPrefix(v, "sk_") {
		return v
	}
	return ""
}

func remoteHost(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
