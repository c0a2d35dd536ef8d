// Package credential resolves per-realm credentials from the control-plane
// credential store and owns the in-memory handling of secrets.
package credential

import (
	"context"
	"errors"
	"fmt"
)

// Credential is a username and secret scoped to one realm. The secret is held
// as a byte slice so it can be wiped after its one-time use in a session-open
// call.
type Credential struct {
	Username string
	Secret   []byte
}

// Wipe zeroes the secret in place. Call it as soon as the credential has been
// consumed by a session-open call.
func (c *Credential) Wipe() {
	for i := range c.Secret {
		c.Secret[i] = 0
	}
	c.Secret = nil
}

// Entry is one record of the control-plane credential store
type Entry struct {
	Username    string
	Secret      string
	RealmID     string
	GroupingID  string
	AccountType string
}

// Store reads entries from the control-plane credential store. The scope is
// either SystemScope for the management realm's designated credential or a
// realm identifier for an isolated realm.
type Store interface {
	ListCredentials(ctx context.Context, scope string) ([]Entry, error)
}

// SystemScope selects the designated system credential of the control plane's
// management realm.
const SystemScope = "SYSTEM"

var (
	// ErrNotFound indicates the credential store has no entry for the realm
	ErrNotFound = errors.New("credential not found")

	// ErrInsufficientPermission indicates the calling principal lacks rights
	// to read the credential store. Distinguished from ErrNotFound so the
	// caller can give different guidance.
	ErrInsufficientPermission = errors.New("insufficient permission to read credentials")
)

// Resolver resolves credentials per realm, once per run
type Resolver struct {
	store Store
	cache map[string]Credential
}

// NewResolver creates a new resolver backed by the given store
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[string]Credential),
	}
}

// Resolve obtains the credential to use for a target belonging to the given
// realm. A target in the management (primary) realm uses the designated
// system credential; any other realm triggers a lookup scoped to that realm's
// own identifier.
func (r *Resolver) Resolve(ctx context.Context, realmID string, primary bool) (Credential, error) {
	scope := realmID
	if primary {
		scope = SystemScope
	}

	// Hand out a copy of the cached secret: the caller wipes its copy after
	// use, which must not destroy the per-run cache entry.
	if cached, ok := r.cache[scope]; ok {
		return cached.Clone(), nil
	}

	entries, err := r.store.ListCredentials(ctx, scope)
	if err != nil {
		if errors.Is(err, ErrInsufficientPermission) {
			return Credential{}, fmt.Errorf("reading credential store for realm %s: %w", realmID, ErrInsufficientPermission)
		}
		return Credential{}, fmt.Errorf("reading credential store for realm %s: %w", realmID, err)
	}

	entry, ok := pick(entries, scope)
	if !ok {
		return Credential{}, fmt.Errorf("realm %s: %w", realmID, ErrNotFound)
	}

	cred := Credential{
		Username: entry.Username,
		Secret:   []byte(entry.Secret),
	}

	// Scrub the plaintext secrets out of the intermediate entries now that
	// the credential value has been constructed.
	for i := range entries {
		entries[i].Secret = ""
	}

	r.cache[scope] = cred
	return cred.Clone(), nil
}

// Clone copies the credential so the caller can wipe its copy independently
func (c Credential) Clone() Credential {
	return Credential{
		Username: c.Username,
		Secret:   append([]byte(nil), c.Secret...),
	}
}

// WipeAll wipes every cached credential. Invoked at end of run.
func (r *Resolver) WipeAll() {
	for scope, cred := range r.cache {
		cred.Wipe()
		delete(r.cache, scope)
	}
}

// pick selects the store entry for the requested scope. For the system scope
// any SYSTEM-typed entry qualifies; otherwise the entry must belong to the
// requested realm.
func pick(entries []Entry, scope string) (Entry, bool) {
	for _, e := range entries {
		if scope == SystemScope {
			if e.AccountType == "" || e.AccountType == SystemScope {
				return e, true
			}
			continue
		}
		if e.RealmID == scope {
			return e, true
		}
	}
	return Entry{}, false
}
