package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/telecare/consult/internal/core"
	"github.com/telecare/consult/internal/domain"
)

// Presence maps a user identity to the set of its live connections.
// A user may hold several connections at once (multi-tab, reconnect);
// a connection belongs to at most one user entry.
type Presence struct {
	mu     sync.RWMutex
	byConn map[core.ConnID]core.Client
	byUser map[domain.UserID]map[core.ConnID]core.Client
}

func NewPresence() *Presence {
	return &Presence{
		byConn: make(map[core.ConnID]core.Client),
		byUser: make(map[domain.UserID]map[core.ConnID]core.Client),
	}
}

// Register adds the connection under its user's entry. Idempotent.
// Anonymous clients (missing or malformed handshake identity) are left
// unregistered so they can never send or receive call traffic; the
// connection itself stays open.
func (p *Presence) Register(c core.Client) {
	if c.Anonymous() {
		log.Warn().Str("module", "app.presence").Str("conn", string(c.ID())).Msg("anonymous connection left unregistered")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byConn[c.ID()]; ok {
		return
	}
	p.byConn[c.ID()] = c
	set, ok := p.byUser[c.User()]
	if !ok {
		set = make(map[core.ConnID]core.Client)
		p.byUser[c.User()] = set
	}
	set[c.ID()] = c
	log.Info().Str("module", "app.presence").Str("conn", string(c.ID())).Str("user", string(c.User())).Str("role", string(c.Role())).Msg("registered")
}

// Unregister removes the connection from whatever entry holds it.
// Safe to call repeatedly and for unknown connection ids.
func (p *Presence) Unregister(id core.ConnID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.byConn[id]
	if !ok {
		return
	}
	delete(p.byConn, id)
	if set, ok := p.byUser[c.User()]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(p.byUser, c.User())
		}
	}
	log.Info().Str("module", "app.presence").Str("conn", string(id)).Str("user", string(c.User())).Msg("unregistered")
}

// Lookup returns every live connection of the user, empty if offline.
func (p *Presence) Lookup(user domain.UserID) []core.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.byUser[user]
	out := make([]core.Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Online is the reachability query used before a session is created.
func (p *Presence) Online(user domain.UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser[user]) > 0
}

// ConnectionCount reports how many connections the user currently holds.
func (p *Presence) ConnectionCount(user domain.UserID) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser[user])
}

// Get resolves a connection id back to its registered client.
func (p *Presence) Get(id core.ConnID) (core.Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.byConn[id]
	return c, ok
}
