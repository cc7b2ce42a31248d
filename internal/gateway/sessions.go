// Package gateway terminates external client connections and relays their
// traffic to the internal service mesh, attaching the identity of the
// logged-in user on the way in and finding the user's current connection on
// the way out.
package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/courtyard-project/courtyard/internal/protocol"
)

// Session is one authorized login.
//
// A session starts unbound. It is bound to a public connection by a client
// Hello carrying its token, and unbound again when that connection goes
// away. Unbound sessions are swept once they have been idle for the
// configured TTL.
type Session struct {
	Token   protocol.Token  `json:"token"`
	User    protocol.Token  `json:"user"`
	Display string          `json:"display"`
	ConnID  protocol.ConnID `json:"conn_id"`
	Bound   bool            `json:"bound"`

	CreatedAt    time.Time `json:"created_at"`
	UnboundSince time.Time `json:"unbound_since,omitempty"`
}

// Sessions is the gateway session table. It has its own lock, independent
// of any connection registry.
type Sessions struct {
	mu      sync.RWMutex
	byToken map[protocol.Token]*Session
	byConn  map[protocol.ConnID]protocol.Token
	now     func() time.Time
}

// NewSessions creates an empty table.
func NewSessions() *Sessions {
	return &Sessions{
		byToken: make(map[protocol.Token]*Session),
		byConn:  make(map[protocol.ConnID]protocol.Token),
		now:     time.Now,
	}
}

// Authorize creates the session for token, replacing any previous entry
// with the same token. The new session is unbound.
func (s *Sessions) Authorize(token, user protocol.Token, display string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byToken[token]; ok && old.Bound {
		delete(s.byConn, old.ConnID)
	}

	now := s.now()
	sess := &Session{
		Token:        token,
		User:         user,
		Display:      display,
		CreatedAt:    now,
		UnboundSince: now,
	}
	s.byToken[token] = sess
	return *sess
}

// Bind points token's session at connID. A connection represents at most
// one session, so a session previously bound to connID is unbound first.
func (s *Sessions) Bind(token protocol.Token, connID protocol.ConnID) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byToken[token]
	if !ok {
		return Session{}, false
	}

	if other, taken := s.byConn[connID]; taken && other != token {
		s.unbindLocked(s.byToken[other])
	}
	if sess.Bound && sess.ConnID != connID {
		delete(s.byConn, sess.ConnID)
	}

	sess.ConnID = connID
	sess.Bound = true
	sess.UnboundSince = time.Time{}
	s.byConn[connID] = token
	return *sess, true
}

// Unbind detaches whichever session is bound to connID.
func (s *Sessions) Unbind(connID protocol.ConnID) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byConn[connID]
	if !ok {
		return Session{}, false
	}
	sess := s.byToken[token]
	s.unbindLocked(sess)
	return *sess, true
}

func (s *Sessions) unbindLocked(sess *Session) {
	if sess == nil || !sess.Bound {
		return
	}
	delete(s.byConn, sess.ConnID)
	sess.Bound = false
	sess.ConnID = 0
	sess.UnboundSince = s.now()
}

// Lookup returns a copy of token's session.
func (s *Sessions) Lookup(token protocol.Token) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byToken[token]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Remove deletes token's session.
func (s *Sessions) Remove(token protocol.Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byToken[token]
	if !ok {
		return false
	}
	if sess.Bound {
		delete(s.byConn, sess.ConnID)
	}
	delete(s.byToken, token)
	return true
}

// Sweep removes sessions that have been unbound for longer than ttl and
// returns them.
func (s *Sessions) Sweep(ttl time.Duration) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	var expired []Session
	for token, sess := range s.byToken {
		if !sess.Bound && sess.UnboundSince.Before(cutoff) {
			expired = append(expired, *sess)
			delete(s.byToken, token)
		}
	}
	return expired
}

// Snapshot returns every session, oldest first.
func (s *Sessions) Snapshot() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.byToken))
	for _, sess := range s.byToken {
		out = append(out, *sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byToken)
}
