package app

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telecare/consult/internal/domain"
)

var (
	ErrUnknownCall    = errors.New("call not found")
	ErrCallOver       = errors.New("call already over")
	ErrNotRinging     = errors.New("call is not ringing")
	ErrNotCallee      = errors.New("only the callee may do this")
	ErrNotCaller      = errors.New("only the caller may do this")
	ErrNotParticipant = errors.New("not a participant of this call")
	ErrPairBusy       = errors.New("call already in progress")
)

// session guards one call record with its own mutex so unrelated calls
// never contend. The ring timer is the race-to-finality side: whichever
// of accept/reject/timeout lands first wins, the rest are no-ops.
type session struct {
	mu        sync.Mutex
	call      domain.Call
	ringTimer *time.Timer
}

// SessionStore holds every in-flight call. Terminal calls are removed,
// so a late event for them resolves to ErrUnknownCall, which adapters
// report as a benign no-op rather than a server fault.
type SessionStore struct {
	mu          sync.RWMutex
	byID        map[domain.CallID]*session
	byPair      map[string]domain.CallID
	ringTimeout time.Duration
	onTimeout   func(domain.Call)
}

func NewSessionStore(ringTimeout time.Duration) *SessionStore {
	return &SessionStore{
		byID:        make(map[domain.CallID]*session),
		byPair:      make(map[string]domain.CallID),
		ringTimeout: ringTimeout,
	}
}

// OnTimeout installs the callback fired when a ringing call expires.
// Must be set before the store is shared.
func (st *SessionStore) OnTimeout(fn func(domain.Call)) {
	st.onTimeout = fn
}

// Create registers a new ringing call. Callee reachability has already
// been confirmed by the router, so the requested state collapses into
// ringing at creation. At most one live call per unordered pair.
func (st *SessionStore) Create(caller, callee domain.UserID, contextRef string) (domain.Call, error) {
	key := domain.PairKey(caller, callee)

	st.mu.Lock()
	if _, busy := st.byPair[key]; busy {
		st.mu.Unlock()
		return domain.Call{}, ErrPairBusy
	}
	call := domain.Call{
		ID:        domain.NewCallID(),
		Caller:    caller,
		Callee:    callee,
		State:     domain.StateRinging,
		Context:   contextRef,
		CreatedAt: time.Now(),
	}
	s := &session{call: call}
	st.byID[call.ID] = s
	st.byPair[key] = call.ID
	st.mu.Unlock()

	if st.ringTimeout > 0 {
		cid := call.ID
		s.mu.Lock()
		s.ringTimer = time.AfterFunc(st.ringTimeout, func() { st.expire(cid) })
		s.mu.Unlock()
	}
	log.Info().Str("module", "app.sessions").Str("call", string(call.ID)).Str("caller", string(caller)).Str("callee", string(callee)).Msg("call ringing")
	return call, nil
}

// Accept moves a ringing call to accepted. A repeat accept while
// already accepted or active reconfirms without side effects; first
// reports whether this invocation performed the transition.
func (st *SessionStore) Accept(cid domain.CallID, by domain.UserID) (call domain.Call, first bool, err error) {
	s, ok := st.get(cid)
	if !ok {
		return domain.Call{}, false, ErrUnknownCall
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.call.State.Terminal():
		return domain.Call{}, false, ErrCallOver
	case by != s.call.Callee:
		return domain.Call{}, false, ErrNotCallee
	case s.call.State == domain.StateAccepted || s.call.State == domain.StateActive:
		return s.call, false, nil
	}
	s.stopRingTimer()
	s.call.State = domain.StateAccepted
	s.call.AcceptedAt = time.Now()
	log.Info().Str("module", "app.sessions").Str("call", string(cid)).Msg("call accepted")
	return s.call, true, nil
}

// Reject terminates a ringing call on behalf of the callee.
func (st *SessionStore) Reject(cid domain.CallID, by domain.UserID, reason string) (domain.Call, error) {
	s, ok := st.get(cid)
	if !ok {
		return domain.Call{}, ErrUnknownCall
	}
	s.mu.Lock()
	switch {
	case s.call.State.Terminal():
		s.mu.Unlock()
		return domain.Call{}, ErrCallOver
	case by != s.call.Callee:
		s.mu.Unlock()
		return domain.Call{}, ErrNotCallee
	case s.call.State != domain.StateRinging:
		s.mu.Unlock()
		return domain.Call{}, ErrNotRinging
	}
	call := s.finalize(domain.StateRejected, reason)
	s.mu.Unlock()

	st.remove(call)
	log.Info().Str("module", "app.sessions").Str("call", string(cid)).Str("reason", reason).Msg("call rejected")
	return call, nil
}

// Cancel lets the caller withdraw a still-ringing request.
func (st *SessionStore) Cancel(cid domain.CallID, by domain.UserID) (domain.Call, error) {
	s, ok := st.get(cid)
	if !ok {
		return domain.Call{}, ErrUnknownCall
	}
	s.mu.Lock()
	switch {
	case s.call.State.Terminal():
		s.mu.Unlock()
		return domain.Call{}, ErrCallOver
	case by != s.call.Caller:
		s.mu.Unlock()
		return domain.Call{}, ErrNotCaller
	case s.call.State != domain.StateRinging:
		s.mu.Unlock()
		return domain.Call{}, ErrNotRinging
	}
	call := s.finalize(domain.StateCancelled, domain.ReasonCancelled)
	s.mu.Unlock()

	st.remove(call)
	log.Info().Str("module", "app.sessions").Str("call", string(cid)).Msg("call cancelled")
	return call, nil
}

// Activate promotes an accepted call once the first offer is relayed.
// Idempotent; any other state is left untouched.
func (st *SessionStore) Activate(cid domain.CallID) {
	s, ok := st.get(cid)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.call.State == domain.StateAccepted {
		s.call.State = domain.StateActive
		log.Debug().Str("module", "app.sessions").Str("call", string(cid)).Msg("call active")
	}
	s.mu.Unlock()
}

// End terminates a call from any non-terminal state on behalf of either
// participant.
func (st *SessionStore) End(cid domain.CallID, by domain.UserID, reason string) (domain.Call, error) {
	s, ok := st.get(cid)
	if !ok {
		return domain.Call{}, ErrUnknownCall
	}
	s.mu.Lock()
	switch {
	case s.call.State.Terminal():
		s.mu.Unlock()
		return domain.Call{}, ErrCallOver
	case !s.call.Participant(by):
		s.mu.Unlock()
		return domain.Call{}, ErrNotParticipant
	}
	call := s.finalize(domain.StateEnded, reason)
	s.mu.Unlock()

	st.remove(call)
	log.Info().Str("module", "app.sessions").Str("call", string(cid)).Str("reason", reason).Msg("call ended")
	return call, nil
}

// Get returns a snapshot of a live call.
func (st *SessionStore) Get(cid domain.CallID) (domain.Call, bool) {
	s, ok := st.get(cid)
	if !ok {
		return domain.Call{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call, true
}

// CallsOf snapshots every live call the user participates in.
func (st *SessionStore) CallsOf(user domain.UserID) []domain.Call {
	st.mu.RLock()
	sessions := make([]*session, 0, len(st.byID))
	for _, s := range st.byID {
		sessions = append(sessions, s)
	}
	st.mu.RUnlock()

	var out []domain.Call
	for _, s := range sessions {
		s.mu.Lock()
		if s.call.Participant(user) && !s.call.State.Terminal() {
			out = append(out, s.call)
		}
		s.mu.Unlock()
	}
	return out
}

// Live snapshots every non-terminal call.
func (st *SessionStore) Live() []domain.Call {
	st.mu.RLock()
	sessions := make([]*session, 0, len(st.byID))
	for _, s := range st.byID {
		sessions = append(sessions, s)
	}
	st.mu.RUnlock()

	out := make([]domain.Call, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		if !s.call.State.Terminal() {
			out = append(out, s.call)
		}
		s.mu.Unlock()
	}
	return out
}

// Count reports the number of live calls, for introspection.
func (st *SessionStore) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}

// expire is the ring-timer arm of the finality race. It loses cleanly
// to any transition that already advanced the call.
func (st *SessionStore) expire(cid domain.CallID) {
	s, ok := st.get(cid)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.call.State != domain.StateRinging {
		s.mu.Unlock()
		return
	}
	call := s.finalize(domain.StateTimedOut, domain.ReasonTimeout)
	s.mu.Unlock()

	st.remove(call)
	log.Info().Str("module", "app.sessions").Str("call", string(cid)).Msg("call timed out")
	if st.onTimeout != nil {
		st.onTimeout(call)
	}
}

func (st *SessionStore) get(cid domain.CallID) (*session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.byID[cid]
	return s, ok
}

// remove drops a terminal call from the indexes. Later events for its
// id resolve to ErrUnknownCall.
func (st *SessionStore) remove(call domain.Call) {
	key := domain.PairKey(call.Caller, call.Callee)
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.byID, call.ID)
	if st.byPair[key] == call.ID {
		delete(st.byPair, key)
	}
}

// finalize must be called with s.mu held.
func (s *session) finalize(state domain.CallState, reason string) domain.Call {
	s.stopRingTimer()
	s.call.State = state
	s.call.Reason = reason
	s.call.EndedAt = time.Now()
	return s.call
}

// stopRingTimer must be called with s.mu held.
func (s *session) stopRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}
