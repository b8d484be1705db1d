package app

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/telecare/consult/internal/core"
	"github.com/telecare/consult/internal/domain"
)

// fakeConn records every frame the router pushes at it.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return ErrSendFailed
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {}

var ErrSendFailed = errors.New("send failed")

// raw returns the recorded frames as-is.
func (f *fakeConn) raw() []core.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

// events decodes every recorded frame into a generic map.
func (f *fakeConn) events() []map[string]any {
	var out []map[string]any
	for _, fr := range f.raw() {
		var m map[string]any
		if err := json.Unmarshal(fr, &m); err != nil {
			m = map[string]any{"type": "_undecodable"}
		}
		out = append(out, m)
	}
	return out
}

// eventsOfType filters decoded frames by their envelope tag.
func (f *fakeConn) eventsOfType(t string) []map[string]any {
	var out []map[string]any
	for _, e := range f.events() {
		if e["type"] == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeClient struct {
	core.Client
	conn *fakeConn
}

func newFakeClient(id core.ConnID, user domain.UserID, role domain.Role) *fakeClient {
	conn := &fakeConn{}
	return &fakeClient{
		Client: core.NewClient(id, user, role, conn),
		conn:   conn,
	}
}
