package progress

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// State counts chunks for one synthesis pass. Current is the chunk in flight
// (1-based) and equals Total once the pass finishes.
type State struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Handle is the progress slot owned by a single request.
type Handle struct {
	token string
	mu    sync.Mutex
	state State
}

func (h *Handle) Token() string { return h.token }

func (h *Handle) SetTotal(n int) {
	h.mu.Lock()
	h.state.Total = n
	h.mu.Unlock()
}

// Start marks chunk k as in progress. Current never moves backwards.
func (h *Handle) Start(k int) {
	h.mu.Lock()
	if k > h.state.Current {
		h.state.Current = k
	}
	h.mu.Unlock()
}

func (h *Handle) Complete() {
	h.mu.Lock()
	h.state.Current = h.state.Total
	h.mu.Unlock()
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Tracker keeps the most recent handles, evicting the least recently used
// once capacity is reached.
type Tracker struct {
	handles *lru.Cache[string, *Handle]
	mu      sync.Mutex
	latest  *Handle
}

func NewTracker(capacity int) (*Tracker, error) {
	cache, err := lru.New[string, *Handle](capacity)
	if err != nil {
		return nil, fmt.Errorf("create progress table: %w", err)
	}
	return &Tracker{handles: cache}, nil
}

// Begin starts a fresh {0,0} slot under token, generating one when empty.
// Reusing a token replaces the earlier slot.
func (t *Tracker) Begin(token string) *Handle {
	token = strings.TrimSpace(token)
	if token == "" {
		token = uuid.NewString()
	}
	h := &Handle{token: token}
	t.handles.Add(token, h)
	t.mu.Lock()
	t.latest = h
	t.mu.Unlock()
	return h
}

func (t *Tracker) Get(token string) (State, bool) {
	h, ok := t.handles.Get(token)
	if !ok {
		return State{}, false
	}
	return h.State(), true
}

// Latest reports the most recently begun request, or {0,0} before any.
func (t *Tracker) Latest() State {
	t.mu.Lock()
	h := t.latest
	t.mu.Unlock()
	if h == nil {
		return State{}
	}
	return h.State()
}
