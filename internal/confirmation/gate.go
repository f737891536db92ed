package confirmation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found or already expired")
	ErrSessionExpired  = errors.New("confirmation session expired")
)

type pendingDecision struct {
	SessionID string
	RunID     string
	CreatedAt time.Time

	decisionCh chan bool
	done       chan struct{}
	closeOnce  sync.Once
	resolved   bool
}

func (p *pendingDecision) closeDone() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// PendingView is a read-only snapshot of a live session.
type PendingView struct {
	SessionID string
	RunID     string
	CreatedAt time.Time
	Resolved  bool
}

// Gate holds the single-use confirmation sessions of all runs. A run
// creates a session, publishes its id, and blocks in Await until a
// separate request resolves it.
type Gate struct {
	mu        sync.Mutex
	bySession map[string]*pendingDecision
	byRun     map[string]string
	timeout   time.Duration
	now       func() time.Time
}

// NewGate returns a gate. A positive timeout bounds every Await; zero waits
// until the session is resolved.
func NewGate(timeout time.Duration) *Gate {
	if timeout < 0 {
		timeout = 0
	}
	return &Gate{
		bySession: make(map[string]*pendingDecision),
		byRun:     make(map[string]string),
		timeout:   timeout,
		now:       time.Now,
	}
}

// Create opens a pending session for runID. A run may hold at most one.
func (g *Gate) Create(runID string) (string, error) {
	if g == nil {
		return "", fmt.Errorf("confirmation gate is nil")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return "", fmt.Errorf("run_id is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.byRun[runID]; ok {
		return "", fmt.Errorf("run %s already waiting for confirmation (session %s)", runID, existing)
	}
	sessionID := uuid.NewString()
	g.bySession[sessionID] = &pendingDecision{
		SessionID:  sessionID,
		RunID:      runID,
		CreatedAt:  g.now(),
		decisionCh: make(chan bool, 1),
		done:       make(chan struct{}),
	}
	g.byRun[runID] = sessionID
	return sessionID, nil
}

// Resolve records the decision for sessionID and wakes its waiter. Unknown
// and already resolved sessions report ErrSessionNotFound.
func (g *Gate) Resolve(sessionID string, confirmed bool) error {
	if g == nil {
		return fmt.Errorf("confirmation gate is nil")
	}
	sessionID = strings.TrimSpace(sessionID)

	g.mu.Lock()
	defer g.mu.Unlock()

	pending, ok := g.bySession[sessionID]
	if !ok || pending.resolved {
		return ErrSessionNotFound
	}
	pending.resolved = true
	pending.decisionCh <- confirmed
	return nil
}

// Await blocks until sessionID is resolved, the gate timeout elapses or ctx
// ends. The session is removed in every case.
func (g *Gate) Await(ctx context.Context, sessionID string) (bool, error) {
	if g == nil {
		return false, fmt.Errorf("confirmation gate is nil")
	}
	sessionID = strings.TrimSpace(sessionID)

	g.mu.Lock()
	pending, ok := g.bySession[sessionID]
	g.mu.Unlock()
	if !ok {
		return false, ErrSessionNotFound
	}
	defer g.remove(pending)

	var timeoutCh <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case confirmed := <-pending.decisionCh:
		return confirmed, nil
	case <-pending.done:
		return g.settle(pending, ErrSessionExpired)
	case <-timeoutCh:
		return g.settle(pending, ErrSessionExpired)
	case <-ctx.Done():
		return g.settle(pending, ctx.Err())
	}
}

// settle decides a wait that ended without reading a decision. A Resolve
// that won the lock first is honored; otherwise the session is dropped under
// the same lock so a late Resolve reports ErrSessionNotFound.
func (g *Gate) settle(p *pendingDecision, cause error) (bool, error) {
	g.mu.Lock()
	if p.resolved {
		g.mu.Unlock()
		select {
		case confirmed := <-p.decisionCh:
			return confirmed, nil
		default:
			return false, cause
		}
	}
	g.removeLocked(p)
	g.mu.Unlock()
	p.closeDone()
	return false, cause
}

// Clear drops the session of runID, releasing its waiter with ErrSessionExpired.
func (g *Gate) Clear(runID string) {
	if g == nil {
		return
	}
	runID = strings.TrimSpace(runID)

	g.mu.Lock()
	sessionID, ok := g.byRun[runID]
	var pending *pendingDecision
	if ok {
		pending = g.bySession[sessionID]
	}
	g.mu.Unlock()
	if pending != nil {
		g.remove(pending)
	}
}

// Pending returns the live session of runID, if any.
func (g *Gate) Pending(runID string) (PendingView, bool) {
	if g == nil {
		return PendingView{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sessionID, ok := g.byRun[strings.TrimSpace(runID)]
	if !ok {
		return PendingView{}, false
	}
	p := g.bySession[sessionID]
	return PendingView{SessionID: p.SessionID, RunID: p.RunID, CreatedAt: p.CreatedAt, Resolved: p.resolved}, true
}

func (g *Gate) remove(p *pendingDecision) {
	g.mu.Lock()
	g.removeLocked(p)
	g.mu.Unlock()
	p.closeDone()
}

func (g *Gate) removeLocked(p *pendingDecision) {
	if cur, ok := g.bySession[p.SessionID]; ok && cur == p {
		delete(g.bySession, p.SessionID)
	}
	if cur, ok := g.byRun[p.RunID]; ok && cur == p.SessionID {
		delete(g.byRun, p.RunID)
	}
}
