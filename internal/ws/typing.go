package ws

import (
	"sync"
	"time"
)

// TypingBroadcast delivers a typing-state change to the other room members.
type TypingBroadcast func(conversationID string, userID int, isTyping bool)

// TypingCoordinator holds short-lived typing signals per conversation. Signals
// expire on their own so a client that crashes mid-type still resolves to
// not-typing on the peer's screen. Everything here is best-effort.
type TypingCoordinator struct {
	mu        sync.Mutex
	timeout   time.Duration
	signals   map[string]map[int]time.Time
	broadcast TypingBroadcast

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTypingCoordinator builds a coordinator. Call Start to run the expiry
// sweep and Stop on shutdown.
func NewTypingCoordinator(timeout time.Duration, broadcast TypingBroadcast) *TypingCoordinator {
	return &TypingCoordinator{
		timeout:   timeout,
		signals:   make(map[string]map[int]time.Time),
		broadcast: broadcast,
		stop:      make(chan struct{}),
	}
}

// StartTyping upserts the signal with a fresh expiry. Broadcasts only on the
// rising edge to bound volume during fast keystrokes.
func (t *TypingCoordinator) StartTyping(userID int, conversationID string) {
	now := time.Now()

	t.mu.Lock()
	users, ok := t.signals[conversationID]
	if !ok {
		users = make(map[int]time.Time)
		t.signals[conversationID] = users
	}
	expiry, present := users[userID]
	rising := !present || now.After(expiry)
	users[userID] = now.Add(t.timeout)
	t.mu.Unlock()

	if rising {
		t.broadcast(conversationID, userID, true)
	}
}

// StopTyping clears the signal, broadcasting only when previously typing.
func (t *TypingCoordinator) StopTyping(userID int, conversationID string) {
	now := time.Now()

	t.mu.Lock()
	wasTyping := false
	if users, ok := t.signals[conversationID]; ok {
		if expiry, present := users[userID]; present {
			wasTyping = now.Before(expiry)
			delete(users, userID)
			if len(users) == 0 {
				delete(t.signals, conversationID)
			}
		}
	}
	t.mu.Unlock()

	if wasTyping {
		t.broadcast(conversationID, userID, false)
	}
}

// ClearUser drops every active signal of the user and returns the
// conversations that were still typing, so the caller can broadcast the stop.
// Used on disconnect.
func (t *TypingCoordinator) ClearUser(userID int) []string {
	now := time.Now()

	t.mu.Lock()
	var active []string
	for conversationID, users := range t.signals {
		if expiry, present := users[userID]; present {
			if now.Before(expiry) {
				active = append(active, conversationID)
			}
			delete(users, userID)
			if len(users) == 0 {
				delete(t.signals, conversationID)
			}
		}
	}
	t.mu.Unlock()

	return active
}

// Start runs the background expiry sweep until Stop is called.
func (t *TypingCoordinator) Start() {
	go func() {
		ticker := time.NewTicker(t.sweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.sweep(time.Now())
			}
		}
	}()
}

// Stop halts the expiry sweep.
func (t *TypingCoordinator) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *TypingCoordinator) sweepInterval() time.Duration {
	interval := t.timeout / 4
	if interval < 250*time.Millisecond {
		interval = 250 * time.Millisecond
	}
	return interval
}

// sweep expires stale signals and broadcasts the implicit stop.
func (t *TypingCoordinator) sweep(now time.Time) {
	type expired struct {
		conversationID string
		userID         int
	}

	t.mu.Lock()
	var stale []expired
	for conversationID, users := range t.signals {
		for userID, expiry := range users {
			if now.After(expiry) {
				stale = append(stale, expired{conversationID, userID})
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(t.signals, conversationID)
		}
	}
	t.mu.Unlock()

	for _, e := range stale {
		t.broadcast(e.conversationID, e.userID, false)
	}
}
