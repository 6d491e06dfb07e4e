// Package typing manages the local "I am typing" broadcast and the remote
// "they are typing" flags shown in the chat view.
package typing

import (
	"sync"
	"time"

	"github.com/coachchat/internal/logger"
	"github.com/coachchat/internal/transport"
)

// DefaultWindow is the debounce window for local typing and the staleness
// cutoff for remote flags.
const DefaultWindow = 3 * time.Second

type remoteFlag struct {
	typing bool
	at     time.Time
}

// Tracker debounces the local typing signal: repeated NotifyTyping(true)
// calls within the window re-arm the timer, and exactly one false is emitted
// after the window elapses from the last true.
type Tracker struct {
	mu      sync.Mutex
	emitter transport.Emitter
	window  time.Duration
	timers  map[string]*time.Timer
	remote  map[string]remoteFlag
	now     func() time.Time
}

func New(emitter transport.Emitter, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		emitter: emitter,
		window:  window,
		timers:  make(map[string]*time.Timer),
		remote:  make(map[string]remoteFlag),
		now:     time.Now,
	}
}

// NotifyTyping broadcasts the local typing state for the conversation with
// counterpartID. true (re)arms the auto-clear timer; an explicit false clears
// it immediately.
func (t *Tracker) NotifyTyping(counterpartID string, isTyping bool) {
	t.emit(counterpartID, isTyping)

	t.mu.Lock()
	defer t.mu.Unlock()
	timer, armed := t.timers[counterpartID]
	if isTyping {
		if armed {
			timer.Reset(t.window)
			return
		}
		t.timers[counterpartID] = time.AfterFunc(t.window, func() {
			t.expire(counterpartID)
		})
		return
	}
	if armed {
		timer.Stop()
		delete(t.timers, counterpartID)
	}
}

func (t *Tracker) expire(counterpartID string) {
	t.mu.Lock()
	_, armed := t.timers[counterpartID]
	delete(t.timers, counterpartID)
	t.mu.Unlock()
	if armed {
		t.emit(counterpartID, false)
	}
}

func (t *Tracker) emit(counterpartID string, isTyping bool) {
	if t.emitter == nil {
		return
	}
	err := t.emitter.Emit(transport.EventTyping, transport.TypingPayload{
		ReceiverID: counterpartID,
		IsTyping:   isTyping,
	})
	if err != nil {
		logger.Errorf("typing: emit: %v", err)
	}
}

// HandleRemote records a remote peer's typing signal. No timer is started
// here; the peer owns its own false.
func (t *Tracker) HandleRemote(userID string, isTyping bool) {
	t.mu.Lock()
	t.remote[userID] = remoteFlag{typing: isTyping, at: t.now()}
	t.mu.Unlock()
}

// IsTyping reports whether userID is currently typing. A flag older than the
// window reads as false, so a peer that disconnected mid-typing cannot pin
// the indicator.
func (t *Tracker) IsTyping(userID string) bool {
	t.mu.Lock()
	f, ok := t.remote[userID]
	t.mu.Unlock()
	if !ok || !f.typing {
		return false
	}
	return t.now().Sub(f.at) <= t.window
}

// Stop cancels all pending auto-clear timers without emitting.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
