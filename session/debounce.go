package session

import (
	"sort"
	"sync"
	"time"

	"github.com/warp/material-engine/engine"
)

// TimerKey identifies one pending rule pass.
type TimerKey struct {
	LineID    string
	Dimension engine.Dimension
}

// PendingTimers coalesces rapid edits into one delayed call per key.
//
// Every callback runs with guard held. Callers that share state with the
// callbacks must hold guard themselves while calling Schedule or Cancel, so a
// timer that already fired cannot slip in after it was cancelled.
type PendingTimers struct {
	Delay time.Duration

	guard  sync.Locker
	mu     sync.Mutex
	timers map[TimerKey]*pendingTimer
}

type pendingTimer struct {
	timer *time.Timer
}

// NewPendingTimers creates a debouncer. A nil guard means callbacks run
// unguarded.
func NewPendingTimers(delay time.Duration, guard sync.Locker) *PendingTimers {
	return &PendingTimers{
		Delay:  delay,
		guard:  guard,
		timers: make(map[TimerKey]*pendingTimer),
	}
}

// Schedule arranges for fn to run after Delay, replacing any call already
// pending for key. With a zero or negative delay fn runs immediately on the
// calling goroutine, which is expected to hold guard already.
func (p *PendingTimers) Schedule(key TimerKey, fn func()) {
	p.mu.Lock()
	if existing, ok := p.timers[key]; ok {
		existing.timer.Stop()
		delete(p.timers, key)
	}
	if p.Delay <= 0 {
		p.mu.Unlock()
		fn()
		return
	}

	pt := &pendingTimer{}
	pt.timer = time.AfterFunc(p.Delay, func() { p.fire(key, pt, fn) })
	p.timers[key] = pt
	p.mu.Unlock()
}

func (p *PendingTimers) fire(key TimerKey, pt *pendingTimer, fn func()) {
	if p.guard != nil {
		p.guard.Lock()
		defer p.guard.Unlock()
	}

	p.mu.Lock()
	current, ok := p.timers[key]
	if !ok || current != pt {
		p.mu.Unlock()
		return
	}
	delete(p.timers, key)
	p.mu.Unlock()

	fn()
}

// Cancel drops the pending call for key. It reports whether one existed.
func (p *PendingTimers) Cancel(key TimerKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	pt, ok := p.timers[key]
	if !ok {
		return false
	}
	pt.timer.Stop()
	delete(p.timers, key)
	return true
}

// CancelLine drops every pending call of one line.
func (p *PendingTimers) CancelLine(lineID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for key, pt := range p.timers {
		if key.LineID != lineID {
			continue
		}
		pt.timer.Stop()
		delete(p.timers, key)
		n++
	}
	return n
}

// CancelAll drops every pending call and returns how many there were.
func (p *PendingTimers) CancelAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.timers)
	for key, pt := range p.timers {
		pt.timer.Stop()
		delete(p.timers, key)
	}
	return n
}

// Pending lists the keys that still have a call waiting, ordered by line and
// dimension.
func (p *PendingTimers) Pending() []TimerKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]TimerKey, 0, len(p.timers))
	for key := range p.timers {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].LineID != keys[j].LineID {
			return keys[i].LineID < keys[j].LineID
		}
		return keys[i].Dimension < keys[j].Dimension
	})
	return keys
}
