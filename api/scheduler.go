/*
scheduler.go - Idle session reaper

PURPOSE:
  Editing sessions live in memory until closed. Browsers that go away never
  send DELETE, so the reaper periodically closes sessions with no activity
  for longer than the idle timeout. Closing cancels their pending rule passes.

CONFIGURATION:
  - IdleTimeout:   config.SessionIdleTimeout (default: 30 minutes)
  - CheckInterval: config.ReapInterval (default: 1 minute)
  - Enabled:       false when IdleTimeout is zero

USAGE:
  reaper := NewSessionReaper(handler.Sessions, cfg, log)
  reaper.Start()
  // ... later
  reaper.Stop()
*/
package api

import (
	"sync"
	"time"

	"github.com/warp/material-engine/config"
	"github.com/warp/material-engine/logger"
	"github.com/warp/material-engine/session"
)

// SessionReaper closes idle sessions in the background.
type SessionReaper struct {
	Sessions      *session.Registry
	IdleTimeout   time.Duration
	CheckInterval time.Duration
	Enabled       bool
	Log           *logger.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSessionReaper creates a reaper from the server configuration.
func NewSessionReaper(sessions *session.Registry, cfg config.Config, log *logger.Logger) *SessionReaper {
	return &SessionReaper{
		Sessions:      sessions,
		IdleTimeout:   cfg.SessionIdleTimeout,
		CheckInterval: cfg.ReapInterval,
		Enabled:       cfg.SessionIdleTimeout > 0,
		Log:           logger.OrNop(log),
	}
}

// Start begins the reaper.
func (sr *SessionReaper) Start() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if !sr.Enabled || sr.CheckInterval <= 0 {
		sr.Log.Info("session reaper disabled")
		return
	}
	if sr.ticker != nil {
		return
	}

	sr.ticker = time.NewTicker(sr.CheckInterval)
	sr.stop = make(chan struct{})
	sr.wg.Add(1)

	go sr.run(sr.ticker, sr.stop)

	sr.Log.Info("session reaper started", "interval", sr.CheckInterval.String(), "idle_timeout", sr.IdleTimeout.String())
}

// Stop stops the reaper and waits for a running sweep to finish.
func (sr *SessionReaper) Stop() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.ticker == nil {
		return
	}
	sr.ticker.Stop()
	close(sr.stop)
	sr.wg.Wait()
	sr.ticker = nil
	sr.Log.Info("session reaper stopped")
}

func (sr *SessionReaper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer sr.wg.Done()

	for {
		select {
		case <-ticker.C:
			sr.Sweep(time.Now())
		case <-stop:
			return
		}
	}
}

// Sweep closes every session idle since before now minus the timeout.
func (sr *SessionReaper) Sweep(now time.Time) []string {
	closed := sr.Sessions.CloseIdle(now.Add(-sr.IdleTimeout))
	if len(closed) > 0 {
		sr.Log.Info("idle sessions closed", "sessions", len(closed), "ids", closed)
	}
	return closed
}
