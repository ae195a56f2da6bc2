package ticketsync

import (
	"context"
	"sync"
	"time"
)

type autoRefresh struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (a *autoRefresh) stop() {
	a.once.Do(func() {
		a.cancel()
		<-a.done
	})
}

// StartAutoRefresh refreshes every interval until StopAutoRefresh, ctx is
// done, or the stored token changes. A non-positive interval means the
// configured default. A running loop is stopped first. The token is
// captured now; a tick that finds it absent or different ends the loop
// without a network call.
func (s *Synchronizer) StartAutoRefresh(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.opts.Interval
	}
	cred, ok, err := s.creds.Current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthenticated
	}

	s.autoMu.Lock()
	defer s.autoMu.Unlock()
	if s.auto != nil {
		s.auto.stop()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	handle := &autoRefresh{cancel: cancel, done: make(chan struct{})}
	s.auto = handle
	go s.autoLoop(loopCtx, handle.done, cred.Token, interval)
	s.logger.Debug("auto refresh started", "interval", interval)
	return nil
}

// StopAutoRefresh cancels the loop and waits for it to exit. After it
// returns the loop makes no further calls and installs nothing, and no
// refresh whose context was cancelled before the call can install either.
func (s *Synchronizer) StopAutoRefresh() {
	s.autoMu.Lock()
	handle := s.auto
	s.auto = nil
	s.autoMu.Unlock()
	if handle != nil {
		handle.stop()
		s.logger.Debug("auto refresh stopped")
	}
	// wait out an install that passed its cancellation check
	s.mu.Lock()
	s.mu.Unlock() //nolint:staticcheck
}

// AutoRefreshing reports whether a loop is running.
func (s *Synchronizer) AutoRefreshing() bool {
	s.autoMu.Lock()
	handle := s.auto
	s.autoMu.Unlock()
	if handle == nil {
		return false
	}
	select {
	case <-handle.done:
		return false
	default:
		return true
	}
}

func (s *Synchronizer) autoLoop(ctx context.Context, done chan<- struct{}, token string, interval time.Duration) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cred, ok, err := s.creds.Current(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("auto refresh: read credential", "err", err)
			continue
		}
		if !ok || cred.Token != token {
			s.logger.Debug("auto refresh ended: credential changed")
			return
		}
		// failures are recorded in health; polling continues
		_ = s.refreshAs(ctx, cred)
	}
}
