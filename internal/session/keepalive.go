package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// keepAlive periodically fires a capability-query probe to defend the
// registration against idle-timeout disconnects on the signaling
// connection. Each tick is independent and fire-and-forget: a failed probe
// is logged and counted, the next scheduled tick is the retry. Exactly one
// runner may be active; Start stops any prior runner first.
type keepAlive struct {
	interval time.Duration
	probe    func(ctx context.Context) error
	onError  func(err error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newKeepAlive(interval time.Duration, probe func(ctx context.Context) error, onError func(error)) *keepAlive {
	return &keepAlive{
		interval: interval,
		probe:    probe,
		onError:  onError,
	}
}

// Start launches the periodic runner. Idempotent: a running instance is
// stopped before the new one begins.
func (k *keepAlive) Start() {
	k.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	k.mu.Lock()
	k.cancel = cancel
	k.done = done
	k.mu.Unlock()

	go k.run(ctx, done)
	slog.Debug("[KeepAlive] Started", "interval", k.interval)
}

// Stop cancels the runner and waits for it to exit. Safe to call when not
// running and safe to call repeatedly.
func (k *keepAlive) Stop() {
	k.mu.Lock()
	cancel := k.cancel
	done := k.done
	k.cancel = nil
	k.done = nil
	k.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Debug("[KeepAlive] Stopped")
}

// Running reports whether the runner is active.
func (k *keepAlive) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cancel != nil
}

func (k *keepAlive) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, k.interval)
			err := k.probe(probeCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				slog.Warn("[KeepAlive] Probe failed", "error", err)
				if k.onError != nil {
					k.onError(err)
				}
			}
		}
	}
}
