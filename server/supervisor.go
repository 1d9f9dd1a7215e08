// Package server runs every operator a checkout needs, one goroutine each,
// against a shared config.Config, and stops them all together on shutdown.
package server

import (
	"context"
	"flag"
	"sync"
	"time"

	"github.com/firmament-sync/firmament/config"
	"github.com/firmament-sync/firmament/operator"
)

var (
	minInterval = flag.Duration("operatorMinInterval", 5*time.Second, "Shortest sleep between operator passes that did work.")
	maxInterval = flag.Duration("operatorMaxInterval", 5*time.Minute, "Longest sleep between operator passes that found nothing to do.")
)

// Supervisor owns the goroutine running each of a checkout's operators. Its
// job is deliberately small: start N independent infinite loops, stop them
// all on one signal. That's exactly sync.WaitGroup plus context
// cancellation, so it's built from those instead of a goroutine-pool or
// errgroup library.
type Supervisor struct {
	cfg *config.Config

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Supervisor ready to run every operator against cfg.
func New(cfg *config.Config) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// Run starts one goroutine per operator and blocks until ctx is canceled or
// Stop is called.
func (s *Supervisor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for _, st := range s.steppers() {
		s.wg.Add(1)
		go func(st operator.Stepper) {
			defer s.wg.Done()
			operator.NewLoop(st, *minInterval, *maxInterval).Run(ctx)
		}(st)
	}

	<-ctx.Done()
	s.wg.Wait()
}

// Stop cancels every operator loop and waits for each one to return.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// steppers builds the full set of operators, wired against the
// Supervisor's Config.
func (s *Supervisor) steppers() []operator.Stepper {
	c := s.cfg
	return []operator.Stepper{
		&operator.ScannerOperator{
			Root: c.Root, LocalVersions: c.LocalVersions,
			FileVersions: c.FileVersions, PathRequests: c.PathRequests,
		},
		&operator.HasherOperator{Root: c.Root, LocalVersions: c.LocalVersions},
		&operator.VersionCreateOperator{LocalVersions: c.LocalVersions, FileVersions: c.FileVersions},
		&operator.UploadOperator{
			Root: c.Root, LocalVersions: c.LocalVersions,
			ContentBackends: c.ContentBackends, Backends: c.Backends,
		},
		&operator.SyncOperator{FileVersions: c.FileVersions, Backends: c.Backends},
		&operator.MaterializeOperator{
			Root: c.Root, FileVersions: c.FileVersions, LocalVersions: c.LocalVersions,
			PathRequests: c.PathRequests, Backends: c.Backends, BackendOrder: c.BackendOrder,
		},
		&operator.DownloadOnceCleanupOperator{
			FileVersions: c.FileVersions, LocalVersions: c.LocalVersions, PathRequests: c.PathRequests,
		},
	}
}
