// Package supervisor wires the buffer pool, sequence tracker, decoder,
// reader tasks, and writer task together and drives the process lifetime
// described in spec.md §4.G: install signal handlers, start one reader per
// configured port plus the single writer, and join on SIGTERM. It is a
// translation of readflows.c's main/Sigterm/Sighup trio, replacing the
// pthread-cancellation shutdown with the explicit channel spec.md §9
// recommends, and replaces the periodic-stats shape with the ticker-driven
// reportStats goroutine from the tzsp server's Start method.
package supervisor

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/netflowd/netflowd/internal/cflowd"
	"github.com/netflowd/netflowd/internal/config"
	"github.com/netflowd/netflowd/internal/decoder"
	"github.com/netflowd/netflowd/internal/pool"
	"github.com/netflowd/netflowd/internal/reader"
	"github.com/netflowd/netflowd/internal/seqtracker"
	"github.com/netflowd/netflowd/internal/writer"
)

// Logger is the subset of internal/logger.Logger the supervisor and its
// collaborators need.
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	SetDone(done bool)
	Done() bool
}

// RejectSink is writer.RejectSink, re-exported so callers constructing a
// Supervisor don't need to import internal/writer directly.
type RejectSink = writer.RejectSink

// Supervisor owns the daemon's whole component graph for one run.
type Supervisor struct {
	log Logger

	pool    *pool.Pool
	tracker *seqtracker.Tracker
	writer  *writer.Writer

	readers []*reader.Reader

	shutdown chan struct{}
}

// New constructs every component described by cfg but does not start
// anything yet. reject may be nil to disable reject capture.
func New(cfg *config.Config, log Logger, reject RejectSink) (*Supervisor, error) {
	p := pool.New(cfg.Output.BufferCount, cflowd.MaxDatagramSize, "netflowd")

	tracker := seqtracker.New(seqtracker.DefaultMaxRouters)
	tracker.SetOnFull(func() {
		log.Warn("sequence tracker table full; drop detection disabled for new routers")
	})

	dec := decoder.New(tracker)
	dec.SetOnBadVersion(func(got uint16) {
		log.Error("datagram declares unsupported NetFlow version", "version", got)
	})

	wcfg := writer.Config{
		SaveInterval:  time.Duration(cfg.Output.SaveIntervalSecs) * time.Second,
		CurrentPath:   cfg.Output.CurrentPath,
		SavedPrefix:   cfg.Output.SavedPrefix,
		CurrentMode:   os.FileMode(cfg.Output.CurrentMode),
		SavedMode:     os.FileMode(cfg.Output.SavedMode),
		MaxDropSilent: cfg.Output.MaxDropSilent,
	}
	w := writer.New(wcfg, p, dec, log, reject)

	s := &Supervisor{
		log:      log,
		pool:     p,
		tracker:  tracker,
		writer:   w,
		shutdown: make(chan struct{}),
	}

	p.SetDropHooks(
		func() { log.Warn("buffer pool exhausted; stealing oldest queued datagram") },
		func() { log.Info("buffer pool recovered") },
	)

	for _, pc := range cfg.Ports {
		r, err := reader.New(pc.Port, pc.DropDetection, p, log)
		if err != nil {
			return nil, fmt.Errorf("supervisor: starting reader on port %d: %w", pc.Port, err)
		}
		s.readers = append(s.readers, r)
	}

	return s, nil
}

// Run starts every reader and the writer, installs SIGTERM/SIGHUP handling
// per spec.md §6.4, and blocks until the writer has finished its shutdown
// flush. SIGTERM closes the shutdown channel once; SIGHUP is acknowledged
// and otherwise ignored, since this daemon has no on-disk state to reload.
// Every other signal, including SIGINT, is left at its OS default
// disposition (spec.md §6.4's "Other" row), matching readflows.c's
// sigaction calls, which install handlers only for SIGTERM and SIGHUP.
func (s *Supervisor) Run() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for _, r := range s.readers {
		go r.Run()
	}

	writerDone := make(chan struct{})
	go func() {
		s.writer.Run(s.shutdown)
		close(writerDone)
	}()

	statsDone := make(chan struct{})
	go s.reportStats(statsDone)

	var once sync.Once
	closeShutdown := func() { once.Do(func() { close(s.shutdown) }) }

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				s.log.Info("received SIGHUP; re-arming (no reloadable state)")
			default:
				s.log.Info("received shutdown signal", "signal", sig.String())
				s.log.SetDone(true)
				closeShutdown()
			}
		case <-writerDone:
			close(statsDone)
			s.log.Info("writer finished; supervisor exiting")
			return
		}
	}
}

func (s *Supervisor) reportStats(done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			free, ready := s.pool.Counts()
			stats := s.writer.Stats()
			s.log.Info("stats",
				"pool_free", free,
				"pool_ready", ready,
				"pool_capacity", s.pool.Cap(),
				"routers_tracked", s.tracker.RouterCount(),
				"datagrams_accepted", stats.DatagramsAccepted,
				"datagrams_rejected", stats.DatagramsRejected,
				"flows_decoded", stats.FlowsDecoded,
				"flows_dropped", stats.FlowsDropped,
			)
		}
	}
}
