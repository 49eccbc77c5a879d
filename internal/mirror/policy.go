package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ALOK9821/replit-clone/internal/logging"
	"github.com/ALOK9821/replit-clone/internal/metrics"
)

// Mirror strategies for live edits.
const (
	StrategyImmediate = "immediate"
	StrategyPeriodic  = "periodic"
)

// SyncPolicy mirrors workspace edits to the object store on a best-effort
// basis. Sync never blocks on the upload and never reports its outcome to
// the caller; failures are logged and counted.
type SyncPolicy interface {
	Sync(ctx context.Context, prefix, relPath, content string)
	// Close drains pending uploads.
	Close() error
}

// NewSyncPolicy builds the policy named by strategy.
func NewSyncPolicy(strategy string, m *Mirror, interval time.Duration) (SyncPolicy, error) {
	switch strategy {
	case "", StrategyImmediate:
		return NewImmediateSync(m), nil
	case StrategyPeriodic:
		return NewPeriodicSync(m, interval)
	default:
		return nil, fmt.Errorf("unknown mirror strategy %q", strategy)
	}
}

type pendingUpload struct {
	ctx     context.Context
	prefix  string
	relPath string
	content string
}

func (p pendingUpload) key() string {
	return ObjectKey(p.prefix, p.relPath)
}

// ImmediateSync uploads every edit as soon as it arrives. Uploads for the
// same key are serialized and coalesced: while one is in flight only the
// newest content is kept, so the last edit is always the last upload.
type ImmediateSync struct {
	mirror *Mirror

	mu       sync.Mutex
	inflight map[string]bool
	pending  map[string]pendingUpload
	closed   bool
	wg       sync.WaitGroup
}

func NewImmediateSync(m *Mirror) *ImmediateSync {
	return &ImmediateSync{
		mirror:   m,
		inflight: make(map[string]bool),
		pending:  make(map[string]pendingUpload),
	}
}

func (s *ImmediateSync) Sync(ctx context.Context, prefix, relPath, content string) {
	up := pendingUpload{ctx: ctx, prefix: prefix, relPath: relPath, content: content}
	key := up.key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		logging.Warn("mirror closed, dropping edit", zap.String("key", logging.SanitizeForLog(key)))
		return
	}
	if s.inflight[key] {
		s.pending[key] = up
		return
	}
	s.inflight[key] = true
	s.wg.Add(1)
	go s.drain(key, up)
}

func (s *ImmediateSync) drain(key string, up pendingUpload) {
	defer s.wg.Done()
	for {
		upload(up, StrategyImmediate, s.mirror)

		s.mu.Lock()
		next, ok := s.pending[key]
		if !ok {
			delete(s.inflight, key)
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()
		up = next
	}
}

// Close waits for in-flight uploads. Edits synced after Close are dropped.
func (s *ImmediateSync) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// PeriodicSync buffers the newest content per key and uploads the batch on a
// cron schedule.
type PeriodicSync struct {
	mirror *Mirror
	cron   *cron.Cron

	mu      sync.Mutex
	pending map[string]pendingUpload
	flushMu sync.Mutex
}

// NewPeriodicSync starts a flush job running every interval.
func NewPeriodicSync(m *Mirror, interval time.Duration) (*PeriodicSync, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("periodic mirror interval must be positive, got %s", interval)
	}
	p := &PeriodicSync{
		mirror:  m,
		cron:    cron.New(),
		pending: make(map[string]pendingUpload),
	}
	if _, err := p.cron.AddFunc("@every "+interval.String(), p.Flush); err != nil {
		return nil, fmt.Errorf("schedule mirror flush: %w", err)
	}
	p.cron.Start()
	return p, nil
}

func (p *PeriodicSync) Sync(ctx context.Context, prefix, relPath, content string) {
	up := pendingUpload{ctx: ctx, prefix: prefix, relPath: relPath, content: content}
	p.mu.Lock()
	p.pending[up.key()] = up
	p.mu.Unlock()
}

// Pending returns the number of keys waiting for the next flush.
func (p *PeriodicSync) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Flush uploads everything buffered so far.
func (p *PeriodicSync) Flush() {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[string]pendingUpload)
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	for _, up := range batch {
		upload(up, StrategyPeriodic, p.mirror)
	}
	logging.Debug("mirror flush", zap.Int("keys", len(batch)))
}

// Close stops the schedule and flushes what is left.
func (p *PeriodicSync) Close() error {
	<-p.cron.Stop().Done()
	p.Flush()
	return nil
}

func upload(up pendingUpload, strategy string, m *Mirror) {
	if err := m.PutObject(up.ctx, up.prefix, up.relPath, up.content); err != nil {
		metrics.RecordMirrorSync(strategy, false)
		logging.Warn("mirror upload failed",
			zap.String("key", logging.SanitizeForLog(up.key())),
			zap.String("strategy", strategy),
			zap.Error(err))
		return
	}
	metrics.RecordMirrorSync(strategy, true)
	logging.Debug("mirror upload", zap.String("key", logging.SanitizeForLog(up.key())))
}

// LocalOnly is the policy used when no object store is configured: edits
// stay in the sandbox.
type LocalOnly struct{}

func (LocalOnly) Sync(ctx context.Context, prefix, relPath, content string) {}
func (LocalOnly) Close() error                                             { return nil }
