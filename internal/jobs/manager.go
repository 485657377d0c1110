package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/kwmatch/internal/config"
	"github.com/dshills/kwmatch/internal/matcher"
	"github.com/dshills/kwmatch/internal/metrics"
	"github.com/dshills/kwmatch/internal/storage"
	"github.com/dshills/kwmatch/pkg/types"
)

// subscriberBuffer is the per-subscriber channel capacity. When it is full
// the oldest snapshot is dropped.
const subscriberBuffer = 16

// ErrClosed is returned by Submit after Close
var ErrClosed = errors.New("job manager closed")

// Store is the persistence the manager needs; storage.Storage satisfies it
type Store interface {
	SaveJob(ctx context.Context, job types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]types.Job, error)
	DeleteJob(ctx context.Context, id string) error
	SaveResult(ctx context.Context, result *types.Result) error
	GetResult(ctx context.Context, jobID string) (*types.Result, error)
}

// Config sizes the manager
type Config struct {
	PoolSize     int // Jobs running at once
	RetainedJobs int // Finished jobs kept before the least recently used is dropped
}

// Manager schedules matching jobs on a bounded pool and tracks their
// lifecycle: queued, running, then completed, failed or cancelled.
type Manager struct {
	matcher *matcher.Matcher
	store   Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	jobs     map[string]*job
	retained *lru.Cache[string, struct{}]
}

// Option configures a Manager
type Option func(*Manager)

// WithStore persists job snapshots and results
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithMetrics records job metrics
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager running jobs with mt
func NewManager(mt *matcher.Matcher, cfg Config, opts ...Option) (*Manager, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = config.DefaultPoolSize
	}
	if cfg.RetainedJobs <= 0 {
		cfg.RetainedJobs = config.DefaultRetainedJobs
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		matcher: mt,
		logger:  zap.NewNop(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		sem:     make(chan struct{}, cfg.PoolSize),
		jobs:    make(map[string]*job),
	}
	for _, opt := range opts {
		opt(m)
	}

	retained, err := lru.NewWithEvict[string, struct{}](cfg.RetainedJobs, m.evict)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create job retention cache: %w", err)
	}
	m.retained = retained

	return m, nil
}

// job is the manager's record of one job. snap is only written by the
// manager while holding mu; readers get copies.
type job struct {
	cancel matcher.CancelFlag

	mu      sync.RWMutex
	input   matcher.Input
	cfg     config.Matching
	snap    types.Job
	result  *types.Result
	subs    map[int]chan types.Job
	nextSub int
}

func (j *job) snapshot() types.Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.snap
}

// broadcast delivers snap to every subscriber without blocking. Must hold mu.
func (j *job) broadcast(snap types.Job) {
	for _, ch := range j.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Submit validates the input and queues a job. Validation errors wrap
// types.ErrValidation and no job is created.
func (m *Manager) Submit(keywords []types.Keyword, pages []types.Page, cfg config.Matching) (string, error) {
	in := matcher.Input{Keywords: keywords, Pages: pages}
	if err := matcher.Validate(in, cfg); err != nil {
		return "", err
	}

	id := uuid.NewString()
	j := &job{
		input: in,
		cfg:   cfg,
		snap: types.Job{
			ID:        id,
			Status:    types.StatusQueued,
			CreatedAt: m.now(),
		},
		subs: make(map[int]chan types.Job),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	m.jobs[id] = j
	m.wg.Add(1)
	m.mu.Unlock()

	m.persist(j.snapshot())
	m.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.Int("keywords", len(keywords)),
		zap.Int("pages", len(pages)))

	go m.execute(j)
	return id, nil
}

func (m *Manager) execute(j *job) {
	defer m.wg.Done()

	select {
	case m.sem <- struct{}{}:
	case <-m.ctx.Done():
		m.finish(j, types.StatusCancelled, nil, "")
		return
	}
	defer func() { <-m.sem }()

	in, cfg, ok := m.start(j)
	if !ok {
		return
	}
	m.metrics.JobStarted()

	id := j.snapshot().ID
	result, err := m.matcher.Run(m.ctx, id, in, cfg, &j.cancel, func(p matcher.Progress) {
		m.progress(j, p)
	})

	switch {
	case err == nil:
		m.finish(j, types.StatusCompleted, result, "")
	case errors.Is(err, types.ErrCancelled), errors.Is(err, context.Canceled):
		m.finish(j, types.StatusCancelled, nil, "")
	default:
		m.logger.Warn("job failed", zap.String("job_id", id), zap.Error(err))
		m.finish(j, types.StatusFailed, nil, err.Error())
	}
}

// start moves a queued job to running and hands its input to the caller.
// ok is false if the job was cancelled while queued.
func (m *Manager) start(j *job) (matcher.Input, config.Matching, bool) {
	j.mu.Lock()
	if j.snap.Status != types.StatusQueued {
		j.mu.Unlock()
		return matcher.Input{}, config.Matching{}, false
	}
	j.snap.Status = types.StatusRunning
	j.snap.StartedAt = m.now()
	snap := j.snap
	in, cfg := j.input, j.cfg
	j.input = matcher.Input{}
	j.broadcast(snap)
	j.mu.Unlock()

	m.persist(snap)
	return in, cfg, true
}

func (m *Manager) progress(j *job, p matcher.Progress) {
	j.mu.Lock()
	if j.snap.Status != types.StatusRunning {
		j.mu.Unlock()
		return
	}
	stepChanged := p.Step != j.snap.Step
	j.snap.Progress = p.Fraction
	j.snap.Step = p.Step
	j.snap.StepLabel = p.Step.String()
	j.snap.MemoryEstimate = p.MemoryEstimate
	j.snap.Elapsed = m.now().Sub(j.snap.StartedAt)
	snap := j.snap
	j.broadcast(snap)
	j.mu.Unlock()

	if stepChanged {
		m.persist(snap)
	}
}

// finish moves a job to a terminal status, publishes the final snapshot,
// records it and then closes every subscription. Terminal jobs are never
// changed again.
func (m *Manager) finish(j *job, status types.Status, result *types.Result, errMsg string) {
	m.finishFrom(j, "", status, result, errMsg)
}

// finishFrom is finish restricted to jobs currently in status from; an
// empty from accepts any non-terminal status.
func (m *Manager) finishFrom(j *job, from, status types.Status, result *types.Result, errMsg string) {
	j.mu.Lock()
	if j.snap.Status.Terminal() || (from != "" && j.snap.Status != from) {
		j.mu.Unlock()
		return
	}
	now := m.now()
	j.snap.Status = status
	j.snap.FinishedAt = now
	j.snap.Error = errMsg
	if !j.snap.StartedAt.IsZero() {
		j.snap.Elapsed = now.Sub(j.snap.StartedAt)
	}
	if status == types.StatusCompleted {
		j.snap.Progress = 1
		j.result = result
	}
	j.input = matcher.Input{}
	snap := j.snap
	j.broadcast(snap)
	j.mu.Unlock()

	if !snap.StartedAt.IsZero() {
		m.metrics.JobFinished(status, snap.Elapsed)
	}

	m.persist(snap)
	if result != nil && m.store != nil {
		if err := m.store.SaveResult(m.persistCtx(), result); err != nil {
			m.logger.Warn("failed to persist job result", zap.String("job_id", snap.ID), zap.Error(err))
		}
	}

	m.logger.Info("job finished",
		zap.String("job_id", snap.ID),
		zap.String("status", string(status)),
		zap.Duration("elapsed", snap.Elapsed))

	m.retained.Add(snap.ID, struct{}{})

	// Subscribers see the channel close only once the job is recorded
	j.mu.Lock()
	for id, ch := range j.subs {
		close(ch)
		delete(j.subs, id)
	}
	j.mu.Unlock()
}

// evict drops a finished job from memory and the store
func (m *Manager) evict(id string, _ struct{}) {
	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteJob(m.persistCtx(), id); err != nil {
			m.logger.Warn("failed to delete evicted job", zap.String("job_id", id), zap.Error(err))
		}
	}
}

func (m *Manager) persist(snap types.Job) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveJob(m.persistCtx(), snap); err != nil {
		m.logger.Warn("failed to persist job", zap.String("job_id", snap.ID), zap.Error(err))
	}
}

// persistCtx outlives Close so terminal snapshots are still written
func (m *Manager) persistCtx() context.Context {
	return context.WithoutCancel(m.ctx)
}

func (m *Manager) lookup(id string) (*job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}

// stored returns a job persisted by this or an earlier process
func (m *Manager) stored(id string) (*types.Job, error) {
	if m.store == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	snap, err := m.store.GetJob(m.persistCtx(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Status returns the current snapshot of a job
func (m *Manager) Status(id string) (types.Job, error) {
	if j, ok := m.lookup(id); ok {
		return j.snapshot(), nil
	}
	snap, err := m.stored(id)
	if err != nil {
		return types.Job{}, err
	}
	return *snap, nil
}

// Cancel requests cancellation. A queued job is cancelled at once; a running
// job stops at its next batch or step boundary. Cancelling a finished job is
// a no-op.
func (m *Manager) Cancel(id string) error {
	j, ok := m.lookup(id)
	if !ok {
		_, err := m.stored(id)
		return err
	}

	if j.cancel.Cancel() {
		m.logger.Info("job cancellation requested", zap.String("job_id", id))
	}
	m.finishFrom(j, types.StatusQueued, types.StatusCancelled, nil, "")
	return nil
}

// Result returns the result of a completed job. Any other status yields
// types.ErrJobNotCompleted.
func (m *Manager) Result(id string) (*types.Result, error) {
	if j, ok := m.lookup(id); ok {
		m.retained.Get(id)

		j.mu.RLock()
		defer j.mu.RUnlock()
		if j.snap.Status != types.StatusCompleted {
			return nil, fmt.Errorf("%w: %s is %s", types.ErrJobNotCompleted, id, j.snap.Status)
		}
		return j.result, nil
	}

	snap, err := m.stored(id)
	if err != nil {
		return nil, err
	}
	if snap.Status != types.StatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", types.ErrJobNotCompleted, id, snap.Status)
	}
	result, err := m.store.GetResult(m.persistCtx(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no stored result", types.ErrJobNotCompleted, id)
	}
	return result, err
}

// Subscribe streams snapshots of a job. The current snapshot is delivered
// first and the channel is closed after the terminal one. A slow reader
// loses intermediate snapshots, never the latest. Call the returned
// function to unsubscribe early.
func (m *Manager) Subscribe(id string) (<-chan types.Job, func(), error) {
	ch := make(chan types.Job, subscriberBuffer)

	j, ok := m.lookup(id)
	if !ok {
		snap, err := m.stored(id)
		if err != nil {
			return nil, nil, err
		}
		ch <- *snap
		close(ch)
		return ch, func() {}, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	ch <- j.snap
	if j.snap.Status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	sub := j.nextSub
	j.nextSub++
	j.subs[sub] = ch

	unsubscribe := func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if c, ok := j.subs[sub]; ok {
			delete(j.subs, sub)
			close(c)
		}
	}
	return ch, unsubscribe, nil
}

// Wait blocks until the job is terminal or ctx is done and returns the
// last snapshot seen.
func (m *Manager) Wait(ctx context.Context, id string) (types.Job, error) {
	ch, unsubscribe, err := m.Subscribe(id)
	if err != nil {
		return types.Job{}, err
	}
	defer unsubscribe()

	var last types.Job
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return last, nil
			}
			last = snap
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}
}

// List returns known jobs, newest first. An empty status matches all.
func (m *Manager) List(status types.Status) ([]types.Job, error) {
	m.mu.RLock()
	jobs := make([]types.Job, 0, len(m.jobs))
	seen := make(map[string]struct{}, len(m.jobs))
	for id, j := range m.jobs {
		seen[id] = struct{}{}
		snap := j.snapshot()
		if status == "" || snap.Status == status {
			jobs = append(jobs, snap)
		}
	}
	m.mu.RUnlock()

	if m.store != nil {
		stored, err := m.store.ListJobs(m.persistCtx(), storage.JobFilter{Status: status})
		if err != nil {
			return nil, fmt.Errorf("failed to list stored jobs: %w", err)
		}
		for _, snap := range stored {
			if _, ok := seen[snap.ID]; !ok {
				jobs = append(jobs, snap)
			}
		}
	}

	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		return jobs[a].ID < jobs[b].ID
	})
	return jobs, nil
}

// Close cancels every queued and running job and waits for them to stop.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}
