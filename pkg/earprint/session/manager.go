// Package session buffers streaming PCM per user and decides when to run a
// recognition attempt over the buffered audio.
package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/himanishpuri/EarPrint/pkg/earprint"
	"github.com/himanishpuri/EarPrint/pkg/earprint/audio"
	"github.com/himanishpuri/EarPrint/pkg/logger"
	"github.com/himanishpuri/EarPrint/pkg/models"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
)

type Option func(*Manager)

func WithNotifier(n earprint.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

func WithLogger(log earprint.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// IngestResult reports the session after a chunk was accepted.
type IngestResult struct {
	Snapshot
	Attempted bool `json:"attempted"`
	// Result is set in synchronous mode when the chunk triggered an attempt.
	Result *models.MatchResult `json:"result,omitempty"`
}

type attempt struct {
	sess       *Session
	epoch      uint64
	pcm        []byte
	sampleRate int
}

// Manager owns every user session. The registry lock only guards lookup and
// insertion; each session is mutated under its own lock so users never wait
// on one another. Attempts run on a bounded worker pool against a snapshot
// of the buffer, and their results are discarded if the buffer was cleared
// in the meantime.
type Manager struct {
	cfg        Config
	identifier earprint.Identifier
	notifier   earprint.Notifier
	log        earprint.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	jobs     chan attempt
	workers  *pool.Pool
	notifyWG conc.WaitGroup

	closeMu sync.RWMutex
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(identifier earprint.Identifier, cfg Config, opts ...Option) (*Manager, error) {
	if identifier == nil {
		return nil, fmt.Errorf("%w: identifier is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:        cfg,
		identifier: identifier,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.GetLogger()
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if !cfg.Synchronous {
		m.jobs = make(chan attempt, cfg.QueueSize)
		m.workers = pool.New().WithMaxGoroutines(cfg.Workers)
		for i := 0; i < cfg.Workers; i++ {
			m.workers.Go(func() {
				for job := range m.jobs {
					m.runAttempt(m.ctx, job)
				}
			})
		}
	}
	return m, nil
}

func (m *Manager) Config() Config {
	return m.cfg
}

// Ingest appends a mono s16le chunk to the user's buffer. Malformed input is
// rejected without touching the session. When enough audio has accumulated
// an attempt is started; in synchronous mode Ingest waits for its result.
func (m *Manager) Ingest(ctx context.Context, userID string, chunk []byte, sampleRate int) (IngestResult, error) {
	if m.isClosed() {
		return IngestResult{}, earprint.ErrManagerClosed
	}
	if userID == "" {
		return IngestResult{}, fmt.Errorf("%w: missing user id", earprint.ErrMalformedChunk)
	}
	if sampleRate < m.cfg.MinSampleRate || sampleRate > m.cfg.MaxSampleRate {
		return IngestResult{}, fmt.Errorf("%w: %d Hz outside [%d, %d]", earprint.ErrInvalidSampleRate, sampleRate, m.cfg.MinSampleRate, m.cfg.MaxSampleRate)
	}
	if len(chunk)%audio.BytesPerSample != 0 {
		return IngestResult{}, fmt.Errorf("%w: %d bytes is not whole 16-bit samples", earprint.ErrMalformedChunk, len(chunk))
	}

	for {
		sess := m.getOrCreate(userID)
		sess.mu.Lock()
		if sess.removed {
			// cleared or reaped between lookup and lock
			sess.mu.Unlock()
			continue
		}
		res, job, err := m.appendLocked(sess, chunk, sampleRate)
		sess.mu.Unlock()
		if err != nil || job == nil || !m.cfg.Synchronous {
			return res, err
		}

		res.Result = m.runAttempt(ctx, *job)
		sess.mu.Lock()
		res.Snapshot = sess.snapshot()
		sess.mu.Unlock()
		return res, nil
	}
}

func (m *Manager) getOrCreate(userID string) *Session {
	m.mu.RLock()
	sess, ok := m.sessions[userID]
	m.mu.RUnlock()
	if ok {
		return sess
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok = m.sessions[userID]; ok {
		return sess
	}
	sess = newSession(userID, m.now())
	m.sessions[userID] = sess
	m.log.Debugf("New session for %s", userID)
	return sess
}

func (m *Manager) appendLocked(sess *Session, chunk []byte, sampleRate int) (IngestResult, *attempt, error) {
	if len(sess.buf) > 0 && sess.sampleRate != sampleRate {
		return IngestResult{Snapshot: sess.snapshot()}, nil,
			fmt.Errorf("%w: buffered %d Hz, got %d Hz", earprint.ErrSampleRateMismatch, sess.sampleRate, sampleRate)
	}

	sess.lastActivity = m.now()
	if len(chunk) == 0 {
		return IngestResult{Snapshot: sess.snapshot()}, nil, nil
	}

	sess.sampleRate = sampleRate
	sess.buf = append(sess.buf, chunk...)
	sess.sinceAttempt += len(chunk)
	if err := sess.setState(ChunkAppended); err != nil {
		m.log.Warnf("Session %s: %v", sess.userID, err)
	}
	m.applyOverflow(sess, len(chunk))

	job := m.maybeStartLocked(sess)
	return IngestResult{Snapshot: sess.snapshot(), Attempted: job != nil}, job, nil
}

func (m *Manager) applyOverflow(sess *Session, chunkLen int) {
	maxBytes := audio.BytesFor(m.cfg.MaxDuration.Seconds(), sess.sampleRate)
	if len(sess.buf) <= maxBytes {
		return
	}
	before := sess.duration()
	if err := sess.setState(Overflowed); err != nil {
		m.log.Warnf("Session %s: %v", sess.userID, err)
	}
	sess.overflows++

	switch m.cfg.Overflow {
	case OverflowTrim:
		sess.dropOldest(len(sess.buf) - audio.BytesFor(m.cfg.TrimDuration.Seconds(), sess.sampleRate))
	case OverflowReset:
		keep := min(chunkLen, maxBytes)
		fresh := append([]byte(nil), sess.buf[len(sess.buf)-keep:]...)
		sess.reset()
		sess.buf = append(sess.buf, fresh...)
		sess.sinceAttempt = keep
		_ = sess.setState(ChunkAppended)
	default:
		sess.dropOldest(len(sess.buf) - maxBytes)
	}
	m.log.Debugf("Session %s overflowed (%s): %.1fs -> %.1fs", sess.userID, m.cfg.Overflow, before, sess.duration())
}

// maybeStartLocked starts an attempt when none is in flight, the buffer
// holds MinDuration, and (after a failed attempt) RetryStep of new audio has
// arrived. It returns nil when no attempt was started.
func (m *Manager) maybeStartLocked(sess *Session) *attempt {
	if sess.inFlight {
		return nil
	}
	if len(sess.buf) < audio.BytesFor(m.cfg.MinDuration.Seconds(), sess.sampleRate) {
		return nil
	}
	if sess.attempted && sess.sinceAttempt < audio.BytesFor(m.cfg.RetryStep.Seconds(), sess.sampleRate) {
		return nil
	}
	if sess.state == Accumulating {
		_ = sess.setState(ThresholdReached)
	}
	if sess.state != Ready {
		return nil
	}

	job := &attempt{
		sess:       sess,
		epoch:      sess.epoch,
		pcm:        append([]byte(nil), sess.buf...),
		sampleRate: sess.sampleRate,
	}
	if !m.cfg.Synchronous && !m.enqueue(*job) {
		m.log.Warnf("Match queue full, deferring attempt for %s", sess.userID)
		return nil
	}

	_ = sess.setState(AttemptStarted)
	sess.inFlight = true
	sess.attempted = true
	sess.sinceAttempt = 0
	sess.attempts++
	m.log.Debugf("Attempt %d for %s over %.1fs of audio", sess.attempts, sess.userID, sess.duration())
	return job
}

func (m *Manager) enqueue(job attempt) bool {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return false
	}
	select {
	case m.jobs <- job:
		return true
	default:
		return false
	}
}

func (m *Manager) runAttempt(ctx context.Context, job attempt) *models.MatchResult {
	result, err := m.identify(ctx, job)
	return m.apply(job, result, err)
}

func (m *Manager) identify(ctx context.Context, job attempt) (result models.MatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("Match attempt for %s panicked: %v\n%s", job.sess.userID, r, debug.Stack())
			err = fmt.Errorf("match attempt panicked: %v", r)
		}
	}()

	samples, err := audio.DecodePCM16(job.pcm)
	if err != nil {
		return models.MatchResult{}, err
	}
	if level := audio.RMS(samples); level < m.cfg.SilenceRMS {
		m.log.Debugf("Buffer for %s is silent (rms %.2g), skipping lookup", job.sess.userID, level)
		return models.MatchResult{Status: models.StatusNoMatch}, nil
	}
	if m.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		defer cancel()
	}
	return m.identifier.Identify(ctx, samples, job.sampleRate)
}

// apply records an attempt outcome. Results for a buffer that has since been
// cleared are dropped.
func (m *Manager) apply(job attempt, result models.MatchResult, err error) *models.MatchResult {
	sess := job.sess
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.inFlight = false
	if sess.removed || sess.epoch != job.epoch {
		m.log.Debugf("Dropping stale attempt result for %s", sess.userID)
		return nil
	}

	if err != nil {
		m.log.Warnf("Match attempt for %s failed, keeping buffer: %v", sess.userID, err)
		sess.lastError = err.Error()
		_ = sess.setState(AttemptFailed)
		return &models.MatchResult{Status: models.StatusNoMatch}
	}

	sess.lastError = ""
	r := result
	sess.lastResult = &r
	if !result.Matched() {
		_ = sess.setState(NoMatch)
		m.log.Debugf("No match for %s (status=%s score=%d)", sess.userID, result.Status, result.Score)
		return &r
	}

	_ = sess.setState(MatchFound)
	now := m.now()
	sess.matches++
	sess.lastMatch = &r
	sess.lastMatchAt = now
	m.log.Infof("Recognized %q by %s for %s (score=%d, offset=%.2fs)", result.Title, result.Artist, sess.userID, result.Score, result.Offset)

	repeat := sess.lastNotified == result.RecordingID && now.Sub(sess.notifiedAt) < m.cfg.RepeatSuppression
	if !repeat {
		sess.lastNotified = result.RecordingID
		sess.notifiedAt = now
		m.dispatch(sess.userID, r)
	}
	sess.reset()
	return &r
}

// dispatch delivers a notification in the background, bounded by
// NotifyTimeout. Failures are logged only.
func (m *Manager) dispatch(userID string, result models.MatchResult) {
	if m.notifier == nil {
		return
	}
	m.notifyWG.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				m.log.Errorf("Notifier panicked for %s: %v", userID, r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.NotifyTimeout)
		defer cancel()
		if err := m.notifier.Notify(ctx, userID, result); err != nil {
			m.log.Warnf("Notification for %s failed: %v", userID, err)
		}
	})
}

// Clear discards a user's session. Any attempt still running for it is
// ignored when it completes. It reports whether the session existed.
func (m *Manager) Clear(userID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	sess.mu.Lock()
	sess.removed = true
	sess.reset()
	sess.mu.Unlock()
	m.log.Debugf("Cleared session %s", userID)
	return true
}

func (m *Manager) Stats(userID string) (Snapshot, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[userID]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshot(), true
}

func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap removes sessions idle for longer than IdleTimeout that have no
// attempt in flight, and returns how many were removed.
func (m *Manager) Reap(now time.Time) int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, sess := range m.sessions {
		sess.mu.Lock()
		if !sess.inFlight && now.Sub(sess.lastActivity) > m.cfg.IdleTimeout {
			sess.removed = true
			sess.reset()
			delete(m.sessions, id)
			n++
		}
		sess.mu.Unlock()
	}
	return n
}

// Run reaps idle sessions every ReapInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.ReapInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Reap(m.now()); n > 0 {
				m.log.Infof("Reaped %d idle sessions", n)
			}
		}
	}
}

func (m *Manager) isClosed() bool {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	return m.closed
}

// Close stops accepting chunks and waits for queued attempts and pending
// notifications to finish.
func (m *Manager) Close() error {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return nil
	}
	m.closed = true
	if m.jobs != nil {
		close(m.jobs)
	}
	m.closeMu.Unlock()

	if m.workers != nil {
		m.workers.Wait()
	}
	m.notifyWG.Wait()
	m.cancel()
	return nil
}
