// Package writequeue - per-key FIFO write serialization
package writequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

var (
	// ErrWriteQueueFull the queue of the key is full
	ErrWriteQueueFull = errors.New("write queue is full")
	// ErrWriteQueueClosed the manager is closed
	ErrWriteQueueClosed = errors.New("write queue is closed")
	// ErrWriteTimeout the operation did not start before the write timeout
	ErrWriteTimeout = errors.New("write operation timeout")
)

// Config write queue configuration
type Config struct {
	// QueueCapacity per key queue capacity
	QueueCapacity int
	// WriteTimeout how long a caller waits for its operation to start
	WriteTimeout time.Duration
	// IdleTimeout idle queues are stopped after this long
	IdleTimeout time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 100,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   10 * time.Minute,
	}
}

// operation states
const (
	opPending int32 = iota
	opRunning
	opAbandoned
)

// writeOp one queued write operation
type writeOp struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	state  atomic.Int32
	result chan error
}

// keyQueue the queue of one key
type keyQueue struct {
	key      string
	ch       chan *writeOp
	lastUsed atomic.Int64
	closed   atomic.Bool
	workerWg sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

func (q *keyQueue) stop() {
	q.stopOnce.Do(func() {
		q.closed.Store(true)
		close(q.stopCh)
	})
}

// Manager manages the write queues of every key
//
// Operations submitted under the same key execute one at a time in submission order.
// Operations under different keys execute concurrently.
type Manager struct {
	goutils.Component
	config Config

	queues sync.Map // map[string]*keyQueue

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	cleanupWg   sync.WaitGroup
	cleanupDone chan struct{}
}

/*
New define a new write queue manager

	@param cfg *Config - configuration, nil selects the default configuration
	@returns manager
*/
func New(cfg *Config) *Manager {
	if cfg == nil {
		defaultCfg := DefaultConfig()
		cfg = &defaultCfg
	}
	defaults := DefaultConfig()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaults.QueueCapacity
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaults.IdleTimeout
	}

	logTags := log.Fields{"package": "stockpile", "module": "writequeue", "component": "manager"}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		config:      *cfg,
		ctx:         ctx,
		cancel:      cancel,
		cleanupDone: make(chan struct{}),
	}

	m.cleanupWg.Add(1)
	go m.cleanupIdleQueues()

	log.WithFields(logTags).
		WithField("queue-capacity", cfg.QueueCapacity).
		WithField("write-timeout", cfg.WriteTimeout).
		WithField("idle-timeout", cfg.IdleTimeout).
		Info("Write queue manager started")

	return m
}

/*
Execute run a write operation in the queue of a key, and wait for its result

An operation which has not started when the caller gives up (context done or write
timeout) is never executed. Once started, the caller waits for it to finish so the
returned error always reflects what actually happened.

	@param ctx context.Context - execution context
	@param key string - the queue key
	@param fn func(ctx context.Context) error - the operation
*/
func (m *Manager) Execute(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if m.IsClosed() {
		return ErrWriteQueueClosed
	}

	op, err := m.submit(ctx, key, fn)
	if err != nil {
		return err
	}

	timeout := m.config.WriteTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var giveUpErr error
	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		giveUpErr = ctx.Err()
	case <-timer.C:
		giveUpErr = ErrWriteTimeout
	case <-m.ctx.Done():
		giveUpErr = ErrWriteQueueClosed
	}

	if op.state.CompareAndSwap(opPending, opAbandoned) {
		return giveUpErr
	}
	// Already running
	return <-op.result
}

/*
submit place a new operation in the queue of a key

An operation which lands in a queue stopped by idle cleanup at the same moment may never
be picked up. Such an operation is withdrawn and placed again in a fresh queue.
*/
func (m *Manager) submit(
	ctx context.Context, key string, fn func(ctx context.Context) error,
) (*writeOp, error) {
	for {
		queue := m.getOrCreateQueue(key)
		if queue == nil {
			return nil, ErrWriteQueueClosed
		}
		op := &writeOp{ctx: ctx, fn: fn, result: make(chan error, 1)}
		accepted, err := enqueue(queue, op)
		if err != nil {
			return nil, err
		}
		if accepted {
			return op, nil
		}
		log.WithFields(m.LogTags).WithField("key", key).Debug("Write queue stopped during submit, retrying")
	}
}

// enqueue place an operation in a queue. Returns false if the queue stopped meanwhile
// and the operation was withdrawn before its worker started it.
func enqueue(queue *keyQueue, op *writeOp) (bool, error) {
	select {
	case queue.ch <- op:
	default:
		return false, ErrWriteQueueFull
	}
	// The stop flag is raised before the worker drains, so a queue still open here
	// will run the operation
	if queue.closed.Load() && op.state.CompareAndSwap(opPending, opAbandoned) {
		return false, nil
	}
	return true, nil
}

// getOrCreateQueue get or lazily create the queue of a key
func (m *Manager) getOrCreateQueue(key string) *keyQueue {
	if v, ok := m.queues.Load(key); ok {
		queue := v.(*keyQueue)
		if !queue.closed.Load() {
			queue.lastUsed.Store(time.Now().UnixNano())
			return queue
		}
	}

	if m.IsClosed() {
		return nil
	}

	queue := &keyQueue{
		key:    key,
		ch:     make(chan *writeOp, m.config.QueueCapacity),
		stopCh: make(chan struct{}),
	}
	queue.lastUsed.Store(time.Now().UnixNano())

	actual, loaded := m.queues.LoadOrStore(key, queue)
	if loaded {
		existing := actual.(*keyQueue)
		if !existing.closed.Load() {
			existing.lastUsed.Store(time.Now().UnixNano())
			return existing
		}
		m.queues.Store(key, queue)
	}

	queue.workerWg.Add(1)
	go m.worker(queue)

	log.WithFields(m.LogTags).
		WithField("key", key).
		WithField("capacity", m.config.QueueCapacity).
		Debug("Created write queue")

	return queue
}

// worker process the operations of one queue
func (m *Manager) worker(queue *keyQueue) {
	defer queue.workerWg.Done()
	defer func() {
		queue.closed.Store(true)
		log.WithFields(m.LogTags).WithField("key", queue.key).Debug("Write queue worker stopped")
	}()

	for {
		select {
		case <-m.ctx.Done():
			m.drainQueue(queue)
			return
		case <-queue.stopCh:
			m.drainQueue(queue)
			return
		case op := <-queue.ch:
			m.executeOp(queue, op)
		}
	}
}

// executeOp run one operation unless its caller already gave up
func (m *Manager) executeOp(queue *keyQueue, op *writeOp) {
	queue.lastUsed.Store(time.Now().UnixNano())

	if !op.state.CompareAndSwap(opPending, opRunning) {
		return
	}
	if err := op.ctx.Err(); err != nil {
		op.result <- err
		return
	}

	op.result <- op.fn(op.ctx)
}

// drainQueue run the operations left in a stopping queue
func (m *Manager) drainQueue(queue *keyQueue) {
	for {
		select {
		case op := <-queue.ch:
			m.executeOp(queue, op)
		default:
			return
		}
	}
}

// cleanupIdleQueues periodically stop idle queues
func (m *Manager) cleanupIdleQueues() {
	defer m.cleanupWg.Done()

	ticker := time.NewTicker(m.config.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.cleanupDone:
			return
		case <-ticker.C:
			m.doCleanup()
		}
	}
}

// doCleanup stop the queues idle beyond the idle timeout
func (m *Manager) doCleanup() {
	now := time.Now().UnixNano()
	idleThreshold := m.config.IdleTimeout.Nanoseconds()

	m.queues.Range(func(k, v interface{}) bool {
		key := k.(string)
		queue := v.(*keyQueue)

		lastUsed := queue.lastUsed.Load()
		if now-lastUsed > idleThreshold && len(queue.ch) == 0 && !queue.closed.Load() {
			log.WithFields(m.LogTags).
				WithField("key", key).
				WithField("idle", time.Duration(now-lastUsed)).
				Debug("Stopping idle write queue")
			queue.stop()
			m.queues.CompareAndDelete(key, queue)
		}
		return true
	})
}

/*
Shutdown close the manager, and wait for queued operations to complete

	@param ctx context.Context - bounds how long to wait
*/
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	log.WithFields(m.LogTags).Info("Write queue manager shutting down")

	close(m.cleanupDone)

	done := make(chan struct{})
	go func() {
		m.queues.Range(func(_, v interface{}) bool {
			v.(*keyQueue).stop()
			return true
		})
		m.queues.Range(func(_, v interface{}) bool {
			v.(*keyQueue).workerWg.Wait()
			return true
		})
		m.cleanupWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.WithFields(m.LogTags).Info("Write queue manager shutdown completed")
		m.cancel()
		return nil
	case <-ctx.Done():
		log.WithFields(m.LogTags).Warn("Write queue manager shutdown timeout, forcing cancellation")
		m.cancel()
		return ctx.Err()
	}
}

// QueueCount number of active queues
func (m *Manager) QueueCount() int {
	count := 0
	m.queues.Range(func(_, v interface{}) bool {
		if !v.(*keyQueue).closed.Load() {
			count++
		}
		return true
	})
	return count
}

// QueuedCount number of operations waiting in the queue of a key
func (m *Manager) QueuedCount(key string) int {
	if v, ok := m.queues.Load(key); ok {
		return len(v.(*keyQueue).ch)
	}
	return 0
}

// IsClosed whether the manager is closed
func (m *Manager) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
