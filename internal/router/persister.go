package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nightdesk/pkg/interfaces"
)

// persistJob is one queued write; exactly one of the fields is set
type persistJob struct {
	message *interfaces.MessageRecord
	channel *interfaces.ChannelRecord
}

// Persister performs best-effort writes off the routing path
// ARCHITECTURAL DISCOVERY: Single writer goroutine keeps per-channel write order
// equal to delivery order while a slow store never blocks fan-out
type Persister struct {
	store   interfaces.Store
	journal interfaces.ChannelJournal // nil when the store keeps no channel metadata
	queue   chan persistJob
	timeout time.Duration
	log     *slog.Logger

	mu      sync.RWMutex
	stopped bool
	started bool
	wg      sync.WaitGroup
}

// NewPersister creates a persister over store; the journal side is enabled
// when store also implements interfaces.ChannelJournal
func NewPersister(store interfaces.Store, queueSize int, timeout time.Duration, log *slog.Logger) *Persister {
	journal, _ := store.(interfaces.ChannelJournal)
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Persister{
		store:   store,
		journal: journal,
		queue:   make(chan persistJob, queueSize),
		timeout: timeout,
		log:     log,
	}
}

// Start launches the writer goroutine
func (p *Persister) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.wg.Add(1)
	go p.writeLoop()
}

// Stop refuses new jobs, drains the queue and waits for the writer
func (p *Persister) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	close(p.queue)
	p.mu.Unlock()

	if !started {
		// Nothing consumed the queue; write what is left inline
		for job := range p.queue {
			p.write(job)
		}
		return
	}
	p.wg.Wait()
}

// EnqueueMessage queues a message append
func (p *Persister) EnqueueMessage(record interfaces.MessageRecord) error {
	return p.enqueue(persistJob{message: &record})
}

// EnqueueChannel queues a channel metadata write; dropped when the store
// keeps no journal
func (p *Persister) EnqueueChannel(record interfaces.ChannelRecord) error {
	if p.journal == nil {
		return nil
	}
	return p.enqueue(persistJob{channel: &record})
}

// Journaling reports whether channel metadata is persisted
func (p *Persister) Journaling() bool {
	return p.journal != nil
}

func (p *Persister) enqueue(job persistJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPersisterStopped
	}

	// TECHNICAL DISCOVERY: Non-blocking send; a full queue drops the write
	// instead of stalling the hub
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrPersistQueueFull
	}
}

func (p *Persister) writeLoop() {
	defer p.wg.Done()
	for job := range p.queue {
		p.write(job)
	}
}

func (p *Persister) write(job persistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	switch {
	case job.message != nil:
		if err := p.store.Append(ctx, *job.message); err != nil {
			p.log.Error("message persistence failed",
				"channel", job.message.ChannelID, "message", job.message.ID, "error", err)
		}
	case job.channel != nil:
		if err := p.journal.SaveChannel(ctx, *job.channel); err != nil {
			p.log.Error("channel journal write failed",
				"channel", job.channel.ID, "status", job.channel.Status, "error", err)
		}
	}
}
