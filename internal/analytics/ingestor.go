package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/nulzo/prism-router/internal/store"
	"github.com/nulzo/prism-router/internal/store/model"
	"go.uber.org/zap"
)

// Event is everything accounting needs to know about one terminal routing outcome.
type Event struct {
	Record    *model.RouteRecord
	Usage     []*model.UsageStat
	Fallbacks []string
}

// Ingestor handles the asynchronous persistence of routing outcomes.
type Ingestor interface {
	Log(ev *Event)
	Start(ctx context.Context)
	Stop()
}

type IngestorOption func(*ingestor)

func WithBatchSize(n int) IngestorOption {
	return func(i *ingestor) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) IngestorOption {
	return func(i *ingestor) {
		if d > 0 {
			i.flushTime = d
		}
	}
}

func WithBufferSize(n int) IngestorOption {
	return func(i *ingestor) {
		if n > 0 {
			i.bufferSize = n
		}
	}
}

func WithMetrics(m *Metrics) IngestorOption {
	return func(i *ingestor) {
		i.metrics = m
	}
}

type ingestor struct {
	logger     *zap.Logger
	repo       store.Repository
	metrics    *Metrics
	events     chan *Event
	batchSize  int
	bufferSize int
	flushTime  time.Duration

	// guards events against sends after Stop closed it
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewIngestor(logger *zap.Logger, repo store.Repository, opts ...IngestorOption) Ingestor {
	i := &ingestor{
		logger:     logger,
		repo:       repo,
		batchSize:  50,
		bufferSize: 10000,
		flushTime:  5 * time.Second,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.events = make(chan *Event, i.bufferSize)
	return i
}

// Log never blocks the caller. The event is dropped when the buffer is full
// or the ingestor has been stopped.
func (i *ingestor) Log(ev *Event) {
	if ev == nil || ev.Record == nil {
		return
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		i.metrics.dropped()
		i.logger.Warn("Analytics stopped, dropping record", zap.String("request_id", ev.Record.ID))
		return
	}
	select {
	case i.events <- ev:
	default:
		i.metrics.dropped()
		i.logger.Warn("Analytics buffer full, dropping record", zap.String("request_id", ev.Record.ID))
	}
}

func (i *ingestor) Start(ctx context.Context) {
	go i.worker(ctx)
}

// Stop drains pending events and waits for the final flush.
func (i *ingestor) Stop() {
	i.mu.Lock()
	if !i.closed {
		i.closed = true
		close(i.events)
	}
	i.mu.Unlock()
	<-i.done
}

func (i *ingestor) worker(ctx context.Context) {
	defer close(i.done)

	batch := make([]*Event, 0, i.batchSize)
	ticker := time.NewTicker(i.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := i.persist(batch...); err == nil {
			for _, ev := range batch {
				i.metrics.observe(ev)
			}
			batch = batch[:0]
			return
		}

		// one bad record must not take the rest of the batch with it
		for _, ev := range batch {
			if err := i.persist(ev); err != nil {
				i.metrics.persistFailed()
				i.logger.Error("Failed to persist route record", zap.String("id", ev.Record.ID), zap.Error(err))
				continue
			}
			i.metrics.observe(ev)
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-i.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= i.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// drain what is already buffered
			for {
				select {
				case ev, ok := <-i.events:
					if !ok {
						flush()
						return
					}
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

// persist writes the records and their usage rows in one transaction.
func (i *ingestor) persist(events ...*Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return i.repo.WithTx(ctx, func(tx store.Repository) error {
		for _, ev := range events {
			if err := tx.Routes().Log(ctx, ev.Record); err != nil {
				return err
			}
			for _, stat := range ev.Usage {
				if err := tx.Usage().Add(ctx, stat); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
