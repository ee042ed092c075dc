package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var ErrWorkerClosed = errors.New("db worker closed")

type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker serializes every write transaction onto a single goroutine so the
// single SQLite connection never sees concurrent writers.
type Worker struct {
	db      *sql.DB
	jobs    chan job
	done    chan struct{}
	quit    chan struct{}
	metrics *WorkerMetrics

	closeOnce sync.Once
}

// WorkerMetrics counts write transactions by result.
type WorkerMetrics struct {
	txs *prometheus.CounterVec
}

func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	m := &WorkerMetrics{
		txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkserver",
			Subsystem: "db",
			Name:      "write_transactions_total",
			Help:      "Write transactions run by the single-writer worker.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.txs)
	}
	return m
}

func (m *WorkerMetrics) observe(result string) {
	if m == nil {
		return
	}
	m.txs.WithLabelValues(result).Inc()
}

func NewWorker(db *sql.DB, metrics *WorkerMetrics) *Worker {
	w := &Worker{
		db:      db,
		jobs:    make(chan job, 256),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
		metrics: metrics,
	}
	go w.loop()
	return w
}

// Close runs the jobs already queued and stops the worker. Do after Close
// returns ErrWorkerClosed.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.quit) })
	<-w.done
}

func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	// Enqueue; bail out if the caller's context expires while the buffer is full.
	select {
	case w.jobs <- j:
	case <-w.quit:
		return ErrWorkerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// The worker still finishes a job whose caller gave up; its result lands
	// in the buffered ch and is discarded.
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		select {
		case err := <-ch:
			return err
		default:
			return ErrWorkerClosed
		}
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for {
		select {
		case j := <-w.jobs:
			w.run(j)
		case <-w.quit:
			for {
				select {
				case j := <-w.jobs:
					w.run(j)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) run(j job) {
	if err := j.ctx.Err(); err != nil {
		w.metrics.observe("cancelled")
		j.ch <- err
		return
	}

	tx, err := w.db.BeginTx(j.ctx, nil)
	if err != nil {
		w.metrics.observe("error")
		j.ch <- err
		return
	}

	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		w.metrics.observe("rollback")
		j.ch <- err
		return
	}

	err = tx.Commit()
	if err != nil {
		w.metrics.observe("error")
	} else {
		w.metrics.observe("commit")
	}
	j.ch <- err
}
