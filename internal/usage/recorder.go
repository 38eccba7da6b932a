// Package usage moves the append-only usage ledger: the gateway publishes
// records to Kafka fire-and-forget, and the flush worker folds them into
// ClickHouse in batches.
package usage

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/vireopay/merchant-gateway/internal/logger"
	"github.com/vireopay/merchant-gateway/internal/metrics"
	"github.com/vireopay/merchant-gateway/internal/model"
	"github.com/vireopay/merchant-gateway/internal/util"
)

// Publisher is the ledger transport (Kafka in production).
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

const (
	publishTimeout = 3 * time.Second
	queueDepth     = 1024
)

// Recorder appends usage records without ever blocking or failing the
// request that produced them. Records queue on a bounded channel drained
// by a single publisher loop; when the queue is full or a publish fails
// the record is dropped with a counted metric.
type Recorder struct {
	pub  Publisher
	ch   chan model.UsageRecord
	done chan struct{}
}

func NewRecorder(pub Publisher) *Recorder {
	return newRecorder(pub, queueDepth)
}

func newRecorder(pub Publisher, depth int) *Recorder {
	r := &Recorder{
		pub:  pub,
		ch:   make(chan model.UsageRecord, depth),
		done: make(chan struct{}),
	}
	go r.drain()
	return r
}

// Record fills in id/timestamp and enqueues the row. Never blocks: a full
// queue (broker outage backing up the drain loop) drops the record.
func (r *Recorder) Record(rec model.UsageRecord) {
	if rec.ID == "" {
		rec.ID = util.NewULID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	select {
	case r.ch <- rec:
	default:
		metrics.UsageDroppedTotal.Inc()
		logger.Log.Warn("usage queue full, record dropped",
			zap.String("tenant_id", rec.TenantID),
			zap.String("endpoint", rec.Endpoint))
	}
}

// Close stops accepting records, drains what is queued and waits for the
// publisher loop to exit.
func (r *Recorder) Close() {
	close(r.ch)
	<-r.done
}

func (r *Recorder) drain() {
	defer close(r.done)
	for rec := range r.ch {
		r.publish(rec)
	}
}

func (r *Recorder) publish(rec model.UsageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	payload, err := json.Marshal(rec)
	if err != nil {
		metrics.UsageDroppedTotal.Inc()
		logger.Log.Warn("usage record marshal failed", zap.Error(err))
		return
	}
	if err := r.pub.Publish(ctx, []byte(rec.TenantID), payload); err != nil {
		metrics.UsageDroppedTotal.Inc()
		logger.Log.Warn("usage record dropped",
			zap.String("tenant_id", rec.TenantID),
			zap.String("endpoint", rec.Endpoint),
			zap.Error(err))
	}
}
