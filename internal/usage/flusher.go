package usage

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/vireopay/merchant-gateway/internal/kafka"
	"github.com/vireopay/merchant-gateway/internal/logger"
	"github.com/vireopay/merchant-gateway/internal/model"
	"github.com/vireopay/merchant-gateway/internal/repository"
)

// Fetcher is the consuming side of the ledger transport.
type Fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Flusher drains usage records from Kafka and folds them into ClickHouse
// with size/time-based batch flushes. Offsets commit only after a batch
// lands, so delivery is at-least-once; readers tolerate the rare duplicate
// because rows carry unique ULIDs.
type Flusher struct {
	Consumer Fetcher
	Ledger   repository.CHUsageRepository

	BatchSize int
	BatchWait time.Duration
}

func NewFlusher(consumer Fetcher, ledger repository.CHUsageRepository, batchSize int, batchWait time.Duration) *Flusher {
	if batchSize <= 0 {
		batchSize = 200
	}
	if batchWait <= 0 {
		batchWait = 2 * time.Second
	}
	return &Flusher{Consumer: consumer, Ledger: ledger, BatchSize: batchSize, BatchWait: batchWait}
}

// Run blocks until ctx is cancelled, flushing whatever is buffered on exit.
func (f *Flusher) Run(ctx context.Context) error {
	msgCh := make(chan kafka.Message, f.BatchSize*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			m, err := f.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Log.Warn("usage fetch failed", zap.Error(err))
				time.Sleep(200 * time.Millisecond)
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	tick := time.NewTicker(f.BatchWait)
	defer tick.Stop()

	var (
		records []model.UsageRecord
		pending []kafka.Message
	)

	flush := func() {
		if len(records) == 0 {
			if len(pending) > 0 {
				// everything buffered was poison; advance past it
				_ = f.Consumer.Commit(context.Background(), pending...)
				pending = pending[:0]
			}
			return
		}

		// Flush with a detached context so a shutdown mid-batch still
		// commits a consistent ledger slice.
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := f.Ledger.InsertBatch(fctx, records); err != nil {
			// Keep the buffers: the next size/tick trigger retries this
			// batch, and the uncommitted offsets make a restart refetch
			// it. Clearing here would let a later commit advance the
			// group offset past these messages for good.
			logger.Log.Error("usage batch insert failed, will retry",
				zap.Int("rows", len(records)), zap.Error(err))
			return
		}

		if err := f.Consumer.Commit(fctx, pending...); err != nil {
			logger.Log.Warn("usage offset commit failed", zap.Error(err))
		}
		records = records[:0]
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()

		case <-tick.C:
			flush()

		case m, ok := <-msgCh:
			if !ok {
				flush()
				return ctx.Err()
			}
			var rec model.UsageRecord
			if err := json.Unmarshal(m.Value, &rec); err != nil || rec.ID == "" {
				logger.Log.Warn("bad usage payload, skipping", zap.Error(err))
				pending = append(pending, m)
				continue
			}
			records = append(records, rec)
			pending = append(pending, m)
			if len(records) >= f.BatchSize {
				flush()
			}
		}
	}
}
