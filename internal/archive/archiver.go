// Package archive drains the price stream into the price_ticks table in
// batches, on its own consumer group so the engine's cursor is untouched.
// Entries are committed only after their batch has been inserted.
package archive

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"levx/internal/model"
	"levx/internal/stream"
)

type TickStore interface {
	InsertTicks(ctx context.Context, ticks []model.PriceTick) (int64, error)
}

type Stream interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Archiver struct {
	log       *zap.Logger
	store     TickStore
	reader    Stream
	batchSize int
	interval  time.Duration

	ticks []model.PriceTick
	msgs  []kafka.Message
}

func New(log *zap.Logger, store TickStore, reader Stream, batchSize int, interval time.Duration) *Archiver {
	return &Archiver{log: log, store: store, reader: reader, batchSize: batchSize, interval: interval}
}

func (a *Archiver) Run(ctx context.Context) error {
	incoming := make(chan kafka.Message)
	go a.fetch(ctx, incoming)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			a.flush(ctx)
		case msg := <-incoming:
			tick, err := stream.DecodePriceMessage(msg.Value)
			if err != nil {
				// Malformed ticks are dropped but still committed so the
				// group does not stall on them.
				a.log.Warn("dropping malformed price entry", zap.Error(err))
				a.msgs = append(a.msgs, msg)
				continue
			}
			a.ticks = append(a.ticks, tick)
			a.msgs = append(a.msgs, msg)
			if len(a.ticks) >= a.batchSize {
				a.flush(ctx)
			}
		}
	}
}

func (a *Archiver) fetch(ctx context.Context, out chan<- kafka.Message) {
	for {
		msg, err := a.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Warn("stream fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// flush inserts the buffered ticks and commits their entries. On insert
// failure the buffer is kept and the next interval retries; nothing is
// committed until the rows are durable.
func (a *Archiver) flush(ctx context.Context) {
	if len(a.msgs) == 0 {
		return
	}
	inserted, err := a.store.InsertTicks(ctx, a.ticks)
	if err != nil {
		a.log.Warn("tick insert failed, keeping batch", zap.Error(err))
		return
	}
	if err := a.reader.CommitMessages(ctx, a.msgs...); err != nil {
		a.log.Warn("commit failed", zap.Error(err))
	}
	a.log.Info("archived ticks", zap.Int("batch", len(a.ticks)), zap.Int64("inserted", inserted))
	a.ticks = a.ticks[:0]
	a.msgs = a.msgs[:0]
}
