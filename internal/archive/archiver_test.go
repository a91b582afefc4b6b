package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"levx/internal/model"
)

type fakeStream struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
}

func newFakeStream(values ...[]byte) *fakeStream {
	s := &fakeStream{msgs: make(chan kafka.Message, len(values))}
	for i, v := range values {
		s.msgs <- kafka.Message{Offset: int64(i), Value: v}
	}
	return s
}

func (s *fakeStream) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *fakeStream) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, msgs...)
	return nil
}

func (s *fakeStream) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed)
}

type fakeStore struct {
	mu       sync.Mutex
	inserted []model.PriceTick
	failures int
}

func (f *fakeStore) InsertTicks(ctx context.Context, ticks []model.PriceTick) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("db unavailable")
	}
	f.inserted = append(f.inserted, ticks...)
	return int64(len(ticks)), nil
}

func (f *fakeStore) insertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

func tickPayload(price int64) []byte {
	return []byte(fmt.Sprintf(`{"market":"BTC","price":"%d","timestamp":"1700000000000"}`, price))
}

func runArchiver(t *testing.T, a *Archiver, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	finished := make(chan error, 1)
	go func() { finished <- a.Run(ctx) }()
	require.Eventually(t, done, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-finished)
}

func TestFullBatchFlushedAndCommitted(t *testing.T) {
	s := newFakeStream(tickPayload(50000), tickPayload(50001), tickPayload(50002))
	store := &fakeStore{}
	a := New(zap.NewNop(), store, s, 3, time.Hour)

	runArchiver(t, a, func() bool { return s.commitCount() == 3 })
	assert.Equal(t, 3, store.insertedCount())
}

func TestIntervalFlushesPartialBatch(t *testing.T) {
	s := newFakeStream(tickPayload(50000))
	store := &fakeStore{}
	a := New(zap.NewNop(), store, s, 500, 10*time.Millisecond)

	runArchiver(t, a, func() bool { return s.commitCount() == 1 })
	assert.Equal(t, 1, store.insertedCount())
}

func TestInsertFailureKeepsBatchUntilRetrySucceeds(t *testing.T) {
	s := newFakeStream(tickPayload(50000), tickPayload(50001))
	store := &fakeStore{failures: 2}
	a := New(zap.NewNop(), store, s, 2, 10*time.Millisecond)

	runArchiver(t, a, func() bool { return s.commitCount() == 2 })
	// Nothing was committed before the insert finally landed.
	assert.Equal(t, 2, store.insertedCount())
}

func TestMalformedEntryCommittedWithoutInsert(t *testing.T) {
	s := newFakeStream([]byte(`not json`), tickPayload(50000))
	store := &fakeStore{}
	a := New(zap.NewNop(), store, s, 1, time.Hour)

	runArchiver(t, a, func() bool { return s.commitCount() == 2 })
	assert.Equal(t, 1, store.insertedCount())
}

func TestShutdownFlushesRemainder(t *testing.T) {
	s := newFakeStream(tickPayload(50000))
	store := &fakeStore{}
	a := New(zap.NewNop(), store, s, 500, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- a.Run(ctx) }()
	require.Eventually(t, func() bool { return len(s.msgs) == 0 }, 2*time.Second, time.Millisecond)
	// Give the message time to cross from the fetch goroutine into the buffer.
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-finished)

	assert.Equal(t, 1, store.insertedCount())
	assert.Equal(t, 1, s.commitCount())
}
