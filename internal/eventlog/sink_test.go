package eventlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pts-server/pts-server-pro/internal/models"
	"github.com/pts-server/pts-server-pro/internal/storage"
)

// memStore is an in-memory Store capturing persisted events.
type memStore struct {
	mu     sync.Mutex
	events []*models.EventLog
}

func (m *memStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memStore) ListEventLogs(ctx context.Context, filters storage.EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events, int64(len(m.events)), nil
}

func (m *memStore) GetTagBalance(ctx context.Context, tagID string) (*models.TagBalance, error) {
	return nil, storage.ErrNotFound
}

func (m *memStore) UpsertTagBalance(ctx context.Context, balance *models.TagBalance) error {
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestAsyncSinkPersistsEvents(t *testing.T) {
	store := &memStore{}
	sink := NewAsyncSink(store, nil, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)

	sink.Record(&models.EventLog{
		PtsID: "0027003A",
		Type:  models.EventTypeConnection,
		Level: models.EventLevelInfo,
	})
	sink.Record(&models.EventLog{
		PtsID: "0027003A",
		Type:  models.EventTypeDisconnection,
		Level: models.EventLevelInfo,
	})

	require.Eventually(t, func() bool {
		return store.count() == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-sink.Done():
	case <-time.After(time.Second):
		t.Fatal("sink did not stop")
	}
}

func TestAsyncSinkSetsCreatedAt(t *testing.T) {
	sink := NewAsyncSink(&memStore{}, nil, 16, nil)

	event := &models.EventLog{PtsID: "A", Type: models.EventTypePing}
	sink.Record(event)

	assert.False(t, event.CreatedAt.IsZero())
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	store := &memStore{}
	// Worker not running, so the buffer fills and stays full.
	sink := NewAsyncSink(store, nil, 2, nil)

	for i := 0; i < 5; i++ {
		sink.Record(&models.EventLog{PtsID: "A", Type: models.EventTypePing})
	}

	// Record never blocked; only the buffered two survive.
	assert.Len(t, sink.ch, 2)
}

func TestAsyncSinkDrainsOnShutdown(t *testing.T) {
	store := &memStore{}
	sink := NewAsyncSink(store, nil, 16, nil)

	for i := 0; i < 5; i++ {
		sink.Record(&models.EventLog{PtsID: "A", Type: models.EventTypePing})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	go sink.Run(ctx)

	select {
	case <-sink.Done():
	case <-time.After(time.Second):
		t.Fatal("sink did not stop")
	}

	// Everything queued before shutdown was still persisted.
	assert.Equal(t, 5, store.count())
}
