package eventlog

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/stocktake/internal/models"
)

// memStore is an in-memory Store for chain tests
type memStore struct {
	events []models.CountingEvent
	nextID uint
}

func (s *memStore) LatestEvent(ctx context.Context, countingID uint) (*models.CountingEvent, error) {
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].CountingID == countingID {
			e := s.events[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *memStore) SaveEvent(ctx context.Context, event *models.CountingEvent) error {
	s.nextID++
	event.ID = s.nextID
	s.events = append(s.events, *event)
	return nil
}

func newTestLog() *Log {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(logger)
}

func TestAppendStartsFromGenesis(t *testing.T) {
	store := &memStore{}
	log := newTestLog()

	event, err := log.Append(context.Background(), store, Entry{
		CountingID: 1,
		EventType:  models.CountingCreated,
		EventData:  []byte(`{"code":"CNT-1"}`),
		ActorID:    "admin-1",
	})
	require.NoError(t, err)
	require.Equal(t, GenesisHash, event.PreviousHash)
	require.Equal(t, ComputeHash(event), event.EventHash)
	require.False(t, event.CreatedAt.IsZero())
}

func TestAppendChainsHashes(t *testing.T) {
	store := &memStore{}
	log := newTestLog()
	ctx := context.Background()

	first, err := log.Append(ctx, store, Entry{
		CountingID: 1,
		EventType:  models.CountingCreated,
		ActorID:    "admin-1",
	})
	require.NoError(t, err)

	second, err := log.Append(ctx, store, Entry{
		CountingID: 1,
		EventType:  models.CountingActivated,
		ActorID:    "admin-1",
	})
	require.NoError(t, err)
	require.Equal(t, first.EventHash, second.PreviousHash)
	require.NotEqual(t, first.EventHash, second.EventHash)
}

func TestChainsAreIndependentPerCounting(t *testing.T) {
	store := &memStore{}
	log := newTestLog()
	ctx := context.Background()

	_, err := log.Append(ctx, store, Entry{CountingID: 1, EventType: models.CountingCreated, ActorID: "a"})
	require.NoError(t, err)
	other, err := log.Append(ctx, store, Entry{CountingID: 2, EventType: models.CountingCreated, ActorID: "a"})
	require.NoError(t, err)
	require.Equal(t, GenesisHash, other.PreviousHash)
}

func TestVerifyIntactChain(t *testing.T) {
	store := &memStore{}
	log := newTestLog()
	ctx := context.Background()

	itemID := uint(7)
	entries := []Entry{
		{CountingID: 1, EventType: models.CountingCreated, EventData: []byte(`{"code":"CNT-1"}`), ActorID: "admin-1"},
		{CountingID: 1, EventType: models.CountingActivated, ActorID: "admin-1"},
		{CountingID: 1, ItemID: &itemID, EventType: models.CountSubmitted, EventData: []byte(`{"phase":1}`), ActorID: "counter-1"},
	}
	for _, e := range entries {
		_, err := log.Append(ctx, store, e)
		require.NoError(t, err)
	}

	require.NoError(t, Verify(store.events))
}

func TestVerifyDetectsTamperedData(t *testing.T) {
	store := &memStore{}
	log := newTestLog()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := log.Append(ctx, store, Entry{
			CountingID: 1,
			EventType:  models.CountSubmitted,
			EventData:  []byte(`{"quantity":10}`),
			ActorID:    "counter-1",
		})
		require.NoError(t, err)
	}

	// Rewrite a quantity in the middle of the chain
	store.events[1].EventData = []byte(`{"quantity":99}`)

	err := Verify(store.events)
	require.Error(t, err)
	chainErr, ok := err.(*ChainError)
	require.True(t, ok)
	require.Equal(t, 1, chainErr.Position)
}

func TestVerifyDetectsRelinkedChain(t *testing.T) {
	store := &memStore{}
	log := newTestLog()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := log.Append(ctx, store, Entry{
			CountingID: 1,
			EventType:  models.CountSubmitted,
			ActorID:    "counter-1",
		})
		require.NoError(t, err)
	}

	// Tamper with an event and recompute its own hash; the next event's
	// previous-hash no longer matches.
	store.events[1].ActorID = "intruder"
	store.events[1].EventHash = ComputeHash(&store.events[1])

	err := Verify(store.events)
	require.Error(t, err)
	chainErr, ok := err.(*ChainError)
	require.True(t, ok)
	require.Equal(t, 2, chainErr.Position)
}

func TestVerifyEmptyChain(t *testing.T) {
	require.NoError(t, Verify(nil))
}
