// Package eventlog maintains the tamper-evident audit trail for countings.
// Every entry's hash covers the previous entry's hash, so the chain for a
// counting can be verified from genesis and any alteration of a past entry
// invalidates every hash after it. Appends are explicit: the lifecycle
// service calls Append inside the same transaction as the state change the
// entry documents.
package eventlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/stocktake/internal/models"
)

// GenesisHash is the sentinel previous-hash of the first event in a chain
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Store is the narrow persistence surface the log needs. The repository's
// transactional handle satisfies it, so appends share the caller's
// transaction.
type Store interface {
	LatestEvent(ctx context.Context, countingID uint) (*models.CountingEvent, error)
	SaveEvent(ctx context.Context, event *models.CountingEvent) error
}

// Log appends hash-chained events for countings
type Log struct {
	log *logrus.Logger
}

// New creates an event log writer
func New(log *logrus.Logger) *Log {
	return &Log{log: log}
}

// Entry describes one event to append. CreatedAt is stamped by Append.
type Entry struct {
	CountingID uint
	ItemID     *uint
	EventType  string
	EventData  []byte
	ActorID    string
}

// Append writes one event to the chain for a counting. The caller must hold
// the counting's aggregate lock for the duration of its transaction so two
// concurrent appends cannot both read the same chain tip.
func (l *Log) Append(ctx context.Context, store Store, entry Entry) (*models.CountingEvent, error) {
	prev, err := store.LatestEvent(ctx, entry.CountingID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chain tip")
	}

	prevHash := GenesisHash
	if prev != nil {
		prevHash = prev.EventHash
	}

	event := &models.CountingEvent{
		CountingID:   entry.CountingID,
		ItemID:       entry.ItemID,
		EventType:    entry.EventType,
		EventData:    entry.EventData,
		ActorID:      entry.ActorID,
		CreatedAt:    time.Now().UTC(),
		PreviousHash: prevHash,
	}
	event.EventHash = ComputeHash(event)

	if err := store.SaveEvent(ctx, event); err != nil {
		return nil, errors.Wrap(err, "failed to append event")
	}

	l.log.WithFields(logrus.Fields{
		"counting_id": entry.CountingID,
		"event_type":  entry.EventType,
	}).Debug("Event appended")

	return event, nil
}

// ComputeHash derives an event's hash from its content and the previous hash
func ComputeHash(e *models.CountingEvent) string {
	itemRef := ""
	if e.ItemID != nil {
		itemRef = strconv.FormatUint(uint64(*e.ItemID), 10)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s|%s",
		e.PreviousHash,
		e.CountingID,
		itemRef,
		e.EventType,
		e.EventData,
		e.ActorID,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// ChainError reports the first event whose stored hashes do not match the
// recomputed chain.
type ChainError struct {
	Position int
	EventID  uint
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("event chain broken at position %d (event %d): %s", e.Position, e.EventID, e.Reason)
}

// Verify recomputes the hash chain over events ordered oldest-first and
// compares against the stored hashes. It returns nil when the chain is intact.
func Verify(events []models.CountingEvent) error {
	expectedPrev := GenesisHash
	for i := range events {
		e := &events[i]
		if e.PreviousHash != expectedPrev {
			return &ChainError{Position: i, EventID: e.ID, Reason: "previous hash does not match prior event"}
		}
		if recomputed := ComputeHash(e); recomputed != e.EventHash {
			return &ChainError{Position: i, EventID: e.ID, Reason: "stored hash does not match recomputed hash"}
		}
		expectedPrev = e.EventHash
	}
	return nil
}
