package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// EventJournal is a Publisher that persists the event stream to a local
// pebble store, keyed by sequence id. It is the durable audit trail a host
// can replay to rebuild downstream read models after a restart.
type EventJournal struct {
	db *pebble.DB
}

// OpenJournal opens (or creates) the journal at dir.
func OpenJournal(dir string) (*EventJournal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &EventJournal{db: db}, nil
}

// Close flushes and closes the store.
func (j *EventJournal) Close() error {
	return j.db.Close()
}

// Publish writes the events synchronously. Events are serialized before
// Publish returns, so pooled event recycling by the caller is safe.
func (j *EventJournal) Publish(events ...*BookEvent) {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Error("journal: failed to marshal event", "seq_id", ev.SequenceID, "error", err)
			continue
		}
		if err := j.db.Set(journalKey(ev.SequenceID), data, pebble.Sync); err != nil {
			logger.Error("journal: failed to persist event", "seq_id", ev.SequenceID, "error", err)
		}
	}
}

// Replay streams the journaled events with sequence id in (afterSeqID, ∞)
// to fn in sequence order. fn returning an error stops the replay.
func (j *EventJournal) Replay(afterSeqID uint64, fn func(*BookEvent) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: journalKey(afterSeqID + 1),
		UpperBound: []byte("event/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var ev BookEvent
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return err
		}
		if err := fn(&ev); err != nil {
			return err
		}
	}
	return iter.Error()
}

// LastSequenceID returns the highest journaled sequence id, zero when the
// journal is empty.
func (j *EventJournal) LastSequenceID() (uint64, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("event/"),
		UpperBound: []byte("event/~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseJournalKey(iter.Key())
}

// Zero-padding keeps lexicographic key order equal to numeric order.
func journalKey(seqID uint64) []byte {
	return []byte(fmt.Sprintf("event/%020d", seqID))
}

func parseJournalKey(b []byte) (uint64, error) {
	var id uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte("event/"))), "%d", &id)
	return id, err
}
