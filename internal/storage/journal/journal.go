// Package journal persists the engine's decision trail in an append-only
// WAL: every buy verdict, exit trigger and partial sell is recorded with
// its reason so a trading session can be replayed after the fact.
package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	DefaultDir   = "./wal/decisions"
	segmentLimit = 100
	maxSegments  = 10

	decisionKeyPrefix = "decision_"
)

// Event is one recorded engine decision.
type Event struct {
	ID        string `json:"id"`
	Pair      string `json:"pair"`
	Stage     string `json:"stage"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// Record is an event together with its WAL position.
type Record struct {
	Index uint64
	Event Event
}

// Journal persists decision events in a WAL.
type Journal struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// New initializes a WAL-backed decision journal.
func New(dir string) (*Journal, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "decision_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init decision journal")
	}

	return &Journal{wal: wal}, nil
}

// Record appends a decision event and returns its generated id.
func (j *Journal) Record(event Event) (string, error) {
	if j == nil || j.wal == nil {
		return "", errors.New("decision journal is not initialized")
	}
	if event.Pair == "" {
		return "", fmt.Errorf("decision event pair is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", errors.Wrap(err, "marshal decision event")
	}

	key := fmt.Sprintf("%s%s", decisionKeyPrefix, event.Pair)

	j.mu.Lock()
	defer j.mu.Unlock()

	nextIndex := j.wal.CurrentIndex() + 1
	if err := j.wal.Write(nextIndex, key, payload); err != nil {
		return "", errors.Wrap(err, "write decision event")
	}
	return event.ID, nil
}

// EventsAfter returns all decision events written after the provided index.
func (j *Journal) EventsAfter(index uint64) ([]Record, error) {
	if j == nil || j.wal == nil {
		return nil, errors.New("decision journal is not initialized")
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	current := j.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := j.wal.Get(idx)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, decisionKeyPrefix) {
			continue
		}

		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, errors.Wrap(err, "decode decision event")
		}
		records = append(records, Record{Index: idx, Event: event})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (j *Journal) CurrentIndex() uint64 {
	if j == nil || j.wal == nil {
		return 0
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	if j == nil || j.wal == nil {
		return errors.New("decision journal is not initialized")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}
