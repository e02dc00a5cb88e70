package devserver

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StoredRecord is one record of the bookmarks collection together with the
// server timestamp of its last write.
type StoredRecord struct {
	ID       string
	Payload  json.RawMessage
	Modified int64
}

// Collection is the in-memory bookmarks collection. Every upload batch gets
// a single fresh modified timestamp, strictly greater than all earlier ones,
// so watermark fetches never miss a record.
type Collection struct {
	mu               sync.RWMutex
	records          map[string]StoredRecord
	serverModified   int64
	globalSyncID     string
	collectionSyncID string
}

// NewCollection creates an empty collection under a fresh sync generation.
func NewCollection() *Collection {
	return &Collection{
		records:          make(map[string]StoredRecord),
		globalSyncID:     uuid.NewString(),
		collectionSyncID: uuid.NewString(),
	}
}

// Fetch returns all records modified strictly after newerThan, ordered by
// timestamp then ID, together with the collection watermark and the current
// sync generation.
func (c *Collection) Fetch(newerThan int64) ([]StoredRecord, int64, string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]StoredRecord, 0, len(c.records))
	for _, rec := range c.records {
		if rec.Modified > newerThan {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Modified != records[j].Modified {
			return records[i].Modified < records[j].Modified
		}
		return records[i].ID < records[j].ID
	})

	return records, c.serverModified, c.globalSyncID, c.collectionSyncID
}

// Put stores one upload batch. All records in the batch share a single fresh
// timestamp, which becomes the new collection watermark. Records with an
// empty ID are skipped; the accepted IDs are returned in batch order.
func (c *Collection) Put(records []StoredRecord) ([]string, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	modified := time.Now().UnixMilli()
	if modified <= c.serverModified {
		modified = c.serverModified + 1
	}

	accepted := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" || len(rec.Payload) == 0 {
			continue
		}
		c.records[rec.ID] = StoredRecord{ID: rec.ID, Payload: rec.Payload, Modified: modified}
		accepted = append(accepted, rec.ID)
	}

	if len(accepted) > 0 {
		c.serverModified = modified
	}

	return accepted, c.serverModified
}

// Rotate wipes the collection and starts a fresh sync generation, the
// server-side event clients observe as a sync ID change.
func (c *Collection) Rotate() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = make(map[string]StoredRecord)
	c.serverModified = 0
	c.globalSyncID = uuid.NewString()
	c.collectionSyncID = uuid.NewString()

	return c.globalSyncID, c.collectionSyncID
}

// Len returns the number of stored records.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
