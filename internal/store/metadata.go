package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notemirror/notemirror/internal/cloud"
	"github.com/notemirror/notemirror/internal/logging"
)

// MetadataCache persists and serves folder-listing snapshots with a fixed
// TTL. One record per folder, in memory and on disk; no eviction — capacity
// is bounded by the number of folders ever browsed.
type MetadataCache struct {
	layout Layout
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger

	mu        sync.RWMutex
	snapshots map[int64]*FolderSnapshot
}

// NewMetadataCache creates the cache and seeds its in-memory index from the
// snapshots persisted under the account directory. Unreadable snapshot files
// are treated as misses and removed.
func NewMetadataCache(layout Layout, ttl time.Duration, now func() time.Time) *MetadataCache {
	if now == nil {
		now = time.Now
	}
	c := &MetadataCache{
		layout:    layout,
		ttl:       ttl,
		now:       now,
		log:       logging.Named("metadata"),
		snapshots: make(map[int64]*FolderSnapshot),
	}
	c.seed()
	return c
}

func (c *MetadataCache) seed() {
	dirs, err := os.ReadDir(c.layout.AccountDir())
	if err != nil {
		return
	}
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		folderID, err := strconv.ParseInt(dir.Name(), 10, 64)
		if err != nil {
			continue
		}
		path := c.layout.SnapshotPath(folderID)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var snap FolderSnapshot
		if err := json.Unmarshal(data, &snap); err != nil || snap.FolderID != folderID {
			c.log.Warn("removing corrupt folder snapshot", zap.String("path", path), zap.Error(err))
			os.Remove(path)
			continue
		}
		c.snapshots[folderID] = &snap
	}
	c.log.Debug("seeded metadata cache", zap.Int("folders", len(c.snapshots)))
}

// Folder returns the snapshot for a folder and whether it is fresh. A stale
// or absent snapshot must be treated as a miss for read decisions; the stale
// value is still returned so callers can serve it in degraded mode.
func (c *MetadataCache) Folder(folderID int64) (*FolderSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[folderID]
	if !ok {
		return nil, false
	}
	return snap, snap.Age(c.now()) < c.ttl
}

// PutFolder stores a new snapshot for the folder, replacing any prior one,
// and persists it with whole-file replace semantics.
func (c *MetadataCache) PutFolder(folderID int64, entries []cloud.Entry) (*FolderSnapshot, error) {
	snap := &FolderSnapshot{
		FolderID:  folderID,
		Entries:   entries,
		FetchedAt: c.now(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := writeFileAtomic(c.layout.SnapshotPath(folderID), data, 0644); err != nil {
		return nil, fmt.Errorf("persist snapshot for folder %d: %w", folderID, err)
	}

	c.mu.Lock()
	c.snapshots[folderID] = snap
	c.mu.Unlock()
	return snap, nil
}

// Folders returns the IDs of all cached folder snapshots.
func (c *MetadataCache) Folders() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int64, 0, len(c.snapshots))
	for id := range c.snapshots {
		ids = append(ids, id)
	}
	return ids
}
