package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/notemirror/notemirror/internal/cloud"
	"github.com/notemirror/notemirror/internal/logging"
	"github.com/notemirror/notemirror/internal/metrics"
)

// Fetcher downloads a remote document's bytes.
type Fetcher interface {
	FetchFile(ctx context.Context, fileID int64) ([]byte, error)
}

// Invalidator discards derived assets for a document whose bytes changed.
type Invalidator interface {
	Invalidate(parentID int64, name string) error
}

// DocumentCache ensures a byte-identical local copy of each remote document,
// keyed by the content hash published in folder listings. Downloads are
// deduplicated per file and written crash-safely.
type DocumentCache struct {
	layout  Layout
	fetcher Fetcher
	derived Invalidator // optional
	log     *zap.Logger

	mu      sync.RWMutex
	records map[int64]*DocumentRecord

	fetches flightGroup[int64, *DocumentRecord]
}

// NewDocumentCache creates the cache. derived may be nil when no derived
// assets exist for the documents being cached.
func NewDocumentCache(layout Layout, fetcher Fetcher, derived Invalidator) *DocumentCache {
	return &DocumentCache{
		layout:  layout,
		fetcher: fetcher,
		derived: derived,
		log:     logging.Named("documents"),
		records: make(map[int64]*DocumentRecord),
	}
}

// EnsureLocal returns a record for a byte-identical local copy of the listed
// file, downloading it only when the local copy is absent or its hash
// differs from the listing. On a download failure with a prior valid copy
// present, that stale record is returned alongside the error so the caller
// can decide whether to serve it in degraded mode.
func (c *DocumentCache) EnsureLocal(ctx context.Context, entry cloud.Entry) (*DocumentRecord, error) {
	if entry.IsFolder {
		return nil, fmt.Errorf("entry %q is a folder, not a document", entry.Name)
	}

	if rec := c.lookup(entry); rec != nil {
		metrics.RecordCacheHit("document")
		return rec, nil
	}
	metrics.RecordCacheMiss("document")

	rec, err := c.fetches.Do(ctx, entry.ID, func(ctx context.Context) (*DocumentRecord, error) {
		// Another caller may have completed the download while this one
		// waited on the flight slot.
		if rec := c.lookup(entry); rec != nil {
			return rec, nil
		}
		return c.download(ctx, entry)
	})
	if err != nil {
		if stale := c.staleCopy(entry); stale != nil {
			return stale, err
		}
		return nil, err
	}
	return rec, nil
}

// Record returns the in-memory record for a file, if any.
func (c *DocumentCache) Record(fileID int64) (*DocumentRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[fileID]
	return rec, ok
}

// lookup returns a record whose bytes are verified to match the listing's
// content hash, either from the in-memory index or by hashing the file on
// disk (a restart loses the index but not the bytes).
func (c *DocumentCache) lookup(entry cloud.Entry) *DocumentRecord {
	c.mu.RLock()
	rec, ok := c.records[entry.ID]
	c.mu.RUnlock()
	if ok && rec.MD5 == entry.MD5 {
		if _, err := os.Stat(rec.LocalPath); err == nil {
			return rec
		}
		// Bytes vanished underneath us; treat as a miss.
		c.drop(entry.ID)
		return nil
	}

	path := c.layout.DocumentPath(entry.ParentID, entry.Name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if hashBytes(data) != entry.MD5 {
		return nil
	}
	rec = &DocumentRecord{
		FileID:    entry.ID,
		ParentID:  entry.ParentID,
		Name:      entry.Name,
		LocalPath: path,
		MD5:       entry.MD5,
		Size:      int64(len(data)),
	}
	c.remember(rec)
	c.log.Debug("serving document from local cache", zap.String("name", entry.Name))
	return rec
}

// download fetches the bytes, replaces the local copy atomically, records
// the new hash, and invalidates derived assets rendered from the superseded
// bytes.
func (c *DocumentCache) download(ctx context.Context, entry cloud.Entry) (*DocumentRecord, error) {
	c.log.Debug("downloading document", zap.String("name", entry.Name), zap.Int64("file_id", entry.ID))
	data, err := c.fetcher.FetchFile(ctx, entry.ID)
	if err != nil {
		return nil, err
	}

	sum := hashBytes(data)
	if sum != entry.MD5 {
		c.log.Warn("downloaded bytes hash differs from listing",
			zap.String("name", entry.Name),
			zap.String("got", sum),
			zap.String("want", entry.MD5))
	}

	path := c.layout.DocumentPath(entry.ParentID, entry.Name)
	if err := writeFileAtomic(path, data, 0644); err != nil {
		return nil, fmt.Errorf("store document %s: %w", entry.Name, err)
	}

	if c.derived != nil {
		if err := c.derived.Invalidate(entry.ParentID, entry.Name); err != nil {
			c.log.Warn("failed to invalidate derived assets", zap.String("name", entry.Name), zap.Error(err))
		}
	}

	rec := &DocumentRecord{
		FileID:    entry.ID,
		ParentID:  entry.ParentID,
		Name:      entry.Name,
		LocalPath: path,
		MD5:       sum,
		Size:      int64(len(data)),
	}
	c.remember(rec)
	return rec, nil
}

// staleCopy returns a record for a prior local copy that no longer matches
// the listing, or nil when none exists. The copy is left untouched.
func (c *DocumentCache) staleCopy(entry cloud.Entry) *DocumentRecord {
	path := c.layout.DocumentPath(entry.ParentID, entry.Name)
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	return &DocumentRecord{
		FileID:    entry.ID,
		ParentID:  entry.ParentID,
		Name:      entry.Name,
		LocalPath: path,
		Size:      info.Size(),
	}
}

func (c *DocumentCache) remember(rec *DocumentRecord) {
	c.mu.Lock()
	c.records[rec.FileID] = rec
	c.mu.Unlock()
}

func (c *DocumentCache) drop(fileID int64) {
	c.mu.Lock()
	delete(c.records, fileID)
	c.mu.Unlock()
}

func hashBytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
