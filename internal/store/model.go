// Package store implements the layered local cache: folder-listing metadata
// with TTL expiry, content-addressed document bytes, and derived page images,
// composed behind LocalStore.
package store

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/notemirror/notemirror/internal/cloud"
	"github.com/notemirror/notemirror/internal/notebook"
)

const snapshotFileName = "folder_contents.json"

// FolderSnapshot is a point-in-time listing of a folder's immediate
// children. It is written whole or not at all.
type FolderSnapshot struct {
	FolderID  int64         `json:"folder_id"`
	Entries   []cloud.Entry `json:"entries"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// Age returns how old the snapshot is at time now.
func (s *FolderSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// DocumentRecord describes a locally stored byte-copy of a remote document.
// If MD5 matches the remote listing's hash, the local bytes are identical to
// the remote content.
type DocumentRecord struct {
	FileID    int64
	ParentID  int64
	Name      string
	LocalPath string
	MD5       string
	Size      int64
}

// Layout computes the on-disk cache paths. Everything lives under
// {root}/{accountID}/, giving per-account namespace isolation.
type Layout struct {
	Root      string
	AccountID string
}

// AccountDir is the per-account cache root.
func (l Layout) AccountDir() string {
	return filepath.Join(l.Root, l.AccountID)
}

// FolderDir holds one folder's listing snapshot and its files.
func (l Layout) FolderDir(folderID int64) string {
	return filepath.Join(l.AccountDir(), strconv.FormatInt(folderID, 10))
}

// SnapshotPath is the persisted FolderSnapshot for a folder.
func (l Layout) SnapshotPath(folderID int64) string {
	return filepath.Join(l.FolderDir(folderID), snapshotFileName)
}

// DocumentPath is the canonical local path of a document's bytes.
func (l Layout) DocumentPath(parentID int64, name string) string {
	return filepath.Join(l.FolderDir(parentID), name)
}

// DerivedDir holds all derived assets for one document.
func (l Layout) DerivedDir(parentID int64, name string) string {
	return filepath.Join(l.FolderDir(parentID), notebook.Stem(name))
}

// PagePath is the cached rendered image for one document page.
func (l Layout) PagePath(parentID int64, name string, page int) string {
	return filepath.Join(l.DerivedDir(parentID, name), fmt.Sprintf("%d.png", page))
}

// ThumbPath is the cached thumbnail for one document page.
func (l Layout) ThumbPath(parentID int64, name string, page int) string {
	return filepath.Join(l.DerivedDir(parentID, name), fmt.Sprintf("thumb_%d.jpg", page))
}
