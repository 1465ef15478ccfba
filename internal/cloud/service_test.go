package cloud

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestService(t *testing.T, a *fakeAPI, opts ...SessionOption) *Service {
	t.Helper()
	m, _ := newTestSessions(t, a, opts...)
	return NewService(NewClient(a.server.URL, 5*time.Second), m)
}

func TestListFolder_MapsEntries(t *testing.T) {
	a := newFakeAPI(t)
	a.entries = []fileVO{
		{ID: 10, DirectoryID: 1, FileName: "Notes", IsFolder: "Y", MD5: "ignored", CreateTime: 1700000000000, UpdateTime: 1700000100000},
		{ID: 11, DirectoryID: 1, FileName: "doc.note", IsFolder: "N", Size: 2048, MD5: "abc123", CreateTime: 1700000200000, UpdateTime: 1700000300000},
	}
	svc := newTestService(t, a)

	entries, err := svc.ListFolder(testContext(t), 1)
	if err != nil {
		t.Fatalf("ListFolder: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	folder := entries[0]
	if !folder.IsFolder || folder.Name != "Notes" || folder.ID != 10 || folder.ParentID != 1 {
		t.Errorf("folder entry = %+v", folder)
	}
	if folder.MD5 != "" {
		t.Errorf("folder MD5 = %q, want empty (hashes apply to files only)", folder.MD5)
	}

	file := entries[1]
	if file.IsFolder || file.Name != "doc.note" || file.MD5 != "abc123" || file.Size != 2048 {
		t.Errorf("file entry = %+v", file)
	}
	if file.CreateTime.UnixMilli() != 1700000200000 {
		t.Errorf("file CreateTime = %v", file.CreateTime)
	}
}

func TestListFolder_RefreshAndRetryOn401(t *testing.T) {
	a := newFakeAPI(t)
	a.reject = 1 // token revoked server-side once
	svc := newTestService(t, a)

	if _, err := svc.ListFolder(testContext(t), 0); err != nil {
		t.Fatalf("ListFolder: %v", err)
	}
	if a.listCalls != 2 {
		t.Errorf("listCalls = %d, want 2 (401 then retry)", a.listCalls)
	}
	if a.loginCalls != 2 {
		t.Errorf("loginCalls = %d, want 2 (initial + forced refresh)", a.loginCalls)
	}
}

func TestListFolder_SecondUnauthorizedIsTerminal(t *testing.T) {
	a := newFakeAPI(t)
	a.reject = 2

	var mu sync.Mutex
	reauths := 0
	svc := newTestService(t, a, WithReauthCallback(func() {
		mu.Lock()
		reauths++
		mu.Unlock()
	}))

	_, err := svc.ListFolder(testContext(t), 0)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
	if a.listCalls != 2 {
		t.Errorf("listCalls = %d, want 2 (retried exactly once)", a.listCalls)
	}
	if reauths == 0 {
		t.Error("re-auth notification was not invoked")
	}
}

func TestFetchFile_PresignedFlow(t *testing.T) {
	a := newFakeAPI(t)
	a.blob = []byte("note document bytes")
	svc := newTestService(t, a)

	data, err := svc.FetchFile(testContext(t), 42)
	if err != nil {
		t.Fatalf("FetchFile: %v", err)
	}
	if !bytes.Equal(data, a.blob) {
		t.Errorf("data = %q, want %q", data, a.blob)
	}
	if a.urlCalls != 1 || a.blobCalls != 1 {
		t.Errorf("urlCalls = %d, blobCalls = %d, want 1/1", a.urlCalls, a.blobCalls)
	}

	// A second fetch within the URL TTL reuses the signed URL.
	if _, err := svc.FetchFile(testContext(t), 42); err != nil {
		t.Fatalf("FetchFile: %v", err)
	}
	if a.urlCalls != 1 {
		t.Errorf("urlCalls = %d, want 1 (URL cached)", a.urlCalls)
	}
	if a.blobCalls != 2 {
		t.Errorf("blobCalls = %d, want 2", a.blobCalls)
	}
}

func TestFetchFile_NetworkErrorSurfaces(t *testing.T) {
	a := newFakeAPI(t)
	svc := newTestService(t, a)

	// Warm the session, then kill the server so the calls fail at transport
	// level.
	if _, err := svc.ListFolder(testContext(t), 0); err != nil {
		t.Fatalf("ListFolder: %v", err)
	}
	a.server.Close()

	_, err := svc.FetchFile(testContext(t), 42)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %v, want *NetworkError", err)
	}
}

func TestQueryAccount(t *testing.T) {
	a := newFakeAPI(t)
	svc := newTestService(t, a)

	acct, err := svc.QueryAccount(testContext(t), "user@example.com")
	if err != nil {
		t.Fatalf("QueryAccount: %v", err)
	}
	if acct.ID != "acct-9" || acct.Name != "Test User" || acct.FileServer != "fs.example.com" {
		t.Errorf("account = %+v", acct)
	}
}
