package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"nexus/internal/backup"
	"nexus/internal/credentials"
	"nexus/internal/storage"
	"nexus/internal/utils"
	"nexus/internal/webdav"
	"nexus/store"
)

// fakeDAV is an in-memory WebDAV remote: collections created by MKCOL,
// files stored by PUT, and both reported back through PROPFIND listings.
type fakeDAV struct {
	mu          stdsync.Mutex
	collections map[string]bool
	files       map[string][]byte
	times       map[string]time.Time
	puts        []string

	blockPut   chan struct{} // when set, PUT handlers wait on it
	putEntered chan struct{}
}

func newFakeDAV() *fakeDAV {
	return &fakeDAV{
		collections: map[string]bool{"/": true},
		files:       map[string][]byte{},
		times:       map[string]time.Time{},
	}
}

func (f *fakeDAV) addCollections(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		f.collections[p] = true
	}
}

func (f *fakeDAV) addFile(path string, content []byte, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
	f.times[path] = modified
}

func (f *fakeDAV) putCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.puts {
		if p == path {
			n++
		}
	}
	return n
}

func (f *fakeDAV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "" {
		path = "/"
	}

	switch r.Method {
	case "PROPFIND":
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.collections[path] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><d:multistatus xmlns:d="DAV:">`)
		b.WriteString(fmt.Sprintf(`<d:response><d:href>%s</d:href><d:propstat><d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`, r.URL.Path))
		for p, content := range f.files {
			if filepath.Dir(p) != path {
				continue
			}
			b.WriteString(fmt.Sprintf(`<d:response><d:href>%s</d:href><d:propstat><d:prop><d:displayname>%s</d:displayname><d:getcontentlength>%d</d:getcontentlength><d:getcontenttype>application/zip</d:getcontenttype><d:getlastmodified>%s</d:getlastmodified><d:resourcetype/></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`,
				p, filepath.Base(p), len(content), f.times[p].Format(http.TimeFormat)))
		}
		b.WriteString(`</d:multistatus>`)
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = io.WriteString(w, b.String())

	case "MKCOL":
		f.mu.Lock()
		f.collections[path] = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)

	case "PUT":
		f.mu.Lock()
		block := f.blockPut
		entered := f.putEntered
		f.mu.Unlock()
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		if block != nil {
			<-block
		}
		content, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.files[path] = content
		f.times[path] = time.Now().UTC()
		f.puts = append(f.puts, path)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)

	case "GET":
		f.mu.Lock()
		content, ok := f.files[path]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(content)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestSync(t *testing.T, dav *fakeDAV) (*Manager, *store.Memory) {
	t.Helper()

	server := httptest.NewServer(dav)
	t.Cleanup(server.Close)

	creds := credentials.NewStore(t.TempDir(), "", credentials.WithKeyring(credentials.NewMockKeyring()))
	if err := creds.Write(&credentials.Auth{URL: server.URL, Username: "alice", Password: "pw"}); err != nil {
		t.Fatalf("seed credentials failed: %v", err)
	}

	adapter := storage.New(t.TempDir())
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	records := store.NewMemory()
	backups := backup.NewManager(adapter, records)
	t.Cleanup(backups.Close)

	return NewManager(webdav.New(creds, 5*time.Second), backups), records
}

func seedTask(t *testing.T, records *store.Memory) {
	t.Helper()
	if _, err := records.CreateTask(context.Background(), &store.Task{ID: "t1", Title: "Water the plants"}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
}

func TestSyncNowUploadsLiveStateAndBackups(t *testing.T) {
	dav := newFakeDAV()
	m, records := newTestSync(t, dav)
	seedTask(t, records)

	b, err := m.backups.CreateBackup(context.Background(), "full")
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}

	if err := m.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	status := m.Status()
	if status.Provider != ProviderWebDAV {
		t.Errorf("provider = %q, want %q", status.Provider, ProviderWebDAV)
	}
	if status.Stage != StageComplete {
		t.Errorf("stage = %q, want %q", status.Stage, StageComplete)
	}
	if status.AuthStatus != AuthStatusConnected {
		t.Errorf("auth status = %q", status.AuthStatus)
	}
	if status.LastSync == nil {
		t.Error("LastSync not stamped")
	}
	if status.UploadedBackups != 1 {
		t.Errorf("uploaded backups = %d, want 1", status.UploadedBackups)
	}

	if dav.putCount("/Nexus/live/"+webdav.LiveStateFilename) != 1 {
		t.Error("live state not uploaded")
	}
	if dav.putCount("/Nexus/backups/"+filepath.Base(b.FilePath)) != 1 {
		t.Error("backup archive not uploaded")
	}
}

func TestSyncNowSecondRunSkipsExistingBackups(t *testing.T) {
	dav := newFakeDAV()
	m, records := newTestSync(t, dav)
	seedTask(t, records)

	if _, err := m.backups.CreateBackup(context.Background(), "full"); err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}
	if err := m.SyncNow(context.Background()); err != nil {
		t.Fatalf("first SyncNow failed: %v", err)
	}
	if err := m.SyncNow(context.Background()); err != nil {
		t.Fatalf("second SyncNow failed: %v", err)
	}

	if got := m.Status().UploadedBackups; got != 0 {
		t.Errorf("second run uploaded %d backups, want 0", got)
	}
}

// rewindLastUpdate rewrites the on-disk metadata stamp, simulating a
// machine that has not saved for a while.
func rewindLastUpdate(t *testing.T, m *Manager, to time.Time) {
	t.Helper()
	adapter := m.backups.Adapter()
	meta := storage.Metadata{Version: storage.DataVersion, LastUpdate: to}
	raw, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal metadata failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(adapter.DataDir(), "metadata.json"), raw, 0644); err != nil {
		t.Fatalf("rewind metadata failed: %v", err)
	}
}

func TestSyncNowSkipsUploadWhenRemoteLiveStateNewer(t *testing.T) {
	dav := newFakeDAV()
	dav.addCollections("/Nexus", "/Nexus/live", "/Nexus/backups")
	// Remote copy is in the past, but still newer than the local save.
	dav.addFile("/Nexus/live/"+webdav.LiveStateFilename, []byte("other machine"),
		time.Now().Add(-30*time.Minute).UTC())

	m, records := newTestSync(t, dav)
	seedTask(t, records)

	if err := m.backups.SaveCurrentData(context.Background()); err != nil {
		t.Fatalf("SaveCurrentData failed: %v", err)
	}
	rewound := time.Now().Add(-2 * time.Hour).UTC()
	rewindLastUpdate(t, m, rewound)

	if err := m.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	status := m.Status()
	if !status.RemoteHasNewerLiveState {
		t.Error("RemoteHasNewerLiveState not set")
	}
	if dav.putCount("/Nexus/live/"+webdav.LiveStateFilename) != 0 {
		t.Error("live state uploaded despite newer remote copy")
	}

	// The skipped run must not restamp the local data either, or the
	// next comparison would wrongly favour the local copy.
	local, err := m.backups.Adapter().LoadData()
	if err != nil || local == nil {
		t.Fatalf("LoadData failed: %v", err)
	}
	if !local.Metadata.LastUpdate.Equal(rewound) {
		t.Errorf("lastUpdate restamped to %s during a skipped upload", local.Metadata.LastUpdate)
	}
}

func TestSyncNowFlagsNewerRemoteBackup(t *testing.T) {
	dav := newFakeDAV()
	dav.addCollections("/Nexus", "/Nexus/live", "/Nexus/backups")
	dav.addFile("/Nexus/backups/backup-from-elsewhere.zip", []byte("zip"), time.Now().UTC())

	m, records := newTestSync(t, dav)
	seedTask(t, records)

	if err := m.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	status := m.Status()
	if !status.RemoteHasNewerBackup {
		t.Error("RemoteHasNewerBackup not set for a newer remote archive")
	}
	if status.UploadedBackups != 0 {
		t.Errorf("uploaded backups = %d, want 0", status.UploadedBackups)
	}
}

func TestSyncNowRejectsConcurrentRun(t *testing.T) {
	dav := newFakeDAV()
	dav.blockPut = make(chan struct{})
	dav.putEntered = make(chan struct{}, 1)

	m, records := newTestSync(t, dav)
	seedTask(t, records)

	done := make(chan error, 1)
	go func() { done <- m.SyncNow(context.Background()) }()

	// Wait until the first run is blocked mid-upload.
	select {
	case <-dav.putEntered:
	case <-time.After(5 * time.Second):
		t.Fatal("first sync never reached upload")
	}

	err := m.SyncNow(context.Background())
	if err == nil {
		t.Fatal("expected concurrent SyncNow to fail")
	}
	if !utils.IsConcurrency(err) {
		t.Errorf("expected concurrency error, got %v", err)
	}

	close(dav.blockPut)
	if err := <-done; err != nil {
		t.Fatalf("first SyncNow failed: %v", err)
	}
}

func TestDownloadRemoteBackup(t *testing.T) {
	dav := newFakeDAV()
	dav.addCollections("/Nexus", "/Nexus/live", "/Nexus/backups")
	dav.addFile("/Nexus/backups/backup-20260801-120000.zip", []byte("archive bytes"), time.Now().UTC())

	m, _ := newTestSync(t, dav)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	path, err := m.DownloadRemoteBackup(context.Background(), "backup-20260801-120000.zip")
	if err != nil {
		t.Fatalf("DownloadRemoteBackup failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(raw) != "archive bytes" {
		t.Errorf("content mismatch: %q", raw)
	}

	if _, err := m.DownloadRemoteBackup(context.Background(), ""); !utils.IsValidation(err) {
		t.Errorf("expected validation error for empty name, got %v", err)
	}
	if _, err := m.DownloadRemoteBackup(context.Background(), "nope.zip"); !utils.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestDownloadLiveStateMissing(t *testing.T) {
	dav := newFakeDAV()
	dav.addCollections("/Nexus", "/Nexus/live", "/Nexus/backups")

	m, _ := newTestSync(t, dav)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if _, err := m.DownloadLiveState(context.Background()); !utils.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestConnectFailureSetsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	creds := credentials.NewStore(t.TempDir(), "", credentials.WithKeyring(credentials.NewMockKeyring()))
	if err := creds.Write(&credentials.Auth{URL: server.URL, Username: "alice", Password: "bad"}); err != nil {
		t.Fatalf("seed credentials failed: %v", err)
	}

	adapter := storage.New(t.TempDir())
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	backups := backup.NewManager(adapter, store.NewMemory())
	t.Cleanup(backups.Close)

	m := NewManager(webdav.New(creds, 5*time.Second), backups)
	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected Connect to fail")
	}

	status := m.Status()
	if status.Stage != StageError {
		t.Errorf("stage = %q, want %q", status.Stage, StageError)
	}
	if status.AuthStatus != AuthStatusError {
		t.Errorf("auth status = %q, want %q", status.AuthStatus, AuthStatusError)
	}
	if status.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestDisconnectUpdatesStatus(t *testing.T) {
	dav := newFakeDAV()
	m, _ := newTestSync(t, dav)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if got := m.Status().AuthStatus; got != AuthStatusDisconnected {
		t.Errorf("auth status = %q, want %q", got, AuthStatusDisconnected)
	}
}
