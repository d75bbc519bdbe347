// Package sync pushes live state and backup archives to a WebDAV remote
// and pulls them back down for restore on another machine.
package sync

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"nexus/internal/backup"
	"nexus/internal/utils"
	"nexus/internal/webdav"
)

// Sync stages, in the order a successful run passes through them.
const (
	StageIdle               = "idle"
	StageConnecting         = "connecting"
	StageChecking           = "checking"
	StageUploadingLiveState = "uploading_live_state"
	StageUploadingBackups   = "uploading_backups"
	StageComplete           = "complete"
	StageError              = "error"
)

// Auth statuses reported alongside the stage.
const (
	AuthStatusDisconnected = "disconnected"
	AuthStatusConnecting   = "connecting"
	AuthStatusConnected    = "connected"
	AuthStatusError        = "error"
)

// ProviderWebDAV is the only sync provider this build speaks.
const ProviderWebDAV = "webdav"

const zipMimeType = "application/zip"

// downloadDirName is the fixed subfolder under the system temp directory
// that remote downloads land in.
const downloadDirName = "nexus-cloud"

// Status is a snapshot of the sync state machine.
type Status struct {
	Provider                string     `json:"provider"`
	Stage                   string     `json:"stage"`
	AuthStatus              string     `json:"authStatus"`
	LastSync                *time.Time `json:"lastSync,omitempty"`
	LastError               string     `json:"lastError,omitempty"`
	RemoteHasNewerLiveState bool       `json:"remoteHasNewerLiveState"`
	RemoteHasNewerBackup    bool       `json:"remoteHasNewerBackup"`
	UploadedBackups         int        `json:"uploadedBackups"`
}

// Manager drives sync runs. At most one SyncNow runs at a time; a second
// caller gets a concurrency error instead of queueing.
type Manager struct {
	client  *webdav.Client
	backups *backup.Manager
	log     *utils.Logger

	syncing sync.Mutex // held for the duration of a run
	running bool

	mu     sync.Mutex // guards status
	status Status
}

// NewManager creates a sync manager over a WebDAV client and the backup
// manager whose data it pushes.
func NewManager(client *webdav.Client, backups *backup.Manager) *Manager {
	m := &Manager{
		client:  client,
		backups: backups,
		log:     utils.GetLogger(),
	}
	m.status = Status{Provider: ProviderWebDAV, Stage: StageIdle, AuthStatus: AuthStatusDisconnected}
	if client.IsConnected() {
		m.status.AuthStatus = AuthStatusConnected
	}
	return m
}

// Status returns a copy of the current sync status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) setStage(stage string) {
	m.mu.Lock()
	m.status.Stage = stage
	m.mu.Unlock()
}

func (m *Manager) update(fn func(*Status)) {
	m.mu.Lock()
	fn(&m.status)
	m.mu.Unlock()
}

// Connect validates credentials against the remote and records the result.
func (m *Manager) Connect(ctx context.Context) error {
	m.update(func(s *Status) {
		s.Stage = StageConnecting
		s.AuthStatus = AuthStatusConnecting
	})
	if err := m.client.Connect(ctx); err != nil {
		m.update(func(s *Status) {
			s.Stage = StageError
			s.AuthStatus = AuthStatusError
			s.LastError = err.Error()
		})
		return err
	}
	m.update(func(s *Status) {
		s.Stage = StageIdle
		s.AuthStatus = AuthStatusConnected
		s.LastError = ""
	})
	return nil
}

// Disconnect clears the connected flag locally. Remote content is left
// untouched.
func (m *Manager) Disconnect() error {
	if err := m.client.Disconnect(); err != nil {
		return err
	}
	m.update(func(s *Status) {
		s.Stage = StageIdle
		s.AuthStatus = AuthStatusDisconnected
	})
	return nil
}

// SyncNow performs one full sync run: ensure the remote folder structure,
// upload live state unless the remote copy is newer, then upload every
// local backup the remote does not have yet. A run already in progress
// makes SyncNow fail immediately rather than wait.
func (m *Manager) SyncNow(ctx context.Context) error {
	if !m.tryBegin() {
		return utils.ConcurrencyError("a sync is already in progress")
	}
	defer m.end()

	err := m.run(ctx)
	if err != nil {
		m.update(func(s *Status) {
			s.Stage = StageError
			s.LastError = err.Error()
		})
		return err
	}

	now := time.Now()
	m.update(func(s *Status) {
		s.Stage = StageComplete
		s.LastError = ""
		s.LastSync = &now
	})
	return nil
}

func (m *Manager) tryBegin() bool {
	m.syncing.Lock()
	defer m.syncing.Unlock()
	if m.running {
		return false
	}
	m.running = true
	return true
}

func (m *Manager) end() {
	m.syncing.Lock()
	m.running = false
	m.syncing.Unlock()
}

func (m *Manager) run(ctx context.Context) error {
	m.setStage(StageConnecting)
	if !m.client.IsConnected() {
		if err := m.client.Connect(ctx); err != nil {
			m.update(func(s *Status) { s.AuthStatus = AuthStatusError })
			return err
		}
	}
	m.update(func(s *Status) { s.AuthStatus = AuthStatusConnected })

	if _, err := m.client.EnsureAppStructure(ctx); err != nil {
		return err
	}

	m.setStage(StageChecking)
	uploadLive, err := m.checkLiveState(ctx)
	if err != nil {
		return err
	}

	if uploadLive {
		m.setStage(StageUploadingLiveState)
		// Flush in-memory records to disk only once we know the remote
		// copy is not newer; saving first would restamp lastUpdate and
		// defeat the comparison.
		if err := m.backups.SaveCurrentData(ctx); err != nil {
			return err
		}
		if err := m.uploadLiveState(ctx); err != nil {
			return err
		}
	}

	m.setStage(StageUploadingBackups)
	uploaded, err := m.uploadMissingBackups(ctx)
	if err != nil {
		return err
	}
	m.update(func(s *Status) { s.UploadedBackups = uploaded })

	return nil
}

// checkLiveState compares the remote live-state timestamp against the
// local last-update. When the remote copy is newer the upload is skipped
// and the status flags it, so the caller can offer a download instead of
// silently clobbering another machine's work.
func (m *Manager) checkLiveState(ctx context.Context) (upload bool, err error) {
	remote, err := m.client.FindFileByName(ctx, webdav.RemoteLiveDir, webdav.LiveStateFilename)
	if err != nil {
		return false, err
	}
	if remote == nil || remote.ModifiedTime == nil {
		return true, nil
	}

	local, err := m.backups.Adapter().LoadData()
	if err != nil || local == nil {
		return true, nil
	}

	localTime := local.Metadata.LastUpdate
	if localTime.IsZero() {
		return true, nil
	}

	if remote.ModifiedTime.After(localTime) {
		m.log.Warn("remote live state is newer (%s > %s); skipping upload",
			remote.ModifiedTime.Format(time.RFC3339), localTime.Format(time.RFC3339))
		m.update(func(s *Status) { s.RemoteHasNewerLiveState = true })
		return false, nil
	}

	m.update(func(s *Status) { s.RemoteHasNewerLiveState = false })
	return true, nil
}

// uploadLiveState archives the live data directory and PUTs it to the
// remote live folder under a fixed name.
func (m *Manager) uploadLiveState(ctx context.Context) error {
	tempDir, err := os.MkdirTemp("", "nexus-sync-")
	if err != nil {
		return utils.IOError(err, "failed to create temporary directory")
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	archivePath := filepath.Join(tempDir, webdav.LiveStateFilename)
	if err := m.backups.Adapter().ExportDataZip(archivePath); err != nil {
		return err
	}

	return m.client.UploadFile(ctx, webdav.UploadRequest{
		ParentPath: webdav.RemoteLiveDir,
		Name:       webdav.LiveStateFilename,
		MimeType:   zipMimeType,
		FilePath:   archivePath,
	})
}

// uploadMissingBackups diffs local backup archives against the remote
// backups folder by filename and uploads whatever is missing. Using the
// pre-upload listing it also flags whether the newest remote backup is
// newer than the newest local one; informational only, nothing is
// downloaded automatically.
func (m *Manager) uploadMissingBackups(ctx context.Context) (int, error) {
	remote, err := m.client.ListFiles(ctx, webdav.RemoteBackupsDir)
	if err != nil {
		return 0, err
	}
	remoteNames := make(map[string]bool, len(remote))
	var newestRemote time.Time
	for _, f := range remote {
		remoteNames[f.Name] = true
		if f.ModifiedTime != nil && f.ModifiedTime.After(newestRemote) {
			newestRemote = *f.ModifiedTime
		}
	}

	local, err := m.backups.ListBackups()
	if err != nil {
		return 0, err
	}
	var newestLocal time.Time

	uploaded := 0
	for _, b := range local {
		if b.CreatedAt.After(newestLocal) {
			newestLocal = b.CreatedAt
		}
		name := filepath.Base(b.FilePath)
		if remoteNames[name] {
			continue
		}
		if err := m.client.UploadFile(ctx, webdav.UploadRequest{
			ParentPath: webdav.RemoteBackupsDir,
			Name:       name,
			MimeType:   zipMimeType,
			FilePath:   b.FilePath,
		}); err != nil {
			return uploaded, err
		}
		uploaded++
	}

	remoteNewer := !newestRemote.IsZero() && newestRemote.After(newestLocal)
	m.update(func(s *Status) { s.RemoteHasNewerBackup = remoteNewer })

	return uploaded, nil
}

// ListRemoteBackups returns the archives in the remote backups folder.
func (m *Manager) ListRemoteBackups(ctx context.Context) ([]webdav.RemoteFile, error) {
	return m.client.ListFiles(ctx, webdav.RemoteBackupsDir)
}

// downloadDir returns the fixed folder remote downloads land in.
func downloadDir() string {
	return filepath.Join(os.TempDir(), downloadDirName)
}

// DownloadRemoteBackup fetches one remote backup archive by name and
// returns the local path it was written to.
func (m *Manager) DownloadRemoteBackup(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", utils.ValidationError("backup name must not be empty")
	}

	remote, err := m.client.FindFileByName(ctx, webdav.RemoteBackupsDir, name)
	if err != nil {
		return "", err
	}
	if remote == nil {
		return "", utils.NotFoundError("remote backup not found: %s", name)
	}

	outputPath := filepath.Join(downloadDir(), name)
	if err := m.client.DownloadFile(ctx, webdav.RemoteBackupsDir+"/"+name, outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}

// DownloadLiveState fetches the remote live-state archive and returns the
// local path it was written to.
func (m *Manager) DownloadLiveState(ctx context.Context) (string, error) {
	remote, err := m.client.FindFileByName(ctx, webdav.RemoteLiveDir, webdav.LiveStateFilename)
	if err != nil {
		return "", err
	}
	if remote == nil {
		return "", utils.NotFoundError("no live state found on the remote")
	}

	outputPath := filepath.Join(downloadDir(), webdav.LiveStateFilename)
	if err := m.client.DownloadFile(ctx, webdav.RemoteLiveDir+"/"+webdav.LiveStateFilename, outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}
