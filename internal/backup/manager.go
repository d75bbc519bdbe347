// Package backup orchestrates backup creation, restoration, merge imports,
// exports, scheduled auto-backup and debounced auto-save of live state.
package backup

import (
	"context"
	"os"
	"sync"

	"nexus/internal/config"
	"nexus/internal/storage"
	"nexus/internal/utils"
	"nexus/store"
)

// Manager coordinates the storage adapter and the record store. Construct
// one with NewManager; the package-level Default exists only for callers
// that need a process-wide instance.
type Manager struct {
	adapter *storage.Adapter
	records store.RecordStore
	log     *utils.Logger

	mu        sync.Mutex
	scheduler *Scheduler
	autoSaver *AutoSaver
	bgLog     *utils.BackgroundLogger
}

// NewManager creates a backup manager over an initialized storage adapter
// and a record store.
func NewManager(adapter *storage.Adapter, records store.RecordStore) *Manager {
	m := &Manager{
		adapter: adapter,
		records: records,
		log:     utils.GetLogger(),
	}
	m.autoSaver = NewAutoSaver(0, func() error {
		err := m.SaveCurrentData(context.Background())
		if err != nil {
			m.background("auto-save failed: %v", err)
		}
		return err
	})
	return m
}

// SetBackgroundLogger routes scheduled-backup and auto-save outcomes to a
// file, for long-running mode where stderr is not visible.
func (m *Manager) SetBackgroundLogger(bl *utils.BackgroundLogger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bgLog = bl
}

func (m *Manager) background(format string, args ...interface{}) {
	m.mu.Lock()
	bl := m.bgLog
	m.mu.Unlock()
	if bl != nil {
		bl.Printf(format, args...)
	}
}

var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// Initialize builds the process-wide manager. An empty dataFolder resolves
// to the platform data directory, relocating the legacy folder on first
// run when present.
func Initialize(dataFolder string, records store.RecordStore) (*Manager, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultManager != nil {
		return defaultManager, nil
	}

	folder := ResolveDataFolder(dataFolder)

	adapter := storage.New(folder)
	if err := adapter.Initialize(); err != nil {
		return nil, err
	}

	defaultManager = NewManager(adapter, records)
	return defaultManager, nil
}

// Default returns the process-wide manager, or nil before Initialize.
func Default() *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultManager
}

// ResolveDataFolder picks the storage root, migrating data from the legacy
// application folder when the current one does not exist yet. Migration is
// best-effort; a failure leaves the legacy data in place.
func ResolveDataFolder(dataFolder string) string {
	if dataFolder != "" {
		return dataFolder
	}

	folder := config.GetDataDir()
	legacy := config.GetLegacyDataDir()

	if _, err := os.Stat(folder); os.IsNotExist(err) {
		if _, err := os.Stat(legacy); err == nil {
			if err := storage.MigrateData(legacy, folder); err != nil {
				utils.Warnf("legacy data migration skipped: %v", err)
			}
		}
	}
	return folder
}

// Adapter exposes the storage adapter for read-only path queries.
func (m *Manager) Adapter() *storage.Adapter {
	return m.adapter
}

// SaveCurrentData pulls live tasks, notes and categories from the record
// store and persists them through the storage adapter, preserving any
// settings from the previous save.
func (m *Manager) SaveCurrentData(ctx context.Context) error {
	tasks, err := m.records.GetAllTasks(ctx)
	if err != nil {
		return err
	}
	notes, err := m.records.GetAllNotes(ctx)
	if err != nil {
		return err
	}
	categories, err := m.records.GetAllCategories(ctx)
	if err != nil {
		return err
	}

	data := storage.NewLocalStorageData()
	if previous, err := m.adapter.LoadData(); err == nil && previous != nil {
		data.Settings = previous.Settings
		data.Metadata.MachineID = previous.Metadata.MachineID
	}
	data.Tasks = tasks
	data.Notes = notes
	data.Categories = categories

	return m.adapter.SaveData(data)
}

// CreateBackup saves current data first, so the backup reflects live
// state, then produces the archive and sidecar.
func (m *Manager) CreateBackup(ctx context.Context, backupType string) (*storage.BackupFile, error) {
	if err := m.SaveCurrentData(ctx); err != nil {
		return nil, err
	}
	return m.adapter.CreateBackup(backupType)
}

// ListBackups returns the backup catalog, newest first.
func (m *Manager) ListBackups() ([]storage.BackupFile, error) {
	return m.adapter.ListBackups()
}

// DeleteBackup removes a backup archive and its sidecar.
func (m *Manager) DeleteBackup(id string) error {
	return m.adapter.DeleteBackup(id)
}

// RestoreBackup replaces the record store content with a backup's data
// set. Current data is saved first so the pre-restore state is recoverable
// from the live data files.
func (m *Manager) RestoreBackup(ctx context.Context, id string) error {
	if err := m.SaveCurrentData(ctx); err != nil {
		return err
	}

	data, err := m.adapter.RestoreBackup(id)
	if err != nil {
		return err
	}

	if err := m.records.ClearAll(ctx); err != nil {
		return err
	}
	if err := m.applyData(ctx, data); err != nil {
		return err
	}

	return m.adapter.SaveData(data)
}

// applyData recreates every record of a data set in the store.
func (m *Manager) applyData(ctx context.Context, data *storage.LocalStorageData) error {
	for i := range data.Categories {
		if _, err := m.records.CreateCategory(ctx, &data.Categories[i]); err != nil {
			return err
		}
	}
	for i := range data.Tasks {
		if _, err := m.records.CreateTask(ctx, &data.Tasks[i]); err != nil {
			return err
		}
	}
	for i := range data.Notes {
		if _, err := m.records.CreateNote(ctx, &data.Notes[i]); err != nil {
			return err
		}
	}
	return nil
}

// RestorePreview summarizes what a candidate restore or import would
// bring in, without applying anything.
type RestorePreview struct {
	Tasks      int      `json:"tasks"`
	Notes      int      `json:"notes"`
	Categories int      `json:"categories"`
	Settings   int      `json:"settings"`
	Conflicts  []string `json:"conflicts,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// GetRestorePreview previews a stored backup. Restoring overwrites, so a
// warning is added whenever current data is non-empty.
func (m *Manager) GetRestorePreview(ctx context.Context, backupID string) (*RestorePreview, error) {
	backup, err := m.adapter.GetBackup(backupID)
	if err != nil {
		return nil, err
	}
	data, err := m.adapter.ReadDataFromZip(backup.FilePath)
	if err != nil {
		return nil, err
	}
	return m.buildPreview(ctx, data, "Restoring will overwrite your current data")
}

// GetImportZipPreview previews an archive import, which merges rather
// than overwrites.
func (m *Manager) GetImportZipPreview(ctx context.Context, archivePath string) (*RestorePreview, error) {
	data, err := m.adapter.ReadDataFromZip(archivePath)
	if err != nil {
		return nil, err
	}
	return m.buildPreview(ctx, data, "Importing will merge into your current data")
}

// GetImportFolderPreview previews a folder import.
func (m *Manager) GetImportFolderPreview(ctx context.Context, folderPath string) (*RestorePreview, error) {
	data, err := m.adapter.ReadDataFromFolder(folderPath)
	if err != nil {
		return nil, err
	}
	return m.buildPreview(ctx, data, "Importing will merge into your current data")
}

// buildPreview computes counts, ID-collision conflicts against the record
// store, and carries over any import warnings from the candidate data.
func (m *Manager) buildPreview(ctx context.Context, data *storage.LocalStorageData, nonEmptyWarning string) (*RestorePreview, error) {
	preview := &RestorePreview{
		Tasks:      len(data.Tasks),
		Notes:      len(data.Notes),
		Categories: len(data.Categories),
		Settings:   len(data.Settings),
	}

	switch warnings := data.Settings["importWarnings"].(type) {
	case []string:
		preview.Warnings = append(preview.Warnings, warnings...)
	case []interface{}:
		// Settings that round-tripped through JSON decode as []interface{}.
		for _, w := range warnings {
			if s, ok := w.(string); ok {
				preview.Warnings = append(preview.Warnings, s)
			}
		}
	}

	currentTasks, err := m.records.GetAllTasks(ctx)
	if err != nil {
		return nil, err
	}
	currentNotes, err := m.records.GetAllNotes(ctx)
	if err != nil {
		return nil, err
	}

	taskIDs := make(map[string]bool, len(currentTasks))
	for _, t := range currentTasks {
		taskIDs[t.ID] = true
	}
	noteIDs := make(map[string]bool, len(currentNotes))
	for _, n := range currentNotes {
		noteIDs[n.ID] = true
	}

	for _, t := range data.Tasks {
		if taskIDs[t.ID] {
			preview.Conflicts = append(preview.Conflicts, t.ID)
		}
	}
	for _, n := range data.Notes {
		if noteIDs[n.ID] {
			preview.Conflicts = append(preview.Conflicts, n.ID)
		}
	}

	if len(currentTasks) > 0 || len(currentNotes) > 0 {
		preview.Warnings = append(preview.Warnings, nonEmptyWarning)
	}

	return preview, nil
}

// ImportZipMerge merges an archive's data into the record store,
// preserving IDs and skipping collisions, then persists the merged state.
func (m *Manager) ImportZipMerge(ctx context.Context, archivePath string) (*store.ImportResult, error) {
	data, err := m.adapter.ReadDataFromZip(archivePath)
	if err != nil {
		return nil, err
	}
	return m.mergeData(ctx, data)
}

// ImportFolderMerge merges a folder's data into the record store.
func (m *Manager) ImportFolderMerge(ctx context.Context, folderPath string) (*store.ImportResult, error) {
	data, err := m.adapter.ReadDataFromFolder(folderPath)
	if err != nil {
		return nil, err
	}
	return m.mergeData(ctx, data)
}

func (m *Manager) mergeData(ctx context.Context, data *storage.LocalStorageData) (*store.ImportResult, error) {
	result, err := m.records.MergeData(ctx, store.MergeInput{
		Tasks: data.Tasks,
		Notes: data.Notes,
	})
	if err != nil {
		return nil, err
	}
	if err := m.SaveCurrentData(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// Export sources.
const (
	ExportSourceCurrent = "current"
)

// ExportZipToPath exports either current live state or an existing backup
// archive to outputPath. Any source other than "current" is interpreted
// as a backup id.
func (m *Manager) ExportZipToPath(ctx context.Context, source, outputPath string) error {
	if outputPath == "" {
		return utils.ValidationError("output path must not be empty")
	}

	if source == ExportSourceCurrent {
		if err := m.SaveCurrentData(ctx); err != nil {
			return err
		}
		return m.adapter.ExportDataZip(outputPath)
	}

	backup, err := m.adapter.GetBackup(source)
	if err != nil {
		return err
	}
	return storage.CopyArchive(backup.FilePath, outputPath)
}

// EnableAutoBackup starts (or replaces) the recurring backup schedule.
// Each tick creates an incremental backup and trims the catalog to the
// configured number of most recent backups; failures are logged and the
// schedule continues.
func (m *Manager) EnableAutoBackup(cfg config.AutoBackupConfig) error {
	scheduler, err := NewScheduler(cfg.Frequency, func() {
		m.runScheduledBackup(cfg.KeepBackups)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	old := m.scheduler
	m.scheduler = scheduler
	m.mu.Unlock()

	// Stop waits for an in-flight tick, and the tick takes m.mu when it
	// writes to the background log, so Stop must run outside the lock.
	if old != nil {
		old.Stop()
	}
	scheduler.Start()
	return nil
}

// DisableAutoBackup stops the recurring backup schedule, waiting for a
// running tick to finish.
func (m *Manager) DisableAutoBackup() {
	m.mu.Lock()
	old := m.scheduler
	m.scheduler = nil
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}
}

// runScheduledBackup is one auto-backup tick. It never panics the
// process; errors are logged and the next tick retries.
func (m *Manager) runScheduledBackup(keepBackups int) {
	b, err := m.CreateBackup(context.Background(), storage.BackupTypeIncremental)
	if err != nil {
		m.log.Error("scheduled backup failed: %v", err)
		m.background("scheduled backup failed: %v", err)
		return
	}
	m.background("scheduled backup created: %s", b.ID)

	if err := m.trimBackups(keepBackups); err != nil {
		m.log.Error("backup trimming failed: %v", err)
		m.background("backup trimming failed: %v", err)
	}
}

// trimBackups deletes all but the keep most recent backups.
func (m *Manager) trimBackups(keep int) error {
	if keep < 1 {
		return nil
	}

	backups, err := m.adapter.ListBackups()
	if err != nil {
		return err
	}

	for _, backup := range backups[min(keep, len(backups)):] {
		if err := m.adapter.DeleteBackup(backup.ID); err != nil {
			return err
		}
	}
	return nil
}

// OnDataChanged schedules a debounced save of live state. Rapid changes
// coalesce into one save; changes during an in-flight save trigger exactly
// one trailing save.
func (m *Manager) OnDataChanged() {
	m.autoSaver.Trigger()
}

// SetAutoSaveDebounce overrides the auto-save debounce window.
func (m *Manager) SetAutoSaveDebounce(cfg config.AutoSaveConfig) {
	m.autoSaver.SetDebounce(cfg.Enabled, (&config.Config{AutoSave: cfg}).AutoSaveDebounce())
}

// Close stops all recurring work owned by the manager.
func (m *Manager) Close() {
	m.DisableAutoBackup()
	m.autoSaver.Stop()
}
