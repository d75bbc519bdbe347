package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"nexus/internal/archive"
	"nexus/internal/utils"
)

// Backup types.
const (
	BackupTypeFull        = "full"
	BackupTypeIncremental = "incremental"
)

const sidecarSuffix = ".meta.json"

// ItemCounts summarizes a backup's content without opening the archive.
type ItemCounts struct {
	Tasks      int `json:"tasks"`
	Notes      int `json:"notes"`
	Categories int `json:"categories"`
}

// BackupMetadata describes a backup archive. Immutable once created.
type BackupMetadata struct {
	Version    string     `json:"version"`
	Timestamp  time.Time  `json:"timestamp"`
	Type       string     `json:"type"`     // full or incremental
	Checksum   string     `json:"checksum"` // sha256 hex of the archive
	Size       int64      `json:"size"`
	DataPath   string     `json:"dataPath"`
	ItemCounts ItemCounts `json:"itemCounts"`
}

// BackupFile pairs an archive with its sidecar metadata. The catalog of
// backups is the set of sidecar files in the backups directory; list
// operations re-derive it by scanning. A backup is valid only when both
// archive and sidecar exist.
type BackupFile struct {
	ID        string         `json:"id"`
	Metadata  BackupMetadata `json:"metadata"`
	FilePath  string         `json:"filePath"`
	CreatedAt time.Time      `json:"createdAt"`
}

// CreateBackup archives the current data/ directory, computes its
// checksum, and writes the sidecar. The caller is responsible for saving
// live state first so the backup reflects it.
func (a *Adapter) CreateBackup(backupType string) (*BackupFile, error) {
	if backupType != BackupTypeFull && backupType != BackupTypeIncremental {
		return nil, utils.ValidationError("unknown backup type: %s", backupType)
	}
	if err := a.Initialize(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	name := fmt.Sprintf("backup-%s.zip", now.Format("20060102-150405"))
	archivePath := filepath.Join(a.backupsDir, name)

	if err := archive.CreateZip(a.dataDir, archivePath); err != nil {
		return nil, err
	}

	checksum, err := archive.Checksum(archivePath)
	if err != nil {
		_ = os.Remove(archivePath)
		return nil, err
	}

	fi, err := os.Stat(archivePath)
	if err != nil {
		return nil, utils.IOError(err, "failed to stat archive %s", archivePath)
	}

	counts := ItemCounts{}
	if data, err := a.LoadData(); err == nil && data != nil {
		counts = ItemCounts{
			Tasks:      len(data.Tasks),
			Notes:      len(data.Notes),
			Categories: len(data.Categories),
		}
	}

	backup := &BackupFile{
		ID: uuid.New().String(),
		Metadata: BackupMetadata{
			Version:    DataVersion,
			Timestamp:  now,
			Type:       backupType,
			Checksum:   checksum,
			Size:       fi.Size(),
			DataPath:   a.dataDir,
			ItemCounts: counts,
		},
		FilePath:  archivePath,
		CreatedAt: now,
	}

	if err := writeJSONFile(archivePath+sidecarSuffix, backup); err != nil {
		_ = os.Remove(archivePath)
		return nil, err
	}

	a.log.Debug("created %s backup %s (%d bytes)", backupType, name, fi.Size())
	return backup, nil
}

// ListBackups scans the sidecar files, drops entries whose archive is
// missing, and sorts the rest newest-first.
func (a *Adapter) ListBackups() ([]BackupFile, error) {
	entries, err := os.ReadDir(a.backupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []BackupFile{}, nil
		}
		return nil, utils.IOError(err, "failed to read backups directory")
	}

	var backups []BackupFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), sidecarSuffix) {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(a.backupsDir, entry.Name()))
		if err != nil {
			a.log.Debug("unreadable backup sidecar skipped: %s", entry.Name())
			continue
		}

		var backup BackupFile
		if err := json.Unmarshal(raw, &backup); err != nil {
			a.log.Debug("corrupt backup sidecar skipped: %s", entry.Name())
			continue
		}

		// The sidecar may have been copied from another machine; resolve
		// the archive next to it.
		backup.FilePath = filepath.Join(a.backupsDir, strings.TrimSuffix(entry.Name(), sidecarSuffix))
		if _, err := os.Stat(backup.FilePath); err != nil {
			continue
		}

		backups = append(backups, backup)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})

	if backups == nil {
		backups = []BackupFile{}
	}
	return backups, nil
}

// GetBackup returns the backup with the given id.
func (a *Adapter) GetBackup(id string) (*BackupFile, error) {
	backups, err := a.ListBackups()
	if err != nil {
		return nil, err
	}
	for i := range backups {
		if backups[i].ID == id {
			return &backups[i], nil
		}
	}
	return nil, utils.ErrBackupNotFound(id)
}

// DeleteBackup removes a backup's archive and sidecar.
func (a *Adapter) DeleteBackup(id string) error {
	backup, err := a.GetBackup(id)
	if err != nil {
		return err
	}

	if err := os.Remove(backup.FilePath); err != nil && !os.IsNotExist(err) {
		return utils.IOError(err, "failed to delete archive %s", backup.FilePath)
	}
	if err := os.Remove(backup.FilePath + sidecarSuffix); err != nil && !os.IsNotExist(err) {
		return utils.IOError(err, "failed to delete sidecar for %s", backup.FilePath)
	}
	return nil
}

// RestoreBackup extracts a backup archive and reads the data set out of it.
func (a *Adapter) RestoreBackup(id string) (*LocalStorageData, error) {
	backup, err := a.GetBackup(id)
	if err != nil {
		return nil, err
	}

	checksum, err := archive.Checksum(backup.FilePath)
	if err != nil {
		return nil, err
	}
	if backup.Metadata.Checksum != "" && checksum != backup.Metadata.Checksum {
		return nil, utils.ValidationError("backup archive is corrupt: checksum mismatch for %s", filepath.Base(backup.FilePath))
	}

	return a.ReadDataFromZip(backup.FilePath)
}

// ExportDataZip archives the live data directory to outputPath.
func (a *Adapter) ExportDataZip(outputPath string) error {
	if outputPath == "" {
		return utils.ValidationError("output path must not be empty")
	}
	return archive.CreateZip(a.dataDir, outputPath)
}

// CopyArchive copies an existing backup archive to dst without
// re-compressing it.
func CopyArchive(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return utils.IOError(err, "failed to create directory for %s", dst)
	}
	if err := copyFile(src, dst); err != nil {
		return utils.IOError(err, "failed to copy archive to %s", dst)
	}
	return nil
}

// ReadDataFromZip extracts an archive to a temporary directory, locates
// the structured data inside it, and falls back to heuristic mixed-file
// import when no structured data is found. The temporary directory is
// always removed, including on the error path.
func (a *Adapter) ReadDataFromZip(archivePath string) (*LocalStorageData, error) {
	if archivePath == "" {
		return nil, utils.ValidationError("archive path must not be empty")
	}

	tempDir, err := os.MkdirTemp("", "nexus-import-")
	if err != nil {
		return nil, utils.IOError(err, "failed to create temporary directory")
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	if err := archive.Extract(archivePath, tempDir); err != nil {
		return nil, err
	}

	return a.readDataFromExtracted(tempDir)
}

// ReadDataFromFolder runs the same discovery and fallback pipeline over an
// existing directory instead of an archive.
func (a *Adapter) ReadDataFromFolder(folderPath string) (*LocalStorageData, error) {
	if folderPath == "" {
		return nil, utils.ValidationError("folder path must not be empty")
	}
	if fi, err := os.Stat(folderPath); err != nil || !fi.IsDir() {
		return nil, utils.ValidationError("not a directory: %s", folderPath)
	}

	return a.readDataFromExtracted(folderPath)
}

// readDataFromExtracted locates structured data under root or reconstructs
// notes heuristically; when neither yields anything, it fails with a
// descriptive listing of the root's top-level entries.
func (a *Adapter) readDataFromExtracted(root string) (*LocalStorageData, error) {
	contentDir, score := ResolveImportContentDir(root)
	if score > 0 {
		a.log.Debug("structured data found in %s (score %d)", contentDir, score)
		data, err := readDataFiles(contentDir, ReadTextFileSmart)
		if err != nil {
			return nil, err
		}
		return data, nil
	}

	data, err := BuildNotesFromMixedFiles(root)
	if err != nil {
		return nil, err
	}
	// A folder of nothing but skipped media is still a valid import: zero
	// records plus the warnings naming what was ignored.
	skipped, _ := data.Settings["importSkippedCount"].(int)
	warnings, _ := data.Settings["importWarnings"].([]string)
	if len(data.Notes) > 0 || len(data.Tasks) > 0 || skipped > 0 || len(warnings) > 0 {
		return data, nil
	}

	// Nothing importable: name what was actually there to help the user.
	entries, _ := os.ReadDir(root)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return nil, utils.NotFoundError("no importable content found; top-level entries: [%s]", strings.Join(names, ", "))
}
