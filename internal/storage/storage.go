// Package storage owns the on-disk layout for application data. It saves
// and loads structured state as JSON, produces and restores backup
// archives, and imports foreign data sets via content-location discovery
// with a heuristic fallback.
package storage

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"nexus/internal/utils"
	"nexus/store"
)

const (
	dataDirName    = "data"
	backupsDirName = "backups"

	tasksFile      = "tasks.json"
	notesFile      = "notes.json"
	categoriesFile = "categories.json"
	settingsFile   = "settings.json"
	metadataFile   = "metadata.json"

	// DataVersion is written into metadata on every save.
	DataVersion = "1.0"
)

// expectedDataFiles are the files content-location discovery looks for.
var expectedDataFiles = []string{tasksFile, notesFile, categoriesFile, settingsFile, metadataFile}

// Metadata describes a saved data set.
type Metadata struct {
	Version    string    `json:"version"`
	LastUpdate time.Time `json:"lastUpdate"`
	MachineID  string    `json:"machineId"`
}

// LocalStorageData is the unit of export, import and backup.
type LocalStorageData struct {
	Tasks      []store.Task           `json:"tasks"`
	Notes      []store.Note           `json:"notes"`
	Categories []store.Category       `json:"categories"`
	Settings   map[string]interface{} `json:"settings"`
	Metadata   Metadata               `json:"metadata"`
}

// NewLocalStorageData returns an empty data set with default metadata.
func NewLocalStorageData() *LocalStorageData {
	return &LocalStorageData{
		Tasks:      []store.Task{},
		Notes:      []store.Note{},
		Categories: []store.Category{},
		Settings:   map[string]interface{}{},
		Metadata: Metadata{
			Version:    DataVersion,
			LastUpdate: time.Now().UTC(),
		},
	}
}

// Adapter owns a storage root and its data/ and backups/ directories.
// Callers must not write into the root directly.
type Adapter struct {
	root       string
	dataDir    string
	backupsDir string
	log        *utils.Logger
}

// New creates an adapter rooted at root. Call Initialize before use.
func New(root string) *Adapter {
	return &Adapter{
		root:       root,
		dataDir:    filepath.Join(root, dataDirName),
		backupsDir: filepath.Join(root, backupsDirName),
		log:        utils.GetLogger(),
	}
}

// Initialize creates the root, data/ and backups/ directories if absent.
func (a *Adapter) Initialize() error {
	for _, dir := range []string{a.root, a.dataDir, a.backupsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.IOError(err, "failed to create directory %s", dir)
		}
	}
	return nil
}

// Root returns the storage root directory.
func (a *Adapter) Root() string {
	return a.root
}

// DataDir returns the live data directory.
func (a *Adapter) DataDir() string {
	return a.dataDir
}

// BackupsDir returns the backups directory.
func (a *Adapter) BackupsDir() string {
	return a.backupsDir
}

// SaveData persists the data set as one JSON file per top-level field
// under data/, stamping the metadata with the current time and a stable
// machine id.
func (a *Adapter) SaveData(data *LocalStorageData) error {
	if data == nil {
		return utils.ValidationError("data must not be nil")
	}
	if err := a.Initialize(); err != nil {
		return err
	}

	data.Metadata.Version = DataVersion
	data.Metadata.LastUpdate = time.Now().UTC()
	if data.Metadata.MachineID == "" {
		data.Metadata.MachineID = a.machineID()
	}

	fields := map[string]interface{}{
		tasksFile:      data.Tasks,
		notesFile:      data.Notes,
		categoriesFile: data.Categories,
		settingsFile:   data.Settings,
		metadataFile:   data.Metadata,
	}
	for name, value := range fields {
		if err := writeJSONFile(filepath.Join(a.dataDir, name), value); err != nil {
			return err
		}
	}
	return nil
}

// LoadData reads the data set back from data/. Missing files default to
// empty collections; a corrupt file is logged and reported as an absent
// data set (nil, nil) so a broken installation degrades to "no data"
// rather than crashing.
func (a *Adapter) LoadData() (*LocalStorageData, error) {
	data, err := readDataFiles(a.dataDir, os.ReadFile)
	if err != nil {
		a.log.Warn("failed to load local data: %v", err)
		return nil, nil
	}
	return data, nil
}

// machineID returns the persistent machine identifier, creating one on
// first use.
func (a *Adapter) machineID() string {
	idPath := filepath.Join(a.root, "machine-id")
	if raw, err := os.ReadFile(idPath); err == nil && len(raw) > 0 {
		return string(raw)
	}

	id := uuid.New().String()
	if err := os.WriteFile(idPath, []byte(id), 0644); err != nil {
		a.log.Debug("failed to persist machine id: %v", err)
	}
	return id
}

// readDataFiles assembles a LocalStorageData from the five expected files
// inside dir, reading each through read. Missing files fall back to
// defaults; corrupt files fail the whole load.
func readDataFiles(dir string, read func(string) ([]byte, error)) (*LocalStorageData, error) {
	data := NewLocalStorageData()

	if err := readJSONField(filepath.Join(dir, tasksFile), read, &data.Tasks); err != nil {
		return nil, err
	}
	if err := readJSONField(filepath.Join(dir, notesFile), read, &data.Notes); err != nil {
		return nil, err
	}
	if err := readJSONField(filepath.Join(dir, categoriesFile), read, &data.Categories); err != nil {
		return nil, err
	}
	if err := readJSONField(filepath.Join(dir, settingsFile), read, &data.Settings); err != nil {
		return nil, err
	}
	if err := readJSONField(filepath.Join(dir, metadataFile), read, &data.Metadata); err != nil {
		return nil, err
	}

	if data.Tasks == nil {
		data.Tasks = []store.Task{}
	}
	if data.Notes == nil {
		data.Notes = []store.Note{}
	}
	if data.Categories == nil {
		data.Categories = []store.Category{}
	}
	if data.Settings == nil {
		data.Settings = map[string]interface{}{}
	}
	if data.Metadata.Version == "" {
		data.Metadata.Version = DataVersion
	}
	return data, nil
}

// readJSONField decodes one data file into out, leaving out untouched when
// the file is absent.
func readJSONField(path string, read func(string) ([]byte, error), out interface{}) error {
	raw, err := read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return utils.IOError(err, "failed to read %s", path)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return utils.ParseError(err, "corrupt data file %s", path)
	}
	return nil
}

// writeJSONFile writes value as indented JSON.
func writeJSONFile(path string, value interface{}) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return utils.ParseError(err, "failed to serialize %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return utils.IOError(err, "failed to write %s", path)
	}
	return nil
}

// MigrateData recursively copies data/ and backups/ from one storage root
// to another.
func MigrateData(from, to string) error {
	for _, sub := range []string{dataDirName, backupsDirName} {
		src := filepath.Join(from, sub)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyDir(src, filepath.Join(to, sub)); err != nil {
			return utils.IOError(err, "failed to migrate %s", sub)
		}
	}
	return nil
}

// copyDir recursively copies a directory tree.
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if fi.IsDir() {
			return os.MkdirAll(target, fi.Mode())
		}
		return copyFile(path, target)
	})
}

// copyFile copies a single file, creating parent directories as needed.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
