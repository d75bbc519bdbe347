package storage

import (
	"os"
	"path/filepath"
	"testing"

	"nexus/store"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := New(t.TempDir())
	if err := a.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return a
}

func sampleData() *LocalStorageData {
	data := NewLocalStorageData()
	data.Tasks = []store.Task{
		{ID: "t1", Title: "Water the plants", Priority: 2},
		{ID: "t2", Title: "File taxes", Completed: true},
	}
	data.Notes = []store.Note{
		{ID: "n1", Title: "Groceries", Content: "milk, eggs", Format: "text"},
	}
	data.Categories = []store.Category{
		{ID: "c1", Name: "Home", Color: "#00ff00"},
	}
	data.Settings["theme"] = "dark"
	return data
}

func TestSaveLoadRoundTrip(t *testing.T) {
	a := newTestAdapter(t)

	if err := a.SaveData(sampleData()); err != nil {
		t.Fatalf("SaveData failed: %v", err)
	}

	got, err := a.LoadData()
	if err != nil {
		t.Fatalf("LoadData failed: %v", err)
	}
	if got == nil {
		t.Fatal("LoadData returned nil for saved data")
	}
	if len(got.Tasks) != 2 || len(got.Notes) != 1 || len(got.Categories) != 1 {
		t.Errorf("counts mismatch: %d tasks, %d notes, %d categories",
			len(got.Tasks), len(got.Notes), len(got.Categories))
	}
	if got.Tasks[0].Title != "Water the plants" {
		t.Errorf("task content mismatch: %+v", got.Tasks[0])
	}
	if got.Settings["theme"] != "dark" {
		t.Errorf("settings mismatch: %v", got.Settings)
	}
	if got.Metadata.Version != DataVersion {
		t.Errorf("version not stamped: %q", got.Metadata.Version)
	}
	if got.Metadata.LastUpdate.IsZero() {
		t.Error("lastUpdate not stamped")
	}
}

func TestSaveWritesPerFieldFiles(t *testing.T) {
	a := newTestAdapter(t)
	if err := a.SaveData(sampleData()); err != nil {
		t.Fatalf("SaveData failed: %v", err)
	}

	for _, name := range []string{"tasks.json", "notes.json", "categories.json", "settings.json", "metadata.json"} {
		if _, err := os.Stat(filepath.Join(a.DataDir(), name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}

func TestLoadMissingFilesDefaults(t *testing.T) {
	a := newTestAdapter(t)

	got, err := a.LoadData()
	if err != nil {
		t.Fatalf("LoadData failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected empty data set, got nil")
	}
	if len(got.Tasks) != 0 || len(got.Notes) != 0 {
		t.Errorf("expected empty collections, got %+v", got)
	}
}

func TestLoadCorruptReturnsNilNil(t *testing.T) {
	a := newTestAdapter(t)
	if err := os.WriteFile(filepath.Join(a.DataDir(), "tasks.json"), []byte("{broken"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := a.LoadData()
	if err != nil {
		t.Fatalf("expected nil error for corrupt data, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil data for corrupt file, got %+v", got)
	}
}

func TestMachineIDStable(t *testing.T) {
	a := newTestAdapter(t)

	data := sampleData()
	if err := a.SaveData(data); err != nil {
		t.Fatalf("SaveData failed: %v", err)
	}
	first := data.Metadata.MachineID
	if first == "" {
		t.Fatal("machine id not assigned")
	}

	second := NewLocalStorageData()
	if err := a.SaveData(second); err != nil {
		t.Fatalf("second SaveData failed: %v", err)
	}
	if second.Metadata.MachineID != first {
		t.Errorf("machine id not stable: %q vs %q", first, second.Metadata.MachineID)
	}
}

func TestMigrateData(t *testing.T) {
	from := New(t.TempDir())
	if err := from.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := from.SaveData(sampleData()); err != nil {
		t.Fatalf("SaveData failed: %v", err)
	}

	toRoot := t.TempDir()
	if err := MigrateData(from.Root(), toRoot); err != nil {
		t.Fatalf("MigrateData failed: %v", err)
	}

	to := New(toRoot)
	got, err := to.LoadData()
	if err != nil || got == nil {
		t.Fatalf("LoadData after migration failed: %v, %v", got, err)
	}
	if len(got.Tasks) != 2 {
		t.Errorf("migrated data incomplete: %d tasks", len(got.Tasks))
	}
}
