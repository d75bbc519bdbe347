package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nexus/internal/credentials"
	"nexus/internal/storage"
	"nexus/store"
)

// cliEnv bundles the injected stores and per-test paths shared by
// successive Execute calls.
type cliEnv struct {
	opts       *Options
	records    *store.Memory
	configPath string
	dataFolder string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	records := store.NewMemory()
	creds := credentials.NewStore(t.TempDir(), "", credentials.WithKeyring(credentials.NewMockKeyring()))
	return &cliEnv{
		opts: &Options{
			Records:     records,
			Credentials: creds,
		},
		records:    records,
		configPath: filepath.Join(t.TempDir(), "config.yml"),
		dataFolder: t.TempDir(),
	}
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append(args, "--config", e.configPath, "--data-folder", e.dataFolder)
	code := Execute(full, strings.NewReader(stdin), &stdout, &stderr, e.opts)
	return code, stdout.String(), stderr.String()
}

func TestBackupCreateAndList(t *testing.T) {
	env := newCLIEnv(t)
	if _, err := env.records.CreateTask(context.Background(), &store.Task{ID: "t1", Title: "Water the plants"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	code, out, errOut := env.run(t, "", "backup", "create")
	if code != 0 {
		t.Fatalf("backup create exited %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Created backup") || !strings.Contains(out, "1 tasks") {
		t.Errorf("unexpected output: %q", out)
	}

	code, out, _ = env.run(t, "", "backup", "list")
	if code != 0 {
		t.Fatalf("backup list exited %d", code)
	}
	if strings.Contains(out, "No backups found") {
		t.Errorf("backup missing from listing: %q", out)
	}

	code, out, _ = env.run(t, "", "backup", "list", "--json")
	if code != 0 {
		t.Fatalf("backup list --json exited %d", code)
	}
	var backups []storage.BackupFile
	if err := json.Unmarshal([]byte(out), &backups); err != nil {
		t.Fatalf("list output is not JSON: %v\n%s", err, out)
	}
	if len(backups) != 1 {
		t.Errorf("JSON listing has %d backups, want 1", len(backups))
	}
}

func TestBackupDelete(t *testing.T) {
	env := newCLIEnv(t)

	code, _, _ := env.run(t, "", "backup", "create")
	if code != 0 {
		t.Fatal("backup create failed")
	}

	var out string
	code, out, _ = env.run(t, "", "backup", "list", "--json")
	if code != 0 {
		t.Fatal("backup list failed")
	}
	var backups []storage.BackupFile
	if err := json.Unmarshal([]byte(out), &backups); err != nil || len(backups) != 1 {
		t.Fatalf("listing failed: %v\n%s", err, out)
	}

	code, out, _ = env.run(t, "", "backup", "delete", backups[0].ID)
	if code != 0 {
		t.Fatalf("backup delete exited %d", code)
	}
	if !strings.Contains(out, "Deleted backup") {
		t.Errorf("unexpected output: %q", out)
	}

	code, _, errOut := env.run(t, "", "backup", "delete", backups[0].ID)
	if code != 1 {
		t.Errorf("deleting twice exited %d, want 1", code)
	}
	if !strings.Contains(errOut, "Error:") {
		t.Errorf("stderr missing error line: %q", errOut)
	}
}

func TestBackupExportCurrent(t *testing.T) {
	env := newCLIEnv(t)
	if _, err := env.records.CreateNote(context.Background(), &store.Note{ID: "n1", Title: "Groceries"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	out := filepath.Join(t.TempDir(), "export.zip")
	code, stdout, errOut := env.run(t, "", "backup", "export", "current", out)
	if code != 0 {
		t.Fatalf("export exited %d: %s", code, errOut)
	}
	if !strings.Contains(stdout, "Exported to") {
		t.Errorf("unexpected output: %q", stdout)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("export archive not written: %v", err)
	}
}

func TestImportFolderMergesNotes(t *testing.T) {
	env := newCLIEnv(t)

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "ideas.txt"), []byte("build a treehouse"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	code, out, errOut := env.run(t, "", "import", "folder", src)
	if code != 0 {
		t.Fatalf("import exited %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Imported 0 task(s) and 1 note(s)") {
		t.Errorf("unexpected output: %q", out)
	}

	notes, err := env.records.GetAllNotes(context.Background())
	if err != nil || len(notes) != 1 {
		t.Fatalf("notes after import = %v, %v", notes, err)
	}
	if notes[0].Title != "ideas" {
		t.Errorf("note title = %q", notes[0].Title)
	}
}

func TestImportFolderPreviewDoesNotApply(t *testing.T) {
	env := newCLIEnv(t)

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "draft.txt"), []byte("unapplied"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	code, out, _ := env.run(t, "", "import", "folder", src, "--preview")
	if code != 0 {
		t.Fatalf("preview exited %d", code)
	}
	if !strings.Contains(out, "Notes: 1") {
		t.Errorf("preview output missing counts: %q", out)
	}

	notes, _ := env.records.GetAllNotes(context.Background())
	if len(notes) != 0 {
		t.Errorf("preview applied the import: %d notes", len(notes))
	}
}

func TestCredentialsLifecycle(t *testing.T) {
	env := newCLIEnv(t)

	code, out, errOut := env.run(t, "s3cret\n", "credentials", "set", "https://dav.example.com/", "alice")
	if code != 0 {
		t.Fatalf("credentials set exited %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Credentials stored") {
		t.Errorf("unexpected output: %q", out)
	}

	code, out, _ = env.run(t, "", "credentials", "show")
	if code != 0 {
		t.Fatalf("credentials show exited %d", code)
	}
	// The trailing slash is normalised away and the password never echoed.
	if !strings.Contains(out, "Server: https://dav.example.com") {
		t.Errorf("server missing from output: %q", out)
	}
	if !strings.Contains(out, "Username: alice") {
		t.Errorf("username missing from output: %q", out)
	}
	if strings.Contains(out, "s3cret") {
		t.Error("password leaked into output")
	}

	code, _, _ = env.run(t, "", "credentials", "clear")
	if code != 0 {
		t.Fatal("credentials clear failed")
	}
	code, out, _ = env.run(t, "", "credentials", "show")
	if code != 0 || !strings.Contains(out, "No credentials stored") {
		t.Errorf("credentials remain after clear: %q", out)
	}
}

func TestCredentialsSetRejectsEmptyPassword(t *testing.T) {
	env := newCLIEnv(t)

	code, _, errOut := env.run(t, "\n", "credentials", "set", "https://dav.example.com", "alice")
	if code != 1 {
		t.Errorf("empty password accepted, exit %d", code)
	}
	if !strings.Contains(errOut, "Error:") {
		t.Errorf("stderr missing error: %q", errOut)
	}
}

func TestUnknownCommandFails(t *testing.T) {
	env := newCLIEnv(t)

	code, _, errOut := env.run(t, "", "frobnicate")
	if code != 1 {
		t.Errorf("unknown command exited %d, want 1", code)
	}
	if !strings.Contains(errOut, "Error:") {
		t.Errorf("stderr missing error: %q", errOut)
	}
}

func TestHelpListsSubcommands(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := env.run(t, "", "--help")
	if code != 0 {
		t.Fatalf("--help exited %d", code)
	}
	for _, sub := range []string{"backup", "import", "sync", "credentials", "watch"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing %q", sub)
		}
	}
}

func TestWatchTargetsDatabaseNotDataDir(t *testing.T) {
	env := newCLIEnv(t)
	env.opts.ConfigPath = env.configPath
	env.opts.DataFolder = env.dataFolder
	env.opts.DBPath = filepath.Join(env.dataFolder, "nexus.db")

	a, err := openApp(env.opts)
	if err != nil {
		t.Fatalf("openApp failed: %v", err)
	}
	defer a.close()

	cfg := watchConfig(a)
	if len(cfg.Paths) != 1 || cfg.Paths[0] != env.opts.DBPath {
		t.Errorf("watch paths = %v, want [%s]", cfg.Paths, env.opts.DBPath)
	}

	// Watching the auto-save output directory would make every flush
	// re-trigger the save it just performed.
	dataDir := a.manager.Adapter().DataDir()
	for _, p := range cfg.Paths {
		if p == dataDir || filepath.Dir(p) == dataDir {
			t.Errorf("watch target %q is inside the auto-save data directory %q", p, dataDir)
		}
	}
}

func TestFormatSize(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 << 20, "3.0 MB"},
	}
	for _, c := range cases {
		if got := formatSize(c.size); got != c.want {
			t.Errorf("formatSize(%d) = %q, want %q", c.size, got, c.want)
		}
	}
}
