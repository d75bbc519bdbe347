package storage

import (
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"
)

func seedDataDir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	for _, name := range []string{"tasks.json", "notes.json", "metadata.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("[]"), 0644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
}

func TestResolveImportContentDirAtRoot(t *testing.T) {
	root := t.TempDir()
	seedDataDir(t, root)

	dir, score := ResolveImportContentDir(root)
	if dir != root {
		t.Errorf("expected root, got %s", dir)
	}
	if score < 2 {
		t.Errorf("expected score >= 2, got %d", score)
	}
}

func TestResolveImportContentDirNested(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "export", "backup-2024", "data")
	seedDataDir(t, nested)

	dir, score := ResolveImportContentDir(root)
	if dir != nested {
		t.Errorf("expected %s, got %s", nested, dir)
	}
	if score == 0 {
		t.Error("expected nested data dir to be found")
	}
}

func TestResolveImportContentDirSkipsToolDirs(t *testing.T) {
	root := t.TempDir()
	seedDataDir(t, filepath.Join(root, "node_modules", "data"))
	seedDataDir(t, filepath.Join(root, ".hidden", "data"))

	_, score := ResolveImportContentDir(root)
	if score != 0 {
		t.Errorf("expected skipped directories to be ignored, got score %d", score)
	}
}

func TestResolveImportContentDirTooDeep(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c", "d", "e", "data")
	seedDataDir(t, deep)

	_, score := ResolveImportContentDir(root)
	if score != 0 {
		t.Errorf("expected depth-limited search to miss deep dir, got score %d", score)
	}
}

func utf16Bytes(s string, bigEndian bool) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, 2+2*len(units))
	if bigEndian {
		out = append(out, 0xFE, 0xFF)
	} else {
		out = append(out, 0xFF, 0xFE)
	}
	for _, u := range units {
		if bigEndian {
			out = append(out, byte(u>>8), byte(u))
		} else {
			out = append(out, byte(u), byte(u>>8))
		}
	}
	return out
}

func TestDecodeTextSmart(t *testing.T) {
	const want = "héllo wörld"

	cases := []struct {
		name string
		raw  []byte
	}{
		{"utf16-le", utf16Bytes(want, false)},
		{"utf16-be", utf16Bytes(want, true)},
		{"utf8-bom", append([]byte{0xEF, 0xBB, 0xBF}, []byte(want)...)},
		{"plain", []byte(want)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeTextSmart(tc.raw)
			if err != nil {
				t.Fatalf("DecodeTextSmart failed: %v", err)
			}
			if string(got) != want {
				t.Errorf("decoded %q, want %q", got, want)
			}
		})
	}
}

func TestReadTextFileSmart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utf16.txt")
	if err := os.WriteFile(path, utf16Bytes(`{"ok":true}`, false), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := ReadTextFileSmart(path)
	if err != nil {
		t.Fatalf("ReadTextFileSmart failed: %v", err)
	}
	if string(got) != `{"ok":true}` {
		t.Errorf("decoded %q", got)
	}
}
