package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"nexus/internal/utils"
)

// discoveryMaxDepth bounds the breadth-first search for the directory
// holding the expected data files.
const discoveryMaxDepth = 4

// skippedDirs are directory names the import scans never descend into.
var skippedDirs = map[string]bool{
	"node_modules":     true,
	"vendor":           true,
	"bower_components": true,
	"__pycache__":      true,
	"dist":             true,
	"build":            true,
	"target":           true,
}

// skipDir reports whether an import scan should ignore a directory.
func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || skippedDirs[name]
}

// scoreDataDir counts how many of the expected data files are present
// directly inside dir. A perfect score equals len(expectedDataFiles).
func scoreDataDir(dir string) int {
	score := 0
	for _, name := range expectedDataFiles {
		if fi, err := os.Stat(filepath.Join(dir, name)); err == nil && !fi.IsDir() {
			score++
		}
	}
	return score
}

// ResolveImportContentDir decides where the expected JSON files actually
// live inside an arbitrary extracted root. The root and its data
// subdirectory are scored first; if both score zero, a breadth-first
// search over subdirectories (bounded depth, hidden and dependency
// directories skipped) keeps the highest-scoring directory found,
// stopping early on a perfect score. A zero score means no structured
// data was found anywhere.
func ResolveImportContentDir(root string) (string, int) {
	bestDir := root
	bestScore := scoreDataDir(root)

	if dataScore := scoreDataDir(filepath.Join(root, dataDirName)); dataScore > bestScore {
		bestDir = filepath.Join(root, dataDirName)
		bestScore = dataScore
	}

	if bestScore > 0 {
		return bestDir, bestScore
	}

	type queued struct {
		dir   string
		depth int
	}
	queue := []queued{{root, 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= discoveryMaxDepth {
			continue
		}

		entries, err := os.ReadDir(current.dir)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() || skipDir(entry.Name()) {
				continue
			}

			sub := filepath.Join(current.dir, entry.Name())
			if score := scoreDataDir(sub); score > bestScore {
				bestDir = sub
				bestScore = score
				if bestScore == len(expectedDataFiles) {
					return bestDir, bestScore
				}
			}
			queue = append(queue, queued{sub, current.depth + 1})
		}
	}

	return bestDir, bestScore
}

// Byte-order marks recognized by ReadTextFileSmart.
var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
)

// ReadTextFileSmart reads a text file honoring a UTF-16 (either endian) or
// UTF-8 byte-order mark, defaulting to raw UTF-8 when none matches. Foreign
// exports, notably from note-taking tools on Windows, routinely carry BOMs.
func ReadTextFileSmart(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeTextSmart(raw)
}

// DecodeTextSmart decodes raw bytes per their byte-order mark.
func DecodeTextSmart(raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, bomUTF16LE):
		return decodeUTF16(raw, unicode.LittleEndian)
	case bytes.HasPrefix(raw, bomUTF16BE):
		return decodeUTF16(raw, unicode.BigEndian)
	case bytes.HasPrefix(raw, bomUTF8):
		return raw[len(bomUTF8):], nil
	default:
		return raw, nil
	}
}

// decodeUTF16 converts BOM-prefixed UTF-16 bytes of the given endianness
// to UTF-8.
func decodeUTF16(raw []byte, endianness unicode.Endianness) ([]byte, error) {
	decoder := unicode.UTF16(endianness, unicode.UseBOM).NewDecoder()
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), decoder))
	if err != nil {
		return nil, utils.ParseError(err, "failed to decode UTF-16 text")
	}
	return decoded, nil
}
