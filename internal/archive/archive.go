// Package archive creates and extracts the zip archives used for backups
// and exports, and additionally accepts rar archives on import. Extraction
// refuses encrypted archives and entries that would escape the target
// directory.
package archive

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/nwaples/rardecode/v2"
	"nexus/internal/utils"
)

// Format identifies a supported archive format.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatRar
)

// DetectFormat resolves an archive format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return FormatZip
	case ".rar":
		return FormatRar
	default:
		return FormatUnknown
	}
}

// CreateZip streams every file under sourceDir into a compressed archive at
// outputPath. Entry names are relative to sourceDir, with no parent
// directory entry. The archive appears at its final name only after the
// writer closes successfully; an empty source directory yields an empty
// archive rather than an error.
func CreateZip(sourceDir, outputPath string) error {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return utils.IOError(err, "source directory not accessible: %s", sourceDir)
	}
	if !info.IsDir() {
		return utils.ValidationError("source is not a directory: %s", sourceDir)
	}

	partial := outputPath + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return utils.IOError(err, "failed to create archive: %s", outputPath)
	}

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	walkErr := filepath.Walk(sourceDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		hdr, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		_, err = io.Copy(w, f)
		return err
	})

	if walkErr != nil {
		_ = zw.Close()
		_ = out.Close()
		_ = os.Remove(partial)
		return utils.IOError(walkErr, "failed to archive %s", sourceDir)
	}

	if err := zw.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(partial)
		return utils.IOError(err, "failed to finalize archive %s", outputPath)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(partial)
		return utils.IOError(err, "failed to close archive %s", outputPath)
	}

	if err := os.Rename(partial, outputPath); err != nil {
		_ = os.Remove(partial)
		return utils.IOError(err, "failed to move archive into place: %s", outputPath)
	}
	return nil
}

// Extract unpacks a zip or rar archive into targetDir, dispatching by
// file extension.
func Extract(archivePath, targetDir string) error {
	switch DetectFormat(archivePath) {
	case FormatZip:
		return extractZip(archivePath, targetDir)
	case FormatRar:
		return extractRar(archivePath, targetDir)
	default:
		return utils.UnsupportedError("unsupported archive format: %s", filepath.Ext(archivePath))
	}
}

// securePath joins an archive entry name onto targetDir, rejecting entries
// whose normalized path would resolve outside of it.
func securePath(targetDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) {
		return "", utils.SecurityError("archive entry has absolute path: %s", name)
	}

	dest := filepath.Join(targetDir, cleaned)
	rel, err := filepath.Rel(targetDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", utils.SecurityError("archive entry escapes target directory: %s", name)
	}
	return dest, nil
}

// zip entries set bit 0 of the general purpose flags when encrypted.
const zipEncryptedFlag = 0x1

func extractZip(archivePath, targetDir string) error {
	r, err := zip.OpenReader(archivePath)
	// ErrInsecurePath still yields a usable reader; securePath rejects the
	// offending entries with a security error instead.
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return utils.IOError(err, "failed to open zip archive: %s", archivePath)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if f.Flags&zipEncryptedFlag != 0 {
			return utils.UnsupportedError("password-protected zip archives are not supported: %s", f.Name)
		}

		dest, err := securePath(targetDir, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return utils.IOError(err, "failed to create directory %s", dest)
			}
			continue
		}

		if err := writeEntry(dest, func(w io.Writer) error {
			rc, err := f.Open()
			if err != nil {
				return err
			}
			defer func() { _ = rc.Close() }()
			_, err = io.Copy(w, rc)
			return err
		}); err != nil {
			return utils.IOError(err, "failed to extract %s", f.Name)
		}
	}
	return nil
}

func extractRar(archivePath, targetDir string) error {
	r, err := rardecode.OpenReader(archivePath)
	if err != nil {
		if isEncryptionError(err) {
			return utils.UnsupportedError("password-protected rar archives are not supported: %s", archivePath)
		}
		return utils.IOError(err, "failed to open rar archive: %s", archivePath)
	}
	defer func() { _ = r.Close() }()

	for {
		hdr, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if isEncryptionError(err) {
				return utils.UnsupportedError("password-protected rar archives are not supported: %s", archivePath)
			}
			return utils.IOError(err, "failed to read rar archive: %s", archivePath)
		}

		dest, err := securePath(targetDir, hdr.Name)
		if err != nil {
			return err
		}

		if hdr.IsDir {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return utils.IOError(err, "failed to create directory %s", dest)
			}
			continue
		}

		if err := writeEntry(dest, func(w io.Writer) error {
			_, err := io.Copy(w, r)
			return err
		}); err != nil {
			if isEncryptionError(err) {
				return utils.UnsupportedError("password-protected rar archives are not supported: %s", archivePath)
			}
			return utils.IOError(err, "failed to extract %s", hdr.Name)
		}
	}
}

// isEncryptionError matches the password/encryption errors rardecode
// returns for protected headers and entries.
func isEncryptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "encrypt") || strings.Contains(msg, "password")
}

// writeEntry writes one archive entry to dest, ensuring parent directories
// exist first.
func writeEntry(dest string, copyTo func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if err := copyTo(out); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}

// Checksum computes the SHA-256 checksum of a file, hex encoded.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", utils.IOError(err, "failed to open file for checksum: %s", path)
	}
	defer func() { _ = f.Close() }()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", utils.IOError(err, "failed to hash file: %s", path)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
