// Package backup keeps LZ4-compressed snapshots of dump files before they are
// rewritten in place.
package backup

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"
)

// Suffix is appended to every snapshot file name.
const Suffix = ".lz4"

// DefaultDir returns the per-user snapshot directory.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "spooltag", "backups")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = home
		}
		return filepath.Join(appData, "spooltag", "backups")
	default:
		return filepath.Join(home, ".local", "share", "spooltag", "backups")
	}
}

// Snapshot compresses data into dir under a timestamped name derived from
// source and returns the snapshot path.
func Snapshot(dir, source string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s.%s%s", filepath.Base(source), time.Now().Format("20060102-150405.000"), Suffix)
	path := filepath.Join(dir, name)

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := zw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
		return "", fmt.Errorf("failed to configure lz4 writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to compress snapshot: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

// Restore returns the original bytes stored in a snapshot.
func Restore(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(lz4.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// List returns the snapshots taken of source, oldest first.
func List(dir, source string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	prefix := filepath.Base(source) + "."
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), Suffix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
