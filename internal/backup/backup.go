// Package backup archives the data directory and exports memory dumps.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/jarvis/internal/observe"
	"github.com/felixgeelhaar/jarvis/internal/store"
)

// backupDirName lives inside the data dir and is excluded from the
// archive so backups never nest.
const backupDirName = "backups"

// Exporter renders the memory dump for savelog.
type Exporter interface {
	Export(ctx context.Context) (string, error)
}

type Manager struct {
	dataDir string
	store   store.Storage
	export  Exporter
	obs     *observe.Observer
}

func New(dataDir string, st store.Storage, exporter Exporter, obs *observe.Observer) *Manager {
	return &Manager{dataDir: dataDir, store: st, export: exporter, obs: obs}
}

// Backup writes a tar.gz of the data directory under
// <data>/backups/<date>/jarvis_<stamp>.tar.gz and returns its path and
// size in bytes.
func (m *Manager) Backup(ctx context.Context) (string, int64, error) {
	_, span := m.obs.StartSpan(ctx, "backup.create")
	defer span.End()

	now := time.Now()
	dateDir := filepath.Join(m.dataDir, backupDirName, now.Format("2006-01-02"))
	if err := os.MkdirAll(dateDir, 0750); err != nil {
		return "", 0, fmt.Errorf("failed to create backup directory: %w", err)
	}

	target := filepath.Join(dateDir, fmt.Sprintf("jarvis_%s.tar.gz", now.Format("20060102_150405")))
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create backup file: %w", err)
	}

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	walkErr := m.archiveDataDir(tw)

	// Close in order so a partial archive still flushes before the error
	// surfaces.
	if err := tw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := gz.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := f.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		os.Remove(target)
		return "", 0, fmt.Errorf("failed to archive data directory: %w", walkErr)
	}

	info, err := os.Stat(target)
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat backup: %w", err)
	}

	m.obs.Log().Info().
		Str("path", target).
		Int64("size_bytes", info.Size()).
		Msg("backup created")
	return target, info.Size(), nil
}

func (m *Manager) archiveDataDir(tw *tar.Writer) error {
	backupRoot := filepath.Join(m.dataDir, backupDirName)

	return filepath.Walk(m.dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == backupRoot {
			return filepath.SkipDir
		}
		if path == m.dataDir {
			return nil
		}
		// Only regular files and directories travel; sockets and
		// symlinks stay behind.
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(m.dataDir, path)
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		src, err := os.Open(path) // #nosec G304
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
}

// SaveMemoryLog dumps every memory tier into a text artifact registered
// in the artifact store.
func (m *Manager) SaveMemoryLog(ctx context.Context, sessionID string) (*store.Artifact, error) {
	ctx, span := m.obs.StartSpan(ctx, "backup.savelog")
	defer span.End()

	dump, err := m.export.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export memories: %w", err)
	}

	now := time.Now()
	stamp := now.Format("20060102_150405")
	sum := sha256.Sum256([]byte(dump))

	artifact := &store.Artifact{
		ID:        "memlog-" + stamp,
		SessionID: sessionID,
		Name:      "memory_export",
		Path:      fmt.Sprintf("%s/memory_export_%s.txt", sessionID, stamp),
		SHA256:    hex.EncodeToString(sum[:]),
		Size:      int64(len(dump)),
		CreatedAt: now,
	}
	if err := m.store.SaveArtifact(artifact, []byte(dump)); err != nil {
		return nil, fmt.Errorf("failed to save memory export: %w", err)
	}

	m.obs.Log().Info().
		Str("artifact", artifact.ID).
		Int64("size_bytes", artifact.Size).
		Msg("memory log saved")
	return artifact, nil
}

// FormatSize renders a byte count the way the chat surfaces report it.
func FormatSize(size int64) string {
	const mb = 1 << 20
	if size >= mb {
		return fmt.Sprintf("%.2f MB", float64(size)/float64(mb))
	}
	const kb = 1 << 10
	if size >= kb {
		return fmt.Sprintf("%.1f KB", float64(size)/float64(kb))
	}
	return fmt.Sprintf("%d B", size)
}

// Trim is a helper for displaying backup paths relative to the data
// dir in chat replies.
func (m *Manager) Trim(path string) string {
	if rel, err := filepath.Rel(m.dataDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}
