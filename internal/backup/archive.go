package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jhoonb/archivex"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/BlueBeard63/nids-deploy/internal/models"
	"github.com/BlueBeard63/nids-deploy/internal/system"
)

var (
	ErrBackupExists      = errors.New("backup archive already exists")
	ErrInsufficientSpace = errors.New("insufficient free space for backup")
	ErrUnsupportedEntry  = errors.New("entry cannot be archived")
	ErrIncomplete        = errors.New("archive does not match its source")
)

// Manager archives the live deployment before it is overwritten
type Manager struct {
	log       logrus.FieldLogger
	freeSpace func(path string) (uint64, error)
	now       func() time.Time
}

func NewManager(log logrus.FieldLogger) *Manager {
	return &Manager{
		log:       log,
		freeSpace: FreeSpace,
		now:       time.Now,
	}
}

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding path
func FreeSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// Archive writes backupRoot/backup_<version>.tar.gz with the full contents of
// src. It returns nil and no error when src is absent or empty. The archive
// is written under a temporary name, read back and compared with src, and
// only then renamed, so a BackupRecord always points at a complete archive.
// Symlinks and special files are refused before anything is written.
func (m *Manager) Archive(ctx context.Context, src, backupRoot string, version models.RunVersion) (*models.BackupRecord, error) {
	exists, empty, err := system.DirState(src)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", src, err)
	}
	if !exists || empty {
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	want, err := system.Tree(src)
	if err != nil {
		return nil, fmt.Errorf("failed to measure %s: %w", src, err)
	}
	if len(want.Other) > 0 {
		return nil, fmt.Errorf("%w: %s in %s is not a regular file or directory", ErrUnsupportedEntry, strings.Join(want.Other, ", "), src)
	}
	size := want.Bytes
	free, err := m.freeSpace(backupRoot)
	if err != nil {
		return nil, err
	}
	if uint64(size) >= free {
		return nil, fmt.Errorf("%w: need %d bytes, %d available in %s", ErrInsufficientSpace, size, free, backupRoot)
	}

	archivePath := filepath.Join(backupRoot, version.BackupName())
	if _, err := os.Stat(archivePath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrBackupExists, archivePath)
	}

	partial := filepath.Join(backupRoot, "."+strings.TrimSuffix(version.BackupName(), ".tar.gz")+".partial.tar.gz")
	defer os.Remove(partial)

	m.log.Debugf("archiving %s (%d bytes) to %s", src, size, partial)

	tarFile := new(archivex.TarFile)
	if err := tarFile.Create(partial); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	if err := tarFile.AddAll(src, false); err != nil {
		tarFile.Close()
		return nil, fmt.Errorf("failed to archive %s: %w", src, err)
	}
	if err := tarFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}

	got, err := Verify(partial)
	if err != nil {
		return nil, fmt.Errorf("archive verification failed: %w", err)
	}
	if err := matches(got, want, src); err != nil {
		return nil, err
	}

	if err := os.Rename(partial, archivePath); err != nil {
		return nil, fmt.Errorf("failed to move archive into place: %w", err)
	}
	if err := os.Chmod(archivePath, 0600); err != nil {
		return nil, fmt.Errorf("failed to restrict archive permissions: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, err
	}

	return &models.BackupRecord{
		ArchivePath: archivePath,
		SourceDir:   src,
		CreatedAt:   m.now(),
		SizeBytes:   info.Size(),
		Entries:     got.Files,
	}, nil
}

// matches compares an archive with the tree it was made from
func matches(got, want system.TreeStats, src string) error {
	if got.Files != want.Files || got.Bytes != want.Bytes || len(got.Other) > 0 {
		return fmt.Errorf("%w: %d files (%d bytes) archived, %d files (%d bytes) in %s",
			ErrIncomplete, got.Files, got.Bytes, want.Files, want.Bytes, src)
	}
	return nil
}

// Verify reads a tar.gz archive end to end and counts its directories,
// regular files and the bytes they hold
func Verify(path string) (system.TreeStats, error) {
	var stats system.TreeStats

	file, err := os.Open(path)
	if err != nil {
		return stats, err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return stats, err
	}
	defer gz.Close()

	reader := tar.NewReader(gz)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, err
		}
		n, err := io.Copy(io.Discard, reader)
		if err != nil {
			return stats, err
		}
		switch header.Typeflag {
		case tar.TypeReg:
			stats.Files++
			stats.Bytes += n
		case tar.TypeDir:
			stats.Dirs++
		default:
			stats.Other = append(stats.Other, header.Name)
		}
	}
	return stats, nil
}
