package system

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteFileAtomic writes data next to path and renames it into place, so
// readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	// OpenFile applies the umask; the final mode must be exact
	if err := os.Chmod(tmp, perm); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// SymlinkAtomic points link at target, replacing whatever link was there
func SymlinkAtomic(target, link string) error {
	tmp := filepath.Join(filepath.Dir(link), fmt.Sprintf(".%s.%s.tmp", filepath.Base(link), uuid.NewString()))
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("failed to create symlink: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to activate symlink %s: %w", link, err)
	}
	return nil
}

// DirState reports whether path exists and whether it has no entries
func DirState(path string) (exists, empty bool, err error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, true, nil
		}
		return false, false, err
	}
	return true, len(entries) == 0, nil
}

// TreeStats summarises the entries below a directory
type TreeStats struct {
	Files int
	Dirs  int
	Bytes int64
	// Other lists entries that are neither regular files nor directories,
	// relative to the root
	Other []string
}

// Tree walks root without following symlinks
func Tree(root string) (TreeStats, error) {
	var stats TreeStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		switch {
		case d.IsDir():
			stats.Dirs++
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			stats.Files++
			stats.Bytes += info.Size()
		default:
			rel, _ := filepath.Rel(root, path)
			stats.Other = append(stats.Other, rel)
		}
		return nil
	})
	return stats, err
}

// CopyFile copies src to dst, keeping the source permission bits
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Chmod(info.Mode().Perm()); err != nil {
		return err
	}
	return out.Sync()
}

// CopyTree copies the regular files and directories under src into dst
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type().IsRegular():
			return CopyFile(path, target)
		default:
			// Sockets, devices and symlinks are not part of a web bundle
			return nil
		}
	})
}

// ChownTree sets the owner of root and everything below it
func ChownTree(root string, uid, gid int) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, uid, gid)
	})
}
