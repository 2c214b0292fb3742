// Package fsx provides atomic writes and staged moves over an afero.Fs.
package fsx

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Move errors.
var (
	ErrSourceMissing     = errors.New("source does not exist")
	ErrDestinationExists = errors.New("destination already exists")
	ErrPartialMove       = errors.New("partial move")
)

// WriteFileAtomic writes data to path using the temp-file, sync, rename
// pattern so readers never observe a half-written file.
func WriteFileAtomic(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	if _, err := w.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := fs.Chmod(tmpName, perm); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("setting mode: %w", err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Move is a single relocation.
type Move struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Check verifies that the source exists and the destination does not.
func Check(fs afero.Fs, m Move) error {
	if ok, err := afero.Exists(fs, m.From); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrSourceMissing, m.From)
	}
	if ok, err := afero.Exists(fs, m.To); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrDestinationExists, m.To)
	}
	return nil
}

// MoveFile relocates one file, creating the destination directory. It never
// overwrites an existing destination.
func MoveFile(fs afero.Fs, m Move) error {
	if err := Check(fs, m); err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(m.To), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(m.To), err)
	}
	if err := fs.Rename(m.From, m.To); err == nil {
		return nil
	}
	// Rename fails across devices; fall back to copy then remove.
	if err := copyFile(fs, m.From, m.To); err != nil {
		fs.Remove(m.To)
		return fmt.Errorf("moving %s to %s: %w", m.From, m.To, err)
	}
	return fs.Remove(m.From)
}

// MovePair relocates two files as one unit. Both moves are checked before
// either runs; if the second fails the first is moved back. If the rollback
// also fails the returned error wraps ErrPartialMove.
func MovePair(fs afero.Fs, first, second Move) error {
	if err := Check(fs, first); err != nil {
		return err
	}
	if err := Check(fs, second); err != nil {
		return err
	}
	if err := MoveFile(fs, first); err != nil {
		return err
	}
	if err := MoveFile(fs, second); err != nil {
		if rbErr := MoveFile(fs, Move{From: first.To, To: first.From}); rbErr != nil {
			return fmt.Errorf("%w: %s moved but %s did not (%v); rollback failed: %v",
				ErrPartialMove, first.From, second.From, err, rbErr)
		}
		return err
	}
	return nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
