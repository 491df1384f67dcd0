package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrSizeMismatch reports a stream shorter or longer than announced.
var ErrSizeMismatch = errors.New("size mismatch")

// Written describes a file produced by WriteAtomic.
type Written struct {
	Path   string
	Bytes  int64
	SHA256 string
}

// WriteAtomic streams r into dst through a temporary file in the same
// directory and renames it into place. When expected is non-negative the
// byte count must match it. The partial file is removed on any failure.
func WriteAtomic(dst string, r io.Reader, expected int64, mode os.FileMode) (Written, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Written{}, fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return Written{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		return Written{}, err
	}
	if expected >= 0 && written != expected {
		return Written{}, fmt.Errorf("%w: expected %d bytes, wrote %d bytes", ErrSizeMismatch, expected, written)
	}
	if err := tmp.Sync(); err != nil {
		return Written{}, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Written{}, err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return Written{}, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return Written{}, fmt.Errorf("rename into place: %w", err)
	}
	committed = true
	return Written{Path: dst, Bytes: written, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// UniquePath returns dir/name, or when that exists and overwrite is false the
// first free "name (n).ext" variant.
func UniquePath(dir, name string, overwrite bool) (string, error) {
	candidate := filepath.Join(dir, name)
	if overwrite {
		return candidate, nil
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; i < 1000; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}
