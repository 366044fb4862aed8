// Package atomicfile writes files so readers see either the previous content
// or the complete new content, never a partial write.
package atomicfile

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Write streams content into a temp file beside path, fsyncs it and renames
// it over path. The temp file is removed on any failure.
func Write(path string, perm os.FileMode, fill func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "atomicfile: mkdir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "atomicfile: create temp for %s", path)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = fill(tmp); err != nil {
		return eris.Wrapf(err, "atomicfile: fill %s", path)
	}
	if err = tmp.Sync(); err != nil {
		return eris.Wrapf(err, "atomicfile: sync %s", path)
	}
	if err = tmp.Close(); err != nil {
		return eris.Wrapf(err, "atomicfile: close %s", path)
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return eris.Wrapf(err, "atomicfile: chmod %s", path)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "atomicfile: rename onto %s", path)
	}
	return nil
}

// WriteBytes is Write for an in-memory payload.
func WriteBytes(path string, perm os.FileMode, data []byte) error {
	return Write(path, perm, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
}
