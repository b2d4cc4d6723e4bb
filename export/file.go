package export

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/teranos/exportd/errors"
)

const filePermissions = 0644

// atomicCSV writes CSV records to a temporary file next to its destination
// and renames it over the destination on Commit. Until then the destination
// keeps its previous content.
type atomicCSV struct {
	final string
	tmp   *os.File
	w     *csv.Writer
	done  bool
}

func createAtomicCSV(final string, comma rune) (*atomicCSV, error) {
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "create directory %s", dir), errors.ErrExport)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(final)+".*.tmp")
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "create temporary file for %s", final), errors.ErrExport)
	}
	w := csv.NewWriter(tmp)
	w.Comma = comma
	return &atomicCSV{final: final, tmp: tmp, w: w}, nil
}

func (a *atomicCSV) Write(record []string) error {
	if err := a.w.Write(record); err != nil {
		return errors.Mark(errors.Wrapf(err, "write %s", a.final), errors.ErrExport)
	}
	return nil
}

// Commit flushes, syncs and moves the file into place.
func (a *atomicCSV) Commit() error {
	if a.done {
		return nil
	}
	a.done = true

	a.w.Flush()
	if err := a.w.Error(); err != nil {
		a.discard()
		return errors.Mark(errors.Wrapf(err, "flush %s", a.final), errors.ErrExport)
	}
	if err := a.tmp.Sync(); err != nil {
		a.discard()
		return errors.Mark(errors.Wrapf(err, "sync %s", a.final), errors.ErrExport)
	}
	if err := a.tmp.Chmod(filePermissions); err != nil {
		a.discard()
		return errors.Mark(errors.Wrapf(err, "chmod %s", a.final), errors.ErrExport)
	}
	if err := a.tmp.Close(); err != nil {
		os.Remove(a.tmp.Name())
		return errors.Mark(errors.Wrapf(err, "close %s", a.final), errors.ErrExport)
	}
	if err := os.Rename(a.tmp.Name(), a.final); err != nil {
		os.Remove(a.tmp.Name())
		return errors.Mark(errors.Wrapf(err, "replace %s", a.final), errors.ErrExport)
	}
	return nil
}

// Abort drops the temporary file. Safe after Commit.
func (a *atomicCSV) Abort() {
	if a.done {
		return
	}
	a.done = true
	a.discard()
}

func (a *atomicCSV) discard() {
	a.tmp.Close()
	os.Remove(a.tmp.Name())
}
