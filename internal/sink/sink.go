// Package sink serializes the assembled document and lands it on disk.
// Local writes are atomic: the file is fully materialized under a
// temporary name and renamed into place, so a failed run never leaves a
// partial artifact at the final path.
package sink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beevik/etree"
	"github.com/yeka/zip"
)

// SerializationError flags a structurally broken tree. If the assembler
// invariants hold this cannot happen; treat it as an internal bug.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize document: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Serialize renders the document with its XML declaration, indented the
// way the feed consumers expect.
func Serialize(doc *etree.Document) ([]byte, error) {
	if doc.Root() == nil {
		return nil, &SerializationError{Err: fmt.Errorf("document has no root element")}
	}
	doc.Indent(2)
	data, err := doc.WriteToBytes()
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return data, nil
}

// Encrypt wraps the serialized bytes in a password-protected zip archive.
// The XML bytes themselves are not ciphered; the archive container is.
func Encrypt(data []byte, entryName, password string) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("encryption requested without a passphrase")
	}
	if entryName == "" {
		entryName = "output.xml"
	}
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.Encrypt(entryName, password, zip.AES256Encryption)
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("create encrypted entry: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		zw.Close()
		return nil, fmt.Errorf("write encrypted entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

// AtomicFile is the streaming counterpart of WriteFileAtomic: writes
// accumulate under a temporary name and Commit renames into place.
type AtomicFile struct {
	f    *os.File
	path string
	tmp  string
	done bool
}

// NewAtomicFile opens a temporary file next to path.
func NewAtomicFile(path string) (*AtomicFile, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &AtomicFile{f: tmp, path: path, tmp: tmp.Name()}, nil
}

func (a *AtomicFile) Write(p []byte) (int, error) { return a.f.Write(p) }

// Commit syncs, closes and renames into place.
func (a *AtomicFile) Commit() error {
	if a.done {
		return nil
	}
	a.done = true
	if err := a.f.Sync(); err != nil {
		a.f.Close()
		os.Remove(a.tmp)
		return err
	}
	if err := a.f.Close(); err != nil {
		os.Remove(a.tmp)
		return err
	}
	if err := os.Rename(a.tmp, a.path); err != nil {
		os.Remove(a.tmp)
		return err
	}
	return nil
}

// Abort discards the temporary file. Safe after Commit.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	a.f.Close()
	os.Remove(a.tmp)
}

// WriteFileAtomic materializes data next to path and renames it into
// place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
