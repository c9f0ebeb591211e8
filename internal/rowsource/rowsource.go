// Package rowsource produces lazy record streams from columnar inputs.
//
// A Source is re-openable from the start but a stream is not restartable
// mid-flight. Column types are normalized to scalar kinds at Open time so
// unsupported inputs fail before any output is produced.
package rowsource

import (
	"context"
	"fmt"

	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/schema"
)

// Record is one flat row: column name to typed scalar (string, int64,
// float64, bool or nil). Ownership passes to the mapper and the record is
// discarded once mapped.
type Record map[string]any

// Column describes one normalized source column.
type Column struct {
	Name string
	Kind schema.Kind
}

// Iterator is the teacher-standard cursor shape over records.
type Iterator interface {
	Next() bool
	Value() Record
	Err() error
	Close() error
}

// Source opens a finite logical dataset. Open may be called again to
// restart the stream from the beginning.
type Source interface {
	// Open normalizes column metadata and returns a fresh iterator.
	Open(ctx context.Context) (Iterator, []Column, error)
}

// UnsupportedColumnTypeError reports a source column whose declared type
// has no scalar mapping. Raised at Open, never mid-stream.
type UnsupportedColumnTypeError struct {
	Column string
	Type   string
}

func (e *UnsupportedColumnTypeError) Error() string {
	return fmt.Sprintf("unsupported column type %s for column %q", e.Type, e.Column)
}

// sliceIterator walks an in-memory record slice. Backing store for the
// mock source and for tests.
type sliceIterator struct {
	records []Record
	idx     int
	err     error
}

func (it *sliceIterator) Next() bool {
	if it.err != nil || it.idx >= len(it.records) {
		return false
	}
	it.idx++
	return true
}

func (it *sliceIterator) Value() Record {
	if it.idx == 0 || it.idx > len(it.records) {
		return nil
	}
	return it.records[it.idx-1]
}

func (it *sliceIterator) Err() error   { return it.err }
func (it *sliceIterator) Close() error { return nil }

// SliceSource serves fixed records; used by tests and smoke runs.
type SliceSource struct {
	Cols    []Column
	Records []Record
}

func (s *SliceSource) Open(ctx context.Context) (Iterator, []Column, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return &sliceIterator{records: s.Records}, s.Cols, nil
}
