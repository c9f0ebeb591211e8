package rowsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"

	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/schema"
)

const parquetBatchSize = 1024

// ParquetSource reads one or more parquet files as a single logical
// dataset, ordered by file enumeration order.
type ParquetSource struct {
	// Paths are files or directories; directories contribute their
	// *.parquet entries in sorted order.
	Paths []string
	// Concurrency is the parquet reader parallelism per file.
	Concurrency int64
}

func (s *ParquetSource) Open(ctx context.Context) (Iterator, []Column, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	files, err := enumerateParquet(s.Paths)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no parquet files under %v", s.Paths)
	}

	// Normalize and check column types across every file up front so a
	// bad declared type never surfaces mid-stream.
	var cols []Column
	nameMap := map[string]string{}
	for i, path := range files {
		fileCols, fileNames, err := parquetColumns(path, s.concurrency())
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			cols, nameMap = fileCols, fileNames
			continue
		}
		if !sameColumns(cols, fileCols) {
			return nil, nil, fmt.Errorf("parquet file %s disagrees with dataset schema", path)
		}
	}

	return &parquetIterator{
		files:       files,
		names:       nameMap,
		concurrency: s.concurrency(),
	}, cols, nil
}

func (s *ParquetSource) concurrency() int64 {
	if s.Concurrency <= 0 {
		return 2
	}
	return s.Concurrency
}

func enumerateParquet(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var inDir []string
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
				continue
			}
			inDir = append(inDir, filepath.Join(p, e.Name()))
		}
		sort.Strings(inDir)
		files = append(files, inDir...)
	}
	return files, nil
}

// parquetColumns reads the footer of one file and maps physical types to
// scalar kinds. Struct field names (InName) map back to the original
// column names (ExName) for record keys.
func parquetColumns(path string, np int64) ([]Column, map[string]string, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, nil, err
	}
	pr, err := reader.NewParquetReader(fr, nil, np)
	if err != nil {
		fr.Close()
		return nil, nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	defer func() {
		pr.ReadStop()
		fr.Close()
	}()

	elems := pr.Footer.Schema
	if len(elems) < 2 {
		return nil, nil, fmt.Errorf("parquet %s declares no columns", path)
	}
	var cols []Column
	for _, el := range elems[1:] {
		if el.GetNumChildren() > 0 || el.Type == nil {
			return nil, nil, &UnsupportedColumnTypeError{Column: el.Name, Type: "nested group"}
		}
		kind, err := parquetKind(el)
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, Column{Name: el.Name, Kind: kind})
	}

	names := map[string]string{}
	for _, tag := range pr.SchemaHandler.Infos[1:] {
		names[tag.InName] = tag.ExName
	}
	return cols, names, nil
}

func parquetKind(el *parquet.SchemaElement) (schema.Kind, error) {
	switch el.GetType() {
	case parquet.Type_BOOLEAN:
		return schema.KindBoolean, nil
	case parquet.Type_INT32, parquet.Type_INT64:
		return schema.KindInteger, nil
	case parquet.Type_FLOAT, parquet.Type_DOUBLE:
		return schema.KindFloat, nil
	case parquet.Type_BYTE_ARRAY:
		return schema.KindString, nil
	default:
		return 0, &UnsupportedColumnTypeError{Column: el.Name, Type: el.GetType().String()}
	}
}

func sameColumns(a, b []Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type parquetIterator struct {
	files       []string
	names       map[string]string
	concurrency int64

	fileIdx   int
	fr        source.ParquetFile
	pr        *reader.ParquetReader
	remaining int64

	batch    []Record
	batchIdx int
	err      error
}

func (it *parquetIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.batchIdx >= len(it.batch) {
		if !it.fillBatch() {
			return false
		}
	}
	it.batchIdx++
	return true
}

func (it *parquetIterator) Value() Record {
	if it.batchIdx == 0 || it.batchIdx > len(it.batch) {
		return nil
	}
	return it.batch[it.batchIdx-1]
}

func (it *parquetIterator) Err() error { return it.err }

func (it *parquetIterator) Close() error {
	it.closeCurrent()
	return nil
}

// fillBatch loads the next block of rows, advancing to the next file when
// the current one is drained. Returns false at end of dataset or error.
func (it *parquetIterator) fillBatch() bool {
	it.batch = nil
	it.batchIdx = 0

	for it.remaining == 0 {
		it.closeCurrent()
		if it.fileIdx >= len(it.files) {
			return false
		}
		if err := it.openFile(it.files[it.fileIdx]); err != nil {
			it.err = err
			return false
		}
		it.fileIdx++
	}

	n := int64(parquetBatchSize)
	if n > it.remaining {
		n = it.remaining
	}
	rows, err := it.pr.ReadByNumber(int(n))
	if err != nil {
		it.err = fmt.Errorf("read parquet rows: %w", err)
		return false
	}
	it.remaining -= int64(len(rows))
	if len(rows) == 0 {
		it.remaining = 0
		return it.fillBatch()
	}
	for _, row := range rows {
		it.batch = append(it.batch, structToRecord(row, it.names))
	}
	return true
}

func (it *parquetIterator) openFile(path string) error {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return err
	}
	pr, err := reader.NewParquetReader(fr, nil, it.concurrency)
	if err != nil {
		fr.Close()
		return fmt.Errorf("open parquet %s: %w", path, err)
	}
	it.fr, it.pr = fr, pr
	it.remaining = pr.GetNumRows()
	return nil
}

func (it *parquetIterator) closeCurrent() {
	if it.pr != nil {
		it.pr.ReadStop()
		it.pr = nil
	}
	if it.fr != nil {
		it.fr.Close()
		it.fr = nil
	}
}

// structToRecord flattens one reflected parquet row into a Record with
// original column names and typed scalars. Optional columns arrive as
// pointers; nil pointers become nil values.
func structToRecord(row any, names map[string]string) Record {
	rv := reflect.ValueOf(row)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	rt := rv.Type()
	rec := make(Record, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		name := rt.Field(i).Name
		if ex, ok := names[name]; ok {
			name = ex
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				rec[name] = nil
				continue
			}
			fv = fv.Elem()
		}
		switch fv.Kind() {
		case reflect.String:
			rec[name] = fv.String()
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
			rec[name] = fv.Int()
		case reflect.Float32, reflect.Float64:
			rec[name] = fv.Float()
		case reflect.Bool:
			rec[name] = fv.Bool()
		default:
			rec[name] = fmt.Sprintf("%v", fv.Interface())
		}
	}
	return rec
}
