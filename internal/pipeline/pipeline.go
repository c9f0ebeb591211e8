// Package pipeline runs one transformation end to end: stream records in
// chunks, map them onto the schema, assemble the document and land it.
// Chunk sizing follows the memory monitor but never changes the output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/sync/errgroup"

	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/assembler"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/config"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/mapper"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/memmon"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/progress"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/rowsource"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/schema"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/sink"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/validator"
)

// OpenError wraps failures opening or reading the row source.
type OpenError struct {
	Err error
}

func (e *OpenError) Error() string { return fmt.Sprintf("open input: %v", e.Err) }
func (e *OpenError) Unwrap() error { return e.Err }

// WriteError wraps failures materializing the output.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write output: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Options configures one run.
type Options struct {
	Model  *schema.Model
	Source rowsource.Source

	// Mapping optionally renames source columns before mapping.
	Mapping *config.Mapping
	Strict  bool

	ValidateOutput bool
	Stream         bool

	OutputPath  string
	ZipPassword string

	Monitor  *memmon.Monitor
	Log      *slog.Logger
	Progress bool
}

// Report summarizes a completed run.
type Report struct {
	Records    int64
	Skipped    int64
	Warnings   int64
	Violations []validator.Violation
	Duration   time.Duration
}

// Run executes the pipeline. A non-nil error means no output was left at
// the final path.
func Run(ctx context.Context, opts Options) (*Report, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = memmon.New(memmon.Config{})
	}

	it, cols, err := opts.Source.Open(ctx)
	if err != nil {
		return nil, &OpenError{Err: err}
	}
	defer it.Close()
	log.Info("input opened", slog.Int("columns", len(cols)))

	recDef, _ := opts.Model.RecordDef()
	sep := ""
	if opts.Mapping != nil {
		sep = opts.Mapping.ListSeparator
	}
	mpr := &mapper.Mapper{Strict: opts.Strict, ListSeparator: sep}
	reporter := progress.New(log, 0, opts.Progress)

	var asm *assembler.Assembler
	var stream *assembler.StreamAssembler
	var out *sink.AtomicFile
	if opts.Stream {
		out, err = sink.NewAtomicFile(opts.OutputPath)
		if err != nil {
			return nil, &WriteError{Err: err}
		}
		defer out.Abort()
		stream, err = assembler.BeginStream(opts.Model, out)
		if err != nil {
			return nil, &WriteError{Err: err}
		}
	} else {
		asm = assembler.Begin(opts.Model)
	}

	// Read ahead while the current chunk is being mapped. abort unblocks
	// the reader before waiting on it in error paths.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	records := make(chan rowsource.Record, monitor.Config().InitialChunk)
	g, gctx := errgroup.WithContext(ctx)
	abort := func() {
		cancel()
		g.Wait()
	}
	g.Go(func() error {
		defer close(records)
		for it.Next() {
			select {
			case records <- it.Value():
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return it.Err()
	})

	report := &Report{}
	chunkSize := monitor.Config().InitialChunk
	var index int64
	for {
		if err := ctx.Err(); err != nil {
			abort()
			return nil, err
		}

		chunk := takeChunk(records, chunkSize)
		if len(chunk) == 0 {
			break
		}

		mapped := make([]*etree.Element, 0, len(chunk))
		for _, rec := range chunk {
			rec = opts.Mapping.Apply(rec)
			el, mapErr := mpr.Map(rec, recDef, index)
			index++
			if mapErr != nil {
				var me *mapper.MismatchError
				if errors.As(mapErr, &me) && !opts.Strict {
					report.Skipped++
					reporter.Skip(1)
					log.Warn("record skipped", slog.Int64("record", me.RecordIndex), slog.String("field", me.Field), slog.String("reason", me.Reason))
					continue
				}
				abort()
				return nil, mapErr
			}
			mapped = append(mapped, el)
			report.Records++
		}

		if stream != nil {
			if err := stream.AppendChunk(mapped); err != nil {
				abort()
				return nil, &WriteError{Err: err}
			}
		} else {
			if err := asm.AppendChunk(mapped); err != nil {
				abort()
				return nil, err
			}
		}
		reporter.Advance(int64(len(chunk)))

		if stats, sampleErr := monitor.Sample(); sampleErr == nil {
			next, warn := monitor.Recommend(chunkSize, stats)
			if warn {
				report.Warnings++
				log.Warn("memory pressure with chunk size at minimum",
					slog.Int("chunk_size", chunkSize),
					slog.Float64("headroom", stats.Headroom()))
			}
			if next != chunkSize {
				log.Debug("chunk size adjusted", slog.Int("from", chunkSize), slog.Int("to", next))
				chunkSize = next
			}
		}
	}

	if err := g.Wait(); err != nil {
		return nil, &OpenError{Err: err}
	}

	if stream != nil {
		if err := stream.Close(); err != nil {
			return nil, &WriteError{Err: err}
		}
		if err := out.Commit(); err != nil {
			return nil, &WriteError{Err: err}
		}
	} else {
		doc, err := asm.Finalize()
		if err != nil {
			return nil, err
		}
		if opts.ValidateOutput {
			res := validator.Validate(doc, opts.Model)
			report.Violations = res.Violations
			for _, v := range res.Violations {
				log.Warn("schema violation", slog.String("path", v.Path), slog.String("message", v.Message))
			}
		}
		data, err := sink.Serialize(doc)
		if err != nil {
			return nil, &WriteError{Err: err}
		}
		if opts.ZipPassword != "" {
			data, err = sink.Encrypt(data, entryName(opts.OutputPath), opts.ZipPassword)
			if err != nil {
				return nil, &WriteError{Err: err}
			}
		}
		if err := sink.WriteFileAtomic(opts.OutputPath, data); err != nil {
			return nil, &WriteError{Err: err}
		}
	}

	_, _, elapsed := reporter.Done()
	report.Duration = elapsed
	return report, nil
}

// takeChunk drains up to n records, blocking for the first one.
func takeChunk(records <-chan rowsource.Record, n int) []rowsource.Record {
	first, ok := <-records
	if !ok {
		return nil
	}
	chunk := make([]rowsource.Record, 1, n)
	chunk[0] = first
	for len(chunk) < n {
		rec, ok := <-records
		if !ok {
			break
		}
		chunk = append(chunk, rec)
	}
	return chunk
}

// entryName names the archive entry after the output file, swapping a
// .zip suffix back to .xml.
func entryName(outputPath string) string {
	base := filepath.Base(outputPath)
	if strings.HasSuffix(base, ".zip") {
		return strings.TrimSuffix(base, ".zip") + ".xml"
	}
	return base
}
