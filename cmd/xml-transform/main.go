// Command xml-transform converts a tabular dataset into a single
// schema-shaped XML document.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"

	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/config"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/mapper"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/memmon"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/pipeline"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/rowsource"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/schema"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/transport"
)

// Exit codes, stable for scripting around the tool.
const (
	exitOK        = 0
	exitUsage     = 1
	exitSchema    = 2
	exitInputOpen = 3
	exitMapping   = 4
	exitIO        = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	// Flag defaults come from the environment, so flags always win when
	// set. Long and short spellings share one destination.
	flag.StringVar(&cfg.SchemaPath, "schema", cfg.SchemaPath, "path to the XSD schema")
	flag.StringVar(&cfg.SchemaPath, "s", cfg.SchemaPath, "shorthand for -schema")
	flag.StringVar(&cfg.OutputPath, "output", cfg.OutputPath, "path of the XML document to write")
	flag.StringVar(&cfg.OutputPath, "o", cfg.OutputPath, "shorthand for -output")
	flag.StringVar(&cfg.InputFolder, "input", cfg.InputFolder, "folder of parquet files to transform")
	flag.StringVar(&cfg.InputFolder, "d", cfg.InputFolder, "shorthand for -input")
	flag.StringVar(&cfg.MappingPath, "mapping", cfg.MappingPath, "optional YAML column-to-element mapping file")
	flag.StringVar(&cfg.S3Input, "s3_input", cfg.S3Input, "s3://bucket/prefix to download inputs from")
	flag.StringVar(&cfg.S3Output, "s3_output", cfg.S3Output, "s3://bucket/key to upload the output to")
	flag.BoolVar(&cfg.Mock, "mock", cfg.Mock, "generate mock records instead of reading input")
	flag.BoolVar(&cfg.Mock, "m", cfg.Mock, "shorthand for -mock")
	flag.IntVar(&cfg.MockRecords, "mock_records", cfg.MockRecords, "number of mock records to generate")
	flag.StringVar(&cfg.PgConnString, "pg_source", cfg.PgConnString, "postgres connection string to read rows from")
	flag.StringVar(&cfg.PgTable, "pg_table", cfg.PgTable, "postgres table to read")
	flag.BoolVar(&cfg.Strict, "strict", cfg.Strict, "abort on records that do not fit the schema")
	flag.BoolVar(&cfg.ValidateOutput, "validate", cfg.ValidateOutput, "validate the document against the schema before writing")
	flag.BoolVar(&cfg.Stream, "stream", cfg.Stream, "serialize chunks straight to disk instead of building the full tree")
	flag.BoolVar(&cfg.Progress, "tqdm", cfg.Progress, "log throughput progress during the run")
	flag.BoolVar(&cfg.Progress, "t", cfg.Progress, "shorthand for -tqdm")
	flag.StringVar(&cfg.ZipPassword, "zip_password", cfg.ZipPassword, "wrap the output in an AES-encrypted zip with this passphrase")
	flag.IntVar(&cfg.MinChunk, "min_chunk", cfg.MinChunk, "smallest chunk size under memory pressure")
	flag.IntVar(&cfg.MaxChunk, "max_chunk", cfg.MaxChunk, "largest chunk size (0 means the initial size)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		flag.Usage()
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	model, err := schema.LoadFile(cfg.SchemaPath)
	if err != nil {
		log.Error("schema load failed", slog.String("schema", cfg.SchemaPath), slog.Any("error", err))
		return exitSchema
	}

	mapping, err := config.LoadMapping(cfg.MappingPath)
	if err != nil {
		log.Error("mapping load failed", slog.Any("error", err))
		return exitUsage
	}

	var store transport.ObjectStore
	if cfg.S3Input != "" || cfg.S3Output != "" {
		client, err := transport.NewS3Client(cfg.S3)
		if err != nil {
			log.Error("object storage client failed", slog.Any("error", err))
			return exitInputOpen
		}
		store = client
	}

	source, cleanup, err := buildSource(ctx, cfg, model, store, log)
	if err != nil {
		log.Error("input open failed", slog.Any("error", err))
		return exitInputOpen
	}
	defer cleanup()

	maxChunk := cfg.MaxChunk
	if maxChunk == 0 {
		maxChunk = cfg.InitialChunk
	}
	monitor := memmon.New(memmon.Config{
		MinChunk:     cfg.MinChunk,
		MaxChunk:     maxChunk,
		InitialChunk: cfg.InitialChunk,
	})

	report, err := pipeline.Run(ctx, pipeline.Options{
		Model:          model,
		Source:         source,
		Mapping:        mapping,
		Strict:         cfg.Strict,
		ValidateOutput: cfg.ValidateOutput,
		Stream:         cfg.Stream,
		OutputPath:     cfg.OutputPath,
		ZipPassword:    cfg.ZipPassword,
		Monitor:        monitor,
		Log:            log,
		Progress:       cfg.Progress,
	})
	if err != nil {
		return classifyRunError(log, err)
	}

	if cfg.S3Output != "" {
		bucket, key, _ := transport.ParseURI(cfg.S3Output)
		if key == "" || key[len(key)-1] == '/' {
			key = path.Join(key, filepath.Base(cfg.OutputPath))
		}
		if err := transport.UploadFile(ctx, store, bucket, key, cfg.OutputPath); err != nil {
			log.Error("upload failed", slog.String("destination", cfg.S3Output), slog.Any("error", err))
			return exitIO
		}
		log.Info("output uploaded", slog.String("bucket", bucket), slog.String("key", key))
	}

	log.Info("transform complete",
		slog.Int64("records", report.Records),
		slog.Int64("skipped", report.Skipped),
		slog.Int("violations", len(report.Violations)),
		slog.Duration("duration", report.Duration),
		slog.String("output", cfg.OutputPath),
	)
	return exitOK
}

// buildSource picks the row source the configuration asks for. The
// cleanup removes any staging directory created for S3 downloads.
func buildSource(ctx context.Context, cfg *config.Config, model *schema.Model, store transport.ObjectStore, log *slog.Logger) (rowsource.Source, func(), error) {
	noop := func() {}
	switch {
	case cfg.Mock:
		return &rowsource.MockSource{Model: model, Count: cfg.MockRecords}, noop, nil
	case cfg.PgConnString != "":
		return &rowsource.PostgresSource{ConnString: cfg.PgConnString, Table: cfg.PgTable}, noop, nil
	case cfg.S3Input != "":
		bucket, prefix, err := transport.ParseURI(cfg.S3Input)
		if err != nil {
			return nil, noop, err
		}
		staging, err := os.MkdirTemp("", "xml-transform-input-*")
		if err != nil {
			return nil, noop, err
		}
		cleanup := func() { os.RemoveAll(staging) }
		log.Info("downloading input", slog.String("bucket", bucket), slog.String("prefix", prefix))
		files, err := transport.DownloadPrefix(ctx, store, bucket, prefix, staging)
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		log.Info("input downloaded", slog.Int("files", len(files)))
		return &rowsource.ParquetSource{Paths: []string{staging}}, cleanup, nil
	default:
		return &rowsource.ParquetSource{Paths: []string{cfg.InputFolder}}, noop, nil
	}
}

func classifyRunError(log *slog.Logger, err error) int {
	var me *mapper.MismatchError
	var oe *pipeline.OpenError
	var we *pipeline.WriteError
	switch {
	case errors.As(err, &me):
		log.Error("mapping aborted", slog.Any("error", err))
		return exitMapping
	case errors.As(err, &oe):
		log.Error("input read failed", slog.Any("error", err))
		return exitInputOpen
	case errors.As(err, &we):
		log.Error("output write failed", slog.Any("error", err))
		return exitIO
	default:
		log.Error("transform failed", slog.Any("error", err))
		return exitIO
	}
}
