// Package config provides run configuration for the XML transform.
// Flags win over environment variables; environment variables carry the
// deployment-level defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/transport"
)

// Config holds one transformation run's settings.
type Config struct {
	// Core inputs and outputs
	SchemaPath  string
	OutputPath  string
	InputFolder string
	MappingPath string

	// Object storage endpoints; empty means local only
	S3Input  string
	S3Output string

	// Row source selection
	Mock         bool
	MockRecords  int
	PgConnString string
	PgTable      string

	// Behavior toggles
	Strict         bool
	ValidateOutput bool
	Stream         bool
	Progress       bool
	ZipPassword    string

	// Chunk sizing bounds for the memory monitor
	MinChunk     int
	MaxChunk     int
	InitialChunk int

	S3 transport.Config
}

// FromEnv builds the environment-level defaults. Flag parsing in the
// command layers on top of this.
func FromEnv() *Config {
	return &Config{
		SchemaPath:   getEnv("SCHEMA", ""),
		OutputPath:   getEnv("OUTPUT_PATH", ""),
		InputFolder:  getEnv("INPUT_FOLDER", ""),
		MappingPath:  getEnv("MAPPING_PATH", ""),
		S3Input:      getEnv("S3_INPUT", ""),
		S3Output:     getEnv("S3_OUTPUT", ""),
		Mock:         getEnvBool("MOCK", false),
		MockRecords:  getEnvInt("MOCK_RECORDS", 100),
		PgConnString: getEnv("PG_CONN_STRING", ""),
		PgTable:      getEnv("PG_TABLE", ""),
		ZipPassword:  getEnv("ZIP_PASSWORD", ""),
		MinChunk:     getEnvInt("MIN_CHUNK", 1),
		MaxChunk:     getEnvInt("MAX_CHUNK", 0),
		InitialChunk: getEnvInt("CHUNK_SIZE", 25000),
		S3: transport.Config{
			EndpointURL:     getEnv("S3_ENDPOINT_URL", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			UseSSL:          getEnvBool("S3_USE_SSL", true),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			MaxRetries:      getEnvInt("S3_MAX_RETRIES", 3),
			RetryBackoff:    time.Duration(getEnvInt("S3_RETRY_BACKOFF_SECS", 2)) * time.Second,
		},
	}
}

// Validate checks that the settings describe a runnable job.
func (c *Config) Validate() error {
	if c.SchemaPath == "" {
		return fmt.Errorf("a schema path is required")
	}
	if c.OutputPath == "" {
		return fmt.Errorf("an output path is required")
	}
	sources := 0
	if c.InputFolder != "" {
		sources++
	}
	if c.S3Input != "" {
		sources++
	}
	if c.Mock {
		sources++
	}
	if c.PgConnString != "" {
		sources++
	}
	if sources == 0 {
		return fmt.Errorf("no input: provide an input folder, an S3 input, a postgres source, or enable mock mode")
	}
	if sources > 1 {
		return fmt.Errorf("inputs are mutually exclusive: pick one of input folder, S3 input, postgres, mock")
	}
	if c.PgConnString != "" && c.PgTable == "" {
		return fmt.Errorf("a postgres source needs a table name")
	}
	if c.Mock && c.MockRecords < 1 {
		return fmt.Errorf("mock record count must be at least 1")
	}
	if c.Stream && c.ValidateOutput {
		return fmt.Errorf("streaming output cannot be validated before writing; drop one of the two")
	}
	if c.Stream && c.ZipPassword != "" {
		return fmt.Errorf("streaming output cannot be zip-encrypted; the archive needs the whole document")
	}
	if c.S3Input != "" {
		if _, _, err := transport.ParseURI(c.S3Input); err != nil {
			return err
		}
	}
	if c.S3Output != "" {
		if _, _, err := transport.ParseURI(c.S3Output); err != nil {
			return err
		}
	}
	if (c.S3Input != "" || c.S3Output != "") && c.S3.EndpointURL == "" {
		return fmt.Errorf("S3_ENDPOINT_URL is required when S3 input or output is set")
	}
	if c.MinChunk < 1 {
		return fmt.Errorf("minimum chunk size must be at least 1")
	}
	if c.MaxChunk != 0 && c.MaxChunk < c.MinChunk {
		return fmt.Errorf("maximum chunk size %d is below the minimum %d", c.MaxChunk, c.MinChunk)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
