// Package config provides unified configuration for the tessera engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode represents the service mode to run.
type Mode string

const (
	ModeAll     Mode = "all"
	ModeMerge   Mode = "merge"
	ModeInspect Mode = "inspect"
)

// Config holds the engine configuration.
type Config struct {
	// Mode specifies which services to run: all, merge, inspect
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Ingest write path configuration
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`

	// Merge daemon configuration
	Merge MergeConfig `json:"merge" yaml:"merge"`

	// Granule index configuration
	Granule GranuleConfig `json:"granule" yaml:"granule"`

	// Cold-tier storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// IngestConfig holds write-ahead log and flusher configuration.
type IngestConfig struct {
	// WALDir is the directory for write-ahead log segments
	WALDir string `json:"wal_dir" yaml:"wal_dir"`

	// FlushInterval is the interval between WAL flush cycles
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`

	// MaxSegmentSize is the WAL segment rotation threshold in bytes
	MaxSegmentSize int64 `json:"max_segment_size" yaml:"max_segment_size"`
}

// MergeConfig holds merge daemon configuration.
type MergeConfig struct {
	// ChunkDir is the directory for published chunks
	ChunkDir string `json:"chunk_dir" yaml:"chunk_dir"`

	// CheckInterval is the interval between merge candidate scans
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`

	// MaxChunksPerTable is the live-chunk budget before a full merge
	MaxChunksPerTable int64 `json:"max_chunks_per_table" yaml:"max_chunks_per_table"`

	// SmallChunkRows is the row threshold for small-chunk merges
	SmallChunkRows int64 `json:"small_chunk_rows" yaml:"small_chunk_rows"`

	// RetireGrace is how long retired chunks stay readable before GC
	RetireGrace time.Duration `json:"retire_grace" yaml:"retire_grace"`
}

// GranuleConfig holds granule index configuration.
type GranuleConfig struct {
	// Size is the number of rows per granule
	Size int `json:"size" yaml:"size"`
}

// StorageConfig holds cold-tier storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// WorkDir is the staging directory for archive operations
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/tessera",
		Ingest: IngestConfig{
			FlushInterval:  5 * time.Second,
			MaxSegmentSize: 64 << 20,
		},
		Merge: MergeConfig{
			CheckInterval:     time.Minute,
			MaxChunksPerTable: 16,
			SmallChunkRows:    64 * 1024,
			RetireGrace:       time.Hour,
		},
		Granule: GranuleConfig{
			Size: 8192,
		},
		Storage: StorageConfig{
			Type: "local",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/tessera"
	}
	if c.Merge.ChunkDir == "" {
		c.Merge.ChunkDir = filepath.Join(c.DataDir, "chunks")
	}
	if c.Ingest.WALDir == "" {
		c.Ingest.WALDir = filepath.Join(c.DataDir, "wal")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "archive")
	}
	if c.Storage.WorkDir == "" {
		c.Storage.WorkDir = filepath.Join(c.DataDir, "staging")
	}
}

// CatalogPath returns the path to the catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeMerge, ModeInspect:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be all, merge, or inspect)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Granule.Size < 0 {
		return fmt.Errorf("granule.size must be non-negative, got %d", c.Granule.Size)
	}
	if c.Merge.CheckInterval <= 0 {
		return fmt.Errorf("merge.check_interval must be positive")
	}
	if c.Ingest.FlushInterval <= 0 {
		return fmt.Errorf("ingest.flush_interval must be positive")
	}
	if c.Ingest.MaxSegmentSize <= 0 {
		return fmt.Errorf("ingest.max_segment_size must be positive")
	}

	return nil
}

// ShouldRunMerge returns true if the merge daemon should run.
func (c *Config) ShouldRunMerge() bool {
	return c.Mode == ModeAll || c.Mode == ModeMerge
}

// Load builds the configuration from defaults, an optional config file,
// and environment overrides, in that order. A .env file in the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	LoadFromEnv(cfg)
	cfg.Resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables. Variables
// use the TESSERA_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TESSERA_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("TESSERA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("TESSERA_INGEST_WAL_DIR"); v != "" {
		cfg.Ingest.WALDir = v
	}
	if v := os.Getenv("TESSERA_INGEST_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.FlushInterval = d
		}
	}
	if v := os.Getenv("TESSERA_INGEST_MAX_SEGMENT_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ingest.MaxSegmentSize = n
		}
	}

	if v := os.Getenv("TESSERA_MERGE_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Merge.CheckInterval = d
		}
	}
	if v := os.Getenv("TESSERA_MERGE_MAX_CHUNKS_PER_TABLE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Merge.MaxChunksPerTable = n
		}
	}
	if v := os.Getenv("TESSERA_MERGE_SMALL_CHUNK_ROWS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Merge.SmallChunkRows = n
		}
	}
	if v := os.Getenv("TESSERA_MERGE_RETIRE_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Merge.RetireGrace = d
		}
	}

	if v := os.Getenv("TESSERA_GRANULE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Granule.Size = n
		}
	}

	if v := os.Getenv("TESSERA_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("TESSERA_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("TESSERA_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("TESSERA_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("TESSERA_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("TESSERA_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}
}
