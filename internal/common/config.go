package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Server       ServerConfig       `yaml:"server"`
	OCR          OCRConfig          `yaml:"ocr"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	Retrain      RetrainConfig      `yaml:"retrain"`
	Storage      StorageConfig      `yaml:"storage"`
	Backup       BackupConfig       `yaml:"backup"`
	Ingest       IngestConfig       `yaml:"ingest"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `yaml:"driver" validate:"oneof=postgres sqlite"`
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr       string        `yaml:"http_addr"`
	GRPCHealthAddr string        `yaml:"grpc_health_addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract     string `yaml:"tesseract"`
	Lang          string `yaml:"lang"`
	TessdataDir   string `yaml:"tessdata_dir"`
	HeicConverter string `yaml:"heic_converter"`
	PSM           int    `yaml:"psm"`
	OEM           int    `yaml:"oem"`
}

// OrchestratorConfig sizes the worker pool and its lease bookkeeping.
type OrchestratorConfig struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	ProcessTimeout  time.Duration `yaml:"process_timeout"`
	LeaseDuration   time.Duration `yaml:"lease_duration"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	MaxReclaims     int           `yaml:"max_reclaims"`
	RetentionHours  int           `yaml:"retention_hours"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
}

// ClassifierConfig holds embedding and training knobs.
type ClassifierConfig struct {
	EmbeddingDim        int     `yaml:"embedding_dim"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	Bootstrap           bool    `yaml:"bootstrap"`
	Iterations          int     `yaml:"iterations"`
	LearningRate        float64 `yaml:"learning_rate"`
	L2                  float64 `yaml:"l2"`
}

// RetrainConfig controls when and how retraining runs.
type RetrainConfig struct {
	Threshold    int     `yaml:"threshold"`
	MinSamples   int     `yaml:"min_samples"`
	TestFraction float64 `yaml:"test_fraction"`
	Seed         int64   `yaml:"seed"`
	Schedule     string  `yaml:"schedule"`
}

// StorageConfig selects the blob store for images, artifacts and backups.
type StorageConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=fs minio"`
	Dir       string `yaml:"dir"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type BackupConfig struct {
	Schedule string `yaml:"schedule"`
}

type IngestConfig struct {
	WatchDir string        `yaml:"watch_dir"`
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:       ":8080",
			GRPCHealthAddr: ":8081",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			MaxUploadBytes: 20 << 20,
		},
		OCR: OCRConfig{
			Tesseract:     "tesseract",
			Lang:          "vie+eng",
			HeicConverter: "magick",
			PSM:           6,
		},
		Orchestrator: OrchestratorConfig{
			Workers:         4,
			QueueSize:       256,
			ProcessTimeout:  3 * time.Minute,
			LeaseDuration:   2 * time.Minute,
			SweepInterval:   30 * time.Second,
			MaxReclaims:     3,
			RetentionHours:  168,
			CleanupSchedule: "0 3 * * *",
		},
		Classifier: ClassifierConfig{
			EmbeddingDim:        512,
			ConfidenceThreshold: 0.6,
			Bootstrap:           true,
			Iterations:          300,
			LearningRate:        0.5,
			L2:                  1e-4,
		},
		Retrain: RetrainConfig{
			Threshold:    50,
			MinSamples:   10,
			TestFraction: 0.2,
			Seed:         42,
		},
		Storage: StorageConfig{
			Backend: "fs",
			Dir:     "./data",
			Bucket:  "receipts",
		},
		Backup: BackupConfig{
			Schedule: "0 2 * * *",
		},
		Ingest: IngestConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return NewAppError("CONFIG_ERROR", "read config file", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("parse %s", path), err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCHealthAddr = getEnv("GRPC_HEALTH_ADDR", c.Server.GRPCHealthAddr)
	c.Server.ReadTimeout = getEnvAsDuration("HTTP_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsDuration("HTTP_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.MaxUploadBytes = int64(getEnvAsInt("MAX_UPLOAD_BYTES", int(c.Server.MaxUploadBytes)))

	c.OCR.Tesseract = getEnv("TESSERACT_BIN", c.OCR.Tesseract)
	c.OCR.Lang = getEnv("TESSERACT_LANG", c.OCR.Lang)
	c.OCR.TessdataDir = getEnv("TESSDATA_PREFIX", c.OCR.TessdataDir)
	c.OCR.HeicConverter = getEnv("HEIC_CONVERTER", c.OCR.HeicConverter)
	c.OCR.PSM = getEnvAsInt("TESSERACT_PSM", c.OCR.PSM)
	c.OCR.OEM = getEnvAsInt("TESSERACT_OEM", c.OCR.OEM)

	c.Orchestrator.Workers = getEnvAsInt("WORKERS", c.Orchestrator.Workers)
	c.Orchestrator.QueueSize = getEnvAsInt("QUEUE_SIZE", c.Orchestrator.QueueSize)
	c.Orchestrator.ProcessTimeout = getEnvAsDuration("PROCESS_TIMEOUT", c.Orchestrator.ProcessTimeout)
	c.Orchestrator.LeaseDuration = getEnvAsDuration("JOB_LEASE", c.Orchestrator.LeaseDuration)
	c.Orchestrator.SweepInterval = getEnvAsDuration("JOB_SWEEP_INTERVAL", c.Orchestrator.SweepInterval)
	c.Orchestrator.MaxReclaims = getEnvAsInt("JOB_MAX_RECLAIMS", c.Orchestrator.MaxReclaims)
	c.Orchestrator.RetentionHours = getEnvAsInt("JOB_RETENTION_HOURS", c.Orchestrator.RetentionHours)
	c.Orchestrator.CleanupSchedule = getEnv("JOB_CLEANUP_SCHEDULE", c.Orchestrator.CleanupSchedule)

	c.Classifier.EmbeddingDim = getEnvAsInt("EMBEDDING_DIM", c.Classifier.EmbeddingDim)
	c.Classifier.ConfidenceThreshold = getEnvAsFloat("CONFIDENCE_THRESHOLD", c.Classifier.ConfidenceThreshold)
	c.Classifier.Bootstrap = getEnvAsBool("CLASSIFIER_BOOTSTRAP", c.Classifier.Bootstrap)
	c.Classifier.Iterations = getEnvAsInt("TRAIN_ITERATIONS", c.Classifier.Iterations)
	c.Classifier.LearningRate = getEnvAsFloat("TRAIN_LEARNING_RATE", c.Classifier.LearningRate)
	c.Classifier.L2 = getEnvAsFloat("TRAIN_L2", c.Classifier.L2)

	c.Retrain.Threshold = getEnvAsInt("RETRAIN_THRESHOLD", c.Retrain.Threshold)
	c.Retrain.MinSamples = getEnvAsInt("RETRAIN_MIN_SAMPLES", c.Retrain.MinSamples)
	c.Retrain.TestFraction = getEnvAsFloat("RETRAIN_TEST_FRACTION", c.Retrain.TestFraction)
	c.Retrain.Seed = int64(getEnvAsInt("RETRAIN_SEED", int(c.Retrain.Seed)))
	c.Retrain.Schedule = getEnv("RETRAIN_SCHEDULE", c.Retrain.Schedule)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Dir = getEnv("STORAGE_DIR", c.Storage.Dir)
	c.Storage.Endpoint = getEnv("MINIO_ENDPOINT", c.Storage.Endpoint)
	c.Storage.Bucket = getEnv("MINIO_BUCKET", c.Storage.Bucket)
	c.Storage.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = getEnv("MINIO_SECRET_KEY", c.Storage.SecretKey)
	c.Storage.UseSSL = getEnvAsBool("MINIO_USE_SSL", c.Storage.UseSSL)

	c.Backup.Schedule = getEnv("BACKUP_SCHEDULE", c.Backup.Schedule)

	c.Ingest.WatchDir = getEnv("INGEST_WATCH_DIR", c.Ingest.WatchDir)
	c.Ingest.Debounce = getEnvAsDuration("INGEST_DEBOUNCE", c.Ingest.Debounce)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Orchestrator.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "WORKERS must be positive", ErrInvalidInput)
	}
	if c.Orchestrator.LeaseDuration <= 0 {
		return NewAppError("CONFIG_ERROR", "JOB_LEASE must be positive", ErrInvalidInput)
	}
	if c.Classifier.ConfidenceThreshold <= 0 || c.Classifier.ConfidenceThreshold >= 1 {
		return NewAppError("CONFIG_ERROR", "CONFIDENCE_THRESHOLD must be in (0,1)", ErrInvalidInput)
	}
	if c.Retrain.Threshold <= 0 {
		return NewAppError("CONFIG_ERROR", "RETRAIN_THRESHOLD must be positive", ErrInvalidInput)
	}
	if c.Retrain.TestFraction <= 0 || c.Retrain.TestFraction >= 1 {
		return NewAppError("CONFIG_ERROR", "RETRAIN_TEST_FRACTION must be in (0,1)", ErrInvalidInput)
	}
	if c.Storage.Backend == "minio" && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		return NewAppError("CONFIG_ERROR", "MINIO_ENDPOINT and MINIO_BUCKET are required for the minio backend", ErrInvalidInput)
	}
	if err := ValidateStruct(c); err != nil {
		return NewAppError("CONFIG_ERROR", err.Error(), ErrInvalidInput)
	}
	return nil
}
