// Package config - service configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alwitt/stockpile/snapshot"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config stockpile service configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Store      StoreConfig      `yaml:"store"`
	WriteQueue WriteQueueConfig `yaml:"write-queue"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	API        APIConfig        `yaml:"api"`
	Log        LogConfig        `yaml:"log"`
}

// DatabaseConfig persistence settings
type DatabaseConfig struct {
	// Type database type: sqlite, postgres, or mysql
	Type string `yaml:"type" default:"sqlite" validate:"oneof=sqlite postgres mysql"`
	// DSN data source name; the database file path for sqlite
	DSN string `yaml:"dsn" default:"stockpile.db" validate:"required"`
	// MaxOpenConns maximum open connections. SQLite allows one writer, so it stays at 1
	// for sqlite.
	MaxOpenConns int `yaml:"max-open-conns" default:"1" validate:"gte=1"`
	// MaxIdleConns maximum idle connections
	MaxIdleConns int `yaml:"max-idle-conns" default:"1" validate:"gte=0"`
	// ConnMaxLifetime connection lifetime, e.g. 30m; empty means unlimited
	ConnMaxLifetime string `yaml:"conn-max-lifetime"`
	// SQLLogLevel GORM log level: silent, error, warn, or info
	SQLLogLevel string `yaml:"sql-log-level" default:"error" validate:"oneof=silent error warn info"`
}

// StoreConfig collection store settings
type StoreConfig struct {
	// RejectNoopUpdates fail updates which change nothing
	RejectNoopUpdates bool `yaml:"reject-noop-updates"`
	// HistoryWindow number of audit entries returned by unfiltered history queries
	HistoryWindow int `yaml:"history-window" default:"100" validate:"gte=1"`
}

// WriteQueueConfig per collection write serialization settings
type WriteQueueConfig struct {
	// Capacity queued writes per collection
	Capacity int `yaml:"capacity" default:"100" validate:"gte=1"`
	// Timeout how long a write waits to start, e.g. 30s
	Timeout string `yaml:"timeout" default:"30s"`
	// IdleTime idle queues are stopped after this long, e.g. 10m
	IdleTime string `yaml:"idle-time" default:"10m"`
}

// S3Config S3 export sink settings
type S3Config struct {
	Region          string `yaml:"region" default:"us-east-1"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access-key-id"`
	SecretAccessKey string `yaml:"secret-access-key"`
}

// SnapshotConfig snapshot settings
type SnapshotConfig struct {
	// MaxSnapshots retention limit
	MaxSnapshots int `yaml:"max-snapshots" default:"10" validate:"gte=1"`
	// AuditPolicy audit log handling on restore and import: preserve or replace
	AuditPolicy string `yaml:"audit-policy" default:"preserve" validate:"oneof=preserve replace"`
	// Schedule cron expression, or daily / weekly / monthly; empty disables scheduling
	Schedule string `yaml:"schedule"`
	// ExportDir local directory new snapshots are mirrored to; empty disables it
	ExportDir string `yaml:"export-dir"`
	// S3 bucket new snapshots are mirrored to; an empty bucket disables it
	S3 S3Config `yaml:"s3"`
}

// APIConfig HTTP surface settings
type APIConfig struct {
	// ListenAddress listen address
	ListenAddress string `yaml:"listen-address" default:":8080" validate:"required"`
	// ReadTimeout request read timeout, e.g. 60s
	ReadTimeout string `yaml:"read-timeout" default:"60s"`
	// WriteTimeout response write timeout, e.g. 60s
	WriteTimeout string `yaml:"write-timeout" default:"60s"`
	// SubscriberBuffer change events buffered per websocket observer
	SubscriberBuffer int `yaml:"subscriber-buffer" default:"64" validate:"gte=1"`
	// MaxImportSize largest accepted import body in bytes
	MaxImportSize int64 `yaml:"max-import-size" default:"67108864" validate:"gte=1"`
}

// LogConfig logging settings
type LogConfig struct {
	// Level log level: debug, info, warn, or error
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	// JSON emit JSON log lines instead of text
	JSON bool `yaml:"json"`
}

/*
Default configuration with every default applied

	@returns the configuration
*/
func Default() (*Config, error) {
	c := new(Config)
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults [%w]", err)
	}
	return c, nil
}

/*
Load read the configuration from a YAML file. A missing file yields the defaults.

	@param path string - config file path; empty yields the defaults
	@returns the configuration
*/
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s [%w]", path, err)
		default:
			if err := yaml.Unmarshal(content, c); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s [%w]", path, err)
			}
			// Fill fields present in the file but left empty
			if err := defaults.Set(c); err != nil {
				return nil, fmt.Errorf("failed to apply config defaults [%w]", err)
			}
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate check the configuration for errors
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config is not valid [%w]", err)
	}
	durations := map[string]string{
		"database.conn-max-lifetime": c.Database.ConnMaxLifetime,
		"write-queue.timeout":        c.WriteQueue.Timeout,
		"write-queue.idle-time":      c.WriteQueue.IdleTime,
		"api.read-timeout":           c.API.ReadTimeout,
		"api.write-timeout":          c.API.WriteTimeout,
	}
	for key, value := range durations {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("config %s is not valid [%w]", key, err)
		}
	}
	if c.Snapshot.Schedule != "" {
		if _, err := snapshot.ParseSchedule(c.Snapshot.Schedule); err != nil {
			return fmt.Errorf("config snapshot.schedule is not valid [%w]", err)
		}
	}
	return nil
}

// parseDuration empty is zero
func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

// Duration parse a duration setting already checked by Validate
func Duration(value string) time.Duration {
	parsed, _ := parseDuration(value)
	return parsed
}
