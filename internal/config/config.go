package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Alfaiis/aeron/internal/position"
	"github.com/Alfaiis/aeron/internal/segment"
	pebblestore "github.com/Alfaiis/aeron/internal/storage/pebble"
)

// Config is the top-level archiver configuration loaded from file/env.
type Config struct {
	// ArchiveDir is the root directory holding segment files and the
	// catalog database.
	ArchiveDir string `json:"archiveDir"`

	// SegmentFileLength is the fixed segment file length for new
	// recordings. Power of two, multiple of each recording's term length.
	SegmentFileLength int64 `json:"segmentFileLength"`
	// SegmentSync selects segment durability: "never", "always" or
	// "interval".
	SegmentSync string `json:"segmentSync"`
	// SegmentSyncBytes applies when SegmentSync is "interval".
	SegmentSyncBytes int64 `json:"segmentSyncBytes"`

	// CatalogFsync selects catalog durability: "always", "interval" or
	// "never".
	CatalogFsync string `json:"catalogFsync"`
	// CatalogFsyncIntervalMs applies when CatalogFsync is "interval".
	CatalogFsyncIntervalMs int64 `json:"catalogFsyncIntervalMs"`

	// Control-plane stream endpoints.
	ControlChannel  string `json:"controlChannel"`
	ControlStreamID int32  `json:"controlStreamId"`
	EventsChannel   string `json:"eventsChannel"`
	EventsStreamID  int32  `json:"eventsStreamId"`

	// ReplayLingerTimeoutMs aborts a replay making no progress for this
	// long. Zero parks forever.
	ReplayLingerTimeoutMs int64 `json:"replayLingerTimeoutMs"`
	// ProgressIntervalMs is the cadence of catalog checkpoints and progress
	// events for active recordings.
	ProgressIntervalMs int64 `json:"progressIntervalMs"`

	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		ArchiveDir:             DefaultDataDir(),
		SegmentFileLength:      128 * 1024 * 1024,
		SegmentSync:            "never",
		SegmentSyncBytes:       1 << 20,
		CatalogFsync:           "always",
		CatalogFsyncIntervalMs: 100,
		ControlChannel:         "mem:control",
		ControlStreamID:        10,
		EventsChannel:          "mem:events",
		EventsStreamID:         11,
		ReplayLingerTimeoutMs:  0,
		ProgressIntervalMs:     100,
		LogLevel:               "info",
		LogFormat:              "text",
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configured geometry and enumerations.
func (c Config) Validate() error {
	if c.ArchiveDir == "" {
		return fmt.Errorf("config: archiveDir is required")
	}
	if !position.IsPowerOfTwo(c.SegmentFileLength) {
		return fmt.Errorf("config: segmentFileLength %d is not a power of two", c.SegmentFileLength)
	}
	if _, err := c.SegmentSyncMode(); err != nil {
		return err
	}
	if _, err := c.CatalogFsyncMode(); err != nil {
		return err
	}
	if c.ProgressIntervalMs <= 0 {
		return fmt.Errorf("config: progressIntervalMs must be positive")
	}
	return nil
}

// SegmentSyncMode maps the configured segment durability string.
func (c Config) SegmentSyncMode() (segment.SyncMode, error) {
	switch c.SegmentSync {
	case "", "never":
		return segment.SyncModeNever, nil
	case "always":
		return segment.SyncModeAlways, nil
	case "interval":
		return segment.SyncModeInterval, nil
	default:
		return 0, fmt.Errorf("config: unknown segmentSync %q", c.SegmentSync)
	}
}

// CatalogFsyncMode maps the configured catalog durability string.
func (c Config) CatalogFsyncMode() (pebblestore.FsyncMode, error) {
	switch c.CatalogFsync {
	case "", "always":
		return pebblestore.FsyncModeAlways, nil
	case "interval":
		return pebblestore.FsyncModeInterval, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	default:
		return 0, fmt.Errorf("config: unknown catalogFsync %q", c.CatalogFsync)
	}
}

// ReplayLinger returns the replay linger timeout as a duration.
func (c Config) ReplayLinger() time.Duration {
	return time.Duration(c.ReplayLingerTimeoutMs) * time.Millisecond
}

// ProgressInterval returns the progress cadence as a duration.
func (c Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMs) * time.Millisecond
}
