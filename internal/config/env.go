package config

import (
	"os"
	"strconv"
)

// FromEnv overlays ARCHIVE_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("ARCHIVE_DIR"); v != "" {
		cfg.ArchiveDir = v
	}
	if v := os.Getenv("ARCHIVE_SEGMENT_FILE_LENGTH"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.SegmentFileLength = n
		}
	}
	if v := os.Getenv("ARCHIVE_SEGMENT_SYNC"); v != "" {
		cfg.SegmentSync = v
	}
	if v := os.Getenv("ARCHIVE_SEGMENT_SYNC_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.SegmentSyncBytes = n
		}
	}
	if v := os.Getenv("ARCHIVE_CATALOG_FSYNC"); v != "" {
		cfg.CatalogFsync = v
	}
	if v := os.Getenv("ARCHIVE_CATALOG_FSYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.CatalogFsyncIntervalMs = n
		}
	}
	if v := os.Getenv("ARCHIVE_CONTROL_CHANNEL"); v != "" {
		cfg.ControlChannel = v
	}
	if v := os.Getenv("ARCHIVE_CONTROL_STREAM_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.ControlStreamID = int32(n)
		}
	}
	if v := os.Getenv("ARCHIVE_EVENTS_CHANNEL"); v != "" {
		cfg.EventsChannel = v
	}
	if v := os.Getenv("ARCHIVE_EVENTS_STREAM_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.EventsStreamID = int32(n)
		}
	}
	if v := os.Getenv("ARCHIVE_REPLAY_LINGER_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ReplayLingerTimeoutMs = n
		}
	}
	if v := os.Getenv("ARCHIVE_PROGRESS_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ProgressIntervalMs = n
		}
	}
	if v := os.Getenv("ARCHIVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ARCHIVE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
