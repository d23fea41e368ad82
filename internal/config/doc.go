// Package config provides loading and environment overlay for archiver
// configuration. It exposes a Default() baseline and helpers mapping the
// durability enumerations onto the storage layers.
//
// Example:
//
//	cfg := config.Default()
//	// Optionally load from file and overlay env vars
//	if fileCfg, err := config.Load("/etc/archiver.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config
