// Package log provides the archiver's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context, backed by the standard library slog.
// Output format (text or JSON) and minimum level are chosen at construction:
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.FormatText),
//	)
//	l = l.With(log.Component("conductor"))
//	l.Info("recording started", log.I64("recording_id", id))
package log
