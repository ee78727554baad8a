/*
Package log provides structured logging for the storage service using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("engine")                  │          │
	│  │  - WithComponent("api")                     │          │
	│  │  - WithJobID("a1b2c3d4e5f6")                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │  JSON:                                      │          │
	│  │  {"level":"info","component":"engine",      │          │
	│  │   "job_id":"a1b2c3d4e5f6",                  │          │
	│  │   "message":"download complete"}            │          │
	│  │  Console:                                   │          │
	│  │  10:30AM INF download complete              │          │
	│  │          component=engine job_id=a1b2c3d4   │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

Initializing the logger:

	import "github.com/open-workshop/storage/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Simple logging:

	log.Info("storage service starting")
	log.Warn("transfer JWT secret is not configured")
	log.Fatal("archiver binary not found") // Exits process

Structured logging:

	log.Logger.Info().
		Str("job_id", jobID).
		Int64("bytes", written).
		Msg("download progress")

Component loggers:

	engineLog := log.WithComponent("engine")
	engineLog.Info().Str("job_id", jobID).Msg("repack started")

	jobLog := log.WithComponent("engine").
		With().Str("job_id", jobID).Logger()
	jobLog.Error().Err(err).Msg("extraction failed")

# Integration Points

This package integrates with:

  - pkg/engine: job lifecycle and transfer progress logs
  - pkg/api: request access logs and error logs
  - pkg/archive: archiver subprocess diagnostics
  - pkg/registry: meta.json persistence warnings
  - pkg/client: manager callback delivery results

# Best Practices

Do:
  - Use Info level for production
  - Create component-specific loggers
  - Log errors with .Err() and job context with job_id
  - Keep progress logging throttled (the engine logs every 10% or 50 MiB)

Don't:
  - Log token or secret values (log presence, never content)
  - Log every copied chunk (use the engine's progress thresholds)
  - Concatenate strings (use .Str, .Int64)
*/
package log
