// Package logging provides structured logging for the broker.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Stderr output, plus an optional JSON log file
//   - Automatic context field injection (run.id, project, stage)
//   - Secret redaction by field name and value pattern
//   - Optional per-level sampling (errors never sampled)
//
// Standard output is reserved for command results and for the external
// tools, which inherit it.
//
// # Usage
//
//	cfg, err := logging.FromAppConfig(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg)
//	defer logger.Close()
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithProject(ctx, location, name)
//	ctx = logging.WithStage(ctx, "compile")
//	logger.Info(ctx, "stage started")
//
// Output includes correlation fields:
//
//	{"level":"info","ts":"2026-03-02T10:15:30Z","msg":"stage started",
//	 "service":"nocbroker","run.id":"5f0c...","project.name":"mesh4x4",
//	 "project.location":"/work/noc","stage":"compile"}
//
// # Secret Redaction
//
// Database passwords are redacted at three layers:
//  1. Domain primitives (config.Secret type)
//  2. Encoder-level field name filtering (password, db_password, ...)
//  3. Encoder-level pattern scrubbing of messages and string fields
//
// # Testing
//
// Use TestLogger for assertions:
//
//	tl := logging.NewTestLogger()
//	ctx := logging.WithLogger(ctx, tl.Logger)
//	tl.AssertLogged(t, zapcore.InfoLevel, "stage started")
//	tl.AssertNoSecrets(t, "hunter2")
package logging
