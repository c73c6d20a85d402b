package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
)

// newCore builds the stderr and file sinks. The returned closer releases the
// log file, if any.
func newCore(cfg *Config, stderr io.Writer) (zapcore.Core, io.Closer, error) {
	cores := make([]zapcore.Core, 0, 2)
	var closer io.Closer = nopCloser{}

	encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create redacting encoder: %w", err)
	}

	if cfg.Output.Stderr {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(stderr), cfg.Level))
	}

	if cfg.Output.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Output.File), 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Output.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closer = f
		// File output is always JSON so it can be shipped as-is.
		fileEncoder, err := NewRedactingEncoder(newEncoder("json"), cfg.Redaction)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.Lock(f), cfg.Level))
	}

	if len(cores) == 0 {
		return nil, nil, fmt.Errorf("at least one output must be enabled")
	}

	var core zapcore.Core
	if len(cores) == 1 {
		core = cores[0]
	} else {
		core = zapcore.NewTee(cores...)
	}

	return newSampledCore(core, cfg.Sampling), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
