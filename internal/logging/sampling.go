package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core with per-level sampling. Levels without an
// entry in cfg.Levels, and Error and above, are never sampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	cores := make([]zapcore.Core, 0, len(cfg.Levels)+1)
	var sampled []zapcore.Level
	for lvl, rate := range cfg.Levels {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		sampled = append(sampled, lvl)
		only := &levelFilterCore{Core: core, levels: []zapcore.Level{lvl}}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick.Duration(), rate.Initial, rate.Thereafter))
	}

	cores = append(cores, &levelFilterCore{Core: core, exclude: sampled})
	return zapcore.NewTee(cores...)
}

// levelFilterCore passes only the listed levels, or every level not
// excluded when levels is empty.
type levelFilterCore struct {
	zapcore.Core
	levels  []zapcore.Level
	exclude []zapcore.Level
}

func contains(levels []zapcore.Level, lvl zapcore.Level) bool {
	for _, l := range levels {
		if l == lvl {
			return true
		}
	}
	return false
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	if len(c.levels) > 0 && !contains(c.levels, lvl) {
		return false
	}
	if contains(c.exclude, lvl) {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

// With creates a child core that preserves level filtering.
func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:    c.Core.With(fields),
		levels:  c.levels,
		exclude: c.exclude,
	}
}
