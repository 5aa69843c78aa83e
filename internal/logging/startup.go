package logging

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// StartupLogger collects the effective configuration of a command and emits it as a
// single structured event, so every run in the log file starts with how it was
// configured.
type StartupLogger struct {
	command string
	version string
	runID   string

	paths    map[string]string
	settings map[string]string
	features map[string]bool
	start    time.Time
}

func NewStartupLogger(command string) *StartupLogger {
	return &StartupLogger{
		command:  command,
		paths:    make(map[string]string),
		settings: make(map[string]string),
		features: make(map[string]bool),
		start:    time.Now(),
	}
}

func (s *StartupLogger) Version(v string) *StartupLogger {
	s.version = v
	return s
}

func (s *StartupLogger) RunID(id string) *StartupLogger {
	s.runID = id
	return s
}

// Path registers a file or directory used by the command.
func (s *StartupLogger) Path(label, path string) *StartupLogger {
	s.paths[label] = path
	return s
}

// Setting registers a non-sensitive configuration value. Never pass the API key.
func (s *StartupLogger) Setting(key, value string) *StartupLogger {
	s.settings[key] = value
	return s
}

func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Log emits the startup event on logger.
func (s *StartupLogger) Log(logger zerolog.Logger) {
	evt := logger.Info().
		Str("command", s.command).
		Str("version", s.version).
		Str("go", runtime.Version())
	if s.runID != "" {
		evt = evt.Str("run_id", s.runID)
	}
	if len(s.paths) > 0 {
		evt = evt.Dict("paths", dictFromMap(s.paths))
	}
	if len(s.settings) > 0 {
		evt = evt.Dict("settings", dictFromMap(s.settings))
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}
	evt.Dur("init_duration", time.Since(s.start)).Msg("startup")
}

func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
