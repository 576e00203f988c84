package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// File mirrors the .concur.yaml document. Pointer fields distinguish an
// explicit false or zero from an absent key.
type File struct {
	Stream      *bool             `yaml:"stream"`
	Interactive *bool             `yaml:"interactive"`
	FailFast    *bool             `yaml:"fail_fast"`
	Verbose     *bool             `yaml:"verbose"`
	Timer       *bool             `yaml:"timer"`
	Tail        *int              `yaml:"tail"`
	Interval    Duration          `yaml:"interval"`
	Prefix      string            `yaml:"prefix"`
	Commands    []string          `yaml:"commands"`
	Env         map[string]string `yaml:"env"`
	EnvFile     string            `yaml:"env_file"`
	LogFile     string            `yaml:"log_file"`
	MetricsFile string            `yaml:"metrics_file"`

	// Path is the absolute location the document was loaded from.
	Path string `yaml:"-"`
}

// Settings is the effective configuration of one run after defaults, the
// config file, CONCUR_* variables and flags have been layered.
type Settings struct {
	Stream      bool
	Interactive bool
	FailFast    bool
	Verbose     bool
	Timer       bool
	Debug       bool

	// Zero values select the renderer defaults.
	Tail     int
	Interval time.Duration
	Prefix   string

	Commands    []string
	Env         map[string]string
	LogFile     string
	MetricsFile string

	// Source is the config file that contributed, if any.
	Source string
}

// Defaults returns the settings used when nothing else is configured.
func Defaults() Settings {
	return Settings{
		Stream:      true,
		Interactive: true,
		Timer:       true,
	}
}

// ApplyFile layers doc over s.
func (s *Settings) ApplyFile(doc *File) {
	if doc == nil {
		return
	}
	s.Source = doc.Path
	setBool(&s.Stream, doc.Stream)
	setBool(&s.Interactive, doc.Interactive)
	setBool(&s.FailFast, doc.FailFast)
	setBool(&s.Verbose, doc.Verbose)
	setBool(&s.Timer, doc.Timer)
	if doc.Tail != nil {
		s.Tail = *doc.Tail
	}
	if doc.Interval.IsSet() {
		s.Interval = doc.Interval.Duration
	}
	if doc.Prefix != "" {
		s.Prefix = doc.Prefix
	}
	if len(doc.Commands) > 0 {
		s.Commands = append([]string(nil), doc.Commands...)
	}
	if len(doc.Env) > 0 {
		if s.Env == nil {
			s.Env = make(map[string]string, len(doc.Env))
		}
		for k, v := range doc.Env {
			s.Env[k] = v
		}
	}
	if doc.LogFile != "" {
		s.LogFile = doc.LogFile
	}
	if doc.MetricsFile != "" {
		s.MetricsFile = doc.MetricsFile
	}
}

// ApplyEnv layers CONCUR_* variables read through getenv over s. Values that
// do not parse are ignored.
func (s *Settings) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	envBool(getenv, "CONCUR_STREAM", &s.Stream)
	envBool(getenv, "CONCUR_INTERACTIVE", &s.Interactive)
	envBool(getenv, "CONCUR_FAIL_FAST", &s.FailFast)
	envBool(getenv, "CONCUR_VERBOSE", &s.Verbose)
	envBool(getenv, "CONCUR_TIMER", &s.Timer)
	envBool(getenv, "CONCUR_DEBUG", &s.Debug)
	if value := getenv("CONCUR_TAIL"); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.Tail = n
		}
	}
	if value := getenv("CONCUR_INTERVAL"); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			s.Interval = d
		}
	}
	if value := getenv("CONCUR_LOG_FILE"); value != "" {
		s.LogFile = value
	}
	if value := getenv("CONCUR_METRICS_FILE"); value != "" {
		s.MetricsFile = value
	}
}

// EnvList returns the group-wide overrides as sorted KEY=VALUE entries.
func (s Settings) EnvList() []string {
	if len(s.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func setBool(dst *bool, value *bool) {
	if value != nil {
		*dst = *value
	}
}

func envBool(getenv func(string) string, key string, dst *bool) {
	value := strings.TrimSpace(getenv(key))
	if value == "" {
		return
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		*dst = parsed
	}
}
