package config

import (
	"reflect"
	"testing"
	"time"
)

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Duration != 90*time.Second || !d.IsSet() {
		t.Fatalf("unexpected duration %+v", d)
	}

	var empty Duration
	if err := empty.UnmarshalText(nil); err != nil {
		t.Fatalf("unmarshal empty: %v", err)
	}
	if !empty.IsSet() || empty.Duration != 0 {
		t.Fatalf("expected explicit zero duration, got %+v", empty)
	}

	if err := new(Duration).UnmarshalText([]byte("later")); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestSettingsPrecedence(t *testing.T) {
	no := false
	tail := 3
	doc := &File{
		Path:     "/tmp/.concur.yaml",
		Stream:   &no,
		Timer:    &no,
		Tail:     &tail,
		Commands: []string{"echo file"},
		Env:      map[string]string{"B": "2", "A": "1"},
		LogFile:  "file.jsonl",
	}
	env := map[string]string{
		"CONCUR_TIMER":    "true",
		"CONCUR_TAIL":     "7",
		"CONCUR_INTERVAL": "50ms",
		"CONCUR_LOG_FILE": "env.jsonl",
		"CONCUR_VERBOSE":  "not-a-bool",
	}

	s := Defaults()
	s.ApplyFile(doc)
	s.ApplyEnv(func(key string) string { return env[key] })

	if s.Stream {
		t.Fatalf("expected file to disable streaming")
	}
	if !s.Timer {
		t.Fatalf("expected env to re-enable the timer")
	}
	if s.Tail != 7 {
		t.Fatalf("expected env tail 7, got %d", s.Tail)
	}
	if s.Interval != 50*time.Millisecond {
		t.Fatalf("expected env interval, got %s", s.Interval)
	}
	if s.LogFile != "env.jsonl" {
		t.Fatalf("expected env log file, got %q", s.LogFile)
	}
	if s.Verbose {
		t.Fatalf("expected unparsable value to be ignored")
	}
	if !s.Interactive {
		t.Fatalf("expected default interactivity to survive")
	}
	if s.Source != doc.Path {
		t.Fatalf("expected source %q, got %q", doc.Path, s.Source)
	}
	if got, want := s.EnvList(), []string{"A=1", "B=2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestApplyNilFile(t *testing.T) {
	s := Defaults()
	s.ApplyFile(nil)
	if !reflect.DeepEqual(s, Defaults()) {
		t.Fatalf("expected defaults untouched, got %+v", s)
	}
}
