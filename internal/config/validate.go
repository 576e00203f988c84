package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Paintersrp/concur/internal/command"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks semantic rules the schema cannot express. All problems are
// reported together.
func (f *File) Validate() error {
	var errs []error
	if f.Tail != nil && *f.Tail < 1 {
		errs = append(errs, fmt.Errorf("%s: must be at least 1", field("tail")))
	}
	if f.Interval.IsSet() && f.Interval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("%s: must be positive", field("interval")))
	}
	for i, raw := range f.Commands {
		if _, err := command.Parse(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", indexField("commands", i), err))
		}
	}
	keys := make([]string, 0, len(f.Env))
	for key := range f.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !envKeyPattern.MatchString(key) {
			errs = append(errs, fmt.Errorf("%s: invalid variable name", field("env", key)))
		}
	}
	return errors.Join(errs...)
}

func field(parts ...string) string {
	return strings.Join(parts, ".")
}

func indexField(name string, i int) string {
	return fmt.Sprintf("%s[%d]", name, i)
}
