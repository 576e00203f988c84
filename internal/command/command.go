// Package command turns raw command strings into executable specs.
//
// A command string follows the grammar
//
//	[MODE_FLAGS ::] [KEY=VALUE ...] EXECUTABLE [ARG ...]
//
// Leading KEY=VALUE tokens are environment overrides for that command only.
// Tokenizing is shell-quote aware, so "sh -c 'exit 1'" yields three tokens.
package command

import (
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

const modeSeparator = " :: "

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrEmptyCommand is returned when a command string names no executable.
var ErrEmptyCommand = errors.New("empty command")

// Spec is the parsed, immutable form of a single command string.
type Spec struct {
	Raw   string
	Modes []string
	Env   map[string]string
	Name  string
	Path  string
	Args  []string
}

// EnvList renders the overrides as KEY=VALUE pairs in a stable order.
func (s Spec) EnvList() []string {
	return formatEnv(s.Env)
}

// Parse splits a raw command string into modes, environment overrides, the
// executable name and its arguments. It does not consult PATH.
func Parse(raw string) (Spec, error) {
	spec := Spec{Raw: raw}

	body := raw
	if idx := strings.Index(raw, modeSeparator); idx >= 0 {
		spec.Modes = strings.Fields(raw[:idx])
		body = raw[idx+len(modeSeparator):]
	}

	tokens, err := shellquote.Split(body)
	if err != nil {
		return Spec{}, fmt.Errorf("parse command %q: %w", raw, err)
	}

	i := 0
	for ; i < len(tokens); i++ {
		key, value, ok := splitAssignment(tokens[i])
		if !ok {
			break
		}
		if spec.Env == nil {
			spec.Env = make(map[string]string)
		}
		spec.Env[key] = value
	}
	if i >= len(tokens) {
		return Spec{}, fmt.Errorf("parse command %q: %w", raw, ErrEmptyCommand)
	}

	spec.Name = tokens[i]
	if rest := tokens[i+1:]; len(rest) > 0 {
		spec.Args = append([]string(nil), rest...)
	}
	return spec, nil
}

// splitAssignment splits on the first '=' only, so values may contain '='.
func splitAssignment(token string) (string, string, bool) {
	key, value, found := strings.Cut(token, "=")
	if !found || !envKeyPattern.MatchString(key) {
		return "", "", false
	}
	return key, value, true
}

// Resolve looks the executable up on the search path and returns a copy of
// spec with Path populated.
func Resolve(spec Spec) (Spec, error) {
	path, err := exec.LookPath(spec.Name)
	if err != nil {
		return Spec{}, &NotFoundError{Name: spec.Name, Err: err}
	}
	spec.Path = path
	return spec, nil
}

// ParseAll parses and resolves every command. Syntax errors abort at the
// offending command. Unresolvable executables are collected across all
// commands and reported together as a *ResolutionError.
func ParseAll(raws []string) ([]Spec, error) {
	specs := make([]Spec, 0, len(raws))
	for _, raw := range raws {
		spec, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	var missing []string
	for i, spec := range specs {
		resolved, err := Resolve(spec)
		if err != nil {
			missing = append(missing, spec.Name)
			continue
		}
		specs[i] = resolved
	}
	if len(missing) > 0 {
		return nil, &ResolutionError{Names: missing}
	}
	return specs, nil
}

func formatEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
