package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFile is picked up from the working directory when no config path is
// given explicitly.
const DefaultFile = ".concur.yaml"

// Locate returns the config file to load: explicit if set, then
// $CONCUR_CONFIG, then DefaultFile inside dir when it exists. An empty result
// means no config file applies.
func Locate(explicit, dir string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if fromEnv := os.Getenv("CONCUR_CONFIG"); fromEnv != "" {
		return fromEnv, nil
	}
	candidate := filepath.Join(dir, DefaultFile)
	info, err := os.Stat(candidate)
	switch {
	case err == nil && !info.IsDir():
		return candidate, nil
	case err == nil, errors.Is(err, os.ErrNotExist):
		return "", nil
	default:
		return "", fmt.Errorf("stat %s: %w", candidate, err)
	}
}

// Load reads, validates and resolves a config document.
func Load(path string) (*File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: parse: %w", absPath, err)
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var doc File
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	doc.Path = absPath

	var inlineEnv map[string]string
	if len(doc.Env) > 0 {
		inlineEnv = make(map[string]string, len(doc.Env))
		for k, v := range doc.Env {
			inlineEnv[k] = os.ExpandEnv(v)
		}
	}

	var fileEnv map[string]string
	if doc.EnvFile != "" {
		expanded := os.ExpandEnv(doc.EnvFile)
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Clean(filepath.Join(filepath.Dir(absPath), expanded))
		}
		doc.EnvFile = expanded

		fileEnv, err = loadEnvFile(expanded)
		if err != nil {
			return nil, fmt.Errorf("%s: env_file: %w", absPath, err)
		}
	}

	var merged map[string]string
	if len(fileEnv) > 0 || len(inlineEnv) > 0 {
		merged = make(map[string]string, len(fileEnv)+len(inlineEnv))
		for k, v := range fileEnv {
			merged[k] = v
		}
		for k, v := range inlineEnv {
			merged[k] = v
		}
	}
	doc.Env = merged

	doc.LogFile = os.ExpandEnv(doc.LogFile)
	doc.MetricsFile = os.ExpandEnv(doc.MetricsFile)

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return &doc, nil
}

func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "export "))
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("load env file %q: invalid line %d", path, lineNo)
		}
		value = strings.TrimSpace(value)
		switch {
		case strings.HasPrefix(value, "\""):
			if len(value) < 2 || value[len(value)-1] != '"' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("load env file %q: parse value for %s on line %d: %w", path, key, lineNo, err)
			}
			value = unquoted
		case strings.HasPrefix(value, "'"):
			if len(value) < 2 || value[len(value)-1] != '\'' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			value = value[1 : len(value)-1]
		default:
			if comment := strings.IndexRune(value, '#'); comment >= 0 {
				value = strings.TrimSpace(value[:comment])
			}
		}
		values[key] = os.ExpandEnv(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}
