package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	concurschema "github.com/Paintersrp/concur/schema"
)

const schemaResource = "config.v1.json"

var (
	schemaOnce   sync.Once
	configSchema *jsonschema.Schema
	schemaErr    error
)

func loadConfigSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaResource, bytes.NewReader(concurschema.ConfigV1Schema)); err != nil {
			schemaErr = fmt.Errorf("add config schema resource: %w", err)
			return
		}
		configSchema, schemaErr = compiler.Compile(schemaResource)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", schemaErr)
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	return configSchema, nil
}

func validateAgainstSchema(doc map[string]any) error {
	schema, err := loadConfigSchema()
	if err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}

	normalized, err := normalizeForSchema(doc)
	if err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		var vErr *jsonschema.ValidationError
		if errors.As(err, &vErr) {
			return fmt.Errorf("schema validation failed:\n  - %s", strings.Join(schemaViolations(vErr), "\n  - "))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// normalizeForSchema round-trips the YAML document through JSON so numbers
// reach the validator as json.Number.
func normalizeForSchema(doc map[string]any) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// schemaViolations flattens a validation error tree to its leaf causes, one
// "field: message" entry each, sorted by field.
func schemaViolations(root *jsonschema.ValidationError) []string {
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(err *jsonschema.ValidationError) {
		if len(err.Causes) == 0 {
			out = append(out, fieldPath(err.InstanceLocation)+": "+err.Message)
			return
		}
		for _, cause := range err.Causes {
			walk(cause)
		}
	}
	walk(root)
	sort.Strings(out)
	return slices.Compact(out)
}

// fieldPath turns a JSON pointer such as /commands/2 into commands[2].
func fieldPath(ptr string) string {
	var b strings.Builder
	for _, segment := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if segment == "" {
			continue
		}
		segment = strings.NewReplacer("~1", "/", "~0", "~").Replace(segment)
		if _, err := strconv.Atoi(segment); err == nil && b.Len() > 0 {
			b.WriteString("[" + segment + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(segment)
	}
	if b.Len() == 0 {
		return "config"
	}
	return b.String()
}
