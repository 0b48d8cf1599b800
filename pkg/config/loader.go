// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v10"
)

// Validator is implemented by configs with invariants beyond what env tags can
// express. Load calls it after parsing.
type Validator interface {
	Validate() error
}

// Option adjusts how Load parses the environment.
type Option func(*env.Options)

// WithPrefix prepends prefix to every variable name, so several instances of
// one service can share an environment.
func WithPrefix(prefix string) Option {
	return func(o *env.Options) { o.Prefix = prefix }
}

// WithEnvironment parses from vars instead of the process environment.
func WithEnvironment(vars map[string]string) Option {
	return func(o *env.Options) { o.Environment = vars }
}

// Load parses `env`-tagged fields into cfg, then runs cfg's Validate method
// when it has one. Every missing or malformed variable is reported, not just
// the first.
func Load(cfg any, opts ...Option) error {
	var o env.Options
	for _, opt := range opts {
		opt(&o)
	}
	if err := env.ParseWithOptions(cfg, o); err != nil {
		return fmt.Errorf("parse config: %w", nameVariables(cfg, o.Prefix, err))
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

// nameVariables prefixes each field-level parse failure with the variable it
// was read from. env reports those by Go field name only.
func nameVariables(cfg any, prefix string, err error) error {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return err
	}
	keys := make(map[string][]string)
	collectKeys(reflect.TypeOf(cfg), prefix, keys)

	out := make([]error, 0, len(agg.Errors))
	for _, e := range agg.Errors {
		var pe env.ParseError
		if errors.As(e, &pe) && len(keys[pe.Name]) > 0 {
			e = fmt.Errorf("%s: %w", strings.Join(keys[pe.Name], "|"), e)
		}
		out = append(out, e)
	}
	return errors.Join(out...)
}

func collectKeys(t reflect.Type, prefix string, keys map[string][]string) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("env"), ",")
		if name != "" {
			keys[f.Name] = append(keys[f.Name], prefix+name)
			continue
		}
		collectKeys(f.Type, prefix+f.Tag.Get("envPrefix"), keys)
	}
}
