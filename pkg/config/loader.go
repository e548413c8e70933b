// Package config provides configuration loading from environment variables,
// files (YAML/JSON), and struct tag defaults for authcore services. It
// supports a layered configuration model where values are resolved in
// priority order:
//
//	envDefault struct tags  (lowest priority)
//	YAML/JSON config file  (medium priority)
//	Environment variables  (highest priority)
//
// This priority order mirrors how deployments typically work: sensible
// defaults are baked into the code, config files provide environment-specific
// overrides, and env vars (from the orchestrator's secret machinery) take
// final precedence.
//
// # Struct Tags
//
// The loader uses three struct tags to control behavior:
//
//   - `env:"VAR_NAME"` — maps the field to an environment variable
//   - `envDefault:"value"` — sets a default when the field is zero-valued
//   - `required:"true"` — fails validation if the field remains zero after loading
//
// Fields must also have `yaml` or `json` tags for file-based loading,
// since the YAML and JSON unmarshalers use those tags respectively.
//
// # Usage
//
//	type FlowConfig struct {
//	    CookieDomain    string        `env:"COOKIE_DOMAIN" yaml:"cookie_domain"`
//	    UserSessionTTL  time.Duration `env:"USER_SESSION_TTL" envDefault:"1h" yaml:"user_session_ttl"`
//	}
//
//	cfg := config.MustLoad[FlowConfig](
//	    config.New().WithEnvPrefix("AUTHCORE").WithFile("config.yaml"),
//	)
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// durationType distinguishes time.Duration fields (Kind() == Int64) from
// plain int64 fields during struct traversal.
var durationType = reflect.TypeOf(time.Duration(0))

// Validator is an optional interface that configuration structs may
// implement for custom validation logic. If the struct passed to
// [Loader.Load] implements Validator, its Validate method is called after
// tag-based `required` validation succeeds.
//
// Validate should return an error describing the first validation failure,
// or nil if the configuration is valid. Errors that are already
// [*acerr.Error] are returned as-is; other errors are wrapped with
// [acerr.CodeValidation].
type Validator interface {
	Validate() error
}

// Loader builds and executes configuration loading with a layered
// resolution strategy. Use [New] to create a Loader and configure it with
// [Loader.WithEnvPrefix] and [Loader.WithFile] before calling [Loader.Load].
//
// Loader is not safe for concurrent use. Create a new Loader for each Load
// call, or synchronize access externally.
type Loader struct {
	envPrefix string
	filePath  string
}

// New creates a new [Loader] with default settings: environment variables
// only, no file, no prefix.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix sets a prefix that is prepended (with an underscore
// separator) to all environment variable names derived from the "env"
// struct tag. The prefix is automatically uppercased; an empty prefix
// disables prefixing. Returns the Loader for fluent chaining.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets the path to a YAML (.yaml/.yml) or JSON (.json)
// configuration file. A missing file is not an error; file configuration
// is optional. The path must not contain directory traversal sequences.
// Returns the Loader for fluent chaining.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Load populates the given struct pointer with configuration values
// resolved in priority order (highest wins):
//
//  1. envDefault struct tags (lowest priority)
//  2. YAML/JSON file values (if configured with [Loader.WithFile])
//  3. Environment variables from "env" struct tags (highest priority)
//
// After loading, fields tagged `required:"true"` must hold non-zero values,
// and if the struct implements [Validator] its Validate method is called.
//
// Returns a [*acerr.Error] with code [acerr.CodeInternalConfiguration] for
// loading failures, or [acerr.CodeValidationRequired] /
// [acerr.CodeValidation] for validation failures.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return acerr.New(acerr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return acerr.New(acerr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	if err := l.applyEnv(rv); err != nil {
		return err
	}

	if err := validateRequired(rv, ""); err != nil {
		return err
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isACErr := acerr.AsError(err); isACErr {
				return err
			}
			return acerr.Wrap(err, acerr.CodeValidation,
				"config: custom validation failed")
		}
	}
	return nil
}

// MustLoad loads a configuration of type T using the given loader and
// panics on failure. Intended for program startup where a bad configuration
// should abort the process.
func MustLoad[T any](l *Loader) *T {
	cfg := new(T)
	if err := l.Load(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// loadFile reads and unmarshals the configured file into cfg. A missing
// file is silently skipped.
func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return acerr.Newf(acerr.CodeInternalConfiguration,
			"config: file path %q must not contain directory traversal", l.filePath)
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return acerr.Wrapf(err, acerr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch strings.ToLower(filepath.Ext(l.filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return acerr.Wrapf(err, acerr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return acerr.Wrapf(err, acerr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return acerr.Newf(acerr.CodeInternalConfiguration,
			"config: unsupported file extension for %q (want .yaml, .yml, or .json)", l.filePath)
	}
	return nil
}

// applyDefaults walks the struct and sets envDefault tag values on fields
// that are currently zero-valued. Nested structs are traversed recursively.
func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := rv.Field(i)
		if !fv.CanSet() {
			continue
		}

		if fv.Kind() == reflect.Struct && field.Type != durationType {
			if err := applyDefaults(fv); err != nil {
				return err
			}
			continue
		}

		def, ok := field.Tag.Lookup("envDefault")
		if !ok || !fv.IsZero() {
			continue
		}
		if err := setField(fv, field, def); err != nil {
			return err
		}
	}
	return nil
}

// applyEnv walks the struct and overrides fields from environment
// variables named by the "env" tag (with the loader's prefix applied).
func (l *Loader) applyEnv(rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := rv.Field(i)
		if !fv.CanSet() {
			continue
		}

		if fv.Kind() == reflect.Struct && field.Type != durationType {
			if err := l.applyEnv(fv); err != nil {
				return err
			}
			continue
		}

		name, ok := field.Tag.Lookup("env")
		if !ok || name == "" {
			continue
		}
		if l.envPrefix != "" {
			name = l.envPrefix + "_" + name
		}
		val, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setField(fv, field, val); err != nil {
			return err
		}
	}
	return nil
}

// setField parses raw into the field's type. Supported kinds: string,
// bool, signed/unsigned integers, time.Duration, float, and []string
// (comma-separated).
func setField(fv reflect.Value, field reflect.StructField, raw string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return acerr.Wrapf(err, acerr.CodeInternalConfiguration,
				"config: field %q: invalid bool %q", field.Name, raw)
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type == durationType {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return acerr.Wrapf(err, acerr.CodeInternalConfiguration,
					"config: field %q: invalid duration %q", field.Name, raw)
			}
			fv.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return acerr.Wrapf(err, acerr.CodeInternalConfiguration,
				"config: field %q: invalid integer %q", field.Name, raw)
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return acerr.Wrapf(err, acerr.CodeInternalConfiguration,
				"config: field %q: invalid unsigned integer %q", field.Name, raw)
		}
		fv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return acerr.Wrapf(err, acerr.CodeInternalConfiguration,
				"config: field %q: invalid float %q", field.Name, raw)
		}
		fv.SetFloat(f)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return acerr.Newf(acerr.CodeInternalConfiguration,
				"config: field %q: only []string slices are supported", field.Name)
		}
		parts := strings.Split(raw, ",")
		out := reflect.MakeSlice(fv.Type(), 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			out = reflect.Append(out, reflect.ValueOf(p).Convert(fv.Type().Elem()))
		}
		fv.Set(out)
	default:
		return acerr.Newf(acerr.CodeInternalConfiguration,
			"config: field %q has unsupported kind %s", field.Name, fv.Kind())
	}
	return nil
}

// validateRequired recursively checks that all fields tagged with
// `required:"true"` hold non-zero values. The path parameter carries the
// dotted field path for error messages.
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := rv.Field(i)

		name := field.Name
		if path != "" {
			name = path + "." + field.Name
		}

		if fv.Kind() == reflect.Struct && field.Type != durationType {
			if err := validateRequired(fv, name); err != nil {
				return err
			}
			continue
		}

		if field.Tag.Get("required") == "true" && fv.IsZero() {
			return acerr.Newf(acerr.CodeValidationRequired,
				"config: required field %q is not set", name)
		}
	}
	return nil
}
