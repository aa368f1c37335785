// Package config loads gateway configuration from environment variables,
// optional YAML/JSON files, and struct tag defaults. Values are resolved
// in priority order:
//
//	envDefault struct tags  (lowest priority)
//	YAML/JSON config file  (medium priority)
//	Environment variables  (highest priority)
//
// Deployments therefore work the same way everywhere the gateway runs:
// defaults live in code, a config file carries per-environment overrides,
// and env vars (ConfigMaps, Secrets, systemd drop-ins) win.
//
// # Struct Tags
//
// Three struct tags control loading:
//
//   - `env:"VAR_NAME"` — maps the field to an environment variable
//   - `envDefault:"value"` — sets a default when the field is zero-valued
//   - `required:"true"` — fails validation if the field remains zero after loading
//
// Fields also need `yaml` or `json` tags for file-based loading, since the
// file unmarshalers use those.
//
// # Usage
//
//	type ServerConfig struct {
//	    Host string `env:"HOST" envDefault:"0.0.0.0" yaml:"host"`
//	    Port int    `env:"PORT" envDefault:"8080" yaml:"port" required:"true"`
//	}
//
//	cfg := config.MustLoad[ServerConfig](
//	    config.New().WithEnvPrefix("RIY").WithFile("gateway.yaml"),
//	)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// durationType caches the reflect.Type of time.Duration so the traversal
// can tell Duration fields apart from plain int64 fields (both have
// Kind() == Int64).
var durationType = reflect.TypeOf(time.Duration(0))

// Loader resolves configuration with the layered strategy described in the
// package documentation. Create one with [New], configure it with
// [Loader.WithEnvPrefix] and [Loader.WithFile], then call [Loader.Load].
//
// Loader is not safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
}

// New creates a Loader that reads from unprefixed environment variables
// and no file.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix sets a prefix joined with "_" to every env tag name. With
// prefix "RIY", a field tagged `env:"HOST"` reads RIY_HOST. The prefix is
// uppercased; an empty prefix disables prefixing. Returns the Loader for
// chaining.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets the path of an optional YAML (.yaml/.yml) or JSON (.json)
// configuration file. A missing file is not an error; an unrecognized
// extension is. Paths containing ".." are rejected at load time. Returns
// the Loader for chaining.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Load populates cfg, which must be a non-nil pointer to a struct, in
// priority order: envDefault tags, then file values, then environment
// variables. After loading, fields tagged `required:"true"` must be
// non-zero and, if cfg implements [Validator], its Validate method runs.
//
// Failures return a [*gwerr.Error] with [gwerr.CodeInternalConfiguration]
// for loading problems or [gwerr.CodeValidationRequired] /
// [gwerr.CodeValidation] for validation problems.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return gwerr.New(gwerr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return gwerr.New(gwerr.CodeInternalConfiguration,
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

	if err := applyEnv(rv, l.envPrefix); err != nil {
		return err
	}

	return validate(cfg, rv)
}

// MustLoad creates a zero value of T, loads configuration into it, and
// returns it, panicking on failure. Intended for startup code where an
// invalid configuration must stop the process.
//
//	cfg := config.MustLoad[gateway.Config](config.New().WithEnvPrefix("RIY"))
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

// loadFile reads and unmarshals the configured file into cfg. Missing
// files are ignored.
func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return gwerr.New(gwerr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return gwerr.Wrapf(err, gwerr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	ext := strings.ToLower(filepath.Ext(l.filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return gwerr.Wrapf(err, gwerr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return gwerr.Wrapf(err, gwerr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return gwerr.Newf(gwerr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}

	return nil
}

// applyDefaults walks the struct and sets zero-valued fields to their
// envDefault tag value. Non-zero fields keep whatever they already hold.
func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}

		tag := sf.Tag.Get("envDefault")
		if tag == "" {
			continue
		}

		if !field.IsZero() {
			continue
		}

		if err := setField(field, tag); err != nil {
			return gwerr.Wrapf(err, gwerr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}

	return nil
}

// applyEnv walks the struct and sets fields from the environment. For a
// nested struct with its own env tag, that tag joins the prefix for the
// child fields, so `env:"POSTGRES"` around `env:"HOST"` reads
// PREFIX_POSTGRES_HOST.
func applyEnv(rv reflect.Value, prefix string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		envTag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			nestedPrefix := prefix
			if envTag != "" {
				if nestedPrefix != "" {
					nestedPrefix = nestedPrefix + "_" + envTag
				} else {
					nestedPrefix = envTag
				}
			}
			if err := applyEnv(field, nestedPrefix); err != nil {
				return err
			}
			continue
		}

		if envTag == "" {
			continue
		}

		envKey := envTag
		if prefix != "" {
			envKey = prefix + "_" + envTag
		}

		val, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}

		if err := setField(field, val); err != nil {
			return gwerr.Wrapf(err, gwerr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, envKey)
		}
	}

	return nil
}

// setField parses value and assigns it according to the field's kind.
// Supported: string (including named string types such as auth.Secret),
// bool, signed integers, time.Duration, and []string (comma-separated,
// whitespace-trimmed).
func setField(field reflect.Value, value string) error {
	// Duration first: its underlying kind is int64 but the syntax is
	// time.ParseDuration's.
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		bitSize := field.Type().Bits()
		n, err := strconv.ParseInt(value, 10, bitSize)
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			// MakeSlice with the field's own type keeps named slice
			// types (type Domains []string) assignable.
			slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
			for i, p := range parts {
				slice.Index(i).SetString(p)
			}
			field.Set(slice)
		} else {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}

	return nil
}
