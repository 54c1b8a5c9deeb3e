// Package options implements the option/scope system (component C):
// resolution of typed, hierarchical option values from defaults, config
// files, environment, and CLI, and a stable fingerprint per scope.
package options

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	validatorpkg "github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// Registry holds the set of recognised scopes (§4.C "A scope is addressed
// by name"). Each scope enumerates its recognised options via Go struct
// tags: `mapstructure` for the option name, `default` for its default value,
// `validate` (go-playground/validator syntax) for constraints, and
// `fingerprint:"false"` to exclude a field from the scope's fingerprint.
type Registry struct {
	mu      sync.RWMutex
	scopes  map[string]reflect.Type
	schemas map[string][]byte
	v       *viper.Viper
	vd      *validatorpkg.Validate
}

// NewRegistry creates an empty Registry bound to CLI flags and environment
// variables following §4.C's resolution order (highest wins): CLI flag →
// environment variable → highest-priority config file → lower config files
// → built-in default.
func NewRegistry(flags *pflag.FlagSet) *Registry {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	if flags != nil {
		_ = v.BindPFlags(flags)
	}
	return &Registry{
		scopes:  make(map[string]reflect.Type),
		schemas: make(map[string][]byte),
		v:       v,
		vd:      validatorpkg.New(),
	}
}

// RegisterSchema associates a JSON Schema document with scope name: any
// config file merged afterward via AddConfigFile that contains a top-level
// key matching name has that section validated against schemaJSON before
// the merge happens (§4.C domain stack: "JSON-Schema validation of config
// files before they are merged into a scope"). A scope with no registered
// schema is merged unvalidated, as before.
func (r *Registry) RegisterSchema(name string, schemaJSON []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[name] = schemaJSON
}

// Register declares a scope named name with recognised options described by
// the struct type of zero (a pointer to a struct, e.g. (*PythonOptions)(nil)).
// It panics on a malformed struct tag, matching the teacher's
// setViperStructDefaults fail-fast contract (internal/config/config.go):
// a missing mapstructure tag is a programming error in a backend, not a
// runtime condition to recover from.
func (r *Registry) Register(name string, zero any) {
	t := reflect.TypeOf(zero)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes[name] = t
	setViperStructDefaults(r.v, name+".", reflect.Zero(t).Interface())
}

// AddConfigFile merges one config file into the registry, at a given
// priority (higher priority calls should happen later, mirroring
// "highest-priority config file → lower config files"). Before the merge,
// every top-level section whose key matches a scope with a RegisterSchema'd
// JSON Schema is validated against it; a schema violation fails the whole
// call without merging anything from path.
func (r *Registry) AddConfigFile(path string) error {
	if err := r.validateAgainstSchemas(path); err != nil {
		return err
	}

	r.v.SetConfigFile(path)
	if err := r.v.MergeInConfig(); err != nil {
		return strataerrors.New(strataerrors.KindUser, fmt.Errorf("options: reading config %s: %w", path, err))
	}
	return nil
}

// validateAgainstSchemas decodes path generically and runs ValidateConfigFile
// against every section with a registered schema. It is a no-op (including
// for an unreadable or malformed file) when no scope has ever called
// RegisterSchema, so callers that don't use schemas pay nothing extra.
func (r *Registry) validateAgainstSchemas(path string) error {
	r.mu.RLock()
	schemas := make(map[string][]byte, len(r.schemas))
	for name, s := range r.schemas {
		schemas[name] = s
	}
	r.mu.RUnlock()
	if len(schemas) == 0 {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return strataerrors.New(strataerrors.KindUser, fmt.Errorf("options: reading config %s: %w", path, err))
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return strataerrors.New(strataerrors.KindUser, fmt.Errorf("options: parsing config %s: %w", path, err))
	}

	for name, schemaJSON := range schemas {
		section, ok := doc[name]
		if !ok {
			continue
		}
		if err := ValidateConfigFile(schemaJSON, section); err != nil {
			return fmt.Errorf("options: config %s, section %q: %w", path, name, err)
		}
	}
	return nil
}

// Resolve decodes scope name's effective values into out (a pointer to the
// struct registered under name), validating typed constraints. Errors are
// fatal with scope + name (unrecognised option) or source location (type
// mismatch), per §4.C "Errors".
func (r *Registry) Resolve(name string, out any) error {
	r.mu.RLock()
	_, known := r.scopes[name]
	r.mu.RUnlock()
	if !known {
		return strataerrors.Newf(strataerrors.KindUser, "options: unrecognised scope %q", name)
	}

	sub := r.v.Sub(name)
	if sub == nil {
		sub = viper.New()
	}
	if err := sub.Unmarshal(out); err != nil {
		return strataerrors.Newf(strataerrors.KindUser, "options: scope %q: %w", name, err)
	}
	if err := r.vd.Struct(out); err != nil {
		return strataerrors.Newf(strataerrors.KindUser, "options: scope %q failed validation: %w", name, err)
	}
	return nil
}

// Fingerprint computes the stable hash of scope name's effective values
// (§4.C "a fingerprint (stable hash of effective values, excluding options
// explicitly declared non-fingerprintable")). Fields tagged
// `fingerprint:"false"` are excluded.
func Fingerprint(value any) string {
	m := fingerprintMap(reflect.ValueOf(value))
	b, _ := json.Marshal(m)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func fingerprintMap(v reflect.Value) map[string]any {
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	out := make(map[string]any)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Tag.Get("fingerprint") == "false" {
			continue
		}
		name := f.Tag.Get("mapstructure")
		if name == "" {
			name = f.Name
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			out[name] = fingerprintMap(fv)
			continue
		}
		out[name] = fv.Interface()
	}
	return out
}

// setViperStructDefaults recursively registers defaults and env bindings for
// every tagged field of s, exactly as the teacher's
// internal/config/config.go does for its single top-level Config struct,
// generalized here to run once per registered scope.
func setViperStructDefaults(v *viper.Viper, prefix string, s any) {
	t := reflect.TypeOf(s)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			panic(fmt.Sprintf("options: untagged scope field %q", field.Name))
		}
		valueName := strings.ToLower(prefix + tag)

		if field.Type.Kind() == reflect.Struct {
			setViperStructDefaults(v, valueName+".", reflect.Zero(field.Type).Interface())
			continue
		}

		def := field.Tag.Get("default")
		var defaultValue any = reflect.Zero(field.Type).Interface()
		var err error
		switch field.Type.Kind() {
		case reflect.String:
			defaultValue = def
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if def != "" {
				defaultValue, err = strconv.Atoi(def)
			} else {
				defaultValue = 0
			}
		case reflect.Float32, reflect.Float64:
			if def != "" {
				defaultValue, err = strconv.ParseFloat(def, 64)
			} else {
				defaultValue = 0.0
			}
		case reflect.Bool:
			if def != "" {
				defaultValue, err = strconv.ParseBool(def)
			} else {
				defaultValue = false
			}
		case reflect.Slice:
			if def != "" {
				defaultValue = strings.Split(def, ",")
			}
		default:
			// maps and other kinds fall back to the zero value; callers
			// needing exotic option types set it post-Register via SetDefault.
		}
		if err != nil {
			panic(fmt.Sprintf("options: bad default for field %q: %v", valueName, err))
		}
		_ = v.BindEnv(strings.ToUpper(strings.ReplaceAll(valueName, ".", "_")))
		v.SetDefault(valueName, defaultValue)
	}
}

// Names returns the sorted list of registered scope names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scopes))
	for n := range r.scopes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
