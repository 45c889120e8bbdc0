package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader fills a config struct from, in order: `default` struct tags, a
// YAML file, a dotenv file and the process environment.
type Loader struct {
	ConfigFile      string
	EnvironmentFile string
	// Prefix, when set, lets PREFIX_<NAME> override <NAME>.
	Prefix string
}

// Load populates target, which must be a pointer to a struct.
func (l *Loader) Load(target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config target must be a pointer to a struct, got %T", target)
	}

	if err := walkFields(v.Elem(), "", applyDefault); err != nil {
		return fmt.Errorf("failed to set defaults: %w", err)
	}

	if l.ConfigFile != "" {
		if err := loadYAML(target, l.ConfigFile); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if l.EnvironmentFile != "" {
		if err := loadDotEnv(l.EnvironmentFile); err != nil {
			return fmt.Errorf("failed to load environment file: %w", err)
		}
	}

	if err := walkFields(v.Elem(), "", l.applyEnv); err != nil {
		return fmt.Errorf("failed to load from environment: %w", err)
	}

	return nil
}

type fieldVisitor func(field reflect.Value, sf reflect.StructField, envName string) error

// walkFields visits every settable leaf field. Nested struct fields extend
// the derived env name with their upper-cased field name.
func walkFields(v reflect.Value, prefix string, visit fieldVisitor) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)
		if !field.CanSet() {
			continue
		}

		name := strings.ToUpper(sf.Name)
		if prefix != "" {
			name = prefix + "_" + name
		}

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := walkFields(field, name, visit); err != nil {
				return err
			}
			continue
		}

		if tag := sf.Tag.Get("env"); tag != "" {
			name = tag
		}
		if err := visit(field, sf, name); err != nil {
			return err
		}
	}
	return nil
}

func applyDefault(field reflect.Value, sf reflect.StructField, _ string) error {
	def, ok := sf.Tag.Lookup("default")
	if !ok || def == "" {
		return nil
	}
	if err := setField(field, def); err != nil {
		return fmt.Errorf("default for %s: %w", sf.Name, err)
	}
	return nil
}

func (l *Loader) applyEnv(field reflect.Value, sf reflect.StructField, envName string) error {
	candidates := []string{envName}
	if l.Prefix != "" {
		candidates = append([]string{strings.ToUpper(l.Prefix) + "_" + envName}, candidates...)
	}
	for _, name := range candidates {
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("field %s from env %s: %w", sf.Name, name, err)
		}
		return nil
	}
	return nil
}

func loadYAML(target interface{}, filename string) error {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

// loadDotEnv exports KEY=VALUE lines that are not already set in the
// environment.
func loadDotEnv(filename string) error {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read environment file %s: %w", filename, err)
	}

	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid line %d in environment file %s: %s", i+1, filename, line)
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if _, exists := os.LookupEnv(key); !exists {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set %s: %w", key, err)
			}
		}
	}
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func setField(field reflect.Value, value string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value: %s", value)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			field.SetBool(true)
		case "false", "0", "no", "off":
			field.SetBool(false)
		default:
			return fmt.Errorf("invalid boolean value: %s", value)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", value)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value: %s", value)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float value: %s", value)
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}
	return nil
}

// FindConfigFile returns the first <name>.yaml found in the working
// directory, ./config, ./configs, /etc/<name> or ~/.<name>, or "".
func FindConfigFile(name string) string {
	file := name + ".yaml"
	paths := []string{
		file,
		filepath.Join("config", file),
		filepath.Join("configs", file),
		filepath.Join("/etc", name, file),
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+name, file))
	}
	return firstExisting(paths)
}

// FindEnvironmentFile returns the first .env or <name>.env found, or "".
func FindEnvironmentFile(name string) string {
	file := name + ".env"
	return firstExisting([]string{
		".env",
		file,
		filepath.Join("config", ".env"),
		filepath.Join("config", file),
		filepath.Join("configs", ".env"),
		filepath.Join("configs", file),
	})
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
