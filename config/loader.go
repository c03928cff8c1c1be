package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/leeforge/workforce/errors"
)

type Options struct {
	BasePath  string
	FileName  string
	FileType  string
	EnvPrefix string
	// Mode picks the environment files; empty means CurrentMode().
	Mode Mode
	// Optional allows loading with no file present, from defaults and the
	// environment only.
	Optional bool
}

func DefaultOptions() Options {
	basePath := os.Getenv("CONFIG_PATH")
	if basePath == "" {
		basePath = "config"
	}
	return Options{
		BasePath: basePath,
		FileName: "config",
		FileType: "yaml",
		Optional: true,
	}
}

// Loader merges the config files of one mode and the environment into a
// struct. Later files override earlier ones; environment variables override
// every file.
type Loader struct {
	opts     Options
	mu       sync.RWMutex
	instance *viper.Viper
	files    []string
	validate *validator.Validate
}

func NewLoader(opts Options) (*Loader, error) {
	if opts.FileType == "" {
		opts.FileType = "yaml"
	}
	if opts.FileName == "" {
		opts.FileName = "config"
	}
	if opts.Mode == "" {
		opts.Mode = CurrentMode()
	}
	l := &Loader{opts: opts, validate: validator.New()}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Files returns the files merged by the last load, in merge order.
func (l *Loader) Files() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.files...)
}

func (l *Loader) reload() error {
	files := configFilePaths(l.opts)
	if len(files) == 0 && !l.opts.Optional {
		return errors.NewValidation(fmt.Sprintf("no configuration files found in %s", l.opts.BasePath)).
			WithDetail("basePath", l.opts.BasePath)
	}

	v := viper.New()
	v.SetConfigType(l.opts.FileType)
	for _, path := range files {
		fileV := viper.New()
		fileV.SetConfigFile(path)
		if err := fileV.ReadInConfig(); err != nil {
			return errors.WrapWithType(err, errors.ErrorTypeInvalid, "read config file "+path)
		}
		if err := v.MergeConfigMap(fileV.AllSettings()); err != nil {
			return errors.WrapWithType(err, errors.ErrorTypeInvalid, "merge config file "+path)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	if l.opts.EnvPrefix != "" {
		v.SetEnvPrefix(l.opts.EnvPrefix)
	}
	v.AutomaticEnv()

	l.mu.Lock()
	l.instance = v
	l.files = files
	l.mu.Unlock()
	return nil
}

// Bind applies `default` tags, overlays files and environment, then runs the
// `validate` tags. target must be a pointer to a struct.
func (l *Loader) Bind(target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return errors.NewInvalid("target", fmt.Sprintf("%T", target), "must be a non-nil pointer to a struct")
	}
	if err := defaults.Set(target); err != nil {
		return errors.WrapWithType(err, errors.ErrorTypeInvalid, "apply config defaults")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	bindEnvs(l.instance, "", rv.Elem().Type())
	if err := l.instance.Unmarshal(target); err != nil {
		return errors.WrapWithType(err, errors.ErrorTypeInvalid,
			fmt.Sprintf("unmarshal config (path: %s, file: %s.%s)", l.opts.BasePath, l.opts.FileName, l.opts.FileType))
	}
	return l.Validate(target)
}

// Validate runs the `validate` struct tags of target.
func (l *Loader) Validate(target any) error {
	err := l.validate.Struct(target)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.WrapWithType(err, errors.ErrorTypeValidation, "config validation failed")
	}
	appErr := errors.NewValidation("config validation failed").WithInnerError(err)
	for _, fe := range verrs {
		appErr.WithDetail(fe.Namespace(), fe.Tag())
	}
	return appErr
}

// Get returns the raw merged value at key.
func (l *Loader) Get(key string) any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.instance.Get(key)
}

// bindEnvs registers every mapstructure key path of t so environment
// variables apply even when no file mentions the key.
func bindEnvs(v *viper.Viper, prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			name = strings.ToLower(field.Name)
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		ft := field.Type
		if ft.Kind() == reflect.Struct && ft.PkgPath() != "time" {
			bindEnvs(v, key, ft)
			continue
		}
		_ = v.BindEnv(key)
	}
}

func configFilePaths(opts Options) []string {
	var files []string
	for _, path := range candidatePaths(opts) {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			files = append(files, path)
		}
	}
	return files
}
