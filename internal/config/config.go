// Package config loads apidrift settings from a YAML file, a .env file and
// APIDRIFT_* environment variables, in that order of precedence (lowest
// first), on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/apidrift/internal/logging"
)

// DefaultFile is read by Load when no path is given and the file exists.
const DefaultFile = ".apidrift.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "APIDRIFT_"

// Config holds every tunable setting.
type Config struct {
	// Workers is the number of concurrent batch jobs.
	Workers int `yaml:"workers" validate:"min=1,max=256"`
	// Retries is the number of worker attempts per extraction.
	Retries        int           `yaml:"retries" validate:"min=1,max=20"`
	AttemptTimeout time.Duration `yaml:"attemptTimeout" validate:"gt=0"`
	JobTimeout     time.Duration `yaml:"jobTimeout" validate:"gt=0"`
	BackoffMax     time.Duration `yaml:"backoffMax" validate:"gte=0"`
	MaxFileSize    int64         `yaml:"maxFileSize" validate:"min=1"`
	MaxOutput      int64         `yaml:"maxOutput" validate:"min=1024"`
	// MemoryLimit is a GOMEMLIMIT value for workers, e.g. "2GiB".
	MemoryLimit string `yaml:"memoryLimit,omitempty" validate:"omitempty,memlimit"`
	CacheSize   int    `yaml:"cacheSize" validate:"min=1"`
	// Ignore holds extra gitignore-style patterns applied during discovery.
	Ignore []string `yaml:"ignore"`
	// DisabledRules names diff rules to skip.
	DisabledRules []string `yaml:"disabledRules"`
	Log           Log      `yaml:"log"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Workers:        4,
		Retries:        3,
		AttemptTimeout: 10 * time.Minute,
		JobTimeout:     20 * time.Minute,
		BackoffMax:     time.Second,
		MaxFileSize:    1_000_000,
		MaxOutput:      256 << 20,
		CacheSize:      64,
		Ignore:         []string{},
		DisabledRules:  []string{},
		Log:            Log{Level: "info", Format: "text"},
	}
}

// Load reads path (or DefaultFile when path is empty and it exists), loads
// .env from the working directory, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	_ = godotenv.Load()
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var memLimit = regexp.MustCompile(`^[0-9]+(B|KiB|MiB|GiB|TiB)?$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("memlimit", func(fl validator.FieldLevel) bool {
		return memLimit.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks every field against its bounds.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	var errs []error
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	setInt := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setInt64 := func(name string, dst *int64) {
		if v, ok := get(name); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	setList := func(name string, dst *[]string) {
		if v, ok := get(name); ok {
			*dst = splitList(v)
		}
	}
	setString := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	setInt("WORKERS", &c.Workers)
	setInt("RETRIES", &c.Retries)
	setDuration("ATTEMPT_TIMEOUT", &c.AttemptTimeout)
	setDuration("JOB_TIMEOUT", &c.JobTimeout)
	setDuration("BACKOFF_MAX", &c.BackoffMax)
	setInt64("MAX_FILE_SIZE", &c.MaxFileSize)
	setInt64("MAX_OUTPUT", &c.MaxOutput)
	setString("MEMORY_LIMIT", &c.MemoryLimit)
	setInt("CACHE_SIZE", &c.CacheSize)
	setList("IGNORE", &c.Ignore)
	setList("DISABLED_RULES", &c.DisabledRules)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Logging returns the logging configuration for c.
func (c *Config) Logging(w io.Writer) logging.Config {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{Level: level, JSON: c.Log.Format == "json", Writer: w}
}

const header = `# apidrift configuration.
# Every setting can be overridden with an APIDRIFT_* environment variable,
# e.g. APIDRIFT_WORKERS=8 or APIDRIFT_DISABLED_RULES=ChangeParameterAnnotation.
`

// Marshal renders c as a commented YAML document.
func (c *Config) Marshal() ([]byte, error) {
	body, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	return append([]byte(header), body...), nil
}
