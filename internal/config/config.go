package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/logger"
)

//go:embed defaults.yaml
var defaultYAML []byte

// Version is set at runtime from build information
var Version = "dev" // This will be set by the main package during initialization

var validate = validator.New()

// Config holds every sub-config.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"  validate:"required"`
	Relays   RelaysConfig   `mapstructure:"relays"   validate:"required"`
	Cache    CacheConfig    `mapstructure:"cache"    validate:"required"`
	Identity IdentityConfig `mapstructure:"identity"`
	Workers  WorkersConfig  `mapstructure:"workers"  validate:"required"`
	Web      WebConfig      `mapstructure:"web"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

func init() {
	registerCustomValidators()

	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		cfg := sl.Current().Interface().(Config)
		performCrossFieldValidation(sl, cfg)
	}, Config{})
}

var hostnameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)

// registerCustomValidators registers custom validation functions
func registerCustomValidators() {
	// Validate listen address format (":port" or "host:port")
	if err := validate.RegisterValidation("wsaddr", func(fl validator.FieldLevel) bool {
		addr := fl.Field().String()
		if addr == "" {
			return false
		}
		if strings.HasPrefix(addr, ":") {
			port := addr[1:]
			if port == "" {
				return false
			}
			_, err := net.LookupPort("tcp", port)
			return err == nil
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return false
		}
		if _, err := net.LookupPort("tcp", port); err != nil {
			return false
		}
		if host != "" && net.ParseIP(host) == nil && !hostnameRe.MatchString(host) {
			return false
		}
		return true
	}); err != nil {
		logger.Error("Failed to register wsaddr validator", zap.Error(err))
	}

	// Validate relay URL uses a websocket scheme
	if err := validate.RegisterValidation("relay_url", func(fl validator.FieldLevel) bool {
		raw := fl.Field().String()
		if raw == "" {
			return false
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			// Bare hosts are accepted and default to wss on connect
			return hostnameRe.MatchString(raw)
		}
		scheme := strings.ToLower(u.Scheme)
		return scheme == "ws" || scheme == "wss"
	}); err != nil {
		logger.Error("Failed to register relay_url validator", zap.Error(err))
	}

	// Validate secret key is a 64-character hex string
	if err := validate.RegisterValidation("seckey", func(fl validator.FieldLevel) bool {
		key := fl.Field().String()
		if key == "" {
			return true // Optional field
		}
		if len(key) != 64 {
			return false
		}
		matched, _ := regexp.MatchString(`^[a-fA-F0-9]{64}$`, key)
		return matched
	}); err != nil {
		logger.Error("Failed to register seckey validator", zap.Error(err))
	}

	// Validate timeout duration (between 1 second and 1 hour)
	if err := validate.RegisterValidation("timeout_duration", func(fl validator.FieldLevel) bool {
		duration := fl.Field().Interface().(time.Duration)
		return duration >= time.Second && duration <= time.Hour
	}); err != nil {
		logger.Error("Failed to register timeout_duration validator", zap.Error(err))
	}

	// Validate log level
	if err := validate.RegisterValidation("log_level", func(fl validator.FieldLevel) bool {
		level := fl.Field().String()
		validLevels := []string{"debug", "info", "warn", "error", "fatal"}
		for _, valid := range validLevels {
			if level == valid {
				return true
			}
		}
		return false
	}); err != nil {
		logger.Error("Failed to register log_level validator", zap.Error(err))
	}

	// Validate log format
	if err := validate.RegisterValidation("log_format", func(fl validator.FieldLevel) bool {
		format := fl.Field().String()
		return format == "console" || format == "json"
	}); err != nil {
		logger.Error("Failed to register log_format validator", zap.Error(err))
	}

	// Validate buffer size is a power of 2 between 1KB and 1MB
	if err := validate.RegisterValidation("buffer_size", func(fl validator.FieldLevel) bool {
		size := fl.Field().Int()
		if size < 1024 || size > 1048576 {
			return false
		}
		return size&(size-1) == 0
	}); err != nil {
		logger.Error("Failed to register buffer_size validator", zap.Error(err))
	}

	// Validate cache driver name
	if err := validate.RegisterValidation("cache_driver", func(fl validator.FieldLevel) bool {
		driver := fl.Field().String()
		return driver == "memory" || driver == "postgres"
	}); err != nil {
		logger.Error("Failed to register cache_driver validator", zap.Error(err))
	}
}

// performCrossFieldValidation performs validation across multiple fields
func performCrossFieldValidation(sl validator.StructLevel, cfg Config) {
	// The postgres cache driver cannot connect without a URL
	if cfg.Cache.Driver == "postgres" && cfg.Cache.DatabaseURL == "" {
		sl.ReportError(cfg.Cache.DatabaseURL, "DatabaseURL", "DatabaseURL", "database_url_required", "")
	}

	// A pong must be allowed to arrive between two pings
	if cfg.Relays.PongTimeout <= cfg.Relays.PingInterval {
		sl.ReportError(cfg.Relays.PongTimeout, "PongTimeout", "PongTimeout", "pong_before_ping", "")
	}

	// Serving metrics requires the web server
	if cfg.Metrics.Enabled && !cfg.Web.Enabled {
		sl.ReportError(cfg.Metrics.Enabled, "Enabled", "Enabled", "metrics_need_web", "")
	}
}

/* ------------------------------------------------------------------ *
|  Public API                                                         |
* -------------------------------------------------------------------*/

// SetVersion sets the version from build information
func SetVersion(v string) {
	Version = v
}

// Load merges defaults → file (optional) → env vars, validates, and returns cfg.
func Load(path string, log *zap.Logger) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LENS") // LENS_RELAYS_DIAL_TIMEOUT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 1. defaults.yaml (embedded)
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}

	// 2. optional user file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		// Check for config.yaml in current directory if no path specified
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.MergeInConfig(); err != nil {
			if log != nil {
				log.Info("No config.yaml found, using defaults")
			}
		} else if log != nil {
			log.Info("Loaded config.yaml from current directory")
		}
	}

	// 3. env already merged by AutomaticEnv()

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, formatValidationError(err)
	}

	if log != nil {
		log.Info("configuration loaded",
			zap.String("version", Version),
		)
	}
	if err := initializeLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return &cfg, nil
}

// initializeLogger initializes the logger using the LoggingConfig
func initializeLogger(loggingConfig LoggingConfig) error {
	return logger.Init(
		logger.WithLevel(loggingConfig.Level),
		logger.WithFormat(loggingConfig.Format),
		logger.WithFile(loggingConfig.FilePath),
		logger.WithVersion(Version),
		logger.WithComponent("lens"),
		logger.WithRotation(loggingConfig.MaxSize, loggingConfig.MaxBackups, loggingConfig.MaxAge),
	)
}

// formatValidationError converts validator errors into user-friendly messages
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string

		for _, fieldError := range validationErrors {
			messages = append(messages, getFieldErrorMessage(fieldError))
		}

		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(messages, "\n  - "))
	}

	return fmt.Errorf("configuration validation failed: %w", err)
}

// getFieldErrorMessage returns a user-friendly error message for a field validation error
func getFieldErrorMessage(fe validator.FieldError) string {
	field := fe.Field()
	value := fe.Value()
	tag := fe.Tag()
	param := fe.Param()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required but not provided", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, param, value)
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, param, value)
	case "wsaddr":
		return fmt.Sprintf("%s must be a valid listen address in format ':port' or 'host:port' (got: %v)", field, value)
	case "relay_url":
		return fmt.Sprintf("%s must be a ws:// or wss:// URL or bare hostname (got: %v)", field, value)
	case "seckey":
		return fmt.Sprintf("%s must be a 64-character hexadecimal string", field)
	case "timeout_duration":
		return fmt.Sprintf("%s must be between 1 second and 1 hour (got: %v)", field, value)
	case "log_level":
		return fmt.Sprintf("%s must be one of: debug, info, warn, error, fatal (got: %v)", field, value)
	case "log_format":
		return fmt.Sprintf("%s must be either 'console' or 'json' (got: %v)", field, value)
	case "buffer_size":
		return fmt.Sprintf("%s must be a power of 2 between 1KB and 1MB (got: %v)", field, value)
	case "cache_driver":
		return fmt.Sprintf("%s must be either 'memory' or 'postgres' (got: %v)", field, value)
	case "database_url_required":
		return "CACHE.DATABASE_URL is required when the cache driver is 'postgres'"
	case "pong_before_ping":
		return "RELAYS.PONG_TIMEOUT must be longer than RELAYS.PING_INTERVAL"
	case "metrics_need_web":
		return "METRICS.ENABLED requires WEB.ENABLED, metrics are served by the web server"
	default:
		return fmt.Sprintf("%s validation failed: %s (got: %v)", field, tag, value)
	}
}
