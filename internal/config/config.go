// Package config assembles the service configuration from, in increasing
// priority: built-in defaults, an optional JSON file, environment
// variables, and command-line flags.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the service.
type Config struct {
	RunAddr                    string        `env:"SERVER_ADDRESS" json:"server_address" validate:"hostname_port"`
	ShortURLBase               string        `env:"BASE_URL" json:"base_url" validate:"url"`
	LogLevel                   string        `env:"LOG_LEVEL" json:"log_level" validate:"loglevel"`
	DBFileName                 string        `env:"FILE_STORAGE_PATH" json:"file_storage_path" validate:"omitempty,filepath_creatable"`
	DatabaseDSN                string        `env:"DATABASE_DSN" json:"database_dsn"`
	DBConnectionTimeout        time.Duration `env:"DB_CONNECTION_TIMEOUT" json:"db_connection_timeout"`
	MigrationsDir              string        `env:"MIGRATIONS_DIR" json:"migrations_dir"`
	AuthCookieName             string        `env:"AUTH_COOKIE_NAME" json:"auth_cookie_name"`
	AuthCookieSigningSecretKey string        `env:"AUTH_COOKIE_SIGNING_SECRET_KEY" json:"auth_cookie_signing_secret_key"`
	OwnerName                  string        `env:"OWNER_NAME" json:"owner_name"`
	OwnerEmail                 string        `env:"OWNER_EMAIL" json:"owner_email" validate:"omitempty,email"`
	OwnerPassword              string        `env:"OWNER_PASSWORD" json:"owner_password"`
	TrustedSubnet              string        `env:"TRUSTED_SUBNET" json:"trusted_subnet" validate:"omitempty,cidr"`
	ChannelCapacity            int           `env:"CHANNEL_CAPACITY" json:"channel_capacity"`
	DelayBetweenQueueFetches   time.Duration `env:"DELAY_BETWEEN_QUEUE_FETCHES" json:"delay_between_queue_fetches"`
	PaymentGatewayURL          string        `env:"PAYMENT_GATEWAY_URL" json:"payment_gateway_url" validate:"omitempty,url"`
	PaymentGatewayKeyID        string        `env:"PAYMENT_GATEWAY_KEY_ID" json:"payment_gateway_key_id"`
	PaymentGatewayKeySecret    string        `env:"PAYMENT_GATEWAY_KEY_SECRET" json:"payment_gateway_key_secret"`
}

var defaultConfig = Config{
	RunAddr:                  ":8080",
	ShortURLBase:             "http://localhost:8080",
	LogLevel:                 "info",
	DBConnectionTimeout:      10 * time.Second,
	MigrationsDir:            "migrations",
	AuthCookieName:           "quicklnk_session",
	ChannelCapacity:          1024,
	DelayBetweenQueueFetches: 5 * time.Second,
}

// InitOption tweaks how New assembles the configuration.
type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
}

// WithDisableFlagsParsing controls whether command-line flags are parsed.
// Tests disable parsing to avoid fighting over os.Args.
func WithDisableFlagsParsing(disable bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disable
	}
}

// New loads the configuration. Later sources win: defaults, then the JSON
// file pointed at by -c or CONFIG, then environment variables, then flags.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("Unable to load .env file: %v", err)
	}

	values := &Config{}

	flagValues, setFlags, err := parseFlags(options.disableFlagsParsing)
	if err != nil {
		return nil, err
	}

	configFile := os.Getenv("CONFIG")
	if fromFlags, ok := setFlags["c"]; ok {
		configFile = fromFlags
	}
	if configFile != "" {
		if err := loadJSONFile(values, configFile); err != nil {
			return nil, err
		}
	}

	var envValues Config
	if err := env.Parse(&envValues); err != nil {
		return nil, fmt.Errorf(
			"in internal/config/config.go/New(): error while `env.Parse()` calling: %w",
			err,
		)
	}
	overlay(values, &envValues)

	if !options.disableFlagsParsing {
		overlaySetFlags(values, flagValues, setFlags)
	}

	applyDefaults(values, defaultConfig)

	if err := validate(values); err != nil {
		return nil, err
	}

	return values, nil
}

func parseFlags(disabled bool) (*Config, map[string]string, error) {
	if disabled {
		return &Config{}, map[string]string{}, nil
	}

	flagValues := &Config{}
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flags.StringVar(&flagValues.RunAddr, "a", "", "address and port to run server")
	flags.StringVar(&flagValues.ShortURLBase, "b", "", "base address of the resulting shortened URL")
	flags.StringVar(&flagValues.LogLevel, "l", "", "logger level")
	flags.StringVar(&flagValues.DBFileName, "f", "", "JSON file name with database")
	flags.StringVar(&flagValues.DatabaseDSN, "d", "", "database connection string")
	flags.StringVar(&flagValues.TrustedSubnet, "t", "", "trusted subnet for internal endpoints, in CIDR notation")
	var configFile string
	flags.StringVar(&configFile, "c", "", "path to a JSON configuration file")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, nil, fmt.Errorf(
			"in internal/config/config.go/parseFlags(): error while `flags.Parse()` calling: %w",
			err,
		)
	}

	setFlags := map[string]string{}
	flags.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = f.Value.String()
	})

	return flagValues, setFlags, nil
}

func loadJSONFile(target *Config, fileName string) error {
	raw, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf(
			"in internal/config/config.go/loadJSONFile(): error while `os.ReadFile()` calling: %w",
			err,
		)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf(
			"in internal/config/config.go/loadJSONFile(): error while `json.Unmarshal()` calling: %w",
			err,
		)
	}

	return nil
}

// overlay copies every non-zero field of source over target.
func overlay(target, source *Config) {
	if source.RunAddr != "" {
		target.RunAddr = source.RunAddr
	}
	if source.ShortURLBase != "" {
		target.ShortURLBase = source.ShortURLBase
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.DBFileName != "" {
		target.DBFileName = source.DBFileName
	}
	if source.DatabaseDSN != "" {
		target.DatabaseDSN = source.DatabaseDSN
	}
	if source.DBConnectionTimeout != 0 {
		target.DBConnectionTimeout = source.DBConnectionTimeout
	}
	if source.MigrationsDir != "" {
		target.MigrationsDir = source.MigrationsDir
	}
	if source.AuthCookieName != "" {
		target.AuthCookieName = source.AuthCookieName
	}
	if source.AuthCookieSigningSecretKey != "" {
		target.AuthCookieSigningSecretKey = source.AuthCookieSigningSecretKey
	}
	if source.OwnerName != "" {
		target.OwnerName = source.OwnerName
	}
	if source.OwnerEmail != "" {
		target.OwnerEmail = source.OwnerEmail
	}
	if source.OwnerPassword != "" {
		target.OwnerPassword = source.OwnerPassword
	}
	if source.TrustedSubnet != "" {
		target.TrustedSubnet = source.TrustedSubnet
	}
	if source.ChannelCapacity != 0 {
		target.ChannelCapacity = source.ChannelCapacity
	}
	if source.DelayBetweenQueueFetches != 0 {
		target.DelayBetweenQueueFetches = source.DelayBetweenQueueFetches
	}
	if source.PaymentGatewayURL != "" {
		target.PaymentGatewayURL = source.PaymentGatewayURL
	}
	if source.PaymentGatewayKeyID != "" {
		target.PaymentGatewayKeyID = source.PaymentGatewayKeyID
	}
	if source.PaymentGatewayKeySecret != "" {
		target.PaymentGatewayKeySecret = source.PaymentGatewayKeySecret
	}
}

func overlaySetFlags(target, flagValues *Config, setFlags map[string]string) {
	if _, ok := setFlags["a"]; ok {
		target.RunAddr = flagValues.RunAddr
	}
	if _, ok := setFlags["b"]; ok {
		target.ShortURLBase = flagValues.ShortURLBase
	}
	if _, ok := setFlags["l"]; ok {
		target.LogLevel = flagValues.LogLevel
	}
	if _, ok := setFlags["f"]; ok {
		target.DBFileName = flagValues.DBFileName
	}
	if _, ok := setFlags["d"]; ok {
		target.DatabaseDSN = flagValues.DatabaseDSN
	}
	if _, ok := setFlags["t"]; ok {
		target.TrustedSubnet = flagValues.TrustedSubnet
	}
}

// applyDefaults fills still-zero fields of target from defaults.
func applyDefaults(target *Config, defaults Config) {
	reversed := *target
	*target = defaults
	overlay(target, &reversed)
}

func validateCreatableFilePath(fieldLevel validator.FieldLevel) bool {
	_, err := os.Stat(fieldLevel.Field().String())

	return err == nil || os.IsNotExist(err)
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	allowedLogLevels := map[string]bool{
		"debug":   true,
		"info":    true,
		"warning": true,
		"error":   true,
		"fatal":   true,
	}

	return allowedLogLevels[fieldLevel.Field().String()]
}

func validate(values *Config) error {
	checker := validator.New()

	if err := checker.RegisterValidation("loglevel", validateLogLevel); err != nil {
		return err
	}

	if err := checker.RegisterValidation("filepath_creatable", validateCreatableFilePath); err != nil {
		return err
	}

	return checker.Struct(values)
}
