package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the bridge process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Tenancy  TenancyConfig
	Dispatch DispatchConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// TenancyConfig locates tenant secret material and the correlation store.
type TenancyConfig struct {
	// SecretsDir is the directory the file-backed secret backend reads
	// "<name>.json" documents from.
	SecretsDir string

	// DefaultTenantSecret is the fallback tenant secret name used when a
	// trigger payload carries no tenant identifier of its own.
	DefaultTenantSecret string

	// CorrelationBucket is "bucket" or "bucket/prefix"; the prefix is
	// prepended to every correlation object key.
	CorrelationBucket string

	// CorrelationTTL bounds how long correlation records live in the
	// backing store. Zero means the store's own retention applies.
	CorrelationTTL time.Duration
}

type DispatchConfig struct {
	// Timeout applies to every outbound HTTP call.
	Timeout time.Duration

	// MaxAttempts bounds a single HTTP dispatch, retries included.
	MaxAttempts int

	// WorkflowMaxAttempts bounds whole-step workflow retries, such as
	// re-triggering call routing. Deliberately distinct from MaxAttempts.
	WorkflowMaxAttempts int

	// BaseDelay is the linear backoff unit between retries.
	BaseDelay time.Duration

	// BatchSize caps how many transcript segments ride in one request.
	BatchSize int

	// DebugLogging enables the dispatch debug hook.
	DebugLogging bool

	// ControlAPIBase is the telephony control-plane endpoint used for
	// reroute and contact-attribute updates. Optional; when empty those
	// actions are disabled.
	ControlAPIBase string

	// TenantCapLimit caps concurrent transcript dispatches per tenant.
	// Zero disables the cap.
	TenantCapLimit int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Tenancy.SecretsDir = strings.TrimSpace(os.Getenv("SECRETS_DIR"))
	c.Tenancy.DefaultTenantSecret = strings.TrimSpace(os.Getenv("DEFAULT_TENANT_SECRET"))
	c.Tenancy.CorrelationBucket = strings.TrimSpace(os.Getenv("CORRELATION_BUCKET"))
	c.Tenancy.CorrelationTTL = optDuration("CORRELATION_TTL")

	c.Dispatch.Timeout = optDuration("DISPATCH_TIMEOUT")
	c.Dispatch.MaxAttempts = optInt("DISPATCH_MAX_ATTEMPTS")
	c.Dispatch.WorkflowMaxAttempts = optInt("WORKFLOW_MAX_ATTEMPTS")
	c.Dispatch.BaseDelay = optDuration("RETRY_BASE_DELAY")
	c.Dispatch.BatchSize = optInt("TRANSCRIPT_BATCH_SIZE")
	c.Dispatch.DebugLogging = optBool("DISPATCH_DEBUG_LOGGING")
	c.Dispatch.ControlAPIBase = strings.TrimSpace(os.Getenv("CONTROL_API_BASE"))
	c.Dispatch.TenantCapLimit = optInt("TENANT_CAP_LIMIT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Tenancy.SecretsDir == "" {
		errs = append(errs, errors.New("SECRETS_DIR is required"))
	}
	if c.Tenancy.CorrelationBucket == "" {
		errs = append(errs, errors.New("CORRELATION_BUCKET is required"))
	}
	if c.IsProduction() && c.Tenancy.DefaultTenantSecret == "" {
		errs = append(errs, errors.New("DEFAULT_TENANT_SECRET is required in production"))
	}

	// Dispatch knobs default rather than fail; bounds are tuning inputs,
	// not correctness inputs.
	if c.Dispatch.Timeout <= 0 {
		c.Dispatch.Timeout = 5 * time.Second
	}
	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = 4
	}
	if c.Dispatch.WorkflowMaxAttempts <= 0 {
		c.Dispatch.WorkflowMaxAttempts = 5
	}
	if c.Dispatch.BaseDelay <= 0 {
		c.Dispatch.BaseDelay = time.Second
	}
	if c.Dispatch.BatchSize <= 0 {
		c.Dispatch.BatchSize = 25
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func optBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
