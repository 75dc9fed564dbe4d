package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Telephony TelephonyConfig
	Speech    SpeechConfig
	Stream    StreamConfig
	Calendar  CalendarConfig
	Scheduler SchedulerConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable https base used when
	// registering provider webhooks and building media-stream URLs.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for managed-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// TelephonyConfig carries provider credentials. AuthToken doubles as the
// webhook signing secret: the provider signs callbacks with the account
// auth token. An empty token outside local/dev fails validation so that
// signature checks are never silently skipped in a non-development context.
type TelephonyConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

type SpeechConfig struct {
	APIKey string
	URL    string // wss endpoint of the realtime speech service
	Voice  string

	InputAudioFormat  string
	OutputAudioFormat string

	TurnDetectionType string
	TurnThreshold     float64
	PrefixPaddingMs   int
	SilenceDurationMs int
	Temperature       float64
}

type StreamConfig struct {
	// TokenSecret signs short-lived stream tokens embedded in media-stream
	// URLs handed to the telephony provider.
	TokenSecret string
	TokenTTL    time.Duration

	// MaxSessionsPerUser caps concurrent relay sessions per owning user.
	MaxSessionsPerUser int
}

type CalendarConfig struct {
	// TokenKey is the 32-byte AES key (base64, std encoding) used to decrypt
	// stored calendar credentials. Tokens are issued and encrypted by the
	// onboarding flow; this process only reads them.
	TokenKey   string
	CalendarID string
}

type SchedulerConfig struct {
	Interval time.Duration
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
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_PUBLIC_BASE_URL")), "/")

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

	c.Telephony.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Telephony.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Telephony.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))

	c.Speech.APIKey = os.Getenv("SPEECH_API_KEY")
	c.Speech.URL = strings.TrimSpace(os.Getenv("SPEECH_REALTIME_URL"))
	c.Speech.Voice = strings.TrimSpace(os.Getenv("SPEECH_VOICE"))
	c.Speech.InputAudioFormat = strings.TrimSpace(os.Getenv("SPEECH_INPUT_FORMAT"))
	c.Speech.OutputAudioFormat = strings.TrimSpace(os.Getenv("SPEECH_OUTPUT_FORMAT"))
	c.Speech.TurnDetectionType = strings.TrimSpace(os.Getenv("SPEECH_TURN_DETECTION"))
	c.Speech.TurnThreshold = optionalFloat("SPEECH_TURN_THRESHOLD")
	c.Speech.PrefixPaddingMs = optionalInt("SPEECH_PREFIX_PADDING_MS")
	c.Speech.SilenceDurationMs = optionalInt("SPEECH_SILENCE_DURATION_MS")
	c.Speech.Temperature = optionalFloat("SPEECH_TEMPERATURE")

	c.Stream.TokenSecret = os.Getenv("STREAM_TOKEN_SECRET")
	c.Stream.TokenTTL = mustDuration("STREAM_TOKEN_TTL")
	c.Stream.MaxSessionsPerUser = optionalInt("STREAM_MAX_SESSIONS_PER_USER")

	c.Calendar.TokenKey = os.Getenv("CALENDAR_TOKEN_KEY")
	c.Calendar.CalendarID = strings.TrimSpace(os.Getenv("CALENDAR_ID"))

	c.Scheduler.Interval = mustDuration("SCHEDULER_INTERVAL")

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
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("APP_PUBLIC_BASE_URL is required"))
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

	if c.Telephony.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	// Fatal-only condition: a missing signing secret aborts startup outside
	// development rather than running with verification disabled.
	if c.Telephony.AuthToken == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required outside local/dev"))
	}
	if c.Telephony.FromNumber == "" {
		errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required"))
	}

	if c.Speech.APIKey == "" {
		errs = append(errs, errors.New("SPEECH_API_KEY is required"))
	}
	if c.Speech.URL == "" {
		errs = append(errs, errors.New("SPEECH_REALTIME_URL is required"))
	}
	if c.Speech.Voice == "" {
		c.Speech.Voice = "alloy"
	}
	if c.Speech.InputAudioFormat == "" {
		c.Speech.InputAudioFormat = "g711_ulaw"
	}
	if c.Speech.OutputAudioFormat == "" {
		c.Speech.OutputAudioFormat = "g711_ulaw"
	}
	if c.Speech.TurnDetectionType == "" {
		c.Speech.TurnDetectionType = "server_vad"
	}
	if c.Speech.TurnThreshold <= 0 {
		c.Speech.TurnThreshold = 0.5
	}
	if c.Speech.PrefixPaddingMs <= 0 {
		c.Speech.PrefixPaddingMs = 300
	}
	if c.Speech.SilenceDurationMs <= 0 {
		c.Speech.SilenceDurationMs = 500
	}
	if c.Speech.Temperature <= 0 {
		c.Speech.Temperature = 0.8
	}

	if c.Stream.TokenSecret == "" {
		errs = append(errs, errors.New("STREAM_TOKEN_SECRET is required"))
	}
	if c.Stream.TokenTTL <= 0 {
		// Streams start within seconds of the answer webhook.
		c.Stream.TokenTTL = 5 * time.Minute
	}
	if c.Stream.MaxSessionsPerUser <= 0 {
		c.Stream.MaxSessionsPerUser = 3
	}

	if c.Calendar.TokenKey == "" && c.IsProduction() {
		errs = append(errs, errors.New("CALENDAR_TOKEN_KEY is required in production"))
	}
	if c.Calendar.CalendarID == "" {
		c.Calendar.CalendarID = "primary"
	}

	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = 30 * time.Second
	}

	return joinErrors(errs)
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// IsDevelopment reports whether relaxed verification modes are allowed.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c *Config) PostgresDSN() string {
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

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// MediaStreamURL builds the wss endpoint the telephony provider connects to,
// carrying a signed stream token.
func (c *Config) MediaStreamURL(token string) string {
	base := strings.Replace(c.App.PublicBaseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return fmt.Sprintf("%s/media-stream?token=%s", base, token)
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

func optionalInt(key string) int {
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

func optionalFloat(key string) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func mustDuration(key string) time.Duration {
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
