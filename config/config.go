package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ramparthq/rampart/logger"
	"github.com/ramparthq/rampart/util"

	"github.com/go-playground/validator/v10"
	"github.com/hjson/hjson-go/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

var Version string

const DefaultConfigPath = "./config.yaml"

var errInvalidSeverity = errors.New("invalid severity: must be 'critical', 'high', 'medium', or 'low'")
var errReadingConfigFile = errors.New("encountered an error while reading the config file")

const (
	CriticalSeverity Severity = "critical"
	HighSeverity     Severity = "high"
	MediumSeverity   Severity = "medium"
	LowSeverity      Severity = "low"
)

// canonical threat type names, shared by the detectors, the scoring
// engine and the custom rule engine
const (
	ThreatSQLInjection        = "sql_injection"
	ThreatXSSAttack           = "xss_attack"
	ThreatPathScan            = "path_scan"
	ThreatRateLimitExceeded   = "rate_limit_exceeded"
	ThreatSensitivePathAccess = "sensitive_path_access"
	ThreatBadUserAgent        = "bad_user_agent"
	ThreatMultiple404         = "multiple_404"
	ThreatSuspiciousQuery     = "suspicious_query"
)

type (
	Config struct {
		Env       Env `json:"env" validate:"required"`
		Rampart   `validate:"required"`
		Monitor   Monitor   `json:"monitor" validate:"required"`
		Filtering Filtering `json:"filtering" validate:"required"`
		Detection Detection `json:"detection" validate:"required"`
		Analysis  Analysis  `json:"analysis" validate:"required"`
		Scoring   Scoring   `json:"scoring" validate:"required"`
		Firewall  Firewall  `json:"firewall" validate:"required"`
		Scheduler Scheduler `json:"scheduler" validate:"required"`
		API       API       `json:"api"`
		Alerting  Alerting  `json:"alerting"`
		Caching   Caching   `json:"caching"`
		RDNS      RDNS      `json:"rdns"`
		Audit     Audit     `json:"audit" validate:"required"`
	}

	Env struct { // set by .env file
		DBConnection    string `validate:"required,hostname_port"`      // DB_ADDRESS
		DBUsername      string `json:"-"`                               // POSTGRES_USER
		DBPassword      string `json:"-"`                               // POSTGRES_PASSWORD
		DBName          string `validate:"required"`                    // POSTGRES_DB
		RedisAddress    string `validate:"omitempty,hostname_port"`     // REDIS_ADDRESS
		RedisPassword   string `json:"-"`                               // REDIS_PASSWORD
		AlertWebhookURL string `json:"-" validate:"omitempty,http_url"` // ALERT_WEBHOOK_URL
		LogLevel        int8   `validate:"min=0,max=6"`                 // LOG_LEVEL
	}

	Rampart struct {
		UpdateCheckEnabled bool  `json:"update_check_enabled" validate:"boolean"`
		BatchSize          int32 `json:"batch_size" validate:"gte=1,lte=100000"`
	}

	Monitor struct {
		LogPath            string `json:"log_path" validate:"required"`
		Format             string `json:"format" validate:"oneof=combined combined_time"`
		PollIntervalMillis int32  `json:"poll_interval_millis" validate:"gte=10,lte=60000"`
		QueueSize          int32  `json:"queue_size" validate:"gte=100,lte=1000000"`
		Workers            int32  `json:"workers" validate:"gte=1,lte=256"`
	}

	Filtering struct {
		// subnets do not need a validate tag because they are validated when they are unmarshalled
		AllowedSubnets []util.Subnet `json:"allowed_subnets"`
		BlockedSubnets []util.Subnet `json:"blocked_subnets"`
	}

	Detection struct {
		RateLimit            WindowThreshold `json:"rate_limit" validate:"required"`
		PathScan             WindowThreshold `json:"path_scan" validate:"required"`
		SQLInjectionPatterns []string        `json:"sql_injection_patterns" validate:"required,gt=0"`
		XSSPatterns          []string        `json:"xss_patterns" validate:"required,gt=0"`
		SensitivePaths       []string        `json:"sensitive_paths" validate:"required,gt=0"`
		BadUserAgents        []string        `json:"bad_user_agents" validate:"required,gt=0"`
		RequestHistory       int32           `json:"request_history" validate:"gte=100,lte=100000"`
		NotFoundHistory      int32           `json:"not_found_history" validate:"gte=10,lte=10000"`
		RuleReloadSeconds    int32           `json:"rule_reload_seconds" validate:"gte=0,lte=86400"`
	}

	// WindowThreshold describes a sliding window detector: more than
	// MaxCount hits inside the last WindowSeconds triggers a finding.
	WindowThreshold struct {
		WindowSeconds int32 `json:"window_seconds" validate:"gte=1,lte=86400"`
		MaxCount      int32 `json:"max_count" validate:"gte=1,lte=1000000"`
	}

	Analysis struct {
		SameBaseCount      int32   `json:"same_base_count" validate:"gte=2,lte=1000"`
		SampleSize         int32   `json:"sample_size" validate:"gte=10,lte=100000"`
		BehaviorChangeRate float64 `json:"behavior_change_rate" validate:"gt=0,lte=1"`
	}

	Scoring struct {
		BaseScores          BaseScores          `json:"base_scores" validate:"required"`
		SeverityMultipliers SeverityMultipliers `json:"severity_multipliers" validate:"required"`
		BehaviorScores      BehaviorScores      `json:"behavior_scores" validate:"required"`
		Rewards             map[string]float64  `json:"rewards" validate:"omitempty,dive,gte=-200,lte=200"`
		DecayHours          float64             `json:"decay_hours" validate:"gte=1,lte=8760"`
		DecayRate           float64             `json:"decay_rate" validate:"gt=0,lt=1"`
		MaxScore            int32               `json:"max_score" validate:"gte=1,lte=10000"`
		LowRiskScore        int32               `json:"low_risk_score" validate:"gte=1,ltfield=TemporaryThreshold"`
		TemporaryThreshold  int32               `json:"temporary_threshold" validate:"gte=1,ltfield=ExtendedThreshold"`
		ExtendedThreshold   int32               `json:"extended_threshold" validate:"ltfield=PermanentThreshold"`
		PermanentThreshold  int32               `json:"permanent_threshold"`
		TemporaryBanSeconds int32               `json:"temporary_ban_seconds" validate:"gte=1"`
		ExtendedBanSeconds  int32               `json:"extended_ban_seconds" validate:"gtfield=TemporaryBanSeconds"`
		PermanentBanCount   int32               `json:"permanent_ban_count" validate:"gte=2"`
	}

	// BaseScores carries the per threat type score added before the
	// severity multiplier is applied.
	BaseScores struct {
		SQLInjection        float64 `json:"sql_injection" validate:"gte=0,lte=200"`
		XSSAttack           float64 `json:"xss_attack" validate:"gte=0,lte=200"`
		PathScan            float64 `json:"path_scan" validate:"gte=0,lte=200"`
		RateLimitExceeded   float64 `json:"rate_limit_exceeded" validate:"gte=0,lte=200"`
		SensitivePathAccess float64 `json:"sensitive_path_access" validate:"gte=0,lte=200"`
		BadUserAgent        float64 `json:"bad_user_agent" validate:"gte=0,lte=200"`
		Multiple404         float64 `json:"multiple_404" validate:"gte=0,lte=200"`
		SuspiciousQuery     float64 `json:"suspicious_query" validate:"gte=0,lte=200"`
	}

	SeverityMultipliers struct {
		Critical float64 `json:"critical" validate:"gt=0,lte=10"`
		High     float64 `json:"high" validate:"gt=0,lte=10"`
		Medium   float64 `json:"medium" validate:"gt=0,lte=10"`
		Low      float64 `json:"low" validate:"gt=0,lte=10"`
	}

	// BehaviorScores carries the bonus added when the behavior analyzer
	// names a pattern on an identity chain episode.
	BehaviorScores struct {
		ToolSwitching       float64 `json:"tool_switching" validate:"gte=0,lte=200"`
		TimePatternAnomaly  float64 `json:"time_pattern_anomaly" validate:"gte=0,lte=200"`
		GeographicAnomaly   float64 `json:"geographic_anomaly" validate:"gte=0,lte=200"`
		RapidBehaviorChange float64 `json:"rapid_behavior_change" validate:"gte=0,lte=200"`
	}

	Firewall struct {
		Backend               string `json:"backend" validate:"oneof=auto iptables netsh disabled"`
		CommandTimeoutSeconds int32  `json:"command_timeout_seconds" validate:"gte=1,lte=60"`
		RulesPath             string `json:"rules_path"`
	}

	Scheduler struct {
		BanSweepSeconds int32 `json:"ban_sweep_seconds" validate:"gte=10,lte=86400"`
		RetentionDays   int32 `json:"retention_days" validate:"gte=1,lte=3650"`
		RetentionHour   int32 `json:"retention_hour" validate:"gte=0,lte=23"`
	}

	API struct {
		Enabled       bool   `json:"enabled" validate:"boolean"`
		ListenAddress string `json:"listen_address" validate:"required_if=Enabled true,omitempty,hostname_port"`
	}

	Alerting struct {
		Enabled          bool     `json:"enabled" validate:"boolean"`
		MinSeverity      Severity `json:"min_severity" validate:"severity"`
		AlwaysAlertTypes []string `json:"always_alert_types"`
		CooldownSeconds  int32    `json:"cooldown_seconds" validate:"gte=1,lte=86400"`
		TimeoutSeconds   int32    `json:"timeout_seconds" validate:"gte=1,lte=60"`
	}

	Caching struct {
		Enabled         bool  `json:"enabled" validate:"boolean"`
		ScoreTTLSeconds int32 `json:"score_ttl_seconds" validate:"gte=1,lte=86400"`
		RDNSTTLSeconds  int32 `json:"rdns_ttl_seconds" validate:"gte=1,lte=604800"`
	}

	RDNS struct {
		Enabled        bool   `json:"enabled" validate:"boolean"`
		Resolver       string `json:"resolver" validate:"omitempty,hostname_port"`
		TimeoutSeconds int32  `json:"timeout_seconds" validate:"gte=1,lte=30"`
	}

	Audit struct {
		Directory string `json:"directory" validate:"required"`
		MaxSizeMB int32  `json:"max_size_mb" validate:"gte=1,lte=10240"`
	}

	Severity string
)

// ReadFileConfig attempts to read the config file at the specified path and
// returns a config object, using the default config if the file was unable to be read.
// YAML is the primary format; HJSON is accepted by file extension.
func ReadFileConfig(afs afero.Fs, path string) (*Config, error) {
	// read the config file
	contents, err := util.GetFileContents(afs, path)
	if err != nil {
		return nil, err
	}

	// YAML documents are converted to JSON so that both formats flow
	// through the same unmarshalling (and default merging) path
	if isYAMLPath(path) {
		contents, err = yamlToJSON(contents)
		if err != nil {
			return nil, fmt.Errorf("%w, located by default at '%s', please correct the issue in the config and try again:\n\t- %w", errReadingConfigFile, path, err)
		}
	}

	var cfg Config
	if err := unmarshal(contents, &cfg, nil); err != nil {
		return nil, fmt.Errorf("%w, located by default at '%s', please correct the issue in the config and try again:\n\t- %w", errReadingConfigFile, path, err)
	}

	return &cfg, nil
}

// ReadConfigFromMemory reads the config from bytes already read into memory as opposed to reading from a file
// It also provides its own environment struct that must already be completely set
func ReadConfigFromMemory(data []byte, env Env) (*Config, error) {
	var cfg Config
	if err := unmarshal(data, &cfg, &env); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setEnv() error {
	// get the database connection string
	connection := os.Getenv("DB_ADDRESS")
	if connection == "" {
		return errors.New("environment variable DB_ADDRESS not set")
	}
	c.Env.DBConnection = connection

	dbUsername := os.Getenv("POSTGRES_USER")
	if dbUsername == "" {
		return errors.New("environment variable POSTGRES_USER not set")
	}
	c.Env.DBUsername = dbUsername
	dbPassword := os.Getenv("POSTGRES_PASSWORD")
	// don't check if POSTGRES_PASSWORD is set because it can be empty
	c.Env.DBPassword = dbPassword

	dbName := os.Getenv("POSTGRES_DB")
	if dbName == "" {
		dbName = "rampart"
	}
	c.Env.DBName = dbName

	// the cache tier is optional, so the redis address can be empty
	c.Env.RedisAddress = os.Getenv("REDIS_ADDRESS")
	c.Env.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// alert webhooks are optional
	c.Env.AlertWebhookURL = os.Getenv("ALERT_WEBHOOK_URL")

	// get the log level
	logLevelStr := os.Getenv("LOG_LEVEL")
	if logLevelStr == "" {
		return errors.New("environment variable LOG_LEVEL not set")
	}
	logLevel, err := strconv.Atoi(logLevelStr)
	if err != nil {
		return fmt.Errorf("unable to convert LOG_LEVEL to int: %w", err)
	}
	c.Env.LogLevel = int8(logLevel)

	return nil
}

// unmarshal unmarshals the data into the config struct, sets the environment variables, and validates the values
func unmarshal(data []byte, cfg *Config, env *Env) error {
	// unmarshal the config file
	if err := hjson.Unmarshal(data, &cfg); err != nil {
		return err
	}

	// set the environment struct
	// this MUST be done before validating the values, because the
	// validation checks for the presence of the environment variables
	if env == nil {
		// set the environment variables from the actual environment
		if err := cfg.setEnv(); err != nil {
			return fmt.Errorf("unable to set environment: %w", err)
		}
	} else {
		// set the environment variables from the provided environment struct
		cfg.Env = *env
	}

	// validate values
	if err := cfg.Validate(); err != nil {
		return err
	}
	return nil
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON converts a YAML document into JSON bytes so that it can be
// handled by the HJSON unmarshaller (JSON is valid HJSON).
func yamlToJSON(contents []byte) ([]byte, error) {
	var raw interface{}
	if err := yaml.Unmarshal(contents, &raw); err != nil {
		return nil, err
	}
	return jsoniter.Marshal(stringifyKeys(raw))
}

// stringifyKeys rewrites the map[interface{}]interface{} trees produced by
// the YAML parser into map[string]interface{} trees that can be marshalled to JSON
func stringifyKeys(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[fmt.Sprint(k)] = stringifyKeys(item)
		}
		return m
	case []interface{}:
		for i, item := range val {
			val[i] = stringifyKeys(item)
		}
		return val
	}
	return v
}

// UnmarshalJSON unmarshals the JSON bytes into the config struct
// overrides the default unmarshalling method to allow for custom parsing
func (c *Config) UnmarshalJSON(bytes []byte) error {
	// create temporary config struct to unmarshal into
	// not doing this would result in an infinite unmarshalling loop
	type tmpConfig Config
	defaultCfg := GetDefaultConfig()

	// set the default config to a variable of the temporary type
	tmpCfg := tmpConfig(defaultCfg)

	// unmarshal json into the default config struct
	err := hjson.Unmarshal(bytes, &tmpCfg)
	if err != nil {
		return err
	}

	// convert the temporary config struct to a config struct
	cfg := Config(tmpCfg)

	// the loopback ranges must never be bannable
	cfg.Filtering.AllowedSubnets = util.IncludeMandatorySubnets(cfg.Filtering.AllowedSubnets, GetMandatoryAllowedSubnets())
	cfg.Filtering.AllowedSubnets = util.CompactSubnets(cfg.Filtering.AllowedSubnets)

	// clean up blocked subnets
	cfg.Filtering.BlockedSubnets = util.CompactSubnets(cfg.Filtering.BlockedSubnets)

	// set the new config values
	*c = cfg

	return nil
}

// GetDefaultConfig returns a Config object with default values
func GetDefaultConfig() Config {
	// set version to dev if not set
	if Version == "" {
		Version = "dev"
	}

	// set default config values
	cfg := defaultConfig()

	return cfg
}

// Reset resets the config values to default
// note: Env values are not reset
func (cfg *Config) Reset() error {
	// store the environment values before resetting
	env := cfg.Env

	// get the default config
	newConfig := GetDefaultConfig()

	*cfg = newConfig
	cfg.Env = env

	// validate the config struct
	if err := cfg.Validate(); err != nil {
		return err
	}

	return nil
}

// Validate validates the config struct values
func (cfg *Config) Validate() error {
	zlog := logger.GetLogger()
	zlog.Debug().Interface("config", cfg).Msg("validating config")

	// create a new validator
	validate, err := NewValidator()
	if err != nil {
		return err
	}

	// validate the config struct
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	return nil
}

// NewValidator creates a new validator with custom validation rules
func NewValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	// register custom validation for severity
	if err := v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		value := fl.Field().Interface().(Severity)
		err := ValidateSeverity(value)
		return err == nil
	}); err != nil {
		return nil, err
	}

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		value := sl.Current().Interface().(Scoring)
		if value.MaxScore < value.PermanentThreshold {
			sl.ReportError(value.MaxScore, "MaxScore", "Scoring", "score_ceiling", "")
		}
	}, Scoring{})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		value := sl.Current().Interface().(WindowThreshold)
		// a window shorter than a second per allowed hit cannot trip
		if value.WindowSeconds < 1 || value.MaxCount < 1 {
			sl.ReportError(value.WindowSeconds, "WindowSeconds", "WindowThreshold", "window_threshold", "")
		}
	}, WindowThreshold{})

	return v, nil
}

// ValidateSeverity checks if the provided string is a valid severity value.
// this function is meant to parse the severity from the value a user places in the config
func ValidateSeverity(value Severity) error {
	switch value {
	case CriticalSeverity, HighSeverity, MediumSeverity, LowSeverity:
		return nil
	default:
		return errInvalidSeverity
	}
}

// SeverityRank maps a severity onto an ordinal so that severities can be
// compared against the alerting floor; unknown severities rank lowest.
func SeverityRank(value Severity) int {
	switch value {
	case CriticalSeverity:
		return 4
	case HighSeverity:
		return 3
	case MediumSeverity:
		return 2
	case LowSeverity:
		return 1
	}
	return 0
}

// ScoreFor returns the base score for a threat type. Threat types without a
// configured base score (custom rule names, for one) fall back to 10.
func (b *BaseScores) ScoreFor(threatType string) float64 {
	switch threatType {
	case ThreatSQLInjection:
		return b.SQLInjection
	case ThreatXSSAttack:
		return b.XSSAttack
	case ThreatPathScan:
		return b.PathScan
	case ThreatRateLimitExceeded:
		return b.RateLimitExceeded
	case ThreatSensitivePathAccess:
		return b.SensitivePathAccess
	case ThreatBadUserAgent:
		return b.BadUserAgent
	case ThreatMultiple404:
		return b.Multiple404
	case ThreatSuspiciousQuery:
		return b.SuspiciousQuery
	}
	return 10
}

// MultiplierFor returns the score multiplier for a severity, defaulting to
// the medium multiplier for unknown severities.
func (m *SeverityMultipliers) MultiplierFor(severity Severity) float64 {
	switch severity {
	case CriticalSeverity:
		return m.Critical
	case HighSeverity:
		return m.High
	case MediumSeverity:
		return m.Medium
	case LowSeverity:
		return m.Low
	}
	return m.Medium
}

// RewardFor returns the configured delta for a named reward. Rewards are
// negative deltas; unconfigured rewards return 0, which the scoring engine
// treats as a no-op.
func (s *Scoring) RewardFor(reward string) float64 {
	return s.Rewards[reward]
}

// ScoreFor returns the bonus for a named behavior pattern. Patterns without
// a configured bonus return 0, which the scoring engine treats as a no-op.
func (b *BehaviorScores) ScoreFor(pattern string) float64 {
	switch pattern {
	case "tool_switching":
		return b.ToolSwitching
	case "time_pattern_anomaly":
		return b.TimePatternAnomaly
	case "geographic_anomaly":
		return b.GeographicAnomaly
	case "rapid_behavior_change":
		return b.RapidBehaviorChange
	}
	return 0
}

func (s Severity) String() string {
	return string(s)
}

// return a copy of the default config object
func defaultConfig() Config {
	return Config{
		Rampart: Rampart{
			UpdateCheckEnabled: true,
			BatchSize:          1000,
		},
		Monitor: Monitor{
			LogPath:            "/var/log/nginx/access.log",
			Format:             "combined",
			PollIntervalMillis: 100,
			QueueSize:          10000,
			Workers:            4,
		},
		Filtering: Filtering{
			AllowedSubnets: GetMandatoryAllowedSubnets(),
			BlockedSubnets: []util.Subnet{},
		},
		Detection: Detection{
			RateLimit: WindowThreshold{WindowSeconds: 60, MaxCount: 100},
			PathScan:  WindowThreshold{WindowSeconds: 300, MaxCount: 20},
			SQLInjectionPatterns: []string{
				"union.*select",
				"select.*from",
				"insert.*into",
				"delete.*from",
				"drop.*table",
				"exec.*xp_",
				"'; --",
				"' or '1'='1",
				"admin'--",
				"' or 1=1--",
			},
			XSSPatterns: []string{
				"<script",
				"javascript:",
				"onerror=",
				"onload=",
				"eval\\(",
				"alert\\(",
				"document.cookie",
				"<iframe",
			},
			SensitivePaths: []string{
				"/.env",
				"/.git",
				"/admin",
				"/phpmyadmin",
				"/wp-admin",
				"/.aws",
				"/.ssh",
				"/config",
				"/backup",
			},
			BadUserAgents: []string{
				"masscan",
				"nmap",
				"nikto",
				"sqlmap",
				"acunetix",
				"burpsuite",
				"metasploit",
				"nessus",
			},
			RequestHistory:    1000,
			NotFoundHistory:   100,
			RuleReloadSeconds: 60,
		},
		Analysis: Analysis{
			SameBaseCount:      10,
			SampleSize:         1000,
			BehaviorChangeRate: 0.3,
		},
		Scoring: Scoring{
			BaseScores: BaseScores{
				SQLInjection:        50,
				XSSAttack:           40,
				PathScan:            30,
				RateLimitExceeded:   25,
				SensitivePathAccess: 15,
				BadUserAgent:        20,
				Multiple404:         10,
				SuspiciousQuery:     15,
			},
			SeverityMultipliers: SeverityMultipliers{
				Critical: 2.0,
				High:     1.5,
				Medium:   1.0,
				Low:      0.5,
			},
			BehaviorScores: BehaviorScores{
				ToolSwitching:       30,
				TimePatternAnomaly:  15,
				GeographicAnomaly:   20,
				RapidBehaviorChange: 25,
			},
			// negative deltas for named good behaviors, empty by default;
			// admins populate this from the config file
			Rewards:      map[string]float64{},
			DecayHours:   24,
			DecayRate:    0.5,
			MaxScore:     200,
			LowRiskScore: 30,

			TemporaryThreshold: 60,
			ExtendedThreshold:  100,
			PermanentThreshold: 150,

			TemporaryBanSeconds: 3600,  // 1 hour
			ExtendedBanSeconds:  86400, // 24 hours
			PermanentBanCount:   5,
		},
		Firewall: Firewall{
			Backend:               "auto",
			CommandTimeoutSeconds: 10,
			RulesPath:             "/etc/iptables/rules.v4",
		},
		Scheduler: Scheduler{
			BanSweepSeconds: 300,
			RetentionDays:   3,
			RetentionHour:   3,
		},
		API: API{
			Enabled:       true,
			ListenAddress: "127.0.0.1:8000",
		},
		Alerting: Alerting{
			Enabled:          true,
			MinSeverity:      HighSeverity,
			AlwaysAlertTypes: []string{},
			CooldownSeconds:  300,
			TimeoutSeconds:   5,
		},
		Caching: Caching{
			Enabled:         true,
			ScoreTTLSeconds: 300,
			RDNSTTLSeconds:  86400,
		},
		RDNS: RDNS{
			Enabled:        true,
			Resolver:       "",
			TimeoutSeconds: 2,
		},
		Audit: Audit{
			Directory: "./logs/audit",
			MaxSizeMB: 100,
		},
	}
}

// ONLY TO BE CALLED IN TESTS
// helper function to set the env variables from the test environment
func (c *Config) SetTestEnv() error {
	return c.setEnv()
}

// ReadTestFileConfig is for TESTS only
func ReadTestFileConfig(afs afero.Fs, path string) (*Config, error) {
	// read the config file
	contents, err := util.GetFileContents(afs, path)
	if err != nil {
		return nil, err
	}

	if isYAMLPath(path) {
		contents, err = yamlToJSON(contents)
		if err != nil {
			return nil, err
		}
	}

	// create a temporary config just to generate the environment
	var tmpCfg Config
	if err := tmpCfg.setEnv(); err != nil {
		return nil, fmt.Errorf("unable to set environment variables for TEST environment")
	}

	var cfg Config
	if err := unmarshal(contents, &cfg, &tmpCfg.Env); err != nil {
		return nil, fmt.Errorf("%w, located by default at '%s', please correct the issue in the config and try again:\n\t- %w", errReadingConfigFile, path, err)
	}

	return &cfg, nil
}
