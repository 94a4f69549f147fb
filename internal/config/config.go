package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "EXAMFLOW"

// Config is built once per process and passed into every pipeline invocation.
type Config struct {
	// Cloud
	ProjectID        string
	VertexAIRegion   string
	VisionModel      string
	CollectionName   string
	AssetBucket      string
	PackageBucket    string
	WorkflowID       string
	WorkflowLocation string

	// Rendering
	AnalyzerDPI      int
	ExtractDPI       int
	JPEGQuality      int
	MaxImageEdge     int
	MaxAnalyzerPages int

	// Chunk planning
	OverlapTail         float64
	OverlapHead         float64
	AvgQuestionsPerPage int
	MultiPageWindows    bool

	// Extraction calls
	MaxConcurrentCalls int
	MinCallInterval    time.Duration
	CallTimeout        time.Duration
	MaxAttempts        int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	BackoffMultiplier  float64
	BreakerFailures    int
	BreakerCooldown    time.Duration
	MaxOutputTokens    int

	// Reconciliation and post-processing
	ExpectedChoices      int
	FixedExpectedChoices bool
	OrphanMinConfidence  float64
	IndentUnit           string
	AssetConcurrency     int

	LogLevel string
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		VertexAIRegion:   "us-central1",
		VisionModel:      "gemini-1.5-pro",
		CollectionName:   "exams",
		WorkflowLocation: "us-central1",
		WorkflowID:       "exam-delivery",

		AnalyzerDPI:      72,
		ExtractDPI:       150,
		JPEGQuality:      85,
		MaxImageEdge:     3072,
		MaxAnalyzerPages: 20,

		OverlapTail:         0.30,
		OverlapHead:         0.30,
		AvgQuestionsPerPage: 5,
		MultiPageWindows:    true,

		MaxConcurrentCalls: 2,
		MinCallInterval:    time.Second,
		CallTimeout:        90 * time.Second,
		MaxAttempts:        4,
		InitialBackoff:     2 * time.Second,
		MaxBackoff:         30 * time.Second,
		BackoffMultiplier:  2.0,
		BreakerFailures:    5,
		BreakerCooldown:    time.Minute,
		MaxOutputTokens:    8192,

		ExpectedChoices:      4,
		FixedExpectedChoices: false,
		OrphanMinConfidence:  0.6,
		IndentUnit:           "    ",
		AssetConcurrency:     4,

		LogLevel: "info",
	}
}

// DefineFlags registers every setting on fs so the CLI can override it.
func DefineFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("project-id", d.ProjectID, "GCP project ID")
	fs.String("region", d.VertexAIRegion, "Vertex AI region")
	fs.String("model", d.VisionModel, "Vision model name")
	fs.String("collection", d.CollectionName, "Firestore collection for job records")
	fs.String("asset-bucket", d.AssetBucket, "GCS bucket for extracted assets")
	fs.String("package-bucket", d.PackageBucket, "GCS bucket for result packages")
	fs.Int("analyzer-dpi", d.AnalyzerDPI, "Render resolution for structure analysis")
	fs.Int("extract-dpi", d.ExtractDPI, "Render resolution for extraction")
	fs.Int("jpeg-quality", d.JPEGQuality, "JPEG quality of rendered chunks")
	fs.Int("max-image-edge", d.MaxImageEdge, "Longest edge in pixels sent to the model")
	fs.Float64("overlap-tail", d.OverlapTail, "Fraction of the upper page kept in boundary chunks")
	fs.Float64("overlap-head", d.OverlapHead, "Fraction of the lower page kept in boundary chunks")
	fs.Int("avg-questions-per-page", d.AvgQuestionsPerPage, "Fallback questions-per-page estimate")
	fs.Bool("multi-page-windows", d.MultiPageWindows, "Emit two-page window chunks")
	fs.Int("max-concurrent-calls", d.MaxConcurrentCalls, "Concurrent extraction calls")
	fs.Duration("min-call-interval", d.MinCallInterval, "Minimum delay between extraction calls")
	fs.Duration("call-timeout", d.CallTimeout, "Timeout of a single extraction call")
	fs.Int("max-attempts", d.MaxAttempts, "Attempts per chunk on transient provider errors")
	fs.Int("expected-choices", d.ExpectedChoices, "Choices a complete question is expected to have")
	fs.Bool("fixed-expected-choices", d.FixedExpectedChoices, "Never raise expected-choices to the document's most common choice count")
	fs.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
}

// flagKeys maps flag names onto viper keys.
var flagKeys = map[string]string{
	"project-id":             "project_id",
	"region":                 "vertex_ai_region",
	"model":                  "vision_model",
	"collection":             "collection",
	"asset-bucket":           "asset_bucket",
	"package-bucket":         "package_bucket",
	"analyzer-dpi":           "analyzer_dpi",
	"extract-dpi":            "extract_dpi",
	"jpeg-quality":           "jpeg_quality",
	"max-image-edge":         "max_image_edge",
	"overlap-tail":           "overlap_tail",
	"overlap-head":           "overlap_head",
	"avg-questions-per-page": "avg_questions_per_page",
	"multi-page-windows":     "multi_page_windows",
	"max-concurrent-calls":   "max_concurrent_calls",
	"min-call-interval":      "min_call_interval",
	"call-timeout":           "call_timeout",
	"max-attempts":           "max_attempts",
	"expected-choices":       "expected_choices",
	"fixed-expected-choices": "fixed_expected_choices",
	"log-level":              "log_level",
}

// Load builds the configuration from defaults, environment variables (EXAMFLOW_*, plus the plain
// PROJECT_ID / VERTEX_AI_REGION names used by the cloud functions) and, when fs is non-nil, parsed
// command line flags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("project_id", envPrefix+"_PROJECT_ID", "PROJECT_ID", "GOOGLE_CLOUD_PROJECT_ID")
	_ = v.BindEnv("vertex_ai_region", envPrefix+"_VERTEX_AI_REGION", "VERTEX_AI_REGION")
	_ = v.BindEnv("collection", envPrefix+"_COLLECTION", "FIRESTORE_COLLECTION")
	_ = v.BindEnv("asset_bucket", envPrefix+"_ASSET_BUCKET", "ASSET_BUCKET")
	_ = v.BindEnv("package_bucket", envPrefix+"_PACKAGE_BUCKET", "PACKAGE_BUCKET")
	_ = v.BindEnv("workflow_id", envPrefix+"_WORKFLOW_ID", "WORKFLOW_ID")
	_ = v.BindEnv("workflow_location", envPrefix+"_WORKFLOW_LOCATION", "WORKFLOW_LOCATION")

	if fs != nil {
		for flagName, key := range flagKeys {
			if f := fs.Lookup(flagName); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
				}
			}
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("project_id", d.ProjectID)
	v.SetDefault("vertex_ai_region", d.VertexAIRegion)
	v.SetDefault("vision_model", d.VisionModel)
	v.SetDefault("collection", d.CollectionName)
	v.SetDefault("asset_bucket", d.AssetBucket)
	v.SetDefault("package_bucket", d.PackageBucket)
	v.SetDefault("workflow_id", d.WorkflowID)
	v.SetDefault("workflow_location", d.WorkflowLocation)
	v.SetDefault("analyzer_dpi", d.AnalyzerDPI)
	v.SetDefault("extract_dpi", d.ExtractDPI)
	v.SetDefault("jpeg_quality", d.JPEGQuality)
	v.SetDefault("max_image_edge", d.MaxImageEdge)
	v.SetDefault("max_analyzer_pages", d.MaxAnalyzerPages)
	v.SetDefault("overlap_tail", d.OverlapTail)
	v.SetDefault("overlap_head", d.OverlapHead)
	v.SetDefault("avg_questions_per_page", d.AvgQuestionsPerPage)
	v.SetDefault("multi_page_windows", d.MultiPageWindows)
	v.SetDefault("max_concurrent_calls", d.MaxConcurrentCalls)
	v.SetDefault("min_call_interval", d.MinCallInterval)
	v.SetDefault("call_timeout", d.CallTimeout)
	v.SetDefault("max_attempts", d.MaxAttempts)
	v.SetDefault("initial_backoff", d.InitialBackoff)
	v.SetDefault("max_backoff", d.MaxBackoff)
	v.SetDefault("backoff_multiplier", d.BackoffMultiplier)
	v.SetDefault("breaker_failures", d.BreakerFailures)
	v.SetDefault("breaker_cooldown", d.BreakerCooldown)
	v.SetDefault("max_output_tokens", d.MaxOutputTokens)
	v.SetDefault("expected_choices", d.ExpectedChoices)
	v.SetDefault("fixed_expected_choices", d.FixedExpectedChoices)
	v.SetDefault("orphan_min_confidence", d.OrphanMinConfidence)
	v.SetDefault("indent_unit", d.IndentUnit)
	v.SetDefault("asset_concurrency", d.AssetConcurrency)
	v.SetDefault("log_level", d.LogLevel)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		ProjectID:        v.GetString("project_id"),
		VertexAIRegion:   v.GetString("vertex_ai_region"),
		VisionModel:      v.GetString("vision_model"),
		CollectionName:   v.GetString("collection"),
		AssetBucket:      v.GetString("asset_bucket"),
		PackageBucket:    v.GetString("package_bucket"),
		WorkflowID:       v.GetString("workflow_id"),
		WorkflowLocation: v.GetString("workflow_location"),

		AnalyzerDPI:      v.GetInt("analyzer_dpi"),
		ExtractDPI:       v.GetInt("extract_dpi"),
		JPEGQuality:      v.GetInt("jpeg_quality"),
		MaxImageEdge:     v.GetInt("max_image_edge"),
		MaxAnalyzerPages: v.GetInt("max_analyzer_pages"),

		OverlapTail:         v.GetFloat64("overlap_tail"),
		OverlapHead:         v.GetFloat64("overlap_head"),
		AvgQuestionsPerPage: v.GetInt("avg_questions_per_page"),
		MultiPageWindows:    v.GetBool("multi_page_windows"),

		MaxConcurrentCalls: v.GetInt("max_concurrent_calls"),
		MinCallInterval:    v.GetDuration("min_call_interval"),
		CallTimeout:        v.GetDuration("call_timeout"),
		MaxAttempts:        v.GetInt("max_attempts"),
		InitialBackoff:     v.GetDuration("initial_backoff"),
		MaxBackoff:         v.GetDuration("max_backoff"),
		BackoffMultiplier:  v.GetFloat64("backoff_multiplier"),
		BreakerFailures:    v.GetInt("breaker_failures"),
		BreakerCooldown:    v.GetDuration("breaker_cooldown"),
		MaxOutputTokens:    v.GetInt("max_output_tokens"),

		ExpectedChoices:      v.GetInt("expected_choices"),
		FixedExpectedChoices: v.GetBool("fixed_expected_choices"),
		OrphanMinConfidence:  v.GetFloat64("orphan_min_confidence"),
		IndentUnit:           v.GetString("indent_unit"),
		AssetConcurrency:     v.GetInt("asset_concurrency"),

		LogLevel: v.GetString("log_level"),
	}
}

// Validate checks value ranges. Cloud settings are checked separately by RequireCloud because the
// pipeline itself runs without them.
func (c *Config) Validate() error {
	var errs []error
	if c.OverlapTail <= 0 || c.OverlapTail > 1 {
		errs = append(errs, fmt.Errorf("overlap tail must be in (0,1], got %v", c.OverlapTail))
	}
	if c.OverlapHead <= 0 || c.OverlapHead > 1 {
		errs = append(errs, fmt.Errorf("overlap head must be in (0,1], got %v", c.OverlapHead))
	}
	if c.AnalyzerDPI <= 0 || c.ExtractDPI <= 0 {
		errs = append(errs, errors.New("render DPI must be positive"))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality must be in [1,100], got %d", c.JPEGQuality))
	}
	if c.AvgQuestionsPerPage <= 0 {
		errs = append(errs, errors.New("average questions per page must be positive"))
	}
	if c.MaxConcurrentCalls <= 0 {
		errs = append(errs, errors.New("max concurrent calls must be positive"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max attempts must be positive"))
	}
	if c.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("backoff multiplier must be >= 1, got %v", c.BackoffMultiplier))
	}
	if c.ExpectedChoices <= 0 {
		errs = append(errs, errors.New("expected choices must be positive"))
	}
	if c.OrphanMinConfidence < 0 || c.OrphanMinConfidence > 1 {
		errs = append(errs, fmt.Errorf("orphan min confidence must be in [0,1], got %v", c.OrphanMinConfidence))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// RequireCloud checks the settings needed by the Vertex AI, Firestore and GCS adapters.
func (c *Config) RequireCloud() error {
	if c.ProjectID == "" {
		return errors.New("PROJECT_ID environment variable must be set")
	}
	if c.VertexAIRegion == "" {
		return errors.New("VERTEX_AI_REGION must not be empty")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
