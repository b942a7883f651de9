// Package config defines the immutable configuration record passed by
// value/shared-handle to every component constructor (spec.md §9 "cyclic
// object graphs" note), modeled on the teacher's core.Config env-tag +
// default-tag pattern.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineOptions are the per-invocation recognized options from spec.md §6.
type EngineOptions struct {
	CreateSprintIfNeeded      bool   `json:"create_sprint_if_needed"`
	AssignTasks               bool   `json:"assign_tasks"`
	CreateCronJob             bool   `json:"create_cronjob"`
	Schedule                  string `json:"schedule"`
	SprintDurationWeeks       int    `json:"sprint_duration_weeks"`
	MaxTasksPerSprint         int    `json:"max_tasks_per_sprint"`
	EnablePatternRecognition  bool   `json:"enable_pattern_recognition"`
}

// DefaultEngineOptions mirrors spec.md §6 defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		CreateSprintIfNeeded:     true,
		AssignTasks:              true,
		CreateCronJob:            true,
		Schedule:                 "0 14 * * 1-5",
		SprintDurationWeeks:      2,
		MaxTasksPerSprint:        10,
		EnablePatternRecognition: true,
	}
}

// Config is the process-wide configuration record. It is built once at
// startup (see cmd/orchestrator) and handed to every component
// constructor; nothing in this package is a mutable global.
type Config struct {
	ServiceName string        `env:"SERVICE_NAME" default:"orchestrator-core"`
	Environment string        `env:"ENVIRONMENT" default:"development"`

	RedisURL    string        `env:"REDIS_URL" default:"redis://localhost:6379/0"`
	EpisodeDSN  string        `env:"EPISODE_DB_DSN"`  // pgxpool DSN, shared by episode+knowledge stores
	ChronicleDSN string       `env:"CHRONICLE_DB_DSN"` // sqlx/lib-pq DSN, separate analytics pool

	EmbeddingModelID string `env:"EMBEDDING_MODEL_ID" default:"amazon.titan-embed-text-v2:0"`
	EmbeddingDim     int    `env:"EMBEDDING_DIM" default:"1024"`

	ProjectServiceURL   string `env:"PROJECT_SERVICE_URL"`
	BacklogServiceURL   string `env:"BACKLOG_SERVICE_URL"`
	SprintServiceURL    string `env:"SPRINT_SERVICE_URL"`
	ChronicleServiceURL string `env:"CHRONICLE_SERVICE_URL"`

	KubernetesNamespace string `env:"KUBERNETES_NAMESPACE" default:"default"`

	CircuitBreakerErrorRatio    float64       `env:"CB_ERROR_RATIO" default:"0.5"`
	CircuitBreakerMonitorWindow time.Duration `env:"CB_MONITOR_WINDOW" default:"60s"`
	CircuitBreakerBrokenTime    time.Duration `env:"CB_BROKEN_TIME" default:"30s"`
	RequestTimeout              time.Duration `env:"REQUEST_TIMEOUT" default:"10s"`

	EpisodeRetrieverCacheSize int           `env:"EPISODE_CACHE_SIZE" default:"100"`
	EpisodeRetrieverCacheTTL  time.Duration `env:"EPISODE_CACHE_TTL" default:"300s"`
	EpisodeRetrieverTimeout   time.Duration `env:"EPISODE_RETRIEVE_TIMEOUT" default:"3s"`

	ChronicleCacheTTL time.Duration `env:"CHRONICLE_CACHE_TTL" default:"30m"`

	ConfidenceThreshold   float64 `env:"CONFIDENCE_THRESHOLD" default:"0.75"`
	MinSimilarProjects    int     `env:"MIN_SIMILAR_PROJECTS" default:"3"`
	MaxAdjustmentPercent  float64 `env:"MAX_ADJUSTMENT_PERCENT" default:"0.5"`

	MinConfidenceThreshold  float64 `env:"MIN_CONFIDENCE_THRESHOLD" default:"0.3"` // C8 pattern combiner floor
	MinEpisodesForPatterns  int     `env:"MIN_EPISODES_FOR_PATTERNS" default:"2"`
	MinSimilarityThreshold  float64 `env:"MIN_SIMILARITY_THRESHOLD" default:"0.6"`

	PatternExtractionDays int     `env:"PATTERN_EXTRACTION_DAYS" default:"30"`
	MinPatternFrequency   int     `env:"MIN_PATTERN_FREQUENCY" default:"3"`
	StrategyPerformanceFloor float64 `env:"STRATEGY_PERFORMANCE_FLOOR" default:"0.25"`

	EpisodeLogQueueCapacity int `env:"EPISODE_LOG_QUEUE_CAPACITY" default:"1000"`

	AgentVersion string `env:"AGENT_VERSION" default:"1.0.0"`

	Defaults EngineOptions
}

// fileOverlay is the shape of the optional YAML config file named by
// CONFIG_FILE. Every field is a pointer so an absent key in the file leaves
// the built-in default untouched; env vars still take final priority over
// both.
type fileOverlay struct {
	ServiceName              *string  `yaml:"service_name"`
	Environment              *string  `yaml:"environment"`
	EmbeddingModelID         *string  `yaml:"embedding_model_id"`
	EmbeddingDim             *int     `yaml:"embedding_dim"`
	KubernetesNamespace      *string  `yaml:"kubernetes_namespace"`
	CircuitBreakerErrorRatio *float64 `yaml:"circuit_breaker_error_ratio"`
	ConfidenceThreshold      *float64 `yaml:"confidence_threshold"`
	MinSimilarProjects       *int     `yaml:"min_similar_projects"`
	MaxAdjustmentPercent     *float64 `yaml:"max_adjustment_percent"`
	MinConfidenceThreshold   *float64 `yaml:"min_confidence_threshold"`
	MinEpisodesForPatterns   *int     `yaml:"min_episodes_for_patterns"`
	MinSimilarityThreshold   *float64 `yaml:"min_similarity_threshold"`
	PatternExtractionDays    *int     `yaml:"pattern_extraction_days"`
	MinPatternFrequency      *int     `yaml:"min_pattern_frequency"`
	StrategyPerformanceFloor *float64 `yaml:"strategy_performance_floor"`
	EpisodeLogQueueCapacity  *int     `yaml:"episode_log_queue_capacity"`
	Defaults                 *struct {
		CreateSprintIfNeeded     *bool   `yaml:"create_sprint_if_needed"`
		AssignTasks              *bool   `yaml:"assign_tasks"`
		CreateCronJob            *bool   `yaml:"create_cronjob"`
		Schedule                 *string `yaml:"schedule"`
		SprintDurationWeeks      *int    `yaml:"sprint_duration_weeks"`
		MaxTasksPerSprint        *int    `yaml:"max_tasks_per_sprint"`
		EnablePatternRecognition *bool   `yaml:"enable_pattern_recognition"`
	} `yaml:"defaults"`
}

// loadFileOverlay reads CONFIG_FILE (if set) as YAML. A missing file,
// unset env var, or parse error all resolve to an empty overlay — the file
// is strictly optional, matching the teacher's own env-first posture.
func loadFileOverlay() fileOverlay {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return fileOverlay{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileOverlay{}
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fileOverlay{}
	}
	return overlay
}

func strDefault(v *string, def string) string {
	if v != nil {
		return *v
	}
	return def
}

func intDefault(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func floatDefault(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func boolDefault(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

// FromEnv builds a Config with the teacher's core.NewConfig priority order:
// built-in defaults, overlaid by an optional CONFIG_FILE YAML document,
// overlaid last by environment variables.
func FromEnv() *Config {
	fo := loadFileOverlay()

	c := &Config{
		ServiceName:                 getEnv("SERVICE_NAME", strDefault(fo.ServiceName, "orchestrator-core")),
		Environment:                 getEnv("ENVIRONMENT", strDefault(fo.Environment, "development")),
		RedisURL:                    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		EpisodeDSN:                  os.Getenv("EPISODE_DB_DSN"),
		ChronicleDSN:                os.Getenv("CHRONICLE_DB_DSN"),
		EmbeddingModelID:            getEnv("EMBEDDING_MODEL_ID", strDefault(fo.EmbeddingModelID, "amazon.titan-embed-text-v2:0")),
		EmbeddingDim:                getEnvInt("EMBEDDING_DIM", intDefault(fo.EmbeddingDim, 1024)),
		ProjectServiceURL:           os.Getenv("PROJECT_SERVICE_URL"),
		BacklogServiceURL:           os.Getenv("BACKLOG_SERVICE_URL"),
		SprintServiceURL:            os.Getenv("SPRINT_SERVICE_URL"),
		ChronicleServiceURL:         os.Getenv("CHRONICLE_SERVICE_URL"),
		KubernetesNamespace:         getEnv("KUBERNETES_NAMESPACE", strDefault(fo.KubernetesNamespace, "default")),
		CircuitBreakerErrorRatio:    getEnvFloat("CB_ERROR_RATIO", floatDefault(fo.CircuitBreakerErrorRatio, 0.5)),
		CircuitBreakerMonitorWindow: getEnvDuration("CB_MONITOR_WINDOW", 60*time.Second),
		CircuitBreakerBrokenTime:    getEnvDuration("CB_BROKEN_TIME", 30*time.Second),
		RequestTimeout:              getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		EpisodeRetrieverCacheSize:   getEnvInt("EPISODE_CACHE_SIZE", 100),
		EpisodeRetrieverCacheTTL:    getEnvDuration("EPISODE_CACHE_TTL", 300*time.Second),
		EpisodeRetrieverTimeout:     getEnvDuration("EPISODE_RETRIEVE_TIMEOUT", 3*time.Second),
		ChronicleCacheTTL:           getEnvDuration("CHRONICLE_CACHE_TTL", 30*time.Minute),
		ConfidenceThreshold:         getEnvFloat("CONFIDENCE_THRESHOLD", floatDefault(fo.ConfidenceThreshold, 0.75)),
		MinSimilarProjects:          getEnvInt("MIN_SIMILAR_PROJECTS", intDefault(fo.MinSimilarProjects, 3)),
		MaxAdjustmentPercent:        getEnvFloat("MAX_ADJUSTMENT_PERCENT", floatDefault(fo.MaxAdjustmentPercent, 0.5)),
		MinConfidenceThreshold:      getEnvFloat("MIN_CONFIDENCE_THRESHOLD", floatDefault(fo.MinConfidenceThreshold, 0.3)),
		MinEpisodesForPatterns:      getEnvInt("MIN_EPISODES_FOR_PATTERNS", intDefault(fo.MinEpisodesForPatterns, 2)),
		MinSimilarityThreshold:      getEnvFloat("MIN_SIMILARITY_THRESHOLD", floatDefault(fo.MinSimilarityThreshold, 0.6)),
		PatternExtractionDays:       getEnvInt("PATTERN_EXTRACTION_DAYS", intDefault(fo.PatternExtractionDays, 30)),
		MinPatternFrequency:         getEnvInt("MIN_PATTERN_FREQUENCY", intDefault(fo.MinPatternFrequency, 3)),
		StrategyPerformanceFloor:    getEnvFloat("STRATEGY_PERFORMANCE_FLOOR", floatDefault(fo.StrategyPerformanceFloor, 0.25)),
		EpisodeLogQueueCapacity:     getEnvInt("EPISODE_LOG_QUEUE_CAPACITY", intDefault(fo.EpisodeLogQueueCapacity, 1000)),
		AgentVersion:                getEnv("AGENT_VERSION", "1.0.0"),
		Defaults:                    defaultEngineOptionsWithOverlay(fo),
	}
	return c
}

func defaultEngineOptionsWithOverlay(fo fileOverlay) EngineOptions {
	d := DefaultEngineOptions()
	if fo.Defaults == nil {
		return d
	}
	od := fo.Defaults
	d.CreateSprintIfNeeded = boolDefault(od.CreateSprintIfNeeded, d.CreateSprintIfNeeded)
	d.AssignTasks = boolDefault(od.AssignTasks, d.AssignTasks)
	d.CreateCronJob = boolDefault(od.CreateCronJob, d.CreateCronJob)
	d.Schedule = strDefault(od.Schedule, d.Schedule)
	d.SprintDurationWeeks = intDefault(od.SprintDurationWeeks, d.SprintDurationWeeks)
	d.MaxTasksPerSprint = intDefault(od.MaxTasksPerSprint, d.MaxTasksPerSprint)
	d.EnablePatternRecognition = boolDefault(od.EnablePatternRecognition, d.EnablePatternRecognition)
	return d
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
