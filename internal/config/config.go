package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind              string  `yaml:"bind"`
	Port              int     `yaml:"port"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxUploadBytes    int64   `yaml:"max_upload_bytes"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Voices      VoicesConfig    `yaml:"voices"`
	Engines     EnginesConfig   `yaml:"engines"`
	Progress    ProgressConfig  `yaml:"progress"`
	Jobs        JobsConfig      `yaml:"jobs"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// BuiltinVoice is a custom voice shipped with the deployment.
type BuiltinVoice struct {
	ID       string `yaml:"id"`
	FilePath string `yaml:"file_path"`
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
}

type VoicesConfig struct {
	DBPath         string            `yaml:"db_path"`
	Directory      string            `yaml:"directory"`
	BaseDir        string            `yaml:"base_dir"`
	CustomPrefix   string            `yaml:"custom_prefix"`
	DefaultPreset  string            `yaml:"default_preset"`
	PresetLanguage string            `yaml:"preset_language"`
	Presets        map[string]string `yaml:"presets"`
	Builtin        []BuiltinVoice    `yaml:"builtin"`
	LegacyRegistry string            `yaml:"legacy_registry"`
}

type EngineConfig struct {
	Mode       string  `yaml:"mode"` // mock, exec, http
	Command    string  `yaml:"command"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate int     `yaml:"sample_rate"`
	MaxChars   int     `yaml:"max_chars"`
	Speed      float64 `yaml:"speed"`
	TimeoutMS  int     `yaml:"timeout_ms"`
}

type EnginesConfig struct {
	Preset EngineConfig `yaml:"preset"`
	Clone  EngineConfig `yaml:"clone"`
}

type ProgressConfig struct {
	Capacity int `yaml:"capacity"`
}

type JobsConfig struct {
	Workers          int    `yaml:"workers"`
	QueueSize        int    `yaml:"queue_size"`
	MaxChars         int    `yaml:"max_chars"`
	Policy           string `yaml:"policy"`
	DefaultLanguage  string `yaml:"default_language"`
	SpeakerWAV       string `yaml:"speaker_wav"`
	ArtifactDir      string `yaml:"artifact_dir"`
	RetentionMinutes int    `yaml:"retention_minutes"`
	MaxJobs          int    `yaml:"max_jobs"`
	SweepIntervalMS  int    `yaml:"sweep_interval_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-tts",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:              "127.0.0.1",
			Port:              8000,
			RequestsPerSecond: 0,
			Burst:             4,
			MaxUploadBytes:    25 << 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Voices: VoicesConfig{
			DBPath:         "./data/voices.db",
			Directory:      "./voices",
			BaseDir:        ".",
			CustomPrefix:   "custom_",
			DefaultPreset:  "gentleman_deep",
			PresetLanguage: "en",
			Presets: map[string]string{
				"gentleman_deep": "p236",
				"gentleman_soft": "p230",
				"boy_casual":     "p253",
				"boy_energy":     "p243",
				"girl_warm":      "p276",
				"girl_story":     "p280",
				"girl_crisp":     "p294",
				"girl_friendly":  "p345",
				"radio_host":     "p270",
				"movie_trailer":  "p262",
				"soft_whisper":   "p248",
				"news_anchor":    "p283",
			},
			Builtin: []BuiltinVoice{
				{ID: "custom_deep_story_female", FilePath: "voices/deep_story_female.wav", Name: "Deep Story Female", Language: "en"},
				{ID: "custom_deep_story_male", FilePath: "voices/deep_story_male.mp3", Name: "Deep Story Male", Language: "en"},
				{ID: "custom_jesus_voice", FilePath: "voices/jesus_custom.mp3", Name: "Jesus Style Voice", Language: "en"},
			},
		},
		Engines: EnginesConfig{
			Preset: EngineConfig{
				Mode:       "mock",
				SampleRate: 22050,
				MaxChars:   450,
				TimeoutMS:  120000,
			},
			Clone: EngineConfig{
				Mode:       "mock",
				SampleRate: 24000,
				MaxChars:   200,
				Speed:      1.3,
				TimeoutMS:  300000,
			},
		},
		Progress: ProgressConfig{
			Capacity: 1024,
		},
		Jobs: JobsConfig{
			Workers:          2,
			QueueSize:        64,
			MaxChars:         300,
			Policy:           "accumulate",
			DefaultLanguage:  "hi",
			SpeakerWAV:       "sample.wav",
			ArtifactDir:      "./data/jobs",
			RetentionMinutes: 24 * 60,
			MaxJobs:          1000,
			SweepIntervalMS:  60000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideFloat(&cfg.HTTP.RequestsPerSecond, "LOQA_HTTP_REQUESTS_PER_SECOND")
	overrideInt(&cfg.HTTP.Burst, "LOQA_HTTP_BURST")
	overrideInt64(&cfg.HTTP.MaxUploadBytes, "LOQA_HTTP_MAX_UPLOAD_BYTES")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Voices.DBPath, "LOQA_VOICES_DB_PATH")
	overrideString(&cfg.Voices.Directory, "LOQA_VOICES_DIRECTORY")
	overrideString(&cfg.Voices.BaseDir, "LOQA_VOICES_BASE_DIR")
	overrideString(&cfg.Voices.CustomPrefix, "LOQA_VOICES_CUSTOM_PREFIX")
	overrideString(&cfg.Voices.DefaultPreset, "LOQA_VOICES_DEFAULT_PRESET")
	overrideString(&cfg.Voices.PresetLanguage, "LOQA_VOICES_PRESET_LANGUAGE")
	overrideString(&cfg.Voices.LegacyRegistry, "LOQA_VOICES_LEGACY_REGISTRY")
	overrideEngine(&cfg.Engines.Preset, "LOQA_ENGINES_PRESET")
	overrideEngine(&cfg.Engines.Clone, "LOQA_ENGINES_CLONE")
	overrideInt(&cfg.Progress.Capacity, "LOQA_PROGRESS_CAPACITY")
	overrideInt(&cfg.Jobs.Workers, "LOQA_JOBS_WORKERS")
	overrideInt(&cfg.Jobs.QueueSize, "LOQA_JOBS_QUEUE_SIZE")
	overrideInt(&cfg.Jobs.MaxChars, "LOQA_JOBS_MAX_CHARS")
	overrideString(&cfg.Jobs.Policy, "LOQA_JOBS_POLICY")
	overrideString(&cfg.Jobs.DefaultLanguage, "LOQA_JOBS_DEFAULT_LANGUAGE")
	overrideString(&cfg.Jobs.SpeakerWAV, "LOQA_JOBS_SPEAKER_WAV")
	overrideString(&cfg.Jobs.ArtifactDir, "LOQA_JOBS_ARTIFACT_DIR")
	overrideInt(&cfg.Jobs.RetentionMinutes, "LOQA_JOBS_RETENTION_MINUTES")
	overrideInt(&cfg.Jobs.MaxJobs, "LOQA_JOBS_MAX_JOBS")
	overrideInt(&cfg.Jobs.SweepIntervalMS, "LOQA_JOBS_SWEEP_INTERVAL_MS")
}

func overrideEngine(target *EngineConfig, prefix string) {
	overrideString(&target.Mode, prefix+"_MODE")
	overrideString(&target.Command, prefix+"_COMMAND")
	overrideString(&target.Endpoint, prefix+"_ENDPOINT")
	overrideInt(&target.SampleRate, prefix+"_SAMPLE_RATE")
	overrideInt(&target.MaxChars, prefix+"_MAX_CHARS")
	overrideFloat(&target.Speed, prefix+"_SPEED")
	overrideInt(&target.TimeoutMS, prefix+"_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.RequestsPerSecond < 0 {
		return errors.New("http.requests_per_second must be >= 0")
	}
	if cfg.HTTP.RequestsPerSecond > 0 && cfg.HTTP.Burst <= 0 {
		return errors.New("http.burst must be positive when rate limiting is enabled")
	}
	if cfg.HTTP.MaxUploadBytes <= 0 {
		return errors.New("http.max_upload_bytes must be positive")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Voices.DBPath == "" {
		return errors.New("voices.db_path must not be empty")
	}
	if cfg.Voices.Directory == "" {
		return errors.New("voices.directory must not be empty")
	}
	if cfg.Voices.CustomPrefix == "" {
		return errors.New("voices.custom_prefix must not be empty")
	}
	if len(cfg.Voices.Presets) == 0 {
		return errors.New("voices.presets must not be empty")
	}
	if _, ok := cfg.Voices.Presets[cfg.Voices.DefaultPreset]; !ok {
		return errors.New("voices.default_preset must name one of voices.presets")
	}
	if cfg.Voices.PresetLanguage == "" {
		return errors.New("voices.preset_language must not be empty")
	}
	for _, v := range cfg.Voices.Builtin {
		if v.ID == "" || v.FilePath == "" {
			return errors.New("voices.builtin entries need id and file_path")
		}
	}
	if err := validateEngine("engines.preset", cfg.Engines.Preset); err != nil {
		return err
	}
	if err := validateEngine("engines.clone", cfg.Engines.Clone); err != nil {
		return err
	}
	if cfg.Progress.Capacity <= 0 {
		return errors.New("progress.capacity must be >= 1")
	}
	if cfg.Jobs.Workers <= 0 {
		return errors.New("jobs.workers must be >= 1")
	}
	if cfg.Jobs.QueueSize <= 0 {
		return errors.New("jobs.queue_size must be >= 1")
	}
	if cfg.Jobs.MaxChars <= 0 {
		return errors.New("jobs.max_chars must be >= 1")
	}
	switch cfg.Jobs.Policy {
	case "sentence", "accumulate":
	default:
		return errors.New("jobs.policy must be one of sentence|accumulate")
	}
	if cfg.Jobs.ArtifactDir == "" {
		return errors.New("jobs.artifact_dir must not be empty")
	}
	if cfg.Jobs.RetentionMinutes < 0 {
		return errors.New("jobs.retention_minutes must be >= 0")
	}
	if cfg.Jobs.MaxJobs < 0 {
		return errors.New("jobs.max_jobs must be >= 0")
	}
	if cfg.Jobs.SweepIntervalMS <= 0 {
		return errors.New("jobs.sweep_interval_ms must be positive")
	}
	return nil
}

func validateEngine(key string, cfg EngineConfig) error {
	switch cfg.Mode {
	case "mock", "exec", "http":
	default:
		return fmt.Errorf("%s.mode must be one of mock|exec|http", key)
	}
	if cfg.Mode == "exec" && cfg.Command == "" {
		return fmt.Errorf("%s.command must be set when mode=exec", key)
	}
	if cfg.Mode == "http" && cfg.Endpoint == "" {
		return fmt.Errorf("%s.endpoint must be set when mode=http", key)
	}
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("%s.sample_rate must be positive", key)
	}
	if cfg.MaxChars <= 0 {
		return fmt.Errorf("%s.max_chars must be >= 1", key)
	}
	if cfg.Speed < 0 {
		return fmt.Errorf("%s.speed must be >= 0", key)
	}
	if cfg.TimeoutMS < 0 {
		return fmt.Errorf("%s.timeout_ms must be >= 0", key)
	}
	return nil
}
