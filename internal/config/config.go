package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is looked up in the directory passed to Load.
const ConfigFileName = "startupcal.cfg.json"

// MemoryConfig holds settings of the file-backed calibration store
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	FileName       string `json:"fileName" mapstructure:"fileName"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds settings of the sqlite calibration store
type SQLiteConfig struct {
	Path         string
	DumpPath     string
	DumpInterval time.Duration
}

// WebSocketConfig holds settings of the remote calibration store
type WebSocketConfig struct {
	URL    string
	Secret string
}

// StorageConfig selects and configures the calibration record backend
type StorageConfig struct {
	Type      string
	Memory    MemoryConfig
	SQLite    SQLiteConfig
	WebSocket WebSocketConfig
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration

	// MetricInterval is how often counters are exported.
	MetricInterval time.Duration
	Endpoint       string
	Insecure       bool
}

// ExtractionConfig controls frame extraction requests
type ExtractionConfig struct {
	Workers       int
	MaxRetries    int
	BatchSize     int
	DefaultRate   float64
	ProbeTimeout  time.Duration
	OutputDir     string
	Width, Height int
}

// MatchConfig holds tolerance windows in seconds
type MatchConfig struct {
	SegmentTolerance     float64
	CorrelationTolerance float64
}

// ThrottleConfig bounds drag-driven frame requests
type ThrottleConfig struct {
	EventsPerSecond int
}

// InfluxConfig holds InfluxDB export settings
type InfluxConfig struct {
	Enabled    bool
	URL        string
	Token      string
	Org        string
	BackupPath string
}

// APIConfig holds settings of the web frontend analyzed traces are uploaded to
type APIConfig struct {
	ServerURL string
	APIKey    string
	Upload    bool
}

// GraylogConfig holds GELF log shipping settings
type GraylogConfig struct {
	Enabled bool
	Address string
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("match.segmentTolerance", 0.5)
	viper.SetDefault("match.correlationTolerance", 0.25)

	viper.SetDefault("extraction.workers", 2)
	viper.SetDefault("extraction.maxRetries", 3)
	viper.SetDefault("extraction.batchSize", 5)
	viper.SetDefault("extraction.defaultRate", 30.0)
	viper.SetDefault("extraction.probeTimeout", "5s")
	viper.SetDefault("extraction.outputDir", "./frames")
	viper.SetDefault("extraction.width", 320)
	viper.SetDefault("extraction.height", 568)

	viper.SetDefault("throttle.eventsPerSecond", 20)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "")
	viper.SetDefault("storage.memory.fileName", "startup_calibration.json")
	viper.SetDefault("storage.memory.compressOutput", false)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "./startupcal.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.websocket.url", "ws://localhost:5000/api/calibration")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "startupcal")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "startupcal")
	viper.SetDefault("influx.backupPath", "./influx_backup.lp.gz")

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.upload", false)

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "startupcal")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricInterval", "30s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStorageConfig returns the storage backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			FileName:       viper.GetString("storage.memory.fileName"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout:   viper.GetDuration("otel.batchTimeout"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
	}
}

// GetExtractionConfig returns the frame extraction settings.
func GetExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		Workers:      viper.GetInt("extraction.workers"),
		MaxRetries:   viper.GetInt("extraction.maxRetries"),
		BatchSize:    viper.GetInt("extraction.batchSize"),
		DefaultRate:  viper.GetFloat64("extraction.defaultRate"),
		ProbeTimeout: viper.GetDuration("extraction.probeTimeout"),
		OutputDir:    viper.GetString("extraction.outputDir"),
		Width:        viper.GetInt("extraction.width"),
		Height:       viper.GetInt("extraction.height"),
	}
}

// GetMatchConfig returns the tolerance windows.
func GetMatchConfig() MatchConfig {
	return MatchConfig{
		SegmentTolerance:     viper.GetFloat64("match.segmentTolerance"),
		CorrelationTolerance: viper.GetFloat64("match.correlationTolerance"),
	}
}

// GetThrottleConfig returns the drag throttle settings.
func GetThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		EventsPerSecond: viper.GetInt("throttle.eventsPerSecond"),
	}
}

// GetInfluxConfig returns the InfluxDB export settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled: viper.GetBool("influx.enabled"),
		URL: fmt.Sprintf(
			"%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port"),
		),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetGraylogConfig returns the GELF settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetAPIConfig returns the web frontend settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
		Upload:    viper.GetBool("api.upload"),
	}
}
