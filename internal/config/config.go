// Package config provides configuration loading with layered overrides.
// Load order: defaults -> YAML file -> environment variables.
package config

import (
	"os"
	"time"

	configloader "github.com/GabrielNunesIT/go-libs/config-loader"
)

// EnvPrefix is the prefix of environment variables that override the file.
const EnvPrefix = "LOGINDEX_"

// DefaultPaths are tried in order when no config file is given.
var DefaultPaths = []string{"./config.yaml", "/etc/logindex/config.yaml"}

// Config is the root configuration structure for logindex.
type Config struct {
	LogLevel  string         `koanf:"loglevel" yaml:"log_level" json:"log_level"`
	Pipeline  PipelineConfig `koanf:"pipeline"`
	Ingestors IngestorConfig `koanf:"ingestors"`
	Emitters  EmitterConfig  `koanf:"emitters"`
	Search    SearchConfig   `koanf:"search"`
	Server    ServerConfig   `koanf:"server"`
}

// PipelineConfig controls the pipeline behavior.
type PipelineConfig struct {
	BufferSize       int           `koanf:"buffersize" yaml:"buffer_size" json:"buffer_size"`
	ShutdownTimeout  time.Duration `koanf:"shutdowntimeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	DropOnFullBuffer bool          `koanf:"droponbufferfull" yaml:"drop_on_full_buffer" json:"drop_on_full_buffer"`
}

// IngestorConfig holds configuration for all ingestors.
type IngestorConfig struct {
	File    FileIngestorConfig    `koanf:"file"`
	Syslog  SyslogIngestorConfig  `koanf:"syslog"`
	Journal JournalIngestorConfig `koanf:"journal"`
	Stdin   StdinIngestorConfig   `koanf:"stdin"`
}

// FileIngestorConfig configures the file tailing ingestor.
type FileIngestorConfig struct {
	Enabled bool     `koanf:"enabled"`
	Paths   []string `koanf:"paths"`
	Exclude []string `koanf:"exclude"`
	// FromBeginning reads files without a checkpoint from offset 0 instead of the end.
	FromBeginning bool `koanf:"frombeginning" yaml:"from_beginning" json:"from_beginning"`
	// Poll uses stat polling instead of inotify (network and container mounts).
	Poll bool `koanf:"poll"`
	// Once reads every matched file to its end and stops instead of following.
	Once bool `koanf:"once"`
	// Checkpoint is the bbolt file storing read offsets. Empty disables resuming.
	Checkpoint string          `koanf:"checkpoint"`
	Processor  ProcessorConfig `koanf:"processor"`
}

// SyslogIngestorConfig configures the syslog ingestor.
type SyslogIngestorConfig struct {
	Enabled   bool            `koanf:"enabled"`
	Protocol  string          `koanf:"protocol"` // "udp" or "tcp"
	Address   string          `koanf:"address"`
	Processor ProcessorConfig `koanf:"processor"`
}

// JournalIngestorConfig configures the systemd journal ingestor.
type JournalIngestorConfig struct {
	Enabled   bool            `koanf:"enabled"`
	Units     []string        `koanf:"units"`
	Processor ProcessorConfig `koanf:"processor"`
}

// StdinIngestorConfig configures the stdin ingestor.
type StdinIngestorConfig struct {
	Enabled   bool            `koanf:"enabled"`
	Processor ProcessorConfig `koanf:"processor"`
}

// ProcessorConfig holds the processor chain configuration per ingestor.
type ProcessorConfig struct {
	Parser   ParserConfig   `koanf:"parser"`
	Enricher EnricherConfig `koanf:"enricher"`
	Geo      GeoConfig      `koanf:"geo"`
}

// ParserConfig configures the access log parsing processor.
type ParserConfig struct {
	Enabled bool `koanf:"enabled"`
	// UnwrapJSON extracts the log line from JSON envelopes such as the
	// docker json-file driver output before parsing.
	UnwrapJSON bool `koanf:"unwrapjson" yaml:"unwrap_json" json:"unwrap_json"`
	// JSONFields are the envelope keys tried in order.
	JSONFields []string `koanf:"jsonfields" yaml:"json_fields" json:"json_fields"`
}

// EnricherConfig configures the enrichment processor.
type EnricherConfig struct {
	Enabled      bool              `koanf:"enabled"`
	AddHostname  bool              `koanf:"addhostname" yaml:"add_hostname" json:"add_hostname"`
	// Hostname replaces the OS hostname added by AddHostname.
	Hostname     string            `koanf:"hostname"`
	AgentDomain  bool              `koanf:"agentdomain" yaml:"agent_domain" json:"agent_domain"`
	StaticLabels map[string]string `koanf:"staticlabels" yaml:"static_labels" json:"static_labels"`
}

// GeoConfig configures the GeoIP backfill processor.
type GeoConfig struct {
	Enabled bool   `koanf:"enabled"`
	CityDB  string `koanf:"citydb" yaml:"city_db" json:"city_db"`
}

// EmitterConfig holds configuration for all emitters.
type EmitterConfig struct {
	Stdout        StdoutEmitterConfig        `koanf:"stdout"`
	File          FileEmitterConfig          `koanf:"file"`
	Elasticsearch ElasticsearchEmitterConfig `koanf:"elasticsearch"`
	Index         IndexEmitterConfig         `koanf:"index"`
}

// StdoutEmitterConfig configures the stdout emitter.
type StdoutEmitterConfig struct {
	Enabled bool   `koanf:"enabled"`
	Format  string `koanf:"format"` // "json" or "text"
}

// FileEmitterConfig configures the file emitter.
type FileEmitterConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	Format     string `koanf:"format"` // "json" or "raw"
	MaxSizeMB  int    `koanf:"maxsizemb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `koanf:"maxbackups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `koanf:"maxagedays" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// ElasticsearchEmitterConfig configures the Elasticsearch emitter.
type ElasticsearchEmitterConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Addresses     []string      `koanf:"addresses"`
	Index         string        `koanf:"index"`
	Username      string        `koanf:"username"`
	Password      string        `koanf:"password"`
	BatchSize     int           `koanf:"batchsize" yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
}

// IndexEmitterConfig configures the SQLite logs index emitter.
type IndexEmitterConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	BatchSize     int           `koanf:"batchsize" yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
	// Alerts maps a name to a search query checked against every newly
	// indexed batch.
	Alerts map[string]string `koanf:"alerts"`
}

// SearchConfig configures query compilation and the search command.
type SearchConfig struct {
	// Timezone is the IANA zone date terms are interpreted in.
	Timezone string `koanf:"timezone"`
	Limit    int    `koanf:"limit"`
}

// ServerConfig configures the HTTP server exposing metrics and search.
type ServerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Address string `koanf:"address"`
}

// defaults returns the default configuration values.
func defaults() Config {
	parser := ParserConfig{
		Enabled:    true,
		UnwrapJSON: true,
		JSONFields: []string{"log", "message", "msg"},
	}
	enricher := EnricherConfig{
		Enabled:     true,
		AddHostname: true,
		AgentDomain: true,
	}

	return Config{
		LogLevel: "info",
		Pipeline: PipelineConfig{
			BufferSize:       1000,
			ShutdownTimeout:  30 * time.Second,
			DropOnFullBuffer: false,
		},
		Ingestors: IngestorConfig{
			File: FileIngestorConfig{
				Enabled: false,
				Processor: ProcessorConfig{
					Parser:   parser,
					Enricher: enricher,
				},
			},
			Syslog: SyslogIngestorConfig{
				Enabled:  false,
				Protocol: "udp",
				Address:  ":514",
				Processor: ProcessorConfig{
					Parser:   ParserConfig{Enabled: true},
					Enricher: enricher,
				},
			},
			Journal: JournalIngestorConfig{
				Enabled: false,
				Processor: ProcessorConfig{
					Parser:   ParserConfig{Enabled: true},
					Enricher: enricher,
				},
			},
			Stdin: StdinIngestorConfig{
				Enabled: false,
				Processor: ProcessorConfig{
					Parser:   parser,
					Enricher: EnricherConfig{Enabled: true, AgentDomain: true},
				},
			},
		},
		Emitters: EmitterConfig{
			Stdout: StdoutEmitterConfig{
				Enabled: true,
				Format:  "json",
			},
			File: FileEmitterConfig{
				Enabled:    false,
				Format:     "json",
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 7,
				Compress:   true,
			},
			Elasticsearch: ElasticsearchEmitterConfig{
				Enabled:       false,
				Index:         "logindex",
				BatchSize:     100,
				FlushInterval: 5 * time.Second,
			},
			Index: IndexEmitterConfig{
				Enabled:       false,
				Path:          "./logindex.db",
				BatchSize:     500,
				FlushInterval: 2 * time.Second,
			},
		},
		Search: SearchConfig{
			Timezone: "UTC",
			Limit:    100,
		},
		Server: ServerConfig{
			Enabled: false,
			Address: ":9420",
		},
	}
}

// Default returns the built-in configuration without reading any source.
func Default() *Config {
	cfg := defaults()
	return &cfg
}

// Load reads configuration from all sources with proper override order.
// Order: defaults -> config file -> environment variables.
func Load(configPath string) (*Config, error) {
	opts := []configloader.Option[Config]{
		configloader.WithDefaults[Config](defaults()),
	}

	if configPath != "" {
		opts = append(opts, configloader.WithFile[Config](configPath))
	} else {
		for _, path := range DefaultPaths {
			if _, err := os.Stat(path); err == nil {
				opts = append(opts, configloader.WithFile[Config](path))
				break
			}
		}
	}

	opts = append(opts, configloader.WithEnv[Config](EnvPrefix))

	loader := configloader.NewConfigLoader[Config](opts...)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
