package domain

import "time"

// Config holds the complete Docket configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server" json:"server"`

	// Tier determines which storage, cache and bus backends are used
	Tier Tier `mapstructure:"tier" json:"tier"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository" json:"repository"`
	Cache      CacheConfig      `mapstructure:"cache" json:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventBus" json:"eventBus"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler" json:"scheduler"`

	// Regulatory constants and exchange rates. Both are read once at
	// startup and turned into immutable snapshots.
	Compliance ComplianceConfig `mapstructure:"compliance" json:"compliance"`
	Exchange   ExchangeConfig   `mapstructure:"exchange" json:"exchange"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string   `mapstructure:"host" json:"host"`
	Port         int      `mapstructure:"port" json:"port"`
	ReadTimeout  int      `mapstructure:"readTimeout" json:"readTimeout"`   // seconds
	WriteTimeout int      `mapstructure:"writeTimeout" json:"writeTimeout"` // seconds
	CORSOrigins  []string `mapstructure:"corsOrigins" json:"corsOrigins"`
}

// SchedulerConfig drives the periodic automation sweep.
type SchedulerConfig struct {
	// SweepSchedule is a cron spec ("@every 15m", "0 * * * *").
	// Empty disables the scheduler.
	SweepSchedule string `mapstructure:"sweepSchedule" json:"sweepSchedule"`
}

// ComplianceConfig holds jurisdiction-specific regulatory constants.
// Amounts and percentages are decimal strings.
type ComplianceConfig struct {
	Version string `mapstructure:"version" json:"version"`

	// Keyed by jurisdiction.
	MinimumHourlyRate        map[string]string `mapstructure:"minimumHourlyRate" json:"minimumHourlyRate"`
	MaxContingencyPercentage map[string]string `mapstructure:"maxContingencyPercentage" json:"maxContingencyPercentage"`

	// Keyed by jurisdiction, then currency.
	TaxRates map[string]map[string]string `mapstructure:"taxRates" json:"taxRates"`

	CourtApprovalThreshold string `mapstructure:"courtApprovalThreshold" json:"courtApprovalThreshold"`

	// Keyed by phase.
	PhaseDocumentation map[string][]string `mapstructure:"phaseDocumentation" json:"phaseDocumentation"`
}

// ExchangeConfig holds directed exchange rates keyed "FROM_TO".
type ExchangeConfig struct {
	Version string            `mapstructure:"version" json:"version"`
	Rates   map[string]string `mapstructure:"rates" json:"rates"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	ServiceName  string `mapstructure:"serviceName" json:"serviceName"`
	ExporterType string `mapstructure:"exporterType" json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `mapstructure:"endpoint" json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultPhaseDocumentation lists the documents each phase requires.
func DefaultPhaseDocumentation() map[string][]string {
	return map[string][]string{
		string(PhaseIntake):        {"fee_agreement", "engagement_letter"},
		string(PhaseInvestigation): {"evidence_inventory"},
		string(PhaseFiling):        {"court_filing_receipt"},
		string(PhaseDiscovery):     {"discovery_log"},
		string(PhaseNegotiation):   {"settlement_authority"},
		string(PhaseTrial):         {"court_records"},
		string(PhaseSettlement):    {"settlement_agreement"},
		string(PhaseAppeal):        {"appeal_notice"},
		string(PhaseClosed):        {"closing_letter"},
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			CORSOrigins:  []string{"*"},
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./docket.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scheduler: SchedulerConfig{
			SweepSchedule: "@every 15m",
		},
		Compliance: ComplianceConfig{
			Version: "2025.1",
			MinimumHourlyRate: map[string]string{
				string(JurisdictionLocal):      "150",
				string(JurisdictionProvincial): "175",
				string(JurisdictionNational):   "200",
			},
			MaxContingencyPercentage: map[string]string{
				string(JurisdictionLocal):      "33",
				string(JurisdictionProvincial): "30",
				string(JurisdictionNational):   "25",
			},
			TaxRates: map[string]map[string]string{
				string(JurisdictionLocal):      {"USD": "0.08", "CAD": "0.13", "EUR": "0.21"},
				string(JurisdictionProvincial): {"CAD": "0.13"},
				string(JurisdictionNational):   {"CAD": "0.05"},
			},
			CourtApprovalThreshold: "1000000",
			PhaseDocumentation:     DefaultPhaseDocumentation(),
		},
		Exchange: ExchangeConfig{
			Version: "2025.1",
			Rates: map[string]string{
				"USD_CAD": "1.36",
				"CAD_USD": "0.73",
				"USD_EUR": "0.92",
				"EUR_USD": "1.08",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "docket",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "docket",
		PostgresSSLMode: "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
