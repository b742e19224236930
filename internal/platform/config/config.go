package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Service struct {
		Name        string `mapstructure:"name"`
		Version     string `mapstructure:"version"`
		Environment string `mapstructure:"environment"`
		LogLevel    string `mapstructure:"log_level"`
	} `mapstructure:"service"`

	Server struct {
		Port            int           `mapstructure:"port"`
		GRPCPort        int           `mapstructure:"grpc_port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		RequestTimeout  time.Duration `mapstructure:"request_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Store struct {
		// Driver is one of postgres, bolt or memory.
		Driver   string `mapstructure:"driver"`
		BoltPath string `mapstructure:"bolt_path"`
	} `mapstructure:"store"`

	Database DatabaseConfig `mapstructure:"database"`

	Redis struct {
		Addr           string        `mapstructure:"addr"`
		Password       string        `mapstructure:"password"`
		DB             int           `mapstructure:"db"`
		DirectoryTTL   time.Duration `mapstructure:"directory_ttl"`
		WorkloadPrefix string        `mapstructure:"workload_prefix"`
	} `mapstructure:"redis"`

	NATS struct {
		URL           string `mapstructure:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"nats"`

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
		Issuer    string `mapstructure:"issuer"`
	} `mapstructure:"auth"`

	// Directory users seeded on start: the whole directory for the bolt and
	// memory drivers, upserted into Postgres otherwise.
	Directory struct {
		Users []DirectoryUser `mapstructure:"users"`
	} `mapstructure:"directory"`

	SLA struct {
		DefaultHours   float64            `mapstructure:"default_hours"`
		WarningRatio   float64            `mapstructure:"warning_ratio"`
		StatusHours    map[string]float64 `mapstructure:"status_hours"`
		RecomputeEvery time.Duration      `mapstructure:"recompute_every"`
	} `mapstructure:"sla"`
}

// DatabaseConfig mirrors the pgx pool settings.
type DatabaseConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	SSLMode     string        `mapstructure:"sslmode"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnTime time.Duration `mapstructure:"max_conn_time"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	HealthCheck time.Duration `mapstructure:"health_check"`
}

// DirectoryUser is one seeded portal user.
type DirectoryUser struct {
	ID              string   `mapstructure:"id"`
	DisplayName     string   `mapstructure:"display_name"`
	Roles           []string `mapstructure:"roles"`
	Department      string   `mapstructure:"department"`
	Branch          string   `mapstructure:"branch"`
	BuyerCategories []string `mapstructure:"buyer_categories"`
	Active          bool     `mapstructure:"active"`
}

// DSN renders a libpq style connection string accepted by pgx.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// Load reads configuration from an optional YAML file and PROCUREMENT_*
// environment variables. Nested keys map to env names with dots replaced by
// underscores, e.g. PROCUREMENT_DATABASE_HOST.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PROCUREMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "postgres", "bolt", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.SLA.DefaultHours <= 0 {
		return fmt.Errorf("sla.default_hours must be positive")
	}
	if c.SLA.WarningRatio <= 0 || c.SLA.WarningRatio >= 1 {
		return fmt.Errorf("sla.warning_ratio must be between 0 and 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "procurement-requests")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.bolt_path", "procurement.db")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "procurement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_time", time.Hour)
	v.SetDefault("database.max_idle_time", 30*time.Minute)
	v.SetDefault("database.health_check", time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.directory_ttl", 5*time.Minute)
	v.SetDefault("redis.workload_prefix", "procurement:workload")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "notifications.procurement")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "procurement-portal")

	v.SetDefault("sla.default_hours", 48)
	v.SetDefault("sla.warning_ratio", 0.3)
	v.SetDefault("sla.status_hours", map[string]float64{})
	v.SetDefault("sla.recompute_every", 5*time.Minute)
}
