package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"authgate/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type LogConfig struct {
	// Level overrides the environment default (debug outside production,
	// info in production).
	Level string
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	// Addr is host:port or a redis:// / rediss:// URL. A URL carries its own
	// credentials and database, and Password and DB are ignored.
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver string
}

type LoginThrottleConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

type SecurityConfig struct {
	JWTSecret string
	JWTKeyID  string
	// JWTRetiredSecrets maps key ids to secrets that still verify tokens
	// signed before a rotation.
	JWTRetiredSecrets map[string]string
	JWTAccessTTL      time.Duration
	JWTRefreshTTL     time.Duration
	Issuer            string
	BcryptCost        int
	LoginThrottle     LoginThrottleConfig
}

type RegistrationConfig struct {
	DefaultRole    string
	SelfAssignable []string
}

type BootstrapConfig struct {
	AdminEmail     string
	AdminPassword  string
	AdminFirstName string
	AdminLastName  string
}

type AppConfig struct {
	Environment      string
	Log              LogConfig
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Database         DatabaseConfig
	Security         SecurityConfig
	Registration     RegistrationConfig
	Bootstrap        BootstrapConfig
	AllowCORSOrigins []string
}

// Load reads config.yaml from the given directories (defaults to ".",
// "./config" and "../config") and overlays AUTHGATE_* environment
// variables, e.g. AUTHGATE_SECURITY_JWTSECRET.
func Load(paths ...string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "../config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("AUTHGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log.level", "")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.automigrate", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dialtimeout", "5s")
	v.SetDefault("redis.readtimeout", "3s")
	v.SetDefault("redis.writetimeout", "3s")

	v.SetDefault("database.driver", DriverPostgres)

	v.SetDefault("security.jwtsecret", "")
	v.SetDefault("security.jwtkeyid", "primary")
	v.SetDefault("security.jwtaccessttl", "15m")
	v.SetDefault("security.jwtrefreshttl", "168h") // 7 days
	v.SetDefault("security.issuer", "authgate")
	v.SetDefault("security.bcryptcost", 12)
	v.SetDefault("security.loginthrottle.enabled", true)
	v.SetDefault("security.loginthrottle.maxattempts", 5)
	v.SetDefault("security.loginthrottle.window", "15m")

	v.SetDefault("registration.defaultrole", string(models.RoleSales))
	v.SetDefault("registration.selfassignable", []string{
		string(models.RoleSales), string(models.RolePM), string(models.RoleLegal),
	})

	v.SetDefault("bootstrap.adminemail", "")
	v.SetDefault("bootstrap.adminpassword", "")
	v.SetDefault("bootstrap.adminfirstname", "System")
	v.SetDefault("bootstrap.adminlastname", "Admin")

	v.SetDefault("allowcorsorigins", []string{})
}

// Validate reports every problem at once.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("security.jwtsecret is required"))
	}
	if c.Security.JWTKeyID == "" {
		errs = append(errs, errors.New("security.jwtkeyid is required"))
	}
	if c.Security.JWTAccessTTL <= 0 || c.Security.JWTRefreshTTL <= 0 {
		errs = append(errs, errors.New("security token lifetimes must be positive"))
	}
	if cost := c.Security.BcryptCost; cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("security.bcryptcost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost))
	}
	if t := c.Security.LoginThrottle; t.Enabled && (t.MaxAttempts < 1 || t.Window <= 0) {
		errs = append(errs, errors.New("security.loginthrottle needs positive maxattempts and window"))
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	if _, _, err := c.Registration.Roles(); err != nil {
		errs = append(errs, err)
	}

	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		errs = append(errs, errors.New("bootstrap.adminemail and bootstrap.adminpassword must be set together"))
	}

	return errors.Join(errs...)
}

// Roles resolves the default role and the self-assignable allow-list. The
// default must itself be self-assignable and Admin never is.
func (r RegistrationConfig) Roles() (models.RoleName, []models.RoleName, error) {
	allowed := make([]models.RoleName, 0, len(r.SelfAssignable))
	for _, s := range r.SelfAssignable {
		name, err := models.ParseRoleName(s)
		if err != nil {
			return "", nil, fmt.Errorf("registration.selfassignable: %w", err)
		}
		if name == models.RoleAdmin {
			return "", nil, errors.New("registration.selfassignable must not contain Admin")
		}
		allowed = append(allowed, name)
	}

	def, err := models.ParseRoleName(r.DefaultRole)
	if err != nil {
		return "", nil, fmt.Errorf("registration.defaultrole: %w", err)
	}
	for _, name := range allowed {
		if name == def {
			return def, allowed, nil
		}
	}
	return "", nil, fmt.Errorf("registration.defaultrole %s is not self-assignable", def)
}
