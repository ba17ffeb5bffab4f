package config

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"

	"flux-gateway/internal/auth"
	"flux-gateway/internal/identity"

	configutil "github.com/NYCU-SDC/summer/pkg/config"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const DefaultSecret = "default-secret"

const (
	ServerModeSingleUser = "single-user"
	ServerModeMultiUser  = "multi-user"
)

var (
	ErrInvalidAuthMode   = errors.New("auth_mode must be one of none, basic, ldap")
	ErrInvalidServerMode = errors.New("server_mode must be one of single-user, multi-user")
	ErrDatabaseRequired  = errors.New("database_url is required when auth_mode is basic")
	ErrLDAPRequired      = errors.New("ldap host and base_dn are required when auth_mode is ldap")
)

type Config struct {
	Debug            bool                `yaml:"debug"              envconfig:"DEBUG"`
	Host             string              `yaml:"host"               envconfig:"HOST"`
	Port             string              `yaml:"port"               envconfig:"PORT"`
	Secret           string              `yaml:"secret"             envconfig:"SECRET"`
	RequireAuth      bool                `yaml:"require_auth"       envconfig:"REQUIRE_AUTH"`
	AuthMode         string              `yaml:"auth_mode"          envconfig:"AUTH_MODE"`
	ServerMode       string              `yaml:"server_mode"        envconfig:"SERVER_MODE"`
	FluxPath         string              `yaml:"flux_path"          envconfig:"FLUX_PATH"`
	FluxUser         string              `yaml:"flux_user"          envconfig:"FLUX_USER"`
	FluxToken        string              `yaml:"flux_token"         envconfig:"FLUX_TOKEN"`
	NodeCount        int                 `yaml:"node_count"         envconfig:"NODE_COUNT"`
	HasGPUs          bool                `yaml:"has_gpus"           envconfig:"HAS_GPUS"`
	Launchers        []string            `yaml:"launchers"          envconfig:"LAUNCHERS"`
	DatabaseURL      string              `yaml:"database_url"       envconfig:"DATABASE_URL"`
	MigrationSource  string              `yaml:"migration_source"   envconfig:"MIGRATION_SOURCE"`
	OtelCollectorUrl string              `yaml:"otel_collector_url" envconfig:"OTEL_COLLECTOR_URL"`
	AllowOrigins     []string            `yaml:"allow_origins"      envconfig:"ALLOW_ORIGINS"`
	LDAP             identity.LDAPConfig `yaml:"ldap"`
}

type LogBuffer struct {
	buffer []logEntry
}

type logEntry struct {
	msg  string
	err  error
	meta map[string]string
}

func NewConfigLogger() *LogBuffer {
	return &LogBuffer{}
}

func (cl *LogBuffer) Warn(msg string, err error, meta map[string]string) {
	cl.buffer = append(cl.buffer, logEntry{msg: msg, err: err, meta: meta})
}

func (cl *LogBuffer) FlushToZap(logger *zap.Logger) {
	for _, e := range cl.buffer {
		var fields []zap.Field
		if e.err != nil {
			fields = append(fields, zap.Error(e.err))
		}
		for k, v := range e.meta {
			fields = append(fields, zap.String(k, v))
		}
		logger.Warn(e.msg, fields...)
	}
	cl.buffer = nil
}

func (c *Config) Validate() error {
	switch c.AuthMode {
	case auth.ModeNone, auth.ModeBasic, auth.ModeLDAP:
	default:
		return ErrInvalidAuthMode
	}

	switch c.ServerMode {
	case ServerModeSingleUser, ServerModeMultiUser:
	default:
		return ErrInvalidServerMode
	}

	if c.AuthMode == auth.ModeBasic && c.DatabaseURL == "" {
		return ErrDatabaseRequired
	}

	if c.AuthMode == auth.ModeLDAP && (!c.LDAP.Enabled() || c.LDAP.BaseDN == "") {
		return ErrLDAPRequired
	}

	return nil
}

func Load() (Config, *LogBuffer) {
	logger := NewConfigLogger()

	config := &Config{
		Debug:           false,
		Host:            "localhost",
		Port:            "5000",
		Secret:          DefaultSecret,
		AuthMode:        auth.ModeNone,
		ServerMode:      ServerModeSingleUser,
		FluxPath:        "flux",
		NodeCount:       1,
		MigrationSource: "file://internal/database/migrations",
	}

	var err error

	config, err = FromFile("config.yaml", config, logger)
	if err != nil {
		logger.Warn("Failed to load config from file", err, map[string]string{"path": "config.yaml"})
	}

	config, err = FromEnv(config, logger)
	if err != nil {
		logger.Warn("Failed to load config from env", err, map[string]string{"path": ".env"})
	}

	config, err = FromFlags(config)
	if err != nil {
		logger.Warn("Failed to load config from flags", err, map[string]string{"path": "flags"})
	}

	return *config, logger
}

func FromFile(filePath string, config *Config, logger *LogBuffer) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return config, err
	}
	defer func(file *os.File) {
		err := file.Close()
		if err != nil {
			logger.Warn("Failed to close config file", err, map[string]string{"path": filePath})
		}
	}(file)

	fileConfig := Config{}
	if err := yaml.NewDecoder(file).Decode(&fileConfig); err != nil {
		return config, err
	}

	return configutil.Merge[Config](config, &fileConfig)
}

func FromEnv(config *Config, logger *LogBuffer) (*Config, error) {
	if err := godotenv.Overload(); err != nil {
		if os.IsNotExist(err) {
			logger.Warn("No .env file found", err, map[string]string{"path": ".env"})
		} else {
			return nil, err
		}
	}

	if allowOrigins := os.Getenv("ALLOW_ORIGINS"); allowOrigins != "" {
		config.AllowOrigins = strings.Split(allowOrigins, ",")
	}

	if launchers := os.Getenv("LAUNCHERS"); launchers != "" {
		config.Launchers = strings.Split(launchers, ",")
	}

	nodeCount := 0
	if raw := os.Getenv("NODE_COUNT"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			logger.Warn("Failed to parse NODE_COUNT", err, map[string]string{"node_count": raw})
		} else {
			nodeCount = parsed
		}
	}

	envConfig := &Config{
		Debug:            os.Getenv("DEBUG") == "true",
		Host:             os.Getenv("HOST"),
		Port:             os.Getenv("PORT"),
		Secret:           os.Getenv("SECRET"),
		RequireAuth:      os.Getenv("REQUIRE_AUTH") == "true",
		AuthMode:         os.Getenv("AUTH_MODE"),
		ServerMode:       os.Getenv("SERVER_MODE"),
		FluxPath:         os.Getenv("FLUX_PATH"),
		FluxUser:         os.Getenv("FLUX_USER"),
		FluxToken:        os.Getenv("FLUX_TOKEN"),
		NodeCount:        nodeCount,
		HasGPUs:          os.Getenv("HAS_GPUS") == "true",
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		MigrationSource:  os.Getenv("MIGRATION_SOURCE"),
		OtelCollectorUrl: os.Getenv("OTEL_COLLECTOR_URL"),
		LDAP: identity.LDAPConfig{
			Host:    os.Getenv("LDAP_HOST"),
			Port:    os.Getenv("LDAP_PORT"),
			BaseDN:  os.Getenv("LDAP_BASE_DN"),
			BindDN:  os.Getenv("LDAP_BIND_DN"),
			BindPwd: os.Getenv("LDAP_BIND_PWD"),
		},
	}

	return configutil.Merge[Config](config, envConfig)
}

func FromFlags(config *Config) (*Config, error) {
	flagConfig := &Config{}

	flag.BoolVar(&flagConfig.Debug, "debug", false, "debug mode")
	flag.StringVar(&flagConfig.Host, "host", "", "host")
	flag.StringVar(&flagConfig.Port, "port", "", "port")
	flag.StringVar(&flagConfig.Secret, "secret", "", "secret")
	flag.BoolVar(&flagConfig.RequireAuth, "require_auth", false, "require authentication")
	flag.StringVar(&flagConfig.AuthMode, "auth_mode", "", "auth mode (none, basic, ldap)")
	flag.StringVar(&flagConfig.ServerMode, "server_mode", "", "server mode (single-user, multi-user)")
	flag.StringVar(&flagConfig.FluxPath, "flux_path", "", "path to the flux executable")
	flag.StringVar(&flagConfig.FluxUser, "flux_user", "", "server credential user")
	flag.StringVar(&flagConfig.FluxToken, "flux_token", "", "server credential token")
	flag.IntVar(&flagConfig.NodeCount, "node_count", 0, "number of nodes in the cluster")
	flag.BoolVar(&flagConfig.HasGPUs, "has_gpus", false, "cluster has gpus")
	flag.StringVar(&flagConfig.DatabaseURL, "database_url", "", "database url")
	flag.StringVar(&flagConfig.MigrationSource, "migration_source", "", "migration source")
	flag.StringVar(&flagConfig.OtelCollectorUrl, "otel_collector_url", "", "OpenTelemetry collector URL")

	flag.Parse()

	return configutil.Merge[Config](config, flagConfig)
}
