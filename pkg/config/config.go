package config

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/aserto-dev/go-aserto"
	"github.com/aserto-dev/logger"
	"github.com/aserto-dev/oidc-registration/pkg/directory/topaz"
	"github.com/aserto-dev/oidc-registration/pkg/registration"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	BackendDirectory = "directory"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

const EnvPrefix = "ASERTO_REGISTRATION"

type Config struct {
	Logging        logger.Config      `json:"logging"`
	Directory      aserto.Config      `json:"directory"`
	Server         ServerConfig       `json:"server"`
	Store          StoreConfig        `json:"store"`
	DirectoryModel topaz.Model        `json:"directory_model"`
	Registration   RegistrationConfig `json:"registration"`
}

type ServerConfig struct {
	ListenAddress     string        `json:"listen_address"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	Auth              AuthConfig    `json:"auth"`
	MetricsEnabled    bool          `json:"metrics_enabled"`
}

type AuthConfig struct {
	Basic struct {
		Enabled  bool   `json:"enabled"`
		Username string `json:"username"`
		Password string `json:"password"`
	} `json:"basic"`
	Bearer struct {
		Enabled bool   `json:"enabled"`
		Token   string `json:"token"`
	} `json:"bearer"`
}

type StoreConfig struct {
	Backend  string `json:"backend"`
	Postgres struct {
		DSN string `json:"dsn"`
	} `json:"postgres"`
	Memory struct {
		// Profiles seeded into the in-memory directory.
		Profiles []string `json:"profiles"`
	} `json:"memory"`
}

type RegistrationConfig struct {
	CreateAllowed        bool   `json:"create_allowed"`
	RejectAmbiguousMatch bool   `json:"reject_ambiguous_match"`
	DefaultLocale        string `json:"default_locale"`
	CommunityOrgName     string `json:"community_org_name"`
	CommunityProfile     string `json:"community_profile"`
	StandardProfile      string `json:"standard_profile"`
}

func (r *RegistrationConfig) HandlerConfig() *registration.Config {
	return &registration.Config{
		CreateAllowed:        r.CreateAllowed,
		RejectAmbiguousMatch: r.RejectAmbiguousMatch,
		DefaultLocale:        r.DefaultLocale,
		Provisioning: registration.ProvisionerConfig{
			CommunityOrganization: r.CommunityOrgName,
			CommunityProfile:      r.CommunityProfile,
			StandardProfile:       r.StandardProfile,
		},
	}
}

func NewConfig(configPath string) (*Config, error) { // nolint // function will contain repeating statements for defaults
	file := "config.yaml"
	v := viper.New()

	if configPath != "" {
		exists, err := fileExists(configPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to determine if config file '%s' exists", configPath)
		}

		if !exists {
			return nil, errors.Errorf("config file '%s' doesn't exist", configPath)
		}

		file = configPath
	}

	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetConfigFile(file)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults.
	v.SetDefault("server.listen_address", ":8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 30*time.Second)
	v.SetDefault("server.auth.basic.enabled", "false")
	v.SetDefault("server.auth.bearer.enabled", "false")
	v.SetDefault("server.metrics_enabled", true)

	v.SetDefault("store.backend", BackendDirectory)
	v.SetDefault("store.memory.profiles", []string{"standard-user", "community-user"})

	model := topaz.DefaultModel()
	v.SetDefault("directory_model.user_object_type", model.UserObjectType)
	v.SetDefault("directory_model.identity_object_type", model.IdentityObjectType)
	v.SetDefault("directory_model.identity_relation", model.IdentityRelation)
	v.SetDefault("directory_model.organization_object_type", model.OrganizationObjectType)
	v.SetDefault("directory_model.contact_object_type", model.ContactObjectType)
	v.SetDefault("directory_model.profile_object_type", model.ProfileObjectType)
	v.SetDefault("directory_model.member_relation", model.MemberRelation)
	v.SetDefault("directory_model.contact_user_relation", model.ContactUserRelation)

	v.SetDefault("registration.create_allowed", false)
	v.SetDefault("registration.reject_ambiguous_match", false)
	v.SetDefault("registration.default_locale", "en_US")
	v.SetDefault("registration.community_org_name", "Community Partners")
	v.SetDefault("registration.community_profile", "community-user")
	v.SetDefault("registration.standard_profile", "standard-user")

	// Allow setting via env vars.
	v.SetDefault("directory.address", "")
	v.SetDefault("directory.api_key", "")
	v.SetDefault("directory.tenant_id", "")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("server.auth.basic.username", "")
	v.SetDefault("server.auth.basic.password", "")
	v.SetDefault("server.auth.bearer.token", "")

	configExists, err := fileExists(file)
	if err != nil {
		return nil, errors.Wrapf(err, "filesystem error")
	}

	if configExists {
		if err = v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file '%s'", file)
		}
	}

	v.AutomaticEnv()

	cfg := new(Config)

	err = v.UnmarshalExact(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config file")
	}

	if cfg.Logging.LogLevel == "" {
		cfg.Logging.LogLevelParsed = zerolog.InfoLevel
	} else {
		cfg.Logging.LogLevelParsed, err = zerolog.ParseLevel(cfg.Logging.LogLevel)
		if err != nil {
			return nil, errors.Wrapf(err, "logging.log_level failed to parse")
		}
	}

	return cfg, nil
}

// Validate reports every problem found, not only the first.
func (cfg *Config) Validate() error {
	var result *multierror.Error

	invalid := func(format string, args ...any) {
		result = multierror.Append(result, errors.Wrapf(ErrInvalidConfig, format, args...))
	}

	if cfg.Server.ListenAddress == "" {
		invalid("server.listen_address is required")
	}

	if cfg.Server.Auth.Basic.Enabled && (cfg.Server.Auth.Basic.Username == "" || cfg.Server.Auth.Basic.Password == "") {
		invalid("server.auth.basic requires username and password")
	}

	if cfg.Server.Auth.Bearer.Enabled && cfg.Server.Auth.Bearer.Token == "" {
		invalid("server.auth.bearer requires a token")
	}

	switch cfg.Store.Backend {
	case BackendDirectory:
		if cfg.Directory.Address == "" {
			invalid("directory.address is required for the %s backend", BackendDirectory)
		}

		cfg.validateModel(invalid)
	case BackendPostgres:
		if cfg.Store.Postgres.DSN == "" {
			invalid("store.postgres.dsn is required for the %s backend", BackendPostgres)
		}
	case BackendMemory:
	default:
		invalid("store.backend must be one of %s, got %q",
			strings.Join([]string{BackendDirectory, BackendPostgres, BackendMemory}, ", "), cfg.Store.Backend)
	}

	reg := cfg.Registration
	if reg.DefaultLocale == "" {
		invalid("registration.default_locale is required")
	}

	if reg.StandardProfile == "" {
		invalid("registration.standard_profile is required")
	}

	if reg.CommunityProfile == "" {
		invalid("registration.community_profile is required")
	}

	if reg.CommunityOrgName == "" {
		invalid("registration.community_org_name is required")
	}

	if cfg.Store.Backend == BackendMemory {
		for _, profile := range []string{reg.StandardProfile, reg.CommunityProfile} {
			if profile != "" && !slices.Contains(cfg.Store.Memory.Profiles, profile) {
				invalid("store.memory.profiles must include %q", profile)
			}
		}
	}

	return result.ErrorOrNil()
}

func (cfg *Config) validateModel(invalid func(string, ...any)) {
	m := cfg.DirectoryModel

	required := []struct {
		key   string
		value string
	}{
		{"user_object_type", m.UserObjectType},
		{"identity_object_type", m.IdentityObjectType},
		{"identity_relation", m.IdentityRelation},
		{"organization_object_type", m.OrganizationObjectType},
		{"contact_object_type", m.ContactObjectType},
		{"profile_object_type", m.ProfileObjectType},
		{"member_relation", m.MemberRelation},
		{"contact_user_relation", m.ContactUserRelation},
	}

	for _, r := range required {
		if r.value == "" {
			invalid("directory_model.%s is required", r.key)
		}
	}
}

func fileExists(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return true, nil
	} else if os.IsNotExist(err) {
		return false, nil
	} else {
		return false, errors.Wrapf(err, "failed to stat file '%s'", path)
	}
}
