package app

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/kirushik/aguardia-server/cmd/identity"
	"github.com/kirushik/aguardia-server/cmd/internal/mail"
	"github.com/kirushik/aguardia-server/cmd/security/envelope"
)

// EnvPrefix prefixes every environment override, e.g. AG_SEED_X.
const EnvPrefix = "AG"

// DefaultConfigPath is read when present and no explicit path is given.
const DefaultConfigPath = "etc/config.toml"

// Config contains all runtime configuration.
type Config struct {
	BindHost string
	BindPort int

	LogLevel  string
	LogFormat string

	// Liveness.
	HeartbeatTimeout time.Duration
	PingInterval     time.Duration

	// Login.
	EmailCodeTTL     time.Duration
	HandshakeTimeout time.Duration
	SMTP             mail.SMTPConfig

	Admins []identity.ID

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	SiteDir string

	// Hex seeds of the server's X25519 and Ed25519 keys.
	SeedX  string
	SeedEd string

	AllowedOrigins  []string
	WSWriteTimeout  time.Duration
	WSMaxFrameBytes int64
	RateEvents      int
	RateWindow      time.Duration

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bind_host", "0.0.0.0")
	v.SetDefault("bind_port", 8080)
	v.SetDefault("loglevel", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("heartbeat_timeout", 90)
	v.SetDefault("ping_timeout", 30)

	v.SetDefault("email_code_expired_sec", 600)
	v.SetDefault("handshake_timeout", 0)
	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_login", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_from", "")

	v.SetDefault("admins", "")

	v.SetDefault("postgres", "")
	v.SetDefault("db_max_conns", 10)
	v.SetDefault("db_min_conns", 0)
	v.SetDefault("db_schema", "public")
	v.SetDefault("readiness_require_db", false)

	v.SetDefault("site_dir", "")
	v.SetDefault("seed_x", "")
	v.SetDefault("seed_ed", "")

	v.SetDefault("allowed_origins", "*")
	v.SetDefault("ws_write_timeout", "5s")
	v.SetDefault("ws_max_frame_bytes", 64<<10)
	v.SetDefault("rate_events", 600)
	v.SetDefault("rate_window", "10s")

	v.SetDefault("http_read_header_timeout", "5s")
	v.SetDefault("http_idle_timeout", "60s")
	v.SetDefault("http_max_header_bytes", 1<<20)
}

// LoadConfig layers defaults, the TOML file and AG_* environment variables.
// An empty path reads DefaultConfigPath if it exists; an explicit path must exist.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("etc")
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &nf) {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	admins, err := parseIDs(v.Get("admins"))
	if err != nil {
		return Config{}, fmt.Errorf("config: admins: %w", err)
	}

	codeTTL := seconds(v.GetInt("email_code_expired_sec"))
	handshake := seconds(v.GetInt("handshake_timeout"))
	if handshake <= 0 {
		handshake = codeTTL
	}

	cfg := Config{
		BindHost: strings.TrimSpace(v.GetString("bind_host")),
		BindPort: v.GetInt("bind_port"),

		LogLevel:  v.GetString("loglevel"),
		LogFormat: v.GetString("log_format"),

		HeartbeatTimeout: seconds(v.GetInt("heartbeat_timeout")),
		PingInterval:     seconds(v.GetInt("ping_timeout")),

		EmailCodeTTL:     codeTTL,
		HandshakeTimeout: handshake,
		SMTP: mail.SMTPConfig{
			Host:     v.GetString("smtp_host"),
			Port:     v.GetInt("smtp_port"),
			Username: v.GetString("smtp_login"),
			Password: v.GetString("smtp_password"),
			From:     v.GetString("smtp_from"),
		},

		Admins: admins,

		DatabaseURL:        strings.TrimSpace(v.GetString("postgres")),
		DBMaxConns:         v.GetInt32("db_max_conns"),
		DBMinConns:         v.GetInt32("db_min_conns"),
		DBSchema:           v.GetString("db_schema"),
		ReadinessRequireDB: v.GetBool("readiness_require_db"),

		SiteDir: v.GetString("site_dir"),
		SeedX:   strings.TrimSpace(v.GetString("seed_x")),
		SeedEd:  strings.TrimSpace(v.GetString("seed_ed")),

		AllowedOrigins:  parseList(v.Get("allowed_origins")),
		WSWriteTimeout:  v.GetDuration("ws_write_timeout"),
		WSMaxFrameBytes: v.GetInt64("ws_max_frame_bytes"),
		RateEvents:      v.GetInt("rate_events"),
		RateWindow:      v.GetDuration("rate_window"),

		ReadHeaderTimeout: v.GetDuration("http_read_header_timeout"),
		IdleTimeout:       v.GetDuration("http_idle_timeout"),
		MaxHeaderBytes:    v.GetInt("http_max_header_bytes"),
	}

	if cfg.BindPort <= 0 || cfg.BindPort > 65535 {
		return Config{}, fmt.Errorf("config: bind_port out of range: %d", cfg.BindPort)
	}
	return cfg, nil
}

// HTTPAddr is the listen address.
func (c Config) HTTPAddr() string {
	return net.JoinHostPort(c.BindHost, strconv.Itoa(c.BindPort))
}

// SeedsMissingError reports unset server seeds and carries fresh ones to paste in.
type SeedsMissingError struct {
	SuggestedX  string
	SuggestedEd string
}

func (e SeedsMissingError) Error() string {
	return fmt.Sprintf("crypto seeds are not set; set %s_SEED_X and %s_SEED_ED, for example:\n  %s_SEED_X=%s\n  %s_SEED_ED=%s",
		EnvPrefix, EnvPrefix, EnvPrefix, e.SuggestedX, EnvPrefix, e.SuggestedEd)
}

// ServerKeys derives the server key pair from the configured seeds.
func (c Config) ServerKeys() (envelope.KeyPair, error) {
	if c.SeedX == "" || c.SeedEd == "" {
		sx, err := envelope.NewSeed()
		if err != nil {
			return envelope.KeyPair{}, err
		}
		se, err := envelope.NewSeed()
		if err != nil {
			return envelope.KeyPair{}, err
		}
		return envelope.KeyPair{}, SeedsMissingError{
			SuggestedX:  envelope.FormatKey(sx[:]),
			SuggestedEd: envelope.FormatKey(se[:]),
		}
	}

	sx, err := envelope.ParseKey(c.SeedX)
	if err != nil {
		return envelope.KeyPair{}, fmt.Errorf("config: seed_x: %w", err)
	}
	se, err := envelope.ParseKey(c.SeedEd)
	if err != nil {
		return envelope.KeyPair{}, fmt.Errorf("config: seed_ed: %w", err)
	}
	return envelope.DeriveKeys(sx, se), nil
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// parseList accepts a comma-separated string or a TOML array.
func parseList(raw any) []string {
	var parts []string
	if s, ok := raw.(string); ok {
		parts = strings.Split(s, ",")
	} else {
		parts = cast.ToStringSlice(raw)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIDs(raw any) ([]identity.ID, error) {
	parts := parseList(raw)
	out := make([]identity.ID, 0, len(parts))
	for _, p := range parts {
		n, err := cast.ToUint32E(p)
		if err != nil {
			return nil, fmt.Errorf("bad id %q: %w", p, err)
		}
		out = append(out, identity.ID(n))
	}
	return out, nil
}
