// Package config describes the generator's on-disk configuration and the
// command-line flags that can override the config file path and log level.
// The shape mirrors the teacher proxy package's Config/Proxy/Stratum/Upstream
// structs (plain JSON-tagged structs, no schema library) plus the sections
// server mode and proxy mode need that spec.md leaves to "configuration
// parsing" as an external collaborator.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
)

// Config is the top-level generator configuration.
type Config struct {
	Name string `json:"name"`

	// Mode selects which of the two mutually exclusive modes (§2) runs:
	// "server" or "proxy".
	Mode string `json:"mode"`

	// Socket is the path of the Unix domain socket the stratifier connects
	// to for the request endpoint loop (§4.5/§6).
	Socket string `json:"socket"`

	// ClientVersion is the "PACKAGE/VERSION" string sent as the first
	// mining.subscribe parameter (§4.1).
	ClientVersion string `json:"clientVersion"`

	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile"`

	Proxy  ProxyConfig  `json:"proxy"`
	Server ServerConfig `json:"server"`

	Api      ApiConfig      `json:"api"`
	Redis    RedisConfig    `json:"redis"`
	NewRelic NewRelicConfig `json:"newrelic"`
}

// ProxyConfig configures proxy mode: the upstream stratum pools to try, in
// order, at startup (§4.7).
type ProxyConfig struct {
	Upstreams []Upstream `json:"upstreams"`
}

// Upstream is one configured upstream stratum pool.
type Upstream struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Auth    string `json:"auth"`
	Pass    string `json:"pass"`
	Timeout string `json:"timeout"`
}

// ServerConfig configures server mode: the bitcoind RPC endpoints to try, in
// order, at startup (§4.7), and the payout address used for validateaddress.
type ServerConfig struct {
	Endpoints     []RPCEndpoint `json:"endpoints"`
	PayoutAddress string        `json:"payoutAddress"`
	// CheckInterval is a robfig/cron schedule spec (e.g. "@every 30s")
	// controlling how often §4.9's background health check re-probes
	// every configured endpoint.
	CheckInterval string `json:"checkInterval"`
}

// RPCEndpoint is one configured bitcoind JSON-RPC endpoint.
type RPCEndpoint struct {
	Name    string `json:"name"`
	Host    string `json:"host"`
	User    string `json:"user"`
	Pass    string `json:"pass"`
	UseTLS  bool   `json:"useTls"`
	Timeout string `json:"timeout"`
}

// ApiConfig configures the read-only status/metrics HTTP surface (§4.10).
type ApiConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// RedisConfig configures the optional share-audit sink (§4.11). An empty
// Addr disables the sink.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int64  `json:"db"`
}

// NewRelicConfig configures optional New Relic metrics forwarding (§4.10).
type NewRelicConfig struct {
	Enabled bool   `json:"enabled"`
	Name    string `json:"name"`
	Key     string `json:"key"`
	Verbose bool   `json:"verbose"`
}

// Options are the command-line flags accepted by cmd/poolgend.
type Options struct {
	ConfigFile string `short:"c" long:"config" description:"path to the JSON config file" default:"poolgen.json"`
	LogLevel   string `short:"l" long:"loglevel" description:"override the configured log level"`
}

// ParseArgs parses os.Args (or an explicit argv for tests) into Options.
func ParseArgs(argv []string) (*Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(argv); err != nil {
		return nil, err
	}
	return &opts, nil
}

// Load reads and parses the JSON config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Socket == "" {
		cfg.Socket = "/tmp/poolgen.sock"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "poolgen/1.0"
	}
	return &cfg, nil
}

// Validate checks that the config is internally consistent enough to start
// the selected mode.
func (c *Config) Validate() error {
	switch c.Mode {
	case "proxy":
		if len(c.Proxy.Upstreams) == 0 {
			return fmt.Errorf("proxy mode requires at least one upstream")
		}
	case "server":
		if len(c.Server.Endpoints) == 0 {
			return fmt.Errorf("server mode requires at least one RPC endpoint")
		}
	default:
		return fmt.Errorf("unknown mode %q, want \"server\" or \"proxy\"", c.Mode)
	}
	return nil
}
