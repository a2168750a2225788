package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Mode selects which settings Validate requires.
type Mode string

const (
	ModeStream   Mode = "stream"
	ModeBackfill Mode = "backfill"
	ModeServe    Mode = "serve"
)

const (
	StorePostgres = "postgres"
	StoreJsonl    = "jsonl"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL              string
	Token               string
	Store               string
	PGDSN               string
	Out                 string
	Checkpoint          string
	BatchSize           uint64
	MaxRetries          int
	RetryBackoff        time.Duration
	ReconnectMaxBackoff time.Duration
	SubscriptionBuffer  int
	CatchUp             bool
	DedupKey            string
	Listen              string
	MetricsAddr         string
	LogLevel            string
}

// ValidationError reports a single invalid setting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %q: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Load merges config file, environment variables, and flags into Config.
// Besides INDEXER_* variables, RPC_URL, ERC20_ADDRESS, DATABASE_URL and PORT
// are honoured.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, legacy := range map[string]string{
		"rpc":    "RPC_URL",
		"token":  "ERC20_ADDRESS",
		"pg-dsn": "DATABASE_URL",
	} {
		envKey := "INDEXER_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetDefault("store", StorePostgres)
	v.SetDefault("out", "./data/transfers.jsonl")
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("reconnect-max-backoff", time.Minute)
	v.SetDefault("subscription-buffer", 128)
	v.SetDefault("catch-up", true)
	v.SetDefault("dedup-key", "tx")
	v.SetDefault("listen", ":3000")
	v.SetDefault("metrics-addr", ":9090")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:              v.GetString("rpc"),
		Token:               v.GetString("token"),
		Store:               strings.ToLower(v.GetString("store")),
		PGDSN:               v.GetString("pg-dsn"),
		Out:                 v.GetString("out"),
		Checkpoint:          v.GetString("checkpoint"),
		BatchSize:           v.GetUint64("batch-size"),
		MaxRetries:          v.GetInt("max-retries"),
		RetryBackoff:        v.GetDuration("retry-backoff"),
		ReconnectMaxBackoff: v.GetDuration("reconnect-max-backoff"),
		SubscriptionBuffer:  v.GetInt("subscription-buffer"),
		CatchUp:             v.GetBool("catch-up"),
		DedupKey:            v.GetString("dedup-key"),
		Listen:              v.GetString("listen"),
		MetricsAddr:         v.GetString("metrics-addr"),
		LogLevel:            v.GetString("log-level"),
	}

	// PORT only fills in for a listen address nobody chose explicitly.
	port := strings.TrimPrefix(os.Getenv("PORT"), ":")
	if port != "" && os.Getenv("INDEXER_LISTEN") == "" && !v.InConfig("listen") && !isExplicit(flags, "listen") {
		cfg.Listen = ":" + port
	}

	return cfg, nil
}

func isExplicit(flags *pflag.FlagSet, name string) bool {
	if flags == nil {
		return false
	}
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

// Validate checks the settings mode depends on.
func (c Config) Validate(mode Mode) error {
	switch c.Store {
	case StorePostgres:
		if c.PGDSN == "" {
			return invalid("pg-dsn", "required when store is postgres")
		}
	case StoreJsonl:
		if c.Out == "" {
			return invalid("out", "required when store is jsonl")
		}
		if mode != ModeBackfill && c.Checkpoint == "" {
			return invalid("checkpoint", "required when store is jsonl")
		}
	default:
		return invalid("store", fmt.Sprintf("unsupported store %q (want postgres or jsonl)", c.Store))
	}

	if mode == ModeServe {
		if c.Listen == "" {
			return invalid("listen", "required")
		}
		return nil
	}

	if c.RPCURL == "" {
		return invalid("rpc", "rpc url is required")
	}
	if c.Token == "" {
		return invalid("token", "token contract address is required")
	}
	if !common.IsHexAddress(c.Token) {
		return invalid("token", fmt.Sprintf("invalid address %q", c.Token))
	}
	if c.BatchSize == 0 {
		return invalid("batch-size", "must be greater than zero")
	}
	if c.MaxRetries < 0 {
		return invalid("max-retries", "must not be negative")
	}
	switch strings.ToLower(c.DedupKey) {
	case "tx", "tx-log":
	default:
		return invalid("dedup-key", fmt.Sprintf("unsupported dedup key %q (want tx or tx-log)", c.DedupKey))
	}

	if mode == ModeStream {
		if !supportsSubscriptions(c.RPCURL) {
			return invalid("rpc", "streaming needs a websocket (ws://, wss://) or IPC endpoint")
		}
		if c.SubscriptionBuffer <= 0 {
			return invalid("subscription-buffer", "must be greater than zero")
		}
	}
	return nil
}

// TokenAddress returns the validated token contract address.
func (c Config) TokenAddress() common.Address {
	return common.HexToAddress(c.Token)
}

func supportsSubscriptions(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "ws", "wss", "":
		return true
	default:
		return false
	}
}
