package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the wallet session configuration. It is passed explicitly to
// the components that need it rather than read from process-wide state, so
// its lifetime is tied to the session that loaded it.
type Config struct {
	v *viper.Viper
}

// Load reads .env and config.json from the working directory, creating a
// default config file on first run.
func Load() (*Config, error) {
	_ = godotenv.Load() // a missing .env is fine

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if werr := v.SafeWriteConfig(); werr != nil && !os.IsExist(werr) {
				return nil, fmt.Errorf("error creating config file: %w", werr)
			}
			fmt.Println("Created default configuration file")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

// FromViper wraps an existing viper instance. Used by tests and by callers
// that assemble configuration programmatically.
func FromViper(v *viper.Viper) *Config {
	setDefaults(v)
	return &Config{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network", "mainnet") // or "testnet" or "regtest"
	v.SetDefault("electrum_server", "electrum.blockstream.info:50002")
	v.SetDefault("electrum_use_ssl", true)
	v.SetDefault("mempool_api", "https://mempool.space")
	v.SetDefault("fee_commit_policy", "continuous") // or "on-release"
	v.SetDefault("fee_cache_ttl", "60s")
	v.SetDefault("wallet_db_path", "./sendcore.db")
	v.SetDefault("log_file", "./sendcore.log")
	v.SetDefault("base_unit", "sats") // or "btc"
	v.SetDefault("fiat_enabled", false)
	v.SetDefault("fiat_currency", "USD")
	v.SetDefault("ipc_socket", "/tmp/sendcore.sock")
}

func (c *Config) Network() string        { return c.v.GetString("network") }
func (c *Config) ElectrumServer() string { return c.v.GetString("electrum_server") }
func (c *Config) ElectrumUseSSL() bool   { return c.v.GetBool("electrum_use_ssl") }
func (c *Config) MempoolAPI() string     { return c.v.GetString("mempool_api") }
func (c *Config) DBPath() string         { return c.v.GetString("wallet_db_path") }
func (c *Config) LogFile() string        { return c.v.GetString("log_file") }
func (c *Config) FiatEnabled() bool      { return c.v.GetBool("fiat_enabled") }
func (c *Config) FiatCurrency() string   { return c.v.GetString("fiat_currency") }
func (c *Config) IPCSocket() string      { return c.v.GetString("ipc_socket") }

// CommitOnRelease reports whether slider drags commit on release instead of
// continuously.
func (c *Config) CommitOnRelease() bool {
	return c.v.GetString("fee_commit_policy") == "on-release"
}

// FeeCacheTTL returns how long fee estimates stay fresh.
func (c *Config) FeeCacheTTL() time.Duration {
	d := c.v.GetDuration("fee_cache_ttl")
	if d <= 0 {
		d = 60 * time.Second
	}
	return d
}

// ChainParams maps the configured network name to chain parameters.
func (c *Config) ChainParams() *chaincfg.Params {
	switch c.Network() {
	case "testnet":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// BaseUnit returns the display unit, "sats" or "BTC".
func (c *Config) BaseUnit() string {
	if c.v.GetString("base_unit") == "btc" {
		return "BTC"
	}
	return "sats"
}

// FormatSats renders an amount in the configured base unit: grouped
// satoshis ("50,000 sats") or eight-decimal BTC ("0.00050000 BTC").
func (c *Config) FormatSats(amt btcutil.Amount) string {
	if c.BaseUnit() == "BTC" {
		return fmt.Sprintf("%.8f BTC", amt.ToBTC())
	}
	return groupThousands(int64(amt)) + " sats"
}

func groupThousands(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	digits := fmt.Sprintf("%d", n)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
		if len(digits) > lead {
			b.WriteByte(',')
		}
	}
	for i := lead; i < len(digits); i += 3 {
		b.WriteString(digits[i : i+3])
		if i+3 < len(digits) {
			b.WriteByte(',')
		}
	}
	return b.String()
}
