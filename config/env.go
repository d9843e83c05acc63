package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvPrefix      = "SOLARB_"
	EnvPrivateKeys = "SOLARB_PRIVATE_KEYS"
)

// LoadEnv loads environment variables from a .env file when one exists.
// Variables already set in the process environment win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", key)
	}
	return value, nil
}

type envSetter func(c *Config, v string) error

func setBool(dst func(c *Config) *bool) envSetter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func setUint(dst func(c *Config) *uint64) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func setFloat(dst func(c *Config) *float64) envSetter {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func setString(dst func(c *Config) *string) envSetter {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

// envOverrides maps SOLARB_* variables onto config fields
var envOverrides = map[string]envSetter{
	"MAX_HOPS": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Engine.MaxHops = n
		return nil
	},
	"MIN_PROFIT_PERCENT": setFloat(func(c *Config) *float64 { return &c.Engine.MinProfitPercent }),
	"MAX_SLIPPAGE":       setFloat(func(c *Config) *float64 { return &c.Engine.MaxSlippage }),
	"CONSIDER_FEES":      setBool(func(c *Config) *bool { return &c.Engine.ConsiderFees }),
	"CONSIDER_SLIPPAGE":  setBool(func(c *Config) *bool { return &c.Engine.ConsiderSlippage }),
	"DRY_RUN":            setBool(func(c *Config) *bool { return &c.Engine.DryRun }),
	"START_TOKENS": func(c *Config, v string) error {
		c.Engine.StartTokens = splitList(v)
		return nil
	},

	"USE_FLASH_LOANS":       setBool(func(c *Config) *bool { return &c.FlashLoan.UseFlashLoans }),
	"MAX_FLASH_LOAN_AMOUNT": setUint(func(c *Config) *uint64 { return &c.FlashLoan.MaxFlashLoanAmount }),

	"USE_JITO_BUNDLES": setBool(func(c *Config) *bool { return &c.Relay.UseJitoBundles }),
	"JITO_TIP_AMOUNT":  setUint(func(c *Config) *uint64 { return &c.Relay.JitoTipAmount }),
	"RELAY_URL":        setString(func(c *Config) *string { return &c.Relay.URL }),
	"JITO_AUTH_UUID":   setString(func(c *Config) *string { return &c.Relay.AuthUUID }),

	"RPC_ENDPOINT":  setString(func(c *Config) *string { return &c.Network.RPCEndpoint }),
	"COLLECTOR_URL": setString(func(c *Config) *string { return &c.Network.CollectorURL }),

	"ENABLE_SIGNAL_MONITORING": setBool(func(c *Config) *bool { return &c.Signals.EnableSignalMonitoring }),
	"SIGNALS_WS_URL":           setString(func(c *Config) *string { return &c.Signals.WebSocketURL }),
	"SIGNALS_REDIS_ADDR":       setString(func(c *Config) *string { return &c.Signals.RedisAddr }),

	"LEASE_REDIS_ADDR": setString(func(c *Config) *string { return &c.Wallet.LeaseRedisAddr }),
	"METRICS_ENABLED":  setBool(func(c *Config) *bool { return &c.Metrics.Enabled }),
	"DEBUG":            setBool(func(c *Config) *bool { return &c.Debug }),
}

// ApplyEnv overrides fields from SOLARB_* environment variables
func (c *Config) ApplyEnv() error {
	var errors []string
	for suffix, set := range envOverrides {
		v, ok := os.LookupEnv(EnvPrefix + suffix)
		if !ok || v == "" {
			continue
		}
		if err := set(c, v); err != nil {
			errors = append(errors, fmt.Sprintf("%s%s: %v", EnvPrefix, suffix, err))
		}
	}
	if len(errors) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errors, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
