package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// TimeoutSource resolves a raw setting by key.
type TimeoutSource interface {
	Lookup(key string) (string, bool)
}

// EnvSource reads settings straight from the process environment.
type EnvSource struct{}

func (EnvSource) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// ViperSource reads settings from a viper instance (file values overridden by env).
type ViperSource struct {
	v *viper.Viper
}

// NewViperSource builds a source backed by environment variables and, when path
// is set, a settings file in any format viper understands.
func NewViperSource(path string) (*ViperSource, error) {
	v := viper.New()
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("invalid config: read %s: %w", path, err)
		}
	}
	return &ViperSource{v: v}, nil
}

// NewViperSourceFrom wraps an existing viper instance.
func NewViperSourceFrom(v *viper.Viper) *ViperSource {
	return &ViperSource{v: v}
}

func (s *ViperSource) Lookup(key string) (string, bool) {
	if s == nil || s.v == nil {
		return "", false
	}
	if !s.v.IsSet(key) {
		// File keys are case-insensitive in viper, env keys are not.
		if !s.v.IsSet(strings.ToLower(key)) {
			return "", false
		}
		key = strings.ToLower(key)
	}
	return s.v.GetString(key), true
}

// ResolveTimeouts reads <PREFIX>_CONNECT_TIMEOUT, <PREFIX>_READ_TIMEOUT and
// <PREFIX>_MAX_RETRIES. Timeouts are seconds (fractions allowed) or Go durations.
// Missing or malformed values fall back to the defaults.
func ResolveTimeouts(src TimeoutSource, prefix string) gateway.TimeoutConfig {
	cfg := gateway.DefaultTimeoutConfig()
	if src == nil {
		return cfg
	}

	prefix = strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(prefix), "_"))

	if d, ok := lookupSeconds(src, prefix+"_CONNECT_TIMEOUT"); ok {
		cfg.Connect = d
	}
	if d, ok := lookupSeconds(src, prefix+"_READ_TIMEOUT"); ok {
		cfg.Read = d
	}
	if raw, ok := src.Lookup(prefix + "_MAX_RETRIES"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	return cfg
}

func lookupSeconds(src TimeoutSource, key string) (time.Duration, bool) {
	raw, ok := src.Lookup(key)
	if !ok {
		return 0, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}

	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d, true
	}
	return 0, false
}
