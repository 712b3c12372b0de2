package http

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig holds configuration for outbound gateway clients.
type ClientConfig struct {
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	MaxConnsPerHost int // 0 uses 50
	Transport       http.RoundTripper
}

// NewClient builds a pooled client whose dial timeout is ConnectTimeout and whose
// response header timeout is ReadTimeout. The overall deadline is set per attempt
// by the executor, so http.Client.Timeout stays zero.
func NewClient(cfg ClientConfig) *http.Client {
	if cfg.Transport != nil {
		return &http.Client{Transport: cfg.Transport}
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	maxConnsPerHost := cfg.MaxConnsPerHost
	if maxConnsPerHost == 0 {
		maxConnsPerHost = 50
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxConnsPerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{Transport: transport}
}
