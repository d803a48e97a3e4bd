package resclient

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/resgateio/resclient-go/internal/connmgr"
	"github.com/resgateio/resclient-go/logger"
)

// Transport is the framed text-message contract a Client drives a
// connection through (SPEC_FULL.md §6). wstransport.Dial builds the
// default gorilla/websocket-backed implementation; tests use
// internal/conntest's fake instead.
type Transport = connmgr.Transport

// Config holds the parameters needed to construct a Client.
type Config struct {
	// URL is the absolute ws:// or wss:// endpoint to connect to
	// (SPEC_FULL.md §6 "URL resolution": only absolute URLs are accepted,
	// there being no ambient document URL in a Go binary).
	URL string
	// Transport is the connection implementation to drive. Required.
	Transport Transport
	// Logger receives connection-lifecycle and protocol-error log lines.
	// Defaults to logger.NopLogger{}.
	Logger logger.Logger
	// MetricsRegisterer, if non-nil, registers a Prometheus Collector
	// (internal/metrics, SPEC_FULL.md A.3) under it.
	MetricsRegisterer prometheus.Registerer
	// Namespace scopes this client's event bus (SPEC_FULL.md §6 Defaults:
	// "resclient").
	Namespace string
}

func (cfg *Config) namespace() string {
	if cfg.Namespace != "" {
		return cfg.Namespace
	}
	return "resclient"
}

func (cfg *Config) logger() logger.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return logger.NopLogger{}
}
