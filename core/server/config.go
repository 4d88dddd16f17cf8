package server

import (
	"crypto/tls"
	"errors"
	"time"
)

// Config holds HTTP listener settings for the MFA daemon.
type Config struct {
	Addr string `env:"MFA_HTTP_ADDR" envDefault:":8080"`

	ReadTimeout       time.Duration `env:"MFA_HTTP_READ_TIMEOUT" envDefault:"10s"`
	ReadHeaderTimeout time.Duration `env:"MFA_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	WriteTimeout      time.Duration `env:"MFA_HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"MFA_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"MFA_HTTP_SHUTDOWN_TIMEOUT" envDefault:"20s"`
	MaxHeaderBytes    int           `env:"MFA_HTTP_MAX_HEADER_BYTES" envDefault:"65536"`

	// Both files must be set to serve HTTPS. TLS normally terminates at the
	// gateway, so plain HTTP is the default.
	TLSCertFile string `env:"MFA_HTTP_TLS_CERT_FILE"`
	TLSKeyFile  string `env:"MFA_HTTP_TLS_KEY_FILE"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   20 * time.Second,
		MaxHeaderBytes:    64 << 10,
	}
}

// NewFromConfig creates a Server from cfg. Options are applied after the
// config and win on conflict.
func NewFromConfig(cfg Config, opts ...Option) (*Server, error) {
	if cfg.Addr == "" {
		return nil, ErrMissingAddress
	}

	base := DefaultConfig()
	if cfg.ReadTimeout > 0 {
		base.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.ReadHeaderTimeout > 0 {
		base.ReadHeaderTimeout = cfg.ReadHeaderTimeout
	}
	if cfg.WriteTimeout > 0 {
		base.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.IdleTimeout > 0 {
		base.IdleTimeout = cfg.IdleTimeout
	}
	if cfg.ShutdownTimeout > 0 {
		base.ShutdownTimeout = cfg.ShutdownTimeout
	}
	if cfg.MaxHeaderBytes > 0 {
		base.MaxHeaderBytes = cfg.MaxHeaderBytes
	}
	base.Addr = cfg.Addr

	s := newServer(base)

	switch {
	case cfg.TLSCertFile != "" && cfg.TLSKeyFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, errors.Join(ErrTLSConfig, err)
		}
		s.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	case cfg.TLSCertFile != "" || cfg.TLSKeyFile != "":
		return nil, errors.Join(ErrTLSConfig, errors.New("both certificate and key files are required"))
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}
