package security

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/acme/autocert"
)

// TLSMode describes how the callback listener handles TLS.
type TLSMode int

const (
	// TLSModeOff serves plain HTTP, for deployments behind a terminating proxy.
	TLSModeOff TLSMode = iota
	// TLSModeCustom uses operator-provided certificate and key files.
	TLSModeCustom
	// TLSModeACME obtains certificates from Let's Encrypt. The platform
	// only delivers callbacks to publicly trusted HTTPS endpoints.
	TLSModeACME
)

// ParseTLSMode maps a configuration value to a TLSMode.
func ParseTLSMode(s string) (TLSMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none":
		return TLSModeOff, nil
	case "custom", "file":
		return TLSModeCustom, nil
	case "acme", "letsencrypt":
		return TLSModeACME, nil
	}
	return TLSModeOff, fmt.Errorf("unknown tls mode %q", s)
}

func (m TLSMode) String() string {
	switch m {
	case TLSModeCustom:
		return "custom"
	case TLSModeACME:
		return "acme"
	default:
		return "off"
	}
}

// TLSOptions holds the inputs for every TLS mode.
type TLSOptions struct {
	Mode     TLSMode
	CertFile string
	KeyFile  string
	DataDir  string   // ACME certificate cache lives under DataDir/acme-certs
	Domains  []string // ACME host whitelist
}

// TLSResult is the outcome of TLS setup. ACMEManager is non-nil only in
// ACME mode and must also serve HTTP-01 challenges on port 80.
type TLSResult struct {
	Config      *tls.Config
	ACMEManager *autocert.Manager
	Mode        TLSMode
}

// SetupTLS builds the listener TLS configuration for opts.Mode.
// It returns a nil Config when TLS is off.
func SetupTLS(opts TLSOptions) (*TLSResult, error) {
	switch opts.Mode {
	case TLSModeOff:
		return &TLSResult{Mode: TLSModeOff}, nil
	case TLSModeCustom:
		cfg, err := LoadCustomTLS(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, err
		}
		return &TLSResult{Config: cfg, Mode: TLSModeCustom}, nil
	case TLSModeACME:
		if len(opts.Domains) == 0 {
			return nil, fmt.Errorf("acme mode requires at least one domain")
		}
		manager, cfg, err := NewACMEManager(opts.DataDir, opts.Domains...)
		if err != nil {
			return nil, err
		}
		return &TLSResult{Config: cfg, ACMEManager: manager, Mode: TLSModeACME}, nil
	}
	return nil, fmt.Errorf("unsupported tls mode %d", opts.Mode)
}

// LoadCustomTLS loads user-provided certificate and key files.
func LoadCustomTLS(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("custom tls requires both cert and key files")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load custom TLS keypair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// NewACMEManager creates a Let's Encrypt autocert manager for the given
// domains. Certificates are cached in dataDir/acme-certs.
func NewACMEManager(dataDir string, domains ...string) (*autocert.Manager, *tls.Config, error) {
	cacheDir := filepath.Join(dataDir, "acme-certs")
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create acme cache: %w", err)
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	tlsCfg := manager.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS12

	return manager, tlsCfg, nil
}
