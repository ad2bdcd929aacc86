// Package config loads the relay's environment-driven configuration and
// the backend CIDR allow-list policy.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerEntry is one entry in the authoritative game-server catalog.
type ServerEntry struct {
	ID   string // "host:port"
	Host string
	Port int
}

// BackendPolicy holds the ordered set of CIDR networks permitted as UDP
// destinations. A resolved backend host must be a literal IP contained in
// the union of these networks.
type BackendPolicy struct {
	nets []netip.Prefix
}

// Allowed reports whether host is a literal IP contained in the policy's
// CIDRs. Hostnames (anything that fails netip.ParseAddr) always return false.
func (p BackendPolicy) Allowed(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	for _, n := range p.nets {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

func parseCIDRs(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("parse CIDR %q: %w", part, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Config is the process-wide relay configuration, sourced from the
// environment per the RELAY_* variables below.
type Config struct {
	AllowedOrigins    []string
	BackendPolicy     BackendPolicy
	DefaultHost       string
	DefaultPort       int
	ServerList        []ServerEntry
	AuthToken         string
	IdleTimeout       time.Duration
	Port              int
	BufferedAmountMax int  // bytes; DataChannel backpressure threshold
	ClientInitiated   bool // allow the client-initiated signaling variant
}

// Load reads Config from the process environment. A malformed CIDR or port
// is a fatal ConfigError — the caller should treat a non-nil error as
// unrecoverable.
func Load() (*Config, error) {
	cfg := &Config{
		AllowedOrigins:    splitCSV(getenv("RELAY_ALLOWED_ORIGINS", "*")),
		DefaultHost:       getenv("RELAY_DEFAULT_BACKEND_HOST", "127.0.0.1"),
		AuthToken:         getenv("RELAY_AUTH_TOKEN", ""),
		BufferedAmountMax: 256 * 1024,
		ClientInitiated:   getenv("RELAY_CLIENT_INITIATED", "") == "true",
	}

	nets, err := parseCIDRs(getenv("RELAY_ALLOWED_BACKENDS", "10.13.13.0/24,127.0.0.0/8"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.BackendPolicy = BackendPolicy{nets: nets}

	port, err := strconv.Atoi(getenv("RELAY_DEFAULT_BACKEND_PORT", "27015"))
	if err != nil {
		return nil, fmt.Errorf("config: RELAY_DEFAULT_BACKEND_PORT: %w", err)
	}
	cfg.DefaultPort = port

	idleSec, err := strconv.Atoi(getenv("RELAY_IDLE_SEC", "300"))
	if err != nil {
		return nil, fmt.Errorf("config: RELAY_IDLE_SEC: %w", err)
	}
	cfg.IdleTimeout = time.Duration(idleSec) * time.Second

	listenPort, err := strconv.Atoi(getenv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("config: PORT: %w", err)
	}
	cfg.Port = listenPort

	servers, err := parseServerList(getenv("SERVER_LIST", ""), cfg.DefaultHost, cfg.DefaultPort)
	if err != nil {
		return nil, fmt.Errorf("config: SERVER_LIST: %w", err)
	}
	cfg.ServerList = servers

	return cfg, nil
}

func parseServerList(raw, defaultHost string, defaultPort int) ([]ServerEntry, error) {
	var out []ServerEntry
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, portStr, ok := strings.Cut(part, ":")
		port := defaultPort
		if ok {
			p, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, fmt.Errorf("server entry %q: %w", part, err)
			}
			port = p
		}
		out = append(out, ServerEntry{ID: fmt.Sprintf("%s:%d", host, port), Host: host, Port: port})
	}
	if len(out) == 0 {
		out = append(out, ServerEntry{ID: fmt.Sprintf("%s:%d", defaultHost, defaultPort), Host: defaultHost, Port: defaultPort})
	}
	return out, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
