package core

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrHostNotFound is returned when a host name is not configured.
var ErrHostNotFound = errors.New("host not found")

// DefaultSSHPort is used when an address has no port.
const DefaultSSHPort = 22

var hostNameRegexp = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// HostManager handles configured SSH hosts.
type HostManager struct {
	config *ConfigManager
}

// NewHostManager creates a HostManager.
func NewHostManager(config *ConfigManager) *HostManager {
	return &HostManager{config: config}
}

// Add validates h and appends it to the host list. The address is normalized
// to host:port. Names must be unique.
func (hm *HostManager) Add(h Host) (Host, error) {
	h.Name = strings.TrimSpace(h.Name)
	if !hostNameRegexp.MatchString(h.Name) {
		return Host{}, fmt.Errorf("invalid host name %q: use letters, digits, '.', '_' or '-'", h.Name)
	}
	addr, err := NormalizeAddress(h.Address)
	if err != nil {
		return Host{}, err
	}
	h.Address = addr
	h.User = strings.TrimSpace(h.User)
	if h.IdentityFile != "" {
		h.IdentityFile = expandHomePath(h.IdentityFile)
	}
	if h.KnownHostsFile != "" {
		h.KnownHostsFile = expandHomePath(h.KnownHostsFile)
	}
	h.AddedAt = time.Now().UTC()

	err = hm.config.Update(func(cfg *Config) error {
		for _, existing := range cfg.Hosts {
			if existing.Name == h.Name {
				return fmt.Errorf("host already configured: %s", h.Name)
			}
		}
		cfg.Hosts = append(cfg.Hosts, h)
		return nil
	})
	if err != nil {
		return Host{}, err
	}
	return h, nil
}

// Remove removes a host by name.
func (hm *HostManager) Remove(name string) error {
	return hm.config.Update(func(cfg *Config) error {
		hosts := make([]Host, 0, len(cfg.Hosts))
		found := false
		for _, h := range cfg.Hosts {
			if h.Name == name {
				found = true
				continue
			}
			hosts = append(hosts, h)
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrHostNotFound, name)
		}
		cfg.Hosts = hosts
		return nil
	})
}

// List returns all configured hosts.
func (hm *HostManager) List() ([]Host, error) {
	cfg, err := hm.config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg.Hosts, nil
}

// Find returns the host called name.
func (hm *HostManager) Find(name string) (Host, error) {
	hosts, err := hm.List()
	if err != nil {
		return Host{}, err
	}
	for _, h := range hosts {
		if h.Name == name {
			return h, nil
		}
	}
	return Host{}, fmt.Errorf("%w: %s", ErrHostNotFound, name)
}

// NormalizeAddress returns addr as host:port, adding DefaultSSHPort when the
// port is missing.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.New("host address is required")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// No port, or a bare IPv6 literal.
		host = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
		port = strconv.Itoa(DefaultSSHPort)
	}
	if host == "" || strings.ContainsAny(host, " /@") {
		return "", fmt.Errorf("invalid host address %q", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("invalid port in address %q", addr)
	}
	return net.JoinHostPort(host, port), nil
}
