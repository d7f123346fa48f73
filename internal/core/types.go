// Package core provides configuration, host management and logging for
// jaterm. It has zero UI dependencies and is independently testable.
package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the jaterm configuration stored at ~/.jaterm/config.json.
type Config struct {
	Hosts    []Host   `json:"hosts"`
	Settings Settings `json:"settings"`
}

// Host is an SSH target the helper can be bootstrapped on.
type Host struct {
	Name    string `json:"name"`
	Address string `json:"address"` // host:port
	User    string `json:"user,omitempty"`
	// IdentityFile is tried after the ssh-agent.
	IdentityFile          string    `json:"identityFile,omitempty"`
	KnownHostsFile        string    `json:"knownHostsFile,omitempty"`
	InsecureIgnoreHostKey bool      `json:"insecureIgnoreHostKey,omitempty"`
	AddedAt               time.Time `json:"addedAt,omitempty"`
}

// Settings holds user preferences.
type Settings struct {
	// HelperManifest points at a YAML manifest overriding the built-in helper.
	HelperManifest string `json:"helperManifest,omitempty"`
	// LogFile receives JSON logs in addition to stderr.
	LogFile        string   `json:"logFile,omitempty"`
	CommandTimeout Duration `json:"commandTimeout,omitempty"`
}

// Duration is a time.Duration stored as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
