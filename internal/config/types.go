package config

import "time"

// FanoutConfig represents the fanout configuration file structure
type FanoutConfig struct {
	// Defaults contains default settings for runs
	Defaults DefaultsConfig `yaml:"defaults,omitempty" json:"defaults,omitempty"`

	// SSH configures the remote-command transport
	SSH SSHConfig `yaml:"ssh,omitempty" json:"ssh,omitempty"`
}

// DefaultsConfig contains default run settings, overridable per run by flags
type DefaultsConfig struct {
	// Parallel is the number of concurrent tasks
	Parallel int `yaml:"parallel,omitempty" json:"parallel,omitempty"`

	// Timeout bounds each task's running time (0 = unlimited)
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// User is the default login name for endpoints that do not specify one
	User string `yaml:"user,omitempty" json:"user,omitempty"`

	// Port is the default port for endpoints that do not specify one
	Port string `yaml:"port,omitempty" json:"port,omitempty"`

	// OutDir is the default directory for per-endpoint stdout files
	OutDir string `yaml:"outdir,omitempty" json:"outdir,omitempty"`

	// ErrDir is the default directory for per-endpoint stderr files
	ErrDir string `yaml:"errdir,omitempty" json:"errdir,omitempty"`

	// NoColor disables colored output
	NoColor bool `yaml:"noColor,omitempty" json:"noColor,omitempty"`
}

// SSHConfig configures how remote commands are spawned
type SSHConfig struct {
	// Binary is the ssh client executable (default "ssh")
	Binary string `yaml:"binary,omitempty" json:"binary,omitempty"`

	// Args are extra client options inserted before the host
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Native switches to the in-process SSH transport
	Native bool `yaml:"native,omitempty" json:"native,omitempty"`

	// IdentityFile is a private key for the native transport
	IdentityFile string `yaml:"identityFile,omitempty" json:"identityFile,omitempty"`

	// KnownHostsFile overrides ~/.ssh/known_hosts for the native transport
	KnownHostsFile string `yaml:"knownHostsFile,omitempty" json:"knownHostsFile,omitempty"`

	// StrictHostKey enables known_hosts verification for the native transport
	StrictHostKey bool `yaml:"strictHostKey,omitempty" json:"strictHostKey,omitempty"`

	// Grace is the interval between graceful termination and force kill
	Grace time.Duration `yaml:"grace,omitempty" json:"grace,omitempty"`
}
