package config

import "github.com/sergeknystautas/vaultdrive/internal/schema"

// File is the on-disk run file. Durations are Go duration strings ("10s").
type File struct {
	Paths          FilePaths         `yaml:"paths" json:"paths" required:"true"`
	ReadyTimeout   string            `yaml:"ready_timeout,omitempty" json:"ready_timeout,omitempty" description:"Bound on every readiness wait, e.g. 10s"`
	WindowTimeout  string            `yaml:"window_timeout,omitempty" json:"window_timeout,omitempty" description:"Bound on waiting for a new window"`
	SettleDelay    string            `yaml:"settle_delay,omitempty" json:"settle_delay,omitempty" description:"Pause after UI clicks whose effect cannot be observed"`
	PollInterval   string            `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
	ConfigDir      string            `yaml:"config_dir,omitempty" json:"config_dir,omitempty" description:"Per-vault settings directory name"`
	SandboxName    string            `yaml:"sandbox_name,omitempty" json:"sandbox_name,omitempty"`
	MinHostVersion string            `yaml:"min_host_version,omitempty" json:"min_host_version,omitempty" description:"Semver constraint the host version must satisfy"`
	ExtraArgs      []string          `yaml:"extra_args,omitempty" json:"extra_args,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	UsePTY         bool              `yaml:"use_pty,omitempty" json:"use_pty,omitempty" description:"Attach the host process to a pseudo-terminal"`
	Plugins        []FilePlugin      `yaml:"plugins,omitempty" json:"plugins,omitempty"`
	_              struct{}          `additionalProperties:"false"`
}

// FilePaths is the paths block of the run file.
type FilePaths struct {
	VaultDir    string   `yaml:"vault_dir,omitempty" json:"vault_dir,omitempty"`
	BuildDir    string   `yaml:"build_dir,omitempty" json:"build_dir,omitempty"`
	AssetsDir   string   `yaml:"assets_dir,omitempty" json:"assets_dir,omitempty"`
	UnpackedDir string   `yaml:"unpacked_dir,omitempty" json:"unpacked_dir,omitempty"`
	EntryFile   string   `yaml:"entry_file" json:"entry_file" required:"true"`
	Executable  string   `yaml:"executable" json:"executable" required:"true"`
	SessionID   string   `yaml:"session_id,omitempty" json:"session_id,omitempty"`
	_           struct{} `additionalProperties:"false"`
}

// FilePlugin is one plugin fixture entry of the run file.
type FilePlugin struct {
	ID     string   `yaml:"id" json:"id" required:"true"`
	Source string   `yaml:"source" json:"source" required:"true"`
	Mode   string   `yaml:"mode,omitempty" json:"mode,omitempty" enum:"copy,link"`
	_      struct{} `additionalProperties:"false"`
}

func init() {
	schema.Register(schema.LabelRunFile, File{},
		schema.WithTitle("vaultdrive run file"),
		schema.WithDescription("Paths, timeouts and plugin fixtures for one e2e run"))
}
