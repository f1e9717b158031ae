package execreq

import "time"

// FSMode is the filesystem access mode granted by a permission spec.
type FSMode string

const (
	FSNone  FSMode = "none"
	FSRead  FSMode = "read"
	FSWrite FSMode = "write"
)

// FilesystemPermission declares filesystem access rooted at the
// workspace (spec §3).
type FilesystemPermission struct {
	Mode  FSMode   `yaml:"mode,omitempty" json:"mode,omitempty"`
	Allow []string `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny  []string `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// NetworkPermission declares network access: either disabled entirely,
// or an allow/deny host list plus an optional CIDR allow list and
// per-request timeout (spec §3).
type NetworkPermission struct {
	Enabled     bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Allow       []string      `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny        []string      `yaml:"deny,omitempty" json:"deny,omitempty"`
	AllowCIDRs  []string      `yaml:"allowCidrs,omitempty" json:"allowCidrs,omitempty"`
	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty" json:"requestTimeout,omitempty"`
}

// EnvironmentPermission is an explicit key allow list, supporting a
// trailing "PREFIX*" wildcard form (spec §3).
type EnvironmentPermission struct {
	Allow []string `yaml:"allow,omitempty" json:"allow,omitempty"`
}

// ShellPermission declares what shell commands a handler may run.
type ShellPermission struct {
	Allow               []string      `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny                []string      `yaml:"deny,omitempty" json:"deny,omitempty"`
	RequireConfirmation []string      `yaml:"requireConfirmation,omitempty" json:"requireConfirmation,omitempty"`
	MaxConcurrent       int           `yaml:"maxConcurrent,omitempty" json:"maxConcurrent,omitempty"`
	CommandTimeout      time.Duration `yaml:"commandTimeout,omitempty" json:"commandTimeout,omitempty"`
}

// JobScope identifies who may be targeted by a submitted/scheduled job.
type JobScope string

const (
	JobScopeOwnPlugin JobScope = "own-plugin"
)

// JobPermissionBlock configures one of permissions.jobs.submit /
// permissions.jobs.schedule (spec §3).
type JobPermissionBlock struct {
	Handlers    []string      `yaml:"handlers,omitempty" json:"handlers,omitempty"`
	Scope       JobScope      `yaml:"scope,omitempty" json:"scope,omitempty"`
	MaxDuration time.Duration `yaml:"maxDuration,omitempty" json:"maxDuration,omitempty"`
	MinInterval time.Duration `yaml:"minInterval,omitempty" json:"minInterval,omitempty"`
	PerMinute   int           `yaml:"perMinute,omitempty" json:"perMinute,omitempty"`
	PerHour     int           `yaml:"perHour,omitempty" json:"perHour,omitempty"`
	PerDay      int           `yaml:"perDay,omitempty" json:"perDay,omitempty"`
	MaxConcurrent int         `yaml:"maxConcurrent,omitempty" json:"maxConcurrent,omitempty"`
}

// JobsPermission groups the submit/schedule quota blocks.
type JobsPermission struct {
	Submit   *JobPermissionBlock `yaml:"submit,omitempty" json:"submit,omitempty"`
	Schedule *JobPermissionBlock `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

// StatePermission controls per-namespace read/write access to the
// pluggable state store.
type StatePermission struct {
	Namespaces map[string]struct {
		Read  bool `yaml:"read,omitempty" json:"read,omitempty"`
		Write bool `yaml:"write,omitempty" json:"write,omitempty"`
	} `yaml:"namespaces,omitempty" json:"namespaces,omitempty"`
}

// Quotas bounds resource usage for a single execution (spec §3).
type Quotas struct {
	TimeoutMs int64 `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
	CPUMs     int64 `yaml:"cpuMs,omitempty" json:"cpuMs,omitempty"`
	MemoryMB  int64 `yaml:"memoryMb,omitempty" json:"memoryMb,omitempty"`
}

// InvokePermission declares which plugins this plugin may invoke via the
// cross-plugin broker (C9).
type InvokePermission struct {
	Allow []string `yaml:"allow,omitempty" json:"allow,omitempty"`
}

// PermissionSpec is the normalized, per-resource-class permission record
// attached to a manifest (spec §3). Normalization is pure and
// deterministic; the default is deny.
type PermissionSpec struct {
	Filesystem  FilesystemPermission  `yaml:"filesystem,omitempty" json:"filesystem,omitempty"`
	Network     NetworkPermission     `yaml:"network,omitempty" json:"network,omitempty"`
	Environment EnvironmentPermission `yaml:"environment,omitempty" json:"environment,omitempty"`
	Shell       ShellPermission       `yaml:"shell,omitempty" json:"shell,omitempty"`
	Jobs        JobsPermission        `yaml:"jobs,omitempty" json:"jobs,omitempty"`
	State       StatePermission       `yaml:"state,omitempty" json:"state,omitempty"`
	Invoke      InvokePermission      `yaml:"invoke,omitempty" json:"invoke,omitempty"`
	Quotas      Quotas                `yaml:"quotas,omitempty" json:"quotas,omitempty"`
}
