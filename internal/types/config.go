package types

// HPCConfig describes one remote cluster the supervisor can submit to.
type HPCConfig struct {
	Name               string            `yaml:"name"`
	IP                 string            `yaml:"ip"`
	Port               int               `yaml:"port"`
	RootPath           string            `yaml:"root_path"`
	JobPoolCapacity    int               `yaml:"job_pool_capacity"`
	IsCommunityAccount bool              `yaml:"is_community_account"`
	CommunityLogin     *Credential       `yaml:"community_login,omitempty"`
	Globus             *GlobusEndpoint   `yaml:"globus,omitempty"`
	SlurmInputRules    SlurmLimits       `yaml:"slurm_input_rules"`
	SlurmGlobalCap     SlurmLimits       `yaml:"slurm_global_cap"`
	Mount              map[string]string `yaml:"mount"`
}

// GlobusEndpoint identifies the Globus collection backing a cluster.
type GlobusEndpoint struct {
	EndpointID string `yaml:"endpoint_id"`
	BasePath   string `yaml:"base_path"`
}

// SlurmLimits is a partial resource ceiling; zero fields are "unset" and
// do not participate in the element-wise minimum.
type SlurmLimits struct {
	Nodes         int     `yaml:"nodes,omitempty"`
	Tasks         int     `yaml:"tasks,omitempty"`
	CPUsPerTask   int     `yaml:"cpus_per_task,omitempty"`
	MemoryPerCPU  string  `yaml:"memory_per_cpu,omitempty"`
	MemoryTotal   string  `yaml:"memory_total,omitempty"`
	GPUs          int     `yaml:"gpus,omitempty"`
	Walltime      string  `yaml:"walltime,omitempty"`
}

// MaintainerConfig selects the maintainer variant and default cluster for
// a named job kind.
type MaintainerConfig struct {
	Maintainer string `yaml:"maintainer"`
	DefaultHPC string `yaml:"default_hpc"`
}

// ContainerConfig maps a cluster to the container image path used by the
// community-contribution maintainer variant.
type ContainerConfig struct {
	Image        string `yaml:"image"`
	SingularityBin string `yaml:"singularity_bin"`
}

// KernelConfig lists environment initialization lines injected ahead of a
// job's execution stage.
type KernelConfig struct {
	InitLines []string `yaml:"init_lines"`
}
