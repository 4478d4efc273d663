package launch

// Spec is the wire format passed from the parent podder process to the
// re-exec'd init process (argv[1] == InitArg) via a one-shot JSON file
// named by the PODDER_INIT_SPEC environment variable. It carries
// everything the init process needs to finish its own setup, since by the
// time it runs it is already inside the new namespaces and cannot safely
// go back to the layer store for more information.
type Spec struct {
	// LowerDirs lists the overlay lowerdir stack, leaf layer first.
	LowerDirs []string `json:"lower_dirs"`
	Target    string   `json:"target"`
	UpperDir  string   `json:"upper_dir"`
	WorkDir   string   `json:"work_dir"`
	Ephemeral bool     `json:"ephemeral"`

	Command []string `json:"command"`
	Env     []string `json:"env"`
	Workdir string   `json:"workdir"`

	Hostname string `json:"hostname"`
	UID      uint32 `json:"uid"`
	GID      uint32 `json:"gid"`
	NetHost  bool   `json:"net_host"`

	// SyncFD is set to true when the parent applies subordinate ID
	// mappings asynchronously via newuidmap/newgidmap; the init process
	// then blocks on fd 3 (passed through cmd.ExtraFiles) until the
	// parent has finished and closed its end.
	SyncFD bool `json:"sync_fd"`
}

// InitArg is the argv[1] that tells cmd/podder's main to run the init
// entry point instead of the ordinary CLI.
const InitArg = "__podder_init__"

// EnvSpecPath names the environment variable carrying the Spec file path.
const EnvSpecPath = "PODDER_INIT_SPEC"
