package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/LaurentvdBos/podder/pkg/sylog"
	"gopkg.in/ini.v1"
	"mvdan.cc/sh/v3/shell"
)

// Recognised config.ini sections and keys (spec §6). Anything else is
// dropped from the parsed Config, with a warning logged once per
// unrecognised key when a layer's own config is loaded.
const (
	SectionContainer  = "container"
	SectionNamespaces = "namespaces"
	SectionStorage    = "storage"
	SectionNetwork    = "network"

	KeyCommand  = "command"
	KeyWorkdir  = "workdir"
	KeyHostname = "hostname"
	KeyUser     = "user"
	KeyEnvTag   = "env:" // synthetic key prefix, see loadConfig

	KeyNet  = "net"
	KeyPID  = "pid"
	KeyIPC  = "ipc"
	KeyUTS  = "uts"

	KeyEphemeral = "ephemeral"

	KeyMacvlan    = "macvlan"
	KeyMacvlanMAC = "macvlan_mac"
)

var recognisedKeys = map[string]map[string]bool{
	SectionContainer:  {KeyCommand: true, "env": true, KeyWorkdir: true, KeyHostname: true, KeyUser: true},
	SectionNamespaces: {KeyNet: true, KeyPID: true, KeyIPC: true, KeyUTS: true},
	SectionStorage:    {KeyEphemeral: true},
	SectionNetwork:    {KeyMacvlan: true, KeyMacvlanMAC: true},
}

// Config is a section -> key -> value mapping. Repeated `env` assignments in
// [container] are expanded into individual "env:VARNAME" keys so that
// per-key override semantics (spec §3) apply at the granularity of a single
// environment variable, not the whole env list.
type Config map[string]map[string]string

// emptyConfig returns a new, empty configuration. The empty configuration is
// a valid effective configuration (spec §3 invariants).
func emptyConfig() Config {
	return Config{}
}

func (c Config) get(section, key string) (string, bool) {
	s, ok := c[section]
	if !ok {
		return "", false
	}
	v, ok := s[key]
	return v, ok
}

func (c Config) set(section, key, value string) {
	s, ok := c[section]
	if !ok {
		s = map[string]string{}
		c[section] = s
	}
	s[key] = value
}

// merge folds override on top of base, per spec §3: override replaces base
// key-for-key; neither argument is mutated.
func merge(base, override Config) Config {
	out := emptyConfig()
	for section, keys := range base {
		m := map[string]string{}
		for k, v := range keys {
			m[k] = v
		}
		out[section] = m
	}
	for section, keys := range override {
		m, ok := out[section]
		if !ok {
			m = map[string]string{}
			out[section] = m
		}
		for k, v := range keys {
			m[k] = v
		}
	}
	return out
}

func loadConfig(path string) (Config, error) {
	cfg := emptyConfig()

	f, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for _, section := range f.Sections() {
		name := strings.ToLower(section.Name())
		if name == ini.DefaultSection && len(section.Keys()) == 0 {
			continue
		}
		recognised := recognisedKeys[name]
		for _, key := range section.Keys() {
			keyName := key.Name()
			if recognised == nil || !recognised[keyName] {
				sylog.Warningf("%s: ignoring unrecognised key [%s] %s", path, name, keyName)
				continue
			}
			if name == SectionContainer && keyName == "env" {
				for _, assignment := range key.ValueWithShadows() {
					varName, _, ok := strings.Cut(assignment, "=")
					if !ok || varName == "" {
						sylog.Warningf("%s: ignoring malformed env assignment %q", path, assignment)
						continue
					}
					cfg.set(SectionContainer, KeyEnvTag+varName, assignment)
				}
				continue
			}
			cfg.set(name, keyName, key.Value())
		}
	}

	return cfg, nil
}

func saveConfig(path string, cfg Config) error {
	f := ini.Empty(ini.LoadOptions{AllowShadows: true})

	sections := make([]string, 0, len(cfg))
	for s := range cfg {
		sections = append(sections, s)
	}
	sort.Strings(sections)

	for _, name := range sections {
		sec, err := f.NewSection(name)
		if err != nil {
			return fmt.Errorf("building section %s: %w", name, err)
		}

		keys := make([]string, 0, len(cfg[name]))
		for k := range cfg[name] {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var envKey *ini.Key
		for _, k := range keys {
			v := cfg[name][k]
			if name == SectionContainer && strings.HasPrefix(k, KeyEnvTag) {
				if envKey == nil {
					envKey, err = sec.NewKey("env", v)
					if err != nil {
						return err
					}
				} else {
					envKey.AddShadow(v)
				}
				continue
			}
			if _, err := sec.NewKey(k, v); err != nil {
				return fmt.Errorf("building key %s/%s: %w", name, k, err)
			}
		}
	}

	if err := f.SaveTo(path); err != nil {
		return errkind.Wrap(errkind.ConfigInvalid, "save config", path, err)
	}
	return nil
}

// Command returns the shell-split [container] command, or nil if unset.
func (c Config) Command() ([]string, error) {
	v, ok := c.get(SectionContainer, KeyCommand)
	if !ok || v == "" {
		return nil, nil
	}
	fields, err := shell.Fields(v, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigInvalid, "parse command", v, err)
	}
	return fields, nil
}

// Env returns the [container] env assignments in KEY=VALUE form, sorted by
// key for determinism.
func (c Config) Env() []string {
	s, ok := c[SectionContainer]
	if !ok {
		return nil
	}
	var vars []string
	for k, v := range s {
		if strings.HasPrefix(k, KeyEnvTag) {
			vars = append(vars, v)
		}
	}
	sort.Strings(vars)
	return vars
}

func (c Config) Workdir() string {
	v, _ := c.get(SectionContainer, KeyWorkdir)
	if v == "" {
		return "/"
	}
	return v
}

func (c Config) Hostname(fallback string) string {
	if v, ok := c.get(SectionContainer, KeyHostname); ok && v != "" {
		return v
	}
	return fallback
}

// User returns the numeric uid[:gid] the container process should run as
// inside its namespace, defaulting to 0:0.
func (c Config) User() (uid, gid uint32) {
	v, ok := c.get(SectionContainer, KeyUser)
	if !ok || v == "" {
		return 0, 0
	}
	uidS, gidS, hasGid := strings.Cut(v, ":")
	fmt.Sscanf(uidS, "%d", &uid)
	if hasGid {
		fmt.Sscanf(gidS, "%d", &gid)
	}
	return uid, gid
}

func (c Config) namespaceMode(key string) string {
	v, ok := c.get(SectionNamespaces, key)
	if !ok || v == "" {
		return "private"
	}
	return v
}

// NetHost reports whether [namespaces] net = host.
func (c Config) NetHost() bool { return c.namespaceMode(KeyNet) == "host" }

func (c Config) Ephemeral() bool {
	v, ok := c.get(SectionStorage, KeyEphemeral)
	if !ok || v == "" {
		return true
	}
	return v == "true" || v == "1" || v == "yes"
}

// Macvlan returns the configured macvlan interface name and MAC (both may
// be empty, meaning no macvlan move is requested).
func (c Config) Macvlan() (iface, mac string) {
	iface, _ = c.get(SectionNetwork, KeyMacvlan)
	mac, _ = c.get(SectionNetwork, KeyMacvlanMAC)
	return iface, mac
}
