package clusterconfig

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// PCIDeviceList accepts either a YAML sequence of addresses or a single
// comma or whitespace separated string.
type PCIDeviceList []string

func (l *PCIDeviceList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	case yaml.ScalarNode:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		*l = nil
		for _, item := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			if item != "" {
				*l = append(*l, item)
			}
		}
		return nil
	default:
		return errors.New("pci_devices must be a list or a string")
	}
}

// NodeSpec sizes one node role.
type NodeSpec struct {
	Numcpus int `yaml:"numcpus"`
	Memory  int `yaml:"memory"`
}

// Remote identifies the hypervisor host everything runs against.
type Remote struct {
	Host       string `yaml:"host"`
	User       string `yaml:"user"`
	SSHKeyPath string `yaml:"ssh_key_path"`
}

// Config is the deployment description read from the YAML file passed
// on the command line. Every required key must be present explicitly,
// there are no implied defaults for cluster identity or sizing.
type Config struct {
	OCPVersion     string `yaml:"ocp_version"`
	VersionChannel string `yaml:"version_channel"`
	PullSecretPath string `yaml:"pull_secret_path"`

	ClusterName string `yaml:"cluster_name"`
	Domain      string `yaml:"domain"`
	Network     string `yaml:"network"`
	APIIP       string `yaml:"api_ip"`

	Ctlplanes int      `yaml:"ctlplanes"`
	Workers   int      `yaml:"workers"`
	Ctlplane  NodeSpec `yaml:"ctlplane"`
	Worker    NodeSpec `yaml:"worker"`
	DiskSize  int      `yaml:"disk_size"`

	PCIDevices PCIDeviceList `yaml:"pci_devices"`

	WaitTimeout int  `yaml:"wait_timeout"`
	NoWait      bool `yaml:"no_wait"`

	Remote Remote `yaml:"remote"`
}

var requiredKeys = []string{
	"ocp_version",
	"version_channel",
	"pull_secret_path",
	"cluster_name",
	"domain",
	"network",
	"api_ip",
	"ctlplanes",
	"workers",
	"ctlplane",
	"worker",
	"disk_size",
	"pci_devices",
	"wait_timeout",
	"remote",
}

// requiredNestedKeys must be spelled out under their parent mapping.
// An empty mapping is as much of an error as a missing one.
var requiredNestedKeys = map[string][]string{
	"ctlplane": {"numcpus", "memory"},
	"worker":   {"numcpus", "memory"},
	"remote":   {"user"},
}

// Load reads and validates the config at path.
func Load(fs afero.Fs, path string) (*Config, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	if err := checkRequiredKeys(raw); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}

	if cfg.Ctlplanes < 1 {
		return nil, errors.Errorf("config %s: ctlplanes must be at least 1", path)
	}
	return &cfg, nil
}

// checkRequiredKeys verifies presence at the YAML level, so a missing
// key is reported as missing rather than silently zero-valued.
func checkRequiredKeys(raw []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	values := map[string]*yaml.Node{}
	if len(doc.Content) > 0 && doc.Content[0].Kind == yaml.MappingNode {
		root := doc.Content[0]
		for i := 0; i+1 < len(root.Content); i += 2 {
			values[root.Content[i].Value] = root.Content[i+1]
		}
	}
	var missing []string
	for _, key := range requiredKeys {
		node, ok := values[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		for _, sub := range requiredNestedKeys[key] {
			if !mappingHasKey(node, sub) {
				missing = append(missing, key+"."+sub)
			}
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

func mappingHasKey(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

// IsRemote reports whether the deployment targets a remote hypervisor.
func (c *Config) IsRemote() bool {
	return c.Remote.Host != ""
}

// Topology describes the cluster shape for log output.
func (c *Config) Topology() string {
	if c.Ctlplanes == 1 && c.Workers == 0 {
		return "SNO (Single Node OpenShift)"
	}
	return fmt.Sprintf("%d control plane(s) + %d worker(s)", c.Ctlplanes, c.Workers)
}
