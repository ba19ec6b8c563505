package kcli

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ClientEntry is one remote hypervisor definition in the kcli client
// registry (~/.kcli/config.yml).
type ClientEntry struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Protocol string `yaml:"protocol"`
	Pool     string `yaml:"pool"`
	Type     string `yaml:"type"`
}

// ClientNameForHost derives the registry name for a host from its first
// DNS label. An IP address is used whole.
func ClientNameForHost(host string) string {
	if ip := regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`); ip.MatchString(host) {
		return host
	}
	return strings.SplitN(host, ".", 2)[0]
}

var numericName = regexp.MustCompile(`^\d+$`)

// keyNode builds a YAML key, forcing quotes on numeric-looking names so
// they survive a round trip as strings. kcli reads the registry with a
// plain YAML loader and a bare numeric key would come back as an int.
func keyNode(name string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
	if numericName.MatchString(name) {
		n.Style = yaml.DoubleQuotedStyle
	}
	return n
}

// UpsertClient adds or replaces the named client in the registry at
// path, creating the file and its directory when missing. All other
// entries are preserved.
func UpsertClient(fs afero.Fs, path, name string, entry ClientEntry) error {
	root := &yaml.Node{Kind: yaml.MappingNode}

	raw, err := afero.ReadFile(fs, path)
	switch {
	case err == nil:
		var doc yaml.Node
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return errors.Wrapf(err, "parsing registry %s", path)
		}
		if len(doc.Content) > 0 && doc.Content[0].Kind == yaml.MappingNode {
			root = doc.Content[0]
		}
	case !errors.Is(err, os.ErrNotExist):
		return errors.Wrapf(err, "reading registry %s", path)
	}

	var entryNode yaml.Node
	if err := entryNode.Encode(entry); err != nil {
		return errors.Wrap(err, "encoding client entry")
	}

	replaced := false
	for i := 0; i < len(root.Content); i += 2 {
		if root.Content[i].Value == name {
			root.Content[i+1] = &entryNode
			replaced = true
			break
		}
	}
	if !replaced {
		root.Content = append(root.Content, keyNode(name), &entryNode)
	}

	out, err := yaml.Marshal(root)
	if err != nil {
		return errors.Wrap(err, "serializing registry")
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	return afero.WriteFile(fs, path, out, 0o600)
}

// ReadClients loads all entries from the registry at path. A missing
// file yields an empty map.
func ReadClients(fs afero.Fs, path string) (map[string]ClientEntry, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]ClientEntry{}, nil
		}
		return nil, errors.Wrapf(err, "reading registry %s", path)
	}
	clients := map[string]ClientEntry{}
	if err := yaml.Unmarshal(raw, &clients); err != nil {
		return nil, errors.Wrapf(err, "parsing registry %s", path)
	}
	return clients, nil
}
