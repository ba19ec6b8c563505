package kcli

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestClientNameForHost(t *testing.T) {
	assert.Equal(t, "bm01", ClientNameForHost("bm01.lab.example.com"))
	assert.Equal(t, "worker", ClientNameForHost("worker"))
	assert.Equal(t, "192.168.1.40", ClientNameForHost("192.168.1.40"))
}

func TestUpsertClientCreatesRegistry(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/home/user/.kcli/config.yml"

	err := UpsertClient(fs, path, "bm01", ClientEntry{
		Host: "bm01.lab.example.com", User: "root", Protocol: "ssh", Pool: "default", Type: "kvm",
	})
	require.NoError(t, err)

	clients, err := ReadClients(fs, path)
	require.NoError(t, err)
	require.Contains(t, clients, "bm01")
	assert.Equal(t, "bm01.lab.example.com", clients["bm01"].Host)
	assert.Equal(t, "ssh", clients["bm01"].Protocol)
}

func TestUpsertClientReplacesExistingEntry(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/home/user/.kcli/config.yml"

	require.NoError(t, UpsertClient(fs, path, "bm01", ClientEntry{Host: "old.example.com", User: "root"}))
	require.NoError(t, UpsertClient(fs, path, "bm02", ClientEntry{Host: "bm02.example.com", User: "root"}))
	require.NoError(t, UpsertClient(fs, path, "bm01", ClientEntry{Host: "new.example.com", User: "admin"}))

	clients, err := ReadClients(fs, path)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "new.example.com", clients["bm01"].Host)
	assert.Equal(t, "admin", clients["bm01"].User)
	assert.Equal(t, "bm02.example.com", clients["bm02"].Host)
}

// A host like 10.0.0.5 produces a client key that must stay a YAML
// string; kcli loads the registry with a plain loader and an unquoted
// numeric key would come back as an int and never match.
func TestUpsertClientQuotesNumericNames(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/home/user/.kcli/config.yml"

	require.NoError(t, UpsertClient(fs, path, "192837", ClientEntry{Host: "192837", User: "root"}))

	raw, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"192837":`)

	var generic map[string]interface{}
	require.NoError(t, yaml.Unmarshal(raw, &generic))
	_, ok := generic["192837"]
	assert.True(t, ok, "numeric key must round-trip as a string")
}

func TestReadClientsMissingFile(t *testing.T) {
	clients, err := ReadClients(afero.NewMemMapFs(), "/nope/config.yml")
	require.NoError(t, err)
	assert.Empty(t, clients)
}
