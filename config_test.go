package toolhost_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchat/toolhost"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "toolhost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
servers:
  - name: files
    command: mcp-filesystem
    args: ["--root", "/srv/data"]
    env: ["LOG_LEVEL=debug"]
  - name: remote
    url: https://tools.example.com/sse
`)

	cfg, err := toolhost.LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)

	files, ok := cfg.Server("files")
	require.True(t, ok)
	assert.Equal(t, "mcp-filesystem", files.Command)
	assert.Equal(t, []string{"--root", "/srv/data"}, files.Args)
	assert.Equal(t, []string{"LOG_LEVEL=debug"}, files.Env)

	desc := files.Descriptor()
	assert.Equal(t, "files", desc.Name)
	assert.Equal(t, "mcp-filesystem", desc.Command)

	remote, ok := cfg.Server("remote")
	require.True(t, ok)
	assert.Equal(t, "https://tools.example.com/sse", remote.URL)
	assert.Empty(t, remote.Command)

	_, ok = cfg.Server("missing")
	assert.False(t, ok)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := toolhost.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "servers: [unclosed")
	_, err := toolhost.LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     toolhost.Config
		wantErr string
	}{
		{
			name: "valid",
			cfg: toolhost.Config{Servers: []toolhost.ServerConfig{
				{Name: "a", Command: "srv"},
				{Name: "b", URL: "https://example.com/sse"},
			}},
		},
		{
			name:    "missing name",
			cfg:     toolhost.Config{Servers: []toolhost.ServerConfig{{Command: "srv"}}},
			wantErr: "name is required",
		},
		{
			name: "duplicate name",
			cfg: toolhost.Config{Servers: []toolhost.ServerConfig{
				{Name: "a", Command: "srv"},
				{Name: "a", Command: "other"},
			}},
			wantErr: "duplicate name",
		},
		{
			name:    "no transport",
			cfg:     toolhost.Config{Servers: []toolhost.ServerConfig{{Name: "a"}}},
			wantErr: "either command or url is required",
		},
		{
			name: "both transports",
			cfg: toolhost.Config{Servers: []toolhost.ServerConfig{
				{Name: "a", Command: "srv", URL: "https://example.com/sse"},
			}},
			wantErr: "mutually exclusive",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if c.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.wantErr)
		})
	}
}
