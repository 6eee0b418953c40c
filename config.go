package toolhost

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML manifest of tool servers a host application manages.
//
//	servers:
//	  - name: files
//	    command: mcp-filesystem
//	    args: ["--root", "/home/me"]
//	  - name: remote
//	    url: https://tools.example.com/sse
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
}

// ServerConfig is one manifest entry. Exactly one of Command and URL must be
// set; Command selects the subprocess stdio transport, URL the SSE transport.
type ServerConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	URL     string   `yaml:"url,omitempty"`
}

// Descriptor converts the manifest entry into a ServerDescriptor.
func (c ServerConfig) Descriptor() ServerDescriptor {
	return ServerDescriptor{
		Name:    c.Name,
		Command: c.Command,
		Args:    c.Args,
		Env:     c.Env,
		URL:     c.URL,
	}
}

// LoadConfig reads and validates a manifest file.
func LoadConfig(path string) (Config, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(bs, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every entry is named, uniquely, and selects exactly one
// transport.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("server %d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("server %q: duplicate name", s.Name)
		}
		seen[s.Name] = true

		if s.Command == "" && s.URL == "" {
			return fmt.Errorf("server %q: either command or url is required", s.Name)
		}
		if s.Command != "" && s.URL != "" {
			return fmt.Errorf("server %q: command and url are mutually exclusive", s.Name)
		}
	}
	return nil
}

// Server returns the manifest entry with the given name.
func (c Config) Server(name string) (ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerConfig{}, false
}
