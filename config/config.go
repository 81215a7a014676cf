// Package config loads the build file that declares tasks, pipelines and
// watch bindings. YAML and TOML are both accepted; without a build file the
// built-in defaults describe a conventional Elm project.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultFiles are the build files looked up, in order, when no path is
// given.
var DefaultFiles = []string{"brisk.yaml", "brisk.yml", "brisk.toml"}

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the parsed build file.
type Config struct {
	Root        string   `yaml:"root" toml:"root"`
	Dest        string   `yaml:"dest" toml:"dest"`
	Parallelism int      `yaml:"parallelism" toml:"parallelism"`
	Compiler    Compiler `yaml:"compiler" toml:"compiler"`
	Log         Log      `yaml:"log" toml:"log"`
	Watch       Watch    `yaml:"watch" toml:"watch"`
	Tasks       []Task   `yaml:"tasks" toml:"tasks"`
}

type Compiler struct {
	Command  string `yaml:"command" toml:"command"`
	Optimize bool   `yaml:"optimize" toml:"optimize"`
}

type Log struct {
	Level string `yaml:"level" toml:"level"`
	File  string `yaml:"file" toml:"file"`
}

type Watch struct {
	Debounce Duration  `yaml:"debounce" toml:"debounce"`
	Workers  int       `yaml:"workers" toml:"workers"`
	Bindings []Binding `yaml:"bindings" toml:"bindings"`
}

type Binding struct {
	Globs []string `yaml:"globs" toml:"globs"`
	Tasks []string `yaml:"tasks" toml:"tasks"`
}

type Task struct {
	Name         string   `yaml:"name" toml:"name"`
	Deps         []string `yaml:"deps" toml:"deps"`
	Default      bool     `yaml:"default" toml:"default"`
	Retries      uint64   `yaml:"retries" toml:"retries"`
	Input        []string `yaml:"input" toml:"input"`
	RequireInput bool     `yaml:"require_input" toml:"require_input"`
	Dest         string   `yaml:"dest" toml:"dest"`
	Stages       []Stage  `yaml:"stages" toml:"stages"`
}

type Stage struct {
	Kind    string   `yaml:"kind" toml:"kind"`
	Dest    string   `yaml:"dest" toml:"dest"`
	Output  string   `yaml:"output" toml:"output"`
	Command string   `yaml:"command" toml:"command"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

// Default returns the built-in configuration: compile src/Tiled.elm into a
// minified bundle, copy the HTML and CSS assets, and run the Elm test suite
// on demand.
func Default() *Config {
	return &Config{
		Root:        ".",
		Dest:        "build",
		Parallelism: 1,
		Compiler:    Compiler{Command: "elm"},
		Log:         Log{Level: "info"},
		Watch: Watch{
			Debounce: Duration(200 * time.Millisecond),
			Workers:  4,
			Bindings: []Binding{
				{Globs: []string{"src/**", "assets/**"}, Tasks: []string{"elm", "index"}},
			},
		},
		Tasks: []Task{
			{
				Name:    "elm",
				Default: true,
				Input:   []string{"src/Tiled.elm"},
				Stages: []Stage{
					{Kind: "compile"},
					{Kind: "optimize"},
					{Kind: "copy"},
				},
			},
			{
				Name:    "index",
				Default: true,
				Input:   []string{"assets/{*.html,*.css}"},
				Stages:  []Stage{{Kind: "copy"}},
			},
			{
				Name:  "test",
				Input: []string{"tests/*.elm"},
				Stages: []Stage{
					{Kind: "compile"},
					{Kind: "shell", Command: "elm-test tests/TestRunner.elm"},
				},
			},
		},
	}
}

// Load reads the build file at path. An empty path searches DefaultFiles in
// the current directory and falls back to Default when none exists. The
// result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		for _, name := range DefaultFiles {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
		if path == "" {
			cfg := Default()
			return cfg, cfg.Validate()
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("build file %s not found", path)
		}
		return nil, fmt.Errorf("reading build file %s: %w", path, err)
	}

	cfg, err := Parse(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Root == "" || cfg.Root == "." {
		cfg.Root = filepath.Dir(path)
	} else if !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(filepath.Dir(path), cfg.Root)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a build file. ext selects the format: ".toml" for TOML,
// anything else for YAML. Unset settings take their default values; tasks
// and bindings do not.
func Parse(ext string, data []byte) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Root == "" {
		c.Root = d.Root
	}
	if c.Dest == "" {
		c.Dest = d.Dest
	}
	if c.Parallelism == 0 {
		c.Parallelism = d.Parallelism
	}
	if c.Compiler.Command == "" {
		c.Compiler.Command = d.Compiler.Command
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = d.Watch.Debounce
	}
	if c.Watch.Workers == 0 {
		c.Watch.Workers = d.Watch.Workers
	}
}
