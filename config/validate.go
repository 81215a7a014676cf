package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap/zapcore"

	"github.com/humblenginr/brisk/pipeline"
)

// ErrInvalid matches every validation failure.
var ErrInvalid = errors.New("invalid build file")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks everything that can be checked without building the task
// graph. Dependency names and cycles are left to the graph.
func (c *Config) Validate() error {
	if c.Parallelism < 1 {
		return invalidf("parallelism must be at least 1, got %d", c.Parallelism)
	}
	if c.Watch.Workers < 1 {
		return invalidf("watch.workers must be at least 1, got %d", c.Watch.Workers)
	}
	if c.Watch.Debounce < 0 {
		return invalidf("watch.debounce must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalidf("log.level: %v", err)
	}
	if err := checkDest("dest", c.Dest); err != nil {
		return err
	}

	for i, t := range c.Tasks {
		if t.Name == "" {
			return invalidf("tasks[%d]: name is required", i)
		}
		if t.Dest != "" {
			if err := checkDest("task "+t.Name+": dest", t.Dest); err != nil {
				return err
			}
		}
		if err := checkGlobs("task "+t.Name+": input", t.Input); err != nil {
			return err
		}
		if len(t.Stages) == 0 {
			return invalidf("task %s: at least one stage is required", t.Name)
		}
		for j, s := range t.Stages {
			if err := s.validate(t.Name, j, len(t.Stages)); err != nil {
				return err
			}
		}
	}

	for i, b := range c.Watch.Bindings {
		if len(b.Globs) == 0 {
			return invalidf("watch.bindings[%d]: at least one glob is required", i)
		}
		if err := checkGlobs(fmt.Sprintf("watch.bindings[%d]", i), b.Globs); err != nil {
			return err
		}
		if len(b.Tasks) == 0 {
			return invalidf("watch.bindings[%d]: at least one task is required", i)
		}
	}
	return nil
}

func (s Stage) validate(task string, idx, total int) error {
	kind := pipeline.Kind(s.Kind)
	if !kind.Valid() {
		return invalidf("task %s: stage %d: unknown kind %q", task, idx, s.Kind)
	}
	if s.Timeout < 0 {
		return invalidf("task %s: stage %d: timeout must not be negative", task, idx)
	}
	switch kind {
	case pipeline.KindShell:
		if strings.TrimSpace(s.Command) == "" {
			return invalidf("task %s: stage %d: shell stage needs a command", task, idx)
		}
		if idx != total-1 {
			return invalidf("task %s: stage %d: shell stage must be the last stage", task, idx)
		}
	case pipeline.KindCopy:
		if s.Dest != "" {
			if err := checkDest(fmt.Sprintf("task %s: stage %d: dest", task, idx), s.Dest); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkDest rejects destinations that would write outside the project.
func checkDest(field, dest string) error {
	if dest == "" {
		return invalidf("%s is required", field)
	}
	if filepath.IsAbs(dest) {
		return invalidf("%s must be relative to the project root, got %q", field, dest)
	}
	clean := filepath.Clean(dest)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return invalidf("%s must stay inside the project root, got %q", field, dest)
	}
	return nil
}

// Definition converts a task's stages into a pipeline definition.
func (t Task) Definition(defaultDest string) pipeline.Definition {
	dest := t.Dest
	if dest == "" {
		dest = defaultDest
	}
	def := pipeline.Definition{
		Input:        append([]string(nil), t.Input...),
		RequireInput: t.RequireInput,
		Dest:         dest,
	}
	for _, s := range t.Stages {
		def.Stages = append(def.Stages, pipeline.Stage{
			Kind:    pipeline.Kind(s.Kind),
			Dest:    s.Dest,
			Output:  s.Output,
			Command: s.Command,
			Timeout: s.Timeout.Std(),
		})
	}
	return def
}

func checkGlobs(field string, globs []string) error {
	for _, g := range globs {
		if !doublestar.ValidatePattern(filepath.ToSlash(g)) {
			return invalidf("%s: bad glob %q", field, g)
		}
	}
	return nil
}
