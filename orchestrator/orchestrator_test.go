package orchestrator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/humblenginr/brisk/config"
	"github.com/humblenginr/brisk/dag"
	"github.com/humblenginr/brisk/pipeline"
)

type stubCompiler struct {
	mu        sync.Mutex
	err       error
	failFirst int
	n         int
}

func (c *stubCompiler) Compile(_ context.Context, sources []string, output string) (pipeline.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	if c.err != nil {
		return pipeline.File{}, c.err
	}
	if c.n <= c.failFirst {
		return pipeline.File{}, &pipeline.CompileError{Message: "TYPE MISMATCH"}
	}
	if output == "" {
		base := filepath.Base(sources[0])
		output = strings.TrimSuffix(base, filepath.Ext(base)) + ".js"
	}
	return pipeline.File{Name: output, Contents: []byte("function  main ( ) {\n  return  1 ;\n}\n")}, nil
}

type stubShell struct {
	mu       sync.Mutex
	commands []string
}

func (s *stubShell) Invoke(_ context.Context, cmd string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	return nil
}

func project(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range map[string]string{
		"src/Tiled.elm":        "module Tiled exposing (main)",
		"assets/index.html":    "<html><body>tiled</body></html>",
		"assets/tiled.css":     "canvas { border : 0 ; }",
		"tests/TestRunner.elm": "module TestRunner",
	} {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return root
}

func newOrchestrator(t *testing.T, cfg *config.Config, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithOutput(&bytes.Buffer{}, &bytes.Buffer{})}, opts...)
	o, err := New(cfg, nil, opts...)
	require.NoError(t, err)
	return o
}

func TestRun_DefaultBuild(t *testing.T) {
	root := project(t)
	cfg := config.Default()
	cfg.Root = root
	comp := &stubCompiler{}
	o := newOrchestrator(t, cfg, WithCompiler(comp))

	report, err := o.Run(context.Background(), "")
	require.NoError(t, err)
	require.True(t, report.Succeeded())
	assert.Equal(t, []string{"elm", "index"}, report.Tasks())

	bundle, err := os.ReadFile(filepath.Join(root, "build", "Tiled.js"))
	require.NoError(t, err)
	assert.Less(t, len(bundle), len("function  main ( ) {\n  return  1 ;\n}\n"))

	html, err := os.ReadFile(filepath.Join(root, "build", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html><body>tiled</body></html>", string(html))
	assert.FileExists(t, filepath.Join(root, "build", "tiled.css"))
	assert.NoFileExists(t, filepath.Join(root, "build", "TestRunner.elm"))
}

func TestRun_TestTaskCompileFailure(t *testing.T) {
	root := project(t)
	cfg := config.Default()
	cfg.Root = root
	comp := &stubCompiler{err: &pipeline.CompileError{Message: "NAMING ERROR"}}
	sh := &stubShell{}
	var stderr bytes.Buffer
	o, err := New(cfg, nil, WithCompiler(comp), WithShell(sh), WithOutput(&bytes.Buffer{}, &stderr))
	require.NoError(t, err)

	report, err := o.Run(context.Background(), "test")
	require.NoError(t, err)
	require.False(t, report.Succeeded())
	require.Len(t, report.Runs, 1)
	assert.Equal(t, dag.StatusFailed, report.Runs[0].Status)
	assert.Empty(t, sh.commands)
	assert.Contains(t, stderr.String(), "-- COMPILE ERROR in task test (stage 0: compile) --")
}

func TestRun_TestTaskInvokesRunner(t *testing.T) {
	root := project(t)
	cfg := config.Default()
	cfg.Root = root
	sh := &stubShell{}
	o := newOrchestrator(t, cfg, WithCompiler(&stubCompiler{}), WithShell(sh))

	report, err := o.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, []string{"elm-test tests/TestRunner.elm"}, sh.commands)
}

func TestRun_OneFailureDoesNotStopSiblings(t *testing.T) {
	root := project(t)
	cfg := config.Default()
	cfg.Root = root
	o := newOrchestrator(t, cfg, WithCompiler(&stubCompiler{err: &pipeline.CompileError{Message: "broken"}}))

	report, err := o.Run(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, report.Succeeded())
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "elm", report.Failed()[0].Task)
	assert.FileExists(t, filepath.Join(root, "build", "index.html"))
	assert.NoFileExists(t, filepath.Join(root, "build", "Tiled.js"))
}

func TestRun_UnknownTask(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	o := newOrchestrator(t, cfg)

	_, err := o.Run(context.Background(), "deploy")
	assert.ErrorIs(t, err, dag.ErrDefinition)
}

func TestNew_DefinitionErrors(t *testing.T) {
	cases := map[string]func(c *config.Config){
		"cycle": func(c *config.Config) {
			c.Tasks[0].Deps = []string{"index"}
			c.Tasks[1].Deps = []string{"elm"}
		},
		"duplicate":          func(c *config.Config) { c.Tasks[1].Name = "elm" },
		"unknown dependency": func(c *config.Config) { c.Tasks[0].Deps = []string{"vendor"} },
		"unknown bound task": func(c *config.Config) { c.Watch.Bindings[0].Tasks = []string{"css"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Root = t.TempDir()
			mutate(cfg)
			_, err := New(cfg, nil)
			assert.ErrorIs(t, err, dag.ErrDefinition)
		})
	}
}

func TestTasks_DeclarationOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	o := newOrchestrator(t, cfg)

	var names []string
	for _, task := range o.Tasks() {
		names = append(names, task.Name)
	}
	assert.Equal(t, []string{"elm", "index", "test"}, names)
}

func TestWatch_RebuildsOnChange(t *testing.T) {
	root := project(t)
	cfg := config.Default()
	cfg.Root = root
	cfg.Watch.Debounce = config.Duration(30 * time.Millisecond)
	comp := &stubCompiler{}
	o := newOrchestrator(t, cfg, WithCompiler(comp))
	stop := watchInBackground(t, o)
	defer stop()

	page := filepath.Join(root, "assets", "about.html")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(page, []byte("<p>about</p>"), 0o644)
		_, err := os.Stat(filepath.Join(root, "build", "about.html"))
		return err == nil
	}, 10*time.Second, 100*time.Millisecond)

	comp.mu.Lock()
	assert.Positive(t, comp.n)
	comp.mu.Unlock()
}

func watchInBackground(t *testing.T, o *Orchestrator) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Watch(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("watch did not stop")
		}
	}
}

func TestWatch_RecoversAfterCompileFailure(t *testing.T) {
	root := project(t)
	cfg := config.Default()
	cfg.Root = root
	cfg.Watch.Debounce = config.Duration(30 * time.Millisecond)
	comp := &stubCompiler{failFirst: 1}
	o := newOrchestrator(t, cfg, WithCompiler(comp))
	stop := watchInBackground(t, o)
	defer stop()

	source := filepath.Join(root, "src", "Tiled.elm")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(source, []byte("module Tiled exposing (main)"), 0o644)
		comp.mu.Lock()
		defer comp.mu.Unlock()
		return comp.n >= 1
	}, 10*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		_ = os.WriteFile(source, []byte("module Tiled exposing (main, view)"), 0o644)
		_, err := os.Stat(filepath.Join(root, "build", "Tiled.js"))
		return err == nil
	}, 10*time.Second, 100*time.Millisecond)

	comp.mu.Lock()
	assert.GreaterOrEqual(t, comp.n, 2)
	comp.mu.Unlock()
}

func TestWatch_IgnoresItsOwnOutput(t *testing.T) {
	root := project(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build"), 0o755))
	cfg := config.Default()
	cfg.Root = root
	cfg.Watch.Debounce = config.Duration(30 * time.Millisecond)
	cfg.Watch.Bindings = []config.Binding{{Globs: []string{"**/*.html"}, Tasks: []string{"index"}}}

	core, logs := observer.New(zap.InfoLevel)
	o, err := New(cfg, zap.New(core), WithOutput(&bytes.Buffer{}, &bytes.Buffer{}))
	require.NoError(t, err)
	stop := watchInBackground(t, o)
	defer stop()

	page := filepath.Join(root, "assets", "about.html")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(page, []byte("<p>about</p>"), 0o644)
		_, err := os.Stat(filepath.Join(root, "build", "about.html"))
		return err == nil
	}, 10*time.Second, 100*time.Millisecond)

	builds := func() int { return logs.FilterMessage("build succeeded").Len() }
	require.Eventually(t, func() bool { return builds() >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	settled := builds()
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, settled, builds(), "writing build output re-triggered the build")
}

func TestWatch_NoBindings(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.Watch.Bindings = nil
	o := newOrchestrator(t, cfg)

	assert.Error(t, o.Watch(context.Background()))
}
