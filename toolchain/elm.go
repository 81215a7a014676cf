package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/humblenginr/brisk/pipeline"
)

// ElmCompiler compiles Elm modules with `elm make`.
type ElmCompiler struct {
	command  string
	dir      string
	optimize bool
	log      *zap.Logger
}

// NewElmCompiler returns a compiler that runs command (for example "elm" or
// "npx elm") inside the project directory dir.
func NewElmCompiler(command, dir string, optimize bool, log *zap.Logger) *ElmCompiler {
	if command == "" {
		command = "elm"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ElmCompiler{command: command, dir: dir, optimize: optimize, log: log}
}

// Compile builds sources into a single JavaScript file. The artifact is named
// output, or after the first source module when output is empty. Rejected
// programs come back as a *pipeline.CompileError built from the compiler's
// JSON report.
func (c *ElmCompiler) Compile(ctx context.Context, sources []string, output string) (pipeline.File, error) {
	if len(sources) == 0 {
		return pipeline.File{}, &pipeline.CompileError{Message: "no source files"}
	}
	if output == "" {
		base := filepath.Base(sources[0])
		output = strings.TrimSuffix(base, filepath.Ext(base)) + ".js"
	}

	argv, err := shlex.Split(c.command)
	if err != nil || len(argv) == 0 {
		return pipeline.File{}, &pipeline.CompileError{Message: fmt.Sprintf("invalid compiler command %q", c.command)}
	}

	tmpDir, err := os.MkdirTemp("", "brisk-elm-*")
	if err != nil {
		return pipeline.File{}, &pipeline.IOError{Op: "mkdir temp", Err: err}
	}
	defer os.RemoveAll(tmpDir)
	outPath := filepath.Join(tmpDir, output)
	if err := os.MkdirAll(filepath.Dir(outPath), fs.ModePerm); err != nil {
		return pipeline.File{}, &pipeline.IOError{Op: "mkdir", Path: filepath.Dir(outPath), Err: err}
	}

	args := append(argv[1:], "make", "--report=json", "--output="+outPath)
	if c.optimize {
		args = append(args, "--optimize")
	}
	args = append(args, sources...)

	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Dir = c.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log.Debug("compiling", zap.Strings("sources", sources), zap.String("output", output))
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return pipeline.File{}, &pipeline.CompileError{Message: fmt.Sprintf("%s: %v", argv[0], err)}
		}
		ce := parseReport(stderr.Bytes())
		if ce.Location != nil && c.dir != "" && filepath.IsAbs(ce.Location.Path) {
			if rel, rerr := filepath.Rel(c.dir, ce.Location.Path); rerr == nil {
				ce.Location.Path = rel
			}
		}
		return pipeline.File{}, ce
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return pipeline.File{}, &pipeline.IOError{Op: "read", Path: outPath, Err: err}
	}
	return pipeline.File{Name: output, Contents: data}, nil
}

// parseReport turns the output of `elm make --report=json` into a
// CompileError describing the first problem. Anything that is not a JSON
// report is used verbatim as the message.
func parseReport(data []byte) *pipeline.CompileError {
	if !gjson.ValidBytes(data) {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = "compiler failed without output"
		}
		return &pipeline.CompileError{Message: msg}
	}

	r := gjson.ParseBytes(data)
	switch r.Get("type").String() {
	case "compile-errors":
		first := r.Get("errors.0")
		prob := first.Get("problems.0")
		msg := joinNonEmpty(prob.Get("title").String(), renderMessage(prob.Get("message")))

		total := 0
		for _, n := range r.Get("errors.#.problems.#").Array() {
			total += int(n.Int())
		}
		if total > 1 {
			msg += fmt.Sprintf("\n(and %d more)", total-1)
		}

		return &pipeline.CompileError{
			Message: msg,
			Location: &pipeline.SourceLocation{
				Path:   first.Get("path").String(),
				Line:   int(prob.Get("region.start.line").Int()),
				Column: int(prob.Get("region.start.column").Int()),
			},
		}

	default:
		ce := &pipeline.CompileError{
			Message: joinNonEmpty(r.Get("title").String(), renderMessage(r.Get("message"))),
		}
		if p := r.Get("path"); p.Type == gjson.String {
			ce.Location = &pipeline.SourceLocation{Path: p.String()}
		}
		return ce
	}
}

// renderMessage flattens a report message, which mixes plain strings with
// styled chunks of the form {"string": ..., "color": ...}.
func renderMessage(m gjson.Result) string {
	var b strings.Builder
	m.ForEach(func(_, v gjson.Result) bool {
		if v.IsObject() {
			b.WriteString(v.Get("string").String())
		} else {
			b.WriteString(v.String())
		}
		return true
	})
	return strings.TrimSpace(b.String())
}

func joinNonEmpty(parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

var _ pipeline.Compiler = (*ElmCompiler)(nil)
