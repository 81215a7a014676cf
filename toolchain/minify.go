package toolchain

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/humblenginr/brisk/pipeline"
)

var mediaTypes = map[string]string{
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".css":  "text/css",
	".html": "text/html",
	".htm":  "text/html",
	".svg":  "image/svg+xml",
	".json": "application/json",
}

// Minifier shrinks build artifacts by file extension. Files of an unknown
// type are returned unchanged.
type Minifier struct {
	m *minify.M
}

// NewMinifier returns a Minifier for JavaScript, CSS, HTML, SVG and JSON.
func NewMinifier() *Minifier {
	m := minify.New()
	m.AddFunc("application/javascript", js.Minify)
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	m.AddFuncRegexp(regexp.MustCompile("[/+]json$"), json.Minify)
	return &Minifier{m: m}
}

func (o *Minifier) Optimize(ctx context.Context, f pipeline.File) (pipeline.File, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.File{}, &pipeline.OptimizeError{Name: f.Name, Message: err.Error()}
	}
	mt, ok := mediaTypes[strings.ToLower(filepath.Ext(f.Name))]
	if !ok {
		return f, nil
	}
	out, err := o.m.Bytes(mt, f.Contents)
	if err != nil {
		return pipeline.File{}, &pipeline.OptimizeError{Name: f.Name, Message: err.Error()}
	}
	f.Contents = out
	return f, nil
}

var _ pipeline.Optimizer = (*Minifier)(nil)
