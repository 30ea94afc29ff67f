package lsp

import (
	"context"
	"errors"
	"fmt"

	"go.lsp.dev/uri"
	"go.uber.org/zap"
)

// MethodGenerate is the custom request the analysis server registers for
// test synthesis.
const MethodGenerate = "gen_back"

var (
	// ErrNoActiveEditor is returned when generation is invoked without an
	// active document and cursor.
	ErrNoActiveEditor = errors.New("no active editor")

	// ErrServerUnavailable is returned when no live server connection is
	// bound at send time.
	ErrServerUnavailable = errors.New("analysis server is not available")
)

// GenerateParams is the gen_back request payload.
type GenerateParams struct {
	URI        string `json:"uri"`
	LineNumber uint32 `json:"lineNumber"`
	IsPytest   bool   `json:"isPytest"`
}

// Editor exposes the host's active document and cursor position.
type Editor interface {
	ActiveDocument() (doc uri.URI, line uint32, ok bool)
}

// Caller sends one request over a live connection.
type Caller interface {
	Call(ctx context.Context, method string, params, result any) error
}

// ConnectionSource yields whatever connection is currently bound, or nil
// when none is. A replacement window may legitimately expose nil; the
// generator reports that as ErrServerUnavailable rather than queueing.
type ConnectionSource interface {
	Current() Caller
}

// Generator is the request side of the test-generation protocol. Each
// invocation snapshots the cursor at call time and performs exactly one
// round trip; there are no retries.
type Generator struct {
	Source ConnectionSource
	Editor Editor
	Logger *zap.Logger
}

// Generate asks the server to synthesize a test for the function under the
// cursor. The response text is returned unparsed.
func (g *Generator) Generate(ctx context.Context, pytest bool) (string, error) {
	doc, line, ok := g.Editor.ActiveDocument()
	if !ok {
		return "", ErrNoActiveEditor
	}
	conn := g.Source.Current()
	if conn == nil {
		return "", ErrServerUnavailable
	}
	params := GenerateParams{
		URI:        string(doc),
		LineNumber: line,
		IsPytest:   pytest,
	}
	if g.Logger != nil {
		g.Logger.Debug("requesting test generation",
			zap.String("uri", params.URI),
			zap.Uint32("line", params.LineNumber),
			zap.Bool("pytest", params.IsPytest))
	}
	var text string
	if err := conn.Call(ctx, MethodGenerate, params, &text); err != nil {
		if errors.Is(err, ErrServerUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%s request failed: %w", MethodGenerate, err)
	}
	return text, nil
}
