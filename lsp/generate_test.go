package lsp

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/uri"
)

type fakeEditor struct {
	mu     sync.Mutex
	doc    uri.URI
	line   uint32
	active bool
}

func (e *fakeEditor) ActiveDocument() (uri.URI, uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc, e.line, e.active
}

func (e *fakeEditor) moveCursor(line uint32) {
	e.mu.Lock()
	e.line = line
	e.mu.Unlock()
}

type fakeCaller struct {
	mu       sync.Mutex
	requests []GenerateParams
	response string
	err      error
}

func (c *fakeCaller) Call(_ context.Context, method string, params, result any) error {
	if method != MethodGenerate {
		return errors.New("unexpected method " + method)
	}
	c.mu.Lock()
	c.requests = append(c.requests, params.(GenerateParams))
	c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	*result.(*string) = c.response
	return nil
}

type fixedSource struct {
	caller Caller
}

func (s fixedSource) Current() Caller { return s.caller }

func TestGenerateSendsSnapshotOfCursor(t *testing.T) {
	editor := &fakeEditor{doc: uri.URI("file:///a.py"), line: 10, active: true}
	caller := &fakeCaller{response: "import unittest\n"}
	gen := &Generator{Source: fixedSource{caller: caller}, Editor: editor}

	text, err := gen.Generate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "import unittest\n", text)

	require.Len(t, caller.requests, 1)
	assert.Equal(t, GenerateParams{URI: "file:///a.py", LineNumber: 10, IsPytest: false}, caller.requests[0])
}

func TestGenerateSnapshotIsolation(t *testing.T) {
	editor := &fakeEditor{doc: uri.URI("file:///a.py"), line: 3, active: true}
	caller := &fakeCaller{response: "def test(): ...\n"}
	gen := &Generator{Source: fixedSource{caller: caller}, Editor: editor}

	_, err := gen.Generate(context.Background(), false)
	require.NoError(t, err)
	editor.moveCursor(27)
	_, err = gen.Generate(context.Background(), true)
	require.NoError(t, err)

	require.Len(t, caller.requests, 2)
	assert.Equal(t, uint32(3), caller.requests[0].LineNumber)
	assert.Equal(t, uint32(27), caller.requests[1].LineNumber)
	assert.False(t, caller.requests[0].IsPytest)
	assert.True(t, caller.requests[1].IsPytest)
}

func TestGenerateNoActiveEditor(t *testing.T) {
	caller := &fakeCaller{}
	gen := &Generator{
		Source: fixedSource{caller: caller},
		Editor: &fakeEditor{active: false},
	}
	_, err := gen.Generate(context.Background(), false)
	assert.ErrorIs(t, err, ErrNoActiveEditor)
	assert.Empty(t, caller.requests, "no request may be sent without an active editor")
}

func TestGenerateNoConnection(t *testing.T) {
	gen := &Generator{
		Source: fixedSource{caller: nil},
		Editor: &fakeEditor{doc: uri.URI("file:///a.py"), active: true},
	}
	_, err := gen.Generate(context.Background(), false)
	assert.ErrorIs(t, err, ErrServerUnavailable)
}

func TestGeneratePassesThroughUnavailable(t *testing.T) {
	caller := &fakeCaller{err: ErrServerUnavailable}
	gen := &Generator{
		Source: fixedSource{caller: caller},
		Editor: &fakeEditor{doc: uri.URI("file:///a.py"), active: true},
	}
	_, err := gen.Generate(context.Background(), false)
	assert.ErrorIs(t, err, ErrServerUnavailable)
}
