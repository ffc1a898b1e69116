package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerRegistry_ExactMatchWinsOverWildcard(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register("wildcard", wildcardHandler{})
	reg.Register("echo", EchoHandler{})

	h, ok := reg.Find("echo")
	require.True(t, ok)
	assert.IsType(t, EchoHandler{}, h)
}

func TestHandlerRegistry_FallsBackToWildcard(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register("wildcard", wildcardHandler{})

	h, ok := reg.Find("anything")
	require.True(t, ok)
	assert.IsType(t, wildcardHandler{}, h)
}

func TestHandlerRegistry_UnknownNameNotFound(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register("echo", EchoHandler{})

	_, ok := reg.Find("nope")
	assert.False(t, ok)
}

func TestHandlerRegistry_NamesPreservesRegistrationOrder(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register("echo", EchoHandler{})
	reg.Register("add", AddTaskHandler{})
	reg.Register("echo", EchoHandler{})

	assert.Equal(t, []string{"echo", "add"}, reg.Names())
}

type wildcardHandler struct{}

func (wildcardHandler) CanHandle(string) bool           { return true }
func (wildcardHandler) Handle(data string) (string, error) { return data, nil }
