package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersona(t *testing.T) {
	persona, err := NewPersona("fc-test-key")
	require.NoError(t, err)

	assert.Equal(t, "https://mcp.firecrawl.dev/fc-test-key/v2/mcp", persona.ToolSource.URL)
	assert.Equal(t, 60*time.Second, persona.ToolSource.ConnectTimeout)
	assert.Equal(t, 60*time.Second, persona.ToolSource.CallTimeout)
	assert.Contains(t, persona.Instructions, "voice assistant")
}

func TestNewPersonaEmptyKey(t *testing.T) {
	persona, err := NewPersona("")
	assert.Error(t, err)
	assert.Nil(t, persona)
}

func TestPersonaPerJobIsolation(t *testing.T) {
	a, err := NewPersona("key-a")
	require.NoError(t, err)
	b, err := NewPersona("key-b")
	require.NoError(t, err)

	assert.NotEqual(t, a.ToolSource.URL, b.ToolSource.URL)
	a.ToolSource.URL = "mutated"
	assert.NotEqual(t, "mutated", b.ToolSource.URL)
}
