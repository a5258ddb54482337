package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRejectsEmptyURL(t *testing.T) {
	source, err := Connect(context.Background(), ToolSourceConfig{})
	require.Error(t, err)
	assert.Nil(t, source)
}

func TestConfigDefaults(t *testing.T) {
	cfg := ToolSourceConfig{URL: "https://example.com/mcp"}
	cfg.applyDefaults()
	assert.Equal(t, 60*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.CallTimeout)

	cfg = ToolSourceConfig{
		URL:            "https://example.com/mcp",
		ConnectTimeout: 5 * time.Second,
		CallTimeout:    10 * time.Second,
	}
	cfg.applyDefaults()
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
}

func TestClosedSourceRefusesCalls(t *testing.T) {
	source := &ToolSource{closed: true}
	tool := &remoteTool{name: "scrape", source: source}

	_, err := tool.InvokableRun(context.Background(), `{"url":"https://example.com"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source closed")
}
