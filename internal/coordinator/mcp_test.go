package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbridge/feedbridge/internal/protocol"
)

func newTestMCPServer(t *testing.T, cfg MCPConfig) (*MCPServer, *Coordinator) {
	t.Helper()
	coord, _ := newTestCoordinator(t, testConfig())
	return NewMCPServer(cfg, coord, testLogger()), coord
}

func toolCall(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestRequestFeedbackRequiresSummary(t *testing.T) {
	ms, _ := newTestMCPServer(t, MCPConfig{Name: "test", Version: "0.0.1"})

	result, err := ms.handleRequestFeedback(context.Background(),
		toolCall(ToolRequestFeedback, map[string]interface{}{}))

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestRequestFeedbackReturnsHumanReply(t *testing.T) {
	ms, coord := newTestMCPServer(t, MCPConfig{Name: "test", Version: "0.0.1"})

	conn := newFakeConn("conn-1")
	coord.HandleConnect(conn)

	type callResult struct {
		result *mcp.CallToolResult
		err    error
	}
	done := make(chan callResult, 1)
	go func() {
		result, err := ms.handleRequestFeedback(context.Background(),
			toolCall(ToolRequestFeedback, map[string]interface{}{
				"summary":           "merge this?",
				"project_directory": "/work",
			}))
		done <- callResult{result, err}
	}()

	awaitEnvelopes(t, conn, protocol.TypeSessionRequest, 1)
	coord.HandleMessage(conn, feedbackFrame(t, "yes, merge"))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.False(t, res.result.IsError)
		assert.Equal(t, "yes, merge", resultText(t, res.result))
	case <-time.After(2 * time.Second):
		t.Fatal("tool call did not return")
	}
}

func TestRequestFeedbackReportsTimeoutSentinel(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = 60 * time.Millisecond
	coord, _ := newTestCoordinator(t, cfg)
	ms := NewMCPServer(MCPConfig{Name: "test", Version: "0.0.1"}, coord, testLogger())

	result, err := ms.handleRequestFeedback(context.Background(),
		toolCall(ToolRequestFeedback, map[string]interface{}{
			"summary": "anyone?",
		}))

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "timed out")
}

func TestPostNotificationReturnsImmediately(t *testing.T) {
	ms, coord := newTestMCPServer(t, MCPConfig{Name: "test", Version: "0.0.1"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err := ms.handlePostNotification(context.Background(),
			toolCall(ToolPostNotification, map[string]interface{}{
				"summary": "build green",
			}))
		assert.NoError(t, err)
		assert.False(t, result.IsError)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("post_notification must not block on delivery")
	}

	coord.mu.Lock()
	stored := coord.notifications.Count()
	coord.mu.Unlock()
	assert.Equal(t, 1, stored)
}

func TestPostNotificationRequiresSummary(t *testing.T) {
	ms, _ := newTestMCPServer(t, MCPConfig{Name: "test", Version: "0.0.1"})

	result, err := ms.handlePostNotification(context.Background(),
		toolCall(ToolPostNotification, map[string]interface{}{}))

	require.NoError(t, err)
	assert.True(t, result.IsError)
}
