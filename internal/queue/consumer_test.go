package queue

import (
    "encoding/json"
    "os"
    "path/filepath"
    "strings"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestHandleMessageAppendsLines(t *testing.T) {
    path := filepath.Join(t.TempDir(), "logs", "page_views.log")

    for i := int64(1); i <= 2; i++ {
        body, err := json.Marshal(PageViewedEvent{Key: "page_views", Count: i, ViewedAt: "2024-01-01T00:00:00Z", RemoteIP: "10.0.0.1"})
        require.NoError(t, err)
        require.NoError(t, HandleMessage(path, body))
    }

    raw, err := os.ReadFile(path)
    require.NoError(t, err)
    lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
    require.Len(t, lines, 2)
    assert.Contains(t, lines[0], "key=page_views | count=1")
    assert.Contains(t, lines[1], "count=2 | ip=10.0.0.1")
}

func TestHandleMessageRejectsBadPayloads(t *testing.T) {
    path := filepath.Join(t.TempDir(), "page_views.log")

    assert.Error(t, HandleMessage(path, []byte("not json")))
    assert.Error(t, HandleMessage(path, []byte(`{"key":"","count":3}`)))
    assert.Error(t, HandleMessage(path, []byte(`{"key":"page_views","count":0}`)))
    _, err := os.Stat(path)
    assert.True(t, os.IsNotExist(err))
}
