package poll

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nathan219/probemaster2-sub000/errors"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		BaseURL:    server.URL,
		AuthSecret: "test-secret",
	}, nil)
	return client, server
}

func TestClient_SinceSendsCursorAndAuth(t *testing.T) {
	var gotQuery map[string]string
	var gotHeader string

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(DefaultAuthHeader)
		gotQuery = map[string]string{
			"lastId": r.URL.Query().Get("lastId"),
			"length": r.URL.Query().Get("length"),
		}
		writeJSON(w, pollResult{Messages: []Message{
			{ID: "11", Data: "F16R [CO2] 640"},
		}})
	})

	messages, err := client.Since(context.Background(), "10", 50)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "11", messages[0].ID)
	assert.Equal(t, "test-secret", gotHeader)
	assert.Equal(t, "10", gotQuery["lastId"])
	assert.Equal(t, "50", gotQuery["length"])
}

func TestClient_SinceOmitsEmptyCursor(t *testing.T) {
	var hasLastID bool
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hasLastID = r.URL.Query().Has("lastId")
		writeJSON(w, pollResult{})
	})

	_, err := client.Since(context.Background(), "", 100)
	require.NoError(t, err)
	assert.False(t, hasLastID)
}

func TestClient_BeforeSendsBackwardCursor(t *testing.T) {
	var gotBefore string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotBefore = r.URL.Query().Get("beforeId")
		writeJSON(w, pollResult{Messages: []Message{
			{ID: "3", Data: "AB12 [Temp] 21.5"},
		}})
	})

	messages, err := client.Before(context.Background(), "5", 100)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "5", gotBefore)
}

func TestClient_UnauthorizedMapsToSentinel(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Since(context.Background(), "", 100)
	require.Error(t, err)
	assert.True(t, errors.IsUnauthorized(err))
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Since(context.Background(), "", 100)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
