package cvatapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(server *httptest.Server) *Client {
	return NewClient(slog.New(slog.DiscardHandler), Config{
		Address:  server.URL,
		Username: "alice",
		Password: "secret",
	})
}

func TestCheckConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/server/about", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		json.NewEncoder(w).Encode(map[string]string{"version": "2.9"})
	}))
	defer server.Close()

	version, err := testClient(server).CheckConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.9", version)
}

func TestProjects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"count": 1,
			"results": []map[string]any{{
				"id":     7,
				"name":   "street",
				"status": "annotation",
				"url":    "http://" + r.Host + "/api/projects/7",
				"owner":  map[string]string{"username": "bob"},
				"labels": map[string]int{"count": 3},
			}},
		})
	}))
	defer server.Close()

	projects, err := testClient(server).Projects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)

	assert.Equal(t, 7, projects[0].ID)
	assert.Equal(t, "street", projects[0].Name)
	assert.Equal(t, "bob", projects[0].OwnerUsername)
	assert.Equal(t, 3, projects[0].LabelsCount)
	assert.NotContains(t, projects[0].URL, "/api/")
}

func TestTasksFiltersByProject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tasks", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("project_id"))
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"id":                       12,
				"project_id":               7,
				"name":                     "batch-1",
				"data_original_chunk_type": "imageset",
			}},
		})
	}))
	defer server.Close()

	tasks, err := testClient(server).Tasks(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 12, tasks[0].ID)
	assert.Equal(t, "imageset", tasks[0].DataType)
}

func TestDownloadDataset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tasks/12/dataset", r.URL.Path)
		assert.Equal(t, ExportFormat, r.URL.Query().Get("format"))
		assert.Equal(t, "download", r.URL.Query().Get("action"))
		w.Write([]byte("zip-bytes"))
	}))
	defer server.Close()

	data, err := testClient(server).DownloadDataset(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, []byte("zip-bytes"), data)
}

func TestDownloadDatasetEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := testClient(server).DownloadDataset(context.Background(), 12)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyDownload))
}

func TestDownloadDatasetHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "export failed", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := testClient(server).DownloadDataset(context.Background(), 12)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEmptyDownload))
}
