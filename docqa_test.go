package docqa

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/docqa/ai/mock"
	"github.com/poiesic/docqa/config"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/query"
	"github.com/poiesic/docqa/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	cfg.Server.UploadDir = t.TempDir()
	cfg.Chunker.Size = 60
	cfg.AI.MaxRetries = 1
	cfg.AI.RetryDelay = 0
	return cfg
}

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil)
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Retrieval.TopK = 0
		_, err := New(cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("missing api key", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AI.APIKey = ""
		_, err := New(cfg)
		assert.ErrorIs(t, err, core.ErrConfiguration)
		assert.Equal(t, core.KindConfiguration, core.KindOf(err))
	})

	t.Run("builds every component", func(t *testing.T) {
		for _, backend := range []string{config.BackendBadger, config.BackendSQLite} {
			t.Run(backend, func(t *testing.T) {
				cfg := testConfig(t)
				cfg.Storage.Backend = backend
				app, err := New(cfg, WithProvider(mock.NewMockProvider()))
				require.NoError(t, err)
				defer app.Close()

				assert.NotNil(t, app.Sessions())
				assert.NotNil(t, app.Ingestion())
				assert.NotNil(t, app.Rewriter())
				assert.Equal(t, cfg.Retrieval.TopK, app.Query().TopK())
				assert.Same(t, cfg, app.Config())
			})
		}
	})
}

func TestSQLitePath(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, SQLiteFileName), sqlitePath(dir))
	assert.Equal(t, filepath.Join("data", SQLiteFileName), sqlitePath("data"))
	assert.Equal(t, "data/docqa.db", sqlitePath("data/docqa.db"))
}

func TestSessionsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	app, err := New(cfg, WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	n, err := app.Ingestion().Ingest(ctx, "s1", strings.Repeat("The harbour closes at dusk. ", 10), "harbour.txt")
	require.NoError(t, err)
	require.Greater(t, n, 0)
	require.NoError(t, app.Close())

	app, err = New(cfg, WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	defer app.Close()

	ids, err := app.Sessions().Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"s1"}, ids)

	result, err := app.Query().Query(ctx, "s1", "When does the harbour close?")
	require.NoError(t, err)
	assert.Equal(t, "mock answer", result.Answer)
	require.NotEmpty(t, result.Sources)
	assert.Equal(t, "harbour.txt", result.Sources[0].Filename)
}

func TestReembedder(t *testing.T) {
	ctx := context.Background()
	app, err := New(testConfig(t), WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Ingestion().Ingest(ctx, "s1", "alpha beta gamma", "a.txt")
	require.NoError(t, err)

	r, err := app.NewReembedder()
	require.NoError(t, err)
	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sessions)
	assert.Equal(t, 1, report.Chunks)
}

// TestHTTPRoundTrip drives upload, ask, rewrite and delete through the
// HTTP server backed by a real App.
func TestHTTPRoundTrip(t *testing.T) {
	repo, err := sqlite.NewMemoryRepository()
	require.NoError(t, err)

	app, err := New(testConfig(t), WithProvider(mock.NewMockProvider()), WithRepository(repo))
	require.NoError(t, err)
	defer app.Close()

	srv, err := app.NewServer()
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	postJSON := func(path string, body any) *http.Response {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		return resp
	}

	// Asking before any upload returns the guard answer
	resp := postJSON("/ask", map[string]string{"session_id": "web-1", "question": "anything?"})
	var result core.QueryResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, query.NoDocumentsAnswer, result.Answer)
	assert.Empty(t, result.Sources)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("session_id", "web-1"))
	part, err := form.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte(strings.Repeat("Lighthouses guide ships at night. ", 8)))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	resp, err = http.Post(ts.URL+"/upload", form.FormDataContentType(), &body)
	require.NoError(t, err)
	var upload struct {
		Message       string `json:"message"`
		ChunksIndexed int    `json:"chunks_indexed"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&upload))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "File processed successfully", upload.Message)
	assert.Greater(t, upload.ChunksIndexed, 0)

	resp = postJSON("/ask", map[string]string{"session_id": "web-1", "question": "What guides ships?"})
	result = core.QueryResult{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	assert.Equal(t, "mock answer", result.Answer)
	require.NotEmpty(t, result.Sources)
	assert.Equal(t, "notes.txt", result.Sources[0].Filename)

	resp = postJSON("/rewrite", map[string]string{"answer": result.Answer, "style": "formal"})
	var rewrite map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rewrite))
	resp.Body.Close()
	assert.Equal(t, "formal", rewrite["style_request"])
	assert.Equal(t, "mock answer", rewrite["original_answer"])
	assert.NotEmpty(t, rewrite["new_answer"])

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/web-1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Staged uploads are removed once indexed
	entries, err := os.ReadDir(app.Config().Server.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
