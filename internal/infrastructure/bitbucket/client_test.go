package bitbucket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
	"github.com/felixgeelhaar/prcover/internal/infrastructure/httpapi"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg.APIURL = server.URL
	if cfg.Workspace == "" {
		cfg.Workspace = "acme"
	}
	if cfg.Repository == "" {
		cfg.Repository = "shop"
	}
	client, err := NewClient(cfg, httpapi.Options{RatePerSecond: 1000})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresRepository(t *testing.T) {
	_, err := NewClient(Config{Workspace: "acme"}, httpapi.Options{})
	require.Error(t, err)
}

func TestClientAuth(t *testing.T) {
	t.Run("basic auth with app password", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "bot", user)
			assert.Equal(t, "app-pass", pass)
			_, _ = w.Write([]byte(`{"source":{"commit":{"hash":"abc123"}}}`))
		}, Config{Username: "bot", AppPassword: "app-pass"})

		sha, err := client.GetHeadCommit(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, "abc123", sha)
	})

	t.Run("bearer token wins", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Equal(t, "/repositories/acme/shop/pullrequests/7", r.URL.Path)
			_, _ = w.Write([]byte(`{"source":{"commit":{"hash":"def456"}}}`))
		}, Config{Username: "bot", AppPassword: "app-pass", Token: "tok"})

		sha, err := client.GetHeadCommit(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, "def456", sha)
	})
}

func TestGetDiff(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repositories/acme/shop/pullrequests/3/diff", r.URL.Path)
		_, _ = w.Write([]byte("diff --git a/x b/x\n"))
	}, Config{})

	text, err := client.GetDiff(context.Background(), 3)

	require.NoError(t, err)
	assert.Equal(t, "diff --git a/x b/x\n", text)
}

func TestListReportsFollowsPagination(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repositories/acme/shop/commit/abc/reports", r.URL.Path)
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`{"values":[{"uuid":"{u2}","title":"Lint","reporter":"linter"}]}`))
			return
		}
		next := "http://" + r.Host + "/repositories/acme/shop/commit/abc/reports?page=2"
		_, _ = w.Write([]byte(`{"values":[{"uuid":"{u1}","external_id":"prcover-1","title":"Coverage","reporter":"prcover"}],"next":"` + next + `"}`))
	}, Config{})

	reports, err := client.ListReports(context.Background(), "abc")

	require.NoError(t, err)
	assert.Equal(t, []application.Report{
		{ID: "prcover-1", Title: "Coverage", Reporter: "prcover"},
		{ID: "{u2}", Title: "Lint", Reporter: "linter"},
	}, reports)
}

func TestCreateReport(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/repositories/acme/shop/commit/abc/reports/prcover-xyz", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "COVERAGE", body["report_type"])
		assert.Equal(t, "FAILED", body["result"])
		assert.Equal(t, "prcover", body["reporter"])
		data := body["data"].([]any)
		assert.Equal(t, 66.7, data[0].(map[string]any)["value"])
		assert.Equal(t, false, data[1].(map[string]any)["value"])
		_, _ = w.Write([]byte(`{"uuid":"{r}"}`))
	}, Config{})

	id, err := client.CreateReport(context.Background(), "abc", application.ReportRequest{
		ExternalID: "prcover-xyz",
		Title:      "Coverage",
		Reporter:   "prcover",
		Result:     domain.VerdictFailed,
		Percentage: 200.0 / 3.0,
		Outcome:    domain.GateFail,
	})

	require.NoError(t, err)
	assert.Equal(t, "prcover-xyz", id)
}

func TestDeleteReport(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/repositories/acme/shop/commit/abc/reports/old", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}, Config{})

	require.NoError(t, client.DeleteReport(context.Background(), "abc", "old"))
	assert.True(t, called)
}

func TestAddAnnotations(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repositories/acme/shop/commit/abc/reports/rep/annotations", r.URL.Path)
		var body []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body, 2)
		assert.Equal(t, "src/a.py", body[0]["path"])
		assert.Equal(t, float64(11), body[0]["line"])
		assert.Equal(t, "CODE_SMELL", body[0]["annotation_type"])
		_, _ = w.Write([]byte(`[]`))
	}, Config{})

	err := client.AddAnnotations(context.Background(), "abc", "rep", []application.Annotation{
		{ExternalID: "a1", Path: "src/a.py", Line: 11, Summary: "Line not covered"},
		{ExternalID: "a2", Path: "src/a.py", Line: 12, Summary: "Line not covered"},
	})

	require.NoError(t, err)
}

func TestAddAnnotationsRejectsOversizedBatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}, Config{})

	err := client.AddAnnotations(context.Background(), "abc", "rep", make([]application.Annotation, MaxAnnotations+1))

	require.Error(t, err)
}

func TestCommentLifecycle(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repositories/acme/shop/pullrequests/5/comments":
			_, _ = w.Write([]byte(`{"values":[{"id":1,"content":{"raw":"lgtm"}},{"id":2,"content":{"raw":"<!-- marker -->\nold"}}]}`))
		case r.Method == http.MethodPut && r.URL.Path == "/repositories/acme/shop/pullrequests/5/comments/2":
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"content":{"raw":"new"}}`, string(body))
			_, _ = w.Write([]byte(`{"id":2,"links":{"html":{"href":"https://bitbucket.org/c/2"}}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/repositories/acme/shop/pullrequests/5/comments":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":3,"links":{"html":{"href":"https://bitbucket.org/c/3"}}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}, Config{})
	ctx := context.Background()

	found, ok, err := client.FindComment(ctx, 5, "<!-- marker -->")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", found.ID)

	updated, err := client.UpdateComment(ctx, 5, found.ID, "new")
	require.NoError(t, err)
	assert.Equal(t, "https://bitbucket.org/c/2", updated.URL)

	created, err := client.PostComment(ctx, 5, "fresh")
	require.NoError(t, err)
	assert.Equal(t, application.Comment{ID: "3", URL: "https://bitbucket.org/c/3"}, created)
}

func TestAPIErrorsArePropagated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"message":"Unauthorized"}}`))
	}, Config{})

	_, err := client.PostComment(context.Background(), 1, "x")

	var apiErr *application.PlatformAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "Unauthorized")
}
