package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/cohortview/internal/cohort"
)

type staticToken string

func (t staticToken) Token() (string, bool) { return string(t), t != "" }

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api/v1/", opts...)
	require.NoError(t, err)
	return c
}

func TestNewRejectsRelativeURL(t *testing.T) {
	for _, raw := range []string{"", "/api/v1", "ftp://host/x", "localhost:8088"} {
		_, err := New(raw)
		assert.Error(t, err, raw)
	}
}

func TestInitialData(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/data/initial", r.URL.Path)
		assert.Equal(t, "40", r.URL.Query().Get("offset"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.NotEmpty(t, r.Header.Get(RequestIDHeader))
		assert.Empty(t, r.Header.Get("Authorization"))
		io.WriteString(w, `{"data": {"patients": [{"sample": "A1", "age": 30}], "labs": []}, "total_count": 45}`)
	}))

	page, err := c.InitialData(context.Background(), 40, 20)
	require.NoError(t, err)
	assert.Equal(t, 45, page.TotalCount)
	assert.Equal(t, []string{"patients", "labs"}, page.Data.Tables())
	assert.Equal(t, 1, page.Data.FirstTableLen())
}

func TestFilterSendsWireShape(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/data/filter", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{
			"filters": [{"field": "age", "operator": ">=", "value": 30}],
			"logical_operators": []
		}`, string(body))
		io.WriteString(w, `{"patients": [{"sample": "A1"}]}`)
	}), WithCredentials(staticToken("tok")))

	batch, err := c.Filter(context.Background(), cohort.FilterRequest{
		Filters:          []cohort.Filter{{Field: "age", Operator: cohort.OpGreaterOrEqual, Value: 30.0}},
		LogicalOperators: []cohort.Connector{},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.RecordCount())
}

func TestSearch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/data/search", r.URL.Path)
		var body map[string]string
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		assert.Equal(t, "A1*", body["query"])
		io.WriteString(w, `{"patients": [{"sample": "A1"}, {"sample": "A10"}]}`)
	}))

	batch, err := c.Search(context.Background(), "A1*")
	require.NoError(t, err)
	assert.Equal(t, 2, batch.RecordCount())
}

func TestErrorDetail(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
		wantCode   string
	}{
		{"string detail", 500, `{"detail": "database offline"}`, "database offline", "API001"},
		{"validation list", 422, `{"detail": [{"msg": "field required"}, {"msg": "bad operator"}]}`, "field required; bad operator", "API003"},
		{"no payload", 502, `<html>bad gateway</html>`, "", "API001"},
		{"unauthorized", 401, `{"detail": "Could not validate credentials"}`, "Could not validate credentials", "AUTH002"},
		{"not found", 404, `{}`, "", "API002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))

			_, err := c.Search(context.Background(), "x")
			require.Error(t, err)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantDetail, apiErr.Detail)
			assert.Equal(t, tt.wantCode, cohort.MapError(err).Code)
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, cohort.Describe(err).Message)
			}
		})
	}
}

func TestUploadRequiresToken(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	_, err := c.Upload(context.Background(), "data.csv", strings.NewReader("Sample\nA1\n"))
	require.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, "AUTH001", cohort.MapError(err).Code)
}

func TestUploadMultipart(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/data/upload", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		assert.Equal(t, "cohort.csv", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "Sample,age\nA1,30\n", string(data))

		io.WriteString(w, `{"message": "Uploaded 1 rows"}`)
	}))

	msg, err := c.ForSession(staticToken("secret")).Upload(context.Background(), "/tmp/x/cohort.csv", strings.NewReader("Sample,age\nA1,30\n"))
	require.NoError(t, err)
	assert.Equal(t, "Uploaded 1 rows", msg)
}

func TestDownload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "A1,B2", r.URL.Query().Get("samples"))
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Write([]byte("PK\x03\x04"))
	}))

	data, err := c.Download(context.Background(), []string{"A1", "B2"})
	require.NoError(t, err)
	assert.Equal(t, []byte("PK\x03\x04"), data)
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"token object", `{"access_token": "abc", "token_type": "bearer"}`, "abc"},
		{"bare string", `"xyz"`, "xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/auth/token", r.URL.Path)
				assert.NoError(t, r.ParseForm())
				assert.Equal(t, "alice", r.PostForm.Get("username"))
				assert.Equal(t, "pw", r.PostForm.Get("password"))
				io.WriteString(w, tt.body)
			}))
			tok, err := c.Login(context.Background(), "alice", "pw")
			require.NoError(t, err)
			assert.Equal(t, tt.want, tok)
		})
	}
}

func TestLoginWithoutToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"token_type": "bearer"}`)
	}))
	_, err := c.Login(context.Background(), "a", "b")
	assert.ErrorContains(t, err, "unexpected response")
}

func TestMe(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"detail": "Could not validate credentials"}`)
			return
		}
		io.WriteString(w, `{"id": 7, "username": "alice", "is_admin": true, "created_at": "2024-01-02T03:04:05"}`)
	}))

	u, err := c.Me(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, User{ID: 7, Username: "alice", IsAdmin: true, CreatedAt: "2024-01-02T03:04:05"}, u)

	_, err = c.Me(context.Background(), "bad")
	assert.True(t, IsUnauthorized(err))
}

func TestMalformedReply(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `"not a page"`)
	}))
	_, err := c.InitialData(context.Background(), 0, 20)
	require.Error(t, err)
	assert.Equal(t, "API003", cohort.MapError(err).Code)
}
