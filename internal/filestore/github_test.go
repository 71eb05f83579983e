package filestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/starford/keloia/internal/apperr"
	"github.com/starford/keloia/internal/checksum"
)

// fakeGitHub emulates the Contents API and the raw host for repo o/r@main.
type fakeGitHub struct {
	mu      sync.Mutex
	files   map[string][]byte
	token   string
	fail    int // status to answer every API call with, when non-zero
	commits []string
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := strings.CutPrefix(r.URL.Path, "/o/r/main/"); ok {
		data, exists := f.files[p]
		if !exists {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
		return
	}

	p, ok := strings.CutPrefix(r.URL.Path, "/repos/o/r/contents/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.fail != 0 {
		w.WriteHeader(f.fail)
		_, _ = w.Write([]byte(`{"message":"server on fire"}`))
		return
	}
	data, exists := f.files[p]
	sha := checksum.GitBlob(data)

	switch r.Method {
	case http.MethodGet:
		if !exists {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"type":     "file",
			"sha":      sha,
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString(data),
		})
	case http.MethodPut, http.MethodDelete:
		var body contentsWriteBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch {
		case body.SHA == "" && exists && r.Method == http.MethodPut:
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		case body.SHA != "" && !exists, r.Method == http.MethodDelete && !exists:
			http.NotFound(w, r)
			return
		case body.SHA != "" && body.SHA != sha, r.Method == http.MethodDelete && body.SHA != sha:
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.commits = append(f.commits, body.Message)
		if r.Method == http.MethodDelete {
			delete(f.files, p)
			w.WriteHeader(http.StatusOK)
			return
		}
		content, _ := base64.StdEncoding.DecodeString(body.Content)
		f.files[p] = content
		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusCreated)
		}
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, GitHubConfig) {
	t.Helper()
	fake := &fakeGitHub{files: map[string][]byte{}, token: "tok"}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, GitHubConfig{
		Owner:      "o",
		Repo:       "r",
		Branch:     "main",
		Token:      "tok",
		APIURL:     srv.URL,
		RawURL:     srv.URL,
		HTTPClient: srv.Client(),
	}
}

func TestGitHubContract(t *testing.T) {
	_, cfg := newFakeGitHub(t)
	runContract(t, NewGitHub(cfg))
}

func TestGitHubRawContract(t *testing.T) {
	_, cfg := newFakeGitHub(t)
	runContract(t, NewGitHubRaw(cfg))
}

func TestGitHubCommitMessages(t *testing.T) {
	fake, cfg := newFakeGitHub(t)
	c := NewGitHub(cfg)
	ctx := context.Background()
	if err := c.Write(ctx, WriteRequest{Path: "docs/a.md", Content: []byte("a"), Message: "mcp: add doc a"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(ctx, WriteRequest{Path: "docs/b.md", Content: []byte("b")}); err != nil {
		t.Fatal(err)
	}
	if len(fake.commits) != 2 || fake.commits[0] != "mcp: add doc a" || fake.commits[1] != "update docs/b.md" {
		t.Errorf("commits = %v", fake.commits)
	}
}

func TestGitHubRequiresToken(t *testing.T) {
	_, cfg := newFakeGitHub(t)
	cfg.Token = ""
	ctx := context.Background()

	if _, err := NewGitHub(cfg).Read(ctx, "docs/index.json"); !errors.Is(err, ErrTokenRequired) {
		t.Errorf("contents read err = %v, want ErrTokenRequired", err)
	}
	raw := NewGitHubRaw(cfg)
	if _, err := raw.Read(ctx, "docs/index.json"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("raw read should be anonymous, got %v", err)
	}
	err := raw.Write(ctx, WriteRequest{Path: "docs/a.md", Content: []byte("a")})
	if !errors.Is(err, ErrTokenRequired) {
		t.Errorf("raw write err = %v, want ErrTokenRequired", err)
	}
	// Callers outside the package see a missing token as bad input.
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("raw write err = %v, want ErrInvalidInput", err)
	}
	if err := raw.Remove(ctx, RemoveRequest{Path: "docs/a.md"}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("raw remove err = %v, want ErrInvalidInput", err)
	}
}

func TestGitHubServerErrorIsTransport(t *testing.T) {
	fake, cfg := newFakeGitHub(t)
	fake.fail = http.StatusBadGateway
	c := NewGitHub(cfg)

	_, err := c.Read(context.Background(), "docs/index.json")
	var te *apperr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.Status != http.StatusBadGateway {
		t.Errorf("status = %d", te.Status)
	}
	err = c.Write(context.Background(), WriteRequest{Path: "docs/a.md", Content: []byte("a")})
	if !errors.Is(err, apperr.ErrTransport) || errors.Is(err, apperr.ErrConflict) {
		t.Errorf("write err = %v, want transport (not conflict)", err)
	}
}

// A raw read that lags behind the branch yields a token the API rejects.
func TestGitHubRawStaleReadConflicts(t *testing.T) {
	fake, cfg := newFakeGitHub(t)
	raw := NewGitHubRaw(cfg)
	ctx := context.Background()
	fake.files["docs/index.json"] = []byte(`{"docs":[]}`)

	f, err := raw.Read(ctx, "docs/index.json")
	if err != nil {
		t.Fatal(err)
	}
	fake.mu.Lock()
	fake.files["docs/index.json"] = []byte(`{"docs":[{"slug":"other"}]}`)
	fake.mu.Unlock()

	err = raw.Write(ctx, WriteRequest{Path: "docs/index.json", Content: []byte(`{}`), Version: f.Version})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}
