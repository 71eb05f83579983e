package filestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/starford/keloia/internal/apperr"
	"github.com/starford/keloia/internal/checksum"
)

// Default GitHub endpoints.
const (
	DefaultGitHubAPIURL = "https://api.github.com"
	DefaultGitHubRawURL = "https://raw.githubusercontent.com"
)

// ErrTokenRequired is returned when an operation needs a GitHub token and none is configured.
var ErrTokenRequired = fmt.Errorf("%w: GitHub token is required for this operation", apperr.ErrInvalidInput)

// GitHubConfig configures the GitHub backends.
type GitHubConfig struct {
	Owner  string
	Repo   string
	Branch string
	Token  string

	APIURL    string // default DefaultGitHubAPIURL
	RawURL    string // default DefaultGitHubRawURL
	UserAgent string

	// RequestsPerSecond caps outbound calls; zero means unlimited.
	RequestsPerSecond float64
	Burst             int

	// HTTPClient is the base transport; nil means a client with a 30s timeout.
	HTTPClient *http.Client
}

// GitHub implements Client on the GitHub Contents API of one repository branch.
type GitHub struct {
	cfg      GitHubConfig
	authed   *http.Client // carries the bearer token, nil without one
	anon     *http.Client
	limiter  *rate.Limiter
	rawReads bool
}

// NewGitHub returns the bearer-authenticated client: reads, writes and
// removes all go through the Contents API and all require a token.
func NewGitHub(cfg GitHubConfig) *GitHub {
	return newGitHub(cfg, false)
}

// NewGitHubRaw returns the server-side client: reads use the anonymous raw
// content host, writes and removes use the authenticated Contents API. The
// version token of a raw read is the git blob id of the fetched bytes,
// which is what the Contents API expects as the file sha.
func NewGitHubRaw(cfg GitHubConfig) *GitHub {
	return newGitHub(cfg, true)
}

func newGitHub(cfg GitHubConfig, rawReads bool) *GitHub {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultGitHubAPIURL
	}
	if cfg.RawURL == "" {
		cfg.RawURL = DefaultGitHubRawURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "keloia-docstore"
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	cfg.RawURL = strings.TrimSuffix(cfg.RawURL, "/")

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	g := &GitHub{cfg: cfg, anon: base, rawReads: rawReads}
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		g.authed = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
		g.authed.Timeout = base.Timeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	g.limiter = rate.NewLimiter(limit, burst)
	return g
}

type contentsResponse struct {
	Type        string `json:"type"`
	SHA         string `json:"sha"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
	DownloadURL string `json:"download_url"`
}

type contentsWriteBody struct {
	Message string `json:"message"`
	Content string `json:"content,omitempty"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// Read implements Client.
func (g *GitHub) Read(ctx context.Context, path string) (*File, error) {
	if g.rawReads {
		return g.readRaw(ctx, path)
	}
	if g.authed == nil {
		return nil, fmt.Errorf("read %s: %w", path, ErrTokenRequired)
	}
	u := g.contentsURL(path) + "?ref=" + url.QueryEscape(g.cfg.Branch)
	resp, err := g.do(ctx, g.authed, http.MethodGet, u, nil)
	if err != nil {
		return nil, &apperr.TransportError{Op: OpRead, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("read %s: %w", path, apperr.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, statusError(OpRead, path, resp)
	}
	var body contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &apperr.TransportError{Op: OpRead, Path: path, Err: fmt.Errorf("decode contents response: %w", err)}
	}
	if body.Type != "" && body.Type != "file" {
		return nil, fmt.Errorf("read %s: %w: not a file (%s)", path, apperr.ErrInvalidState, body.Type)
	}
	var content []byte
	if body.Encoding == "base64" {
		content, err = base64.StdEncoding.DecodeString(stripWhitespace(body.Content))
		if err != nil {
			return nil, &apperr.TransportError{Op: OpRead, Path: path, Err: fmt.Errorf("decode base64 content: %w", err)}
		}
	} else {
		// Files above the inline size limit come back without content.
		content, err = g.download(ctx, path, body.DownloadURL)
		if err != nil {
			return nil, err
		}
	}
	return &File{Path: path, Content: content, Version: body.SHA}, nil
}

func (g *GitHub) readRaw(ctx context.Context, path string) (*File, error) {
	u := fmt.Sprintf("%s/%s/%s/%s/%s", g.cfg.RawURL, url.PathEscape(g.cfg.Owner), url.PathEscape(g.cfg.Repo),
		url.PathEscape(g.cfg.Branch), escapePath(path))
	resp, err := g.do(ctx, g.anon, http.MethodGet, u, nil)
	if err != nil {
		return nil, &apperr.TransportError{Op: OpRead, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("read %s: %w", path, apperr.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, statusError(OpRead, path, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperr.TransportError{Op: OpRead, Path: path, Err: err}
	}
	return &File{Path: path, Content: data, Version: checksum.GitBlob(data)}, nil
}

func (g *GitHub) download(ctx context.Context, path, downloadURL string) ([]byte, error) {
	if downloadURL == "" {
		return nil, fmt.Errorf("read %s: %w: no inline content and no download url", path, apperr.ErrInvalidState)
	}
	resp, err := g.do(ctx, g.authed, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, &apperr.TransportError{Op: OpRead, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(OpRead, path, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperr.TransportError{Op: OpRead, Path: path, Err: err}
	}
	return data, nil
}

// Write implements Client.
func (g *GitHub) Write(ctx context.Context, req WriteRequest) error {
	if g.authed == nil {
		return fmt.Errorf("write %s: %w", req.Path, ErrTokenRequired)
	}
	body := contentsWriteBody{
		Message: commitMessage(req.Message, "update "+req.Path),
		Content: base64.StdEncoding.EncodeToString(req.Content),
		SHA:     req.Version,
		Branch:  g.cfg.Branch,
	}
	status, resp, err := g.send(ctx, http.MethodPut, req.Path, body)
	if err != nil {
		return &apperr.TransportError{Op: OpWrite, Path: req.Path, Err: err}
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// 409: sha does not match; 422: sha missing for an existing file.
		return &apperr.ConflictError{Path: req.Path, ExpectedVersion: req.Version}
	case http.StatusNotFound:
		if req.Version != "" {
			return fmt.Errorf("write %s: %w", req.Path, apperr.ErrNotFound)
		}
	}
	return &apperr.TransportError{Op: OpWrite, Path: req.Path, Status: status, Err: errors.New(resp)}
}

// Remove implements Client.
func (g *GitHub) Remove(ctx context.Context, req RemoveRequest) error {
	if g.authed == nil {
		return fmt.Errorf("remove %s: %w", req.Path, ErrTokenRequired)
	}
	body := contentsWriteBody{
		Message: commitMessage(req.Message, "delete "+req.Path),
		SHA:     req.Version,
		Branch:  g.cfg.Branch,
	}
	status, resp, err := g.send(ctx, http.MethodDelete, req.Path, body)
	if err != nil {
		return &apperr.TransportError{Op: OpRemove, Path: req.Path, Err: err}
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return &apperr.ConflictError{Path: req.Path, ExpectedVersion: req.Version}
	case http.StatusNotFound:
		return fmt.Errorf("remove %s: %w", req.Path, apperr.ErrNotFound)
	}
	return &apperr.TransportError{Op: OpRemove, Path: req.Path, Status: status, Err: errors.New(resp)}
}

// send issues a Contents API mutation and returns the status and a short
// body excerpt for error reporting.
func (g *GitHub) send(ctx context.Context, method, path string, body contentsWriteBody) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", err
	}
	resp, err := g.do(ctx, g.authed, method, g.contentsURL(path), payload)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return resp.StatusCode, strings.TrimSpace(string(excerpt)), nil
}

func (g *GitHub) do(ctx context.Context, c *http.Client, method, u string, payload []byte) (*http.Response, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Do(req)
}

func (g *GitHub) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", g.cfg.APIURL,
		url.PathEscape(g.cfg.Owner), url.PathEscape(g.cfg.Repo), escapePath(path))
}

func statusError(op, path string, resp *http.Response) error {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &apperr.TransportError{
		Op:     op,
		Path:   path,
		Status: resp.StatusCode,
		Err:    fmt.Errorf("GitHub API error: %s", strings.TrimSpace(string(excerpt))),
	}
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
}

func commitMessage(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
