package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/starford/keloia/internal/apperr"
	"github.com/starford/keloia/internal/filestore"
)

func TestInstrumentCountsOutcomes(t *testing.T) {
	m := New()
	c := m.Instrument("memory", filestore.NewMemory())
	ctx := context.Background()

	_, _ = c.Read(ctx, "docs/index.json")
	_ = c.Write(ctx, filestore.WriteRequest{Path: "docs/index.json", Content: []byte("{}")})
	_ = c.Write(ctx, filestore.WriteRequest{Path: "docs/index.json", Content: []byte("{}")})
	_ = c.Remove(ctx, filestore.RemoveRequest{Path: "docs/missing.md", Version: "v1"})

	cases := []struct {
		op, outcome string
		want        float64
	}{
		{filestore.OpRead, OutcomeNotFound, 1},
		{filestore.OpWrite, OutcomeOK, 1},
		{filestore.OpWrite, OutcomeConflict, 1},
		{filestore.OpRemove, OutcomeNotFound, 1},
	}
	for _, tc := range cases {
		got := testutil.ToFloat64(m.StoreCalls.WithLabelValues("memory", tc.op, tc.outcome))
		if got != tc.want {
			t.Errorf("%s/%s = %v, want %v", tc.op, tc.outcome, got, tc.want)
		}
	}
}

func TestOutcome(t *testing.T) {
	if Outcome(nil) != OutcomeOK {
		t.Error("nil should be ok")
	}
	if Outcome(&apperr.TransportError{Op: "read", Path: "x", Err: io.EOF}) != OutcomeTransport {
		t.Error("transport error misclassified")
	}
	if Outcome(apperr.ErrInvalidInput) != OutcomeInvalid {
		t.Error("invalid input misclassified")
	}
	if Outcome(io.EOF) != OutcomeError {
		t.Error("unknown error misclassified")
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/docs/{slug}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	req := httptest.NewRequest(http.MethodGet, "/api/docs/architecture", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	if !strings.Contains(body, `route="/api/docs/{slug}"`) || !strings.Contains(body, `status="404"`) {
		t.Errorf("metrics output missing labelled route:\n%s", body)
	}
}
