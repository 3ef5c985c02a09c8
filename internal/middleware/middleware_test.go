package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"aisorter/pkg/logger"
	"aisorter/pkg/metrics"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID_Generated(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}), RequestID())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/sort", nil))

	if seen == "" {
		t.Fatal("request id not generated")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Error("request id not echoed in response header")
	}
}

func TestRequestID_PropagatesProvided(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}), RequestID())

	req := httptest.NewRequest("POST", "/sort", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "caller-supplied-id" {
		t.Errorf("request id = %q, want caller-supplied-id", seen)
	}
}

func TestGenerateRequestID_Unique(t *testing.T) {
	if GenerateRequestID() == GenerateRequestID() {
		t.Error("request ids should be unique")
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	if got := GetRequestID(httptest.NewRequest("GET", "/", nil).Context()); got != "" {
		t.Errorf("GetRequestID without middleware = %q", got)
	}
}

func TestAuth_OpenWhenUnset(t *testing.T) {
	h := Chain(okHandler(), Auth("", metrics.New()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/sort", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, empty key must leave endpoint open", rec.Code)
	}
}

func TestAuth_RejectsMissingKey(t *testing.T) {
	h := Chain(okHandler(), RequestID(), Auth("secret", metrics.New()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/sort", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if body["code"] != "MISSING_API_KEY" {
		t.Errorf("code = %q", body["code"])
	}
	if body["request_id"] == "" {
		t.Error("request_id missing from error body")
	}
}

func TestAuth_RejectsWrongKey(t *testing.T) {
	h := Chain(okHandler(), Auth("secret", metrics.New()))

	req := httptest.NewRequest("POST", "/sort", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_AcceptsCorrectKey(t *testing.T) {
	h := Chain(okHandler(), Auth("secret", metrics.New()))

	req := httptest.NewRequest("POST", "/sort", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRecover_TurnsPanicInto500(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}), Recover(), RequestID())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/sort", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if body["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %q", body["code"])
	}
}

func TestMetrics_ObservesDuration(t *testing.T) {
	m := metrics.New()
	h := Chain(okHandler(), Metrics(m))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/sort", nil))

	if got := testutil.CollectAndCount(m.RequestDuration); got != 1 {
		t.Errorf("duration histogram collectors = %d", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "ai_sorter_request_duration_seconds_count 1") {
		t.Error("duration histogram not observed once")
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	h := Chain(okHandler(), RequestID(), Logging())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/sort", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler(), mk("outer"), mk("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("order = %v, want [outer inner]", order)
	}
}
