package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/internal/observability"
	"github.com/pitabwire/console/model"
)

func testSession() *model.SessionContext {
	return &model.SessionContext{
		SessionID:     "sess-1",
		SubjectID:     "admin-1",
		Token:         "tok-abc",
		CorrelationID: "corr-1",
	}
}

func testBackendConfig(url string) config.BackendConfig {
	return config.BackendConfig{
		BaseURL: url,
		Timeout: 2 * time.Second,
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		},
		Retry: config.RetryConfig{
			MaxAttempts:       3,
			BackoffInitial:    time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        5 * time.Millisecond,
		},
	}
}

func productDefinition() *model.ResourceDefinition {
	return &model.ResourceDefinition{
		ID:     "products",
		Entity: "product",
		Status: &model.StatusDefinition{Field: "status", Values: []string{"active", "draft"}},
	}
}

func writeEnvelope(w http.ResponseWriter, status int, env map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

// --- Do ---

func TestClient_Do_sendsBearerAndCorrelation(t *testing.T) {
	var gotAuth, gotCorr string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCorr = r.Header.Get("X-Correlation-Id")
		writeEnvelope(w, http.StatusOK, map[string]any{"status": "SUCCESS", "data": []any{}})
	}))
	defer srv.Close()

	c := NewClient(testBackendConfig(srv.URL))
	if _, err := c.Do(context.Background(), testSession(), Request{Operation: "x", Method: http.MethodGet, Path: "/x"}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotCorr != "corr-1" {
		t.Errorf("X-Correlation-Id = %q", gotCorr)
	}
}

func TestClient_Do_correlationFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  string
		sctx string
		want string
	}{
		{"request context wins", "req-7", "corr-1", "req-7"},
		{"session without request id", "", "corr-1", "corr-1"},
		{"workspace session has none", "req-8", "", "req-8"},
		{"neither", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotCorr := "unset"
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotCorr = r.Header.Get("X-Correlation-Id")
				writeEnvelope(w, http.StatusOK, map[string]any{"status": "SUCCESS", "data": []any{}})
			}))
			defer srv.Close()

			ctx := context.Background()
			if tt.ctx != "" {
				ctx = observability.WithCorrelationID(ctx, tt.ctx)
			}
			sctx := testSession().WithCorrelationID(tt.sctx, "")

			c := NewClient(testBackendConfig(srv.URL))
			if _, err := c.Do(ctx, sctx, Request{Operation: "x", Method: http.MethodGet, Path: "/x"}); err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			if gotCorr != tt.want {
				t.Errorf("X-Correlation-Id = %q, want %q", gotCorr, tt.want)
			}
		})
	}
}

func TestClient_Do_sanitizesToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeEnvelope(w, http.StatusOK, map[string]any{"status": "SUCCESS"})
	}))
	defer srv.Close()

	sctx := testSession()
	sctx.Token = "tok\r\nX-Injected: 1"
	c := NewClient(testBackendConfig(srv.URL))
	if _, err := c.Do(context.Background(), sctx, Request{Operation: "x", Method: http.MethodGet, Path: "/x"}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if strings.ContainsAny(gotAuth, "\r\n") {
		t.Errorf("Authorization not sanitized: %q", gotAuth)
	}
}

func TestClient_Do_withoutSessionIsExpired(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(testBackendConfig(srv.URL))
	_, err := c.Do(context.Background(), nil, Request{Operation: "x", Method: http.MethodGet, Path: "/x"})
	if !model.HasCode(err, model.ErrSessionExpired) {
		t.Fatalf("error = %v, want SESSION_EXPIRED", err)
	}

	expired := testSession()
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	_, err = c.Do(context.Background(), expired, Request{Operation: "x", Method: http.MethodGet, Path: "/x"})
	if !model.HasCode(err, model.ErrSessionExpired) {
		t.Fatalf("error = %v, want SESSION_EXPIRED", err)
	}
	if calls.Load() != 0 {
		t.Errorf("backend called %d times, want 0", calls.Load())
	}
}

func TestClient_Do_errorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"application failure", 200, `{"status":"FAILED","message":"SKU already exists"}`, model.ErrBackendRejected, "SKU already exists"},
		{"application failure no message", 200, `{"status":"ERROR"}`, model.ErrBackendRejected, "The request could not be completed"},
		{"lowercase success is success", 200, `{"status":"success","data":{}}`, "", ""},
		{"unreadable body", 200, `<html>`, model.ErrBackendRejected, "The backend returned an unreadable response"},
		{"bad request", 400, `{"status":"FAILED","message":"price must be positive"}`, model.ErrBackendRejected, "price must be positive"},
		{"unauthorized", 401, ``, model.ErrSessionExpired, ""},
		{"forbidden", 403, `{"message":"admins only"}`, model.ErrForbidden, "admins only"},
		{"not found", 404, ``, model.ErrNotFound, ""},
		{"conflict", 409, ``, model.ErrConflict, ""},
		{"server error hides detail", 502, `{"message":"upstream down"}`, model.ErrBackendUnavailable, "The backend service is temporarily unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			cfg := testBackendConfig(srv.URL)
			cfg.Retry.MaxAttempts = 1
			c := NewClient(cfg)
			_, err := c.Do(context.Background(), testSession(), Request{Operation: "x", Method: http.MethodPost, Path: "/x"})
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Do() error = %v, want nil", err)
				}
				return
			}
			ee, ok := model.AsEnvelope(err)
			if !ok {
				t.Fatalf("error = %v, want envelope", err)
			}
			if ee.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", ee.Code, tt.wantCode)
			}
			if tt.wantMsg != "" && ee.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", ee.Message, tt.wantMsg)
			}
		})
	}
}

func TestClient_Do_emptyBodyIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(testBackendConfig(srv.URL))
	data, err := c.Do(context.Background(), testSession(), Request{Operation: "x", Method: http.MethodDelete, Path: "/x"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if data != nil {
		t.Errorf("data = %s, want nil", data)
	}
}

func TestClient_Do_retriesGETOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"status": "SUCCESS", "data": []any{}})
	}))
	defer srv.Close()

	c := NewClient(testBackendConfig(srv.URL))
	if _, err := c.Do(context.Background(), testSession(), Request{Operation: "x", Method: http.MethodGet, Path: "/x"}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_Do_neverRetriesMutations(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(testBackendConfig(srv.URL))
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		calls.Store(0)
		_, err := c.Do(context.Background(), testSession(), Request{Operation: "x", Method: method, Path: "/x"})
		if !model.HasCode(err, model.ErrBackendUnavailable) {
			t.Errorf("%s error = %v, want BACKEND_UNAVAILABLE", method, err)
		}
		if calls.Load() != 1 {
			t.Errorf("%s calls = %d, want 1", method, calls.Load())
		}
	}
}

func TestClient_Do_circuitBreakerRejectsWhenOpen(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testBackendConfig(srv.URL)
	cfg.Retry.MaxAttempts = 1
	c := NewClient(cfg)
	for i := 0; i < 3; i++ {
		c.Do(context.Background(), testSession(), Request{Operation: "x", Method: http.MethodGet, Path: "/x"})
	}
	if c.Breaker().State() != BreakerOpen {
		t.Fatalf("breaker = %v, want Open", c.Breaker().State())
	}

	_, err := c.Do(context.Background(), testSession(), Request{Operation: "x", Method: http.MethodGet, Path: "/x"})
	if !model.HasCode(err, model.ErrBackendUnavailable) {
		t.Errorf("error = %v, want BACKEND_UNAVAILABLE", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (open breaker must short-circuit)", calls.Load())
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("HealthCheck() = %v, want ErrBreakerOpen", err)
	}
}

func TestClient_Do_clientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(testBackendConfig(srv.URL))
	for i := 0; i < 10; i++ {
		c.Do(context.Background(), testSession(), Request{Operation: "x", Method: http.MethodPost, Path: "/x"})
	}
	if c.Breaker().State() != BreakerClosed {
		t.Errorf("breaker = %v, want Closed", c.Breaker().State())
	}
}

func TestClient_Do_contextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(testBackendConfig(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Do(ctx, testSession(), Request{Operation: "x", Method: http.MethodGet, Path: "/x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if _, ok := model.AsEnvelope(err); ok {
		t.Error("cancellation must not be reported as a backend envelope")
	}
	if f, _ := c.Breaker().Counts(); f != 0 {
		t.Errorf("breaker failures = %d, want 0", f)
	}
}

func TestClient_Do_deadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(testBackendConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Do(ctx, testSession(), Request{Operation: "x", Method: http.MethodPost, Path: "/x"})
	if !model.HasCode(err, model.ErrBackendTimeout) {
		t.Fatalf("error = %v, want BACKEND_TIMEOUT", err)
	}
}

func TestClient_Do_connectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := testBackendConfig(url)
	cfg.Retry.MaxAttempts = 1
	c := NewClient(cfg)
	_, err := c.Do(context.Background(), testSession(), Request{Operation: "x", Method: http.MethodGet, Path: "/x"})
	if !model.HasCode(err, model.ErrBackendUnavailable) {
		t.Fatalf("error = %v, want BACKEND_UNAVAILABLE", err)
	}
}

// --- Resource ---

func TestResource_List_decodesShapes(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{"array", `[{"id":1},{"id":2}]`, 2},
		{"items wrapper", `{"items":[{"id":1}]}`, 1},
		{"named wrapper", `{"products":[{"id":1},{"id":2},{"id":3}]}`, 3},
		{"null", `null`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/product/all-product" {
					t.Errorf("path = %s", r.URL.Path)
				}
				io.WriteString(w, `{"status":"SUCCESS","data":`+tt.data+`}`)
			}))
			defer srv.Close()

			items, err := NewClient(testBackendConfig(srv.URL)).Resource(productDefinition()).
				List(context.Background(), testSession(), false)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(items) != tt.want {
				t.Errorf("len = %d, want %d", len(items), tt.want)
			}
		})
	}
}

func TestResource_endpoints(t *testing.T) {
	type call struct{ method, path string }
	var got []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, call{r.Method, r.URL.EscapedPath()})
		io.WriteString(w, `{"status":"SUCCESS","data":{"id":"p 1"}}`)
	}))
	defer srv.Close()

	ctx := context.Background()
	sctx := testSession()
	res := NewClient(testBackendConfig(srv.URL)).Resource(productDefinition())

	res.List(ctx, sctx, true)
	res.Get(ctx, sctx, "p 1")
	res.Create(ctx, sctx, model.Submission{Fields: map[string]any{"name": "Hat"}})
	res.Update(ctx, sctx, "p 1", model.Submission{Fields: map[string]any{"name": "Hat"}})
	res.UpdateStatus(ctx, sctx, "p 1", "draft")
	res.Delete(ctx, sctx, "p 1")
	res.Restore(ctx, sctx, "p 1")
	res.PermanentDelete(ctx, sctx, "p 1")

	want := []call{
		{"GET", "/product/all-product/with-deleted"},
		{"GET", "/product/p%201"},
		{"POST", "/product/add-product"},
		{"PUT", "/product/update-product/p%201"},
		{"PUT", "/product/update-product/p%201"},
		{"DELETE", "/product/delete-product/p%201"},
		{"POST", "/product/restore-product/p%201"},
		{"DELETE", "/product/permanently-delete-product/p%201"},
	}
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResource_UpdateStatus_body(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		io.WriteString(w, `{"status":"SUCCESS"}`)
	}))
	defer srv.Close()

	def := productDefinition()
	def.Status.Field = "orderStatus"
	entity, err := NewClient(testBackendConfig(srv.URL)).Resource(def).
		UpdateStatus(context.Background(), testSession(), "o1", "shipped")
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if entity != nil {
		t.Errorf("entity = %v, want nil when backend does not echo", entity)
	}
	if body["orderStatus"] != "shipped" {
		t.Errorf("body = %v", body)
	}
}

func TestResource_Create_multipart(t *testing.T) {
	var fields map[string]string
	var fileName, fileType string
	var fileData []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mt, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "multipart/form-data" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
			return
		}
		fields = map[string]string{}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			p, err := mr.NextPart()
			if err != nil {
				break
			}
			b, _ := io.ReadAll(p)
			if p.FileName() != "" {
				fileName, fileType, fileData = p.FileName(), p.Header.Get("Content-Type"), b
				continue
			}
			fields[p.FormName()] = string(b)
		}
		io.WriteString(w, `{"status":"SUCCESS","data":{"id":"p9","name":"Hat"}}`)
	}))
	defer srv.Close()

	sub := model.Submission{
		Fields: map[string]any{"name": "Hat", "price": float64(12), "tags": []any{"summer"}},
		Files:  []model.FileUpload{{Field: "image", Filename: "hat.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}}},
	}
	entity, err := NewClient(testBackendConfig(srv.URL)).Resource(productDefinition()).
		Create(context.Background(), testSession(), sub)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if entity.ID("") != "p9" {
		t.Errorf("entity id = %q", entity.ID(""))
	}
	if fields["name"] != "Hat" || fields["price"] != "12" || fields["tags"] != `["summer"]` {
		t.Errorf("fields = %v", fields)
	}
	if fileName != "hat.jpg" || fileType != "image/jpeg" || len(fileData) != 2 {
		t.Errorf("file = %q %q %d bytes", fileName, fileType, len(fileData))
	}
}

// --- Login ---

func TestClient_Login(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantToken string
		wantCode  string
	}{
		{"object token", 200, `{"status":"SUCCESS","data":{"token":"jwt-1"}}`, "jwt-1", ""},
		{"access token", 200, `{"status":"SUCCESS","data":{"accessToken":"jwt-2"}}`, "jwt-2", ""},
		{"bare string", 200, `{"status":"SUCCESS","data":"jwt-3"}`, "jwt-3", ""},
		{"no token", 200, `{"status":"SUCCESS","data":{}}`, "", model.ErrBackendRejected},
		{"wrong password", 401, `{"status":"FAILED","message":"bad credentials"}`, "", model.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			var gotCreds Credentials
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				json.NewDecoder(r.Body).Decode(&gotCreds)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			token, err := NewClient(testBackendConfig(srv.URL)).Login(context.Background(),
				Credentials{Email: "admin@shop.test", Password: "secret"})
			if gotAuth != "" {
				t.Errorf("login must be anonymous, got Authorization %q", gotAuth)
			}
			if gotCreds.Email != "admin@shop.test" {
				t.Errorf("credentials = %+v", gotCreds)
			}
			if tt.wantCode != "" {
				if !model.HasCode(err, tt.wantCode) {
					t.Fatalf("error = %v, want %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}
			if token != tt.wantToken {
				t.Errorf("token = %q, want %q", token, tt.wantToken)
			}
		})
	}
}

func TestClient_Do_debugLogRedactsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"SUCCESS","data":{"token":"jwt-1"}}`)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	c := NewClient(testBackendConfig(srv.URL), WithLogger(zap.New(core)))
	if _, err := c.Login(context.Background(), Credentials{Email: "admin@shop.test", Password: "secret"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	entries := logs.FilterMessage("backend request").All()
	if len(entries) != 1 {
		t.Fatalf("got %d backend request logs, want 1", len(entries))
	}
	body, ok := entries[0].ContextMap()["body"].(map[string]any)
	if !ok {
		t.Fatalf("body field = %#v", entries[0].ContextMap()["body"])
	}
	if body["password"] != "[REDACTED]" {
		t.Errorf("password = %v, want redacted", body["password"])
	}
	if body["email"] != "admin@shop.test" {
		t.Errorf("email = %v", body["email"])
	}
}

// --- helpers ---

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"envelope passthrough", model.NewConflictError("x"), model.ErrConflict},
		{"wrapped envelope", errors.Join(errors.New("ctx"), model.NewNotFoundError("x")), model.ErrNotFound},
		{"breaker", ErrBreakerOpen, model.ErrBackendUnavailable},
		{"deadline", context.DeadlineExceeded, model.ErrBackendTimeout},
		{"other", errors.New("boom"), model.ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.err); got.Code != tt.want {
				t.Errorf("Normalize = %s, want %s", got.Code, tt.want)
			}
		})
	}
	if Normalize(nil) != nil {
		t.Error("Normalize(nil) should be nil")
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := config.RetryConfig{
		BackoffInitial:    100 * time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        300 * time.Millisecond,
	}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{6, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := calculateBackoff(cfg, tt.attempt); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
