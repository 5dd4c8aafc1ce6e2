// Package integration provides a reusable test harness for end-to-end
// integration testing of the admin console. It starts the full HTTP server
// against a mock storefront backend, a test token issuer and an in-memory
// or miniredis-backed session store.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/console/internal/backend"
	"github.com/pitabwire/console/internal/capability"
	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/internal/definition"
	"github.com/pitabwire/console/internal/listview"
	"github.com/pitabwire/console/internal/metadata"
	"github.com/pitabwire/console/internal/observability"
	"github.com/pitabwire/console/internal/reference"
	"github.com/pitabwire/console/internal/session"
	"github.com/pitabwire/console/internal/transport"
	"github.com/pitabwire/console/internal/upload"
	"github.com/pitabwire/console/model"
)

// Test accounts known to the mock backend.
const (
	AdminEmail  = "admin@shop.test"
	ViewerEmail = "viewer@shop.test"
	GuestEmail  = "guest@shop.test"
	Password    = "s3cret"
)

// TestHarness encapsulates a fully wired console instance with a mock
// backend for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Backend     *MockBackend
	Registry    *definition.Registry
	Sessions    *session.Manager
	Client      *backend.Client
	CapResolver *capability.Resolver
	Metrics     *observability.Metrics
	Redis       *miniredis.Miniredis

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	redis          bool
	verifyTokens   bool
	handlerTimeout time.Duration
	breaker        config.CircuitBreakerConfig
	backendTimeout time.Duration
	retry          *config.RetryConfig
	listView       func(*config.ListViewConfig)
	definitions    map[string]string
}

// WithRedisSessions stores sessions in a miniredis instance.
func WithRedisSessions() HarnessOption {
	return func(c *harnessConfig) { c.redis = true }
}

// WithoutTokenVerification reads token claims without the JWKS check.
func WithoutTokenVerification() HarnessOption {
	return func(c *harnessConfig) { c.verifyTokens = false }
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.handlerTimeout = d }
}

// WithCircuitBreaker sets the backend breaker configuration.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) { c.breaker = cb }
}

// WithBackendTimeout sets the per-call backend timeout.
func WithBackendTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.backendTimeout = d }
}

// WithRetry sets the backend retry configuration.
func WithRetry(rc config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) { c.retry = &rc }
}

// WithListView adjusts the list screen timings.
func WithListView(fn func(*config.ListViewConfig)) HarnessOption {
	return func(c *harnessConfig) { c.listView = fn }
}

// WithDefinition adds or replaces a definition file.
func WithDefinition(name, yaml string) HarnessOption {
	return func(c *harnessConfig) { c.definitions[name] = yaml }
}

// NewTestHarness creates and starts a full console test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		verifyTokens:   true,
		handlerTimeout: 10 * time.Second,
		backendTimeout: 2 * time.Second,
		breaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		},
		definitions: map[string]string{
			"products.yaml":   productsDefinition,
			"categories.yaml": categoriesDefinition,
		},
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// Step 1: Token issuer and mock backend.
	h.issuer = newTokenIssuer(t)
	h.Backend = newMockBackend(t, h.issuer, "product", "category")
	h.Backend.AddUser(AdminEmail, Password, "catalog_admin")
	h.Backend.AddUser(ViewerEmail, Password, "catalog_viewer")
	h.Backend.AddUser(GuestEmail, Password)
	h.Backend.Seed("category", CategoryFixtures()...)
	h.Backend.Seed("product", ProductFixtures()...)

	// Step 2: Definition and policy files.
	dir := t.TempDir()
	defDir := filepath.Join(dir, "definitions")
	if err := os.MkdirAll(defDir, 0o755); err != nil {
		t.Fatalf("create definitions dir: %v", err)
	}
	for name, content := range hc.definitions {
		if err := os.WriteFile(filepath.Join(defDir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write definition %s: %v", name, err)
		}
	}
	policyFile := filepath.Join(dir, "policies.yaml")
	if err := os.WriteFile(policyFile, []byte(policyYAML), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	// Step 3: Build config.
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Backend.BaseURL = h.Backend.URL()
	cfg.Backend.Timeout = hc.backendTimeout
	cfg.Backend.CircuitBreaker = hc.breaker
	cfg.Backend.Retry.MaxAttempts = 1
	if hc.retry != nil {
		cfg.Backend.Retry = *hc.retry
	}
	cfg.Definitions.Directories = []string{defDir}
	cfg.Capability.StaticPolicyFile = policyFile
	cfg.Session.Secure = false
	cfg.Session.Algorithms = []string{"ES256"}
	if hc.verifyTokens {
		cfg.Session.JWKSURL = h.issuer.JWKSURL()
	}
	cfg.ListView.SearchDebounce = 50 * time.Millisecond
	cfg.ListView.PageChangeDelay = 20 * time.Millisecond
	cfg.ListView.StatusSuccessTTL = 200 * time.Millisecond
	cfg.ListView.StatusErrorTTL = 300 * time.Millisecond
	cfg.ListView.MutationErrorTTL = 300 * time.Millisecond
	cfg.ListView.FetchTimeout = 5 * time.Second
	cfg.References.FetchTimeout = 2 * time.Second
	cfg.Observability.Metrics.Enabled = false
	if hc.listView != nil {
		hc.listView(&cfg.ListView)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	h.cfg = cfg

	// Step 4: Load definitions.
	defs, err := definition.NewLoader().LoadAll(cfg.Definitions.Directories)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if verrs := definition.NewValidator().Validate(defs, nil); len(verrs) > 0 {
		t.Fatalf("definitions invalid: %v", verrs)
	}
	h.Registry = definition.NewRegistry(defs)

	// Step 5: Build capability resolver.
	evaluator, err := capability.NewStaticPolicyEvaluator(policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	h.CapResolver = capability.NewResolver(evaluator, 0) // no caching in tests

	// Step 6: Backend client and session store.
	logger := zap.NewNop()
	h.Metrics = observability.InitMetrics(prometheus.NewRegistry())
	h.Client = backend.NewClient(cfg.Backend, backend.WithMetrics(h.Metrics), backend.WithLogger(logger))

	var store session.Store = session.NewMemoryStore()
	if hc.redis {
		h.Redis = miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { rdb.Close() })
		store = session.NewRedisStore(rdb)
	}

	var jwks *session.JWKSClient
	if cfg.Session.JWKSURL != "" {
		jwks = session.NewJWKSClient(cfg.Session.JWKSURL, time.Hour, logger)
	}

	// Step 7: Session manager.
	client := h.Client
	labels := reference.NewBackendLoader(h.Registry, client)
	h.Sessions = session.NewManager(
		cfg.Session,
		store,
		client,
		session.NewTokenInspector(cfg.Session, jwks),
		session.WorkspaceDeps{
			Registry: h.Registry,
			Repositories: func(def *model.ResourceDefinition) listview.Repository {
				return client.Resource(def)
			},
			Labels:     labels,
			Options:    labels,
			ListView:   listview.OptionsFromConfig(cfg.ListView),
			References: cfg.References,
		},
		session.WithMetrics(h.Metrics),
		session.WithLogger(logger),
		session.WithInvalidator(h.CapResolver),
	)
	t.Cleanup(h.Sessions.Close)

	// Step 8: Build router with full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Registry:           h.Registry,
		Sessions:           h.Sessions,
		CapabilityResolver: h.CapResolver,
		Menu:               metadata.NewMenuProvider(h.Registry),
		Screens:            metadata.NewScreenProvider(h.Registry, cfg.ListView.PageSizes, cfg.ListView.DefaultPageSize),
		Uploads:            upload.NewNormalizer(cfg.Uploads, h.Metrics, logger),
		Metrics:            h.Metrics,
		Readiness: observability.NewReadiness(time.Second).
			Add("definitions", observability.Flag(func() bool { return h.Registry.Len() > 0 }, "no definitions loaded")).
			AddChecker("session_store", store).
			AddChecker("backend", client),
		Logger: logger,
	})

	// Step 9: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Config returns the configuration the console runs with.
func (h *TestHarness) Config() *config.Config {
	return h.cfg
}

// IssueToken signs a backend token directly, bypassing the login endpoint.
func (h *TestHarness) IssueToken(email string, roles []string, ttl time.Duration) string {
	return h.issuer.Issue("user-"+strings.Split(email, "@")[0], email, roles, ttl)
}

// --- HTTP client helpers ---

// Login signs in through the console and returns the session id.
func (h *TestHarness) Login(email string) string {
	h.t.Helper()
	resp := h.POST("/ui/session", "", map[string]string{"email": email, "password": Password})
	if resp.StatusCode != http.StatusCreated {
		h.t.Fatalf("login %s: status %d: %s", email, resp.StatusCode, h.ReadBody(resp))
	}
	resp.Body.Close()
	id := resp.Header.Get(transport.SessionHeader)
	if id == "" {
		h.t.Fatalf("login %s: no %s header", email, transport.SessionHeader)
	}
	return id
}

// GET performs a GET request within a session.
func (h *TestHarness) GET(path, sessionID string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodGet, path, sessionID, nil, nil)
}

// POST performs a POST request with a JSON body.
func (h *TestHarness) POST(path, sessionID string, body any) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodPost, path, sessionID, body, nil)
}

// PUT performs a PUT request with a JSON body.
func (h *TestHarness) PUT(path, sessionID string, body any) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodPut, path, sessionID, body, nil)
}

// DELETE performs a DELETE request.
func (h *TestHarness) DELETE(path, sessionID string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodDelete, path, sessionID, nil, nil)
}

// Do performs a request with an optional JSON body and extra headers.
func (h *TestHarness) Do(method, path, sessionID string, body any, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if sessionID != "" {
		req.Header.Set(transport.SessionHeader, sessionID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return h.send(req)
}

// UploadFile is one file part of a multipart request.
type UploadFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Multipart performs a multipart request with form fields and files.
func (h *TestHarness) Multipart(method, path, sessionID string, fields map[string]string, files map[string]UploadFile) *http.Response {
	h.t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			h.t.Fatalf("write field: %v", err)
		}
	}
	for field, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Filename))
		hdr.Set("Content-Type", f.ContentType)
		part, err := w.CreatePart(hdr)
		if err != nil {
			h.t.Fatalf("create part: %v", err)
		}
		part.Write(f.Data)
	}
	w.Close()

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, &buf)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if sessionID != "" {
		req.Header.Set(transport.SessionHeader, sessionID)
	}
	return h.send(req)
}

func (h *TestHarness) send(req *http.Request) *http.Response {
	h.t.Helper()
	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	return resp
}

// --- screen helpers ---

// Mount opens a list screen and returns its first snapshot.
func (h *TestHarness) Mount(sessionID, resource, view string) model.ScreenSnapshot {
	h.t.Helper()
	resp := h.POST("/ui/screens", sessionID, map[string]string{"resource": resource, "view": view})
	var snap model.ScreenSnapshot
	h.AssertJSON(h.t, resp, http.StatusCreated, &snap)
	return snap
}

// Snapshot fetches the current snapshot of a screen.
func (h *TestHarness) Snapshot(sessionID, screenID string) model.ScreenSnapshot {
	h.t.Helper()
	var snap model.ScreenSnapshot
	h.AssertJSON(h.t, h.GET("/ui/screens/"+screenID, sessionID), http.StatusOK, &snap)
	return snap
}

// WaitFor long-polls the screen until cond holds or timeout elapses. Each
// poll decodes into a fresh snapshot so fields omitted from a later response
// do not keep earlier values.
func (h *TestHarness) WaitFor(sessionID, screenID string, timeout time.Duration, cond func(model.ScreenSnapshot) bool) model.ScreenSnapshot {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	snap := h.Snapshot(sessionID, screenID)
	for !cond(snap) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			h.t.Fatalf("screen %s: condition not met within %v; last snapshot:\n%s", screenID, timeout, FormatJSON(snap))
		}
		wait := min(remaining, 200*time.Millisecond)
		path := fmt.Sprintf("/ui/screens/%s?since=%s&wait=%s", screenID, strconv.FormatUint(snap.Version, 10), wait)
		var next model.ScreenSnapshot
		h.AssertJSON(h.t, h.GET(path, sessionID), http.StatusOK, &next)
		snap = next
	}
	return snap
}

// AsyncResult is the outcome of a request sent with Async.
type AsyncResult struct {
	Status int
	Body   []byte
	Err    error
}

// Async sends a JSON request from another goroutine. It never touches the
// test, so the caller reports failures after receiving the result.
func (h *TestHarness) Async(method, path, sessionID string, body any) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		data, err := json.Marshal(body)
		if err != nil {
			out <- AsyncResult{Err: err}
			return
		}
		req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bytes.NewReader(data))
		if err != nil {
			out <- AsyncResult{Err: err}
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if sessionID != "" {
			req.Header.Set(transport.SessionHeader, sessionID)
		}
		resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
		if err != nil {
			out <- AsyncResult{Err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		out <- AsyncResult{Status: resp.StatusCode, Body: b, Err: err}
	}()
	return out
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertError checks the status and error code of a failed response.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, expected int, code string) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, expected, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
	return body.Error
}

// --- fixtures ---

const productsDefinition = `
id: products
entity: product
title: Products
icon: inventory_2
order: 10
search_fields: [name, sku]
facet:
  field: status
  label: Status
  options:
    - { label: Active, value: active }
    - { label: Draft, value: draft }
required_fields: [name, price]
image_fields: [image]
recycle_bin: true
status:
  field: status
  values: [active, draft, archived]
columns:
  - { field: image, label: Image, type: image }
  - { field: name, label: Name }
  - { field: price, label: Price, type: money, format: USD }
  - { field: status, label: Status, type: status }
  - field: category
    label: Category
    type: reference
    reference: { resource: categories, label_field: name }
confirmations:
  delete:
    title: Delete product
    message: Move "{label}" to the recycle bin?
    confirm: Delete
    style: danger
capabilities:
  view: ["products:read"]
  create: ["products:write"]
  update: ["products:write"]
  delete: ["products:delete"]
  restore: ["products:delete"]
`

const categoriesDefinition = `
id: categories
entity: category
title: Categories
icon: category
order: 20
search_fields: [name]
columns:
  - { field: name, label: Name }
capabilities:
  view: ["categories:read"]
  create: ["categories:write"]
`

const policyYAML = `
roles:
  catalog_admin:
    - "products:*"
    - "categories:*"
  catalog_viewer:
    - "products:read"
    - "categories:read"
`

// CategoryFixtures returns the seeded categories.
func CategoryFixtures() []map[string]any {
	return []map[string]any{
		{"_id": "cat-1", "name": "Shirts"},
		{"_id": "cat-2", "name": "Shoes"},
	}
}

// ProductFixtures returns twelve live products, four of them drafts,
// and one product already in the recycle bin.
func ProductFixtures() []map[string]any {
	out := []map[string]any{
		ProductFixture("p-01", "Linen Shirt", "active", "cat-1"),
		ProductFixture("p-02", "Oxford Shirt", "active", "cat-1"),
		ProductFixture("p-03", "Canvas Sneaker", "draft", "cat-2"),
		ProductFixture("p-04", "Leather Boot", "active", "cat-2"),
	}
	for i := 5; i <= 12; i++ {
		status := "active"
		if i%3 == 0 {
			status = "draft"
		}
		out = append(out, ProductFixture(fmt.Sprintf("p-%02d", i), fmt.Sprintf("Basic Tee %02d", i), status, "cat-1"))
	}
	trashed := ProductFixture("p-99", "Retired Scarf", "archived", "cat-9")
	trashed["deletedAt"] = "2026-01-10T09:00:00Z"
	return append(out, trashed)
}

// ProductFixture returns a product record as the backend stores it.
func ProductFixture(id, name, status, category string) map[string]any {
	return map[string]any{
		"_id":      id,
		"name":     name,
		"sku":      strings.ToUpper(strings.ReplaceAll(name, " ", "-")),
		"price":    25.0,
		"status":   status,
		"category": category,
		"image":    "https://cdn.shop.test/" + id + ".jpg",
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
