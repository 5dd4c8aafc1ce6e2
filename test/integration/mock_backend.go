package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"mime"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockBackend simulates the storefront REST API: per-entity collections
// behind the {status, data, message} envelope, a login endpoint issuing
// signed tokens, and injectable faults. It records every request for later
// assertion.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	mu       sync.Mutex
	records  map[string]map[string]map[string]any
	order    map[string][]string
	users    map[string]testUser
	faults   map[string][]*Fault
	received map[string][]*RecordedRequest
	nextID   int
	tokenTTL time.Duration
}

type testUser struct {
	password string
	roles    []string
}

// RecordedRequest captures the details of a request received by the mock backend.
type RecordedRequest struct {
	Operation     string
	Method        string
	Path          string
	Authorization string
	CorrelationID string
	ContentType   string
	Fields        map[string]any
	Files         map[string]RecordedFile
	ReceivedAt    time.Time
}

// RecordedFile is a file part of a multipart request.
type RecordedFile struct {
	Filename    string
	ContentType string
	Size        int
}

// Fault replaces the normal handling of an operation.
type Fault struct {
	// Status is the HTTP status to answer with; 200 with EnvelopeStatus set
	// simulates a rejection inside a successful response.
	Status         int
	EnvelopeStatus string
	Message        string
	Delay          time.Duration
	// Times limits how often the fault fires; 0 means until cleared.
	Times int
	// Body, when set, is written verbatim.
	Body string

	fired int
}

// newMockBackend starts a backend serving the given entity path segments.
func newMockBackend(t *testing.T, issuer *tokenIssuer, entities ...string) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:        t,
		issuer:   issuer,
		records:  make(map[string]map[string]map[string]any),
		order:    make(map[string][]string),
		users:    make(map[string]testUser),
		faults:   make(map[string][]*Fault),
		received: make(map[string][]*RecordedRequest),
		tokenTTL: time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", mb.handle("auth.login", false, mb.login))
	for _, e := range entities {
		mb.records[e] = make(map[string]map[string]any)
		mux.HandleFunc("GET /"+e+"/all-"+e, mb.handle(e+".list", true, mb.list(e, false)))
		mux.HandleFunc("GET /"+e+"/all-"+e+"/with-deleted", mb.handle(e+".list_with_deleted", true, mb.list(e, true)))
		mux.HandleFunc("GET /"+e+"/{id}", mb.handle(e+".get", true, mb.get(e)))
		mux.HandleFunc("POST /"+e+"/add-"+e, mb.handle(e+".create", true, mb.create(e)))
		mux.HandleFunc("PUT /"+e+"/update-"+e+"/{id}", mb.handle(e+".update", true, mb.update(e)))
		mux.HandleFunc("DELETE /"+e+"/delete-"+e+"/{id}", mb.handle(e+".delete", true, mb.softDelete(e)))
		mux.HandleFunc("POST /"+e+"/restore-"+e+"/{id}", mb.handle(e+".restore", true, mb.restore(e)))
		mux.HandleFunc("DELETE /"+e+"/permanently-delete-"+e+"/{id}", mb.handle(e+".permanent_delete", true, mb.purge(e)))
	}

	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)
	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// AddUser registers an admin that may sign in.
func (mb *MockBackend) AddUser(email, password string, roles ...string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.users[email] = testUser{password: password, roles: roles}
}

// SetTokenTTL changes the lifetime of tokens issued from now on.
func (mb *MockBackend) SetTokenTTL(ttl time.Duration) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.tokenTTL = ttl
}

// Seed stores records of entity in the given order. Each record must carry
// an "_id".
func (mb *MockBackend) Seed(entity string, records ...map[string]any) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for _, r := range records {
		id := fmt.Sprint(r["_id"])
		if _, exists := mb.records[entity][id]; !exists {
			mb.order[entity] = append(mb.order[entity], id)
		}
		mb.records[entity][id] = maps.Clone(r)
	}
}

// Record returns a copy of a stored record.
func (mb *MockBackend) Record(entity, id string) (map[string]any, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	r, ok := mb.records[entity][id]
	return maps.Clone(r), ok
}

// InjectFault makes operation (e.g. "product.list") misbehave.
func (mb *MockBackend) InjectFault(operation string, f Fault) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.faults[operation] = append(mb.faults[operation], &f)
}

// ClearFaults restores the normal handling of operation.
func (mb *MockBackend) ClearFaults(operation string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.faults, operation)
}

// Calls returns how often operation was received.
func (mb *MockBackend) Calls(operation string) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.received[operation])
}

// AssertCalled verifies that the operation was called the expected number of times.
func (mb *MockBackend) AssertCalled(t *testing.T, operation string, expectedCount int) {
	t.Helper()
	if actual := mb.Calls(operation); actual != expectedCount {
		t.Errorf("mock backend: operation %q called %d times, want %d", operation, actual, expectedCount)
	}
}

// AssertNotCalled verifies that the operation was never called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, operation string) {
	t.Helper()
	mb.AssertCalled(t, operation, 0)
}

// LastRequest returns the last request received for the given operation.
// Returns nil if no requests were recorded.
func (mb *MockBackend) LastRequest(operation string) *RecordedRequest {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	reqs := mb.received[operation]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// --- request handling ---

type opHandler func(w http.ResponseWriter, r *http.Request, rec *RecordedRequest)

func (mb *MockBackend) handle(operation string, authenticated bool, next opHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &RecordedRequest{
			Operation:     operation,
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			CorrelationID: r.Header.Get("X-Correlation-Id"),
			ContentType:   r.Header.Get("Content-Type"),
			ReceivedAt:    time.Now(),
		}
		if err := readBody(r, rec); err != nil {
			writeEnvelope(w, http.StatusBadRequest, "ERROR", nil, err.Error())
			return
		}

		mb.mu.Lock()
		mb.received[operation] = append(mb.received[operation], rec)
		fault := mb.nextFault(operation)
		mb.mu.Unlock()

		if fault != nil {
			if fault.Delay > 0 {
				select {
				case <-time.After(fault.Delay):
				case <-r.Context().Done():
					return
				}
			}
			if fault.Status != 0 || fault.Body != "" {
				status := fault.Status
				if status == 0 {
					status = http.StatusOK
				}
				if fault.Body != "" {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(status)
					io.WriteString(w, fault.Body)
					return
				}
				envStatus := fault.EnvelopeStatus
				if envStatus == "" {
					envStatus = "ERROR"
				}
				writeEnvelope(w, status, envStatus, nil, fault.Message)
				return
			}
		}

		if authenticated {
			token, ok := strings.CutPrefix(rec.Authorization, "Bearer ")
			if !ok {
				writeEnvelope(w, http.StatusUnauthorized, "ERROR", nil, "Missing bearer token")
				return
			}
			if _, err := mb.issuer.Verify(token); err != nil {
				writeEnvelope(w, http.StatusUnauthorized, "ERROR", nil, "Invalid token")
				return
			}
		}
		next(w, r, rec)
	}
}

// nextFault returns the active fault of operation. Callers hold mb.mu.
func (mb *MockBackend) nextFault(operation string) *Fault {
	for _, f := range mb.faults[operation] {
		if f.Times == 0 || f.fired < f.Times {
			f.fired++
			return f
		}
	}
	return nil
}

func readBody(r *http.Request, rec *RecordedRequest) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			return json.Unmarshal(data, &rec.Fields)
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return err
		}
		rec.Fields = make(map[string]any)
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				rec.Fields[k] = v[0]
			}
		}
		rec.Files = make(map[string]RecordedFile)
		for k, headers := range r.MultipartForm.File {
			if len(headers) == 0 {
				continue
			}
			rec.Files[k] = RecordedFile{
				Filename:    headers[0].Filename,
				ContentType: headers[0].Header.Get("Content-Type"),
				Size:        int(headers[0].Size),
			}
		}
	}
	return nil
}

func (mb *MockBackend) login(w http.ResponseWriter, _ *http.Request, rec *RecordedRequest) {
	email, _ := rec.Fields["email"].(string)
	password, _ := rec.Fields["password"].(string)

	mb.mu.Lock()
	u, ok := mb.users[email]
	ttl := mb.tokenTTL
	mb.mu.Unlock()

	if !ok || u.password != password {
		writeEnvelope(w, http.StatusUnauthorized, "ERROR", nil, "Invalid email or password")
		return
	}
	token := mb.issuer.Issue("user-"+strings.Split(email, "@")[0], email, u.roles, ttl)
	writeEnvelope(w, http.StatusOK, "SUCCESS", map[string]any{"token": token}, "")
}

func (mb *MockBackend) list(entity string, withDeleted bool) opHandler {
	return func(w http.ResponseWriter, _ *http.Request, _ *RecordedRequest) {
		mb.mu.Lock()
		out := make([]map[string]any, 0, len(mb.order[entity]))
		for _, id := range mb.order[entity] {
			r := mb.records[entity][id]
			if r["deletedAt"] != nil && !withDeleted {
				continue
			}
			out = append(out, maps.Clone(r))
		}
		mb.mu.Unlock()
		writeEnvelope(w, http.StatusOK, "SUCCESS", out, "")
	}
}

func (mb *MockBackend) get(entity string) opHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *RecordedRequest) {
		rec, ok := mb.Record(entity, r.PathValue("id"))
		if !ok {
			writeEnvelope(w, http.StatusNotFound, "ERROR", nil, entity+" not found")
			return
		}
		writeEnvelope(w, http.StatusOK, "SUCCESS", rec, "")
	}
}

func (mb *MockBackend) create(entity string) opHandler {
	return func(w http.ResponseWriter, _ *http.Request, rec *RecordedRequest) {
		if name, _ := rec.Fields["name"].(string); name == "" {
			writeEnvelope(w, http.StatusBadRequest, "ERROR", nil, "name is required")
			return
		}

		mb.mu.Lock()
		mb.nextID++
		id := fmt.Sprintf("%s-%d", entity, 1000+mb.nextID)
		stored := maps.Clone(rec.Fields)
		stored["_id"] = id
		for field, f := range rec.Files {
			stored[field] = "https://cdn.shop.test/" + f.Filename
		}
		mb.records[entity][id] = stored
		mb.order[entity] = append(mb.order[entity], id)
		out := maps.Clone(stored)
		mb.mu.Unlock()

		writeEnvelope(w, http.StatusCreated, "SUCCESS", out, "")
	}
}

func (mb *MockBackend) update(entity string) opHandler {
	return func(w http.ResponseWriter, r *http.Request, rec *RecordedRequest) {
		id := r.PathValue("id")
		mb.mu.Lock()
		stored, ok := mb.records[entity][id]
		if ok {
			for k, v := range rec.Fields {
				stored[k] = v
			}
			for field, f := range rec.Files {
				stored[field] = "https://cdn.shop.test/" + f.Filename
			}
		}
		out := maps.Clone(stored)
		mb.mu.Unlock()

		if !ok {
			writeEnvelope(w, http.StatusNotFound, "ERROR", nil, entity+" not found")
			return
		}
		writeEnvelope(w, http.StatusOK, "SUCCESS", out, "")
	}
}

func (mb *MockBackend) softDelete(entity string) opHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *RecordedRequest) {
		mb.mutate(w, entity, r.PathValue("id"), func(stored map[string]any) {
			stored["deletedAt"] = time.Now().UTC().Format(time.RFC3339)
		})
	}
}

func (mb *MockBackend) restore(entity string) opHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *RecordedRequest) {
		mb.mutate(w, entity, r.PathValue("id"), func(stored map[string]any) {
			delete(stored, "deletedAt")
		})
	}
}

func (mb *MockBackend) purge(entity string) opHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *RecordedRequest) {
		id := r.PathValue("id")
		mb.mu.Lock()
		_, ok := mb.records[entity][id]
		if ok {
			delete(mb.records[entity], id)
			mb.order[entity] = slices.DeleteFunc(mb.order[entity], func(s string) bool { return s == id })
		}
		mb.mu.Unlock()

		if !ok {
			writeEnvelope(w, http.StatusNotFound, "ERROR", nil, entity+" not found")
			return
		}
		writeEnvelope(w, http.StatusOK, "SUCCESS", nil, "deleted")
	}
}

func (mb *MockBackend) mutate(w http.ResponseWriter, entity, id string, fn func(map[string]any)) {
	mb.mu.Lock()
	stored, ok := mb.records[entity][id]
	if ok {
		fn(stored)
	}
	mb.mu.Unlock()

	if !ok {
		writeEnvelope(w, http.StatusNotFound, "ERROR", nil, entity+" not found")
		return
	}
	writeEnvelope(w, http.StatusOK, "SUCCESS", nil, "ok")
}

func writeEnvelope(w http.ResponseWriter, status int, envStatus string, data any, message string) {
	body := map[string]any{"status": envStatus}
	if data != nil {
		body["data"] = data
	}
	if message != "" {
		body["message"] = message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
