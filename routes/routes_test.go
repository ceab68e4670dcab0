package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/arca-auth/app"
	"github.com/upb/arca-auth/config"
	"github.com/upb/arca-auth/handlers"
	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/repositories/postgrest"
	"go.uber.org/zap/zaptest"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

// fakeRESTStore mimics the PostgREST endpoints used by the service,
// including the UNIQUE(email) constraint of every users table.
type fakeRESTStore struct {
	mu          sync.Mutex
	tenants     map[string]string
	tables      map[string]map[string]map[string]interface{}
	userQueries int
	nextID      int
	// insertFailure makes inserts into a resource fail with the given error body.
	insertFailure map[string]string
}

func newFakeRESTStore() *fakeRESTStore {
	return &fakeRESTStore{
		tenants:       map[string]string{"upb.edu.bo": "upb", "ucb.edu.bo": "ucb"},
		tables:        make(map[string]map[string]map[string]interface{}),
		insertFailure: make(map[string]string),
	}
}

func (s *fakeRESTStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resource := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case resource == "" || resource == r.URL.Path:
		_, _ = w.Write([]byte(`{}`))

	case resource == "tenants":
		domain := strings.TrimPrefix(r.URL.Query().Get("domain"), "eq.")
		schema, ok := s.tenants[domain]
		if !ok {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]string{{"schema_name": schema, "domain": domain}})

	default:
		s.userQueries++
		table := s.tables[resource]
		if table == nil {
			table = make(map[string]map[string]interface{})
			s.tables[resource] = table
		}
		switch r.Method {
		case http.MethodGet:
			email := strings.TrimPrefix(r.URL.Query().Get("email"), "eq.")
			if row, ok := table[email]; ok {
				_ = json.NewEncoder(w).Encode([]map[string]interface{}{row})
				return
			}
			_, _ = w.Write([]byte(`[]`))
		case http.MethodPost:
			var row map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if body, failing := s.insertFailure[resource]; failing {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(body))
				return
			}
			email, _ := row["email"].(string)
			if _, exists := table[email]; exists {
				w.WriteHeader(http.StatusConflict)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"code":    "23505",
					"message": fmt.Sprintf("duplicate key value violates unique constraint %q", resource+"_email_key"),
					"details": fmt.Sprintf("Key (email)=(%s) already exists.", email),
				})
				return
			}
			s.nextID++
			row["id"] = s.nextID
			table[email] = row
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode([]map[string]interface{}{row})
		}
	}
}

func (s *fakeRESTStore) rows(resource string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[resource])
}

func (s *fakeRESTStore) failInserts(resource, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertFailure[resource] = body
}

func (s *fakeRESTStore) queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userQueries
}

func testConfig(storeURL string) *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:           "localhost",
			Port:           5002,
			RequestTimeout: 5 * time.Second,
		},
		Supabase: config.SupabaseConfig{
			URL:            storeURL,
			AnonKey:        "anon",
			ServiceRoleKey: "service",
			JWTSecret:      testSecret,
		},
		Tenancy: config.TenancyConfig{Mode: config.TenantModeDomain},
		Roles: config.RolesConfig{
			Roles:   []string{"estudiante", "Director"},
			Default: "estudiante",
			Rules:   []config.RoleRule{{Suffix: "@ucb.edu.bo", Role: "Director"}},
		},
		Store: config.StoreConfig{Backend: config.StoreBackendPostgREST, Timeout: 2 * time.Second},
		CORS:  config.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}},
		Observability: config.ObservabilityConfig{
			LogLevel:  "error",
			LogFormat: "json",
		},
	}
}

type testServer struct {
	*httptest.Server
	store *fakeRESTStore
	cfg   *config.Config
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	store := newFakeRESTStore()
	storeSrv := httptest.NewServer(store)
	t.Cleanup(storeSrv.Close)

	cfg := testConfig(storeSrv.URL)
	if mutate != nil {
		mutate(cfg)
	}
	logger := zaptest.NewLogger(t)

	repos := postgrest.NewRepositoryFactory(cfg, logger).NewRepositories()
	deps, err := app.NewDependenciesWithRepositories(cfg, logger, repos)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	srv := httptest.NewServer(SetupRoutes(deps))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, cfg: cfg}
}

func (s *testServer) token(t *testing.T, email string, verified bool, name string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":            s.cfg.Supabase.Issuer(),
		"sub":            "user-" + email,
		"aud":            "authenticated",
		"email":          email,
		"email_verified": verified,
		"exp":            time.Now().Add(time.Hour).Unix(),
		"iat":            time.Now().Unix(),
		"user_metadata":  map[string]interface{}{"full_name": name},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != "" {
		req, err = http.NewRequest(method, s.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequest(method, s.URL+path, nil)
		require.NoError(t, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSyncThenProfile(t *testing.T) {
	srv := newTestServer(t, nil)
	token := srv.token(t, "ana@ucb.edu.bo", true, "Ana Maria Ruiz Lopez")

	resp := srv.do(t, http.MethodPost, "/api/auth/sync-user", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[handlers.SyncUserResponse](t, resp)
	assert.True(t, first.IsNewUser)
	assert.Equal(t, "ucb", first.Schema)

	resp = srv.do(t, http.MethodPost, "/auth/sync-user", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decode[handlers.SyncUserResponse](t, resp)
	assert.False(t, second.IsNewUser)
	assert.Equal(t, first.Email, second.Email)
	assert.Equal(t, 1, srv.store.rows("ucb_usuarios"))

	resp = srv.do(t, http.MethodGet, "/api/auth/user-profile", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := decode[models.Profile](t, resp)
	assert.Equal(t, "Ana Maria", profile.FirstName)
	assert.Equal(t, "Ruiz Lopez", profile.LastName)
	assert.Equal(t, models.Role("Director"), profile.Role)
	assert.Equal(t, "1", profile.ID)
}

// productionRateLimit runs a server with the default sync limiter in place.
func productionRateLimit(cfg *config.Config) {
	cfg.RateLimit = config.RateLimitConfig{SyncRPS: config.DefaultSyncRPS, SyncBurst: config.DefaultSyncBurst}
}

func TestConcurrentFirstSync(t *testing.T) {
	srv := newTestServer(t, productionRateLimit)
	token := srv.token(t, "luis@upb.edu.bo", true, "Luis Perez")

	const callers = 12
	var wg sync.WaitGroup
	results := make(chan handlers.SyncUserResponse, callers)
	statuses := make(chan int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/auth/sync-user", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				statuses <- 0
				return
			}
			defer resp.Body.Close()
			statuses <- resp.StatusCode
			var body handlers.SyncUserResponse
			if json.NewDecoder(resp.Body).Decode(&body) == nil {
				results <- body
			}
		}()
	}
	wg.Wait()
	close(statuses)
	close(results)

	for status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}
	created := 0
	for r := range results {
		assert.True(t, r.Success)
		if r.IsNewUser {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, srv.store.rows("upb_usuarios"))
}

func TestFirstSyncFromSharedAddress(t *testing.T) {
	srv := newTestServer(t, productionRateLimit)

	// Every httptest client comes from 127.0.0.1, like a class behind one NAT.
	const users = 40
	var wg sync.WaitGroup
	statuses := make(chan int, users)
	for i := 0; i < users; i++ {
		token := srv.token(t, fmt.Sprintf("alumno%02d@upb.edu.bo", i), true, "Alumno")
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/auth/sync-user", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				statuses <- 0
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	for status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}
	assert.Equal(t, users, srv.store.rows("upb_usuarios"))
}

func TestSyncStoreConflictIsNotSuccess(t *testing.T) {
	srv := newTestServer(t, nil)
	token := srv.token(t, "ana@upb.edu.bo", true, "Ana")

	conflicts := map[string]string{
		"foreign key": `{"code":"23503","message":"insert or update on table \"upb_usuarios\" violates foreign key constraint \"upb_usuarios_carrera_fkey\""}`,
		"primary key": `{"code":"23505","message":"duplicate key value violates unique constraint \"upb_usuarios_pkey\"","details":"Key (id)=(7) already exists."}`,
	}
	for name, body := range conflicts {
		t.Run(name, func(t *testing.T) {
			srv.store.failInserts("upb_usuarios", body)

			resp := srv.do(t, http.MethodPost, "/api/auth/sync-user", token, "")
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			var errBody struct {
				Code string `json:"code"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
			assert.Equal(t, "internal_error", errBody.Code)

			resp = srv.do(t, http.MethodGet, "/api/auth/user-profile", token, "")
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Equal(t, 0, srv.store.rows("upb_usuarios"))
		})
	}
}

func TestSyncRejections(t *testing.T) {
	srv := newTestServer(t, nil)

	t.Run("unknown domain never queries a users table", func(t *testing.T) {
		before := srv.store.queries()
		resp := srv.do(t, http.MethodPost, "/api/auth/sync-user", srv.token(t, "x@example.com", true, "X"), "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, before, srv.store.queries())
	})

	t.Run("unverified email never writes", func(t *testing.T) {
		resp := srv.do(t, http.MethodPost, "/api/auth/sync-user", srv.token(t, "eva@upb.edu.bo", false, "Eva"), "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, 0, srv.store.rows("upb_usuarios"))
	})

	t.Run("missing token", func(t *testing.T) {
		resp := srv.do(t, http.MethodPost, "/api/auth/sync-user", "", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss":   srv.cfg.Supabase.Issuer(),
			"email": "ana@upb.edu.bo",
			"exp":   time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte("another-secret"))
		require.NoError(t, err)

		resp := srv.do(t, http.MethodPost, "/api/auth/sync-user", forged, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("profile of never synced user", func(t *testing.T) {
		resp := srv.do(t, http.MethodGet, "/api/auth/user-profile", srv.token(t, "new@upb.edu.bo", true, "New"), "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestSyncRateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{SyncRPS: 0.01, SyncBurst: 1}
	})
	token := srv.token(t, "ana@upb.edu.bo", true, "Ana")

	resp := srv.do(t, http.MethodPost, "/api/auth/sync-user", token, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/auth/sync-user", token, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Another user on the same address has a bucket of their own.
	resp = srv.do(t, http.MethodPost, "/api/auth/sync-user", srv.token(t, "beto@upb.edu.bo", true, "Beto"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Profile reads are not limited.
	resp = srv.do(t, http.MethodGet, "/api/auth/user-profile", token, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndFallbackRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/health/ready", http.StatusOK},
		{http.MethodGet, "/api/v1/nonexistent", http.StatusNotFound},
		{http.MethodGet, "/api/auth/sync-user", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			resp := srv.do(t, tt.method, tt.path, "", "")
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil)

	t.Run("allowed origin", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/auth/sync-user", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/auth/sync-user", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://evil.example")
		req.Header.Set("Access-Control-Request-Method", "POST")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}
