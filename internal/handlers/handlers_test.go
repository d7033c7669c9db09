package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/devsync/internal/credentials"
	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/pool"
	"github.com/gluk-w/devsync/internal/session"
)

// stubSession echoes commands as "<host>:<command>", prefixed with "#" once
// enabled. "show fail" returns an error.
type stubSession struct {
	host string

	mu      sync.Mutex
	enabled bool
	closed  bool
}

func (s *stubSession) RunCommand(_ context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errors.New("session closed")
	}
	if cmd == "show fail" {
		return "", errors.New("% Invalid input detected")
	}
	prefix := ""
	if s.enabled {
		prefix = "#"
	}
	return prefix + s.host + ":" + cmd, nil
}

func (s *stubSession) Enable(context.Context) error {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	return nil
}

func (s *stubSession) HealthProbe(context.Context) session.HealthResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.Unhealthy("closed", 0)
	}
	return session.Healthy(time.Millisecond)
}

func (s *stubSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// testFactory opens stubSessions. "auth.lab" is rejected and "down.lab" is
// unreachable.
type testFactory struct {
	mu    sync.Mutex
	opens []string
}

func (f *testFactory) Open(_ context.Context, spec session.DeviceSpec) (session.Session, error) {
	f.mu.Lock()
	f.opens = append(f.opens, spec.Hostname)
	f.mu.Unlock()

	switch spec.Hostname {
	case "auth.lab":
		return nil, session.NewDeviceError(spec.Hostname, session.ErrAuthentication, errors.New("permission denied"))
	case "down.lab":
		return nil, session.NewDeviceError(spec.Hostname, session.ErrUnreachable, errors.New("i/o timeout"))
	}
	return &stubSession{host: spec.Hostname}, nil
}

func (f *testFactory) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opens)
}

// setupTestDB wires the package globals to an in-memory registry and a fresh
// engine.
func setupTestDB(t *testing.T) *testFactory {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db
	Devices = database.NewDeviceStore(db)

	factory := &testFactory{}
	env := map[string]string{
		"LAB_USERNAME": "netops",
		"LAB_PASSWORD": "from-env",
	}
	Engine = pool.New(pool.Config{
		Registry: Devices,
		Credentials: &credentials.Manager{LookupEnv: func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}},
		Factory: factory,
		Logger:  zerolog.Nop(),
	})

	t.Cleanup(func() {
		Engine.CloseAll(context.Background())
		sqlDB.Close()
		database.DB = nil
	})
	return factory
}

// newChiRequestWithBody creates an *http.Request with chi URL params and a JSON body.
func newChiRequestWithBody(method, path string, params map[string]string, body []byte) *http.Request {
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func newChiRequest(method, path string, params map[string]string) *http.Request {
	return newChiRequestWithBody(method, path, params, nil)
}

func jsonBody(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal response: %v (body: %s)", err, w.Body.String())
	}
}

// addDevice registers hostname through the API with inline credentials.
func addDevice(t *testing.T, hostname string) {
	t.Helper()
	body := jsonBody(t, map[string]interface{}{
		"hostname":    hostname,
		"device_type": "cisco_ios",
		"username":    "admin",
		"password":    "pw",
	})
	w := httptest.NewRecorder()
	CreateDevice(w, newChiRequestWithBody(http.MethodPost, "/api/v1/devices", nil, body))
	if w.Code != http.StatusCreated {
		t.Fatalf("add %s: expected 201, got %d body: %s", hostname, w.Code, w.Body.String())
	}
}

// insertDevice writes a registry row without opening a session.
func insertDevice(t *testing.T, hostname string) {
	t.Helper()
	d := &database.Device{Hostname: strings.ToLower(hostname), DeviceType: "cisco_ios", Port: 22}
	if err := Devices.Upsert(context.Background(), d); err != nil {
		t.Fatalf("insert %s: %v", hostname, err)
	}
}
