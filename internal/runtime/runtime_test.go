package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

func TestSignAndParseJWT(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := SignJWT("user-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	sub, err := ParseJWT(tok, secret)
	if err != nil || sub != "user-1" {
		t.Fatalf("ParseJWT: %q %v", sub, err)
	}
	if _, err := ParseJWT(tok, []byte("other")); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
	expired, _ := SignJWT("user-1", secret, -time.Minute)
	if _, err := ParseJWT(expired, secret); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestLoadJWTSecret(t *testing.T) {
	if _, err := LoadJWTSecret(&config.Config{}); err == nil {
		t.Fatalf("expected missing secret error")
	}
	cfg := &config.Config{General: config.GeneralConfig{JWTSecret: "g"}, Server: config.ServerConfig{JWTSecret: "s"}}
	if s, err := LoadJWTSecret(cfg); err != nil || string(s) != "s" {
		t.Fatalf("server secret should win, got %q %v", s, err)
	}
}

func TestEchoAuthMiddleware(t *testing.T) {
	secret := []byte("s3cret")
	e := echo.New()
	h := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		sub, ok := SubjectFromContext(c.Request().Context())
		if !ok || c.Get("user_id") != sub {
			t.Fatalf("subject missing from context")
		}
		return c.String(http.StatusOK, sub)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	err := h(e.NewContext(req, rec))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %v", err)
	}

	tok, _ := SignJWT("user-7", secret, time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AuthCookie, Value: tok})
	rec = httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil || rec.Body.String() != "user-7" {
		t.Fatalf("cookie auth failed: %v %q", err, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil || rec.Body.String() != "user-7" {
		t.Fatalf("bearer auth failed: %v %q", err, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err == nil {
		t.Fatalf("expected invalid token error")
	}
}

func TestBuildPostgresDSN(t *testing.T) {
	if _, err := BuildPostgresDSN(&config.Config{}); err == nil {
		t.Fatalf("expected incomplete config error")
	}
	cfg := &config.Config{Storage: config.StorageConfig{Postgres: config.PostgresConfig{Host: "db", User: "app", Password: "p@ss", DBName: "boardroom"}}}
	dsn, err := BuildPostgresDSN(cfg)
	if err != nil {
		t.Fatalf("BuildPostgresDSN: %v", err)
	}
	if dsn != "postgres://app:p%40ss@db:5432/boardroom?sslmode=disable" {
		t.Fatalf("unexpected dsn %s", dsn)
	}
	cfg.Storage.Postgres.URL = "postgres://explicit"
	if dsn, _ := BuildPostgresDSN(cfg); dsn != "postgres://explicit" {
		t.Fatalf("explicit url should win, got %s", dsn)
	}
}

func TestSetupTelemetryExportsToRegistry(t *testing.T) {
	if tel, err := SetupTelemetry(context.Background(), config.TelemetryConfig{}, TelemetryOptions{}); err != nil || tel == nil {
		t.Fatalf("disabled telemetry should be a no-op: %v", err)
	}

	prevMP := otel.GetMeterProvider()
	prevTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(prevMP)
		otel.SetTracerProvider(prevTP)
	})

	reg := prometheus.NewRegistry()
	tel, err := SetupTelemetry(context.Background(), config.TelemetryConfig{Enabled: true}, TelemetryOptions{ServiceName: "boardroom-test", Registerer: reg})
	if err != nil {
		t.Fatalf("SetupTelemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	counter, err := otel.Meter("test").Int64Counter("probe_total")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "probe_total") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected OTel counter on the prometheus registry")
	}
}
