package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/raakeshmj/campusguard/internal/audit"
	"github.com/raakeshmj/campusguard/internal/auth"
	"github.com/raakeshmj/campusguard/internal/config"
	"github.com/raakeshmj/campusguard/internal/consent"
	"github.com/raakeshmj/campusguard/internal/db"
	"github.com/raakeshmj/campusguard/internal/fieldcrypt"
	"github.com/raakeshmj/campusguard/internal/firewall"
	"github.com/raakeshmj/campusguard/internal/limiter"
	"github.com/raakeshmj/campusguard/internal/masking"
	"github.com/raakeshmj/campusguard/internal/metrics"
	"github.com/raakeshmj/campusguard/internal/repository/memory"
	"go.uber.org/zap"
)

func jsonHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return out
}

func withIdentity(r *http.Request, id *auth.Identity) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), id))
}

func newFirewall(t *testing.T, cfg config.FirewallConfig) (Middleware, *audit.MemorySink) {
	t.Helper()
	mgr := config.NewManager(cfg, nil)
	reg := firewall.NewRegistry(firewall.Deps{Store: limiter.NewMemoryStore()}, nil)
	sink := audit.NewMemorySink()
	p := firewall.NewPipeline(mgr, reg, audit.NewRecorder(sink, nil), nil)
	return Firewall(p, mgr, zap.NewNop()), sink
}

func TestFirewall_DenyResponse(t *testing.T) {
	cfg := config.DefaultFirewallConfig()
	cfg.Environment = "development"
	mw, sink := newFirewall(t, cfg)
	called := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/api/students?id=1%20UNION%20SELECT%20password", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "*/*")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatal("handler must not run for blocked requests")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["error"] != "Forbidden" || body["code"] != "FIREWALL_BLOCKED" || body["message"] == "" {
		t.Errorf("unexpected deny body %v", body)
	}
	if entries := sink.Firewall(); len(entries) != 1 || entries[0].Layer != "sql_injection" {
		t.Errorf("unexpected firewall entries %+v", entries)
	}
}

func TestFirewall_AllowKeepsBodyAndDecorates(t *testing.T) {
	cfg := config.DefaultFirewallConfig()
	cfg.Environment = "development"
	mw, _ := newFirewall(t, cfg)

	var got string
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/notes", strings.NewReader(`{"title":"Rapat orang tua"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got != `{"title":"Rapat orang tua"}` {
		t.Errorf("downstream body changed: %q", got)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" || rec.Header().Get("X-RateLimit-Limit") != "60" {
		t.Errorf("decorators not applied: %v", rec.Header())
	}
	if rec.Header().Get("Content-Type") != "application/json; charset=utf-8" {
		t.Errorf("charset not added: %q", rec.Header().Get("Content-Type"))
	}
}

func newCrypto(t *testing.T) *fieldcrypt.Engine {
	t.Helper()
	e, err := fieldcrypt.NewEngine([]byte("test-master-key"), fieldcrypt.Options{Environment: "testing"})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func TestFieldCrypto_RoundTrip(t *testing.T) {
	engine := newCrypto(t)
	cc := fieldcrypt.Context{TenantID: "school-1"}
	encPhone, err := engine.Encrypt("081234567890", cc)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	stored, _ := engine.Encrypt("stored@school.id", cc)

	var inbound map[string]interface{}
	h := FieldCrypto(engine, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&inbound)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"phone": inbound["phone"], "email": stored, "name": "Siti"})
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/students", strings.NewReader(`{"phone":"`+encPhone+`","name":"Siti"}`))
	req.Header.Set("Content-Type", "application/json")
	req = withIdentity(req, &auth.Identity{UserID: "u1", TenantID: "school-1"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if inbound["phone"] != "081234567890" {
		t.Fatalf("handler should see plaintext, got %v", inbound["phone"])
	}
	out := decode(t, rec)
	phone, _ := out["phone"].(string)
	if !fieldcrypt.IsEncrypted(phone) {
		t.Errorf("outbound phone should be encrypted, got %q", phone)
	}
	if out["email"] != stored {
		t.Error("already encrypted values must not be re-wrapped")
	}
	if out["name"] != "Siti" {
		t.Errorf("unprotected fields pass through, got %v", out["name"])
	}
}

func TestFieldCrypto_RejectsForeignCiphertext(t *testing.T) {
	engine := newCrypto(t)
	foreign, _ := engine.Encrypt("081234567890", fieldcrypt.Context{TenantID: "school-2"})
	called := false
	h := FieldCrypto(engine, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodPut, "/api/students/1", strings.NewReader(`{"phone":"`+foreign+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req = withIdentity(req, &auth.Identity{UserID: "u1", TenantID: "school-1"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called || rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 before the handler, got %d called=%v", rec.Code, called)
	}
	if body := decode(t, rec); body["success"] != false {
		t.Errorf("expected success=false, got %v", body)
	}
}

func TestMasking_Student(t *testing.T) {
	engine := masking.NewEngine(nil, nil)
	h := Masking(engine, MaskStudent, zap.NewNop())(jsonHandler(`{"data":[{"name":"Budi","nik":"3174091203990001"}]}`))

	rec := httptest.NewRecorder()
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/students", nil), &auth.Identity{UserID: "t1", UserType: auth.UserTypeTeacher})
	h.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `"nik":"[REDACTED]"`) || !strings.Contains(rec.Body.String(), `"name":"Budi"`) {
		t.Errorf("unexpected masked body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = withIdentity(httptest.NewRequest(http.MethodGet, "/api/students", nil), &auth.Identity{
		UserID: "a1", UserType: auth.UserTypeAdmin, Permissions: []string{masking.PermissionViewSensitive},
	})
	h.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "3174091203990001") {
		t.Errorf("privileged viewer with permission sees raw data, got %s", rec.Body.String())
	}
}

func TestMasking_NonJSONUntouched(t *testing.T) {
	h := Masking(masking.NewEngine(nil, nil), MaskStudent, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "nik=123")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Body.String() != "nik=123" {
		t.Errorf("non-JSON body changed: %q", rec.Body.String())
	}
}

func TestConsentMiddleware(t *testing.T) {
	repo := memory.New()
	repo.AddRelationship(context.Background(), &db.Relationship{ParentID: "p1", ChildID: "s1"})
	gate := consent.NewGate(repo, repo, audit.NewRecorder(audit.NewMemorySink(), nil), nil)
	dependent := func(r *http.Request) string { return r.URL.Query().Get("dependent") }
	h := Consent(gate, dependent, zap.NewNop())(jsonHandler(`{"ok":true}`))

	tests := []struct {
		name string
		id   *auth.Identity
		dep  string
		want int
	}{
		{"anonymous", nil, "s1", http.StatusUnauthorized},
		{"guardian of dependent", &auth.Identity{UserID: "p1", UserType: auth.UserTypeParent}, "s1", http.StatusOK},
		{"guardian of stranger", &auth.Identity{UserID: "p1", UserType: auth.UserTypeParent}, "s9", http.StatusForbidden},
		{"staff bypass", &auth.Identity{UserID: "st1", UserType: auth.UserTypeStaff}, "s9", http.StatusOK},
		{"student", &auth.Identity{UserID: "s2", UserType: auth.UserTypeStudent}, "s1", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/guardians/dependents?dependent="+tt.dep, nil)
			if tt.id != nil {
				req = withIdentity(req, tt.id)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	token, err := jwtManager.Generate(auth.Identity{UserID: "u1", UserType: auth.UserTypeAdmin})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var seen *auth.Identity
	h := Identity(jwtManager, zap.NewNop())(RequireUser(auth.UserTypeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.FromContext(r.Context())
	})))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/firewall/layers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen == nil || seen.UserID != "u1" {
		t.Fatalf("expected admin identity, got %d %+v", rec.Code, seen)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/admin/firewall/layers", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || decode(t, rec)["code"] != "INVALID_TOKEN" {
		t.Errorf("invalid token should be 401 INVALID_TOKEN, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/firewall/layers", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous admin call should be 401, got %d", rec.Code)
	}
}

func browserGet(target, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "*/*")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestInvalidTokenPassesThroughFirewall(t *testing.T) {
	cfg := config.DefaultFirewallConfig()
	cfg.Environment = "development"
	cfg.RateLimit.Routes = []config.RateLimitRule{{Pattern: "/api/*", MaxAttempts: 3, DecayMinutes: 1}}
	mw, sink := newFirewall(t, cfg)
	called := false
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }),
		Identity(auth.NewJWTManager("secret", time.Hour), zap.NewNop()), mw)

	var codes []int
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, browserGet("/api/students", "garbage"))
		codes = append(codes, rec.Code)
		if i == 0 {
			if rec.Header().Get("X-Frame-Options") != "DENY" || decode(t, rec)["code"] != "INVALID_TOKEN" {
				t.Errorf("expected decorated INVALID_TOKEN response, got %v", rec.Header())
			}
		}
	}
	if called {
		t.Fatal("handler must not run for an invalid token")
	}
	want := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized, http.StatusForbidden}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("status codes = %v, want %v", codes, want)
		}
	}
	entries := sink.Firewall()
	if len(entries) != 4 {
		t.Fatalf("expected one firewall entry per request, got %d", len(entries))
	}
	if entries[0].Outcome != audit.OutcomeAllowed || entries[3].Outcome != audit.OutcomeBlocked || entries[3].Layer != "rate_limiter" {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestFirewall_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	cfg := config.DefaultFirewallConfig()
	cfg.Environment = "development"
	cfg.TrustedProxies = []string{"10.0.0.0/8"}
	cfg.RateLimit.Routes = []config.RateLimitRule{{Pattern: "/api/*", MaxAttempts: 3, DecayMinutes: 1}}
	mw, sink := newFirewall(t, cfg)
	var seen []string
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, firewall.ClientIP(r))
	}))

	var last int
	for i := 0; i < 4; i++ {
		req := browserGet("/api/students", "")
		req.RemoteAddr = "203.0.113.9:5000"
		req.Header.Set("X-Forwarded-For", "198.51.100.1"+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusForbidden {
		t.Fatalf("rotating X-Forwarded-For must not reset the limit, got %d", last)
	}
	for _, ip := range seen {
		if ip != "203.0.113.9" {
			t.Errorf("handler saw client %q, want the peer address", ip)
		}
	}
	for _, e := range sink.Firewall() {
		if e.IP != "203.0.113.9" {
			t.Errorf("firewall entry recorded %q", e.IP)
		}
	}

	// Behind a trusted proxy the forwarded client is used.
	req := browserGet("/api/students", "")
	req.RemoteAddr = "10.0.0.5:5000"
	req.Header.Set("X-Forwarded-For", "198.51.100.50")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen[len(seen)-1] != "198.51.100.50" {
		t.Errorf("expected forwarded client behind trusted proxy, got %d %v", rec.Code, seen)
	}
}

func TestActivityAuditAndMetrics(t *testing.T) {
	sink := audit.NewMemorySink()
	collector := metrics.NewCollector(10)
	h := Chain(jsonHandler(`{}`), MetricsMiddleware(collector), ActivityAudit(audit.NewRecorder(sink, nil)))

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/students", nil), &auth.Identity{UserID: "t1", TenantID: "school-1"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := sink.Activity()
	if len(entries) != 1 || entries[0].ActorID != "t1" || entries[0].Action != "GET /api/students" {
		t.Fatalf("unexpected activity entries %+v", entries)
	}
	if entries[0].Metadata["status"] != http.StatusOK {
		t.Errorf("expected status 200 in metadata, got %v", entries[0].Metadata["status"])
	}
	if collector.GetStats().TotalRequests != 1 {
		t.Error("metrics middleware did not record")
	}
}
