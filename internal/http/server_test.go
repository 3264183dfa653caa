package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/civic-cleanup/escrow/internal/config"
	"github.com/civic-cleanup/escrow/internal/events"
	apphttp "github.com/civic-cleanup/escrow/internal/http"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/civic-cleanup/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type testServer struct {
	app *fiber.App
	cfg *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Defaults()
	rec := events.NewRecorder()
	reg := services.NewRegistry(services.Deps{
		Store:     repositories.NewMemoryStore(),
		Publisher: rec,
		Config:    cfg,
	}, nil)
	app, _ := apphttp.NewApp(cfg, zap.NewNop(), reg, rec, nil)
	return &testServer{app: app, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func (s *testServer) token(t *testing.T, role string) (string, string) {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/v1/auth/dev-token", "", map[string]string{"role": role}, nil)
	if status != http.StatusOK {
		t.Fatalf("dev token: status %d, body %v", status, body)
	}
	user, _ := body["user"].(map[string]any)
	id, _ := user["id"].(string)
	return body["token"].(string), id
}

func data(body map[string]any) map[string]any {
	d, _ := body["data"].(map[string]any)
	return d
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, http.MethodGet, "/health", "", nil, nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", status, body)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Token abc"},
		{"garbage", "Bearer abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, http.MethodGet, "/api/v1/me", "", nil, map[string]string{"Authorization": tt.header})
			if status != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", status)
			}
			if body["request_id"] == nil {
				t.Error("error body lacks request_id")
			}
		})
	}
}

func TestDevTokenDisabled(t *testing.T) {
	s := newTestServer(t)
	s.cfg.DevTokens = false
	status, _ := s.do(t, http.MethodPost, "/api/v1/auth/dev-token", "", map[string]string{"role": "LEADER"}, nil)
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	leader, _ := s.token(t, "LEADER")
	worker, _ := s.token(t, "WORKER")
	backer, _ := s.token(t, "CONTRIBUTOR")

	status, _ := s.do(t, http.MethodPost, "/api/v1/jobs", worker, map[string]any{"title": "x", "target_amount": "10"}, nil)
	if status != http.StatusForbidden {
		t.Errorf("worker create job = %d, want 403", status)
	}

	status, body := s.do(t, http.MethodPost, "/api/v1/jobs", leader, map[string]any{
		"title":         "Beach cleanup",
		"target_amount": "100",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create job = %d %v", status, body)
	}
	jobID := data(body)["id"].(string)

	status, _ = s.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", leader, nil, nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", status)
	}
	status, _ = s.do(t, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), leader, nil, nil)
	if status != http.StatusNotFound {
		t.Errorf("unknown job = %d, want 404", status)
	}

	status, body = s.do(t, http.MethodPost, "/api/v1/wallet/contribute", backer, map[string]any{"job_id": jobID, "amount": "100"}, nil)
	if status != http.StatusPaymentRequired {
		t.Errorf("contribute with empty wallet = %d %v, want 402", status, body)
	}

	status, body = s.do(t, http.MethodPost, "/api/v1/contributions", backer, map[string]any{"job_id": jobID, "amount": "100"}, nil)
	if status != http.StatusCreated {
		t.Fatalf("contribute = %d %v", status, body)
	}
	status, body = s.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, backer, nil, nil)
	if status != http.StatusOK || data(body)["status"] != "FUNDING_COMPLETE" {
		t.Errorf("job after funding = %d %v", status, body)
	}

	status, body = s.do(t, http.MethodPost, "/api/v1/contributions", backer, map[string]any{"job_id": jobID, "amount": "5"}, nil)
	if status != http.StatusConflict || body["error"] != "funding already closed" {
		t.Errorf("late contribution = %d %v, want 409", status, body)
	}

	status, _ = s.do(t, http.MethodPost, "/api/v1/admin/sweep", leader, nil, nil)
	if status != http.StatusForbidden {
		t.Errorf("non-admin sweep = %d, want 403", status)
	}
	admin, _ := s.token(t, "ADMIN")
	status, body = s.do(t, http.MethodPost, "/api/v1/admin/sweep", admin, nil, nil)
	if status != http.StatusOK {
		t.Errorf("admin sweep = %d %v", status, body)
	}
}

func TestPaymentWebhook(t *testing.T) {
	s := newTestServer(t)
	token, userID := s.token(t, "CONTRIBUTOR")
	payload := map[string]any{
		"amount":     "250",
		"order_id":   fmt.Sprintf("wallet_%s_%d", userID, 1),
		"payment_id": "pay_9",
	}
	secret := map[string]string{"X-Webhook-Secret": s.cfg.PaymentWebhookSecret}

	status, _ := s.do(t, http.MethodPost, "/api/v1/webhooks/payment", "", payload, map[string]string{"X-Webhook-Secret": "nope"})
	if status != http.StatusUnauthorized {
		t.Errorf("wrong secret = %d, want 401", status)
	}

	for i, want := range []bool{true, false} {
		status, body := s.do(t, http.MethodPost, "/api/v1/webhooks/payment", "", payload, secret)
		if status != http.StatusOK {
			t.Fatalf("delivery %d = %d %v", i, status, body)
		}
		if data(body)["applied"] != want {
			t.Errorf("delivery %d applied = %v, want %v", i, data(body)["applied"], want)
		}
	}

	status, body := s.do(t, http.MethodGet, "/api/v1/wallet", token, nil, nil)
	if status != http.StatusOK || data(body)["available_balance"] != "250" {
		t.Errorf("wallet = %d %v", status, body)
	}

	s.cfg.PaymentWebhookSecret = ""
	status, _ = s.do(t, http.MethodPost, "/api/v1/webhooks/payment", "", payload, secret)
	if status != http.StatusServiceUnavailable {
		t.Errorf("unconfigured webhook = %d, want 503", status)
	}
}
