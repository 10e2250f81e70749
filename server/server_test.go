package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tlsn-notary/notary"
	"tlsn-notary/proofverifier"
	"tlsn-notary/providers"
	"tlsn-notary/receipt"
	"tlsn-notary/transcript"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	bankRequest  = "GET /balance HTTP/1.1\r\nHost: bank.example\r\nAuthorization: Bearer secret123\r\n\r\n"
	bankResponse = "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n{\"balance\":42,\"account\":\"ACC-991\"}"
)

type testEnv struct {
	server   *Server
	http     *httptest.Server
	signer   *notary.P256Signer
	source   *TargetSource
	captures atomic.Int32
}

func newTestEnv(t *testing.T, captureErr error, receipts *receipt.Issuer) *testEnv {
	t.Helper()

	signer, err := notary.GenerateP256Signer()
	if err != nil {
		t.Fatalf("Failed to generate signer: %v", err)
	}
	env := &testEnv{signer: signer}

	rules := []providers.RedactionRule{providers.Header("authorization"), providers.JSONPath("$.account")}
	env.source = NewTargetSource("https://bank.example/balance", rules, notary.New(signer), signer.Public(), nil)
	env.source.capturer = func(ctx context.Context, _ *http.Client, _ string, _ http.Header) (*transcript.Transcript, error) {
		env.captures.Add(1)
		if captureErr != nil {
			return nil, captureErr
		}
		return transcript.New([]byte(bankRequest), []byte(bankResponse)), nil
	}

	env.server, err = New(Options{
		VerifyKey: signer.Public(),
		Source:    env.source,
		Receipts:  receipts,
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	env.http = httptest.NewServer(env.server.Router())
	t.Cleanup(func() {
		env.http.Close()
		env.server.Shutdown()
	})
	return env
}

func (e *testEnv) fetchProof(t *testing.T) []byte {
	t.Helper()
	resp, err := http.Get(e.http.URL + "/proof")
	if err != nil {
		t.Fatalf("Failed to request proof: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /proof returned %d: %s", resp.StatusCode, body)
	}
	return body
}

func (e *testEnv) postVerify(t *testing.T, query string, body []byte) (int, []byte) {
	t.Helper()
	resp, err := http.Post(e.http.URL+"/verify"+query, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to post proof: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func TestConfigValidate(t *testing.T) {
	base := Config{Port: 8080, ProofCacheTTL: time.Minute}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"with target", func(c *Config) { c.TargetURL = "https://bank.example/balance" }, false},
		{"zero port", func(c *Config) { c.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Port = 70000 }, true},
		{"target without scheme", func(c *Config) { c.TargetURL = "bank.example/balance" }, true},
		{"zero ttl", func(c *Config) { c.ProofCacheTTL = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProofThenVerifyText(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	status, body := env.postVerify(t, "?encoding=text", env.fetchProof(t))
	if status != http.StatusOK {
		t.Fatalf("POST /verify returned %d: %s", status, body)
	}

	var resp struct {
		ServerName string `json:"server_name"`
		Sent       string `json:"sent"`
		Received   string `json:"received"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.ServerName != "bank.example" {
		t.Errorf("Expected server name bank.example, got %q", resp.ServerName)
	}
	if strings.Contains(resp.Sent, "secret123") {
		t.Errorf("Authorization value leaked: %q", resp.Sent)
	}
	if want := "Authorization: " + strings.Repeat("X", len("Bearer secret123")) + "\r\n"; !strings.Contains(resp.Sent, want) {
		t.Errorf("Expected redacted header %q in %q", want, resp.Sent)
	}
	if len(resp.Sent) != len(bankRequest) || len(resp.Received) != len(bankResponse) {
		t.Errorf("Redacted lengths %d/%d, want %d/%d", len(resp.Sent), len(resp.Received), len(bankRequest), len(bankResponse))
	}
	if strings.Contains(resp.Received, "ACC-991") {
		t.Errorf("Account leaked: %q", resp.Received)
	}
	if !strings.Contains(resp.Received, `"balance":42`) {
		t.Errorf("Public balance missing from %q", resp.Received)
	}
}

func TestVerifyRejects(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	good := env.fetchProof(t)

	other, err := notary.GenerateP256Signer()
	if err != nil {
		t.Fatalf("Failed to generate signer: %v", err)
	}

	tests := []struct {
		name      string
		body      []byte
		key       notary.PublicKey
		wantStage string
	}{
		{"garbage", []byte("not json"), nil, proofverifier.StageDecode},
		{"wrong key", good, other.Public(), proofverifier.StageSignature},
		{"tampered header", bytes.Replace(good, []byte(`"bank.example"`), []byte(`"evil.example"`), 1), nil, proofverifier.StageSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.key != nil {
				env.server.key = tt.key
				defer func() { env.server.key = env.signer.Public() }()
			}
			status, body := env.postVerify(t, "", tt.body)
			if status != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d: %s", status, body)
			}
			var resp errorResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				t.Fatalf("Failed to decode error: %v", err)
			}
			if resp.Stage != tt.wantStage {
				t.Errorf("Expected stage %q, got %q (%s)", tt.wantStage, resp.Stage, resp.Error)
			}
		})
	}

	if got := testutil.ToFloat64(env.server.metrics.VerificationsTotal.WithLabelValues("rejected")); got != float64(len(tests)) {
		t.Errorf("Expected %d rejected verifications, got %v", len(tests), got)
	}
}

func TestProofCache(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	first := env.fetchProof(t)
	second := env.fetchProof(t)
	if !bytes.Equal(first, second) {
		t.Error("Cached proof differs from first proof")
	}
	if got := env.captures.Load(); got != 1 {
		t.Errorf("Expected 1 capture, got %d", got)
	}
	if got := testutil.ToFloat64(env.server.metrics.ProofCacheHits); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}

	env.server.proofs.Invalidate()
	env.fetchProof(t)
	if got := env.captures.Load(); got != 2 {
		t.Errorf("Expected rebuild after invalidate, got %d captures", got)
	}
}

func TestProofBuildFailure(t *testing.T) {
	env := newTestEnv(t, errors.New("connection refused"), nil)

	for i := 0; i < 2; i++ {
		resp, err := http.Get(env.http.URL + "/proof")
		if err != nil {
			t.Fatalf("Failed to request proof: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("Expected 500, got %d", resp.StatusCode)
		}
	}
	if got := env.captures.Load(); got != 2 {
		t.Errorf("Failed builds must not be cached, got %d captures", got)
	}
	if got := testutil.ToFloat64(env.server.metrics.ProofBuildsTotal.WithLabelValues("error")); got != 2 {
		t.Errorf("Expected 2 failed builds, got %v", got)
	}
}

func TestProofWithoutSource(t *testing.T) {
	signer, err := notary.GenerateP256Signer()
	if err != nil {
		t.Fatalf("Failed to generate signer: %v", err)
	}
	s, err := New(Options{VerifyKey: signer.Public()})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proof", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestRequiredRuleNotMatched(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.source.rules = append(env.source.rules, providers.Pattern("not-in-transcript"))

	_, err := env.source.Prove(context.Background())
	if !errors.Is(err, providers.ErrRuleNotMatched) {
		t.Errorf("Expected ErrRuleNotMatched, got %v", err)
	}

	env.source.rules[len(env.source.rules)-1].Optional = true
	if _, err := env.source.Prove(context.Background()); err != nil {
		t.Errorf("Optional rule should not fail the build: %v", err)
	}
}

func TestVerifyIssuesReceipt(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate receipt key: %v", err)
	}
	issuer, err := receipt.NewIssuer(key)
	if err != nil {
		t.Fatalf("Failed to create issuer: %v", err)
	}
	env := newTestEnv(t, nil, issuer)

	status, body := env.postVerify(t, "", env.fetchProof(t))
	if status != http.StatusOK {
		t.Fatalf("POST /verify returned %d: %s", status, body)
	}
	var resp struct {
		Received []byte `json:"received"`
		Receipt  string `json:"receipt"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	claims, err := receipt.Parse(resp.Receipt, &key.PublicKey, receipt.DefaultIssuer)
	if err != nil {
		t.Fatalf("Failed to parse receipt: %v", err)
	}
	if claims.ServerName != "bank.example" {
		t.Errorf("Expected receipt server name bank.example, got %q", claims.ServerName)
	}
	if claims.RecvHash != receipt.Digest(resp.Received) {
		t.Error("Receipt hash does not match the revealed received transcript")
	}
}

func TestWebSocketVerdicts(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	good := env.fetchProof(t)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?encoding=text"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close()

	frames := []struct {
		payload []byte
		wantOK  bool
	}{
		{good, true},
		{[]byte(`{"session":{}}`), false},
		{good, true},
	}
	for i, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, f.payload); err != nil {
			t.Fatalf("Failed to write frame %d: %v", i, err)
		}
		var verdict struct {
			OK     bool `json:"ok"`
			Result *struct {
				Sent string `json:"sent"`
			} `json:"result"`
			Stage string `json:"stage"`
		}
		if err := conn.ReadJSON(&verdict); err != nil {
			t.Fatalf("Failed to read verdict %d: %v", i, err)
		}
		if verdict.OK != f.wantOK {
			t.Fatalf("Frame %d: expected ok=%v, got %+v", i, f.wantOK, verdict)
		}
		if f.wantOK && strings.Contains(verdict.Result.Sent, "secret123") {
			t.Errorf("Frame %d leaked the authorization value", i)
		}
		if !f.wantOK && verdict.Stage != proofverifier.StageDecode {
			t.Errorf("Frame %d: expected decode stage, got %q", i, verdict.Stage)
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	if got := testutil.ToFloat64(env.server.metrics.WebsocketFrames.WithLabelValues("verified")); got != 2 {
		t.Errorf("Expected 2 verified frames, got %v", got)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.postVerify(t, "", []byte("{}"))

	resp, err := http.Get(env.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("Failed to request healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected healthz 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("Failed to request metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `tlsn_notary_verifications_total{outcome="rejected"} 1`) {
		t.Errorf("Metrics output missing verification counter:\n%s", body)
	}
}

func TestCORS(t *testing.T) {
	signer, err := notary.GenerateP256Signer()
	if err != nil {
		t.Fatalf("Failed to generate signer: %v", err)
	}

	tests := []struct {
		name      string
		allowed   []string
		method    string
		path      string
		origin    string
		preflight bool
		want      string
	}{
		{"preflight verify any origin", nil, http.MethodOptions, "/verify", "https://app.example", true, "*"},
		{"preflight proof any origin", nil, http.MethodOptions, "/proof", "https://app.example", true, "*"},
		{"simple request any origin", nil, http.MethodGet, "/healthz", "https://app.example", false, "*"},
		{"preflight listed origin", []string{"https://app.example"}, http.MethodOptions, "/verify", "https://app.example", true, "https://app.example"},
		{"preflight unlisted origin", []string{"https://app.example"}, http.MethodOptions, "/verify", "https://evil.example", true, ""},
		{"simple request unlisted origin", []string{"https://app.example"}, http.MethodGet, "/healthz", "https://evil.example", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(Options{VerifyKey: signer.Public(), AllowedOrigins: tt.allowed})
			if err != nil {
				t.Fatalf("Failed to create server: %v", err)
			}

			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
				req.Header.Set("Access-Control-Request-Headers", "Content-Type")
			}
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("Expected 200, got %d", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}
