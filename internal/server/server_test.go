package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"cogniledger/internal/config"
	"cogniledger/internal/db"
	"cogniledger/internal/domain"
	"cogniledger/internal/engine"
	"cogniledger/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("cogni")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitScope(context.Background(), cfg.Scope.ID, "", "tester"); err != nil {
		t.Fatalf("init scope: %v", err)
	}
	if _, err := e.GrantRole(context.Background(), cfg.Scope.ID, "tester", domain.RoleAuthor, "tester"); err != nil {
		t.Fatalf("grant author: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacyActorHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestEpochCloseOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/scopes/cogni/epochs", map[string]any{
		"period_start": "2024-01-01T00:00:00Z",
		"period_end":   "2024-02-01T00:00:00Z",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("open epoch status %d: %s", res.StatusCode, string(data))
	}
	var ep EpochResponse
	if err := json.Unmarshal(data, &ep); err != nil {
		t.Fatalf("unmarshal epoch: %v", err)
	}
	epochPath := srv.URL + "/v0/epochs/1"

	for _, r := range []map[string]any{
		{"user_id": "alice", "work_item_id": "w1", "role": "author", "units": "700"},
		{"user_id": "bob", "work_item_id": "w2", "role": "author", "units": "300"},
	} {
		res, data = doJSON(t, client, http.MethodPost, epochPath+"/receipts", r, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("submit receipt status %d: %s", res.StatusCode, string(data))
		}
	}

	for _, c := range []map[string]any{
		{"component_id": "subscription.revenue", "amount_credits": "900"},
		{"component_id": "treasury.allocation", "amount_credits": "100"},
	} {
		res, data = doJSON(t, client, http.MethodPost, epochPath+"/pool", c, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("pool component status %d: %s", res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, epochPath+"/close", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("close status %d: %s", res.StatusCode, string(data))
	}
	var st StatementResponse
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unmarshal statement: %v", err)
	}
	if st.PoolTotalCredits != "1000" {
		t.Errorf("pool total = %s", st.PoolTotalCredits)
	}
	if len(st.Payouts) != 2 || st.Payouts[0].AmountCredits != "700" || st.Payouts[1].AmountCredits != "300" {
		t.Errorf("payouts = %+v", st.Payouts)
	}

	// closing again must conflict with the closed-epoch code
	res, data = doJSON(t, client, http.MethodPost, epochPath+"/close", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second close status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "epoch_already_closed" {
		t.Errorf("error code = %s", envelope.Error.Code)
	}
}

func TestMissingPoolComponentOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/scopes/cogni/epochs", map[string]any{
		"period_start": "2024-01-01T00:00:00Z",
		"period_end":   "2024-02-01T00:00:00Z",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("open epoch status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/epochs/1/close", nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("close status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "pool_component_missing" {
		t.Errorf("error code = %s", envelope.Error.Code)
	}
}

func TestUnauthorizedWithoutCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/scopes", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}
}

func TestSignatureFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/scopes/cogni/epochs", map[string]any{
		"period_start": "2024-01-01T00:00:00Z",
		"period_end":   "2024-02-01T00:00:00Z",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("open epoch status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/epochs/1/receipts", map[string]any{
		"user_id": "alice", "work_item_id": "w1", "role": "author", "units": "42",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var receipt ReceiptResponse
	if err := json.Unmarshal(data, &receipt); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/receipts/"+receipt.ID+"/message", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("message status %d: %s", res.StatusCode, string(data))
	}
	var msg ReceiptMessageResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.MessageHash == "" || msg.Message == "" {
		t.Fatalf("message = %+v", msg)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/receipts/"+receipt.ID+"/signatures", map[string]any{
		"signer_address": "0xabc",
		"signature":      "0xdeadbeef",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("signature status %d: %s", res.StatusCode, string(data))
	}
	var sig SignatureResponse
	if err := json.Unmarshal(data, &sig); err != nil {
		t.Fatal(err)
	}
	if sig.MessageHash != msg.MessageHash {
		t.Errorf("hash mismatch: %s vs %s", sig.MessageHash, msg.MessageHash)
	}
}
