package server_test

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"StableVault/internal/core"
	fpmath "StableVault/internal/math"
	"StableVault/internal/observability"
	"StableVault/internal/pricing"
	"StableVault/internal/server"
	"StableVault/internal/state"
	"StableVault/internal/token"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type apiHarness struct {
	srv    *httptest.Server
	weth   *token.Bank
	stable *token.StableBank
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	cfg, err := state.NewCollateralConfig([]string{"WETH"}, []string{"ETH/USD"})
	if err != nil {
		t.Fatalf("collateral config: %v", err)
	}

	feeds := pricing.NewFeedCache(zerolog.Nop())
	feeds.Update("ETH/USD", new(big.Int).Mul(big.NewInt(2000), big.NewInt(100_000_000)), 1, time.Now())

	stable := token.NewStableBank("SVD")
	weth := token.NewBank("WETH")
	valuer := pricing.NewValuer(feeds, cfg, pricing.DefaultFeedDecimals, pricing.DefaultMaxQuoteAge)

	engine, err := core.NewEngine(core.EngineParams{
		LiabilitySymbol:  "SVD",
		Collateral:       cfg,
		Stable:           stable,
		CollateralTokens: map[string]token.Asset{"WETH": weth},
		Feeds:            feeds,
		Valuer:           valuer,
		CustodyID:        uuid.New(),
		PersistChan:      make(chan core.EngineOutput, 1024),
		ProjectionChan:   make(chan core.EngineOutput, 1024),
		Logger:           zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	health := observability.NewHealthChecker()
	health.SetReady(true)

	s := server.NewServer(engine, nil, valuer, health, nil, zerolog.Nop())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &apiHarness{srv: srv, weth: weth, stable: stable}
}

func (h *apiHarness) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(h.srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

// ============================================================================
// Test: operation endpoints
// ============================================================================

func TestAPI_DepositAndMint(t *testing.T) {
	h := newAPIHarness(t)
	user := uuid.New()
	h.weth.Credit(user, fpmath.Wad(10))

	resp, body := h.post(t, "/v1/positions/open", map[string]string{
		"request_id":     "open-1",
		"user_id":        user.String(),
		"asset":          "WETH",
		"deposit_amount": fpmath.Wad(10).Text(10),
		"mint_amount":    fpmath.Wad(5000).Text(10),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", resp.StatusCode, body)
	}
	if body["status"] != "applied" {
		t.Errorf("status field = %v, want applied", body["status"])
	}
	if got := h.stable.BalanceOf(user); got.Cmp(fpmath.Wad(5000)) != 0 {
		t.Errorf("minted = %s, want %s", got, fpmath.Wad(5000))
	}
}

func TestAPI_DuplicateRequestConflicts(t *testing.T) {
	h := newAPIHarness(t)
	user := uuid.New()
	h.weth.Credit(user, fpmath.Wad(20))

	req := map[string]string{
		"request_id": "dep-1",
		"user_id":    user.String(),
		"asset":      "WETH",
		"amount":     fpmath.Wad(10).Text(10),
	}

	if resp, _ := h.post(t, "/v1/collateral/deposit", req); resp.StatusCode != http.StatusOK {
		t.Fatalf("first deposit status = %d, want 200", resp.StatusCode)
	}
	resp, body := h.post(t, "/v1/collateral/deposit", req)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409 (body %v)", resp.StatusCode, body)
	}
}

func TestAPI_MintPastThresholdUnprocessable(t *testing.T) {
	h := newAPIHarness(t)
	user := uuid.New()
	h.weth.Credit(user, fpmath.Wad(10))

	h.post(t, "/v1/collateral/deposit", map[string]string{
		"request_id": "dep-1",
		"user_id":    user.String(),
		"asset":      "WETH",
		"amount":     fpmath.Wad(10).Text(10),
	})

	// 10 WETH at $2000 caps debt at 10000 SVD
	resp, body := h.post(t, "/v1/debt/mint", map[string]string{
		"request_id": "mint-1",
		"user_id":    user.String(),
		"amount":     fpmath.Wad(10_001).Text(10),
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422 (body %v)", resp.StatusCode, body)
	}
}

func TestAPI_BadInputRejected(t *testing.T) {
	h := newAPIHarness(t)
	user := uuid.New()

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{
			name: "bad user id",
			body: map[string]string{"request_id": "r1", "user_id": "not-a-uuid", "asset": "WETH", "amount": "1"},
			want: http.StatusBadRequest,
		},
		{
			name: "bad amount",
			body: map[string]string{"request_id": "r2", "user_id": user.String(), "asset": "WETH", "amount": "1.5"},
			want: http.StatusBadRequest,
		},
		{
			name: "unsupported asset",
			body: map[string]string{"request_id": "r3", "user_id": user.String(), "asset": "DOGE", "amount": "1"},
			want: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := h.post(t, "/v1/collateral/deposit", tc.body)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d (body %v)", resp.StatusCode, tc.want, body)
			}
		})
	}
}

func TestAPI_IdempotencyKeyHeader(t *testing.T) {
	h := newAPIHarness(t)
	user := uuid.New()
	h.weth.Credit(user, fpmath.Wad(20))

	body, _ := json.Marshal(map[string]string{
		"user_id": user.String(),
		"asset":   "WETH",
		"amount":  fpmath.Wad(10).Text(10),
	})

	do := func() int {
		req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/v1/collateral/deposit", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "header-key-1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := do(); got != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", got)
	}
	if got := do(); got != http.StatusConflict {
		t.Errorf("replayed request status = %d, want 409", got)
	}
}

// ============================================================================
// Test: read endpoints
// ============================================================================

func TestAPI_PositionAndHealth(t *testing.T) {
	h := newAPIHarness(t)
	user := uuid.New()
	h.weth.Credit(user, fpmath.Wad(10))

	h.post(t, "/v1/positions/open", map[string]string{
		"request_id":     "open-1",
		"user_id":        user.String(),
		"asset":          "WETH",
		"deposit_amount": fpmath.Wad(10).Text(10),
		"mint_amount":    fpmath.Wad(5000).Text(10),
	})

	resp, err := http.Get(h.srv.URL + "/v1/users/" + user.String() + "/position")
	if err != nil {
		t.Fatalf("GET position: %v", err)
	}
	defer resp.Body.Close()

	var pos struct {
		Collateral map[string]string `json:"collateral"`
		Debt       string            `json:"debt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pos); err != nil {
		t.Fatalf("decode position: %v", err)
	}
	if got, want := pos.Collateral["WETH"], fpmath.Wad(10).Text(10); got != want {
		t.Errorf("collateral = %s, want %s", got, want)
	}
	if got, want := pos.Debt, fpmath.Wad(5000).Text(10); got != want {
		t.Errorf("debt = %s, want %s", got, want)
	}

	resp2, err := http.Get(h.srv.URL + "/v1/users/" + user.String() + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp2.Body.Close()

	var hf struct {
		HealthFactor string `json:"health_factor"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&hf); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	// $20000 collateral, 50% threshold, 5000 debt: factor = 2.0
	want := fpmath.Wad(2).Text(10)
	if hf.HealthFactor != want {
		t.Errorf("health factor = %s, want %s", hf.HealthFactor, want)
	}
}

func TestAPI_AssetValuation(t *testing.T) {
	h := newAPIHarness(t)

	// 10 WETH at $2000 is $20000
	resp, err := http.Get(h.srv.URL + "/v1/assets/WETH/value?amount=" + fpmath.Wad(10).Text(10))
	if err != nil {
		t.Fatalf("GET value: %v", err)
	}
	defer resp.Body.Close()

	var val struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&val); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if got, want := val.Value, fpmath.Wad(20_000).Text(10); got != want {
		t.Errorf("value = %s, want %s", got, want)
	}

	// And back: $20000 buys 10 WETH
	resp2, err := http.Get(h.srv.URL + "/v1/assets/WETH/quantity?value=" + fpmath.Wad(20_000).Text(10))
	if err != nil {
		t.Fatalf("GET quantity: %v", err)
	}
	defer resp2.Body.Close()

	var qty struct {
		Quantity string `json:"quantity"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&qty); err != nil {
		t.Fatalf("decode quantity: %v", err)
	}
	if got, want := qty.Quantity, fpmath.Wad(10).Text(10); got != want {
		t.Errorf("quantity = %s, want %s", got, want)
	}

	resp3, err := http.Get(h.srv.URL + "/v1/assets/DOGE/value?amount=1")
	if err != nil {
		t.Fatalf("GET unknown asset value: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown asset status = %d, want 400", resp3.StatusCode)
	}
}

func TestAPI_Readiness(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d, want 200", resp.StatusCode)
	}
}
