package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"candleflow/internal/model"
	"candleflow/internal/series"
)

func storeWith(records ...model.Merged) *series.Store {
	st := series.NewStore(100)
	for _, r := range records {
		st.Upsert(r)
	}
	return st
}

func snapshotRec(market, tf string, open int64) model.Merged {
	return model.Merged{
		Candle: model.Candle{
			Market:    market,
			TF:        tf,
			OpenTime:  open,
			CloseTime: open + 60_000,
			Close:     100,
			Closed:    true,
		},
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	st := storeWith(
		snapshotRec("BTC-USD", "1m", 0),
		snapshotRec("BTC-USD", "1m", 60_000),
		snapshotRec("BTC-USD", "1m", 120_000),
	)
	r := NewRouter(Deps{Snapshots: st})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshot?market=BTC-USD&tf=1m", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Count   int            `json:"count"`
		Records []model.Merged `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 3 || len(resp.Records) != 3 {
		t.Errorf("count = %d, records = %d, want 3", resp.Count, len(resp.Records))
	}
	if resp.Records[0].OpenTime != 0 || resp.Records[2].OpenTime != 120_000 {
		t.Error("records not in ascending order")
	}
}

func TestSnapshotValidation(t *testing.T) {
	r := NewRouter(Deps{Snapshots: storeWith()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot?tf=1m", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing market: status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot?market=BTC-USD&tf=7m", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown tf: status = %d, want 400", w.Code)
	}
}

func TestRecentEndpoint(t *testing.T) {
	lc := NewLiveCache(10)
	for i := 0; i < 5; i++ {
		lc.put(snapshotRec("BTC-USD", "1m", int64(i)*60_000))
	}
	r := NewRouter(Deps{Snapshots: storeWith(), Live: lc})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/recent?market=BTC-USD&tf=1m&limit=3", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Count   int            `json:"count"`
		Records []model.Merged `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("count = %d, want limit 3", resp.Count)
	}
	if len(resp.Records) == 3 && resp.Records[2].OpenTime != 4*60_000 {
		t.Error("recent should keep the newest records")
	}
}

func TestHealthz(t *testing.T) {
	healthy := true
	r := NewRouter(Deps{Snapshots: storeWith(), Healthy: func() bool { return healthy }})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthy: status = %d, want 200", w.Code)
	}

	healthy = false
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded: status = %d, want 503", w.Code)
	}
}
