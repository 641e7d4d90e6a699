package mirror

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestAdminEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	status := func() RunStatus {
		return RunStatus{
			RunID:    "run-1",
			Phase:    PhaseScanning,
			Started:  time.Now().UTC(),
			Outcomes: map[Outcome]int64{OutcomeUploaded: 3},
		}
	}

	admin := newAdminServer("127.0.0.1:0", status, reg, testLogger())
	server := httptest.NewServer(admin.server.Handler)
	defer server.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(server.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET /api/v1/status: %v", err)
	}
	defer resp.Body.Close()

	var got RunStatus
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.RunID != "run-1" || got.Phase != PhaseScanning {
		t.Fatalf("status = %+v", got)
	}
	if got.Outcomes[OutcomeUploaded] != 3 {
		t.Fatalf("outcomes = %v, want uploaded 3", got.Outcomes)
	}
}
