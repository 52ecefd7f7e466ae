package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/psaab/routershell/pkg/delta"
	"github.com/psaab/routershell/pkg/executor"
)

type fakeStats executor.Stats

func (f fakeStats) Stats() executor.Stats { return executor.Stats(f) }

type fakeCounts struct {
	counts map[string]int
	err    error
}

func (f fakeCounts) Counts(context.Context) (map[string]int, error) { return f.counts, f.err }

func scrape(t *testing.T, s *Server) string {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	return string(body)
}

func TestMetrics(t *testing.T) {
	s := NewServer(Config{
		Executor: fakeStats{
			Deltas:         4,
			Failures:       1,
			RolledBack:     1,
			RollbackFailed: 0,
			ByKind:         map[delta.Kind]uint64{delta.CreateBridge: 2, delta.AddAddress: 3},
		},
		Store: fakeCounts{counts: map[string]int{"bridges": 2, "interfaces": 5}},
	})
	body := scrape(t, s)
	for _, want := range []string{
		"routershell_executor_deltas_total 4",
		"routershell_executor_failures_total 1",
		`routershell_executor_operations_total{kind="create-bridge"} 2`,
		`routershell_executor_operations_total{kind="add-address"} 3`,
		`routershell_executor_operations_total{kind="remove-route"} 0`,
		`routershell_executor_rollbacks_total{outcome="rolled_back"} 1`,
		`routershell_executor_rollbacks_total{outcome="rollback_failed"} 0`,
		`routershell_store_rows{table="interfaces"} 5`,
		"routershell_store_up 1",
		"routershell_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestMetricsStoreFailure(t *testing.T) {
	s := NewServer(Config{Store: fakeCounts{err: errors.New("database is locked")}})
	body := scrape(t, s)
	if !strings.Contains(body, "routershell_store_up 0") {
		t.Error("store_up not 0 after failed read")
	}
	if strings.Contains(body, "routershell_store_rows") {
		t.Error("row gauges exported after failed read")
	}
	if strings.Contains(body, "routershell_executor_deltas_total") {
		t.Error("executor metrics exported without an executor")
	}
}

func TestHealthHandler(t *testing.T) {
	s := NewServer(Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	get := func() int {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := get(); code != http.StatusServiceUnavailable {
		t.Errorf("before serving: %d", code)
	}
	s.SetServing(true)
	if code := get(); code != http.StatusOK {
		t.Errorf("after serving: %d", code)
	}
}

func TestGRPCHealth(t *testing.T) {
	s := NewServer(Config{})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.Health())
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatal(err)
		}
		return resp.GetStatus()
	}
	if st := check(ServiceName); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("initial status %v", st)
	}
	s.SetServing(true)
	for _, svc := range []string{"", ServiceName} {
		if st := check(svc); st != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("service %q: %v", svc, st)
		}
	}
}

func TestRunDisabled(t *testing.T) {
	s := NewServer(Config{})
	if s.Enabled() {
		t.Fatal("enabled without addresses")
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
