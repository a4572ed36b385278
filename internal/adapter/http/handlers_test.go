package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	qfhttp "github.com/Strob0t/QueryForge/internal/adapter/http"
	"github.com/Strob0t/QueryForge/internal/adapter/memexchange"
	"github.com/Strob0t/QueryForge/internal/adapter/valuesexec"
	"github.com/Strob0t/QueryForge/internal/config"
	"github.com/Strob0t/QueryForge/internal/domain/fragment"
	"github.com/Strob0t/QueryForge/internal/mpp"
	"github.com/Strob0t/QueryForge/internal/port/exchange"
	"github.com/Strob0t/QueryForge/internal/port/taskstore"
)

type fixture struct {
	server  *httptest.Server
	bus     *memexchange.Bus
	manager *mpp.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.Default()
	bus := memexchange.New(log)
	t.Cleanup(func() { _ = bus.Close() })

	mon := config.Monitor{WaitingTimeout: time.Minute, RunningTimeout: 10 * time.Minute}
	manager := mpp.NewManager(mon, nil, log)
	t.Cleanup(manager.Close)

	deps := mpp.TaskDeps{
		Manager: manager,
		Bus:     bus,
		Builder: valuesexec.NewBuilder(log),
		Store:   taskstore.Nop{},
		Monitor: mon,
		Log:     log,
	}
	h := qfhttp.NewHandlers(mpp.NewDispatchHandler(deps), manager, log)

	r := chi.NewRouter()
	qfhttp.MountRoutes(r, h)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &fixture{server: server, bus: bus, manager: manager}
}

func dispatchBody(t *testing.T, meta fragment.TaskMeta, downstream fragment.TaskMeta, rows [][]string) []byte {
	t.Helper()
	plan, err := json.Marshal(fragment.Fragment{
		Sender: fragment.ExchangeSender{Type: fragment.ExchangePassthrough},
		Values: &fragment.Values{Columns: []string{"a"}, Rows: rows},
	})
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	downMeta, err := json.Marshal(downstream)
	if err != nil {
		t.Fatalf("marshal meta: %v", err)
	}
	body, err := json.Marshal(fragment.DispatchRequest{
		Meta:            meta,
		PlanFragment:    plan,
		SchemaVersion:   1,
		DownstreamMetas: [][]byte{downMeta},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return body
}

func postDispatch(t *testing.T, f *fixture, body []byte) fragment.DispatchResponse {
	t.Helper()
	resp, err := http.Post(f.server.URL+"/api/v1/mpp/dispatch", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post dispatch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out fragment.DispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestDispatchEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	meta := fragment.TaskMeta{StartTs: 11, TaskID: 1}
	down := fragment.TaskMeta{StartTs: 11, TaskID: 2}
	tunnelID := "11_1.11_2"

	var packets []exchange.DataPacket
	done := make(chan struct{})
	_, err := f.bus.Subscribe(ctx, exchange.DataSubject(tunnelID), func(ctx context.Context, subject string, data []byte) error {
		var pkt exchange.DataPacket
		if err := json.Unmarshal(data, &pkt); err != nil {
			return err
		}
		packets = append(packets, pkt)
		if pkt.Last {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// The dispatch call blocks until the task has run, and the task
	// blocks on the tunnel handshake. Announce the receiver from the
	// side, retrying until the tunnel has subscribed and accepted it.
	connect, _ := json.Marshal(exchange.ConnectPayload{TunnelID: tunnelID, ReceiverID: "coordinator"})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(2 * time.Millisecond):
				_ = f.bus.Publish(ctx, exchange.ConnectSubject(tunnelID), connect)
			}
		}
	}()

	out := postDispatch(t, f, dispatchBody(t, meta, down, [][]string{{"1"}, {"2"}}))
	if out.Error != nil {
		t.Fatalf("dispatch error: %+v", out.Error)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal packet not received")
	}

	last := packets[len(packets)-1]
	if last.Error != "" || last.Meta == nil || last.Meta.TotalRows != 2 {
		t.Fatalf("unexpected terminal packet: %+v", last)
	}
}

func TestDispatchReportsErrorInBody(t *testing.T) {
	f := newFixture(t)

	body := dispatchBody(t, fragment.TaskMeta{StartTs: 0, TaskID: 1}, fragment.TaskMeta{StartTs: 1, TaskID: 2}, [][]string{{"1"}})
	out := postDispatch(t, f, body)
	if out.Error == nil {
		t.Fatal("expected dispatch error in response body")
	}
}

func TestDispatchRejectsInvalidJSON(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/api/v1/mpp/dispatch", "application/json", bytes.NewReader([]byte("{broken")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCancelQueryEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/api/v1/mpp/queries/99/cancel", "application/json",
		bytes.NewReader([]byte(`{"reason":"client abort"}`)))
	if err != nil {
		t.Fatalf("post cancel: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Cancelled int `json:"cancelled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Cancelled != 0 {
		t.Fatalf("expected 0 cancelled for unknown query, got %d", out.Cancelled)
	}
}

func TestCancelQueryRejectsBadStartTs(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/api/v1/mpp/queries/nope/cancel", "application/json", http.NoBody)
	if err != nil {
		t.Fatalf("post cancel: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListTasksAndHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/api/v1/mpp/tasks")
	if err != nil {
		t.Fatalf("get tasks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var tasks []mpp.TaskInfo
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty registry, got %d", len(tasks))
	}

	hresp, err := http.Get(f.server.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer hresp.Body.Close()
	if hresp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", hresp.StatusCode)
	}
}
