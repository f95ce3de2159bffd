package status

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bfourk/SerialPrint/pkg/metrics"
	"github.com/bfourk/SerialPrint/pkg/printer"
	"github.com/bfourk/SerialPrint/pkg/protocol"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	reg := metrics.NewRegistry()
	s := New(Config{
		Registry: reg,
		Metrics:  metrics.NewPrintMetrics(reg),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func sampleSnapshot(inst string) printer.Snapshot {
	return printer.Snapshot{
		Temps: protocol.TempReport{
			Extruder: "60.2", ExtruderTarget: "210.0",
			Bed: "40.1", BedTarget: "60.0",
		},
		Status: protocol.StatusPrinting,
		Job: printer.Progress{
			ID:          "job-1",
			File:        "bench.gcode",
			Index:       3,
			Total:       10,
			Instruction: inst,
			Elapsed:     5 * time.Second,
			Sent:        3,
			Acked:       2,
		},
	}
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, ts := newTestServer(t)
	s.Publish(sampleSnapshot("G1 X10"))

	var body struct {
		Result printer.Snapshot `json:"result"`
	}
	getJSON(t, ts.URL+"/printer/status", &body)

	if body.Result.Status != protocol.StatusPrinting {
		t.Errorf("status = %q", body.Result.Status)
	}
	if body.Result.Temps.Extruder != "60.2" {
		t.Errorf("extruder = %q", body.Result.Temps.Extruder)
	}
	if body.Result.Job.Instruction != "G1 X10" || body.Result.Job.Index != 3 {
		t.Errorf("job = %+v", body.Result.Job)
	}
}

func TestJobEndpoint(t *testing.T) {
	s, ts := newTestServer(t)
	s.Publish(sampleSnapshot("G28"))

	var body struct {
		Result printer.Progress `json:"result"`
	}
	getJSON(t, ts.URL+"/printer/job", &body)

	if body.Result.File != "bench.gcode" || body.Result.Total != 10 {
		t.Errorf("job = %+v", body.Result)
	}
	if body.Result.Elapsed != 5*time.Second {
		t.Errorf("elapsed = %v", body.Result.Elapsed)
	}
}

func TestStatusBeforeFirstPublish(t *testing.T) {
	_, ts := newTestServer(t)

	var body struct {
		Result printer.Snapshot `json:"result"`
	}
	getJSON(t, ts.URL+"/printer/status", &body)

	if body.Result.Job.Sent != 0 || body.Result.Status != "" {
		t.Errorf("expected zero snapshot, got %+v", body.Result)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, ts := newTestServer(t)
	s.Publish(sampleSnapshot("G28"))

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	var sb strings.Builder
	if _, err := io.Copy(&sb, resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(sb.String(), "serialprint_http_request_duration_seconds") {
		t.Errorf("metrics body missing request histogram:\n%s", sb.String())
	}
}

func TestMetricsAbsentWithoutRegistry(t *testing.T) {
	s := New(Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/printer/status", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	s, ts := newTestServer(t)
	s.RecordJob(JobRecord{ID: "a", File: "first.gcode", Status: JobCompleted, Duration: 90, Instructions: 100})
	s.RecordJob(JobRecord{ID: "b", File: "second.gcode", Status: JobFailed, Error: "wire broke", Duration: 30.5, Instructions: 40})

	var list struct {
		Result struct {
			Count int         `json:"count"`
			Jobs  []JobRecord `json:"jobs"`
		} `json:"result"`
	}
	getJSON(t, ts.URL+"/server/history/list", &list)

	if list.Result.Count != 2 {
		t.Fatalf("count = %d", list.Result.Count)
	}
	if list.Result.Jobs[0].ID != "b" {
		t.Errorf("most recent job = %q, want b", list.Result.Jobs[0].ID)
	}
	if list.Result.Jobs[1].Status != JobCompleted {
		t.Errorf("older job status = %q", list.Result.Jobs[1].Status)
	}

	var totals struct {
		Result Totals `json:"result"`
	}
	getJSON(t, ts.URL+"/server/history/totals", &totals)

	if totals.Result.TotalJobs != 2 || totals.Result.CompletedJobs != 1 {
		t.Errorf("totals = %+v", totals.Result)
	}
	if totals.Result.TotalTime != 120.5 || totals.Result.LongestJob != 90 {
		t.Errorf("totals = %+v", totals.Result)
	}
}

func TestWebsocketFeed(t *testing.T) {
	s, ts := newTestServer(t)
	s.Publish(sampleSnapshot("G28"))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// The current snapshot arrives on connect.
	var note notification
	if err := conn.ReadJSON(&note); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if note.Method != "status_update" || note.Params.Job.Instruction != "G28" {
		t.Errorf("initial notification = %+v", note)
	}

	// Live publishes follow.
	s.Publish(sampleSnapshot("G1 X10"))
	if err := conn.ReadJSON(&note); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if note.Params.Job.Instruction != "G1 X10" {
		t.Errorf("update notification = %+v", note)
	}
}
