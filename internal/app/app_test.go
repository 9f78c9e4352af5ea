package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"sumoredrive/internal/config"
	"sumoredrive/internal/publish"
	"sumoredrive/internal/sumo"
	"sumoredrive/internal/timerange"
)

// fakeSearcher 按 订单号|窗口起始日 返回预置记录。
type fakeSearcher struct {
	mu         sync.Mutex
	calls      int
	records    map[string]json.RawMessage
	authFailOn string
	delay      time.Duration
}

func (f *fakeSearcher) FetchFirstRecord(ctx context.Context, orderID string, window timerange.Window) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.authFailOn != "" && orderID == f.authFailOn {
		return nil, fmt.Errorf("创建搜索任务失败: %w", sumo.ErrAuth)
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	key := orderID + "|" + window.From.UTC().Format(timerange.DayLayout)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[key], nil
}

type fakePublisher struct {
	mu        sync.Mutex
	calls     int
	failOn    int
	published []string
	failed    []string
}

func (f *fakePublisher) Publish(ctx context.Context, orderID string, record json.RawMessage) publish.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.failOn != 0 && f.calls == f.failOn {
		f.failed = append(f.failed, orderID)
		return publish.Outcome{OrderID: orderID, Err: errors.New("queue unavailable")}
	}
	f.published = append(f.published, orderID)
	return publish.Outcome{OrderID: orderID, Published: true}
}

func testConfig() *config.Config {
	return &config.Config{
		Sumo: config.SumoConfig{
			AccessID:     "id",
			AccessKey:    "key",
			APIURL:       "https://api.example.com",
			PollInterval: time.Millisecond,
			JobTimeout:   time.Second,
			Retry:        config.RetryConfig{MaxAttempts: 1, MinDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
		Query: config.QueryConfig{From: "-7d", To: "now", Timezone: "UTC"},
		Batch: config.BatchConfig{Workers: 2},
		Logging: config.LoggingConfig{
			Level: "info", Encoding: "console",
			OutputPaths: []string{"stderr"}, ErrorOutputPaths: []string{"stderr"},
		},
	}
}

func newTestApp(searcher *fakeSearcher, publisher *fakePublisher) (*App, *bytes.Buffer) {
	a := New(testConfig(), zap.NewNop(), nil)
	buf := &bytes.Buffer{}
	a.stdout = buf
	a.searcher = searcher
	if publisher != nil {
		a.publisher = publisher
	}
	return a, buf
}

func writeOrdersCSV(t *testing.T, rows [][2]string) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("orderID,date\n")
	for _, row := range rows {
		sb.WriteString(row[0] + "," + row[1] + "\n")
	}
	path := filepath.Join(t.TempDir(), "orders.csv")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestRunSingle_FoundOnRequestedDay(t *testing.T) {
	searcher := &fakeSearcher{records: map[string]json.RawMessage{
		"ee4938b3|2026-01-20": json.RawMessage(`{"orderId":"ee4938b3","amount":1250}`),
	}}
	a, out := newTestApp(searcher, nil)

	err := a.Run(context.Background(), Options{Input: "ee4938b3", Day: "2026-01-20"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("stdout is not a JSON document: %v\n%s", err, out.String())
	}
	if doc["orderId"] != "ee4938b3" {
		t.Errorf("unexpected output: %s", out.String())
	}
	if searcher.calls != 1 {
		t.Errorf("expected single attempt, got %d", searcher.calls)
	}
}

func TestRunSingle_FoundOnNextDay(t *testing.T) {
	searcher := &fakeSearcher{records: map[string]json.RawMessage{
		"ee4938b3|2026-01-21": json.RawMessage(`{"orderId":"ee4938b3","day":"2026-01-21"}`),
	}}
	a, out := newTestApp(searcher, nil)

	err := a.Run(context.Background(), Options{Input: "ee4938b3", Day: "2026-01-20"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !strings.Contains(out.String(), "2026-01-21") {
		t.Errorf("expected next-day record in output, got: %s", out.String())
	}
	if searcher.calls != 2 {
		t.Errorf("expected exactly two attempts, got %d", searcher.calls)
	}
}

func TestRunSingle_NotFoundOnBothDays(t *testing.T) {
	searcher := &fakeSearcher{records: map[string]json.RawMessage{}}
	a, out := newTestApp(searcher, nil)

	err := a.Run(context.Background(), Options{Input: "ee4938b3", Day: "2026-01-20"})
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("nothing should be printed for a not-found order, got: %s", out.String())
	}
	if searcher.calls != 2 {
		t.Errorf("expected exactly two attempts, got %d", searcher.calls)
	}
}

func TestRunBatch_FatalAuthErrorHaltsRun(t *testing.T) {
	rows := [][2]string{
		{"ord-1", "2026-01-20"},
		{"ord-2", "2026-01-20"},
		{"ord-3", "2026-01-20"},
		{"ord-4", "2026-01-20"},
		{"ord-5", "2026-01-20"},
	}
	path := writeOrdersCSV(t, rows)

	searcher := &fakeSearcher{
		records:    map[string]json.RawMessage{},
		authFailOn: "ord-3",
		delay:      5 * time.Millisecond,
	}
	a, out := newTestApp(searcher, nil)

	err := a.Run(context.Background(), Options{Input: path, Workers: 2})
	if !errors.Is(err, sumo.ErrAuth) {
		t.Fatalf("expected fatal auth error, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("fatal run must not print partial output, got: %s", out.String())
	}
}

func TestRunBatch_OrderedOutputAndPublishFailureIsolation(t *testing.T) {
	rows := [][2]string{
		{"ord-1", "2026-01-20"},
		{"ord-2", "2026-01-20"},
		{"ord-3", "2026-01-21"},
	}
	path := writeOrdersCSV(t, rows)

	searcher := &fakeSearcher{records: map[string]json.RawMessage{
		"ord-1|2026-01-20": json.RawMessage(`{"orderId":"ord-1"}`),
		"ord-2|2026-01-20": json.RawMessage(`{"orderId":"ord-2"}`),
		"ord-3|2026-01-21": json.RawMessage(`{"orderId":"ord-3"}`),
	}}
	publisher := &fakePublisher{failOn: 3}
	a, out := newTestApp(searcher, publisher)

	err := a.Run(context.Background(), Options{
		Input:    path,
		Workers:  2,
		QueueURL: "https://sqs.example.com/q",
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// 输出按输入顺序排列。
	output := out.String()
	idx1 := strings.Index(output, "ord-1")
	idx2 := strings.Index(output, "ord-2")
	idx3 := strings.Index(output, "ord-3")
	if idx1 < 0 || idx2 < 0 || idx3 < 0 || !(idx1 < idx2 && idx2 < idx3) {
		t.Errorf("expected ordered output, got:\n%s", output)
	}

	if len(publisher.published) != 2 {
		t.Errorf("expected 2 successful publishes, got %v", publisher.published)
	}
	if len(publisher.failed) != 1 || publisher.failed[0] != "ord-3" {
		t.Errorf("expected ord-3 publish failure, got %v", publisher.failed)
	}
}

func TestRunBatch_NotFoundRowsDoNotStopOthers(t *testing.T) {
	rows := [][2]string{
		{"ord-1", "2026-01-20"},
		{"ord-2", "2026-01-20"},
	}
	path := writeOrdersCSV(t, rows)

	searcher := &fakeSearcher{records: map[string]json.RawMessage{
		"ord-2|2026-01-20": json.RawMessage(`{"orderId":"ord-2"}`),
	}}
	a, out := newTestApp(searcher, nil)

	err := a.Run(context.Background(), Options{Input: path, Workers: 2})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if strings.Contains(out.String(), "ord-1") || !strings.Contains(out.String(), "ord-2") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestRun_DebugDoesNotExecute(t *testing.T) {
	searcher := &fakeSearcher{records: map[string]json.RawMessage{}}
	a, out := newTestApp(searcher, nil)

	err := a.Run(context.Background(), Options{Input: "ord-1", Day: "2026-01-20", Debug: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if searcher.calls != 0 {
		t.Errorf("debug mode must not execute queries, got %d calls", searcher.calls)
	}
	if out.Len() != 0 {
		t.Errorf("debug mode must not print records, got: %s", out.String())
	}
}
