package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/fastybird/fb-bus-connector/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

type pointView struct {
	Name   string
	Tags   map[string]string
	Fields map[string]any
	Time   time.Time
}

func view(p *write.Point) pointView {
	v := pointView{
		Name:   p.Name(),
		Tags:   map[string]string{},
		Fields: map[string]any{},
		Time:   p.Time(),
	}
	for _, tag := range p.TagList() {
		v.Tags[tag.Key] = tag.Value
	}
	for _, field := range p.FieldList() {
		v.Fields[field.Key] = field.Value
	}
	return v
}

var sampleTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	c := newClient(w)
	c.now = func() time.Time { return sampleTime }
	return c, w
}

func TestWriteRegisterValue(t *testing.T) {
	tests := []struct {
		name       string
		value      any
		wantFields map[string]any
	}{
		{"float", float32(21.5), map[string]any{"address": int64(2), "value": 21.5}},
		{"integer", uint16(1200), map[string]any{"address": int64(2), "value": float64(1200)}},
		{"negative", int8(-4), map[string]any{"address": int64(2), "value": float64(-4)}},
		{"boolean", true, map[string]any{"address": int64(2), "state": true}},
		{"text", "10:15:00", map[string]any{"address": int64(2), "text": "10:15:00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestClient()
			c.WriteRegisterValue(RegisterValue{
				DeviceID:     "dev-1",
				RegisterID:   "reg-1",
				RegisterType: "input",
				Address:      2,
				DataType:     "float",
				Value:        tt.value,
			})

			if len(w.points) != 1 {
				t.Fatalf("wrote %d points, want 1", len(w.points))
			}
			want := pointView{
				Name: MeasurementRegisterValues,
				Tags: map[string]string{
					"device_id":     "dev-1",
					"register_id":   "reg-1",
					"register_type": "input",
					"data_type":     "float",
				},
				Fields: tt.wantFields,
				Time:   sampleTime,
			}
			if diff := cmp.Diff(want, view(w.points[0])); diff != "" {
				t.Errorf("point mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteRegisterValue_Skipped(t *testing.T) {
	c, w := newTestClient()
	c.WriteRegisterValue(RegisterValue{DeviceID: "dev-1", Value: nil})
	c.WriteRegisterValue(RegisterValue{DeviceID: "dev-1", Value: []byte{1}})

	if len(w.points) != 0 {
		t.Errorf("wrote %d points, want 0", len(w.points))
	}
}

func TestWriteDeviceState(t *testing.T) {
	c, w := newTestClient()
	c.WriteDeviceState("dev-1", "lost")

	want := []pointView{{
		Name:   MeasurementDeviceStates,
		Tags:   map[string]string{"device_id": "dev-1"},
		Fields: map[string]any{"state": "lost"},
		Time:   sampleTime,
	}}
	got := make([]pointView, 0, len(w.points))
	for _, p := range w.points {
		got = append(got, view(p))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestClose(t *testing.T) {
	c, w := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	c.WriteDeviceState("dev-1", "running")
	c.Flush()
	if len(w.points) != 0 || w.flushes != 1 {
		t.Errorf("writes after Close: points=%d flushes=%d", len(w.points), w.flushes)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close() on nil client error: %v", err)
	}
}

func TestClientOptions(t *testing.T) {
	o := clientOptions(config.InfluxDBConfig{BatchSize: -1, FlushInterval: 0},
		[]Option{WithDefaultTag("connector_id", "c-1")})

	if o.BatchSize() != defaultBatchSize {
		t.Errorf("BatchSize() = %d, want %d", o.BatchSize(), defaultBatchSize)
	}
	if o.FlushInterval() != uint(defaultFlushInterval.Milliseconds()) {
		t.Errorf("FlushInterval() = %d ms", o.FlushInterval())
	}
	if o.Precision() != time.Millisecond {
		t.Errorf("Precision() = %v", o.Precision())
	}
	if got := o.WriteOptions().DefaultTags()["connector_id"]; got != "c-1" {
		t.Errorf("default tag = %q, want c-1", got)
	}

	o = clientOptions(config.InfluxDBConfig{BatchSize: 5, FlushInterval: 2}, nil)
	if o.BatchSize() != 5 || o.FlushInterval() != 2000 {
		t.Errorf("BatchSize/FlushInterval = %d/%d", o.BatchSize(), o.FlushInterval())
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:59999"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// fakeServer answers pings and records line protocol bodies.
type fakeServer struct {
	mu     sync.Mutex
	writes []string
	query  string
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/write"):
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.writes = append(s.writes, string(body))
		s.query = r.URL.RawQuery
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func TestConnect_WritesBatches(t *testing.T) {
	fs := &fakeServer{}
	ts := httptest.NewServer(fs)
	defer ts.Close()

	c, err := Connect(config.InfluxDBConfig{
		Enabled:       true,
		URL:           ts.URL,
		Token:         "token",
		Org:           "fastybird",
		Bucket:        "fbbus",
		BatchSize:     10,
		FlushInterval: 60,
	}, WithDefaultTag("connector_id", "c-1"))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Close()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	c.WriteDeviceState("dev-1", "running")
	c.WriteRegisterValue(RegisterValue{DeviceID: "dev-1", RegisterID: "reg-1", RegisterType: "output", DataType: "boolean", Value: true})
	c.Flush()

	// The batch is sent from the write goroutine.
	var body, query string
	deadline := time.Now().Add(5 * time.Second)
	for {
		fs.mu.Lock()
		body, query = strings.Join(fs.writes, ""), fs.query
		fs.mu.Unlock()
		if strings.Contains(body, "register_values") || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, want := range []string{
		"device_states,",
		"register_values,",
		"connector_id=c-1",
		`state="running"`,
		"state=true",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("written body %q does not contain %q", body, want)
		}
	}
	if !strings.Contains(query, "bucket=fbbus") || !strings.Contains(query, "org=fastybird") {
		t.Errorf("write query = %q", query)
	}
}
