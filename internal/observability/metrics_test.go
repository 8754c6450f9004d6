package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return collector, reg
}

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	collector, reg := newCollector(t)

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/geomag.v1.FieldService/Synthesize"}

	_, err := interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(2 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("FieldService", "Synthesize", "OK")); got != 1 {
		t.Fatalf("geomag_rpc_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "geomag_rpc_duration_seconds", map[string]string{
		"service": "FieldService",
		"method":  "Synthesize",
	}); count != 1 {
		t.Fatalf("geomag_rpc_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	collector, _ := newCollector(t)

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/geomag.v1.FieldService/FindApex"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.FailedPrecondition, "did not converge")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("FieldService", "FindApex", "FailedPrecondition")); got != 1 {
		t.Fatalf("geomag_rpc_requests_total error label = %v, want 1", got)
	}
}

func TestComputeObservations(t *testing.T) {
	collector, reg := newCollector(t)

	collector.ObserveSynthesis("field", "ok")
	collector.ObserveSynthesis("field", "ok")
	collector.ObserveSynthesis("secular-variation", "out_of_range")
	collector.ObserveTrace("converged", 39)
	collector.ObserveTrace("not_converged", 100)
	collector.ObserveTrace("error", 0)

	if got := testutil.ToFloat64(collector.Syntheses.WithLabelValues("field", "ok")); got != 2 {
		t.Fatalf("field/ok syntheses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Syntheses.WithLabelValues("secular-variation", "out_of_range")); got != 1 {
		t.Fatalf("sv/out_of_range syntheses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Traces.WithLabelValues("error")); got != 1 {
		t.Fatalf("error traces = %v, want 1", got)
	}
	// Traces that never stepped are not part of the step distribution.
	if count := histogramSampleCount(t, reg, "geomag_trace_steps", nil); count != 2 {
		t.Fatalf("geomag_trace_steps sample_count = %d, want 2", count)
	}

	var nilCollector *Collector
	nilCollector.ObserveSynthesis("field", "ok")
	nilCollector.ObserveTrace("converged", 1)
	nilCollector.SetModel(1900, 2015, 1)
}

func TestSetModelReplacesFingerprint(t *testing.T) {
	collector, _ := newCollector(t)
	collector.SetModel(1900, 2015, 0xabc)
	collector.SetModel(1900, 2015, 0xdef)

	if got := testutil.CollectAndCount(collector.ModelInfo); got != 1 {
		t.Fatalf("geomag_model_info series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ModelInfo.WithLabelValues("0000000000000def")); got != 1 {
		t.Fatalf("fingerprint gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ModelLastEpoch); got != 2015 {
		t.Fatalf("last epoch gauge = %v, want 2015", got)
	}
}

func TestNewCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	second.ObserveSynthesis("field", "ok")
	if got := testutil.ToFloat64(first.Syntheses.WithLabelValues("field", "ok")); got != 1 {
		t.Fatalf("collectors do not share series: %v", got)
	}
}

func TestMetricsHandlerExposesMetrics(t *testing.T) {
	collector, _ := newCollector(t)
	collector.SetModel(1900, 2015, 42)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)
	collector.ObserveSynthesis("field", "ok")
	collector.ObserveTrace("converged", 12)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"geomag_rpc_requests_total",
		"geomag_rpc_duration_seconds",
		"geomag_syntheses_total",
		"geomag_traces_total",
		"geomag_trace_steps",
		"geomag_model_first_epoch 1900",
		"geomag_model_last_epoch 2015",
		`geomag_model_info{fingerprint="000000000000002a"} 1`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in, service, method string
	}{
		{"/geomag.v1.FieldService/Info", "FieldService", "Info"},
		{"FieldService/Info", "FieldService", "Info"},
		{"", "unknown", "unknown"},
		{"/justone", "unknown", "unknown"},
	}
	for _, tc := range cases {
		service, method := SplitMethod(tc.in)
		if service != tc.service || method != tc.method {
			t.Errorf("SplitMethod(%q) = (%q, %q), want (%q, %q)", tc.in, service, method, tc.service, tc.method)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
