package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// gatherOne は指定名のメトリクスファミリーを返す。
func gatherOne(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labeledValue はラベル値が一致するカウンタの値を返す。
func labeledValue(mf *dto.MetricFamily, label, value string) float64 {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if c := NewCollector(prometheus.NewRegistry()); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordTokenIssued_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokenIssued()
	c.RecordTokenIssued()

	mf := gatherOne(t, reg, "memberproof_tokens_issued_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("tokens_issued_total = %v, want 2", val)
	}
}

// TestRecordVerification_LabelsByState は検証結果が状態ラベル付きで記録されることを検証する。
func TestRecordVerification_LabelsByState(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordVerification("verified")
	c.RecordVerification("verified")
	c.RecordVerification("expired")

	mf := gatherOne(t, reg, "memberproof_verifications_total")
	if v := labeledValue(mf, "state", "verified"); v != 2 {
		t.Errorf("verified = %v, want 2", v)
	}
	if v := labeledValue(mf, "state", "expired"); v != 1 {
		t.Errorf("expired = %v, want 1", v)
	}
}

func TestRecordLogin_LabelsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin(true)
	c.RecordLogin(false)
	c.RecordLogin(false)

	mf := gatherOne(t, reg, "memberproof_logins_total")
	if v := labeledValue(mf, "result", "success"); v != 1 {
		t.Errorf("success = %v, want 1", v)
	}
	if v := labeledValue(mf, "result", "failure"); v != 2 {
		t.Errorf("failure = %v, want 2", v)
	}
}

func TestRecordRosterImport_AddsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRosterImport(5, 2)

	if v := gatherOne(t, reg, "memberproof_roster_marked_total").GetMetric()[0].GetCounter().GetValue(); v != 5 {
		t.Errorf("roster_marked_total = %v, want 5", v)
	}
	if v := gatherOne(t, reg, "memberproof_roster_skipped_total").GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("roster_skipped_total = %v, want 2", v)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(403)

	mf := gatherOne(t, reg, "memberproof_http_status_total")
	if v := labeledValue(mf, "status_code", "200"); v != 2 {
		t.Errorf("200 = %v, want 2", v)
	}
	if v := labeledValue(mf, "status_code", "403"); v != 1 {
		t.Errorf("403 = %v, want 1", v)
	}
}

func TestRecordRequestLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestLatency(150 * time.Millisecond)

	mf := gatherOne(t, reg, "memberproof_request_latency_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() < 0.14 || h.GetSampleSum() > 0.16 {
		t.Errorf("sample sum = %v, want ~0.15", h.GetSampleSum())
	}
}

// TestHandler_ServesMetrics はハンドラーがテキスト形式でメトリクスを返すことを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordTokenIssued()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "memberproof_tokens_issued_total 1") {
		t.Errorf("response should contain memberproof_tokens_issued_total, got:\n%s", body)
	}
}
