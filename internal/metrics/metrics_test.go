package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCounters(t *testing.T) {
	r := New()
	r.PktToUDP.Add(3)
	r.PktToDC.Add(5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "pkt_to_udp_total 3") {
		t.Errorf("missing pkt_to_udp_total, body:\n%s", body)
	}
	if !strings.Contains(body, "pkt_to_dc_total 5") {
		t.Errorf("missing pkt_to_dc_total, body:\n%s", body)
	}
	if !strings.Contains(body, "go_to_python_total 0") {
		t.Errorf("missing go_to_python_total, body:\n%s", body)
	}
}
