package metrics

import (
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// sharedRegistry backs the package-level collectors for parallel tests that
// only record.
var sharedRegistry = prometheus.NewRegistry()

func TestMain(m *testing.M) {
	if err := Init(sharedRegistry); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestGetMetricsText_IncludesBuildInfo(t *testing.T) {
	text, err := GetMetricsText(sharedRegistry)
	if err != nil {
		t.Fatalf("GetMetricsText() error = %v", err)
	}
	if !strings.Contains(text, "naf_proxy_info") {
		t.Errorf("build info gauge missing:\n%s", text)
	}
}
