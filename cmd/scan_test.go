package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ngescape/internal/config"
	"ngescape/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reflectingServer(insideApp bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		inside, outside := "", q
		if insideApp {
			inside, outside = q, ""
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><div ng-app>%s</div>%s</body></html>`, inside, outside)
	}))
}

func testSettings(url, report string) config.Settings {
	return config.Settings{
		Target:    config.TargetConfig{URL: url, AngularVersion: "1.6.0"},
		Crawler:   config.CrawlerConfig{MaxDepth: -1, MaxThreads: 2},
		Scanner:   config.ScannerConfig{Timeout: 5 * time.Second},
		Reporting: config.ReportingConfig{ReportFile: report},
		Log:       logger.Config{Level: "error"},
	}
}

func TestRunScanFindsInjection(t *testing.T) {
	srv := reflectingServer(true)
	defer srv.Close()

	report := filepath.Join(t.TempDir(), "out", "report.json")
	code := runScan(testSettings(srv.URL+"/?q=a", report))
	assert.Equal(t, 0, code)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var decoded struct {
		Summary struct {
			AngularVersion       string `json:"angular_version"`
			VulnerabilitiesFound int    `json:"vulnerabilities_found"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "1.6.0", decoded.Summary.AngularVersion)
	assert.Positive(t, decoded.Summary.VulnerabilitiesFound)
}

func TestRunScanOutsideAppExitsOne(t *testing.T) {
	srv := reflectingServer(false)
	defer srv.Close()

	assert.Equal(t, 1, runScan(testSettings(srv.URL+"/?q=a", "")))
}

func TestRunScanRejectsBadVersion(t *testing.T) {
	s := testSettings("http://127.0.0.1:1/?q=a", "")
	s.Target.AngularVersion = "one.six"
	assert.Equal(t, 1, runScan(s))
}

func TestRunScanRepeatsWithSharedRedis(t *testing.T) {
	srv := reflectingServer(true)
	defer srv.Close()
	mr := miniredis.RunT(t)

	s := testSettings(srv.URL+"/?q=a", "")
	s.Redis = config.RedisConfig{
		Enabled:   true,
		URL:       "redis://" + mr.Addr() + "/0",
		KeyPrefix: "ngescape",
		TTL:       time.Hour,
	}

	// Each scan gets its own fingerprint sets, so a rescan still finds the injection.
	assert.Equal(t, 0, runScan(s))
	assert.Equal(t, 0, runScan(s))

	keys := mr.Keys()
	assert.Len(t, keys, 4, "candidates and crawled sets for two runs")
	for _, k := range keys {
		assert.Greater(t, mr.TTL(k), time.Duration(0), k)
	}

	// Processes sharing a run ID split the work: the second one skips everything.
	s.Redis.RunID = "shared"
	assert.Equal(t, 0, runScan(s))
	assert.Equal(t, 1, runScan(s))
}
