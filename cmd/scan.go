package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ngescape/internal/browser"
	"ngescape/internal/config"
	"ngescape/internal/core"
	"ngescape/internal/crawler"
	"ngescape/internal/dedup"
	"ngescape/internal/logger"
	"ngescape/internal/models"
	"ngescape/internal/mutation"
	"ngescape/internal/payloads"
	redisclient "ngescape/internal/redis"
	"ngescape/internal/reporter"
	"ngescape/internal/requester"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a URL (and optionally everything it links to) for AngularJS sandbox escapes",
	Long: `Scan requests the start URL, determines the AngularJS version and tries every
matching sandbox escape in each path segment, query parameter and form field.
The exit status is 0 when at least one vulnerable request was found, 1 otherwise.`,
	Example: `  ngescape scan -d "https://example.com/?q=test"
  ngescape scan -d https://example.com/ --crawl --verify-payload --vulnerable-requests-log found.log`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(viper.GetViper(), configFile)
		if err != nil {
			return err
		}
		os.Exit(runScan(settings))
		return nil
	},
}

func bind(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", flag.Name, err))
	}
}

func init() {
	rootCmd.AddCommand(scanCmd)
	f := scanCmd.Flags()

	f.StringP("domain", "d", "", "The URL to start scanning at, e.g. https://example.com/?q=a (required)")
	f.Bool("crawl", false, "Crawl every in-scope page the start URL links to")
	f.Bool("verify-payload", false, "Confirm every finding by checking that the payload opens a window in a headless browser")
	f.String("angular-version", "", "Skip version detection and use this AngularJS version, e.g. 1.5.8")
	f.String("vulnerable-requests-log", "", "Append every vulnerable request to this file")
	f.Bool("stop-if-vulnerable", false, "Stop the scan after the first vulnerable request")
	f.Bool("protocol-must-match", false, "Only crawl URLs with the same scheme as the start URL")
	f.Bool("scan-other-subdomains", false, "Also crawl other subdomains of the start host")
	f.Bool("scan-other-hostnames", false, "Also crawl other hostnames under the same TLD")
	f.Bool("scan-other-tlds", false, "Also crawl the same hostname under other TLDs")
	f.Int("max-depth", -1, "Maximum crawl depth, -1 for unlimited (only with --crawl)")
	f.Int("max-threads", 20, "Number of concurrent crawl workers")
	f.Float64("rate-limit", 0, "Maximum page requests per second, 0 for unlimited")
	f.Bool("ignore-invalid-certificates", false, "Do not verify TLS certificates")
	f.String("trusted-certificates", "", "PEM bundle or directory of PEM files with additional trusted CAs")
	f.String("proxy", "", "HTTP proxy for the scanner and the browser, e.g. http://127.0.0.1:8080")
	f.StringToString("header", nil, "Extra request header, e.g. --header Cookie=session=1 (repeatable)")
	f.String("report", "", "Write a report to this file (.json or .txt)")
	f.Bool("redis", false, "Share fingerprints through Redis so several processes split one scan")
	f.String("run-id", "", "Redis scan ID shared by cooperating processes (default: a new ID per process)")

	bind("target.url", f.Lookup("domain"))
	bind("target.angular_version", f.Lookup("angular-version"))
	bind("target.headers", f.Lookup("header"))
	bind("crawler.enabled", f.Lookup("crawl"))
	bind("crawler.max_depth", f.Lookup("max-depth"))
	bind("crawler.max_threads", f.Lookup("max-threads"))
	bind("crawler.rate_limit", f.Lookup("rate-limit"))
	bind("crawler.protocol_must_match", f.Lookup("protocol-must-match"))
	bind("crawler.scan_other_subdomains", f.Lookup("scan-other-subdomains"))
	bind("crawler.scan_other_hostnames", f.Lookup("scan-other-hostnames"))
	bind("crawler.scan_other_tlds", f.Lookup("scan-other-tlds"))
	bind("scanner.verify_payload", f.Lookup("verify-payload"))
	bind("scanner.stop_if_vulnerable", f.Lookup("stop-if-vulnerable"))
	bind("scanner.ignore_invalid_certificates", f.Lookup("ignore-invalid-certificates"))
	bind("scanner.trusted_certificates", f.Lookup("trusted-certificates"))
	bind("scanner.proxy", f.Lookup("proxy"))
	bind("reporting.vulnerable_requests_log", f.Lookup("vulnerable-requests-log"))
	bind("reporting.report_file", f.Lookup("report"))
	bind("redis.enabled", f.Lookup("redis"))
	bind("redis.run_id", f.Lookup("run-id"))
}

// runScan performs one complete scan and returns the process exit status.
func runScan(settings config.Settings) int {
	closer, err := logger.Setup(settings.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closer.Close()

	// The first interrupt only sets the stopping flag; in-flight requests run
	// to completion. A second interrupt kills the process.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx := context.Background()

	startTime := time.Now()
	start := models.Request{Method: "GET", URL: settings.Target.URL}

	client, err := requester.NewHTTPClient(requester.Options{
		Timeout:             settings.Scanner.Timeout,
		Retries:             settings.Scanner.Retries,
		UserAgents:          settings.Scanner.UserAgents,
		Headers:             settings.Target.Headers,
		Proxy:               settings.Scanner.Proxy,
		IgnoreInvalidCerts:  settings.Scanner.IgnoreInvalidCertificates,
		TrustedCertificates: settings.Scanner.TrustedCertificates,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP client")
		return 1
	}

	candidates, crawled := fingerprintSets(ctx, settings)

	svc := startBrowser(settings, client.UserAgent())
	if svc != nil {
		defer svc.Close()
	}

	resolver := core.VersionResolver{Override: settings.Target.AngularVersion, Executor: client}
	if svc != nil {
		resolver.Evaluator = svc
	}
	version, err := resolver.Resolve(ctx, start)
	if err != nil {
		log.Error().Err(err).Msg("Couldn't determine the AngularJS version.")
		log.Error().Msg("If you are certain this URL uses AngularJS, specify the version via the `--angular-version` argument.")
		return 1
	}

	pl, err := payloads.ForVersion(version)
	if err != nil {
		log.Error().Err(err).Str("version", version).Msg("Invalid AngularJS version")
		return 1
	}
	if len(pl) == 0 {
		log.Warn().Str("version", version).Msg("No known sandbox escapes for this AngularJS version.")
		return 1
	}
	log.Info().Str("version", version).Int("payloads", len(pl)).Msg("Loaded sandbox escape payloads.")

	state := core.NewRunState()
	scannerCfg := core.ScannerConfig{
		Actions:          mutation.Default(pl),
		Executor:         client,
		Seen:             candidates,
		State:            state,
		Verify:           settings.Scanner.VerifyPayload,
		StopIfVulnerable: settings.Scanner.StopIfVulnerable,
	}
	if svc != nil {
		scannerCfg.Confirmer = svc
	}

	vulnLog := reporter.OpenVulnLog(settings.Reporting.VulnerableRequestsLog)
	defer vulnLog.Close()

	driver := core.NewDriver(core.NewScanner(scannerCfg), state, vulnLog, settings.Scanner.StopIfVulnerable)
	stopWatching := driver.Watch(sigCtx)
	defer stopWatching()
	go func() {
		<-sigCtx.Done()
		stopSignals()
	}()

	base, err := url.Parse(settings.Target.URL)
	if err != nil {
		log.Error().Err(err).Msg("Invalid target URL")
		return 1
	}

	c := crawler.NewCrawler(crawler.Options{
		MaxDepth:  settings.EffectiveMaxDepth(),
		Workers:   settings.Crawler.MaxThreads,
		RateLimit: settings.Crawler.RateLimit,
		Scope: crawler.NewScope(base,
			settings.Crawler.ProtocolMustMatch,
			settings.Crawler.ScanOtherSubdomains,
			settings.Crawler.ScanOtherHostnames,
			settings.Crawler.ScanOtherTLDs),
		Seen: crawled,
	}, client, driver)

	summary := c.Run(ctx, start)

	if settings.Reporting.ReportFile != "" {
		exportReport(settings, version, startTime, summary, state.Results())
	}

	return driver.ExitCode()
}

// fingerprintSets returns the candidate and crawled-request sets, shared
// through Redis when enabled and reachable.
func fingerprintSets(ctx context.Context, settings config.Settings) (*dedup.Set, *dedup.Set) {
	if !settings.Redis.Enabled {
		return dedup.NewSet(nil, ""), dedup.NewSet(nil, "")
	}

	rc, err := redisclient.NewClient(ctx, settings.Redis.URL, settings.Redis.KeyPrefix)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, falling back to in-memory fingerprints")
		return dedup.NewSet(nil, ""), dedup.NewSet(nil, "")
	}

	runID := settings.Redis.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	log.Info().Str("url", settings.Redis.URL).Str("run_id", runID).Msg("Sharing fingerprints through Redis")

	candidates := dedup.NewSet(rc.Client, rc.Key(settings.Target.URL, runID, "candidates")).ExpireAfter(settings.Redis.TTL)
	crawled := dedup.NewSet(rc.Client, rc.Key(settings.Target.URL, runID, "crawled")).ExpireAfter(settings.Redis.TTL)
	return candidates, crawled
}

// startBrowser launches Chrome when confirmation or version detection needs it.
// A nil Service means no browser is available.
func startBrowser(settings config.Settings, userAgent string) *browser.Service {
	if !settings.Scanner.VerifyPayload && settings.Target.AngularVersion != "" {
		return nil
	}

	svc, err := browser.NewService(browser.Config{
		Headless:           settings.Browser.Headless,
		ExecPath:           settings.Browser.ExecPath,
		Proxy:              settings.Scanner.Proxy,
		UserAgent:          userAgent,
		Headers:            settings.Target.Headers,
		IgnoreInvalidCerts: settings.Scanner.IgnoreInvalidCertificates,
		Timeout:            settings.Browser.Timeout,
		PopupWait:          settings.Browser.PopupWait,
	})
	if err != nil {
		if errors.Is(err, browser.ErrUnavailable) && !settings.Scanner.VerifyPayload {
			log.Warn().Err(err).Msg("Headless browser unavailable, falling back to static version detection")
		} else {
			log.Warn().Err(err).Msg("Headless browser unavailable")
		}
		return nil
	}
	return svc
}

func exportReport(settings config.Settings, version string, startTime time.Time, summary crawler.Summary, results []models.VulnerableResult) {
	exporter, err := reporter.NewExporter(settings.Reporting.ReportFile)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create report exporter")
		return
	}

	endTime := time.Now()
	err = exporter.Export(reporter.Report{
		Summary: reporter.ScanSummary{
			TargetURL:            settings.Target.URL,
			AngularVersion:       version,
			ScanStartTime:        startTime,
			ScanEndTime:          endTime,
			TotalDuration:        endTime.Sub(startTime).Round(time.Millisecond).String(),
			PagesCrawled:         summary.Crawled,
			PagesCancelled:       summary.Cancelled,
			VulnerabilitiesFound: len(results),
		},
		Configuration:   settings,
		Vulnerabilities: results,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to export report")
	}
}
