package core

import (
	"context"
	"errors"

	"ngescape/internal/crawler"
	"ngescape/internal/models"
	"ngescape/internal/reporter"
	"ngescape/internal/requester"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
)

var (
	success = color.New(color.FgGreen, color.Bold).SprintFunc()
	caveat  = color.New(color.FgYellow).SprintFunc()
)

// Driver connects a Scanner to the crawler. It owns the run state
// transitions and reports every result as it arrives.
type Driver struct {
	scanner          *Scanner
	state            *RunState
	vulnLog          *reporter.VulnLog
	stopIfVulnerable bool

	summary crawler.Summary
}

var _ crawler.Hooks = (*Driver)(nil)

// NewDriver creates a Driver. vulnLog may be nil.
func NewDriver(scanner *Scanner, state *RunState, vulnLog *reporter.VulnLog, stopIfVulnerable bool) *Driver {
	return &Driver{
		scanner:          scanner,
		state:            state,
		vulnLog:          vulnLog,
		stopIfVulnerable: stopIfVulnerable,
	}
}

// Watch sets the stopping flag once ctx is cancelled, e.g. on SIGINT.
func (d *Driver) Watch(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		if d.state.Stopping() {
			return
		}
		log.Warn().Msg("Interrupt received, stopping the crawling workers safely. In-flight requests may take up to the request timeout.")
		d.state.Stop()
	})
}

// BeforeRun moves the run to Running.
func (d *Driver) BeforeRun() {
	d.state.Start()
	log.Info().Msg("Angular CSTI scanner started.")
}

// AfterRun moves the run to Finished and logs the summary.
func (d *Driver) AfterRun(summary crawler.Summary) {
	d.state.Stop()
	d.state.Finish()
	d.summary = summary

	if summary.Cancelled > 0 {
		log.Warn().Int("crawled", summary.Crawled).Int("cancelled", summary.Cancelled).Msg("Angular CSTI scanner finished (but some requests were cancelled).")
	} else {
		log.Info().Int("crawled", summary.Crawled).Msg("Angular CSTI scanner finished.")
	}

	results := d.state.Results()
	if len(results) == 0 {
		log.Warn().Msg("Couldn't find any vulnerable requests.")
		return
	}

	log.Info().Msg(success("Found ", len(results), " vulnerable request(s)."))
	for _, r := range results {
		log.Info().Msg(success(r.Request.String()))
		if r.Message != "" {
			log.Warn().Msg(caveat(r.Message))
		}
	}
}

// BeforePage stops the crawl once the run is stopping.
func (d *Driver) BeforePage(page *models.Page) crawler.Action {
	if d.halt() {
		return crawler.Stop
	}
	log.Info().Str("url", page.Request.URL).Str("method", page.Request.Method).Msg("Scanning")
	return crawler.Continue
}

// AfterFetch scans the fetched page. It runs on the crawler worker.
func (d *Driver) AfterFetch(ctx context.Context, page *models.Page) []models.VulnerableResult {
	if d.state.Stopping() || page.Response == nil {
		return nil
	}
	return d.scanner.Scan(ctx, page)
}

// AfterPage reports the page's results and decides whether to go on.
func (d *Driver) AfterPage(page *models.Page, results []models.VulnerableResult) crawler.Action {
	for _, r := range results {
		line := r.Request.String()
		log.Info().Str("action", r.Action).Str("point", r.Point).Bool("confirmed", r.Confirmed).Msg(success(line))
		if r.Message != "" {
			log.Warn().Msg(caveat(r.Message))
		}
		if err := d.vulnLog.Log(line); err != nil {
			log.Error().Err(err).Str("path", d.vulnLog.Path()).Msg("Failed to write vulnerable request to log")
		}
	}

	if d.halt() {
		return crawler.Stop
	}
	return crawler.Continue
}

// OnError logs a failed page fetch.
func (d *Driver) OnError(req models.Request, err error) {
	if errors.Is(err, requester.ErrTransport) {
		log.Warn().Err(err).Str("request", req.String()).Msg("Request failed")
		return
	}
	log.Error().Err(err).Str("request", req.String()).Msg("Request failed")
}

func (d *Driver) halt() bool {
	if d.stopIfVulnerable && d.state.Len() > 0 {
		d.state.Stop()
	}
	return d.state.Stopping()
}

// Summary returns the crawl summary. Valid after the run finished.
func (d *Driver) Summary() crawler.Summary {
	return d.summary
}

// ExitCode is 0 when at least one vulnerable request was found, 1 otherwise.
func (d *Driver) ExitCode() int {
	if d.state.Len() > 0 {
		return 0
	}
	return 1
}
