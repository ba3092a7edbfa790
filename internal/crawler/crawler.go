// Package crawler provides a breadth-first, multi-worker crawler that hands
// every fetched page to a set of hooks.
package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"ngescape/internal/dedup"
	"ngescape/internal/models"
	"ngescape/internal/requester"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Action tells the crawler how to proceed after a hook.
type Action int

const (
	Continue Action = iota
	Skip
	Stop
)

// Hooks are invoked by the crawler. BeforePage, AfterFetch, AfterPage and
// OnError are called concurrently from every worker.
type Hooks interface {
	BeforeRun()
	AfterRun(summary Summary)
	BeforePage(page *models.Page) Action
	AfterFetch(ctx context.Context, page *models.Page) []models.VulnerableResult
	AfterPage(page *models.Page, results []models.VulnerableResult) Action
	OnError(req models.Request, err error)
}

// Summary describes how a run ended.
type Summary struct {
	Crawled   int
	Skipped   int
	Failed    int
	Cancelled int
}

// Options configures a Crawler.
type Options struct {
	MaxDepth  int     // negative means unlimited
	Workers   int     // default 20
	RateLimit float64 // requests per second, 0 means unlimited
	Scope     *Scope
	// Seen tracks requests already queued. A shared Redis-backed set makes
	// separate processes skip each other's pages.
	Seen *dedup.Set
}

// Crawler is responsible for fetching pages and discovering new requests from them.
type Crawler struct {
	opts    Options
	exec    requester.Executor
	hooks   Hooks
	limiter *rate.Limiter
}

// NewCrawler creates a new Crawler instance.
func NewCrawler(opts Options, exec requester.Executor, hooks Hooks) *Crawler {
	if opts.Workers <= 0 {
		opts.Workers = 20
	}
	if opts.Seen == nil {
		opts.Seen = dedup.NewSet(nil, "")
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &Crawler{
		opts:    opts,
		exec:    exec,
		hooks:   hooks,
		limiter: rate.NewLimiter(limit, opts.Workers),
	}
}

type outcome struct {
	children  []*models.Page
	stop      bool
	skipped   bool
	failed    bool
	cancelled bool
}

// Run crawls from start until the frontier is exhausted, a hook returns
// Stop or ctx is cancelled. Every started page finishes before Run returns.
func (c *Crawler) Run(ctx context.Context, start models.Request) Summary {
	c.hooks.BeforeRun()

	var summary Summary
	jobs := make(chan *models.Page)
	results := make(chan outcome)

	var wg sync.WaitGroup
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range jobs {
				results <- c.process(ctx, page)
			}
		}()
	}

	c.opts.Seen.Add(ctx, dedup.Fingerprint(start))
	queue := []*models.Page{{Request: start}}
	inFlight := 0
	stopping := false
	done := ctx.Done()

	for len(queue) > 0 || inFlight > 0 {
		var send chan<- *models.Page
		var next *models.Page
		if len(queue) > 0 {
			send, next = jobs, queue[0]
		}

		select {
		case send <- next:
			queue = queue[1:]
			inFlight++
		case res := <-results:
			inFlight--
			switch {
			case res.cancelled:
				summary.Cancelled++
			case res.skipped:
				summary.Skipped++
			case res.failed:
				summary.Failed++
			default:
				summary.Crawled++
			}
			queue = append(queue, res.children...)
			stopping = stopping || res.stop
		case <-done:
			log.Debug().Msg("Crawl interrupted")
			stopping = true
			done = nil
		}

		if stopping && len(queue) > 0 {
			summary.Cancelled += len(queue)
			queue = nil
		}
	}

	close(jobs)
	wg.Wait()

	c.hooks.AfterRun(summary)
	return summary
}

// process runs one page through the hooks. It never panics.
func (c *Crawler) process(ctx context.Context, page *models.Page) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.hooks.OnError(page.Request, fmt.Errorf("panic while crawling: %v", r))
			out = outcome{failed: true}
		}
	}()

	switch c.hooks.BeforePage(page) {
	case Skip:
		return outcome{skipped: true}
	case Stop:
		return outcome{cancelled: true, stop: true}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return outcome{cancelled: true}
	}

	resp, err := c.exec.Execute(ctx, page.Request)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{cancelled: true}
		}
		c.hooks.OnError(page.Request, err)
		return outcome{failed: true}
	}
	page.Response = resp

	found := c.hooks.AfterFetch(ctx, page)
	children := c.discover(ctx, page)

	return outcome{
		children: children,
		stop:     c.hooks.AfterPage(page, found) == Stop,
	}
}

// discover extracts in-scope requests not seen before.
func (c *Crawler) discover(ctx context.Context, page *models.Page) []*models.Page {
	if c.opts.MaxDepth >= 0 && page.Depth >= c.opts.MaxDepth {
		return nil
	}
	if !strings.Contains(strings.ToLower(page.Response.ContentType()), "html") {
		return nil
	}

	base, err := url.Parse(page.Response.URL)
	if err != nil || page.Response.URL == "" {
		if base, err = url.Parse(page.Request.URL); err != nil {
			return nil
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Response.Body))
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u := resolveURL(base, href); u != nil {
			base = u
		}
	}

	var children []*models.Page
	for _, req := range extract(doc, base) {
		u, err := url.Parse(req.URL)
		if err != nil || (c.opts.Scope != nil && !c.opts.Scope.Contains(u)) {
			continue
		}
		if !c.opts.Seen.Add(ctx, dedup.Fingerprint(req)) {
			continue
		}
		children = append(children, &models.Page{Request: req, Depth: page.Depth + 1})
	}

	log.Debug().Str("url", page.Request.URL).Int("count", len(children)).Msg("Extracted requests")
	return children
}
