// Package browser drives a headless Chrome instance to prove that a payload
// actually executes, and to read values such as angular.version.full.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ngescape/internal/models"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// ErrUnavailable is returned when the browser cannot be started or has gone away.
var ErrUnavailable = errors.New("browser unavailable")

// Confirmer proves that a candidate request really executes script.
type Confirmer interface {
	Confirm(ctx context.Context, c *models.Candidate) (bool, error)
}

// Config is used to configure a new Service.
type Config struct {
	Headless           bool
	ExecPath           string
	Proxy              string
	UserAgent          string
	Headers            map[string]string
	IgnoreInvalidCerts bool
	Timeout            time.Duration // per confirmation or evaluation
	PopupWait          time.Duration // how long to wait for a new window after load
}

// Service wraps and manages one headless Chrome instance. Each confirmation
// runs in its own isolated browser context so window counts never mix.
type Service struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewService starts the browser. It fails with ErrUnavailable if Chrome
// cannot be launched.
func NewService(cfg Config) (*Service, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PopupWait <= 0 {
		cfg.PopupWait = 2 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-popup-blocking", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
	}
	if cfg.IgnoreInvalidCerts {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run launches the process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	log.Debug().Bool("headless", cfg.Headless).Msg("Headless browser started")

	return &Service{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// newTab opens a tab in a fresh browser context bounded by ctx and the
// configured timeout.
func (s *Service) newTab(ctx context.Context) (context.Context, context.CancelFunc) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx, chromedp.WithNewBrowserContext())
	timeoutCtx, cancelTimeout := context.WithTimeout(tabCtx, s.cfg.Timeout)

	stop := context.AfterFunc(ctx, cancelTimeout)

	// A modal dialog would block every later action on the tab.
	chromedp.ListenTarget(timeoutCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go func() {
				_ = chromedp.Run(timeoutCtx, page.HandleJavaScriptDialog(false))
			}()
		}
	})

	return timeoutCtx, func() {
		stop()
		cancelTimeout()
		cancelTab()
	}
}

// Confirm loads the candidate's request and reports whether a second
// top-level window appeared. GET requests are navigated to directly; other
// methods are replayed through an auto-submitted form.
func (s *Service) Confirm(ctx context.Context, c *models.Candidate) (bool, error) {
	tabCtx, cancel := s.newTab(ctx)
	defer cancel()

	if err := chromedp.Run(tabCtx, s.load(c.Request)...); err != nil {
		return false, s.classify(err)
	}

	deadline := time.Now().Add(s.cfg.PopupWait)
	for {
		count, err := s.openWindows(tabCtx)
		if err != nil {
			return false, s.classify(err)
		}
		if count >= 2 {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-tabCtx.Done():
			return false, nil
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// Evaluate loads url and returns the string value of the JavaScript expression.
// Exceptions thrown by the expression yield an empty string.
func (s *Service) Evaluate(ctx context.Context, url, expr string) (string, error) {
	tabCtx, cancel := s.newTab(ctx)
	defer cancel()

	var result string
	script := fmt.Sprintf(`(function(){try{return String(%s)}catch(e){return ""}})()`, expr)
	err := chromedp.Run(tabCtx, append(s.load(models.Request{Method: "GET", URL: url}),
		chromedp.Evaluate(script, &result),
	)...)
	if err != nil {
		return "", s.classify(err)
	}
	return result, nil
}

// Close shuts down the browser and every process it started.
func (s *Service) Close() {
	s.browserCancel()
	s.allocCancel()
}

func (s *Service) load(req models.Request) []chromedp.Action {
	var actions []chromedp.Action
	if len(s.cfg.Headers) > 0 {
		headers := network.Headers{}
		for k, v := range s.cfg.Headers {
			headers[k] = v
		}
		actions = append(actions, network.Enable(), network.SetExtraHTTPHeaders(headers))
	}

	if strings.EqualFold(req.Method, "GET") || req.Method == "" {
		return append(actions, chromedp.Navigate(req.URL))
	}

	return append(actions,
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(submitScript(req), nil),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// openWindows counts the page targets of the tab's own browser context.
func (s *Service) openWindows(ctx context.Context) (int, error) {
	targets, err := chromedp.Targets(ctx)
	if err != nil {
		return 0, err
	}

	id := chromedp.FromContext(ctx).BrowserContextID
	count := 0
	for _, t := range targets {
		if t.Type == "page" && t.BrowserContextID == id {
			count++
		}
	}
	return count, nil
}

func (s *Service) classify(err error) error {
	if s.browserCtx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// submitScript builds a form with the request's method, action and fields and submits it.
func submitScript(req models.Request) string {
	fields := make([][2]string, 0, len(req.Form))
	for _, p := range req.Form {
		fields = append(fields, [2]string{p.Key, p.Decoded()})
	}

	method, _ := json.Marshal(strings.ToUpper(req.Method))
	action, _ := json.Marshal(req.URL)
	data, _ := json.Marshal(fields)

	return fmt.Sprintf(`(function(){
	var f = document.createElement("form");
	f.method = %s;
	f.action = %s;
	%s.forEach(function(kv){
		var i = document.createElement("input");
		i.type = "hidden";
		i.name = kv[0];
		i.value = kv[1];
		f.appendChild(i);
	});
	document.body.appendChild(f);
	f.submit();
})()`, method, action, data)
}
