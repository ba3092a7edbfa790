package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"ngescape/internal/browser"
	"ngescape/internal/dedup"
	"ngescape/internal/models"
	"ngescape/internal/mutation"
	"ngescape/internal/payloads"
	"ngescape/internal/requester"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPayloads = []payloads.Payload{{Min: "1.0.0", Max: "1.6.5", Value: "ngx1337alert"}}

type executorFunc func(ctx context.Context, req models.Request) (*models.Response, error)

func (f executorFunc) Execute(ctx context.Context, req models.Request) (*models.Response, error) {
	return f(ctx, req)
}

// reflecting echoes the request inside the app root and counts calls per request.
type reflecting struct {
	mu    sync.Mutex
	calls map[string]int
	total atomic.Int32
}

func newReflecting() *reflecting {
	return &reflecting{calls: map[string]int{}}
}

func (r *reflecting) Execute(_ context.Context, req models.Request) (*models.Response, error) {
	r.mu.Lock()
	r.calls[req.String()]++
	r.mu.Unlock()
	r.total.Add(1)

	return &models.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte("<div ng-app>" + req.URL + " " + req.Body() + "</div>"),
	}, nil
}

type fakeConfirmer struct {
	windows int
	err     error
	calls   atomic.Int32
	seen    []string
	mu      sync.Mutex
}

func (f *fakeConfirmer) Confirm(_ context.Context, c *models.Candidate) (bool, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, c.Request.URL)
	f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.windows >= 2, nil
}

func queryPage(rawURL string) *models.Page {
	return &models.Page{Request: models.Request{Method: "GET", URL: rawURL}}
}

func newTestScanner(exec requester.Executor, cfg ScannerConfig) *Scanner {
	cfg.Actions = mutation.Default(testPayloads)
	cfg.Executor = exec
	if cfg.Seen == nil {
		cfg.Seen = dedup.NewSet(nil, "")
	}
	if cfg.State == nil {
		cfg.State = NewRunState()
	}
	return NewScanner(cfg)
}

func TestScanFindsQueryAndPathCandidates(t *testing.T) {
	exec := newReflecting()
	s := newTestScanner(exec, ScannerConfig{})

	found := s.Scan(context.Background(), queryPage("http://x.test/a/b/?q=1"))

	// path: /PAYLOAD and /a/PAYLOAD, query: q
	require.Len(t, found, 3)
	assert.Equal(t, "path", found[0].Action)
	assert.Equal(t, "path", found[1].Action)
	assert.Equal(t, "query", found[2].Action)
	assert.Equal(t, "q", found[2].Point)
	assert.False(t, found[2].Confirmed)
	assert.Equal(t, 3, s.state.Len())
}

func TestScanEvaluatesConcurrentDuplicatesOnce(t *testing.T) {
	exec := newReflecting()
	s := newTestScanner(exec, ScannerConfig{})

	var wg sync.WaitGroup
	var total atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			total.Add(int32(len(s.Scan(context.Background(), queryPage("http://x.test/?q=1&r=2")))))
		}()
	}
	wg.Wait()

	for req, n := range exec.calls {
		assert.Equal(t, 1, n, req)
	}
	// path root + q + r
	assert.Equal(t, int32(3), exec.total.Load())
	assert.Equal(t, int32(3), total.Load())
}

func TestScanSharesFingerprintsAcrossPages(t *testing.T) {
	exec := newReflecting()
	s := newTestScanner(exec, ScannerConfig{})

	s.Scan(context.Background(), queryPage("http://x.test/?q=1"))
	// The root path candidate is identical for both pages.
	found := s.Scan(context.Background(), queryPage("http://x.test/index.html?q=2"))

	require.Len(t, found, 1)
	assert.Equal(t, "query", found[0].Action)
}

func TestScanSkipsTransportErrorsAndPanics(t *testing.T) {
	var calls atomic.Int32
	exec := executorFunc(func(_ context.Context, req models.Request) (*models.Response, error) {
		switch calls.Add(1) {
		case 1:
			return nil, requester.ErrTransport
		case 2:
			panic("boom")
		}
		return newReflecting().Execute(context.Background(), req)
	})
	s := newTestScanner(exec, ScannerConfig{})

	found := s.Scan(context.Background(), queryPage("http://x.test/?a=1&b=2"))

	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, found, 1)
	assert.Equal(t, "b", found[0].Point)
}

func TestScanStopsAtFirstVulnerability(t *testing.T) {
	exec := newReflecting()
	state := NewRunState()
	state.Start()
	s := newTestScanner(exec, ScannerConfig{State: state, StopIfVulnerable: true})

	found := s.Scan(context.Background(), queryPage("http://x.test/a/b/?q=1"))
	require.Len(t, found, 1)
	assert.True(t, state.Stopping())
	assert.Equal(t, StateStopping, state.State())

	assert.Empty(t, s.Scan(context.Background(), queryPage("http://y.test/?z=1")))
	assert.Equal(t, int32(1), exec.total.Load())
}

func TestScanHonoursCancelledContext(t *testing.T) {
	exec := newReflecting()
	s := newTestScanner(exec, ScannerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, s.Scan(ctx, queryPage("http://x.test/?q=1")))
	assert.Zero(t, exec.total.Load())
}

func TestConfirmationPromotesOnSecondWindow(t *testing.T) {
	confirmer := &fakeConfirmer{windows: 2}
	s := newTestScanner(newReflecting(), ScannerConfig{Verify: true, Confirmer: confirmer})

	found := s.Scan(context.Background(), queryPage("http://x.test/?q=1"))
	require.Len(t, found, 2)
	for _, r := range found {
		assert.True(t, r.Confirmed)
	}

	// The browser is given the non-modal sibling.
	for _, u := range confirmer.seen {
		assert.Contains(t, u, "ngx1337open")
	}
}

func TestConfirmationRejectsSingleWindow(t *testing.T) {
	confirmer := &fakeConfirmer{windows: 1}
	s := newTestScanner(newReflecting(), ScannerConfig{Verify: true, Confirmer: confirmer})

	assert.Empty(t, s.Scan(context.Background(), queryPage("http://x.test/?q=1")))
	assert.Equal(t, int32(2), confirmer.calls.Load())
}

func TestConfirmationUnavailableFailsClosedOnce(t *testing.T) {
	confirmer := &fakeConfirmer{err: errors.Join(browser.ErrUnavailable, errors.New("chrome exited"))}
	s := newTestScanner(newReflecting(), ScannerConfig{Verify: true, Confirmer: confirmer})

	assert.Empty(t, s.Scan(context.Background(), queryPage("http://x.test/a/?q=1")))
	assert.Equal(t, int32(1), confirmer.calls.Load())
}

func TestConfirmationOtherErrorsAreNotFatal(t *testing.T) {
	confirmer := &fakeConfirmer{err: errors.New("navigation timeout")}
	s := newTestScanner(newReflecting(), ScannerConfig{Verify: true, Confirmer: confirmer})

	assert.Empty(t, s.Scan(context.Background(), queryPage("http://x.test/?q=1")))
	assert.Equal(t, int32(2), confirmer.calls.Load())
}

func TestVerifyWithoutConfirmer(t *testing.T) {
	s := newTestScanner(newReflecting(), ScannerConfig{Verify: true})
	assert.Empty(t, s.Scan(context.Background(), queryPage("http://x.test/?q=1")))
}

func TestScanKeepsPayloadMessage(t *testing.T) {
	pl := []payloads.Payload{{Min: "1.2.19", Max: "1.2.23", Value: "sortme", Message: "reverse the array"}}
	s := NewScanner(ScannerConfig{
		Actions:  []mutation.Action{mutation.NewQueryAction(pl)},
		Executor: newReflecting(),
	})

	found := s.Scan(context.Background(), queryPage("http://x.test/?q=1"))
	require.Len(t, found, 1)
	assert.Equal(t, "reverse the array", found[0].Message)
	assert.True(t, strings.HasSuffix(found[0].Request.URL, "?q=sortme"))
}
