// Package core ties the mutation, detection and confirmation steps together
// and coordinates them with the crawler.
package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"ngescape/internal/browser"
	"ngescape/internal/dedup"
	"ngescape/internal/detect"
	"ngescape/internal/models"
	"ngescape/internal/mutation"
	"ngescape/internal/requester"

	"github.com/rs/zerolog/log"
)

// Scanner evaluates every mutation of a page exactly once per run.
type Scanner struct {
	actions   []mutation.Action
	exec      requester.Executor
	seen      *dedup.Set
	state     *RunState
	verify    bool
	confirmer browser.Confirmer
	stopFirst bool

	confirmLost atomic.Bool
}

// ScannerConfig holds the collaborators of a Scanner.
type ScannerConfig struct {
	Actions  []mutation.Action
	Executor requester.Executor
	Seen     *dedup.Set
	State    *RunState
	// Verify requires browser confirmation before a result is promoted.
	Verify bool
	// Confirmer may be nil when Verify is set; every candidate then fails closed.
	Confirmer browser.Confirmer
	// StopIfVulnerable stops the whole run once any result is recorded.
	StopIfVulnerable bool
}

// NewScanner creates a Scanner.
func NewScanner(cfg ScannerConfig) *Scanner {
	s := &Scanner{
		actions:   cfg.Actions,
		exec:      cfg.Executor,
		seen:      cfg.Seen,
		state:     cfg.State,
		verify:    cfg.Verify,
		confirmer: cfg.Confirmer,
		stopFirst: cfg.StopIfVulnerable,
	}
	if s.seen == nil {
		s.seen = dedup.NewSet(nil, "")
	}
	if s.state == nil {
		s.state = NewRunState()
	}
	if s.verify && s.confirmer == nil {
		s.loseConfirmation(browser.ErrUnavailable)
	}
	return s
}

// Scan runs the Path, Form and Query actions over page and returns the
// results found on it. Each result is also appended to the run state as
// soon as it is found. Safe for concurrent use.
func (s *Scanner) Scan(ctx context.Context, page *models.Page) []models.VulnerableResult {
	if s.stopped(ctx) {
		return nil
	}

	var found []models.VulnerableResult
	for _, action := range s.actions {
		for _, c := range action.Generate(page) {
			if s.stopped(ctx) {
				return found
			}
			if !s.seen.Add(ctx, c.Fingerprint) {
				continue
			}

			res, ok := s.evaluate(ctx, c)
			if !ok {
				continue
			}

			s.state.Append(res)
			found = append(found, res)
			if s.stopFirst {
				s.state.Stop()
			}
		}
	}
	return found
}

func (s *Scanner) stopped(ctx context.Context) bool {
	return s.state.Stopping() || ctx.Err() != nil
}

// evaluate never panics; any failure counts as not vulnerable.
func (s *Scanner) evaluate(ctx context.Context, c *models.Candidate) (res models.VulnerableResult, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("request", c.Request.String()).Msg("Recovered while evaluating candidate")
			res, ok = models.VulnerableResult{}, false
		}
	}()

	resp, err := s.exec.Execute(ctx, c.Request)
	if err != nil {
		log.Debug().Err(err).Str("request", c.Request.String()).Msg("Candidate request failed")
		return res, false
	}

	if !detect.IsVulnerable(resp, c.Payload) {
		return res, false
	}

	confirmed := false
	if s.verify {
		if !s.confirm(ctx, c) {
			log.Debug().Str("request", c.Request.String()).Msg("Payload reflected in scope but did not execute")
			return res, false
		}
		confirmed = true
	}

	return models.VulnerableResult{
		Action:    c.Action,
		Point:     c.Point,
		Request:   c.Request,
		Payload:   c.Payload,
		Message:   c.Payload.Message,
		Confirmed: confirmed,
		Timestamp: time.Now(),
	}, true
}

// confirm runs the confirmation sibling through the browser. Unknown is false.
func (s *Scanner) confirm(ctx context.Context, c *models.Candidate) bool {
	if s.confirmLost.Load() || c.Confirmation == nil {
		return false
	}

	ok, err := s.confirmer.Confirm(ctx, c.Confirmation)
	if err != nil {
		if errors.Is(err, browser.ErrUnavailable) {
			s.loseConfirmation(err)
		} else {
			log.Debug().Err(err).Str("request", c.Confirmation.Request.String()).Msg("Confirmation failed")
		}
		return false
	}
	return ok
}

func (s *Scanner) loseConfirmation(err error) {
	if s.confirmLost.CompareAndSwap(false, true) {
		log.Warn().Err(err).Msg("Browser confirmation is unavailable, reflected payloads will not be reported")
	}
}
