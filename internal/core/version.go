package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ngescape/internal/detect"
	"ngescape/internal/models"
	"ngescape/internal/payloads"
	"ngescape/internal/requester"

	"github.com/rs/zerolog/log"
)

// ErrVersionUnknown is returned when no source yields an AngularJS version.
var ErrVersionUnknown = errors.New("couldn't determine the AngularJS version")

// Evaluator runs a JavaScript expression on a loaded page.
type Evaluator interface {
	Evaluate(ctx context.Context, url, expr string) (string, error)
}

// VersionResolver finds the AngularJS version of the start page.
type VersionResolver struct {
	Override  string
	Evaluator Evaluator // optional
	Executor  requester.Executor
}

// Resolve tries the override, then angular.version.full in the browser,
// then the version hints in the raw markup.
func (v *VersionResolver) Resolve(ctx context.Context, start models.Request) (string, error) {
	if v.Override != "" {
		if _, err := payloads.ParseVersion(v.Override); err != nil {
			return "", err
		}
		log.Info().Str("version", v.Override).Msg("Using AngularJS version from the arguments.")
		return v.Override, nil
	}

	if v.Evaluator != nil {
		log.Info().Msg("Looking for AngularJS version using a headless browser.")
		found, err := v.Evaluator.Evaluate(ctx, start.URL, "angular.version.full")
		found = strings.TrimSpace(found)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Headless version lookup failed")
		case found != "":
			if _, perr := payloads.ParseVersion(found); perr == nil {
				log.Info().Str("version", found).Msg("Found AngularJS version.")
				return found, nil
			}
			log.Warn().Str("version", found).Msg("Ignoring unparsable angular.version.full")
		}
	}

	if v.Executor != nil {
		resp, err := v.Executor.Execute(ctx, start)
		if err != nil {
			return "", fmt.Errorf("fetching start page: %w", err)
		}
		if found := detect.SniffVersion(resp.Body); found != "" {
			log.Info().Str("version", found).Msg("Found AngularJS version in the page markup.")
			return found, nil
		}
	}

	return "", ErrVersionUnknown
}
