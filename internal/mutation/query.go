package mutation

import (
	"net/url"

	"ngescape/internal/models"
	"ngescape/internal/payloads"

	"github.com/rs/zerolog/log"
)

// QueryAction replaces one query parameter per candidate and keeps the rest in place.
type QueryAction struct {
	payloads []payloads.Payload
}

// NewQueryAction creates a QueryAction.
func NewQueryAction(pl []payloads.Payload) *QueryAction {
	return &QueryAction{payloads: pl}
}

// Kind returns KindQuery.
func (a *QueryAction) Kind() Kind { return KindQuery }

// Generate returns nothing for URLs without query parameters.
func (a *QueryAction) Generate(page *models.Page) []*models.Candidate {
	u, err := url.Parse(page.Request.URL)
	if err != nil {
		log.Debug().Err(err).Str("url", page.Request.URL).Msg("Skipping query mutation, unparsable URL")
		return nil
	}

	params := models.ParseParams(u.RawQuery)
	if len(params) == 0 {
		return nil
	}

	return fanOut(KindQuery, page, params.Keys(), a.payloads, func(key string, p payloads.Payload) models.Request {
		req := page.Request.Clone()
		mutated := *u
		if p.Encoded {
			mutated.RawQuery = params.WithEncoded(key, p.Value).Encode()
		} else {
			mutated.RawQuery = params.With(key, p.Value).Encode()
		}
		req.URL = mutated.String()
		return req
	})
}
