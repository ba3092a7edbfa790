// Package mutation turns a fetched page into mutated request candidates, one per
// injection point and payload, each paired with its confirmation sibling.
package mutation

import (
	"ngescape/internal/dedup"
	"ngescape/internal/models"
	"ngescape/internal/payloads"
)

// Kind identifies one of the injection surfaces.
type Kind int

const (
	KindPath Kind = iota
	KindForm
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindPath:
		return "path"
	case KindForm:
		return "form"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Action generates candidates for one injection surface.
type Action interface {
	Kind() Kind
	Generate(page *models.Page) []*models.Candidate
}

// Default returns the actions in their fixed evaluation order: path, form, query.
func Default(pl []payloads.Payload) []Action {
	return []Action{
		NewPathAction(pl),
		NewFormAction(pl),
		NewQueryAction(pl),
	}
}

// injector builds the request that carries p at the given injection point.
// Encoded payloads must reach the wire exactly as they are.
type injector func(point string, p payloads.Payload) models.Request

// fanOut emits one candidate plus its confirmation sibling for every
// (point, payload) pair, in point order then payload order.
func fanOut(kind Kind, page *models.Page, points []string, pl []payloads.Payload, inject injector) []*models.Candidate {
	if len(points) == 0 || len(pl) == 0 {
		return nil
	}

	candidates := make([]*models.Candidate, 0, len(points)*len(pl))
	for _, point := range points {
		for _, p := range pl {
			verify := p.Confirmation()
			sibling := newCandidate(kind, page, point, inject(point, verify), verify)
			c := newCandidate(kind, page, point, inject(point, p), p)
			c.Confirmation = sibling
			candidates = append(candidates, c)
		}
	}
	return candidates
}

func newCandidate(kind Kind, page *models.Page, point string, req models.Request, p payloads.Payload) *models.Candidate {
	return &models.Candidate{
		Action:      kind.String(),
		Point:       point,
		Source:      page,
		Request:     req,
		Payload:     p,
		Fingerprint: dedup.Fingerprint(req),
	}
}
