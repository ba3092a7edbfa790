package mutation

import (
	"net/url"
	"strings"

	"ngescape/internal/models"
	"ngescape/internal/payloads"

	"github.com/rs/zerolog/log"
)

// PathAction places the payload as the last segment of every parent path of the page URL.
type PathAction struct {
	payloads []payloads.Payload
}

// NewPathAction creates a PathAction.
func NewPathAction(pl []payloads.Payload) *PathAction {
	return &PathAction{payloads: pl}
}

// Kind returns KindPath.
func (a *PathAction) Kind() Kind { return KindPath }

// Generate builds one URL per segment boundary. For /a/b/index.html the
// boundaries give /PAYLOAD and /a/PAYLOAD; the query string is dropped.
func (a *PathAction) Generate(page *models.Page) []*models.Candidate {
	u, err := url.Parse(page.Request.URL)
	if err != nil {
		log.Debug().Err(err).Str("url", page.Request.URL).Msg("Skipping path mutation, unparsable URL")
		return nil
	}

	segments := pathSegments(u.Path)
	boundaries := len(segments)
	if boundaries == 0 {
		boundaries = 1
	}

	points := make([]string, boundaries)
	for i := range points {
		points[i] = "/" + strings.Join(segments[:i], "/")
	}

	return fanOut(KindPath, page, points, a.payloads, func(prefix string, p payloads.Payload) models.Request {
		req := page.Request.Clone()
		mutated := *u
		mutated.Path = strings.TrimSuffix(prefix, "/") + "/" + p.Value
		mutated.RawPath = ""
		if p.Encoded {
			setEncodedPath(&mutated, prefix, p.Value)
		}
		mutated.RawQuery = ""
		mutated.ForceQuery = false
		mutated.Fragment = ""
		mutated.RawFragment = ""
		req.URL = mutated.String()
		return req
	})
}

// setEncodedPath appends an already percent-encoded segment to prefix so that
// EscapedPath emits it unchanged.
func setEncodedPath(u *url.URL, prefix, segment string) {
	escapedPrefix := (&url.URL{Path: strings.TrimSuffix(prefix, "/")}).EscapedPath()
	raw := escapedPrefix + "/" + segment
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		log.Debug().Err(err).Str("segment", segment).Msg("Encoded path segment does not decode, sending it escaped")
		return
	}
	u.Path = decoded
	u.RawPath = raw
}

// pathSegments returns the non-empty segments of p, leaving out a trailing
// file name (a last segment containing a dot).
func pathSegments(p string) []string {
	if i := strings.LastIndex(p, "/"); i >= 0 && strings.Contains(p[i+1:], ".") {
		p = p[:i+1]
	}

	var segments []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
