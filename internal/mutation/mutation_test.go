package mutation

import (
	"testing"

	"ngescape/internal/dedup"
	"ngescape/internal/models"
	"ngescape/internal/payloads"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPayloads = []payloads.Payload{
	{Min: "1.6.0", Max: "1.6.5", Value: "PAYalertLOAD"},
	{Min: "1.6.0", Max: "1.6.5", Value: "ENCalert", Encoded: true},
}

func getPage(rawURL string) *models.Page {
	return &models.Page{Request: models.Request{Method: "GET", URL: rawURL}}
}

func urls(cs []*models.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Request.URL
	}
	return out
}

func TestDefaultOrder(t *testing.T) {
	actions := Default(testPayloads)
	require.Len(t, actions, 3)
	assert.Equal(t, KindPath, actions[0].Kind())
	assert.Equal(t, KindForm, actions[1].Kind())
	assert.Equal(t, KindQuery, actions[2].Kind())
	assert.Equal(t, "query", KindQuery.String())
}

func TestPathAction(t *testing.T) {
	a := NewPathAction(testPayloads[:1])

	tests := []struct {
		name string
		url  string
		want []string
	}{
		{"file name is excluded", "http://x.test/a/b/index.html?q=1", []string{"http://x.test/PAYalertLOAD", "http://x.test/a/PAYalertLOAD"}},
		{"directory path", "http://x.test/a/b/", []string{"http://x.test/PAYalertLOAD", "http://x.test/a/PAYalertLOAD"}},
		{"last segment without dot", "http://x.test/a/b", []string{"http://x.test/PAYalertLOAD", "http://x.test/a/PAYalertLOAD"}},
		{"root", "http://x.test/", []string{"http://x.test/PAYalertLOAD"}},
		{"empty path", "http://x.test", []string{"http://x.test/PAYalertLOAD"}},
		{"root file", "http://x.test/index.php?id=2", []string{"http://x.test/PAYalertLOAD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Generate(getPage(tt.url))
			assert.Equal(t, tt.want, urls(got))
		})
	}
}

func TestPathActionEscapesPayload(t *testing.T) {
	a := NewPathAction([]payloads.Payload{{Value: "{{1?2:3}}"}})
	got := a.Generate(getPage("http://x.test/"))
	require.Len(t, got, 1)
	assert.Equal(t, "http://x.test/%7B%7B1%3F2:3%7D%7D", got[0].Request.URL)
}

func TestCandidatesCarryConfirmationSibling(t *testing.T) {
	got := NewPathAction(testPayloads).Generate(getPage("http://x.test/a/"))
	require.Len(t, got, 2)

	for _, c := range got {
		require.NotNil(t, c.Confirmation)
		assert.Equal(t, c.Point, c.Confirmation.Point)
		assert.Equal(t, c.Payload.Confirmation().Value, c.Confirmation.Payload.Value)
		assert.NotContains(t, c.Confirmation.Request.URL, "alert")
		assert.Contains(t, c.Confirmation.Request.URL, "open")
		assert.Equal(t, dedup.Fingerprint(c.Request), c.Fingerprint)
	}
}

func TestFormAction(t *testing.T) {
	page := &models.Page{Request: models.Request{
		Method: "POST",
		URL:    "http://x.test/login?next=home",
		Form:   models.Params{{Key: "user", Value: "bob"}, {Key: "token", Value: "abc"}},
	}}

	got := NewFormAction(testPayloads[:1]).Generate(page)
	require.Len(t, got, 2)

	assert.Equal(t, "user", got[0].Point)
	assert.Equal(t, models.Params{{Key: "user", Value: "PAYalertLOAD"}, {Key: "token", Value: "abc"}}, got[0].Request.Form)
	assert.Equal(t, "token", got[1].Point)
	assert.Equal(t, models.Params{{Key: "user", Value: "bob"}, {Key: "token", Value: "PAYalertLOAD"}}, got[1].Request.Form)

	for _, c := range got {
		assert.Equal(t, "POST", c.Request.Method)
		assert.Equal(t, page.Request.URL, c.Request.URL)
	}
	assert.Equal(t, "bob", page.Request.Form[0].Value, "source page must not be modified")
}

func TestFormActionWithoutBody(t *testing.T) {
	assert.Empty(t, NewFormAction(testPayloads).Generate(getPage("http://x.test/?a=1")))
}

func TestQueryAction(t *testing.T) {
	got := NewQueryAction(testPayloads[:1]).Generate(getPage("http://x.test/p/?b=2&a=1#frag"))

	assert.Equal(t, []string{
		"http://x.test/p/?b=PAYalertLOAD&a=1#frag",
		"http://x.test/p/?b=2&a=PAYalertLOAD#frag",
	}, urls(got))
}

func TestQueryActionWithoutParams(t *testing.T) {
	assert.Empty(t, NewQueryAction(testPayloads).Generate(getPage("http://x.test/p/")))
}

func TestQueryActionFanOut(t *testing.T) {
	got := NewQueryAction(testPayloads).Generate(getPage("http://x.test/?a=1&b=2&c=3"))
	// 3 points x 2 payloads
	assert.Len(t, got, 6)
}

func TestFingerprintCollapsesAcrossActions(t *testing.T) {
	// The path action on /?x=1 and a query-less page produce the same /PAYLOAD request.
	one := NewPathAction(testPayloads[:1]).Generate(getPage("http://x.test/?x=1"))
	two := NewPathAction(testPayloads[:1]).Generate(getPage("http://x.test/"))
	require.Len(t, one, 1)
	require.Len(t, two, 1)
	assert.Equal(t, one[0].Fingerprint, two[0].Fingerprint)
}

func encodedTwin(t *testing.T) payloads.Payload {
	t.Helper()
	pl, err := payloads.ForVersion("1.6.0")
	require.NoError(t, err)
	for _, p := range pl {
		if p.Encoded {
			require.Contains(t, p.Value, "%7B%7B")
			return p
		}
	}
	t.Fatal("no encoded payload for 1.6.0")
	return payloads.Payload{}
}

func TestEncodedPayloadIsSentOnce(t *testing.T) {
	p := encodedTwin(t)
	pl := []payloads.Payload{p}

	t.Run("path", func(t *testing.T) {
		got := NewPathAction(pl).Generate(getPage("http://x.test/a/b/?q=1"))
		require.Len(t, got, 2)
		assert.Equal(t, "http://x.test/"+p.Value, got[0].Request.URL)
		assert.Equal(t, "http://x.test/a/"+p.Value, got[1].Request.URL)
		for _, c := range got {
			assert.NotContains(t, c.Request.URL, "%25")
			assert.Contains(t, c.Confirmation.Request.URL, "open")
			assert.NotContains(t, c.Confirmation.Request.URL, "%25")
		}
	})

	t.Run("path with escaped prefix", func(t *testing.T) {
		got := NewPathAction(pl).Generate(getPage("http://x.test/a%20b/c/"))
		require.Len(t, got, 2)
		assert.Equal(t, "http://x.test/a%20b/"+p.Value, got[1].Request.URL)
	})

	t.Run("query", func(t *testing.T) {
		got := NewQueryAction(pl).Generate(getPage("http://x.test/?q=1&r=2"))
		require.Len(t, got, 2)
		assert.Equal(t, "http://x.test/?q="+p.Value+"&r=2", got[0].Request.URL)
		assert.Equal(t, "http://x.test/?q=1&r="+p.Value, got[1].Request.URL)
		for _, c := range got {
			assert.NotContains(t, c.Request.URL, "%25")
		}
	})

	t.Run("form", func(t *testing.T) {
		page := &models.Page{Request: models.Request{
			Method: "POST",
			URL:    "http://x.test/",
			Form:   models.Params{{Key: "q", Value: "1"}},
		}}
		got := NewFormAction(pl).Generate(page)
		require.Len(t, got, 1)
		assert.Equal(t, "q="+p.Value, got[0].Request.Body())
		assert.NotContains(t, got[0].Request.Body(), "%25")
	})
}

func TestRawAndEncodedTwinsHaveDistinctFingerprints(t *testing.T) {
	pl, err := payloads.ForVersion("1.6.0")
	require.NoError(t, err)

	got := NewQueryAction(pl).Generate(getPage("http://x.test/?q=1"))
	seen := map[string]bool{}
	for _, c := range got {
		assert.False(t, seen[c.Fingerprint], c.Request.URL)
		seen[c.Fingerprint] = true
	}
}
