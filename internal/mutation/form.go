package mutation

import (
	"ngescape/internal/models"
	"ngescape/internal/payloads"
)

// FormAction replaces one field of a form-encoded body per candidate.
type FormAction struct {
	payloads []payloads.Payload
}

// NewFormAction creates a FormAction.
func NewFormAction(pl []payloads.Payload) *FormAction {
	return &FormAction{payloads: pl}
}

// Kind returns KindForm.
func (a *FormAction) Kind() Kind { return KindForm }

// Generate returns nothing for pages that were not requested with a form body.
func (a *FormAction) Generate(page *models.Page) []*models.Candidate {
	form := page.Request.Form
	if len(form) == 0 {
		return nil
	}

	return fanOut(KindForm, page, form.Keys(), a.payloads, func(key string, p payloads.Payload) models.Request {
		req := page.Request.Clone()
		if p.Encoded {
			req.Form = form.WithEncoded(key, p.Value)
		} else {
			req.Form = form.With(key, p.Value)
		}
		return req
	})
}
