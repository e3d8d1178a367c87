package template

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"mailpipe/internal/models"
)

// Rendered is a final message ready to hand to the provider.
type Rendered struct {
	Subject string
	HTML    string
}

// Defaults are the baseline variables merged under every job's own
// variables. Job values win on key collision.
type Defaults struct {
	AppName    string
	LogoURL    string
	PlanName   string
	PlanPrice  string
	ExpiryDays int
}

// Renderer substitutes {{token}} placeholders in subject and html. It has
// no side effects; identical inputs produce byte-identical output.
type Renderer struct {
	defaults Defaults
	now      func() time.Time
}

// NewRenderer builds a renderer. now may be nil, in which case time.Now is
// used; tests inject a fixed clock.
func NewRenderer(defaults Defaults, now func() time.Time) *Renderer {
	if defaults.ExpiryDays <= 0 {
		defaults.ExpiryDays = 14
	}
	if now == nil {
		now = time.Now
	}
	return &Renderer{defaults: defaults, now: now}
}

// Render merges defaults with job variables and substitutes every
// {{token}} occurrence in subject and html. Tokens are matched exactly and
// case-sensitively; unresolved tokens pass through verbatim. After
// substitution, a logo header is prepended when the body carries no image
// of its own.
func (r *Renderer) Render(tmpl *models.EmailTemplate, variables map[string]string) Rendered {
	merged := map[string]string{
		"app_name":    r.defaults.AppName,
		"expiry_date": r.now().AddDate(0, 0, r.defaults.ExpiryDays).Format("02/01/2006"),
		"plan_name":   r.defaults.PlanName,
		"plan_price":  r.defaults.PlanPrice,
	}
	for k, v := range variables {
		merged[k] = v
	}

	return Rendered{
		Subject: substitute(tmpl.Subject, merged),
		HTML:    r.ensureHeader(substitute(tmpl.HTML, merged)),
	}
}

// substitute applies tokens in sorted key order so output does not depend
// on map iteration order.
func substitute(s string, variables map[string]string) string {
	keys := make([]string, 0, len(variables))
	for k := range variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		s = strings.ReplaceAll(s, "{{"+k+"}}", variables[k])
	}
	return s
}

// ensureHeader prepends the branded logo header unless the body already
// contains an image tag.
func (r *Renderer) ensureHeader(html string) string {
	if strings.Contains(html, "<img") {
		return html
	}
	return r.headerBlock() + html
}

func (r *Renderer) headerBlock() string {
	return fmt.Sprintf(
		`<div style="text-align:center;padding:24px 0;"><img src="%s" alt="%s" height="40" /></div>`,
		r.defaults.LogoURL,
		r.defaults.AppName,
	)
}
