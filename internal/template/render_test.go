package template

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpipe/internal/models"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func testRenderer() *Renderer {
	return NewRenderer(Defaults{
		AppName:   "Tareo",
		LogoURL:   "https://tareo.app/logo.png",
		PlanName:  "Pro",
		PlanPrice: "$9.99",
	}, fixedClock())
}

func TestRenderSubstitutesTokens(t *testing.T) {
	r := testRenderer()

	tmpl := &models.EmailTemplate{
		Type:    "welcome",
		Subject: "Hola {{name}}, bienvenido a {{app_name}}",
		HTML:    `<img src="x"/><p>{{name}}, tu plan {{plan_name}} cuesta {{plan_price}}.</p>`,
	}

	out := r.Render(tmpl, map[string]string{"name": "Ana"})

	assert.Equal(t, "Hola Ana, bienvenido a Tareo", out.Subject)
	assert.Equal(t, `<img src="x"/><p>Ana, tu plan Pro cuesta $9.99.</p>`, out.HTML)
}

func TestRenderJobVariablesWinOnCollision(t *testing.T) {
	r := testRenderer()

	tmpl := &models.EmailTemplate{
		Subject: "Plan {{plan_name}}",
		HTML:    `<img src="x"/>{{plan_name}}`,
	}

	out := r.Render(tmpl, map[string]string{"plan_name": "Enterprise"})

	assert.Equal(t, "Plan Enterprise", out.Subject)
	assert.Equal(t, `<img src="x"/>Enterprise`, out.HTML)
}

func TestRenderDefaultExpiryDate(t *testing.T) {
	r := testRenderer()

	tmpl := &models.EmailTemplate{
		Subject: "Expira el {{expiry_date}}",
		HTML:    `<img src="x"/>`,
	}

	out := r.Render(tmpl, nil)

	// fixed clock 01/01/2026 + 14 days
	assert.Equal(t, "Expira el 15/01/2026", out.Subject)
}

func TestRenderUnresolvedTokensPassThrough(t *testing.T) {
	r := testRenderer()

	tmpl := &models.EmailTemplate{
		Subject: "Hola {{nombre_desconocido}}",
		HTML:    `<img src="x"/>{{otro}}`,
	}

	out := r.Render(tmpl, nil)

	assert.Equal(t, "Hola {{nombre_desconocido}}", out.Subject)
	assert.Equal(t, `<img src="x"/>{{otro}}`, out.HTML)
}

func TestRenderTokensAreCaseSensitive(t *testing.T) {
	r := testRenderer()

	tmpl := &models.EmailTemplate{
		Subject: "{{Name}} vs {{name}}",
		HTML:    `<img src="x"/>`,
	}

	out := r.Render(tmpl, map[string]string{"name": "ana"})

	assert.Equal(t, "{{Name}} vs ana", out.Subject)
}

func TestRenderReplacesEveryOccurrence(t *testing.T) {
	r := testRenderer()

	tmpl := &models.EmailTemplate{
		Subject: "{{name}} {{name}}",
		HTML:    `<img src="x"/>{{name}} y {{name}}`,
	}

	out := r.Render(tmpl, map[string]string{"name": "Ana"})

	assert.Equal(t, "Ana Ana", out.Subject)
	assert.Equal(t, `<img src="x"/>Ana y Ana`, out.HTML)
}

func TestRenderIsDeterministic(t *testing.T) {
	r := testRenderer()

	tmpl := &models.EmailTemplate{
		Subject: "{{a}}{{b}}{{c}}",
		HTML:    `{{c}}{{b}}{{a}}`,
	}
	vars := map[string]string{"a": "1", "b": "2", "c": "3"}

	first := r.Render(tmpl, vars)
	for i := 0; i < 20; i++ {
		again := r.Render(tmpl, vars)
		require.Equal(t, first, again)
	}
}

func TestRenderAddsHeaderWhenBodyHasNoImage(t *testing.T) {
	r := testRenderer()

	tmpl := &models.EmailTemplate{
		Subject: "s",
		HTML:    `<p>sin imagen</p>`,
	}

	out := r.Render(tmpl, nil)

	assert.Equal(t, 1, strings.Count(out.HTML, "<img"))
	assert.True(t, strings.HasSuffix(out.HTML, "<p>sin imagen</p>"))
	assert.Contains(t, out.HTML, "https://tareo.app/logo.png")
}

func TestRenderDoesNotDuplicateHeader(t *testing.T) {
	r := testRenderer()

	tmpl := &models.EmailTemplate{
		Subject: "s",
		HTML:    `<img src="propia.png"/><p>con imagen</p>`,
	}

	out := r.Render(tmpl, nil)

	assert.Equal(t, 1, strings.Count(out.HTML, "<img"))
	assert.NotContains(t, out.HTML, "https://tareo.app/logo.png")
}

func TestRenderHeaderRunsAfterSubstitution(t *testing.T) {
	r := testRenderer()

	// The image tag only appears once the token resolves; the header must
	// still be suppressed.
	tmpl := &models.EmailTemplate{
		Subject: "s",
		HTML:    `{{banner}}<p>hola</p>`,
	}

	out := r.Render(tmpl, map[string]string{"banner": `<img src="banner.png"/>`})

	assert.Equal(t, 1, strings.Count(out.HTML, "<img"))
}
