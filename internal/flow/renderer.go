package flow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// ErrUnknownRenderTag is returned for tags the template renderer has no
// template for.
var ErrUnknownRenderTag = errors.New("unknown render tag")

var replyTemplates = template.Must(template.New("replies").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`
{{define "quote"}}¡Listo! La {{.product}} de {{.size}} cuesta {{.price}}. Puedes comprarla aquí: {{.link}}{{if .upsell}}
{{.upsell}}{{end}}{{end}}
{{define "no_exact_match"}}No tenemos {{.product}} exactamente de {{.requested}}.{{if .alternatives}} Las medidas más cercanas son: {{join .alternatives ", "}}.{{end}} Ya le pasé tu solicitud a un asesor para que te cotice la medida exacta.{{end}}
{{define "wholesale_ack"}}¡Excelente! Por {{.quantity}} piezas de {{.product}} te toca precio de mayoreo{{if .wholesale_price}} desde {{.wholesale_price}} c/u{{end}}. Un asesor te confirma disponibilidad y envío en breve.{{end}}
`))

// TemplateRenderer voices tagged replies with fixed Spanish templates. It is
// the fallback when the generative renderer is unavailable.
type TemplateRenderer struct{}

var _ Renderer = TemplateRenderer{}

// Render executes the template registered for tag.
func (TemplateRenderer) Render(_ context.Context, tag string, facts map[string]any) (string, error) {
	if replyTemplates.Lookup(tag) == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownRenderTag, tag)
	}
	if facts == nil {
		facts = map[string]any{}
	}
	var buf bytes.Buffer
	if err := replyTemplates.ExecuteTemplate(&buf, tag, facts); err != nil {
		return "", fmt.Errorf("render %s: %w", tag, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
