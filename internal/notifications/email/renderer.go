package email

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"sort"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/osteele/liquid"

	"hearth/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// RenderedEmail is the per-recipient content handed to a provider.
type RenderedEmail struct {
	Subject string
	Text    string
	HTML    string
}

// Personalization holds the variables available to blast templates as
// {{ name }}, {{ first_name }} and {{ email }}.
type Personalization struct {
	Name  string
	Email string
}

func (p Personalization) bindings() map[string]any {
	first, _, _ := strings.Cut(strings.TrimSpace(p.Name), " ")
	return map[string]any{
		"name":       strings.TrimSpace(p.Name),
		"first_name": first,
		"email":      p.Email,
	}
}

// Renderer turns operator-written blast content into text and HTML parts.
// Subject and body are Liquid templates; the surrounding layout is an
// embedded Go template.
type Renderer struct {
	engine    *liquid.Engine
	blastHTML *htmltemplate.Template
	blastText *texttemplate.Template
	leadHTML  *htmltemplate.Template
	leadText  *texttemplate.Template
	siteName  string
	logger    types.Logger
}

// NewRenderer parses the embedded layouts.
func NewRenderer(siteName string, logger types.Logger) (*Renderer, error) {
	engine := liquid.NewEngine()
	engine.RegisterFilter("default", func(value any, fallback string) any {
		if value == nil {
			return fallback
		}
		if s := strings.TrimSpace(fmt.Sprintf("%v", value)); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	r := &Renderer{engine: engine, siteName: siteName, logger: logger}

	var err error
	if r.blastHTML, err = htmltemplate.ParseFS(templateFS, "templates/blast.html"); err != nil {
		return nil, fmt.Errorf("renderer: parse blast.html: %w", err)
	}
	if r.blastText, err = texttemplate.ParseFS(templateFS, "templates/blast.txt"); err != nil {
		return nil, fmt.Errorf("renderer: parse blast.txt: %w", err)
	}
	if r.leadHTML, err = htmltemplate.ParseFS(templateFS, "templates/lead.html"); err != nil {
		return nil, fmt.Errorf("renderer: parse lead.html: %w", err)
	}
	if r.leadText, err = texttemplate.ParseFS(templateFS, "templates/lead.txt"); err != nil {
		return nil, fmt.Errorf("renderer: parse lead.txt: %w", err)
	}
	return r, nil
}

// CompiledBlast is a blast whose subject and body have been parsed once and
// can be rendered for many recipients concurrently.
type CompiledBlast struct {
	r          *Renderer
	rawSubject string
	rawBody    string
	subject    *liquid.Template
	body       *liquid.Template
}

// Compile parses subject and body as Liquid. Content that does not parse
// is sent verbatim.
func (r *Renderer) Compile(subject, body string) *CompiledBlast {
	c := &CompiledBlast{r: r, rawSubject: subject, rawBody: body}
	if tpl, err := r.engine.ParseString(subject); err == nil {
		c.subject = tpl
	} else {
		r.logger.Warn("blast subject is not a valid template, sending as written", "error", err.Error())
	}
	if tpl, err := r.engine.ParseString(body); err == nil {
		c.body = tpl
	} else {
		r.logger.Warn("blast body is not a valid template, sending as written", "error", err.Error())
	}
	return c
}

type blastView struct {
	SiteName       string
	Subject        string
	Body           string
	Paragraphs     [][]string
	UnsubscribeURL string
}

// Render produces the recipient's message. An empty unsubscribeURL omits
// the footer, which is how test sends are rendered.
func (c *CompiledBlast) Render(p Personalization, unsubscribeURL string) (RenderedEmail, error) {
	b := p.bindings()
	subject := renderLiquid(c.subject, c.rawSubject, b)
	body := renderLiquid(c.body, c.rawBody, b)

	view := blastView{
		SiteName:       c.r.siteName,
		Subject:        strings.Join(strings.Fields(subject), " "),
		Body:           strings.TrimSpace(body),
		Paragraphs:     paragraphs(body),
		UnsubscribeURL: unsubscribeURL,
	}

	var text, html bytes.Buffer
	if err := c.r.blastText.Execute(&text, view); err != nil {
		return RenderedEmail{}, fmt.Errorf("renderer: blast text: %w", err)
	}
	if err := c.r.blastHTML.Execute(&html, view); err != nil {
		return RenderedEmail{}, fmt.Errorf("renderer: blast html: %w", err)
	}
	return RenderedEmail{Subject: view.Subject, Text: strings.TrimRight(text.String(), "\n"), HTML: html.String()}, nil
}

func renderLiquid(tpl *liquid.Template, raw string, b map[string]any) string {
	if tpl == nil {
		return raw
	}
	out, err := tpl.RenderString(b)
	if err != nil {
		return raw
	}
	return out
}

// paragraphs splits text on blank lines, keeping single line breaks.
func paragraphs(body string) [][]string {
	body = strings.ReplaceAll(strings.TrimSpace(body), "\r\n", "\n")
	var out [][]string
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		for i := range lines {
			lines[i] = strings.TrimSpace(lines[i])
		}
		out = append(out, lines)
	}
	return out
}

type leadField struct {
	Label string
	Value string
}

type leadView struct {
	KindLabel string
	Name      string
	Email     string
	Phone     string
	Fields    []leadField
	Received  string
}

var leadKindLabels = map[types.LeadKind]string{
	types.LeadReservation:    "reservation request",
	types.LeadJobApplication: "job application",
	types.LeadContact:        "contact message",
}

// RenderLead produces the staff notification for a new lead.
func (r *Renderer) RenderLead(lead types.Lead) (RenderedEmail, error) {
	label := leadKindLabels[lead.Kind]
	if label == "" {
		label = string(lead.Kind)
	}

	keys := make([]string, 0, len(lead.Payload))
	for k := range lead.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	view := leadView{
		KindLabel: label,
		Name:      lead.Name,
		Email:     lead.Email,
		Phone:     lead.Phone,
		Received:  lead.CreatedAt.UTC().Format(time.RFC1123),
	}
	for _, k := range keys {
		view.Fields = append(view.Fields, leadField{
			Label: strings.ReplaceAll(k, "_", " "),
			Value: fmt.Sprintf("%v", lead.Payload[k]),
		})
	}

	var text, html bytes.Buffer
	if err := r.leadText.Execute(&text, view); err != nil {
		return RenderedEmail{}, fmt.Errorf("renderer: lead text: %w", err)
	}
	if err := r.leadHTML.Execute(&html, view); err != nil {
		return RenderedEmail{}, fmt.Errorf("renderer: lead html: %w", err)
	}
	return RenderedEmail{
		Subject: fmt.Sprintf("[%s] New %s from %s", r.siteName, label, lead.Name),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
