package template

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	"go.uber.org/zap"
)

const (
	smsSegmentLength   = 160
	smsMetadataEntries = 2
	truncationSuffix   = "..."
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	styleBlockPattern  = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`)
	tagPattern         = regexp.MustCompile(`<[^>]+>`)
	blankLinesPattern  = regexp.MustCompile(`\n\s*\n`)
)

// routingKeys are metadata entries used for addressing, never shown to the user.
var routingKeys = map[string]struct{}{
	domain.MetadataEmail:     {},
	domain.MetadataPhone:     {},
	domain.MetadataPushToken: {},
	domain.MetadataTemplate:  {},
	"badge":                  {},
}

// TemplateLookup finds stored templates.
type TemplateLookup interface {
	GetByName(ctx context.Context, name string, channel domain.Channel) (*domain.Template, error)
	GetDefault(ctx context.Context, channel domain.Channel) (*domain.Template, error)
}

// Renderer produces channel-ready content for a notification. Stored
// templates win when available; otherwise the built-in layouts are used.
type Renderer struct {
	templates TemplateLookup
	logger    *zap.Logger
}

func NewRenderer(templates TemplateLookup, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{templates: templates, logger: logger}
}

func (r *Renderer) Render(ctx context.Context, n domain.Notification) (domain.RenderedContent, error) {
	if !n.Channel.IsValid() {
		return domain.RenderedContent{}, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, n.Channel)
	}

	if tmpl := r.lookup(ctx, n); tmpl != nil {
		return r.renderStored(*tmpl, n), nil
	}
	return renderBuiltin(n)
}

func (r *Renderer) lookup(ctx context.Context, n domain.Notification) *domain.Template {
	if r.templates == nil {
		return nil
	}

	name := strings.TrimSpace(n.Metadata[domain.MetadataTemplate])
	var (
		tmpl *domain.Template
		err  error
	)
	if name != "" {
		tmpl, err = r.templates.GetByName(ctx, name, n.Channel)
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("template not found, trying channel default",
				zap.String("notificationId", n.ID),
				zap.String("template", name),
				zap.String("channel", n.Channel.Key()),
			)
			tmpl, err = r.templates.GetDefault(ctx, n.Channel)
		}
	} else {
		tmpl, err = r.templates.GetDefault(ctx, n.Channel)
	}

	switch {
	case err == nil:
		return tmpl
	case errors.Is(err, domain.ErrNotFound):
	default:
		r.logger.Warn("template lookup failed, using built-in layout",
			zap.String("notificationId", n.ID),
			zap.String("template", name),
			zap.String("channel", n.Channel.Key()),
			zap.Error(err),
		)
	}
	return nil
}

func (r *Renderer) renderStored(tmpl domain.Template, n domain.Notification) domain.RenderedContent {
	vars := variables(n)

	switch n.Channel {
	case domain.ChannelEmail:
		body := r.interpolate(tmpl.Body, escapeHTML(vars), tmpl.Name)
		subject := strings.TrimSpace(r.interpolate(tmpl.Subject, vars, tmpl.Name))
		if subject == "" {
			subject = "Notification: " + tmpl.Name
		}
		return domain.RenderedContent{
			Subject: subject,
			HTML:    body,
			Text:    StripHTML(body),
		}
	case domain.ChannelSMS:
		body := r.interpolate(tmpl.Body, vars, tmpl.Name)
		return domain.RenderedContent{Text: Truncate(StripHTML(body), smsSegmentLength)}
	default:
		body := r.interpolate(tmpl.Body, vars, tmpl.Name)
		title := strings.TrimSpace(r.interpolate(tmpl.Subject, vars, tmpl.Name))
		if title == "" {
			title = n.Title
		}
		payload := &domain.PushPayload{Title: title, Message: body, Badge: badge(n.Metadata)}
		return domain.RenderedContent{Subject: title, Text: body, Push: payload}
	}
}

// interpolate replaces {{key}} placeholders. Unknown keys are left in place.
func (r *Renderer) interpolate(text string, vars map[string]string, templateName string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := vars[key]
		if !ok {
			r.logger.Warn("template variable not found",
				zap.String("template", templateName),
				zap.String("variable", key),
			)
			return match
		}
		return value
	})
}

// escapeHTML returns a copy of vars safe to place inside HTML markup.
func escapeHTML(vars map[string]string) map[string]string {
	escaped := make(map[string]string, len(vars))
	for k, v := range vars {
		escaped[k] = htmltemplate.HTMLEscapeString(v)
	}
	return escaped
}

func variables(n domain.Notification) map[string]string {
	vars := make(map[string]string, len(n.Metadata)+3)
	for k, v := range n.Metadata {
		vars[k] = v
	}
	vars["title"] = n.Title
	vars["message"] = n.Message
	vars["userId"] = n.UserID
	return vars
}

var emailLayout = htmltemplate.Must(htmltemplate.New("email").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
<h1 style="color: #007bff; border-bottom: 2px solid #007bff; padding-bottom: 12px;">{{.Title}}</h1>
<div>{{range $i, $line := .Lines}}{{if $i}}<br>{{end}}{{$line}}{{end}}</div>
{{- if .Details}}
<div style="background-color: #f9f9f9; border-left: 4px solid #007bff; padding: 15px; margin-top: 20px;">
<h3 style="margin: 0 0 10px 0; font-size: 14px; text-transform: uppercase;">Additional Information</h3>
{{- range .Details}}
<div><strong>{{.Key}}:</strong> {{.Value}}</div>
{{- end}}
</div>
{{- end}}
</body>
</html>`))

type detail struct {
	Key   string
	Value string
}

type emailView struct {
	Title   string
	Lines   []string
	Details []detail
}

func renderBuiltin(n domain.Notification) (domain.RenderedContent, error) {
	switch n.Channel {
	case domain.ChannelEmail:
		view := emailView{
			Title:   n.Title,
			Lines:   strings.Split(n.Message, "\n"),
			Details: details(n.Metadata),
		}
		var buf bytes.Buffer
		if err := emailLayout.Execute(&buf, view); err != nil {
			return domain.RenderedContent{}, fmt.Errorf("failed to render email layout: %w", err)
		}

		text := n.Title + "\n\n" + n.Message
		for _, d := range view.Details {
			text += "\n" + d.Key + ": " + d.Value
		}
		return domain.RenderedContent{Subject: n.Title, HTML: buf.String(), Text: text}, nil

	case domain.ChannelSMS:
		text := n.Title + "\n\n" + n.Message
		if ds := details(n.Metadata); len(ds) > 0 {
			if len(ds) > smsMetadataEntries {
				ds = ds[:smsMetadataEntries]
			}
			parts := make([]string, 0, len(ds))
			for _, d := range ds {
				parts = append(parts, d.Key+": "+d.Value)
			}
			text += "\n\n" + strings.Join(parts, " | ")
		}
		return domain.RenderedContent{Text: Truncate(text, smsSegmentLength)}, nil

	default:
		payload := &domain.PushPayload{Title: n.Title, Message: n.Message, Badge: badge(n.Metadata)}
		return domain.RenderedContent{Subject: n.Title, Text: n.Message, Push: payload}, nil
	}
}

// details returns the displayable metadata sorted by key.
func details(metadata map[string]string) []detail {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if _, skip := routingKeys[k]; skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]detail, 0, len(keys))
	for _, k := range keys {
		out = append(out, detail{Key: k, Value: metadata[k]})
	}
	return out
}

func badge(metadata map[string]string) *int {
	raw := strings.TrimSpace(metadata["badge"])
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// StripHTML reduces an HTML document to readable plain text.
func StripHTML(html string) string {
	text := styleBlockPattern.ReplaceAllString(html, "")
	text = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n").Replace(text)
	text = tagPattern.ReplaceAllString(text, "")
	text = strings.NewReplacer(
		"&nbsp;", " ",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#34;", `"`,
		"&#39;", "'",
		"&#039;", "'",
		"&amp;", "&",
	).Replace(text)
	text = blankLinesPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Truncate cuts text to at most limit runes, ending with "..." when shortened.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= len(truncationSuffix) {
		return string(runes[:limit])
	}
	return string(runes[:limit-len(truncationSuffix)]) + truncationSuffix
}
