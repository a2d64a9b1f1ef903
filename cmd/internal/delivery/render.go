package delivery

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltpl "html/template"
	texttpl "text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	textTemplates = texttpl.Must(texttpl.ParseFS(templateFS, "templates/*.txt.tmpl"))
	htmlTemplates = htmltpl.Must(htmltpl.ParseFS(templateFS, "templates/*.html.tmpl"))
)

var subjects = map[string]string{
	TemplateVerifyEmail:   "Confirm your email address",
	TemplateResetPassword: "Reset your password",
}

// ErrUnknownTemplate is returned by Render for a template it does not have.
var ErrUnknownTemplate = errors.New("delivery: unknown template")

// Rendered is a message ready to send.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Render fills the job's template with its data.
func Render(job EmailJob) (Rendered, error) {
	subject, ok := subjects[job.Template]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, job.Template)
	}

	var text, html bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, job.Template+".txt.tmpl", job.Data); err != nil {
		return Rendered{}, fmt.Errorf("delivery: render text %s: %w", job.Template, err)
	}
	if err := htmlTemplates.ExecuteTemplate(&html, job.Template+".html.tmpl", job.Data); err != nil {
		return Rendered{}, fmt.Errorf("delivery: render html %s: %w", job.Template, err)
	}
	return Rendered{Subject: subject, Text: text.String(), HTML: html.String()}, nil
}
