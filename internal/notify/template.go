// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package notify

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/samber/oops"
)

// Template names an account email.
type Template string

// Templates.
const (
	TemplateVerification Template = "verification"
	TemplateRecovery     Template = "recovery"
)

type templateSet struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
	path    string
}

// templateData is what every template sees.
type templateData struct {
	AppName string
	Link    string
}

var templates = map[Template]templateSet{
	TemplateVerification: {
		path:    "verification",
		subject: texttemplate.Must(texttemplate.New("subject").Parse(`Your Activation Link for {{.AppName}}`)),
		text: texttemplate.Must(texttemplate.New("text").Parse(
			`Please use the following link to activate your account on {{.AppName}}: {{.Link}}`)),
		html: htmltemplate.Must(htmltemplate.New("html").Parse(
			`<p>Please use the following link to activate your account on {{.AppName}}: ` +
				`<strong><a href="{{.Link}}" target="_blank">Verify Email</a></strong></p>`)),
	},
	TemplateRecovery: {
		path:    "recovery",
		subject: texttemplate.Must(texttemplate.New("subject").Parse(`Your Recovery Link for {{.AppName}}`)),
		text: texttemplate.Must(texttemplate.New("text").Parse(
			`Please use the following link to reset your password on {{.AppName}}: {{.Link}}`)),
		html: htmltemplate.Must(htmltemplate.New("html").Parse(
			`<p>Please use the following link to reset your password on {{.AppName}}: ` +
				`<strong><a href="{{.Link}}" target="_blank">Reset Password</a></strong></p>`)),
	},
}

// Rendered is a ready-to-send email body.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Render fills tmpl for code. domain is the public base URL the link
// points at.
func Render(tmpl Template, appName, domain, code string) (*Rendered, error) {
	set, ok := templates[tmpl]
	if !ok {
		return nil, oops.Code("TEMPLATE_UNKNOWN").With("template", tmpl).Errorf("unknown template")
	}
	data := templateData{
		AppName: appName,
		Link:    strings.TrimSuffix(domain, "/") + "/" + set.path + "/" + code,
	}

	var subject, text, html bytes.Buffer
	if err := set.subject.Execute(&subject, data); err != nil {
		return nil, oops.Code("TEMPLATE_RENDER_FAILED").With("template", tmpl).With("part", "subject").Wrap(err)
	}
	if err := set.text.Execute(&text, data); err != nil {
		return nil, oops.Code("TEMPLATE_RENDER_FAILED").With("template", tmpl).With("part", "text").Wrap(err)
	}
	if err := set.html.Execute(&html, data); err != nil {
		return nil, oops.Code("TEMPLATE_RENDER_FAILED").With("template", tmpl).With("part", "html").Wrap(err)
	}
	return &Rendered{Subject: subject.String(), Text: text.String(), HTML: html.String()}, nil
}
