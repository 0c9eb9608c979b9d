// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package mail

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"net/url"
	"path"
	"strconv"
	texttemplate "text/template"
	"time"

	"github.com/samber/oops"

	"github.com/taskmill/taskmill/internal/auth"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Link paths, relative to the public base URL.
const (
	ConfirmEmailPath  = "/auth/confirm-email"
	PasswordResetPath = "/auth/password-reset/confirm"
)

// DefaultProduct names the service in subjects and bodies.
const DefaultProduct = "Taskmill"

// RendererConfig configures a Renderer.
type RendererConfig struct {
	// BaseURL is the public URL that links in emails point at.
	BaseURL string
	Product string
	// ConfirmTTL and ResetTTL only feed the "valid for" sentence; expiry is
	// enforced by the token store.
	ConfirmTTL time.Duration
	ResetTTL   time.Duration
}

type templateData struct {
	Product  string
	Link     string
	ValidFor string
}

type kindTemplate struct {
	subject  string
	linkPath string
	validFor time.Duration
	text     string
	html     string
}

// Renderer builds Messages from notifications.
type Renderer struct {
	baseURL *url.URL
	product string
	kinds   map[auth.NotificationKind]kindTemplate
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// NewRenderer parses the embedded templates and validates cfg.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("base_url", cfg.BaseURL).Wrap(err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").
			With("base_url", cfg.BaseURL).
			Errorf("base url must be an absolute http(s) url")
	}
	if cfg.Product == "" {
		cfg.Product = DefaultProduct
	}
	if cfg.ConfirmTTL <= 0 {
		cfg.ConfirmTTL = auth.DefaultEmailConfirmTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = auth.DefaultPasswordResetTTL
	}

	text, err := texttemplate.ParseFS(templateFS, "templates/*.txt.tmpl")
	if err != nil {
		return nil, oops.Code("MAIL_TEMPLATE_INVALID").Wrap(err)
	}
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, oops.Code("MAIL_TEMPLATE_INVALID").Wrap(err)
	}

	return &Renderer{
		baseURL: base,
		product: cfg.Product,
		text:    text,
		html:    html,
		kinds: map[auth.NotificationKind]kindTemplate{
			auth.NotificationEmailConfirmation: {
				subject:  "Confirm your " + cfg.Product + " registration",
				linkPath: ConfirmEmailPath,
				validFor: cfg.ConfirmTTL,
				text:     "email_confirmation.txt.tmpl",
				html:     "email_confirmation.html.tmpl",
			},
			auth.NotificationPasswordReset: {
				subject:  "Reset your " + cfg.Product + " password",
				linkPath: PasswordResetPath,
				validFor: cfg.ResetTTL,
				text:     "password_reset.txt.tmpl",
				html:     "password_reset.html.tmpl",
			},
		},
	}, nil
}

// Render builds the email for n.
func (r *Renderer) Render(n auth.Notification) (Message, error) {
	kt, ok := r.kinds[n.Kind]
	if !ok {
		return Message{}, oops.Code("MAIL_UNKNOWN_KIND").
			With("kind", string(n.Kind)).
			Errorf("no template for notification kind %q", n.Kind)
	}
	if n.Token == "" {
		return Message{}, oops.Code("MAIL_INVALID_NOTIFICATION").Errorf("notification carries no token")
	}

	data := templateData{
		Product:  r.product,
		Link:     r.link(kt.linkPath, n.Token),
		ValidFor: formatValidity(kt.validFor),
	}

	var text, html bytes.Buffer
	if err := r.text.ExecuteTemplate(&text, kt.text, data); err != nil {
		return Message{}, oops.Code("MAIL_RENDER_FAILED").With("template", kt.text).Wrap(err)
	}
	if err := r.html.ExecuteTemplate(&html, kt.html, data); err != nil {
		return Message{}, oops.Code("MAIL_RENDER_FAILED").With("template", kt.html).Wrap(err)
	}

	return Message{
		To:      n.Recipient,
		Subject: kt.subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func (r *Renderer) link(linkPath, token string) string {
	u := *r.baseURL
	u.Path = path.Join("/", u.Path, linkPath)
	u.RawQuery = url.Values{"token": {token}}.Encode()
	u.Fragment = ""
	return u.String()
}

// formatValidity renders d as "1 hour", "24 hours" or "15 minutes".
func formatValidity(d time.Duration) string {
	if d%time.Hour == 0 {
		return plural(int(d/time.Hour), "hour")
	}
	return plural(int(d.Round(time.Minute)/time.Minute), "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
