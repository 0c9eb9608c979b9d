// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package mail

import (
	"bytes"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/samber/oops"
)

// DefaultFrom is the sender address used when none is configured.
const DefaultFrom = "noreply@taskmill.local"

// Message is a rendered email with a plain text and an HTML alternative.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Validate checks the recipient parses as a single address and that no
// header value can smuggle extra headers.
func (m Message) Validate() error {
	if strings.ContainsAny(m.To, "\r\n") || strings.ContainsAny(m.Subject, "\r\n") {
		return oops.Code("MAIL_INVALID_MESSAGE").Errorf("header values must not contain line breaks")
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return oops.Code("MAIL_INVALID_MESSAGE").With("field", "to").Wrap(err)
	}
	return nil
}

// Encode renders m as a multipart/alternative RFC 5322 message.
func (m Message) Encode(from string, date time.Time) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", m.Text},
		{"text/html; charset=utf-8", m.HTML},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, oops.Code("MAIL_ENCODE_FAILED").Wrap(err)
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, oops.Code("MAIL_ENCODE_FAILED").Wrap(err)
		}
		if err := qp.Close(); err != nil {
			return nil, oops.Code("MAIL_ENCODE_FAILED").Wrap(err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, oops.Code("MAIL_ENCODE_FAILED").Wrap(err)
	}

	var out bytes.Buffer
	header := func(k, v string) {
		out.WriteString(k)
		out.WriteString(": ")
		out.WriteString(v)
		out.WriteString("\r\n")
	}
	header("From", from)
	header("To", m.To)
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", date.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": mw.Boundary()}))
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}
