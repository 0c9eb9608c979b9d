// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package mail_test

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	netmail "net/mail"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/internal/mail"
	"github.com/taskmill/taskmill/pkg/errutil"
)

func TestMessage_Encode(t *testing.T) {
	msg := mail.Message{
		To:      "alice@example.com",
		Subject: "Подтверждение",
		Text:    "plain body",
		HTML:    "<p>html body</p>",
	}
	date := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, err := msg.Encode(mail.DefaultFrom, date)
	require.NoError(t, err)

	parsed, err := netmail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "noreply@taskmill.local", parsed.Header.Get("From"))
	assert.Equal(t, "alice@example.com", parsed.Header.Get("To"))
	assert.Equal(t, "1.0", parsed.Header.Get("MIME-Version"))

	subject, err := new(mime.WordDecoder).DecodeHeader(parsed.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Подтверждение", subject)

	sent, err := parsed.Header.Date()
	require.NoError(t, err)
	assert.True(t, sent.Equal(date))

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(parsed.Body, params["boundary"])
	var types, bodies []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(part)
		require.NoError(t, err)
		types = append(types, part.Header.Get("Content-Type"))
		bodies = append(bodies, string(body))
	}
	assert.Equal(t, []string{"text/plain; charset=utf-8", "text/html; charset=utf-8"}, types)
	assert.Equal(t, []string{"plain body", "<p>html body</p>"}, bodies)
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name string
		msg  mail.Message
	}{
		{"header injection in recipient", mail.Message{To: "a@example.com\r\nBcc: b@example.com", Subject: "s"}},
		{"header injection in subject", mail.Message{To: "a@example.com", Subject: "s\nBcc: b@example.com"}},
		{"not an address", mail.Message{To: "not-an-address", Subject: "s"}},
		{"empty recipient", mail.Message{Subject: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errutil.AssertErrorCode(t, tt.msg.Validate(), "MAIL_INVALID_MESSAGE")
			_, err := tt.msg.Encode(mail.DefaultFrom, time.Now())
			require.Error(t, err)
		})
	}

	assert.NoError(t, mail.Message{To: "Alice <alice@example.com>", Subject: "hi"}.Validate())
}
