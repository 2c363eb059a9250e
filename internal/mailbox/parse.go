package mailbox

import (
	"encoding/base64"
	"log/slog"
	"strconv"
	"strings"

	"google.golang.org/api/gmail/v1"
)

// parseMessage converts a full-format Gmail message
func parseMessage(msg *gmail.Message) *Message {
	m := &Message{
		ID:   msg.Id,
		Date: strconv.FormatInt(msg.InternalDate, 10),
	}
	if msg.Payload == nil {
		return m
	}

	m.From = header(msg.Payload.Headers, "From")
	m.Subject = header(msg.Payload.Headers, "Subject")
	walkParts(msg.Id, msg.Payload, m)
	return m
}

// walkParts keeps the first text/plain and the first text/html body found
func walkParts(id string, part *gmail.MessagePart, m *Message) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" {
		switch strings.ToLower(part.MimeType) {
		case "text/plain":
			if m.Body == "" {
				m.Body = decodeBody(id, part)
			}
		case "text/html":
			if m.HTMLBody == "" {
				m.HTMLBody = decodeBody(id, part)
			}
		}
	}

	for _, p := range part.Parts {
		walkParts(id, p, m)
	}
}

// decodeBody decodes base64url part data, padded or not
func decodeBody(id string, part *gmail.MessagePart) string {
	data, err := base64.URLEncoding.DecodeString(part.Body.Data)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(part.Body.Data, "="))
	}
	if err != nil {
		slog.Warn("Failed to decode message part", "id", id, "mime_type", part.MimeType, "error", err)
		return ""
	}
	return string(data)
}

func header(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
