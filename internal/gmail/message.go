package gmail

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

// EmailMessage represents an email to be sent
type EmailMessage struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	IsHTML  bool
}

// Build renders msg in RFC 822 form.
func (msg *EmailMessage) Build() ([]byte, error) {
	if len(msg.To) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	if msg.Subject == "" {
		return nil, errors.New("subject is required")
	}
	if msg.Body == "" {
		return nil, errors.New("body is required")
	}

	var b strings.Builder
	writeHeader(&b, "To", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		writeHeader(&b, "Cc", strings.Join(msg.Cc, ", "))
	}
	if len(msg.Bcc) > 0 {
		writeHeader(&b, "Bcc", strings.Join(msg.Bcc, ", "))
	}
	writeHeader(&b, "Subject", encodeRFC2047(msg.Subject))
	if msg.IsHTML {
		writeHeader(&b, "Content-Type", `text/html; charset="UTF-8"`)
	} else {
		writeHeader(&b, "Content-Type", `text/plain; charset="UTF-8"`)
	}
	writeHeader(&b, "MIME-Version", "1.0")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	return []byte(b.String()), nil
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

// encodeRFC2047 encodes a string for use in email headers according to RFC 2047
// This is necessary for non-ASCII characters (like German umlauts) in subjects
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}

// MessageSummary is the flattened view of a message returned by searches.
type MessageSummary struct {
	ID          string           `json:"id"`
	ThreadID    string           `json:"threadId"`
	From        string           `json:"from,omitempty"`
	To          string           `json:"to,omitempty"`
	Subject     string           `json:"subject,omitempty"`
	Date        string           `json:"date,omitempty"`
	Snippet     string           `json:"snippet,omitempty"`
	LabelIDs    []string         `json:"labelIds,omitempty"`
	Unread      bool             `json:"unread"`
	Attachments []AttachmentInfo `json:"attachments,omitempty"`
}

// AttachmentInfo represents an attachment's metadata
type AttachmentInfo struct {
	PartID       string `json:"partId"`
	AttachmentID string `json:"attachmentId"`
	Filename     string `json:"filename"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
}

// Summarize extracts the headers, labels and attachments of msg.
func Summarize(msg *gmail.Message) MessageSummary {
	if msg == nil {
		return MessageSummary{}
	}
	s := MessageSummary{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		LabelIDs: msg.LabelIds,
	}
	for _, l := range msg.LabelIds {
		if l == "UNREAD" {
			s.Unread = true
		}
	}
	if msg.Payload == nil {
		return s
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			s.From = h.Value
		case "to":
			s.To = h.Value
		case "subject":
			s.Subject = h.Value
		case "date":
			s.Date = h.Value
		}
	}
	s.Attachments = Attachments(msg)
	return s
}

// Attachments lists the attachments of msg.
func Attachments(msg *gmail.Message) []AttachmentInfo {
	var attachments []AttachmentInfo
	walkParts(msg.Payload, func(part *gmail.MessagePart) {
		if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
			attachments = append(attachments, AttachmentInfo{
				PartID:       part.PartId,
				AttachmentID: part.Body.AttachmentId,
				Filename:     part.Filename,
				MimeType:     part.MimeType,
				Size:         part.Body.Size,
			})
		}
	})
	return attachments
}

// MessageBody extracts the text or html body of msg.
func MessageBody(msg *gmail.Message, format string) (string, error) {
	var target string
	switch format {
	case "", "text":
		format, target = "text", "text/plain"
	case "html":
		target = "text/html"
	default:
		return "", fmt.Errorf("invalid format %s, must be 'text' or 'html'", format)
	}

	var body string
	walkParts(msg.Payload, func(part *gmail.MessagePart) {
		if body == "" && part.MimeType == target && part.Body != nil && part.Body.Data != "" {
			body = part.Body.Data
		}
	})
	if body == "" {
		return "", fmt.Errorf("no %s body found in message", format)
	}

	decoded, err := decodeBase64(body)
	if err != nil {
		return "", fmt.Errorf("failed to decode message body: %w", err)
	}
	return string(decoded), nil
}

// walkParts recursively walks through message parts
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, subpart := range part.Parts {
		walkParts(subpart, fn)
	}
}

// decodeBase64 decodes Gmail's base64url payloads, tolerating missing
// padding and falling back to standard encoding.
func decodeBase64(data string) ([]byte, error) {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment data: %w", err)
	}
	return decoded, nil
}
