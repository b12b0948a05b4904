// Package whatsapp provides the outbound messaging channel client used by
// the broadcast dispatcher: one templated send plus one free-form text send
// per recipient.
package whatsapp

import (
	"fmt"
	"regexp"
)

// SendError is a classified channel failure. Permanent errors (validation
// class: bad number, rejected template) must not be retried; everything
// else is transient and may be.
type SendError struct {
	StatusCode int
	Permanent  bool
	Message    string
}

func (e *SendError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("whatsapp send failed (%s, status %d): %s", kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("whatsapp send failed (%s): %s", kind, e.Message)
}

// IsPermanent reports whether err is a send failure that retrying cannot
// fix. Unclassified errors (transport, context) count as transient.
func IsPermanent(err error) bool {
	if se, ok := err.(*SendError); ok {
		return se.Permanent
	}
	return false
}

// TemplateMessage is the structured opener sent from a pre-approved
// channel template. Text carries the rendered template body for gateways
// that take it inline instead of resolving Name server-side.
type TemplateMessage struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
	Text   string            `json:"text,omitempty"`
}

type sendRequest struct {
	To       string           `json:"to"`
	Type     string           `json:"type"` // "template" or "text"
	Text     string           `json:"text,omitempty"`
	Template *TemplateMessage `json:"template,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// ValidPhone reports whether phone is a plausible E.164 recipient
// identifier.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}
