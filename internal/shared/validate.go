package shared

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

var allowedRoles = map[string]bool{
	RoleUser:      true,
	RoleAssistant: true,
	RoleSystem:    true,
}

// ValidateMessages checks a raw `messages` value and returns the typed list.
// Checks run in a fixed order so the first failing rule decides the message:
// shape, count, then per entry presence, role and content.
func ValidateMessages(raw json.RawMessage, maxContent int) ([]ChatMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, ErrInvalidMessages
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, ErrInvalidMessages
	}
	if len(entries) == 0 {
		return nil, ErrInvalidMessages
	}
	if len(entries) > MaxMessages {
		return nil, ErrTooManyMessages
	}

	messages := make([]ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var fields map[string]any
		if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
			return nil, ErrInvalidMessageFormat
		}

		role, content := fields["role"], fields["content"]
		if isEmptyValue(role) || isEmptyValue(content) {
			return nil, ErrInvalidMessageFormat
		}

		roleStr, ok := role.(string)
		if !ok || !allowedRoles[roleStr] {
			return nil, ErrInvalidRole
		}

		contentStr, ok := content.(string)
		if !ok || utf8.RuneCountInString(contentStr) > maxContent {
			return nil, contentError(maxContent)
		}

		messages = append(messages, ChatMessage{Role: roleStr, Content: contentStr})
	}
	return messages, nil
}

// contentError names the limit that was actually applied
func contentError(maxContent int) *RequestError {
	switch maxContent {
	case MaxContentLength:
		return ErrInvalidContent
	case MaxStoredContentLength:
		return ErrInvalidStoredContent
	}
	return &RequestError{
		Err:        fmt.Errorf("Invalid content: must be a string under %d characters", maxContent),
		StatusCode: 400,
	}
}

// isEmptyValue treats null, "", false and 0 as a missing field
func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	}
	return false
}
