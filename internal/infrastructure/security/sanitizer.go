package security

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

const redactedValue = "[REDACTED]"

// Headers whose values never leave the process.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
}

// Payload keys redacted before persistence. Matched case-insensitively on the whole key.
var sensitiveFields = map[string]bool{
	"auth_token":    true,
	"token":         true,
	"authorization": true,
}

// Query parameters redacted in recorded URLs.
var sensitiveParams = []string{"token", "auth_token", "api_key", "apikey", "access_token"}

// Redacted reports the placeholder used for removed values.
func Redacted() string {
	return redactedValue
}

// SanitizeHeaders flattens headers for logging with sensitive values redacted.
func SanitizeHeaders(headers http.Header) map[string]string {
	sanitized := make(map[string]string, len(headers))
	for key, values := range headers {
		if sensitiveHeaders[strings.ToLower(key)] {
			sanitized[key] = redactedValue
			continue
		}
		sanitized[key] = strings.Join(values, ", ")
	}
	return sanitized
}

// RedactPayload returns a deep copy of payload with credential keys and every
// occurrence of the given secrets replaced. Values that are not JSON-native are
// rendered with fmt.Sprint so the result always marshals.
func RedactPayload(payload map[string]any, secrets ...string) map[string]any {
	if payload == nil {
		return nil
	}
	return redactMap(payload, liveSecrets(secrets)).(map[string]any)
}

func liveSecrets(secrets []string) []string {
	out := make([]string, 0, len(secrets)*2)
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		// A stored "Bearer xyz" also leaks as the bare xyz.
		if bare := strings.TrimSpace(strings.TrimPrefix(s, "Bearer ")); bare != s && bare != "" {
			out = append(out, bare)
		}
	}
	return out
}

func redactMap(m map[string]any, secrets []string) any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if sensitiveFields[strings.ToLower(key)] {
			out[key] = redactedValue
			continue
		}
		out[key] = redactValue(value, secrets)
	}
	return out
}

func redactValue(v any, secrets []string) any {
	switch val := v.(type) {
	case nil, bool, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return val
	case string:
		return redactString(val, secrets)
	case map[string]any:
		return redactMap(val, secrets)
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactMap(item, secrets)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item, secrets)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactString(item, secrets)
		}
		return out
	default:
		return redactString(fmt.Sprint(val), secrets)
	}
}

func redactString(s string, secrets []string) string {
	for _, secret := range secrets {
		if strings.Contains(s, secret) {
			s = strings.ReplaceAll(s, secret, redactedValue)
		}
	}
	return s
}

// RedactText removes secrets from free text such as error messages.
func RedactText(s string, secrets ...string) string {
	return redactString(s, liveSecrets(secrets))
}

// BoundJSON caps a serialized document at maxSize bytes. Oversized or invalid
// documents are wrapped so the stored value is still valid JSON.
func BoundJSON(raw []byte, maxSize int) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if !utf8.Valid(raw) {
		wrapped, _ := json.Marshal(map[string]any{"_binary": true, "_size": len(raw)})
		return wrapped
	}
	if maxSize > 0 && len(raw) > maxSize {
		preview := raw[:maxSize]
		for !utf8.Valid(preview) && len(preview) > 0 {
			preview = preview[:len(preview)-1]
		}
		wrapped, _ := json.Marshal(map[string]any{
			"_truncated": true,
			"_size":      len(raw),
			"_preview":   string(preview),
		})
		return wrapped
	}
	if !json.Valid(raw) {
		wrapped, _ := json.Marshal(map[string]any{"_raw": string(raw), "_format": "text"})
		return wrapped
	}
	return json.RawMessage(raw)
}

// SanitizeURL redacts credential query parameters from a URL.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}

	query := u.Query()
	changed := false
	for key := range query {
		for _, param := range sensitiveParams {
			if strings.EqualFold(key, param) {
				query.Set(key, redactedValue)
				changed = true
			}
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = query.Encode()
	return u.String()
}
