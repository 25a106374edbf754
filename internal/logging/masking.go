// Package logging provides utilities for secure logging with data masking.
package logging

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	tokenScheme = "naf_"
	aliasLength = 16
)

// SecretQueryParams are query parameters whose values never reach logs.
// DDNS clients send the account password in "password".
var SecretQueryParams = []string{"password", "pass", "pwd", "token", "apikey", "api_key"}

// MaskHeader redacts sensitive header values based on header name.
//
// Rules:
//   - Password/secret headers: "[REDACTED]" (no partial reveal)
//   - Authorization: the scheme is kept and the credential goes through MaskToken
//   - API key headers: "****" + last4chars (e.g., "****ab3f")
//   - Other headers: returned unchanged
func MaskHeader(name, value string) string {
	lowerName := strings.ToLower(name)

	if strings.Contains(lowerName, "password") ||
		strings.Contains(lowerName, "secret") ||
		strings.Contains(lowerName, "private-key") {
		return "[REDACTED]"
	}

	switch lowerName {
	case "authorization", "proxy-authorization":
		scheme, cred, ok := strings.Cut(value, " ")
		if !ok {
			return MaskToken(value)
		}
		return scheme + " " + MaskToken(cred)
	case "x-api-key", "x-auth-key", "x-access-key", "x-amz-security-token":
		return lastFour(value)
	}

	return value
}

// MaskToken redacts a bearer credential. For filter tokens the non-secret
// "naf_<alias>_" routing part is kept so log lines stay attributable.
//
//	naf_Ab3xYz9KmNpQrStU_<64 chars> -> naf_Ab3xYz9KmNpQrStU_****wxyz
func MaskToken(raw string) string {
	if strings.HasPrefix(raw, tokenScheme) && len(raw) > len(tokenScheme)+aliasLength+1+4 {
		head := raw[:len(tokenScheme)+aliasLength+1]
		return head + lastFour(raw)
	}
	return lastFour(raw)
}

// MaskQuery redacts secret parameters in a raw query string.
// Unparsable queries are replaced entirely.
func MaskQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "[REDACTED]"
	}
	for key := range values {
		if isSecretParam(key) {
			values[key] = []string{"[REDACTED]"}
		}
	}
	return values.Encode()
}

func isSecretParam(key string) bool {
	key = strings.ToLower(key)
	for _, p := range SecretQueryParams {
		if key == p {
			return true
		}
	}
	return false
}

func lastFour(value string) string {
	if len(value) < 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}

// RedactJSONFields replaces the values of the named fields anywhere in a
// JSON document with "[REDACTED]". Field names match case-insensitively.
//
// If fields is empty or the body is not JSON, the body is returned unchanged.
func RedactJSONFields(body []byte, fields []string) []byte {
	if len(fields) == 0 || len(body) == 0 {
		return body
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	deny := make(map[string]bool, len(fields))
	for _, f := range fields {
		deny[strings.ToLower(f)] = true
	}

	result, err := json.Marshal(redactJSONValue(data, deny))
	if err != nil {
		return body
	}
	return result
}

// redactJSONValue recursively masks JSON values based on the deny set
func redactJSONValue(value interface{}, deny map[string]bool) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			if deny[strings.ToLower(key)] {
				result[key] = "[REDACTED]"
				continue
			}
			result[key] = redactJSONValue(val, deny)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = redactJSONValue(item, deny)
		}
		return result
	default:
		return value
	}
}

// FormatBinaryData formats binary data for logging.
// Returns a human-readable size indicator.
func FormatBinaryData(data []byte) string {
	size := len(data)
	return fmt.Sprintf("[BINARY: %d bytes]", size)
}
