package report

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var ErrEmptyInput = errors.New("report: input is empty")

// Keys whose values are redacted when the input turns out to be a JSON
// scan export. Matching is case-insensitive on the full key name.
var secretKeys = map[string]struct{}{
	"api_key":       {},
	"apikey":        {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"password":      {},
	"secret":        {},
	"client_secret": {},
	"private_key":   {},
	"authorization": {},
	"credential":    {},
	"credentials":   {},
}

const redactedValue = "[REDACTED]"

var (
	lineEndingRe = regexp.MustCompile(`\r\n?`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
)

// Normalize prepares a raw report for finding extraction. JSON payloads are
// redacted and pretty-printed so scanner exports read like text; line
// endings become \n, runs of blank lines collapse to one, and trailing
// whitespace is stripped per line.
func Normalize(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrEmptyInput
	}

	if rendered, ok := renderJSON(text); ok {
		text = rendered
	}

	text = lineEndingRe.ReplaceAllString(text, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n"), nil
}

// renderJSON reports whether text is a JSON object or array and, if so,
// returns it re-marshaled with secret values redacted.
func renderJSON(text string) (string, bool) {
	var payload any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return "", false
	}
	switch payload.(type) {
	case map[string]any, []any:
	default:
		return "", false
	}

	redacted := redactSecrets(payload)
	out, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return "", false
	}
	return string(out), true
}

func redactSecrets(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if _, secret := secretKeys[strings.ToLower(k)]; secret {
				out[k] = redactedValue
				continue
			}
			out[k] = redactSecrets(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = redactSecrets(inner)
		}
		return out
	default:
		return v
	}
}
