package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Pre-compiled: the analyzer parses every model response.
var (
	// Matches ```json\n{...}\n```, ```{...}```, ``` json{...}``` and friends
	codeFenceStartRegex = regexp.MustCompile(`(?s)^` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}\s*$`)
	codeFenceAnyRegex   = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRegex       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)^\s*//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)

	objectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	arrayRegex  = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// maxParseInput bounds what we are willing to feed to the JSON decoder.
const maxParseInput = 10 * 1024 * 1024

// repair is one attempt at turning model output into decodable JSON. An
// empty result skips the attempt.
type repair struct {
	name  string
	apply func(string) string
}

// repairs run in order until one decodes. Extraction on the uncleaned text
// comes last because model-quoted code often holds "//" inside strings,
// which comment stripping would cut.
var repairs = []repair{
	{"direct", func(s string) string { return s }},
	{"fences", removeCodeFences},
	{"cleanup", func(s string) string { return cleanupJSON(removeCodeFences(s)) }},
	{"extract", func(s string) string { return extractJSON(cleanupJSON(removeCodeFences(s))) }},
	{"extract-raw", func(s string) string {
		return trailingCommaRegex.ReplaceAllString(extractJSON(removeCodeFences(s)), "$1")
	}},
}

// ParseJSON decodes model output into T, tolerating code fences, trailing
// commas, unquoted keys, comments and prose around the payload.
func ParseJSON[T any](text string, log *zap.Logger) (T, error) {
	var zero T
	if len(text) > maxParseInput {
		return zero, fmt.Errorf("input exceeds size limit (%d > %d bytes)", len(text), maxParseInput)
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zero, fmt.Errorf("empty input")
	}
	if log == nil {
		log = zap.NewNop()
	}

	tried := make(map[string]bool, len(repairs))
	var firstErr error
	for _, r := range repairs {
		candidate := r.apply(trimmed)
		if candidate == "" || tried[candidate] {
			continue
		}
		tried[candidate] = true
		result, err := tryDirectParse[T](candidate)
		if err == nil {
			if r.name != "direct" {
				log.Debug("recovered JSON from model output", zap.String("repair", r.name))
			}
			return result, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	log.Debug("JSON repairs exhausted", zap.Error(firstErr), zap.String("preview", preview(text, 100)))
	return zero, fmt.Errorf("all JSON parsing strategies failed: %w", firstErr)
}

func tryDirectParse[T any](text string) (T, error) {
	var result T
	err := json.Unmarshal([]byte(text), &result)
	return result, err
}

func removeCodeFences(text string) string {
	cleaned := codeFenceStartRegex.ReplaceAllString(text, "$1")
	if cleaned == text {
		if m := codeFenceAnyRegex.FindStringSubmatch(text); m != nil {
			cleaned = m[1]
		}
	}
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.Trim(cleaned, "`")
	}
	return strings.TrimSpace(cleaned)
}

// cleanupJSON does not convert single quotes: that would corrupt valid
// strings containing apostrophes.
func cleanupJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	cleaned = unquotedKeyRegex.ReplaceAllString(cleaned, `$1"$2":`)
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = multiLineCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// extractJSON returns the outermost object or array, whichever opens first,
// so an array of objects is not mistaken for its first element.
func extractJSON(text string) string {
	obj, arr := strings.IndexByte(text, '{'), strings.IndexByte(text, '[')
	if arr >= 0 && (obj < 0 || arr < obj) {
		if match := arrayRegex.FindString(text); match != "" {
			return match
		}
	}
	if match := objectRegex.FindString(text); match != "" {
		return match
	}
	return arrayRegex.FindString(text)
}

func preview(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
