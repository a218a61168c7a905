package render

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
)

var (
	// substitutionPattern matches {{ key }} and {{ key = default }}. The tag
	// body may not contain braces.
	substitutionPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

	tagUnescaper = strings.NewReplacer(`\>`, `>`, `\<`, `<`, `\:`, `:`)
)

// inclusionTag is one <#...> span found in a page.
type inclusionTag struct {
	start   int
	end     int // exclusive
	content string
}

// nextInclusion returns the first inclusion tag starting at or after offset.
// A tag opens with a "<#" that isn't preceded by a backslash and closes at
// the first ">" on the same line that isn't preceded by a backslash. An
// opener without a closer on its line is left as text.
func nextInclusion(text string, offset int) (inclusionTag, bool) {
	for i := offset; i+1 < len(text); i++ {
		if text[i] != '<' || text[i+1] != '#' {
			continue
		}
		if i > 0 && text[i-1] == '\\' {
			continue
		}
		for j := i + 2; j < len(text); j++ {
			c := text[j]
			if c == '\n' || c == '\r' {
				break
			}
			if c == '>' && text[j-1] != '\\' {
				return inclusionTag{start: i, end: j + 1, content: text[i+2 : j]}, true
			}
		}
	}
	return inclusionTag{}, false
}

// splitUnescaped splits s around the first sep that isn't preceded by a
// backslash.
func splitUnescaped(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep && (i == 0 || s[i-1] != '\\') {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// parseInclusion turns the content of an inclusion tag into the template
// name and its parameters. Parameters that aren't a single JSON object come
// back as nil.
func parseInclusion(content string) (string, Context) {
	rawName, rawParams, hasParams := splitUnescaped(content, ':')
	name := strings.TrimSpace(tagUnescaper.Replace(rawName))
	if !hasParams {
		return name, nil
	}
	params, err := parseParams(tagUnescaper.Replace(rawParams))
	if err != nil {
		return name, nil
	}
	return name, params
}

var errTrailingData = errors.New("unexpected data after JSON object")

func parseParams(raw string) (Context, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return params, nil
}

// substitute replaces every substitution tag in text with its value from
// ctx, its default text, or nothing.
func substitute(text string, ctx Context) string {
	matches := substitutionPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var out strings.Builder
	out.Grow(len(text))
	last := 0
	for _, m := range matches {
		out.WriteString(text[last:m[0]])
		out.WriteString(resolveSubstitution(text[m[2]:m[3]], ctx))
		last = m[1]
	}
	out.WriteString(text[last:])
	return out.String()
}

func resolveSubstitution(body string, ctx Context) string {
	key, fallback, hasFallback := strings.Cut(body, "=")
	if val, ok := ctx.Lookup(strings.TrimSpace(key)); ok {
		return val
	}
	if hasFallback {
		return strings.TrimSpace(fallback)
	}
	return ""
}
