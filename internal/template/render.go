// Package template renders message content. Templates use single-brace
// {name} placeholders substituted from recipient attributes.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Placeholders returns the distinct placeholder names appearing in content,
// sorted. Used to validate a template's declared variables at create time.
func Placeholders(content string) []string {
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		seen[m[1]] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// MissingVarsError reports every placeholder that could not be resolved, so
// a single render failure surfaces the full list rather than the first hit.
type MissingVarsError struct {
	Missing []string
}

func (e *MissingVarsError) Error() string {
	return fmt.Sprintf("missing template variables: %s", strings.Join(e.Missing, ", "))
}

// Render substitutes {name} placeholders from attrs. A placeholder whose
// attribute is absent or renders to an empty string counts as missing; all
// missing names are collected into one MissingVarsError.
func Render(content string, attrs map[string]any) (string, error) {
	var missing []string
	seen := map[string]bool{}

	out := placeholderPattern.ReplaceAllStringFunc(content, func(ph string) string {
		name := ph[1 : len(ph)-1]
		v, ok := attrs[name]
		s := ""
		if ok && v != nil {
			s = fmt.Sprintf("%v", v)
		}
		if s == "" {
			if !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
			return ph
		}
		return s
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &MissingVarsError{Missing: missing}
	}
	return out, nil
}
