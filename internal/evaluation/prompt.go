package evaluation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// varPattern matches {{variable}} placeholders in prompt templates.
var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// templateVars returns the distinct placeholder names used in tmpl, sorted.
func templateVars(tmpl string) []string {
	seen := make(map[string]struct{})
	for _, m := range varPattern.FindAllStringSubmatch(tmpl, -1) {
		seen[m[1]] = struct{}{}
	}
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// renderPrompt substitutes {{variable}} placeholders in tmpl from vars.
// Placeholders with no matching entry are an error: a prompt sent with a
// literal "{{original_transcript}}" in it produces garbage critiques, so
// missing variables fail the step instead.
func renderPrompt(tmpl string, vars map[string]string) (string, error) {
	var missing []string
	out := varPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := varPattern.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("evaluation: prompt template references undefined variables: %s",
			strings.Join(missing, ", "))
	}
	return out, nil
}
