package prompts

import (
	"fmt"
	"regexp"
	"strings"
)

var variablePattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render replaces {{variable}} placeholders with values from vars.
func Render(template string, vars map[string]string) (string, error) {
	var missing []string
	for _, name := range variables(template) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}

	return variablePattern.ReplaceAllStringFunc(template, func(match string) string {
		return vars[match[2:len(match)-2]]
	}), nil
}

func variables(template string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range variablePattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
