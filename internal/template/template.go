// Package template substitutes {{dotted.path}} tokens in step configuration
// strings against the event context captured at run creation.
package template

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

var tokenRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)\s*\}\}`)

// Render replaces every {{path}} token in tmpl with the value found by
// walking ctx segment by segment. A missing segment, a traversal through a
// non-object, a null value, or a non-scalar leaf all render as the empty
// string; scalar values are stringified. The pass is single and
// non-recursive, so values containing braces are never re-expanded, and a
// template without tokens comes back unchanged.
func Render(tmpl string, ctx map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	container := gabs.Wrap(ctx)
	return tokenRe.ReplaceAllStringFunc(tmpl, func(token string) string {
		path := tokenRe.FindStringSubmatch(token)[1]
		resolved := container.Path(path)
		if resolved == nil {
			return ""
		}
		return stringify(resolved.Data())
	})
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		// Objects, arrays and nulls are not printable leaf values.
		return ""
	}
}
