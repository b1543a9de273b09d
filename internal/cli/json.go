package cli

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// keys, string values, literals and numbers, in that order of precedence
var jsonToken = regexp.MustCompile(`"(?:\\.|[^\\"])*"(?:\s*:)?|\b(?:true|false|null)\b|-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?`)

// HighlightJSON colors a JSON document for terminal output. It is a no-op
// when colors are disabled.
func HighlightJSON(doc string) string {
	if !Enabled() {
		return doc
	}

	return jsonToken.ReplaceAllStringFunc(doc, func(tok string) string {
		switch {
		case strings.HasSuffix(tok, ":"):
			key := strings.TrimRight(tok[:len(tok)-1], " \t")
			return Stylize(key, Blue) + ":"
		case tok[0] == '"':
			return Stylize(tok, Green)
		case tok == "true", tok == "false":
			return Stylize(tok, Yellow)
		case tok == "null":
			return Stylize(tok, DimCode)
		}
		return Stylize(tok, Purple)
	})
}

// PrettyFormat indents v as JSON and highlights it. Strings and byte slices
// are assumed to already hold JSON.
func PrettyFormat(v interface{}) string {
	var doc string
	switch t := v.(type) {
	case string:
		doc = t
	case []byte:
		doc = string(t)
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%+v", v)
		}
		doc = string(b)
	}
	return HighlightJSON(doc)
}
