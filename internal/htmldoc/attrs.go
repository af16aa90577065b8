package htmldoc

import (
	"bytes"
	"strings"
)

// attrSpan locates one attribute inside a raw start tag. lead is where the
// whitespace before it begins, so raw[lead:end] removes it cleanly.
type attrSpan struct {
	key   string
	lead  int
	start int
	end   int
}

// scanTag finds the end of the tag name and the attribute spans of a raw
// start tag, following the tokenizer's attribute rules.
func scanTag(raw []byte) (int, []attrSpan) {
	i := 1 // '<'
	for i < len(raw) && !isSpace(raw[i]) && raw[i] != '/' && raw[i] != '>' {
		i++
	}
	nameEnd := i

	var attrs []attrSpan
	for i < len(raw) {
		lead := i
		for i < len(raw) && (isSpace(raw[i]) || raw[i] == '/') {
			i++
		}
		if i >= len(raw) || raw[i] == '>' {
			break
		}

		start := i
		i++ // a name may start with '='
		for i < len(raw) && !isSpace(raw[i]) && raw[i] != '/' && raw[i] != '>' && raw[i] != '=' {
			i++
		}
		key := strings.ToLower(string(raw[start:i]))

		j := i
		for j < len(raw) && isSpace(raw[j]) {
			j++
		}
		if j < len(raw) && raw[j] == '=' {
			i = j + 1
			for i < len(raw) && isSpace(raw[i]) {
				i++
			}
			if i < len(raw) && (raw[i] == '"' || raw[i] == '\'') {
				q := raw[i]
				i++
				for i < len(raw) && raw[i] != q {
					i++
				}
				if i < len(raw) {
					i++
				}
			} else {
				for i < len(raw) && !isSpace(raw[i]) && raw[i] != '>' {
					i++
				}
			}
		}
		attrs = append(attrs, attrSpan{key: key, lead: lead, start: start, end: i})
	}
	return nameEnd, attrs
}

// setCheckedAttr returns raw with the checked attribute present or absent.
// A new attribute goes after the last existing one.
func setCheckedAttr(raw []byte, checked bool) []byte {
	nameEnd, attrs := scanTag(raw)

	var found []attrSpan
	for _, a := range attrs {
		if a.key == checkedAttr {
			found = append(found, a)
		}
	}

	switch {
	case checked && len(found) > 0, !checked && len(found) == 0:
		return raw
	case checked:
		at := nameEnd
		if len(attrs) > 0 {
			at = attrs[len(attrs)-1].end
		}
		var out bytes.Buffer
		out.Write(raw[:at])
		out.WriteString(" " + checkedAttr)
		out.Write(raw[at:])
		return out.Bytes()
	default:
		var out bytes.Buffer
		prev := 0
		for _, a := range found {
			out.Write(raw[prev:a.lead])
			prev = a.end
		}
		out.Write(raw[prev:])
		return out.Bytes()
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
