package sandbox

import (
	"regexp"
	"strings"
)

var (
	closureHeader = regexp.MustCompile(`(?s)^(?:async\s+)?(?:function\s*[A-Za-z_$][\w$]*\s*|function\s*)?\(([^()]*)\)\s*(=>)?\s*(.*)$`)
	arrowSingle   = regexp.MustCompile(`(?s)^(?:async\s+)?([A-Za-z_$][\w$]*)\s*=>\s*(.*)$`)
	returnKeyword = regexp.MustCompile(`\breturn\s+`)
	declKeyword   = regexp.MustCompile(`\b(?:const|var)\s+`)
	identPattern  = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)
)

// closure is a parsed rule expression: positional parameter names and the body
// rewritten into expr syntax.
type closure struct {
	params []string
	body   string
}

// parseClosure accepts "(documents, events) => expr", "x => expr",
// "function (a, b) { return expr; }", an immediately invoked "(() => expr)()"
// and bare expressions. Block bodies may hold let/const bindings followed by a
// single return.
func parseClosure(source string) closure {
	src := unwrapInvocation(strings.TrimSpace(source))

	if m := closureHeader.FindStringSubmatch(src); m != nil && (m[2] != "" || strings.HasPrefix(src, "function") || strings.HasPrefix(src, "async function")) {
		if params, ok := splitParams(m[1]); ok {
			return closure{params: params, body: normalizeBody(m[3])}
		}
	}
	if m := arrowSingle.FindStringSubmatch(src); m != nil {
		return closure{params: []string{m[1]}, body: normalizeBody(m[2])}
	}
	return closure{body: normalizeBody(src)}
}

func unwrapInvocation(src string) string {
	for strings.HasPrefix(src, "(") && strings.HasSuffix(src, ")()") {
		inner := strings.TrimSpace(src[1 : len(src)-3])
		if !balanced(inner) {
			break
		}
		src = inner
	}
	return src
}

func splitParams(raw string) ([]string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	parts := strings.Split(raw, ",")
	params := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if !identPattern.MatchString(p) {
			return nil, false
		}
		params = append(params, p)
	}
	return params, true
}

func normalizeBody(body string) string {
	body = strings.TrimSpace(body)
	if isBlock(body) {
		body = strings.TrimSpace(body[1 : len(body)-1])
		body = declKeyword.ReplaceAllString(body, "let ")
		body = returnKeyword.ReplaceAllString(body, "")
	}
	body = strings.TrimSpace(body)
	for strings.HasSuffix(body, ";") {
		body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
	}
	return body
}

// isBlock tells a statement block from an object literal body: blocks return
// or declare something.
func isBlock(body string) bool {
	if !strings.HasPrefix(body, "{") || !strings.HasSuffix(body, "}") {
		return false
	}
	inner := body[1 : len(body)-1]
	if !balanced(inner) {
		return false
	}
	inner = strings.TrimSpace(inner)
	return returnKeyword.MatchString(inner) || declKeyword.MatchString(inner) || strings.HasPrefix(inner, "let ")
}

func balanced(s string) bool {
	depth := 0
	var quote rune
	escaped := false
	for _, r := range s {
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'', '`':
			quote = r
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && quote == 0
}
