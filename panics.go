package rules

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Recover turns a panic raised while calling a provider or handler into an
// ErrPanic error stored in errp. It must be deferred directly:
//
//	defer rules.Recover(logger, "registers.create", &err)
func Recover(logger Logger, op string, errp *error, fields ...map[string]any) {
	rec := recover()
	if rec == nil {
		return
	}

	stack := make([]byte, 8096)
	stack = cleanStackTrace(stack[:runtime.Stack(stack, false)])

	meta := map[string]any{"operation": op}
	if len(fields) > 0 {
		for k, v := range fields[0] {
			meta[k] = v
		}
	}

	NormalizeLogger(logger).Error("recovered from panic in %s: %v %s\n%s", op, rec, formatContext(meta), stack)

	if errp != nil {
		var source error
		if e, ok := rec.(error); ok {
			source = e
		}
		*errp = CloneError(ErrPanic, fmt.Sprintf("panic in %s: %v", op, rec), source, meta)
	}
}

func formatContext(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// drop the runtime frames up to and including the panic() call
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
