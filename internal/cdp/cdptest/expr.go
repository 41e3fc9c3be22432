package cdptest

import (
	"encoding/json"
	"strings"
)

// ParseCall splits an expression of the form "(fn)(arg, ...)" with JSON
// literal arguments into the function source and the decoded arguments.
func ParseCall(expr string) (fn string, args []any, ok bool) {
	if !strings.HasPrefix(expr, "(") || !strings.HasSuffix(expr, ")") {
		return "", nil, false
	}
	for i := strings.LastIndex(expr, ")("); i > 0; i = strings.LastIndex(expr[:i], ")(") {
		inner := expr[i+2 : len(expr)-1]
		var decoded []any
		if err := json.Unmarshal([]byte("["+inner+"]"), &decoded); err != nil {
			continue
		}
		return expr[1:i], decoded, true
	}
	return "", nil, false
}

// IPC reports the channel and arguments of an ipcRenderer.sendSync call.
func IPC(expr string) (channel string, args []any, ok bool) {
	fn, all, ok := ParseCall(expr)
	if !ok || !strings.Contains(fn, "ipcRenderer.sendSync") || len(all) == 0 {
		return "", nil, false
	}
	channel, ok = all[0].(string)
	return channel, all[1:], ok
}
