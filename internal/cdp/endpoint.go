package cdp

import (
	"fmt"
	"strconv"
	"strings"
)

// ActivePortFile is the file the runtime writes into its profile directory
// once the remote debugging server is listening.
const ActivePortFile = "DevToolsActivePort"

// ActivePortComplete reports whether data holds both lines of an active port
// file. The runtime may be observed between its two writes.
func ActivePortComplete(data []byte) bool {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	return len(lines) >= 2 && strings.TrimSpace(lines[1]) != ""
}

// ParseActivePort turns the content of an active port file (port on the
// first line, browser target path on the second) into a websocket URL.
func ParseActivePort(data []byte) (string, error) {
	if !ActivePortComplete(data) {
		return "", fmt.Errorf("incomplete %s content: %q", ActivePortFile, data)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	port, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid devtools port %q", lines[0])
	}
	path := strings.TrimSpace(lines[1])
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("ws://127.0.0.1:%d%s", port, path), nil
}
