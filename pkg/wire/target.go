package wire

import (
	"errors"
	"path/filepath"
	"strconv"
	"strings"
)

// ParseTarget splits a "host:port/path" (optionally prefixed with '@',
// kept for shell-friendliness on Windows) endpoint string into its
// host, port, and remote path components.
func ParseTarget(target string) (host string, port int, path string, err error) {
	target = strings.TrimPrefix(target, "@")

	parts := strings.SplitN(target, "/", 2)
	if len(parts) != 2 {
		return "", 0, "", errors.New("wire: invalid target; expected host:port/path")
	}
	hostPort := parts[0]
	path = parts[1]

	hp := strings.Split(hostPort, ":")
	if len(hp) != 2 {
		return "", 0, "", errors.New("wire: target missing port")
	}
	host = hp[0]
	p, err := strconv.Atoi(hp[1])
	if err != nil {
		return "", 0, "", err
	}
	return host, p, path, nil
}

// Join joins a base directory and a relative path using OS-native
// separators.
func Join(a, b string) string { return filepath.Join(a, b) }
