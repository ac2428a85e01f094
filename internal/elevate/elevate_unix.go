//go:build unix

package elevate

import "golang.org/x/sys/unix"

// IsAdmin reports whether the process runs as root, which iptables needs.
func IsAdmin() bool {
	return unix.Geteuid() == 0
}

func Hint() string {
	return "run with sudo, or grant CAP_NET_ADMIN and CAP_NET_RAW"
}
