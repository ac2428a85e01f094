//go:build !unix && !windows

package elevate

func IsAdmin() bool { return false }

func Hint() string { return "packet filter changes are not supported on this platform" }
