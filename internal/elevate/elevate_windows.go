//go:build windows

package elevate

import "golang.org/x/sys/windows"

// IsAdmin reports whether the process token is in the Administrators group.
// netsh advfirewall refuses rule changes otherwise.
func IsAdmin() bool {
	var sid *windows.SID
	err := windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&sid,
	)
	if err != nil {
		return false
	}
	defer windows.FreeSid(sid)

	member, err := windows.Token(0).IsMember(sid)
	if err != nil {
		return false
	}
	return member
}

// Hint tells the user how to gain the privileges IsAdmin checks for.
func Hint() string {
	return "run from an elevated (Administrator) terminal"
}
