package platform

import "fmt"

// Perm is the access permission attached to a protection region. User-mode
// accesses outside every configured region are denied by default.
type Perm uint8

const (
	PermNone Perm = iota
	PermRead
	PermReadExec
	PermReadWrite
)

// String returns the conventional rwx rendering of the permission.
func (p Perm) String() string {
	switch p {
	case PermNone:
		return "---"
	case PermRead:
		return "r--"
	case PermReadExec:
		return "r-x"
	case PermReadWrite:
		return "rw-"
	default:
		return "???"
	}
}

// Region is one hardware protection region: a base/length pair plus the
// permission granted to user mode within it. Hardware constrains length to a
// power of two and base to a multiple of length.
type Region struct {
	Extent
	Perms Perm
}

func (r Region) String() string {
	return fmt.Sprintf("%s %s", r.Extent, r.Perms)
}
