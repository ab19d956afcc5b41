package filesystem

// Advice is an access-pattern hint for the OS page cache.
type Advice int

const (
	AdviceNormal Advice = iota
	AdviceSequential
	AdviceRandom
	// AdviceDontNeed asks the OS to drop cached pages for the file.
	AdviceDontNeed
)

// String returns the advice name used in log output.
func (a Advice) String() string {
	switch a {
	case AdviceSequential:
		return "sequential"
	case AdviceRandom:
		return "random"
	case AdviceDontNeed:
		return "dontneed"
	default:
		return "normal"
	}
}

// Advise passes an access-pattern hint for f to the OS.
// Handles that do not expose a descriptor (in-memory backends) are ignored.
func Advise(f File, advice Advice) error {
	fder, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return nil
	}
	return fadvise(fder.Fd(), advice)
}
