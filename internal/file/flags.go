package file

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Flags is the set of access, sharing and caching options a File is opened with.
// Values combine with |.
type Flags uint32

const (
	// Read and Write declare the handle's access intent.
	Read Flags = 1 << iota
	Write

	// SharedRead, SharedWrite and SharedDelete declare what other handles on
	// the same path may do while this one is open.
	SharedRead
	SharedWrite
	SharedDelete

	// SequentialScan and RandomAccess are mutually exclusive cache hints.
	SequentialScan
	RandomAccess

	// WriteThrough makes every write synchronous (O_SYNC).
	WriteThrough
	// NoBuffering drops the file's cached pages when the handle closes.
	NoBuffering
)

const (
	accessFlags = Read | Write
	shareFlags  = SharedRead | SharedWrite | SharedDelete
	allFlags    = accessFlags | shareFlags | SequentialScan | RandomAccess | WriteThrough | NoBuffering
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{Read, "Read"},
	{Write, "Write"},
	{SharedRead, "SharedRead"},
	{SharedWrite, "SharedWrite"},
	{SharedDelete, "SharedDelete"},
	{SequentialScan, "SequentialScan"},
	{RandomAccess, "RandomAccess"},
	{WriteThrough, "WriteThrough"},
	{NoBuffering, "NoBuffering"},
}

// Has reports whether every flag in x is set.
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

// String renders the set as "Read|SharedRead".
func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if rest := f &^ allFlags; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// validate checks the combination given to Create or Open.
func (f Flags) validate() error {
	if f&^allFlags != 0 {
		return fmt.Errorf("unknown flag bits 0x%x", uint32(f&^allFlags))
	}
	if f&accessFlags == 0 {
		return errors.New("at least one of Read or Write is required")
	}
	if f.Has(SequentialScan | RandomAccess) {
		return errors.New("SequentialScan and RandomAccess are mutually exclusive")
	}
	return nil
}

// openFlag maps the set to os.OpenFile flags for opening an existing file.
func (f Flags) openFlag() int {
	var flag int
	switch {
	case f.Has(Read | Write):
		flag = os.O_RDWR
	case f.Has(Write):
		flag = os.O_WRONLY
	default:
		flag = os.O_RDONLY
	}
	if f.Has(WriteThrough) {
		flag |= os.O_SYNC
	}
	return flag
}

// createFlag maps the set to os.OpenFile flags for Create. The OS handle always
// carries write access so truncation is well defined; the mode still gates Write.
func (f Flags) createFlag() int {
	flag := os.O_CREATE | os.O_TRUNC
	if f.Has(Read) {
		flag |= os.O_RDWR
	} else {
		flag |= os.O_WRONLY
	}
	if f.Has(WriteThrough) {
		flag |= os.O_SYNC
	}
	return flag
}
