package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kasaplus/ledger/internal/errs"
)

// Code is a dot-separated hierarchical account code such as 100.01.001.
// The first segment is the three-digit root group.
type Code string

// Segments splits the code on dots.
func (c Code) Segments() []string { return strings.Split(string(c), ".") }

// Root returns the root group code (first segment).
func (c Code) Root() Code {
	if i := strings.IndexByte(string(c), '.'); i >= 0 {
		return c[:i]
	}
	return c
}

// IsRoot reports whether the code has a single segment.
func (c Code) IsRoot() bool { return !strings.Contains(string(c), ".") }

// Parent returns the immediate ancestor code. Roots have no parent.
func (c Code) Parent() (Code, bool) {
	i := strings.LastIndexByte(string(c), '.')
	if i < 0 {
		return "", false
	}
	return c[:i], true
}

// Child returns the code of the seq-th child formatted as three digits.
func (c Code) Child(seq int) Code {
	return Code(fmt.Sprintf("%s.%03d", c, seq))
}

// LastSeq parses the trailing segment as a sequence number.
func (c Code) LastSeq() (int, bool) {
	segs := c.Segments()
	n, err := strconv.Atoi(segs[len(segs)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the root is three digits and every segment is numeric.
func (c Code) Validate() error {
	if c == "" {
		return fmt.Errorf("%w: empty code", errs.ErrInvalidCode)
	}
	for i, seg := range c.Segments() {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", errs.ErrInvalidCode, c)
		}
		for _, r := range seg {
			if r < '0' || r > '9' {
				return fmt.Errorf("%w: %q is not numeric", errs.ErrInvalidCode, c)
			}
		}
		if i == 0 && len(seg) != 3 {
			return fmt.Errorf("%w: root of %q must have three digits", errs.ErrInvalidCode, c)
		}
	}
	return nil
}

func (c Code) String() string { return string(c) }
