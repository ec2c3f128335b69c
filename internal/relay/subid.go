package relay

import (
	"strconv"
	"strings"
)

// SubID is the structured form of a wire subscription identifier. A query
// registered as "feed" opens continuations "feed-1", "feed-2", ... when its
// filters change; all of them route back to the parent query.
//
// Parsing happens only here, at the transport boundary. Everything above the
// wire works with the structured form.
type SubID struct {
	Parent       string
	Continuation int // 0 when the id names the parent subscription itself
}

func (s SubID) String() string {
	if s.Continuation > 0 {
		return s.Parent + "-" + strconv.Itoa(s.Continuation)
	}
	return s.Parent
}

// ParseSubID splits a wire subscription id into parent and continuation
// ordinal. A trailing "-<digits>" segment is the continuation marker;
// anything else is the parent id verbatim. Continuations start at 1, so a
// "-0" suffix is part of the parent name.
func ParseSubID(raw string) SubID {
	i := strings.LastIndexByte(raw, '-')
	if i <= 0 || i == len(raw)-1 {
		return SubID{Parent: raw}
	}
	suffix := raw[i+1:]
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return SubID{Parent: raw}
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 1 {
		return SubID{Parent: raw}
	}
	return SubID{Parent: raw[:i], Continuation: n}
}
