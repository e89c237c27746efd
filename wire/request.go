// Package wire implements the agent-facing text protocol described in
// spec.md §6: the request line an agent reads, and the reply line it
// writes back. It is deliberately transport-agnostic — it knows nothing of
// sockets, character devices or file descriptors beyond the numeric fd
// value carried in the request line.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidArgument is returned when a request would not fit the
	// caller's buffer, or a reply line cannot be parsed.
	ErrInvalidArgument = errors.New("wire: invalid argument")
	// ErrNoEntry names the "no such entry" outcome for an untracked reply
	// id. It is not produced by this package, and the avflt broker reports
	// unknown ids with its own avflt.ErrNoEntry instead.
	ErrNoEntry = errors.New("wire: no such entry")
)

// Request is the set of fields encoded into an agent's read request, per
// spec.md §6:
//
//	id:<int>,type:<int>,fd:<int>,pid:<int>,tgid:<int>,ppid:<int>,ruid:<int>[,path:<string>]
type Request struct {
	ID   uint64
	Type int32
	Fd   int
	Pid, Tgid, Ppid, Ruid int
	Path string // empty means no path suffix
}

// EncodeRequest formats req exactly as spec.md §6 specifies, followed by a
// terminating NUL byte, into a buffer no larger than bufSize. It returns
// ErrInvalidArgument if the encoded line plus NUL would not fit, mirroring
// avflt_copy_cmd's base_len/total_len >= size checks.
func EncodeRequest(req Request, bufSize int) ([]byte, error) {
	base := fmt.Sprintf("id:%d,type:%d,fd:%d,pid:%d,tgid:%d,ppid:%d,ruid:%d",
		req.ID, req.Type, req.Fd, req.Pid, req.Tgid, req.Ppid, req.Ruid)

	line := base
	if req.Path != "" {
		line = base + ",path:" + req.Path
	}

	// +1 for the terminating NUL.
	if len(line)+1 > bufSize {
		return nil, ErrInvalidArgument
	}

	out := make([]byte, len(line)+1)
	copy(out, line)
	out[len(line)] = 0
	return out, nil
}

// ParseRequest recovers a Request from a NUL-terminated (or bare) encoded
// line, for tests verifying the round trip described in spec.md §8.
// field order is fixed by spec.md §6: id,type,fd,pid,tgid,ppid,ruid[,path].
var requestFieldOrder = []string{"id", "type", "fd", "pid", "tgid", "ppid", "ruid"}

func ParseRequest(line []byte) (Request, error) {
	s := string(line)
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}

	// path may itself contain commas, so split only the fixed prefix and
	// leave the remainder (if any) as the raw path field.
	fields := strings.SplitN(s, ",", len(requestFieldOrder)+1)
	if len(fields) < len(requestFieldOrder) {
		return Request{}, ErrInvalidArgument
	}

	ints := make([]int, len(requestFieldOrder))
	for i, key := range requestFieldOrder {
		v, ok := strings.CutPrefix(fields[i], key+":")
		if !ok {
			return Request{}, ErrInvalidArgument
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Request{}, ErrInvalidArgument
		}
		ints[i] = n
	}

	req := Request{
		ID: uint64(ints[0]), Type: int32(ints[1]), Fd: ints[2],
		Pid: ints[3], Tgid: ints[4], Ppid: ints[5], Ruid: ints[6],
	}

	if len(fields) == len(requestFieldOrder)+1 {
		v, ok := strings.CutPrefix(fields[len(requestFieldOrder)], "path:")
		if !ok {
			return Request{}, ErrInvalidArgument
		}
		req.Path = v
	}
	return req, nil
}
