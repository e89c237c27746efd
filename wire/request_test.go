package wire

import "testing"

func TestEncodeRequestRoundTrip(t *testing.T) {
	req := Request{ID: 7, Type: 0, Fd: 3, Pid: 100, Tgid: 100, Ppid: 1, Ruid: 1000, Path: "/etc/passwd"}

	line, err := EncodeRequest(req, 512)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if line[len(line)-1] != 0 {
		t.Fatalf("expected trailing NUL, got %q", line)
	}

	got, err := ParseRequest(line)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if got != req {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestEncodeRequestNoPath(t *testing.T) {
	req := Request{ID: 1, Type: 1, Fd: -1, Pid: 2, Tgid: 2, Ppid: 1, Ruid: 0}

	line, err := EncodeRequest(req, 512)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	got, err := ParseRequest(line)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if got.Path != "" {
		t.Fatalf("expected empty path, got %q", got.Path)
	}
}

func TestEncodeRequestTooLong(t *testing.T) {
	req := Request{ID: 1, Type: 1, Fd: 1, Pid: 1, Tgid: 1, Ppid: 1, Ruid: 1, Path: "/a/very/long/path/that/will/not/fit"}

	if _, err := EncodeRequest(req, 16); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestParseRequestPathWithCommas(t *testing.T) {
	line := []byte("id:1,type:0,fd:3,pid:1,tgid:1,ppid:1,ruid:1,path:/tmp/a,b,c\x00")

	got, err := ParseRequest(line)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if got.Path != "/tmp/a,b,c" {
		t.Fatalf("expected path with commas preserved, got %q", got.Path)
	}
}

func TestParseRequestMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte("id:1,type:0,fd:3,pid:1,tgid:1,ppid:1"),
		[]byte("bogus:1,type:0,fd:3,pid:1,tgid:1,ppid:1,ruid:1"),
		[]byte("id:x,type:0,fd:3,pid:1,tgid:1,ppid:1,ruid:1"),
	}
	for _, c := range cases {
		if _, err := ParseRequest(c); err != ErrInvalidArgument {
			t.Errorf("ParseRequest(%q): expected ErrInvalidArgument, got %v", c, err)
		}
	}
}
