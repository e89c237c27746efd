package wire

import "testing"

func TestParseReplyV0(t *testing.T) {
	rep, err := ParseReply([]byte("id:5,res:0\x00"))
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if rep.ID != 5 || rep.Res != 0 || rep.HasCache {
		t.Fatalf("unexpected reply: %+v", rep)
	}
}

func TestParseReplyV1(t *testing.T) {
	rep, err := ParseReply([]byte("id:5,res:1,cache:1"))
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if !rep.HasCache || !rep.Cache || rep.Res != 1 {
		t.Fatalf("unexpected reply: %+v", rep)
	}
}

func TestParseReplyRejectsGarbage(t *testing.T) {
	cases := []string{
		"id:5",
		"id:5,res:1,cache:1,extra:1",
		"id:5,res:1,junk:1",
		"foo:5,res:1",
	}
	for _, c := range cases {
		if _, err := ParseReply([]byte(c)); err != ErrInvalidArgument {
			t.Errorf("ParseReply(%q): expected ErrInvalidArgument, got %v", c, err)
		}
	}
}

func TestParseReplyTooLong(t *testing.T) {
	long := make([]byte, MaxReplyLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := ParseReply(long); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestEncodeReplyRoundTrip(t *testing.T) {
	rep := Reply{ID: 42, Res: -1, HasCache: true, Cache: false}
	line := EncodeReply(rep)

	got, err := ParseReply(line)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if got != rep {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, rep)
	}
}
