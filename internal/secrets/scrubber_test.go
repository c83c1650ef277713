package secrets

import "testing"

func TestScrubber_RedactsStdoutByDefault(t *testing.T) {
	b, err := NewBridge([]Secret{{Name: "API_KEY", Value: "sk-real"}})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	placeholder := b.GuestEnv()["API_KEY"]
	s := NewScrubber(b, DefaultScrubOptions())

	out := s.ScrubStdout("the key is " + placeholder)
	if out != "the key is [REDACTED]" {
		t.Fatalf("unexpected scrub result: %q", out)
	}
}

func TestScrubber_RespectsDisabledChannel(t *testing.T) {
	b, err := NewBridge([]Secret{{Name: "API_KEY", Value: "sk-real"}})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	placeholder := b.GuestEnv()["API_KEY"]
	s := NewScrubber(b, ScrubOptions{Stdout: false, Stderr: true, Files: true})

	out := s.ScrubStdout("leaked: " + placeholder)
	if out != "leaked: "+placeholder {
		t.Fatalf("expected stdout scrubbing disabled to pass through unchanged, got %q", out)
	}
}

func TestScrubber_RedactsFileWrites(t *testing.T) {
	b, err := NewBridge([]Secret{{Name: "API_KEY", Value: "sk-real"}})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	placeholder := b.GuestEnv()["API_KEY"]
	s := NewScrubber(b, DefaultScrubOptions())

	out := s.ScrubFile([]byte(placeholder + "\n"))
	if string(out) != "[REDACTED]\n" {
		t.Fatalf("unexpected scrub result: %q", out)
	}
}
