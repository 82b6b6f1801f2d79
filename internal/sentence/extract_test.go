package sentence

import (
	"strings"
	"testing"
)

func TestExtract_SplitsOnTerminators(t *testing.T) {
	sentences, remainder := Extract("Hello world. How are you? I am fine! Trailing bit")
	want := []string{"Hello world.", "How are you?", "I am fine!"}
	if len(sentences) != len(want) {
		t.Fatalf("expected %d sentences, got %d: %v", len(want), len(sentences), sentences)
	}
	for i := range want {
		if sentences[i] != want[i] {
			t.Fatalf("sentence %d: got %q want %q", i, sentences[i], want[i])
		}
	}
	if remainder != "Trailing bit" {
		t.Fatalf("remainder: got %q", remainder)
	}
}

func TestExtract_NoBoundaryAtEndOfInput(t *testing.T) {
	sentences, remainder := Extract("This looks complete.")
	if len(sentences) != 0 {
		t.Fatalf("expected no sentences until more context arrives, got %v", sentences)
	}
	if remainder != "This looks complete." {
		t.Fatalf("remainder: got %q", remainder)
	}
}

func TestExtract_AbbreviationsAndDecimals(t *testing.T) {
	sentences, remainder := Extract("Dr. Smith went home. He left at 5.5 miles away.")
	if len(sentences) != 1 {
		t.Fatalf("expected exactly one sentence, got %v", sentences)
	}
	if sentences[0] != "Dr. Smith went home." {
		t.Fatalf("got %q", sentences[0])
	}
	if remainder != "He left at 5.5 miles away." {
		t.Fatalf("remainder: got %q", remainder)
	}
}

func TestExtract_SuppressionCases(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"single initial", "Work by J. Doe was cited"},
		{"multi dot abbreviation", "Made in the U.S. So they say"},
		{"month", "Shipped on Dec. Fifth at noon"},
		{"url", "See https://example.com/a. Then decide later"},
		{"www url", "Go to www.example.com. Then decide later"},
		{"file extension", "Open main.go:12 and check the handler"},
	}
	for _, tc := range cases {
		sentences, _ := Extract(tc.in)
		if len(sentences) != 0 {
			t.Fatalf("%s: expected no split for %q, got %v", tc.name, tc.in, sentences)
		}
	}
}

func TestExtract_LowercaseFollowerRejected(t *testing.T) {
	sentences, remainder := Extract("version 2. of the manual changed")
	if len(sentences) != 0 {
		t.Fatalf("expected no split before lowercase follower, got %v", sentences)
	}
	if !strings.HasPrefix(remainder, "version 2.") {
		t.Fatalf("remainder: got %q", remainder)
	}
}

func TestExtract_QuoteAndBracketFollowers(t *testing.T) {
	sentences, remainder := Extract(`He agreed. "Fine," she said. (Nobody argued.) The end`)
	if len(sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %v", sentences)
	}
	if sentences[1] != `"Fine," she said.` {
		t.Fatalf("got %q", sentences[1])
	}
	// "." before ")" is not a boundary: the follower must open a sentence.
	if remainder != "(Nobody argued.) The end" {
		t.Fatalf("remainder: got %q", remainder)
	}
}

func TestExtract_Ellipsis(t *testing.T) {
	sentences, _ := Extract("He paused... Then spoke again")
	if len(sentences) != 1 || sentences[0] != "He paused..." {
		t.Fatalf("expected ellipsis boundary before capital, got %v", sentences)
	}
	sentences, remainder := Extract("He paused...and went on. Next")
	if len(sentences) != 1 || sentences[0] != "He paused...and went on." {
		t.Fatalf("expected no boundary inside tight ellipsis, got %v (rem %q)", sentences, remainder)
	}
}

func TestExtract_UnclosedCodeFence(t *testing.T) {
	in := "Here is code:\n```go\nfmt.Println(1). Looks done. "
	sentences, remainder := Extract(in)
	if len(sentences) != 0 {
		t.Fatalf("expected everything deferred inside open fence, got %v", sentences)
	}
	if remainder != in {
		t.Fatalf("remainder must be the whole input, got %q", remainder)
	}

	closed := "Here is code:\n```go\nx()\n``` done. All good. Next"
	sentences, _ = Extract(closed)
	if len(sentences) == 0 {
		t.Fatalf("expected splits once the fence closed")
	}
}
