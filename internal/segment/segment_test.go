package segment

import (
	"strings"
	"testing"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	text := "Short enough to send as-is."
	got := Split(text, 4096)
	if len(got) != 1 || got[0] != text {
		t.Errorf("Split() = %q, want exactly [%q]", got, text)
	}
}

func TestSplitTwoSentences(t *testing.T) {
	s1 := "One sentence here."
	s2 := "Two sentence also."
	text := s1 + " " + s2

	// Each sentence fits alone; together they exceed the limit.
	got := Split(text, 20)
	if len(got) != 2 {
		t.Fatalf("Split() returned %d chunks, want 2: %q", len(got), got)
	}
	if got[0] != s1 {
		t.Errorf("chunk[0] = %q, want %q", got[0], s1)
	}
	if got[1] != s2 {
		t.Errorf("chunk[1] = %q, want %q", got[1], s2)
	}
	if joined := strings.Join(got, " "); joined != text {
		t.Errorf("rejoined chunks = %q, want original %q", joined, text)
	}
}

func TestSplitOversizedSentence(t *testing.T) {
	text := strings.Repeat("a", 50)
	got := Split(text, 20)

	if len(got) != 3 { // ceil(50/20)
		t.Fatalf("Split() returned %d chunks, want 3: %q", len(got), got)
	}
	for i, c := range got {
		if len([]rune(c)) > 20 {
			t.Errorf("chunk[%d] length %d exceeds 20", i, len([]rune(c)))
		}
	}
	if joined := strings.Join(got, ""); joined != text {
		t.Errorf("rejoined chunks = %q, want original", joined)
	}
}

func TestSplitGreedyPacking(t *testing.T) {
	text := "Aa bb. Cc dd. Ee ff. Gg hh."
	got := Split(text, 14)

	if len(got) != 2 {
		t.Fatalf("Split() returned %d chunks, want 2: %q", len(got), got)
	}
	if got[0] != "Aa bb. Cc dd." {
		t.Errorf("chunk[0] = %q, want two packed sentences", got[0])
	}
	if got[1] != "Ee ff. Gg hh." {
		t.Errorf("chunk[1] = %q, want two packed sentences", got[1])
	}
}

func TestSplitMixedOversizedAndNormal(t *testing.T) {
	long := strings.Repeat("x", 30)
	text := "Lead in. " + long + " Tail out."
	got := Split(text, 20)

	// The x-run and "Tail out." form one 40-rune sentence (no sentence
	// boundary inside), hard-split into two 20-rune pieces.
	want := []string{"Lead in.", strings.Repeat("x", 20), strings.Repeat("x", 10) + " Tail out."}
	if len(got) != len(want) {
		t.Fatalf("Split() returned %d chunks, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitPreservesAllContent(t *testing.T) {
	text := "First! Second? Third. " + strings.Repeat("y", 45) + " Last."
	got := Split(text, 15)

	var total string
	for _, c := range got {
		total += strings.ReplaceAll(c, " ", "")
	}
	if want := strings.ReplaceAll(text, " ", ""); total != want {
		t.Errorf("content lost: got %q, want %q", total, want)
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := "Alpha beta. Gamma delta. " + strings.Repeat("z", 40)
	a := Split(text, 18)
	b := Split(text, 18)
	if len(a) != len(b) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk[%d] differs between runs: %q vs %q", i, a[i], b[i])
		}
	}
}
