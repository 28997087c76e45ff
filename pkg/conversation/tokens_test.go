package conversation

import "testing"

func TestCountTokensNonEmpty(t *testing.T) {
	n := CountTokens("The quick brown fox jumps over the lazy dog")
	if n <= 0 {
		t.Fatalf("CountTokens = %d, want > 0", n)
	}
	// More text never counts fewer tokens.
	longer := CountTokens("The quick brown fox jumps over the lazy dog, twice over")
	if longer < n {
		t.Errorf("longer text counted %d tokens, shorter counted %d", longer, n)
	}
}

func TestCountTokensEmpty(t *testing.T) {
	if n := CountTokens(""); n != 0 {
		t.Errorf("CountTokens(\"\") = %d, want 0", n)
	}
}

func TestCountTranscriptTokens(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "write me a parser"},
		{Role: RoleAssistant, Content: "here is a parser", Thinking: "they want a parser"},
	}

	total := CountTranscriptTokens(messages)
	if total <= 0 {
		t.Fatalf("CountTranscriptTokens = %d, want > 0", total)
	}

	// Framing overhead means the transcript counts more than the bare
	// content concatenation.
	bare := CountTokens("write me a parser") + CountTokens("here is a parser")
	if total <= bare {
		t.Errorf("transcript total %d should exceed bare content total %d", total, bare)
	}
}

func TestCountTranscriptTokensEmpty(t *testing.T) {
	if n := CountTranscriptTokens(nil); n > 2 {
		t.Errorf("empty transcript counted %d tokens", n)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"ab", 1},
		{"abcd", 1},
		{"abcdefgh", 2},
	}
	for _, tc := range cases {
		if got := estimateTokens(tc.text); got != tc.want {
			t.Errorf("estimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
