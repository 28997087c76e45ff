package conversation

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

func initTokenEncoder() error {
	encoderOnce.Do(func() {
		// cl100k_base gives a close-enough count for Claude-family models
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// CountTokens counts the tokens in a text. Falls back to a character-based
// estimate when the encoder cannot load its vocabulary.
func CountTokens(text string) int {
	if err := initTokenEncoder(); err != nil {
		return estimateTokens(text)
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

// CountTranscriptTokens counts tokens across the finalized transcript,
// including per-message formatting overhead and thinking text.
func CountTranscriptTokens(messages []Message) int {
	if err := initTokenEncoder(); err != nil {
		total := 0
		for _, msg := range messages {
			total += estimateTokens(msg.Content) + estimateTokens(msg.Thinking)
		}
		return total
	}

	total := 0
	for _, msg := range messages {
		// Roughly 4 tokens of per-message framing.
		total += 4
		total += len(tokenEncoder.Encode(string(msg.Role), nil, nil))
		total += len(tokenEncoder.Encode(msg.Content, nil, nil))
		if msg.Thinking != "" {
			total += len(tokenEncoder.Encode(msg.Thinking, nil, nil))
		}
	}
	return total + 2
}

// estimateTokens approximates a token count at ~4 characters per token.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
