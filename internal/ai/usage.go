package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

// EstimateTokens counts tokens with the cl100k_base encoding, falling back
// to a characters/4 approximation when the encoding cannot be loaded.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	if encodingErr != nil {
		return utf8.RuneCountInString(text)/4 + 1
	}
	return len(encoding.Encode(text, nil, nil))
}

func estimateUsage(req Request, reply string) Usage {
	prompt := EstimateTokens(req.SystemInstruction) + EstimateTokens(req.Message)
	for _, t := range req.History {
		prompt += EstimateTokens(t.Text)
	}
	completion := EstimateTokens(reply)
	return Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}
