// Package tokenutil counts tokens with tiktoken-go's cl100k_base encoding.
// The encoding is loaded in the background by Preload; until it is ready the
// counters use a character-based heuristic, so no caller ever waits on the
// download of the BPE ranks.
package tokenutil

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

var (
	getEncoding = tiktoken.GetEncoding

	preload  sync.Once
	loaded   = make(chan struct{})
	encoding atomic.Pointer[tiktoken.Tiktoken]
)

// Preload starts loading the encoding in the background. Only the first call
// has an effect.
func Preload() {
	preload.Do(func() {
		go func() {
			defer close(loaded)
			if enc, err := getEncoding(encodingName); err == nil {
				encoding.Store(enc)
			}
		}()
	})
}

// WaitReady blocks until a started Preload finishes or ctx is done, and
// reports whether the exact encoding is available.
func WaitReady(ctx context.Context) bool {
	select {
	case <-loaded:
	case <-ctx.Done():
	}
	return encoding.Load() != nil
}

// CountTokens returns an exact cl100k_base count once the encoding is loaded
// and EstimateFast before that.
func CountTokens(text string) int {
	if enc := encoding.Load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast returns a heuristic token estimate: max(runes/4, word_count).
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / 4
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// TruncateToTokens truncates text to approximately maxTokens.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if enc := encoding.Load(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens]) + "..."
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}
