package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tiktoken adapts the tiktoken BPE encodings. Qwen-family models use
// a cl100k-compatible vocabulary, so the counts are close enough for
// prompt sizing and usage metrics.
type Tiktoken struct {
	model     string
	encoding  string
	maxTokens int
	enc       *tiktoken.Tiktoken
	once      sync.Once
	initErr   error
}

// modelEncodings maps model names to their encoding and context size.
var modelEncodings = map[string]struct {
	encoding  string
	maxTokens int
}{
	"qwen/qwen3-coder": {encoding: "cl100k_base", maxTokens: 32768},
	"qwen":             {encoding: "cl100k_base", maxTokens: 32768},
	"gpt-4o":           {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4o-mini":      {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4-turbo":      {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-3.5-turbo":    {encoding: "cl100k_base", maxTokens: 16385},
}

// NewTiktoken creates a tiktoken-backed tokenizer for the given model.
func NewTiktoken(model string) *Tiktoken {
	info, ok := modelEncodings[model]
	if !ok {
		for prefix, i := range modelEncodings {
			if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				info = i
				ok = true
				break
			}
		}
	}
	if !ok {
		info = struct {
			encoding  string
			maxTokens int
		}{encoding: "cl100k_base", maxTokens: 8192}
	}

	return &Tiktoken{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
	}
}

// init lazily initializes the tiktoken encoding (may download data on
// first use).
func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *Tiktoken) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *Tiktoken) CountMessages(messages []Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}

	total := 0
	for _, msg := range messages {
		// Per-message overhead: <|start|>role\n content<|end|>\n
		total += 4
		total += len(t.enc.Encode(msg.Content, nil, nil))
		total += len(t.enc.Encode(msg.Role, nil, nil))
	}
	total += 3 // conversation-end overhead
	return total, nil
}

func (t *Tiktoken) MaxTokens() int {
	return t.maxTokens
}

func (t *Tiktoken) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// RegisterKnownModels registers tokenizers for all models in the
// encoding table.
func RegisterKnownModels() {
	for model := range modelEncodings {
		Register(model, NewTiktoken(model))
	}
}
