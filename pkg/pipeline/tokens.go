package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "cl100k_base"

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
	tokenizerErr  error
)

// sharedTokenizer loads the BPE vocabulary once per process. Every task
// in every worker goroutine shares it.
func sharedTokenizer() (*tiktoken.Tiktoken, error) {
	tokenizerOnce.Do(func() {
		tokenizer, tokenizerErr = tiktoken.GetEncoding(tokenEncoding)
	})
	if tokenizerErr != nil {
		return nil, fmt.Errorf("load %s encoding: %w", tokenEncoding, tokenizerErr)
	}
	return tokenizer, nil
}

// TokensCounter stamps each document with its token count and totals
// tokens in the run stats, so corpus size is known before tokenization
// jobs are scheduled.
type TokensCounter struct{}

func NewTokensCounter() *TokensCounter { return &TokensCounter{} }

func (t *TokensCounter) Name() string { return "tokens_counter" }

func (t *TokensCounter) Run(ctx context.Context, task *Task, in <-chan *Document, out chan<- *Document) error {
	enc, err := sharedTokenizer()
	if err != nil {
		return err
	}
	ss := task.Stats.Step(t.Name())
	for doc := range in {
		ss.Input++
		n := len(enc.Encode(doc.Text, nil, nil))
		doc.SetMeta("token_count", n)
		ss.Tokens += int64(n)
		if err := Emit(ctx, out, doc); err != nil {
			return err
		}
		ss.Forward()
	}
	return nil
}
