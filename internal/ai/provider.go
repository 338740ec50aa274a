package ai

import "context"

// LLMProvider sends a prompt, plus optional local image files, to an LLM and
// returns the raw text response. Used only by Oracle.
type LLMProvider interface {
	Complete(ctx context.Context, prompt string, imagePaths []string) (string, error)
}
