package client

import "context"

// VisionClient is implemented by the inference backends (Ollama,
// llama.cpp). DetectDefects returns the model's JSON payload, already
// sanitized of code fences and comments; decoding into records is the
// caller's concern.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DetectDefects(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
