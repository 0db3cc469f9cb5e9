package ports

import "context"

// CompletionRequest is one reasoning call with a structured-output contract.
type CompletionRequest struct {
	System string
	Prompt string
	// SchemaName identifies the expected output shape, for logs and errors.
	SchemaName string
	// Schema is the JSON schema the output must conform to.
	Schema []byte
}

// Reasoner is the opaque reasoning function backing the agent's stages and
// reflection gates. Implementations must validate the model output against
// the request schema and unmarshal it into out, returning *domain.ParseError
// when the output does not conform. Callers treat it as unreliable.
type Reasoner interface {
	Complete(ctx context.Context, req CompletionRequest, out any) error
}
