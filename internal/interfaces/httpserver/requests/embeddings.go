package requests

import (
	"encoding/json"
	"errors"
)

// EmbeddingsRequest mirrors the OpenAI embeddings payload with the relay's
// routing selectors added.
type EmbeddingsRequest struct {
	Input         EmbeddingInput `json:"input" binding:"required"`
	Model         string         `json:"model,omitempty"`
	User          string         `json:"user,omitempty"`
	Provider      string         `json:"provider,omitempty"`
	Configuration string         `json:"configuration,omitempty"`
}

// EmbeddingInput accepts the OpenAI input field, which is either a single
// string or an array of strings.
type EmbeddingInput struct {
	Texts []string `json:"-"`
}

// UnmarshalJSON supports both input forms:
//   - "input": "one text"
//   - "input": ["first", "second"]
func (i *EmbeddingInput) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		i.Texts = []string{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("input must be a string or an array of strings")
	}
	i.Texts = many
	return nil
}

// MarshalJSON writes the canonical array form.
func (i EmbeddingInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Texts)
}
