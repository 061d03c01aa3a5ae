package probe

import (
	"net/http"

	"oai-compat/internal/openai"
)

// Endpoint describes one fixed probe against the API under test.
type Endpoint struct {
	Name        string
	Method      string
	Path        string
	RequiresKey bool
	Headers     map[string]string
	Payload     func(target Target) any
}

// Endpoints returns the probe set in execution order. The models probe only
// runs when a credential was supplied.
func Endpoints() []Endpoint {
	return []Endpoint{
		{
			Name:        ProbeModels,
			Method:      http.MethodGet,
			Path:        "/models",
			RequiresKey: true,
		},
		{
			Name:   ProbeChat,
			Method: http.MethodPost,
			Path:   "/chat/completions",
			Payload: func(target Target) any {
				return openai.ChatCompletionRequest{
					Model:     target.Model,
					Messages:  []openai.ChatMessage{{Role: "user", Content: "Hello"}},
					MaxTokens: 10,
				}
			},
		},
		{
			Name:   ProbeEmbeddings,
			Method: http.MethodPost,
			Path:   "/embeddings",
			Payload: func(target Target) any {
				return openai.EmbeddingsRequest{
					Model: target.Model,
					Input: []string{"Hello world"},
				}
			},
		},
	}
}

const (
	ProbeModels     = "models"
	ProbeChat       = "chat"
	ProbeEmbeddings = "embeddings"
)
