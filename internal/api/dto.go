package api

// GenerateRequest is the POST /v1/generate body.
type GenerateRequest struct {
	Prompt       string `json:"prompt"`
	MaxNewTokens int    `json:"max_new_tokens,omitempty"`
}

// GenerateResponse is the completed generation payload.
type GenerateResponse struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
	Text      string `json:"text"`
	Usage     Usage  `json:"usage"`
}

type Usage struct {
	CompletionTokens int     `json:"completion_tokens"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

// ResponseError mirrors the error envelope of the generate endpoint.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type healthResponse struct {
	Status string `json:"status"`
}
