package shared

// ContentPart is one element of a multimodal chat message
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ChatMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	TopK        int           `json:"top_k,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage content is a plain string in chat completion responses
type ResponseMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type Usage struct {
	PromptTokens     uint64 `json:"prompt_tokens"`
	CompletionTokens uint64 `json:"completion_tokens"`
	TotalTokens      uint64 `json:"total_tokens"`
}

type BackendModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	Root    string `json:"root,omitempty"`
}

type BackendModelList struct {
	Object string         `json:"object"`
	Data   []BackendModel `json:"data"`
}

// OCRResponse is the public success body of POST /api/v1/ocr
type OCRResponse struct {
	RequestID    string `json:"request_id"`
	Model        string `json:"model"`
	Markdown     string `json:"markdown"`
	ProcessingMS int64  `json:"processing_ms"`
}

// ErrorResponse is the public error body of every endpoint
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

type ReadinessResponse struct {
	Status string `json:"status"`
}
