package dialogue

// 对外消息类型。assistant_text 承载自然语言回复，
// confirmation_request 携带待确认的提案数据，error 携带失败信息。
const (
	MessageTypeAssistantText       = "assistant_text"
	MessageTypeConfirmationRequest = "confirmation_request"
	MessageTypeError               = "error"
)

// Message 对话接口返回给客户端的单条消息。
type Message struct {
	Type string         `json:"type"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Request 一次对话请求。
type Request struct {
	Message      string         `json:"message"`
	SessionID    string         `json:"session_id,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
}

// Response 一次对话请求的应答。
type Response struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}
