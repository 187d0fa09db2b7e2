package llm

import "context"

// 会话消息角色。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message 是发送给大模型或由其产生的一条会话消息。
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall 描述模型请求的一次工具调用：工具名加扁平参数映射。
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition 向模型声明一个可用工具及其 JSON Schema 参数。
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request 描述一次推理调用：有序消息列表加可用工具集。
type Request struct {
	Messages []Message
	Tools    []ToolDefinition
}

// Response 是大模型返回的单条回复，可能携带若干工具调用请求。
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
