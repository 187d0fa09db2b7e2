package session

import (
	"context"
	"time"

	xerrors "SendPilot/internal/errors"
	"SendPilot/internal/llm"
	"SendPilot/internal/send"
)

// Phase 是会话所处阶段的带标签变体，消灭"字段缺失 vs 空值"的歧义：
// 任一时刻恰好处于一个阶段。
type Phase string

const (
	// PhaseIdle 没有待处理的交易或工具调用。
	PhaseIdle Phase = "idle"
	// PhaseAwaitingConfirmation 有一笔已准备的交易等待用户明确确认。
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	// PhaseToolPending 模型请求的工具调用尚未执行。
	PhaseToolPending Phase = "tool_pending"
)

// State 是单个会话线程的全部状态。每个入站回合恰好修改一次。
type State struct {
	ID           string         `json:"id"`
	History      []llm.Message  `json:"history"`
	Phase        Phase          `json:"phase"`
	Pending      *send.Result   `json:"pending,omitempty"`
	PendingCalls []llm.ToolCall `json:"pending_calls,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewState 创建一个处于 Idle 阶段的新会话。
func NewState(id string) *State {
	return &State{ID: id, Phase: PhaseIdle, UpdatedAt: time.Now()}
}

// Append 追加会话历史。
func (s *State) Append(messages ...llm.Message) {
	s.History = append(s.History, messages...)
}

// SetAwaiting 进入待确认阶段。不变量：待确认阶段必然携带非空的结果。
func (s *State) SetAwaiting(result *send.Result) {
	s.Phase = PhaseAwaitingConfirmation
	s.Pending = result
	s.PendingCalls = nil
}

// SetToolPending 记录尚未执行的工具调用。
func (s *State) SetToolPending(calls []llm.ToolCall) {
	s.Phase = PhaseToolPending
	s.PendingCalls = calls
	s.Pending = nil
}

// ClearPending 回到 Idle。清除待确认结果与阶段标志总在同一次变更内完成，
// 不存在标志残留而结果已失效的中间态。
func (s *State) ClearPending() {
	s.Phase = PhaseIdle
	s.Pending = nil
	s.PendingCalls = nil
}

// RecordFailure 记录一次操作失败并强制回到 Idle，保证失败的准备过程
// 不会让会话滞留在没有有效结果的待确认状态。
func (s *State) RecordFailure(message string) {
	s.LastError = message
	s.ClearPending()
}

// TakeError 取出并清空错误槽。
func (s *State) TakeError() string {
	err := s.LastError
	s.LastError = ""
	return err
}

// Clone 返回深拷贝，供内存实现防御外部修改。
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.History = append([]llm.Message(nil), s.History...)
	clone.PendingCalls = append([]llm.ToolCall(nil), s.PendingCalls...)
	clone.Pending = s.Pending.Clone()
	if s.Context != nil {
		ctx := make(map[string]any, len(s.Context))
		for k, v := range s.Context {
			ctx[k] = v
		}
		clone.Context = ctx
	}
	return &clone
}

// ErrSessionNotFound 表示指定的会话不存在或已过期。
var ErrSessionNotFound = xerrors.New(CodeSessionNotFound, "session not found")

// CodeSessionNotFound 是会话查找失败的错误码。
const CodeSessionNotFound xerrors.Code = "SESSION_NOT_FOUND"

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:  "session not found",
		Severity: xerrors.SeverityInfo,
	})
}

// Store 抽象会话状态的存取，后端实现可以在内存、Redis、MySQL 间切换。
// 同一会话 ID 的串行访问由调用方保证；不同会话之间完全独立。
type Store interface {
	Get(ctx context.Context, id string) (*State, error)
	Put(ctx context.Context, state *State) error
	Delete(ctx context.Context, id string) error
	Close() error
}
