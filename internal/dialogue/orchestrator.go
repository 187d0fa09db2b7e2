package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "SendPilot/internal/errors"
	"SendPilot/internal/llm"
	"SendPilot/internal/notify"
	"SendPilot/internal/price"
	"SendPilot/internal/send"
	"SendPilot/internal/session"
	"SendPilot/pkg/logger"
)

// 工具名称。
const (
	ToolPrepareSend  = "prepare_send_transaction"
	ToolGetSwapQuote = "get_swap_quote"
)

// TransactionPreparer 构造未签名转账交易。
type TransactionPreparer interface {
	Prepare(ctx context.Context, req send.Request) (*send.Result, error)
}

// SwapQuoter 估算代币兑换输出。
type SwapQuoter interface {
	EstimateSwapOutput(ctx context.Context, fromToken, toToken string, amountIn decimal.Decimal) (*price.Quote, error)
}

// Orchestrator 驱动一轮对话：装配提示词、调用模型、执行工具、
// 维护确认状态机并持久化会话。
type Orchestrator struct {
	llm          llm.Client
	preparer     TransactionPreparer
	quoter       SwapQuoter
	sessions     session.Store
	notifier     notify.Notifier
	systemPrompt string
	tools        []llm.ToolDefinition
	log          *slog.Logger
}

// Option 定义可选配置。
type Option func(*Orchestrator)

// WithSystemPrompt 覆盖默认系统提示词。
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(prompt) != "" {
			o.systemPrompt = prompt
		}
	}
}

// WithNotifier 注入生命周期事件发布器。
func WithNotifier(notifier notify.Notifier) Option {
	return func(o *Orchestrator) {
		if notifier != nil {
			o.notifier = notifier
		}
	}
}

// NewOrchestrator 创建对话编排器。
func NewOrchestrator(client llm.Client, preparer TransactionPreparer, quoter SwapQuoter, sessions session.Store, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "LLM 客户端不能为空")
	}
	if preparer == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "交易准备器不能为空")
	}
	if sessions == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "会话存储不能为空")
	}
	o := &Orchestrator{
		llm:          client,
		preparer:     preparer,
		quoter:       quoter,
		sessions:     sessions,
		notifier:     notify.NopNotifier{},
		systemPrompt: DefaultSystemPrompt,
		tools:        toolDefinitions(),
		log:          logger.Named("dialogue"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name: ToolPrepareSend,
			Description: "Prepare an unsigned transaction for sending native tokens (ETH, MATIC, BNB) or ERC20 tokens " +
				"(USDC, DAI, USDT) across EVM networks. Validates addresses, estimates gas fees, and returns transaction " +
				"details for user confirmation. Always requires explicit user confirmation before revealing transaction JSON.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sender_address":    map[string]any{"type": "string", "description": "EVM address that will sign and send"},
					"recipient_address": map[string]any{"type": "string", "description": "EVM address receiving the funds"},
					"amount":            map[string]any{"type": "string", "description": "Amount in user units, e.g. \"0.5\""},
					"token_symbol":      map[string]any{"type": "string", "description": "Token symbol, defaults to the network's native token"},
					"network":           map[string]any{"type": "string", "description": "Target network name, defaults to the configured default"},
				},
				"required": []string{"sender_address", "recipient_address", "amount"},
			},
		},
		{
			Name:        ToolGetSwapQuote,
			Description: "Estimate how much of one token a given amount of another token would yield at current spot prices. Informational only, no transaction is prepared.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from_token": map[string]any{"type": "string"},
					"to_token":   map[string]any{"type": "string"},
					"amount_in":  map[string]any{"type": "string"},
				},
				"required": []string{"from_token", "to_token", "amount_in"},
			},
		},
	}
}

// HandleMessage 处理一条用户消息并返回结构化应答。
func (o *Orchestrator) HandleMessage(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "消息内容不能为空")
	}

	state, err := o.loadState(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		state.SystemPrompt = req.SystemPrompt
	}
	if req.Context != nil {
		state.Context = req.Context
	}

	state.Append(llm.Message{Role: llm.RoleUser, Content: req.Message})

	var notices []llm.Message
	if stale := state.TakeError(); stale != "" {
		notices = append(notices, failureNotice(stale))
	}
	notices = append(notices, o.resolvePending(ctx, state, req.Message)...)

	resp, err := o.llm.Generate(ctx, llm.Request{Messages: o.stack(state, notices), Tools: o.tools})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeExecutorFailure, err, "调用语言模型失败")
	}
	state.Append(llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})

	if len(resp.ToolCalls) > 0 {
		state.SetToolPending(resp.ToolCalls)
		followUp := o.runTools(ctx, state, resp.ToolCalls)
		second, err := o.llm.Generate(ctx, llm.Request{Messages: o.stack(state, followUp), Tools: o.tools})
		if err != nil {
			if putErr := o.sessions.Put(ctx, state); putErr != nil {
				o.log.Warn("保存会话失败", "session_id", state.ID, "error", putErr)
			}
			return nil, apperrors.Wrap(apperrors.CodeExecutorFailure, err, "调用语言模型失败")
		}
		state.Append(llm.Message{Role: llm.RoleAssistant, Content: second.Content, ToolCalls: second.ToolCalls})
		// 每轮只执行一批工具调用。后续回复若再次请求工具，为每个调用
		// 补上错误应答；历史中的 assistant 工具调用缺少对应的工具应答
		// 会让后续轮次的模型请求被拒绝。
		for _, call := range second.ToolCalls {
			state.Append(toolErrorMessage(call,
				"Tool call was not executed: ask the user before requesting further tool calls."))
		}
	}

	response := o.formatResponse(state)
	if err := o.sessions.Put(ctx, state); err != nil {
		return nil, err
	}
	return response, nil
}

func (o *Orchestrator) loadState(ctx context.Context, id string) (*session.State, error) {
	if id == "" {
		return session.NewState(uuid.NewString()), nil
	}
	state, err := o.sessions.Get(ctx, id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return session.NewState(id), nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// resolvePending 在调用模型之前处理待确认的提案。
func (o *Orchestrator) resolvePending(ctx context.Context, state *session.State, userText string) []llm.Message {
	if state.Phase != session.PhaseAwaitingConfirmation || state.Pending == nil {
		return nil
	}
	pending := state.Pending
	switch ClassifyIntent(userText) {
	case IntentDecline:
		state.ClearPending()
		o.publish(ctx, state.ID, notify.KindCancelled, map[string]any{"summary": pending.Summary})
		logger.Audit().Info("提案已取消", "session_id", state.ID, "network", pending.Network)
		return []llm.Message{systemMessage(
			"The user declined. Acknowledge the cancellation, confirm nothing was sent, " +
				"and offer to help gather new parameters if they still want to send.")}
	case IntentAffirm:
		txJSON, err := json.MarshalIndent(pending.Transaction, "", "  ")
		if err != nil {
			txJSON = []byte("{}")
		}
		state.ClearPending()
		o.publish(ctx, state.ID, notify.KindConfirmed, map[string]any{
			"summary":           pending.Summary,
			"network":           pending.Network,
			"sender_address":    pending.SenderAddress,
			"recipient_address": pending.RecipientAddress,
		})
		logger.Audit().Info("提案已确认", "session_id", state.ID,
			"network", pending.Network, "token", pending.TokenSymbol, "amount", pending.Amount.String())
		return []llm.Message{systemMessage(fmt.Sprintf(
			"The user confirmed. Provide the unsigned transaction JSON, remind them to sign it themselves, "+
				"and restate key fields (amount, sender, recipient, network).\n\nSummary:\n%s\nUnsigned transaction JSON:\n```json\n%s\n```",
			pending.Summary, txJSON))}
	default:
		return []llm.Message{systemMessage(fmt.Sprintf(
			"You are still waiting on confirmation. Politely remind the user of the summary below "+
				"and ask for a clear yes/no or revised parameters.\n\nSummary:\n%s", pending.Summary))}
	}
}

// runTools 执行模型请求的工具调用，返回驱动后续回复的系统提示。
// 任一工具失败即终止剩余调用并记录错误。
func (o *Orchestrator) runTools(ctx context.Context, state *session.State, calls []llm.ToolCall) []llm.Message {
	var notices []llm.Message
	for i, call := range calls {
		switch call.Name {
		case ToolPrepareSend:
			notice, err := o.runPrepareSend(ctx, state, call)
			if err != nil {
				return o.failTools(ctx, state, call, calls[i+1:], fmt.Sprintf("Send tool failed: %s", err.Error()))
			}
			notices = append(notices, notice)
		case ToolGetSwapQuote:
			notice, err := o.runSwapQuote(ctx, state, call)
			if err != nil {
				return o.failTools(ctx, state, call, calls[i+1:], fmt.Sprintf("Swap quote tool failed: %s", err.Error()))
			}
			notices = append(notices, notice)
		default:
			return o.failTools(ctx, state, call, calls[i+1:], fmt.Sprintf("Unsupported tool requested: %s", call.Name))
		}
	}
	return notices
}

func (o *Orchestrator) runPrepareSend(ctx context.Context, state *session.State, call llm.ToolCall) (llm.Message, error) {
	sendReq, err := send.ParseArgs(call.Arguments)
	if err != nil {
		return llm.Message{}, err
	}
	result, err := o.preparer.Prepare(ctx, sendReq)
	if err != nil {
		return llm.Message{}, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return llm.Message{}, apperrors.Wrap(apperrors.CodeExecutorFailure, err, "序列化交易结果失败")
	}
	state.Append(llm.Message{Role: llm.RoleTool, Content: string(payload), ToolCallID: toolCallID(call)})
	state.SetAwaiting(result)

	o.publish(ctx, state.ID, notify.KindPrepared, map[string]any{
		"summary":           result.Summary,
		"network":           result.Network,
		"token_symbol":      result.TokenSymbol,
		"amount":            result.Amount.String(),
		"sender_address":    result.SenderAddress,
		"recipient_address": result.RecipientAddress,
	})
	logger.Audit().Info("提案已生成", "session_id", state.ID,
		"network", result.Network, "token", result.TokenSymbol,
		"amount", result.Amount.String(), "recipient", result.RecipientAddress)

	feeJSON, err := json.Marshal(result.FeeInfo)
	if err != nil {
		feeJSON = []byte("{}")
	}
	return systemMessage(fmt.Sprintf(
		"You have just prepared an unsigned transaction using the send tool. Present the summary, "+
			"and ask the user for explicit confirmation before sharing the raw transaction. "+
			"Invite them to adjust details if needed.\n\nSummary:\n%s\n"+
			"Sender: %s\nRecipient: %s\nNetwork: %s\nAmount: %s\nFee info: %s\n"+
			"Do not reveal the transaction JSON unless they clearly confirm.",
		result.Summary, result.SenderAddress, result.RecipientAddress,
		result.Network, result.Amount.String(), feeJSON)), nil
}

func (o *Orchestrator) runSwapQuote(ctx context.Context, state *session.State, call llm.ToolCall) (llm.Message, error) {
	if o.quoter == nil {
		return llm.Message{}, apperrors.New(apperrors.CodeUnsupportedTool, "兑换报价未启用")
	}
	fromToken, _ := call.Arguments["from_token"].(string)
	toToken, _ := call.Arguments["to_token"].(string)
	if fromToken == "" || toToken == "" {
		return llm.Message{}, apperrors.New(apperrors.CodeValidation, "兑换报价缺少代币参数")
	}
	amountIn, err := parseQuoteAmount(call.Arguments["amount_in"])
	if err != nil {
		return llm.Message{}, err
	}

	quote, err := o.quoter.EstimateSwapOutput(ctx, fromToken, toToken, amountIn)
	if err != nil {
		return llm.Message{}, err
	}
	payload, err := json.Marshal(quote)
	if err != nil {
		return llm.Message{}, apperrors.Wrap(apperrors.CodeExecutorFailure, err, "序列化报价结果失败")
	}
	state.Append(llm.Message{Role: llm.RoleTool, Content: string(payload), ToolCallID: toolCallID(call)})
	state.ClearPending()

	return systemMessage(fmt.Sprintf(
		"You fetched a spot-price estimate. Relay it to the user in plain language, mention it excludes "+
			"slippage and fees, and that no transaction was prepared.\n\nQuote:\n%s", payload)), nil
}

// failTools 记录工具失败：写入错误工具消息、为同批被跳过的调用补齐
// 工具应答、清空待确认状态，返回要求模型道歉并引导重试的系统提示。
func (o *Orchestrator) failTools(ctx context.Context, state *session.State, call llm.ToolCall, skipped []llm.ToolCall, message string) []llm.Message {
	state.Append(toolErrorMessage(call, message))
	for _, rest := range skipped {
		state.Append(toolErrorMessage(rest, "Tool call skipped: an earlier tool call in this batch failed."))
	}
	state.RecordFailure(message)
	o.publish(ctx, state.ID, notify.KindFailed, map[string]any{"error": message, "tool": call.Name})
	o.log.Warn("工具执行失败", "session_id", state.ID, "tool", call.Name, "error", message)
	return []llm.Message{failureNotice(message)}
}

func failureNotice(message string) llm.Message {
	return systemMessage(fmt.Sprintf(
		"A recent tool invocation failed with the following error:\n%s\n"+
			"Apologize, explain the issue, and offer to help the user try again with adjusted parameters.", message))
}

// stack 按固定顺序装配发往模型的消息：基础提示词、会话级覆盖、
// 会话上下文、状态提示，最后是完整历史。
func (o *Orchestrator) stack(state *session.State, notices []llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(notices)+len(state.History)+3)
	messages = append(messages, systemMessage(o.systemPrompt))
	if strings.TrimSpace(state.SystemPrompt) != "" {
		messages = append(messages, systemMessage(state.SystemPrompt))
	}
	if len(state.Context) > 0 {
		contextJSON, err := json.MarshalIndent(state.Context, "", "  ")
		if err != nil {
			contextJSON = []byte(fmt.Sprintf("%v", state.Context))
		}
		messages = append(messages, systemMessage(fmt.Sprintf(
			"Session context information (use to personalise your responses and when preparing transactions):\n%s", contextJSON)))
	}
	messages = append(messages, notices...)
	messages = append(messages, state.History...)
	return messages
}

// formatResponse 将本轮结果整理为客户端消息。错误槽位在此被消费。
func (o *Orchestrator) formatResponse(state *session.State) *Response {
	var messages []Message

	for i := len(state.History) - 1; i >= 0; i-- {
		msg := state.History[i]
		if msg.Role != llm.RoleAssistant {
			continue
		}
		if msg.Content != "" {
			messages = append(messages, Message{Type: MessageTypeAssistantText, Text: msg.Content})
		}
		break
	}

	if state.Phase == session.PhaseAwaitingConfirmation && state.Pending != nil {
		messages = append(messages, Message{
			Type: MessageTypeConfirmationRequest,
			Data: resultData(state.Pending),
		})
	}

	if failure := state.TakeError(); failure != "" {
		messages = append(messages, Message{Type: MessageTypeError, Data: map[string]any{"message": failure}})
	}

	if len(messages) == 0 {
		messages = append(messages, Message{Type: MessageTypeAssistantText, Text: ""})
	}
	return &Response{SessionID: state.ID, Messages: messages}
}

func resultData(result *send.Result) map[string]any {
	raw, err := json.Marshal(result)
	if err != nil {
		return map[string]any{"summary": result.Summary}
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]any{"summary": result.Summary}
	}
	return data
}

func (o *Orchestrator) publish(ctx context.Context, sessionID string, kind notify.Kind, payload map[string]any) {
	if err := o.notifier.Publish(ctx, notify.Event{SessionID: sessionID, Kind: kind, Payload: payload}); err != nil {
		o.log.Warn("发布生命周期事件失败", "session_id", sessionID, "kind", string(kind), "error", err)
	}
}

// toolErrorMessage 为指定调用生成 {"error": ...} 形式的工具应答。
func toolErrorMessage(call llm.ToolCall, message string) llm.Message {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		payload = []byte(`{"error":"tool failure"}`)
	}
	return llm.Message{Role: llm.RoleTool, Content: string(payload), ToolCallID: toolCallID(call)}
}

func toolCallID(call llm.ToolCall) string {
	if call.ID != "" {
		return call.ID
	}
	return call.Name
}

func systemMessage(content string) llm.Message {
	return llm.Message{Role: llm.RoleSystem, Content: content}
}

func parseQuoteAmount(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case string:
		amount, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, apperrors.New(apperrors.CodeValidation, "兑换数量格式无效")
		}
		return amount, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return decimal.Zero, apperrors.New(apperrors.CodeValidation, "兑换数量缺失或类型不支持")
	}
}
