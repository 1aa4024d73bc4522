package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/graphstudio/graphstudio/logger"
	"github.com/graphstudio/graphstudio/panel"
	"github.com/graphstudio/graphstudio/provider"
	"github.com/graphstudio/graphstudio/stream"
)

// Phase is the controller's position in the conversation loop.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseSending       Phase = "sending"
	PhaseStreaming     Phase = "streaming"
	PhaseToolPending   Phase = "tool_pending"
	PhaseToolExecuting Phase = "tool_executing"
)

// Options configures a Controller.
type Options struct {
	Provider         string // provider name, recorded in exports
	Model            string // model id, recorded in exports
	ContextWindow    int
	ContextWarnRatio float64
	// OnUpdate is invoked with a message snapshot after every visible
	// change: new messages, streamed content, finalization. Optional.
	OnUpdate func(messages []Message)
}

// Controller drives the conversation loop: user message in, tools and
// context gathered, response streamed, tool calls dispatched, results fed
// into a second streaming pass. At most one request is in flight; a new
// send cancels the previous one.
type Controller struct {
	provider   provider.Provider
	aggregator *Aggregator
	builder    *ContextBuilder
	dispatcher *Dispatcher
	opts       Options

	mu       sync.Mutex
	messages []Message
	phase    Phase
	cancel   context.CancelFunc
	runSeq   uint64
}

// NewController wires a controller over the given provider and panel store.
func NewController(p provider.Provider, store *panel.Store, opts Options) *Controller {
	return &Controller{
		provider:   p,
		aggregator: NewAggregator(store),
		builder:    NewContextBuilder(store, opts.ContextWindow, opts.ContextWarnRatio),
		dispatcher: NewDispatcher(store),
		opts:       opts,
		phase:      PhaseIdle,
	}
}

// Phase returns the controller's current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Messages returns a snapshot of the conversation.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Controller) notify() {
	if c.opts.OnUpdate == nil {
		return
	}
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.opts.OnUpdate(snap)
}

// SendMessage runs one full conversation turn and blocks until the turn
// completes, errors, or is stopped. Stopping is a clean, non-error return.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.cancel != nil {
		// A new send supersedes any still-pending request.
		c.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.runSeq++
	seq := c.runSeq
	c.phase = PhaseSending
	c.messages = append(c.messages, newMessage(RoleUser, text))
	placeholder := newMessage(RoleAssistant, "")
	placeholder.IsStreaming = true
	c.messages = append(c.messages, placeholder)
	placeholderID := placeholder.ID
	c.mu.Unlock()
	c.notify()

	defer func() {
		cancel()
		c.mu.Lock()
		// A newer send may already own the controller; only the run that
		// still holds the sequence resets shared fields.
		if c.runSeq == seq {
			c.cancel = nil
			c.phase = PhaseIdle
		}
		c.mu.Unlock()
		c.notify()
	}()

	tools, lookup := c.aggregator.Aggregate(runCtx)
	snap := c.builder.Snapshot(runCtx)
	system := c.builder.RenderSystemPrompt(snap, tools)

	req := &provider.Request{
		Messages: c.providerHistory(system),
		Tools:    ProviderTools(tools),
	}

	result, err := c.streamTurn(runCtx, req, placeholderID)
	if err != nil {
		return c.settleStreamError(runCtx, placeholderID, err)
	}
	c.finalize(placeholderID, result)

	if len(result.ToolCalls) == 0 {
		return nil
	}

	// Tool round-trip: dispatch every call, fold the ordered results into a
	// tool_results message, then stream the follow-up answer. The second
	// pass offers no tools; one round-trip of tool use per user turn.
	c.setPhase(PhaseToolPending)
	c.setPhase(PhaseToolExecuting)
	results := c.dispatcher.DispatchAll(runCtx, result.ToolCalls, lookup)

	c.mu.Lock()
	toolMsg := newMessage(RoleToolResults, "")
	toolMsg.Results = results
	c.messages = append(c.messages, toolMsg)
	second := newMessage(RoleAssistant, "")
	second.IsStreaming = true
	c.messages = append(c.messages, second)
	c.mu.Unlock()
	c.notify()

	if runCtx.Err() != nil {
		c.finalize(second.ID, stream.Result{})
		return nil
	}

	secondReq := &provider.Request{Messages: c.providerHistory(system)}
	secondResult, err := c.streamTurn(runCtx, secondReq, second.ID)
	if err != nil {
		return c.settleStreamError(runCtx, second.ID, err)
	}
	c.finalize(second.ID, secondResult)
	return nil
}

// Stop aborts the in-flight request, if any. The active message's streaming
// flag is cleared without marking it errored.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// RegenerateLastResponse truncates the conversation back to (and not
// including) the last user message and resends its content. This is the
// only operation that removes messages.
func (c *Controller) RegenerateLastResponse(ctx context.Context) error {
	c.mu.Lock()
	last := -1
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleUser {
			last = i
			break
		}
	}
	if last < 0 {
		c.mu.Unlock()
		return errors.New("no user message to regenerate from")
	}
	text := c.messages[last].Content
	c.messages = c.messages[:last]
	c.mu.Unlock()
	c.notify()

	return c.SendMessage(ctx, text)
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// streamTurn runs one streaming request, mutating the placeholder message in
// place as content arrives. Chunks are processed strictly in arrival order.
func (c *Controller) streamTurn(ctx context.Context, req *provider.Request, placeholderID string) (stream.Result, error) {
	c.setPhase(PhaseStreaming)
	decoder := stream.NewDecoder()

	err := c.provider.ChatStream(ctx, req, func(chunk stream.Chunk) error {
		delta := decoder.Process(chunk)
		if delta.Content == "" && !delta.ToolActivity {
			return nil
		}
		c.mu.Lock()
		if msg := c.findLocked(placeholderID); msg != nil {
			msg.Content = decoder.Content()
		}
		c.mu.Unlock()
		c.notify()
		return nil
	})
	if err != nil {
		return stream.Result{}, err
	}
	return decoder.Result(), nil
}

// settleStreamError distinguishes cancellation (clean stop) from real
// failures. Failures mark the active message as errored; earlier messages
// are never touched.
func (c *Controller) settleStreamError(ctx context.Context, placeholderID string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		c.mu.Lock()
		if msg := c.findLocked(placeholderID); msg != nil {
			msg.IsStreaming = false
		}
		c.mu.Unlock()
		logger.Info("stream stopped by user")
		return nil
	}

	c.mu.Lock()
	if msg := c.findLocked(placeholderID); msg != nil {
		msg.IsStreaming = false
		msg.IsError = true
		if msg.Content == "" {
			msg.Content = "Request failed: " + err.Error()
		}
	}
	c.mu.Unlock()
	logger.Error("stream failed", "err", err)
	return err
}

func (c *Controller) finalize(placeholderID string, result stream.Result) {
	c.mu.Lock()
	if msg := c.findLocked(placeholderID); msg != nil {
		if result.Content != "" {
			msg.Content = result.Content
		}
		for _, call := range result.ToolCalls {
			id := call.ID
			if id == "" {
				// Streams without call ids (start/delta encodings may omit
				// them) still need one: tool results are keyed by call id on
				// the wire.
				id = uuid.NewString()
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCallRecord{
				ID:        id,
				Name:      call.Name,
				Arguments: call.Arguments,
			})
		}
		msg.IsStreaming = false
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) findLocked(id string) *Message {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return &c.messages[i]
		}
	}
	return nil
}

// providerHistory renders the conversation for the wire. The system prompt
// is regenerated per request; streaming placeholders and errored messages
// are excluded. Tool results are paired with the preceding assistant
// message's calls by position.
func (c *Controller) providerHistory(system string) []provider.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := []provider.Message{provider.SystemMessage(system)}
	var lastCalls []ToolCallRecord

	for _, m := range c.messages {
		if m.IsStreaming || m.IsError {
			continue
		}
		switch m.Role {
		case RoleUser:
			out = append(out, provider.UserMessage(m.Content))

		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				if m.Content != "" {
					out = append(out, provider.AssistantMessage(m.Content))
				}
				continue
			}
			calls := make([]provider.ToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, provider.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: provider.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			lastCalls = m.ToolCalls
			out = append(out, provider.AssistantMessageWithTools(m.Content, calls))

		case RoleToolResults:
			for i, res := range m.Results {
				callID, name := "", res.ToolName
				if i < len(lastCalls) {
					callID = lastCalls[i].ID
					name = lastCalls[i].Name
				}
				out = append(out, provider.ToolResultMessage(callID, name, encodeToolResult(res)))
			}
		}
	}
	return out
}

func encodeToolResult(res ToolResult) string {
	data, err := json.Marshal(res)
	if err != nil {
		return `{"success":false,"error":"unserializable tool result"}`
	}
	return string(data)
}
