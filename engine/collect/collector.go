package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openassist/actionflow/engine/catalog"
	"github.com/openassist/actionflow/engine/llm"
)

// Config configures the collector.
type Config struct {
	// RequireConfirm inserts a PENDING_CONFIRM turn before completion.
	RequireConfirm bool
}

// Outcome is the result of one collection turn.
type Outcome struct {
	// Done is true once all required parameters are collected (and
	// confirmed, when confirmation is enabled).
	Done bool
	// Cancelled is true when the user abandoned the session this turn.
	Cancelled bool
	// Params holds the final parameter map when Done.
	Params map[string]any
	// Question is the next prompt for the user when not Done.
	Question string
	// Session is the updated session record.
	Session *Session
}

// Collector drives parameter-collection sessions. The completion service is
// optional: without it the collector degrades to rule-based slot filling.
type Collector struct {
	store      SessionStore
	catalog    catalog.Catalog
	completion llm.CompletionService // nil means degraded mode
	cfg        Config
}

// NewCollector creates a collector.
func NewCollector(store SessionStore, cat catalog.Catalog, completion llm.CompletionService, cfg Config) *Collector {
	return &Collector{
		store:      store,
		catalog:    cat,
		completion: completion,
		cfg:        cfg,
	}
}

// Active returns the open collection session for a conversation id, if any.
func (c *Collector) Active(ctx context.Context, sessionID string) (*Session, bool, error) {
	session, ok, err := c.store.Get(ctx, sessionID)
	if err != nil || !ok {
		return nil, false, err
	}
	if session.State == StateCancelled || session.State == StateCompleted {
		return nil, false, nil
	}
	return session, true, nil
}

// Begin opens a session for a matched action whose required parameters are
// incomplete. Collected values are seeded from the match extraction and the
// first question asks for the first missing parameter.
func (c *Collector) Begin(ctx context.Context, sessionID string, userID int32, match *catalog.Match) (*Session, error) {
	if match == nil || match.Action == nil {
		return nil, fmt.Errorf("collect: match with action required")
	}

	collected := make(map[string]any, len(match.Params))
	for k, v := range match.Params {
		collected[k] = v
	}
	missing := match.Action.MissingRequired(collected)

	session := &Session{
		ID:            sessionID,
		UserID:        userID,
		ActionID:      match.Action.ID,
		ActionName:    match.Action.Name,
		State:         StateCollecting,
		Collected:     collected,
		Missing:       missing,
		AwaitingInput: true,
		CreatedAt:     time.Now(),
	}
	session.NextQuestion = c.questionFor(match.Action, missing)

	if err := c.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("collect: save session: %w", err)
	}
	slog.Debug("collection session opened",
		"session", sessionID, "action", match.Action.ID, "missing", len(missing))
	return session, nil
}

// Continue consumes one user turn for an open session. The preferred path
// asks the completion collaborator to merge newly stated values; the
// fallback assigns the raw input to the first outstanding parameter.
func (c *Collector) Continue(ctx context.Context, session *Session, userInput string) (*Outcome, error) {
	if session == nil {
		return nil, fmt.Errorf("collect: session required")
	}

	action, ok, err := c.catalog.GetAction(ctx, session.ActionID)
	if err != nil {
		return nil, fmt.Errorf("collect: load action: %w", err)
	}
	if !ok {
		// The target action vanished; the session cannot make progress.
		_ = c.store.Close(ctx, session.ID)
		session.State = StateCancelled
		return &Outcome{Cancelled: true, Session: session}, nil
	}

	if isCancelWord(userInput) {
		return c.cancel(ctx, session)
	}

	if session.State == StatePendingConfirm {
		return c.handleConfirm(ctx, session, userInput)
	}

	c.mergeTurn(ctx, action, session, userInput)
	session.Missing = action.MissingRequired(session.Collected)

	if len(session.Missing) > 0 {
		session.NextQuestion = c.questionFor(action, session.Missing)
		session.AwaitingInput = true
		if err := c.store.Save(ctx, session); err != nil {
			return nil, fmt.Errorf("collect: save session: %w", err)
		}
		return &Outcome{Question: session.NextQuestion, Session: session}, nil
	}

	if c.cfg.RequireConfirm {
		session.State = StatePendingConfirm
		session.NextQuestion = c.confirmQuestion(action, session.Collected)
		session.AwaitingInput = true
		if err := c.store.Save(ctx, session); err != nil {
			return nil, fmt.Errorf("collect: save session: %w", err)
		}
		return &Outcome{Question: session.NextQuestion, Session: session}, nil
	}

	return c.complete(ctx, session)
}

// handleConfirm interprets the user's answer to the confirmation question.
func (c *Collector) handleConfirm(ctx context.Context, session *Session, userInput string) (*Outcome, error) {
	if isConfirmWord(userInput) {
		session.State = StateConfirmed
		return c.complete(ctx, session)
	}
	// Anything else is treated as a decline.
	return c.cancel(ctx, session)
}

// complete closes the session and hands the collected parameters back.
func (c *Collector) complete(ctx context.Context, session *Session) (*Outcome, error) {
	session.State = StateCompleted
	session.AwaitingInput = false
	session.NextQuestion = ""
	if err := c.store.Close(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("collect: close session: %w", err)
	}
	slog.Debug("collection session completed", "session", session.ID, "action", session.ActionID)
	return &Outcome{Done: true, Params: session.Collected, Session: session}, nil
}

// cancel abandons the session.
func (c *Collector) cancel(ctx context.Context, session *Session) (*Outcome, error) {
	session.State = StateCancelled
	session.AwaitingInput = false
	if err := c.store.Close(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("collect: close session: %w", err)
	}
	slog.Debug("collection session cancelled", "session", session.ID)
	return &Outcome{Cancelled: true, Session: session}, nil
}

// Cancel abandons the open session for a conversation id, if any.
func (c *Collector) Cancel(ctx context.Context, sessionID string) (bool, error) {
	session, ok, err := c.Active(ctx, sessionID)
	if err != nil || !ok {
		return false, err
	}
	_, err = c.cancel(ctx, session)
	return true, err
}

// mergeTurn folds one user turn into the collected parameter map, via the
// completion collaborator when available, otherwise via the rule-based
// fallback.
func (c *Collector) mergeTurn(ctx context.Context, action *catalog.ActionDefinition, session *Session, userInput string) {
	if c.completion != nil {
		if ok := c.mergeWithLLM(ctx, action, session, userInput); ok {
			return
		}
		slog.Debug("llm extraction failed, using rule-based fallback", "session", session.ID)
	}
	c.mergeFallback(action, session, userInput)
}

// extractionResult is the JSON shape the completion collaborator is asked to
// return.
type extractionResult struct {
	Params map[string]any `json:"params"`
}

// mergeWithLLM asks the completion collaborator to map the user's wording
// onto parameter names. Returns false on any failure so the caller can fall
// back.
func (c *Collector) mergeWithLLM(ctx context.Context, action *catalog.ActionDefinition, session *Session, userInput string) bool {
	prompt := c.extractionPrompt(action, session, userInput)
	raw, err := c.completion.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("completion collaborator failed", "session", session.ID, "error", err)
		return false
	}

	var result extractionResult
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &result); err != nil {
		slog.Debug("unparseable extraction response", "session", session.ID, "error", err)
		return false
	}
	if len(result.Params) == 0 {
		return false
	}

	for name, value := range result.Params {
		param := action.Parameter(name)
		if param == nil {
			continue
		}
		if err := param.ValidateValue(value); err != nil {
			slog.Debug("extracted value rejected", "session", session.ID, "param", name, "error", err)
			continue
		}
		session.Collected[name] = value
	}
	return true
}

// mergeFallback assigns the raw user input verbatim to the first outstanding
// missing parameter.
func (c *Collector) mergeFallback(action *catalog.ActionDefinition, session *Session, userInput string) {
	userInput = strings.TrimSpace(userInput)
	if userInput == "" || len(session.Missing) == 0 {
		return
	}
	name := session.Missing[0]
	if param := action.Parameter(name); param != nil {
		if err := param.ValidateValue(userInput); err != nil {
			slog.Debug("fallback value rejected", "session", session.ID, "param", name, "error", err)
			return
		}
	}
	session.Collected[name] = userInput
}

// extractionPrompt builds the slot-filling prompt for the completion
// collaborator.
func (c *Collector) extractionPrompt(action *catalog.ActionDefinition, session *Session, userInput string) string {
	var b strings.Builder
	b.WriteString("你是参数提取助手。用户正在为操作「")
	b.WriteString(action.Name)
	b.WriteString("」补充参数。\n\n参数定义：\n")
	for i := range action.Parameters {
		p := &action.Parameters[i]
		fmt.Fprintf(&b, "- %s (%s)", p.Name, p.Type)
		if p.Label != "" {
			fmt.Fprintf(&b, "：%s", p.Label)
		}
		if p.Required {
			b.WriteString(" [必填]")
		}
		b.WriteString("\n")
	}

	if len(session.Collected) > 0 {
		collected, _ := json.Marshal(session.Collected)
		fmt.Fprintf(&b, "\n已收集：%s\n", collected)
	}
	fmt.Fprintf(&b, "缺少：%s\n", strings.Join(session.Missing, ", "))
	fmt.Fprintf(&b, "\n用户输入：%s\n", userInput)
	b.WriteString("\n从用户输入中提取参数值，只返回 JSON，格式：{\"params\": {\"参数名\": \"值\"}}。无法提取时返回 {\"params\": {}}。")
	return b.String()
}

// questionFor builds the next question for the first missing parameter.
func (c *Collector) questionFor(action *catalog.ActionDefinition, missing []string) string {
	if len(missing) == 0 {
		return ""
	}
	if param := action.Parameter(missing[0]); param != nil {
		return param.Prompt()
	}
	return fmt.Sprintf("请提供参数 %s 的值", missing[0])
}

// confirmQuestion summarizes the collected parameters for confirmation.
func (c *Collector) confirmQuestion(action *catalog.ActionDefinition, collected map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "即将执行「%s」：\n", action.Name)
	for i := range action.Parameters {
		p := &action.Parameters[i]
		if v, ok := collected[p.Name]; ok {
			label := p.Label
			if label == "" {
				label = p.Name
			}
			fmt.Fprintf(&b, "- %s：%v\n", label, v)
		}
	}
	b.WriteString("确认执行吗？（确认/取消）")
	return b.String()
}

func isConfirmWord(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "确认", "确定", "是", "好", "好的", "yes", "y", "ok", "执行":
		return true
	}
	return false
}

func isCancelWord(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "取消", "算了", "不要", "不用了", "cancel", "no", "n":
		return true
	}
	return false
}

// stripCodeFence removes a markdown code fence wrapper from an LLM response.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
