// Package bot runs the chat session loop: it polls Telegram for updates,
// asks the gatekeeper whether each sender may proceed, forwards allowed
// prompts upstream, and meters usage after each completed call.
package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptgate/promptgate/internal/adapter"
	"github.com/promptgate/promptgate/internal/codeblock"
	"github.com/promptgate/promptgate/internal/core"
	"github.com/promptgate/promptgate/internal/openai"
	"github.com/promptgate/promptgate/internal/telegram"
)

// replyLimit is the Telegram message size cap we truncate replies to.
const replyLimit = 4000

// Transport is the subset of the Telegram client the bot uses.
type Transport interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) (telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	SendDocument(ctx context.Context, chatID int64, filename string, content []byte) error
	GetFile(ctx context.Context, fileID string) (telegram.File, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
}

// Config holds the bot's collaborators and fixed settings.
type Config struct {
	Transport    Transport
	Gatekeeper   *core.Gatekeeper
	Chat         adapter.ChatAdapter
	DefaultModel string
	SystemPrompt string
	PollTimeout  int // long-poll hold in seconds; zero uses 30
}

// Bot owns the update loop and per-session state. The selected model is
// deliberately session-scoped: it lives here, not in the ledger, and resets
// on process restart.
type Bot struct {
	transport    Transport
	gate         *core.Gatekeeper
	chat         adapter.ChatAdapter
	defaultModel string
	systemPrompt string
	pollTimeout  int
	logger       *log.Logger

	mu     sync.Mutex
	models map[string]string // identity -> selected model
}

// New creates a Bot.
func New(cfg Config) *Bot {
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	return &Bot{
		transport:    cfg.Transport,
		gate:         cfg.Gatekeeper,
		chat:         cfg.Chat,
		defaultModel: cfg.DefaultModel,
		systemPrompt: cfg.SystemPrompt,
		pollTimeout:  pollTimeout,
		logger:       log.New(log.Writer(), "[promptgate/bot] ", log.LstdFlags|log.Lmicroseconds),
		models:       make(map[string]string),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (b *Bot) SetLogger(logger *log.Logger) {
	if logger != nil {
		b.logger = logger
	}
}

func (b *Bot) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}

// Run polls for updates until the context ends. Each message is handled in
// its own goroutine so a slow completion call never blocks the poll loop.
func (b *Bot) Run(ctx context.Context) error {
	var offset int64
	var wg sync.WaitGroup
	defer wg.Wait()

	b.logf("poll loop started timeout=%ds model=%s", b.pollTimeout, b.defaultModel)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, err := b.transport.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logf("poll failed: %v", err)
			telegram.WaitBeforeRetry(ctx)
			continue
		}
		offset = telegram.NextOffset(updates, offset)
		for _, u := range updates {
			if u.Message == nil || u.Message.From == nil {
				continue
			}
			msg := *u.Message
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.handleMessage(ctx, msg)
			}()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg telegram.Message) {
	identity := strconv.FormatInt(msg.From.ID, 10)
	reqID := uuid.NewString()
	chatID := msg.Chat.ID

	text := strings.TrimSpace(msg.Text)
	switch {
	case msg.Document != nil:
		b.logf("req=%s identity=%s document=%s", reqID, identity, msg.Document.FileName)
		b.handleDocument(ctx, reqID, chatID, identity, msg)
		return
	case strings.HasPrefix(text, "/"):
		b.logf("req=%s identity=%s command=%s", reqID, identity, commandWord(text))
		b.handleCommand(ctx, chatID, identity, text)
		return
	case text == "":
		return
	}

	b.logf("req=%s identity=%s text_len=%d", reqID, identity, len(text))
	decision := b.gate.Authorize(identity, text, time.Now())
	if !b.reportDecision(ctx, chatID, decision) {
		return
	}
	b.processPrompt(ctx, reqID, chatID, identity, text, decision.Admin)
}

// reportDecision replies to every non-proceed verdict and reports whether
// the caller may continue with the prompt.
func (b *Bot) reportDecision(ctx context.Context, chatID int64, d core.Decision) bool {
	switch d.Kind {
	case core.DecisionProceed:
		return true
	case core.DecisionRedeemed:
		b.reply(ctx, chatID, fmt.Sprintf(
			"Activation successful. Balance %.2f, valid for %d days (until %s).",
			d.Grant.Balance, d.Grant.Days, d.Grant.ExpiresAt.Format("2006-01-02")))
	case core.DecisionInvalidCode:
		b.reply(ctx, chatID, "That activation key is invalid or has already been used.")
	case core.DecisionNeedsActivation:
		b.reply(ctx, chatID, "No active account. Send an activation key (KEY-...) to begin.")
	case core.DecisionExpired:
		b.reply(ctx, chatID, "Your access has expired. Send a new activation key to continue.")
	case core.DecisionExhausted:
		b.reply(ctx, chatID, "Your balance is used up. Send a new activation key to continue.")
	}
	return false
}

func (b *Bot) processPrompt(ctx context.Context, reqID string, chatID int64, identity, prompt string, admin bool) {
	status, err := b.transport.SendMessage(ctx, chatID, "Working on it...")
	if err != nil {
		b.logf("req=%s send status failed: %v", reqID, err)
		return
	}

	model := b.modelFor(identity)
	resp, err := b.chat.CreateCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: b.systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		// Upstream failure: no metering, generic message to the user.
		b.logf("req=%s upstream error: %v", reqID, err)
		b.edit(ctx, chatID, status.MessageID, "Something went wrong talking to the model. Please try again.")
		return
	}

	reply := resp.Text()
	if reply == "" {
		reply = "(empty response)"
	}
	b.edit(ctx, chatID, status.MessageID, truncate(reply, replyLimit))

	for _, f := range codeblock.Extract(reply) {
		if err := b.transport.SendDocument(ctx, chatID, f.Name, []byte(f.Content)); err != nil {
			b.logf("req=%s send document %s failed: %v", reqID, f.Name, err)
		}
	}

	cost := b.gate.Charge(identity, model, resp.Usage.TotalTokens)
	b.logf("req=%s identity=%s model=%s tokens=%d cost=%.6f", reqID, identity, model, resp.Usage.TotalTokens, cost)
	if cost > 0 && !admin {
		if acct, ok := b.gate.Account(identity); ok {
			b.reply(ctx, chatID, fmt.Sprintf("Charged %.4f. Remaining balance: %.4f.", cost, acct.Balance))
		}
	}
}

func (b *Bot) handleDocument(ctx context.Context, reqID string, chatID int64, identity string, msg telegram.Message) {
	caption := strings.TrimSpace(msg.Caption)
	decision := b.gate.Authorize(identity, caption, time.Now())
	if !b.reportDecision(ctx, chatID, decision) {
		return
	}

	status, err := b.transport.SendMessage(ctx, chatID, "File received, reading...")
	if err != nil {
		b.logf("req=%s send status failed: %v", reqID, err)
		return
	}

	file, err := b.transport.GetFile(ctx, msg.Document.FileID)
	if err != nil {
		b.logf("req=%s get file failed: %v", reqID, err)
		b.edit(ctx, chatID, status.MessageID, "Could not read the file. Please try again.")
		return
	}
	data, err := b.transport.DownloadFile(ctx, file.FilePath)
	if err != nil {
		b.logf("req=%s download failed: %v", reqID, err)
		b.edit(ctx, chatID, status.MessageID, "Could not read the file. Please try again.")
		return
	}

	instruction := caption
	if instruction == "" {
		instruction = "Please analyze the code in this file."
	}
	prompt := fmt.Sprintf("The user uploaded a file: %s\nContents:\n\n%s\n\nInstruction: %s",
		msg.Document.FileName, strings.ToValidUTF8(string(data), ""), instruction)

	if err := b.transport.DeleteMessage(ctx, chatID, status.MessageID); err != nil {
		b.logf("req=%s delete status failed: %v", reqID, err)
	}
	b.processPrompt(ctx, reqID, chatID, identity, prompt, decision.Admin)
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, identity, text string) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/start":
		b.reply(ctx, chatID,
			"Ready. Send a programming task, or upload a source/log file for analysis.\n"+
				"Activate access with a key: just send it as a message (KEY-...).\n"+
				"Commands: /model to pick a model, /usage to see your balance.")
	case "/model":
		b.commandModel(ctx, chatID, identity, fields)
	case "/usage":
		b.commandUsage(ctx, chatID, identity)
	case "/key":
		b.commandKey(ctx, chatID, identity, fields)
	default:
		b.reply(ctx, chatID, "Unknown command. Available: /start, /model, /usage, /key.")
	}
}

func (b *Bot) commandModel(ctx context.Context, chatID int64, identity string, fields []string) {
	if len(fields) < 2 {
		b.reply(ctx, chatID, fmt.Sprintf(
			"Current model: %s\nSet one with /model <id>. The choice lasts until the bot restarts.",
			b.modelFor(identity)))
		return
	}
	model := fields[1]
	b.mu.Lock()
	b.models[identity] = model
	b.mu.Unlock()
	b.reply(ctx, chatID, fmt.Sprintf("Model set to %s for this session.", model))
}

func (b *Bot) commandUsage(ctx context.Context, chatID int64, identity string) {
	if totals, err := b.gate.UsageSummary(identity); err == nil {
		b.reply(ctx, chatID, fmt.Sprintf(
			"Accounts: %d\nOutstanding keys: %d\nTotal balance: %.4f",
			totals.Accounts, totals.OutstandingKeys, totals.TotalBalance))
		return
	}
	acct, ok := b.gate.Account(identity)
	if !ok {
		b.reply(ctx, chatID, "No active account. Send an activation key (KEY-...) to begin.")
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("Balance: %.4f\nValid until: %s",
		acct.Balance, acct.ExpiresAt.Format("2006-01-02")))
}

func (b *Bot) commandKey(ctx context.Context, chatID int64, identity string, fields []string) {
	days := 30
	balance := 5.0
	var err error
	if len(fields) > 1 {
		if days, err = strconv.Atoi(fields[1]); err != nil {
			b.reply(ctx, chatID, "Usage: /key [days] [balance]")
			return
		}
	}
	if len(fields) > 2 {
		if balance, err = strconv.ParseFloat(fields[2], 64); err != nil {
			b.reply(ctx, chatID, "Usage: /key [days] [balance]")
			return
		}
	}
	code, err := b.gate.IssueKey(identity, days, balance)
	if err != nil {
		if err == core.ErrNotOperator {
			b.reply(ctx, chatID, "Only the operator can issue keys.")
		} else {
			b.reply(ctx, chatID, fmt.Sprintf("Could not issue key: %v", err))
		}
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("New key (%d days, balance %.2f):\n%s", days, balance, code))
}

func (b *Bot) modelFor(identity string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.models[identity]; ok {
		return m
	}
	return b.defaultModel
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.transport.SendMessage(ctx, chatID, text); err != nil {
		b.logf("send reply failed: %v", err)
	}
}

func (b *Bot) edit(ctx context.Context, chatID, messageID int64, text string) {
	if err := b.transport.EditMessageText(ctx, chatID, messageID, text); err != nil {
		b.logf("edit message failed: %v", err)
	}
}

func commandWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
