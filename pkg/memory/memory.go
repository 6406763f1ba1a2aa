// Package memory keeps the in-process chat transcript and assembles prompts
// that fit a fixed token budget. Counting uses the cl100k_base encoding.
package memory

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/avass/docq/internal/models"
)

// ErrQuestionTooLong is returned when the question alone exceeds its share of
// the token budget.
var ErrQuestionTooLong = errors.New("question too long")

const (
	encodingName  = "cl100k_base"
	summaryPrefix = "Previous conversation summary:"

	// questionTemplate is the user turn carrying the retrieved context.
	questionTemplate = "Context:\n%s\n\nQuestion: %s\n\nRemember: If the answer is not fully" +
		" contained in the context, reply ONLY with 'I don't have enough information to answer this question.'"
)

// TokenCounter counts prompt tokens. The default uses tiktoken; tests can
// substitute a deterministic counter.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

type Config struct {
	// TokenLimit is the budget for the whole assembled prompt.
	TokenLimit int
	// RecentMessages is how many trailing turns are included verbatim.
	RecentMessages int
	// QuestionThreshold is the fraction of TokenLimit a question may use.
	QuestionThreshold float64
	// SummarizeThreshold is the fraction of TokenLimit past which older turns
	// are folded into a summary.
	SummarizeThreshold float64
	// Counter overrides the token counter.
	Counter TokenCounter
}

// Manager owns the transcript. Safe for concurrent use.
type Manager struct {
	config  Config
	counter TokenCounter

	mu      sync.Mutex
	history []models.ChatMessage
}

func NewManager(config Config) (*Manager, error) {
	if config.TokenLimit == 0 {
		config.TokenLimit = 8000
	}
	if config.RecentMessages == 0 {
		config.RecentMessages = 3
	}
	if config.QuestionThreshold == 0 {
		config.QuestionThreshold = 0.2
	}
	if config.SummarizeThreshold == 0 {
		config.SummarizeThreshold = 0.7
	}

	counter := config.Counter
	if counter == nil {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s encoding: %w", encodingName, err)
		}
		counter = tiktokenCounter{enc: enc}
	}

	return &Manager{
		config:  config,
		counter: counter,
	}, nil
}

// CountTokens returns the token count of text.
func (m *Manager) CountTokens(text string) int {
	return m.counter.Count(text)
}

// HistoryTokenCount returns the total token count of the transcript.
func (m *Manager) HistoryTokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, msg := range m.history {
		total += m.CountTokens(msg.Content)
	}
	return total
}

// AddMessage appends one turn to the transcript.
func (m *Manager) AddMessage(role models.Role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, models.ChatMessage{Role: role, Content: content})
}

// AddExchange appends a complete user/assistant exchange.
func (m *Manager) AddExchange(query, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history,
		models.ChatMessage{Role: models.RoleUser, Content: query},
		models.ChatMessage{Role: models.RoleAssistant, Content: response},
	)
}

// Clear drops the transcript.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}

// History returns a copy of the transcript.
func (m *Manager) History() []models.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ChatMessage, len(m.history))
	copy(out, m.history)
	return out
}

// PrepareContext assembles the messages for one LLM call: system prompt, the
// transcript, and the user turn carrying the retrieved context. While the
// transcript stays under the summarize threshold's share of the budget it is
// included verbatim; past it, turns older than the recent window are folded
// into a summary. When the result would still exceed the token budget it is
// repaired in stages: the context block is truncated, then older history is
// summarized more aggressively, then the summary itself is truncated.
func (m *Manager) PrepareContext(query, systemPrompt, context string) ([]models.ChatMessage, error) {
	m.mu.Lock()
	history := make([]models.ChatMessage, len(m.history))
	copy(history, m.history)
	m.mu.Unlock()

	queryTokens := m.CountTokens(query)
	contextTokens := m.CountTokens(context)

	if float64(queryTokens) > float64(m.config.TokenLimit)*m.config.QuestionThreshold {
		return nil, ErrQuestionTooLong
	}

	recentLimit := m.config.RecentMessages

	historyTokens := 0
	for _, msg := range history {
		historyTokens += m.CountTokens(msg.Content)
	}
	summarizing := float64(historyTokens) > float64(m.config.TokenLimit)*m.config.SummarizeThreshold

	messages := m.assemble(history, systemPrompt, query, context, summarizing)

	total := m.countAll(messages)
	if total <= m.config.TokenLimit {
		return messages, nil
	}

	// Verbatim history did not fit; fold older turns into a summary before
	// resorting to truncation.
	if !summarizing {
		messages = m.assemble(history, systemPrompt, query, context, true)
		total = m.countAll(messages)
		if total <= m.config.TokenLimit {
			return messages, nil
		}
	}

	// Stage one: shrink the context block, for short histories where the
	// context is the dominant cost.
	if len(history) < 10 {
		maxContextTokens := m.config.TokenLimit - (total - contextTokens) - 100
		if maxContextTokens > 100 {
			truncated := m.truncateToTokens(context, maxContextTokens, "\n[Context truncated due to length]")
			for i := range messages {
				if messages[i].Role == models.RoleUser {
					messages[i].Content = fmt.Sprintf(questionTemplate, truncated, query)
					break
				}
			}
			total = m.countAll(messages)
		}
	}

	// Stage two: fold everything past message 15 into the summary.
	if total > m.config.TokenLimit && len(history) > 15 {
		veryOld := sliceRange(history, 15, len(history))
		if len(veryOld) > 0 {
			replaceSummary(messages, summaryPrefix+"\n"+m.summarize(veryOld))
			total = m.countAll(messages)
		}
	}

	// Stage three: summarize everything past the recent window.
	if total > m.config.TokenLimit && len(history) > recentLimit {
		allOlder := sliceRange(history, recentLimit, len(history))
		if len(allOlder) > 0 {
			summary := summaryPrefix + "\n" + m.summarize(allOlder)
			if !replaceSummary(messages, summary) {
				// Insert after the system prompt
				messages = append(messages[:1], append([]models.ChatMessage{
					{Role: models.RoleSystem, Content: summary},
				}, messages[1:]...)...)
			}
			total = m.countAll(messages)

			if total > m.config.TokenLimit {
				excess := total - m.config.TokenLimit
				for i := range messages {
					if isSummary(messages[i]) {
						maxSummaryTokens := m.CountTokens(messages[i].Content) - excess - 50
						if maxSummaryTokens > 100 {
							messages[i].Content = m.truncateToTokens(
								messages[i].Content, maxSummaryTokens, "\n[Summary truncated due to length]")
						}
						break
					}
				}
			}
		}
	}

	return messages, nil
}

// assemble lays out one prompt: system prompt, then either the whole
// transcript or a summary of the older turns plus the recent window, then the
// user turn with the context block.
func (m *Manager) assemble(history []models.ChatMessage, systemPrompt, query, context string, summarize bool) []models.ChatMessage {
	recentLimit := m.config.RecentMessages

	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: systemPrompt},
	}

	if summarize && len(history) > recentLimit {
		older := sliceRange(history, recentLimit, 15)
		if len(older) > 0 {
			messages = append(messages, models.ChatMessage{
				Role:    models.RoleSystem,
				Content: summaryPrefix + "\n" + m.summarize(older),
			})
		}
		messages = append(messages, tail(history, recentLimit)...)
	} else {
		messages = append(messages, history...)
	}

	return append(messages, models.ChatMessage{
		Role:    models.RoleUser,
		Content: fmt.Sprintf(questionTemplate, context, query),
	})
}

// summarize produces a compact textual recap of older turns. A real summary
// would come from an LLM call; this keeps the first and last exchanges and
// elides the middle, which is enough to preserve referents.
func (m *Manager) summarize(messages []models.ChatMessage) string {
	formatted := make([]string, 0, len(messages))
	for _, msg := range messages {
		formatted = append(formatted, formatTurn(msg))
	}

	if len(formatted) > 10 {
		var b strings.Builder
		b.WriteString(strings.Join(formatted[:5], "\n"))
		b.WriteString("\n... [previous exchanges] ...\n")
		b.WriteString(strings.Join(formatted[len(formatted)-5:], "\n"))
		b.WriteString(fmt.Sprintf("\n\nIn total: %d exchanges summarized.", len(formatted)))
		return b.String()
	}

	return strings.Join(formatted, "\n")
}

// FormatTranscript renders the transcript for export.
func (m *Manager) FormatTranscript() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := make([]string, 0, len(m.history))
	for _, msg := range m.history {
		lines = append(lines, formatTurn(msg))
	}
	return strings.Join(lines, "\n\n")
}

func formatTurn(msg models.ChatMessage) string {
	role := "Assistant"
	if msg.Role == models.RoleUser {
		role = "User"
	}
	return fmt.Sprintf("%s: %s", role, msg.Content)
}

// truncateToTokens drops the trailing 10% of text repeatedly until it fits
// the token budget, appending the marker when anything was cut.
func (m *Manager) truncateToTokens(text string, maxTokens int, marker string) string {
	truncated := text
	for m.CountTokens(truncated) > maxTokens && len(truncated) > 100 {
		truncated = strings.ToValidUTF8(truncated[:len(truncated)*9/10], "")
	}
	if truncated == text {
		return text
	}
	return truncated + marker
}

func (m *Manager) countAll(messages []models.ChatMessage) int {
	total := 0
	for _, msg := range messages {
		total += m.CountTokens(msg.Content)
	}
	return total
}

func isSummary(msg models.ChatMessage) bool {
	return msg.Role == models.RoleSystem && strings.Contains(msg.Content, summaryPrefix)
}

func replaceSummary(messages []models.ChatMessage, content string) bool {
	for i := range messages {
		if isSummary(messages[i]) {
			messages[i].Content = content
			return true
		}
	}
	return false
}

func sliceRange(messages []models.ChatMessage, start, end int) []models.ChatMessage {
	if start >= len(messages) {
		return nil
	}
	if start < 0 {
		start = 0
	}
	if end > len(messages) {
		end = len(messages)
	}
	return messages[start:end]
}

func tail(messages []models.ChatMessage, n int) []models.ChatMessage {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
