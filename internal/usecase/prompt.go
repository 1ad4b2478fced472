package usecase

import (
	"strings"

	"support-chat/internal/domain"
)

// DefaultSystemPrompt is the store-policy instruction sent ahead of every
// conversation unless replaced by configuration.
var DefaultSystemPrompt = strings.Join([]string{
	"You are a helpful customer support agent for an e-commerce store.",
	"",
	"Store Policies:",
	"- Shipping: Free shipping on orders over $50. Standard shipping takes 5-7 business days. Express shipping (2-3 days) costs $15.",
	"- Returns: 30-day return policy. Items must be unused with original tags. Refunds processed within 5-7 business days.",
	"- Support Hours: Monday-Friday 9 AM - 6 PM EST. Weekend support available via email only.",
	"",
	"Be friendly, concise, and helpful. If you don't know something, admit it and offer to escalate.",
}, "\n")

// buildPromptMessages returns the system instruction, the newest maxHistory
// history entries in their original order, then the new user message.
func buildPromptMessages(systemPrompt, userMessage string, history []domain.Message, maxHistory int) []domain.ChatMessage {
	if maxHistory >= 0 && len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, domain.ChatMessage{
			Role:    m.Sender.ChatRole(),
			Content: m.Content,
		})
	}
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: userMessage})
	return messages
}
