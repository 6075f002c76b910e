package anthropic

import (
	"fmt"
	"sort"
	"strings"

	"storechat/internal/domain"
)

const systemPrompt = `You are a friendly and knowledgeable e-commerce shopping assistant. Your role is to help customers find products, answer questions about store policies, and provide excellent customer service.

Guidelines:
- Be conversational, helpful, and concise
- When recommending products, focus on the customer's needs and preferences
- Provide accurate information about store policies when asked
- If you don't know something, admit it rather than making up information
- Be proactive in suggesting relevant products based on the conversation
- Keep responses brief but informative (2-3 sentences typically)`

// buildSystemPrompt appends the store context and any relevant products to
// the fixed persona instructions.
func buildSystemPrompt(store domain.StoreInfo, products []domain.Product) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	b.WriteString("\n\n## Store Information:\n")
	fmt.Fprintf(&b, "Name: %s\n", store.Name)
	fmt.Fprintf(&b, "Description: %s\n", store.Description)
	if store.Hours != "" {
		fmt.Fprintf(&b, "Hours: %s\n", store.Hours)
	}
	if len(store.Locations) > 0 {
		fmt.Fprintf(&b, "Locations: %s\n", strings.Join(store.Locations, ", "))
	}

	if len(store.Policies) > 0 {
		b.WriteString("\n## Store Policies:\n")
		keys := make([]string, 0, len(store.Policies))
		for k := range store.Policies {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if store.Policies[k] != "" {
				fmt.Fprintf(&b, "%s: %s\n", k, store.Policies[k])
			}
		}
	}

	if len(products) > 0 {
		b.WriteString("\n## Relevant Products for this conversation:\n")
		for _, p := range products {
			fmt.Fprintf(&b, "\n- %s\n", p.Title)
			fmt.Fprintf(&b, "  Price: %s\n", p.Price)
			if p.Rating > 0 {
				fmt.Fprintf(&b, "  Rating: %g/5 (%d reviews)\n", p.Rating, p.Reviews)
			}
		}
	}

	return b.String()
}

// formatMessages maps persisted history to the provider's role vocabulary.
// Only text messages that the client did not mark as failed participate in
// context construction. Consecutive same-role messages are merged because
// the Messages API requires alternating roles.
func formatMessages(history []domain.Message) []domain.ChatMessage {
	var out []domain.ChatMessage
	for _, m := range history {
		if m.Kind != domain.KindText || m.Error {
			continue
		}
		role := "assistant"
		if m.Sender == domain.SenderUser {
			role = "user"
		}
		if len(out) > 0 && out[len(out)-1].Role == role {
			out[len(out)-1].Content += "\n" + m.Content
			continue
		}
		out = append(out, domain.ChatMessage{Role: role, Content: m.Content})
	}
	return out
}
