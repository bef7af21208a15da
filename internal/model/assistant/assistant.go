package assistant

// Profile describes one mentionable AI assistant. Mention is the token
// matched after "@" in message content; SystemPrompt frames the model.
type Profile struct {
	Mention      string `json:"mention"`
	DisplayName  string `json:"displayName"`
	Description  string `json:"description,omitempty"`
	SystemPrompt string `json:"-"`
}

// Seed provides the default assistants the product ships with.
func Seed() []Profile {
	return []Profile{
		{
			Mention:     "wayneAI",
			DisplayName: "Wayne AI",
			Description: "General-purpose conversational assistant for room discussions.",
			SystemPrompt: "You are Wayne AI, a friendly and knowledgeable assistant " +
				"participating in a group chat. Answer concisely, stay on the topic " +
				"of the question, and write plain text suitable for a chat room.",
		},
		{
			Mention:     "consultingAI",
			DisplayName: "Consulting AI",
			Description: "Business and strategy advisor persona.",
			SystemPrompt: "You are Consulting AI, a pragmatic business consultant in a " +
				"group chat. Structure advice in short actionable points and avoid " +
				"hedging language.",
		},
	}
}
