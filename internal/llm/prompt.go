package llm

import (
	"fmt"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
)

// RoutingPrompt steers the router towards the tool functions.
const RoutingPrompt = "You are an AI Assistant who is supposed to use functions or chat based on the user query. " +
	"If the user wants to search for information, use the search function. " +
	"If the user wants stock information, use the stock function. " +
	"If the user wants weather information, use the weather function. " +
	"If the user wants dictionary information, use the dictionary function."

// SystemPrompt opens every new thread's message log.
const SystemPrompt = "You are Omniplex, a helpful AI assistant. Answer accurately and concisely. " +
	"Format answers in Markdown and use code blocks for code."

// RoutingMessages builds the router input for a single question.
func RoutingMessages(text string) []chat.Message {
	return []chat.Message{
		{Role: chat.RoleSystem, Content: RoutingPrompt},
		{Role: chat.RoleUser, Content: text},
	}
}

// InitialMessages builds the prompt for answering the thread's last chat:
// the system message, the custom prompt, earlier chats as user/assistant
// turns, the tool data, then the question.
func InitialMessages(thread chat.Thread, data, customPrompt string) []chat.Message {
	last := thread.LastChat()
	if last == nil {
		return nil
	}

	system, ok := thread.SystemMessage()
	if !ok {
		system = chat.Message{Role: chat.RoleSystem, Content: SystemPrompt}
	}
	messages := []chat.Message{system}
	if customPrompt != "" {
		messages = append(messages, chat.Message{Role: chat.RoleSystem, Content: customPrompt})
	}
	messages = appendHistory(messages, thread.Chats[:len(thread.Chats)-1])
	if data != "" {
		messages = append(messages, chat.Message{Role: chat.RoleSystem, Content: toolContext(last.Mode, data)})
	}
	return append(messages, chat.Message{Role: chat.RoleUser, Content: last.Question})
}

// RewriteMessages builds the prompt for regenerating the last answer. The
// final user turn is the last user message in the log, falling back to the
// last question, and the custom prompt sits right before it.
func RewriteMessages(thread chat.Thread, customPrompt string) []chat.Message {
	last := thread.LastChat()
	if last == nil {
		return nil
	}

	var messages []chat.Message
	if system, ok := thread.SystemMessage(); ok {
		messages = append(messages, system)
	}
	messages = appendHistory(messages, thread.Chats[:len(thread.Chats)-1])

	question := last.Question
	if i := thread.LastIndexOf(chat.RoleUser); i >= 0 {
		question = thread.Messages[i].Content
	}
	if customPrompt != "" {
		messages = append(messages, chat.Message{Role: chat.RoleSystem, Content: customPrompt})
	}
	return append(messages, chat.Message{Role: chat.RoleUser, Content: question})
}

func appendHistory(messages []chat.Message, chats []chat.Chat) []chat.Message {
	for _, c := range chats {
		messages = append(messages, chat.Message{Role: chat.RoleUser, Content: c.Question})
		if c.Answer != "" {
			messages = append(messages, chat.Message{Role: chat.RoleAssistant, Content: c.Answer})
		}
	}
	return messages
}

func toolContext(mode, data string) string {
	switch mode {
	case chat.ModeSearch:
		return "Answer the question using the following search results and website data. " +
			"Cite sources by their URL where useful.\n\n" + data
	default:
		return fmt.Sprintf("Answer the question using the following %s data. "+
			"Do not repeat the raw data.\n\n%s", mode, data)
	}
}
