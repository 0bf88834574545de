// Package chat holds the thread, chat and profile records persisted by the
// storage layer.
package chat

import (
	"strings"
	"time"
)

// Message roles understood by the LLM vendor.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Modes a chat can be answered in.
const (
	ModeChat       = "chat"
	ModeSearch     = "search"
	ModeStock      = "stock"
	ModeWeather    = "weather"
	ModeDictionary = "dictionary"
	ModeImage      = "image"
)

// ThreadIDLength is the length of generated thread IDs.
const ThreadIDLength = 10

// Message is one entry of the LLM message log.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat is one question and its streamed answer.
type Chat struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Mode      string    `json:"mode"`
	Arg       string    `json:"arg"`
	CreatedAt time.Time `json:"createdAt"`
}

// Thread is a conversation owned by a single user.
type Thread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Chats     []Chat    `json:"chats"`
	Messages  []Message `json:"messages"`
	Shared    bool      `json:"shared"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IndexEntry maps a thread ID to its owner so shared links can be resolved
// without knowing the owner.
type IndexEntry struct {
	ThreadID  string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile is the stored part of a user's account.
type Profile struct {
	UserID           string    `json:"userId"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	ProfilePic       string    `json:"profilePic"`
	IsPro            bool      `json:"isPro"`
	StripeCustomerID string    `json:"-"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the thread.
func (t Thread) Clone() Thread {
	out := t
	out.Chats = append([]Chat(nil), t.Chats...)
	out.Messages = append([]Message(nil), t.Messages...)
	return out
}

// LastChat returns the last chat, or nil when the thread is empty.
func (t *Thread) LastChat() *Chat {
	if len(t.Chats) == 0 {
		return nil
	}
	return &t.Chats[len(t.Chats)-1]
}

// SystemMessage returns the first system message.
func (t *Thread) SystemMessage() (Message, bool) {
	for _, m := range t.Messages {
		if m.Role == RoleSystem {
			return m, true
		}
	}
	return Message{}, false
}

// LastIndexOf returns the index of the last message with role, or -1.
func (t *Thread) LastIndexOf(role string) int {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == role {
			return i
		}
	}
	return -1
}

// Title is the first question, used for listings and share cards.
func (t *Thread) Title() string {
	if len(t.Chats) == 0 {
		return ""
	}
	return t.Chats[0].Question
}

// WordCount counts words across all questions and answers.
func (t *Thread) WordCount() int {
	n := 0
	for _, c := range t.Chats {
		n += len(strings.Fields(c.Question)) + len(strings.Fields(c.Answer))
	}
	return n
}

// ValidMode reports whether mode is one the router can produce.
func ValidMode(mode string) bool {
	switch mode {
	case ModeChat, ModeSearch, ModeStock, ModeWeather, ModeDictionary, ModeImage:
		return true
	}
	return false
}
