package chat

import "testing"

func TestThread_Clone(t *testing.T) {
	orig := Thread{
		ID:       "abc",
		Chats:    []Chat{{Question: "q1"}},
		Messages: []Message{{Role: RoleUser, Content: "q1"}},
	}
	clone := orig.Clone()
	clone.Chats[0].Answer = "changed"
	clone.Messages = append(clone.Messages, Message{Role: RoleAssistant})

	if orig.Chats[0].Answer != "" {
		t.Error("Clone shares chat storage")
	}
	if len(orig.Messages) != 1 {
		t.Error("Clone shares message storage")
	}
}

func TestThread_Accessors(t *testing.T) {
	th := Thread{
		Chats: []Chat{
			{Question: "What is Go?", Answer: "A programming language"},
			{Question: "Who made it?", Answer: "Google"},
		},
		Messages: []Message{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleUser, Content: "What is Go?"},
			{Role: RoleAssistant, Content: "A programming language"},
			{Role: RoleUser, Content: "Who made it?"},
		},
	}

	if th.LastChat().Question != "Who made it?" {
		t.Errorf("LastChat() = %+v", th.LastChat())
	}
	if sys, ok := th.SystemMessage(); !ok || sys.Content != "sys" {
		t.Errorf("SystemMessage() = %+v, %v", sys, ok)
	}
	if got := th.LastIndexOf(RoleAssistant); got != 2 {
		t.Errorf("LastIndexOf(assistant) = %d, want 2", got)
	}
	if got := th.LastIndexOf("tool"); got != -1 {
		t.Errorf("LastIndexOf(tool) = %d, want -1", got)
	}
	if th.Title() != "What is Go?" {
		t.Errorf("Title() = %q", th.Title())
	}
	if got := th.WordCount(); got != 10 {
		t.Errorf("WordCount() = %d, want 10", got)
	}

	var empty Thread
	if empty.LastChat() != nil || empty.Title() != "" {
		t.Error("empty thread accessors should be zero")
	}
}

func TestValidMode(t *testing.T) {
	for _, m := range []string{"chat", "search", "stock", "weather", "dictionary", "image"} {
		if !ValidMode(m) {
			t.Errorf("ValidMode(%q) = false", m)
		}
	}
	if ValidMode("calculator") {
		t.Error("ValidMode(calculator) = true")
	}
}
