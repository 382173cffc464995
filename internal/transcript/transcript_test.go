package transcript

import "testing"

func TestNew_SeedsIntroduction(t *testing.T) {
	tr := New("Hi, I'm Cappy")

	if tr.Len() != 1 {
		t.Fatalf("Expected 1 entry, got %d", tr.Len())
	}
	last, ok := tr.Last()
	if !ok || last.Sender != SenderAssistant || last.Text != "Hi, I'm Cappy" {
		t.Errorf("Unexpected intro entry: %+v", last)
	}
}

func TestAppend_KeepsOrder(t *testing.T) {
	tr := New("intro")
	tr.Append(SenderUser, "hello")
	tr.Append(SenderAssistant, "Hi!")

	entries := tr.Entries()
	want := []Entry{
		{Sender: SenderAssistant, Text: "intro"},
		{Sender: SenderUser, Text: "hello"},
		{Sender: SenderAssistant, Text: "Hi!"},
	}
	if len(entries) != len(want) {
		t.Fatalf("Expected %d entries, got %d", len(want), len(entries))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("Entry %d: expected %+v, got %+v", i, want[i], entries[i])
		}
	}
}

func TestEntries_ReturnsCopy(t *testing.T) {
	tr := New("intro")
	entries := tr.Entries()
	entries[0].Text = "changed"

	if last, _ := tr.Last(); last.Text != "intro" {
		t.Errorf("Expected transcript to be unaffected by caller edits, got %q", last.Text)
	}
}

func TestReset(t *testing.T) {
	tr := New("intro")
	tr.Append(SenderUser, "hello")
	tr.Reset("intro")

	if tr.Len() != 1 {
		t.Errorf("Expected 1 entry after reset, got %d", tr.Len())
	}
	if tr.HasUserTurn() {
		t.Error("Expected no user turn after reset")
	}

	tr.Reset("")
	if _, ok := tr.Last(); ok {
		t.Error("Expected empty transcript after reset with empty intro")
	}
}

func TestHasUserTurn(t *testing.T) {
	var tr Transcript
	if tr.HasUserTurn() {
		t.Error("Expected zero transcript to have no user turn")
	}
	tr.Append(SenderUser, "hello")
	if !tr.HasUserTurn() {
		t.Error("Expected user turn after append")
	}
}
