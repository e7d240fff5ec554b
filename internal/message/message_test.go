package message

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/re-cinq/colony/internal/cerrors"
)

func TestSendWritesInboxAndOutbox(t *testing.T) {
	repo := t.TempDir()
	q := New(repo)

	msg, err := q.Send("backend-1", "frontend-1", "API is ready", TypeInfo)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	inbox := filepath.Join(repo, ".colony", "messages", "frontend-1", msg.ID+".json")
	outbox := filepath.Join(repo, ".colony", "messages", "backend-1", "sent", msg.ID+".json")
	for _, path := range []string{inbox, outbox} {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("missing copy at %s: %v", path, err)
		}
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", path, err)
		}
		if got.From != "backend-1" || got.To != "frontend-1" || got.Content != "API is ready" {
			t.Errorf("unexpected message at %s: %+v", path, got)
		}
	}
}

func TestBroadcastGoesToBroadcastDir(t *testing.T) {
	repo := t.TempDir()
	q := New(repo)

	msg, err := q.Send("operator", Broadcast, "deploy freeze at 5pm", "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.MessageType != TypeInfo {
		t.Errorf("default type = %q, want info", msg.MessageType)
	}

	path := filepath.Join(repo, ".colony", "messages", "broadcast", msg.ID+".json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("broadcast file missing: %v", err)
	}

	// Every agent sees it.
	msgs, err := q.LoadForAgent("anyone")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "deploy freeze at 5pm" {
		t.Errorf("LoadForAgent = %+v", msgs)
	}
}

func TestSendRejectsInvalidRecipient(t *testing.T) {
	q := New(t.TempDir())
	for _, bad := range []string{"", "has space", "semi;colon", "../escape", "dot.dot"} {
		_, err := q.Send("a", bad, "x", TypeInfo)
		var cerr *cerrors.Error
		if !errors.As(err, &cerr) || cerr.Kind != cerrors.KindValidation {
			t.Errorf("Send(to=%q) error = %v, want validation error", bad, err)
		}
	}
}

func TestIDUniqueness(t *testing.T) {
	q := New(t.TempDir())
	const n = 50
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		msg, err := q.Send("sender", "receiver", "ping", TypeInfo)
		if err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
		if seen[msg.ID] {
			t.Fatalf("duplicate id %q", msg.ID)
		}
		seen[msg.ID] = true
	}
	if len(seen) != n {
		t.Errorf("got %d unique ids, want %d", len(seen), n)
	}
}

func TestLoadForAgentSkipsCorruptFiles(t *testing.T) {
	repo := t.TempDir()
	q := New(repo)
	if _, err := q.Send("a", "b", "good", TypeInfo); err != nil {
		t.Fatal(err)
	}

	inbox := filepath.Join(repo, ".colony", "messages", "b")
	if err := os.WriteFile(filepath.Join(inbox, "partial.json"), []byte(`{"id": "trunc`), 0644); err != nil {
		t.Fatal(err)
	}

	msgs, err := q.LoadForAgent("b")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want the 1 parsable one", len(msgs))
	}
}

func TestLoadAllDedupsByID(t *testing.T) {
	repo := t.TempDir()
	q := New(repo)
	msg, err := q.Send("a", "b", "hello", TypeTask)
	if err != nil {
		t.Fatal(err)
	}
	// The outbox copy shares the inbox copy's id; LoadAll must count it once.
	msgs, err := q.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Errorf("LoadAll = %+v, want exactly one message", msgs)
	}
}

func TestLoadForAgentSortsByTimestamp(t *testing.T) {
	repo := t.TempDir()
	q := New(repo)
	for _, content := range []string{"first", "second", "third"} {
		if _, err := q.Send("a", "b", content, TypeInfo); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := q.LoadForAgent("b")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
}

func TestListAgents(t *testing.T) {
	repo := t.TempDir()
	q := New(repo)
	if agents, err := q.ListAgents(); err != nil || agents != nil {
		t.Errorf("empty queue: agents=%v err=%v", agents, err)
	}

	q.Send("a", "b", "x", TypeInfo)
	q.Send("c", Broadcast, "y", TypeInfo)

	agents, err := q.ListAgents()
	if err != nil {
		t.Fatal(err)
	}
	// "broadcast" is excluded; "a" and "c" appear via their sent/ dirs.
	want := []string{"a", "b", "c"}
	if len(agents) != len(want) {
		t.Fatalf("agents = %v, want %v", agents, want)
	}
	for i := range want {
		if agents[i] != want[i] {
			t.Errorf("agents = %v, want %v", agents, want)
		}
	}
}

func TestParseType(t *testing.T) {
	if typ, err := ParseType(""); err != nil || typ != TypeInfo {
		t.Errorf("ParseType(\"\") = %v, %v", typ, err)
	}
	if typ, err := ParseType("question"); err != nil || typ != TypeQuestion {
		t.Errorf("ParseType(question) = %v, %v", typ, err)
	}
	if _, err := ParseType("shout"); err == nil {
		t.Error("ParseType(shout) should fail")
	}
}
