// Package message implements the durable, file-based inter-agent
// message queue. Messages are immutable once written; the filesystem is the
// only coordination channel.
package message

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/re-cinq/colony/internal/cerrors"
	"github.com/re-cinq/colony/internal/fileutil"
)

// Broadcast is the reserved "all" recipient sentinel.
const Broadcast = "all"

var recipientPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Type is the closed set of message kinds.
type Type string

const (
	TypeInfo      Type = "info"
	TypeTask      Type = "task"
	TypeQuestion  Type = "question"
	TypeAnswer    Type = "answer"
	TypeCompleted Type = "completed"
	TypeError     Type = "error"
)

// Message is the immutable document written to inbox and outbox.
type Message struct {
	ID          string `json:"id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
	MessageType Type   `json:"message_type"`
	ProjectDir  string `json:"project_dir,omitempty"`
	GitBranch   string `json:"git_branch,omitempty"`
}

// ParseType converts a user-supplied string into a message Type. An empty
// string defaults to info.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case "":
		return TypeInfo, nil
	case TypeInfo, TypeTask, TypeQuestion, TypeAnswer, TypeCompleted, TypeError:
		return Type(s), nil
	}
	return "", cerrors.Validation("invalid message type %q", s)
}

// Queue is the message store rooted at a colony's messages/ directory.
type Queue struct {
	dir string
}

// New builds a Queue rooted at repoDir's .colony/messages directory.
func New(repoDir string) *Queue {
	return &Queue{dir: fileutil.MessagesDir(repoDir)}
}

// ValidRecipient reports whether to is a legal agent id or the broadcast sentinel.
func ValidRecipient(to string) bool {
	return to == Broadcast || recipientPattern.MatchString(to)
}

// newID generates <from>-<unix-seconds>-<unix-nanoseconds>.
func newID(from string, now time.Time) string {
	return from + "-" + strconv.FormatInt(now.Unix(), 10) + "-" + strconv.FormatInt(int64(now.Nanosecond()), 10)
}

// Send validates recipient, builds the message, and writes it to both the
// recipient's inbox and the sender's outbox. A failure writing the outbox
// copy after the inbox copy succeeded is not rolled back: the inbox is
// authoritative.
func (q *Queue) Send(from, to, content string, msgType Type) (*Message, error) {
	if !ValidRecipient(to) {
		return nil, cerrors.Validation("invalid recipient %q: must match [A-Za-z0-9_-]+ or be %q", to, Broadcast)
	}
	if msgType == "" {
		msgType = TypeInfo
	}

	now := time.Now()
	msg := &Message{
		ID:          newID(from, now),
		From:        from,
		To:          to,
		Content:     content,
		Timestamp:   now.Format(time.RFC3339Nano),
		MessageType: msgType,
	}

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "encoding message", err)
	}

	inboxDir := q.dir
	if to == Broadcast {
		inboxDir = filepath.Join(q.dir, "broadcast")
	} else {
		inboxDir = filepath.Join(q.dir, to)
	}
	if err := fileutil.EnsureDir(inboxDir); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "creating inbox dir", err)
	}
	if err := writeFile(filepath.Join(inboxDir, msg.ID+".json"), data); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "writing inbox message", err)
	}

	outboxDir := filepath.Join(q.dir, from, "sent")
	if err := fileutil.EnsureDir(outboxDir); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "creating outbox dir", err)
	}
	if err := writeFile(filepath.Join(outboxDir, msg.ID+".json"), data); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "writing outbox message", err)
	}

	return msg, nil
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}

// LoadForAgent reads messages/<agentID>/*.json and messages/broadcast/*.json,
// discarding entries that fail to parse, sorted by timestamp ascending.
func (q *Queue) LoadForAgent(agentID string) ([]Message, error) {
	var msgs []Message
	msgs = append(msgs, loadDir(filepath.Join(q.dir, agentID))...)
	msgs = append(msgs, loadDir(filepath.Join(q.dir, "broadcast"))...)
	sortByTimestamp(msgs)
	return msgs, nil
}

// LoadAll recursively walks the messages directory, dedups by id, sorted by timestamp.
func (q *Queue) LoadAll() ([]Message, error) {
	seen := make(map[string]Message)
	_ = filepath.WalkDir(q.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".json" {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		var m Message
		if jsonErr := json.Unmarshal(data, &m); jsonErr != nil {
			return nil
		}
		seen[m.ID] = m
		return nil
	})

	msgs := make([]Message, 0, len(seen))
	for _, m := range seen {
		msgs = append(msgs, m)
	}
	sortByTimestamp(msgs)
	return msgs, nil
}

// ListAgents enumerates the top-level directories of messages/, excluding "broadcast".
func (q *Queue) ListAgents() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "listing message agents", err)
	}
	var agents []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "broadcast" {
			agents = append(agents, e.Name())
		}
	}
	sort.Strings(agents)
	return agents, nil
}

func loadDir(dir string) []Message {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var msgs []Message
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			continue // partial/corrupt write tolerated
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func sortByTimestamp(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp == msgs[j].Timestamp {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}
