// Package relay implements a persistent websocket session to a remote
// control plane, pushing colony state on a timer and executing inbound commands.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/re-cinq/colony/internal/message"
	"github.com/re-cinq/colony/internal/mux"
	"github.com/re-cinq/colony/internal/task"
)

const (
	backoffInitial = 2 * time.Second
	backoffMax     = 60 * time.Second
	statePushEvery = 5 * time.Second
	dialTimeout    = 5 * time.Second
)

// AgentSnapshot is one agent's status as seen over the relay — derived from
// pane existence, never from state.json, to avoid two sources of truth.
type AgentSnapshot struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Status       string    `json:"status"` // running | stopped
	LastActivity time.Time `json:"last_activity"`
}

// StateUpdate is the periodic snapshot pushed to the relay.
type StateUpdate struct {
	ColonyID  string            `json:"colony_id"`
	Timestamp time.Time         `json:"timestamp"`
	Agents    []AgentSnapshot   `json:"agents"`
	Tasks     []task.Task       `json:"tasks"`
	Messages  []message.Message `json:"messages"`
}

// envelope is the tagged-union wire frame in both directions.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Command is a tagged union of actions the relay may request.
type Command struct {
	RequestID string          `json:"request_id"`
	Kind      string          `json:"command"`
	Args      json.RawMessage `json:"args"`
}

// AgentRoster lets the relay translate agent ids into roles and reach the
// multiplexer for start/stop/restart commands and pane-based status.
type AgentRoster interface {
	RoleOf(agentID string) (string, bool)
	AgentIDs() []string
	SessionName() string
}

// Handler executes commands arriving from the relay.
type Handler interface {
	SendMessage(to, content string, msgType message.Type) error
	CreateTask(title, description, assignedTo string) error
	StartAgent(agentID string) error
	StopAgent(agentID string) error
}

// Client maintains the relay connection for one colony.
type Client struct {
	URL       string
	ColonyID  string
	AuthToken string

	Roster   AgentRoster
	Driver   *mux.Driver
	Handler  Handler
	Tasks    func() []task.Task
	Messages func() []message.Message

	logger *slog.Logger
	out    chan envelope
}

// New builds a relay client. AuthToken resolution (colony.yml vs
// COLONY_RELAY_TOKEN) happens at the CLI boundary; see ResolveAuthToken.
func New(url, colonyID, authToken string, logger *slog.Logger) *Client {
	return &Client{URL: url, ColonyID: colonyID, AuthToken: authToken, logger: logger, out: make(chan envelope, 64)}
}

// ResolveAuthToken returns the configured token, falling back to the
// COLONY_RELAY_TOKEN environment variable. This is a boundary seam: how the
// token was originally obtained (OAuth, API-key issuance) is out of scope.
func ResolveAuthToken(configured string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv("COLONY_RELAY_TOKEN")
}

// nextBackoff doubles the reconnect delay, capped at backoffMax.
func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > backoffMax {
		return backoffMax
	}
	return next
}

// Run connects and reconnects with exponential backoff until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := backoffInitial
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cleanClose, err := c.runOnce(ctx)
		if err != nil && c.logger != nil {
			c.logger.Warn("relay connection dropped", "error", err)
		}
		if cleanClose {
			backoff = backoffInitial
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// runOnce opens one connection and runs it to completion, returning whether
// the connection ended via a clean close (resets backoff) and any error.
func (c *Client) runOnce(ctx context.Context) (cleanClose bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := c.sendEnvelope(conn, "connect", map[string]string{
		"colony_id":  c.ColonyID,
		"auth_token": c.AuthToken,
		"version":    "1",
	}); err != nil {
		return false, err
	}

	runCtx, cancel2 := context.WithCancel(ctx)
	defer cancel2()

	errCh := make(chan error, 3)
	go c.writerLoop(runCtx, conn, errCh)
	go c.statePusherLoop(runCtx, errCh)
	readErr := c.readerLoop(runCtx, conn)
	cancel2()

	if websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
		return true, nil
	}
	return false, readErr
}

func (c *Client) sendEnvelope(conn *websocket.Conn, typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := envelope{Type: typ, Payload: data}
	out, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, out)
}

// writerLoop drains the outbound queue and writes framed messages.
func (c *Client) writerLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.out:
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				errCh <- err
				return
			}
		}
	}
}

// statePusherLoop ticks every 5s and enqueues a state_update snapshot.
func (c *Client) statePusherLoop(ctx context.Context, errCh chan<- error) {
	ticker := time.NewTicker(statePushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update := c.snapshot()
			data, err := json.Marshal(update)
			if err != nil {
				continue
			}
			select {
			case c.out <- envelope{Type: "state_update", Payload: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) snapshot() StateUpdate {
	update := StateUpdate{ColonyID: c.ColonyID, Timestamp: time.Now()}
	if c.Roster != nil {
		session := c.Roster.SessionName()
		for _, id := range c.Roster.AgentIDs() {
			role, _ := c.Roster.RoleOf(id)
			status := "stopped"
			if c.Driver != nil {
				if has, _ := c.Driver.HasPane(session, mux.AgentPaneTitle(id)); has {
					status = "running"
				}
			}
			update.Agents = append(update.Agents, AgentSnapshot{ID: id, Role: role, Status: status, LastActivity: time.Now()})
		}
	}
	if c.Tasks != nil {
		update.Tasks = c.Tasks()
	}
	if c.Messages != nil {
		msgs := c.Messages()
		if len(msgs) > 50 {
			msgs = msgs[len(msgs)-50:]
		}
		update.Messages = msgs
	}
	return update
}

// readerLoop decodes inbound messages and dispatches commands/pings.
func (c *Client) readerLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case "ping":
			c.enqueue("pong", nil)
		case "connected", "error":
			// informational; no action required
		case "command":
			var cmd Command
			if err := json.Unmarshal(env.Payload, &cmd); err != nil {
				continue
			}
			go c.dispatch(cmd)
		}
	}
}

func (c *Client) enqueue(typ string, payload any) {
	data, _ := json.Marshal(payload)
	select {
	case c.out <- envelope{Type: typ, Payload: data}:
	default:
	}
}

func (c *Client) dispatch(cmd Command) {
	result := c.execute(cmd)
	data, _ := json.Marshal(result)
	c.enqueue("command_result", json.RawMessage(data))
}

type commandResult struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (c *Client) execute(cmd Command) commandResult {
	if c.Handler == nil {
		return commandResult{RequestID: cmd.RequestID, Success: false, Error: "no command handler configured"}
	}

	switch cmd.Kind {
	case "send_message":
		var args struct {
			To          string       `json:"to"`
			Content     string       `json:"content"`
			MessageType message.Type `json:"message_type"`
		}
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		if err := c.Handler.SendMessage(args.To, args.Content, args.MessageType); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		return commandResult{RequestID: cmd.RequestID, Success: true}

	case "broadcast_message":
		var args struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		if err := c.Handler.SendMessage(message.Broadcast, args.Content, message.TypeInfo); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		return commandResult{RequestID: cmd.RequestID, Success: true}

	case "create_task":
		var args struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			AssignedTo  string `json:"assigned_to"`
		}
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		if err := c.Handler.CreateTask(args.Title, args.Description, args.AssignedTo); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		return commandResult{RequestID: cmd.RequestID, Success: true}

	case "start_agent":
		var args struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		if err := c.Handler.StartAgent(args.AgentID); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		return commandResult{RequestID: cmd.RequestID, Success: true}

	case "stop_agent":
		var args struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		if err := c.Handler.StopAgent(args.AgentID); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		return commandResult{RequestID: cmd.RequestID, Success: true}

	case "restart_agent":
		var args struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		if err := c.Handler.StopAgent(args.AgentID); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		time.Sleep(500 * time.Millisecond)
		if err := c.Handler.StartAgent(args.AgentID); err != nil {
			return commandResult{RequestID: cmd.RequestID, Error: err.Error()}
		}
		return commandResult{RequestID: cmd.RequestID, Success: true}

	default:
		return commandResult{RequestID: cmd.RequestID, Error: "unknown command: " + cmd.Kind}
	}
}
