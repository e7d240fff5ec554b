// Package mcpserver embeds an MCP tool server exposing the message and
// task queues to agent assistants that speak MCP, as a second transport
// over the same operations the shell helper scripts expose.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/re-cinq/colony/internal/message"
	"github.com/re-cinq/colony/internal/task"
)

// New builds the MCP server for one agent's session, bound to that
// repository's message and task queues.
func New(repoDir, agentID string, logger *slog.Logger) *server.MCPServer {
	msgQueue := message.New(repoDir)
	taskQueue := task.New(repoDir)

	s := server.NewMCPServer(
		"colony",
		"1.0.0",
		server.WithInstructions("Tools for sending messages to other agents in this colony and for claiming/updating shared tasks."),
	)

	registerSendMessage(s, msgQueue, agentID)
	registerListMessages(s, msgQueue, agentID)
	registerListTasks(s, taskQueue, agentID)
	registerClaimTask(s, taskQueue, agentID)
	registerUpdateTaskProgress(s, taskQueue)
	registerCompleteTask(s, taskQueue)

	return s
}

// ServeStdio runs the MCP server over stdio until ctx is cancelled.
func ServeStdio(ctx context.Context, s *server.MCPServer) error {
	stdio := server.NewStdioServer(s)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func registerSendMessage(s *server.MCPServer, q *message.Queue, agentID string) {
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message to another agent in this colony, or to all agents via recipient \"all\"."),
			mcp.WithString("to", mcp.Required(), mcp.Description("Recipient agent id, or \"all\" to broadcast")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Message body")),
			mcp.WithString("message_type", mcp.Description("info|task|question|answer|completed|error, default info")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			to, _ := args["to"].(string)
			content, _ := args["content"].(string)
			msgType, _ := args["message_type"].(string)
			if to == "" || content == "" {
				return nil, fmt.Errorf("to and content are required")
			}
			typ := message.Type(msgType)
			if typ == "" {
				typ = message.TypeInfo
			}
			msg, err := q.Send(agentID, to, content, typ)
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(fmt.Sprintf("sent %s to %s", msg.ID, to)), nil
		},
	)
}

func registerListMessages(s *server.MCPServer, q *message.Queue, agentID string) {
	s.AddTool(
		mcp.NewTool("list_messages",
			mcp.WithDescription("List messages addressed to this agent, including broadcasts."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			msgs, err := q.LoadForAgent(agentID)
			if err != nil {
				return nil, err
			}
			var out string
			for _, m := range msgs {
				out += fmt.Sprintf("[%s] %s: %s\n", m.Timestamp, m.From, m.Content)
			}
			return mcp.NewToolResultText(out), nil
		},
	)
}

func registerListTasks(s *server.MCPServer, q *task.Queue, agentID string) {
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks this agent may currently claim."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tasks, err := q.FindClaimable(agentID)
			if err != nil {
				return nil, err
			}
			var out string
			for _, t := range tasks {
				out += fmt.Sprintf("%s [%s] %s\n", t.ID, t.Priority, t.Title)
			}
			return mcp.NewToolResultText(out), nil
		},
	)
}

func registerClaimTask(s *server.MCPServer, q *task.Queue, agentID string) {
	s.AddTool(
		mcp.NewTool("claim_task",
			mcp.WithDescription("Claim a pending task for this agent."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, _ := req.GetArguments()["id"].(string)
			if id == "" {
				return nil, fmt.Errorf("id is required")
			}
			t, err := q.Claim(id, agentID)
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(fmt.Sprintf("claimed %s", t.ID)), nil
		},
	)
}

func registerUpdateTaskProgress(s *server.MCPServer, q *task.Queue) {
	s.AddTool(
		mcp.NewTool("update_task_progress",
			mcp.WithDescription("Update a claimed task's progress (0-100)."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithNumber("progress", mcp.Required(), mcp.Description("Progress percentage, 0-100")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, _ := args["id"].(string)
			progressF, _ := args["progress"].(float64)
			if id == "" {
				return nil, fmt.Errorf("id is required")
			}
			t, err := q.UpdateProgress(id, int(progressF))
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(fmt.Sprintf("%s now %d%% (%s)", t.ID, t.Progress, t.Status)), nil
		},
	)
}

func registerCompleteTask(s *server.MCPServer, q *task.Queue) {
	s.AddTool(
		mcp.NewTool("complete_task",
			mcp.WithDescription("Mark a task completed."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, _ := req.GetArguments()["id"].(string)
			if id == "" {
				return nil, fmt.Errorf("id is required")
			}
			t, err := q.Complete(id)
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(fmt.Sprintf("completed %s", t.ID)), nil
		},
	)
}
