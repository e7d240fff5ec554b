// Package helperscript emits the per-agent shell helpers that let an
// agent process reach the message queue, task queue, and shared ledger
// without needing a native client.
package helperscript

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/re-cinq/colony/internal/cerrors"
	"github.com/re-cinq/colony/internal/fileutil"
)

// Emit writes colony_message.sh and colony_state.sh into the agent's
// project directory, and installs symlinks into its worktree (if given).
// The colony root's absolute path and the agent's id are baked in at
// emission time.
func Emit(repoDir, agentID, projectDir, worktreeDir, colonyBinary string) error {
	absRepo, err := filepath.Abs(repoDir)
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "resolving colony root", err)
	}

	if err := fileutil.EnsureDir(projectDir); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "creating project dir", err)
	}

	messagePath := filepath.Join(projectDir, "colony_message.sh")
	if err := os.WriteFile(messagePath, []byte(messageScript(absRepo)), 0755); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "writing colony_message.sh", err)
	}

	statePath := filepath.Join(projectDir, "colony_state.sh")
	if err := os.WriteFile(statePath, []byte(stateScript(colonyBinary)), 0755); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "writing colony_state.sh", err)
	}

	if worktreeDir != "" {
		if err := fileutil.EnsureDir(worktreeDir); err == nil {
			symlink(messagePath, filepath.Join(worktreeDir, "colony_message.sh"))
			symlink(messagePath, filepath.Join(worktreeDir, fmt.Sprintf("colony_message_%s.sh", agentID)))
			symlink(statePath, filepath.Join(worktreeDir, "colony_state.sh"))
		}
	}

	return nil
}

func symlink(target, linkPath string) {
	_ = os.Remove(linkPath)
	_ = os.Symlink(target, linkPath)
}

// messageScript renders colony_message.sh. The JSON-construction fallback
// chain, in order, is: jq -nc field-by-field, then python3 -c json.dumps,
// then manual sed escaping (backslash, then quote, then newline — that
// exact order, since reversing it double-escapes backslashes introduced by
// the quote substitution).
func messageScript(repoAbsPath string) string {
	return fmt.Sprintf(`#!/bin/sh
# colony_message.sh — send, read, and enumerate colony messages.
set -eu

MESSAGES_DIR=%q

usage() {
  echo "usage: $0 send <recipient> <message> | read | list-agents" >&2
  exit 1
}

json_escape() {
  if command -v jq >/dev/null 2>&1; then
    jq -nc --arg v "$1" '$v'
  elif command -v python3 >/dev/null 2>&1; then
    python3 -c 'import json,sys; print(json.dumps(sys.argv[1]))' "$1"
  else
    v=$(printf '%%s' "$1" | sed 's/\\/\\\\/g; s/"/\\"/g')
    v=$(printf '%%s' "$v" | sed ':a;N;$!ba;s/\n/\\n/g')
    printf '"%%s"\n' "$v"
  fi
}

cmd_send() {
  recipient="$1"
  shift
  content="$*"
  case "$recipient" in
    *[!A-Za-z0-9_-]*) echo "invalid recipient: $recipient" >&2; exit 1 ;;
  esac

  agent_id=$(basename "$(pwd)")
  ts=$(date +%%s)
  ns=$(date +%%N 2>/dev/null || echo 0)
  id="${agent_id}-${ts}-${ns}"

  content_json=$(json_escape "$content")
  recipient_json=$(json_escape "$recipient")
  agent_json=$(json_escape "$agent_id")
  id_json=$(json_escape "$id")
  now=$(date -u +"%%Y-%%m-%%dT%%H:%%M:%%SZ")

  if [ "$recipient" = "all" ]; then
    dest_dir="$MESSAGES_DIR/broadcast"
  else
    dest_dir="$MESSAGES_DIR/$recipient"
  fi
  mkdir -p "$dest_dir" "$MESSAGES_DIR/$agent_id/sent"

  body="{\"id\":$id_json,\"from\":$agent_json,\"to\":$recipient_json,\"content\":$content_json,\"timestamp\":\"$now\",\"message_type\":\"info\"}"
  printf '%%s\n' "$body" > "$dest_dir/$id.json"
  printf '%%s\n' "$body" > "$MESSAGES_DIR/$agent_id/sent/$id.json"
}

cmd_read() {
  agent_id=$(basename "$(pwd)")
  for dir in "$MESSAGES_DIR/$agent_id" "$MESSAGES_DIR/broadcast"; do
    [ -d "$dir" ] || continue
    for f in "$dir"/*.json; do
      [ -e "$f" ] || continue
      if command -v jq >/dev/null 2>&1; then
        jq -r '"[\(.timestamp)] \(.from): \(.content)"' "$f"
      else
        cat "$f"
      fi
    done
  done
}

cmd_list_agents() {
  [ -d "$MESSAGES_DIR" ] || exit 0
  for d in "$MESSAGES_DIR"/*/; do
    name=$(basename "$d")
    [ "$name" = "broadcast" ] && continue
    echo "$name"
  done
}

[ $# -ge 1 ] || usage
case "$1" in
  send) shift; [ $# -ge 2 ] || usage; cmd_send "$@" ;;
  read) cmd_read ;;
  list-agents) cmd_list_agents ;;
  *) usage ;;
esac
`, filepath.Join(repoAbsPath, ".colony", "messages"))
}

// stateScript renders colony_state.sh, a thin wrapper shelling back out to
// the orchestrator's own CLI with consistent flags.
func stateScript(colonyBinary string) string {
	if colonyBinary == "" {
		colonyBinary = "colony"
	}
	return fmt.Sprintf(`#!/bin/sh
# colony_state.sh — shared task/workflow/memory access, wrapping the
# orchestrator's own CLI.
set -eu

COLONY=%q

usage() {
  echo "usage: $0 task|workflow|memory|sync|pull|push [args...]" >&2
  exit 1
}

[ $# -ge 1 ] || usage
cmd="$1"
shift

case "$cmd" in
  task)     exec "$COLONY" state task "$@" ;;
  workflow) exec "$COLONY" state workflow "$@" ;;
  memory)   exec "$COLONY" state memory "$@" ;;
  sync)     exec "$COLONY" state sync-from-queue "$@" ;;
  pull)     exec "$COLONY" state pull "$@" ;;
  push)     exec "$COLONY" state push "$@" ;;
  *) usage ;;
esac
`, colonyBinary)
}

// CommunicationGuide renders COLONY_COMMUNICATION.md, the human-readable
// guide to the helper scripts and filesystem layout, emitted at the colony root.
func CommunicationGuide() string {
	return `# Colony Communication Guide

Every agent's project directory contains two helper scripts:

- ` + "`colony_message.sh`" + ` — send/read messages with other agents.
  - ` + "`colony_message.sh send <agent-id|all> <text>`" + `
  - ` + "`colony_message.sh read`" + `
  - ` + "`colony_message.sh list-agents`" + `

- ` + "`colony_state.sh`" + ` — read and write the shared task/workflow/memory ledger.
  - ` + "`colony_state.sh task create --title ... --json`" + `
  - ` + "`colony_state.sh workflow ...`" + `
  - ` + "`colony_state.sh memory ...`" + `
  - ` + "`colony_state.sh sync | pull | push`" + `

Both scripts are symlinked into each agent's worktree so they are reachable
from the agent's working directory without an absolute path.

## Filesystem layout

` + "```" + `
.colony/
  state.json
  worktrees/<agent-id>/
  projects/<agent-id>/
  logs/<agent-id>.log
  messages/<agent-id>/*.json, messages/broadcast/*.json
  tasks/{pending,claimed,in_progress,blocked,completed,cancelled}/*.json
  state/{tasks,workflows,memory}.jsonl
  cache/state.db
` + "```" + `
`
}

// WriteCommunicationGuide writes the guide to repoDir's .colony root.
func WriteCommunicationGuide(repoDir string) error {
	path := fileutil.CommunicationGuidePath(repoDir)
	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "creating colony dir", err)
	}
	return os.WriteFile(path, []byte(CommunicationGuide()), 0644)
}
