package cli

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/cerrors"
	"github.com/re-cinq/colony/internal/colony"
	"github.com/re-cinq/colony/internal/config"
	"github.com/re-cinq/colony/internal/fileutil"
	"github.com/re-cinq/colony/internal/message"
	"github.com/re-cinq/colony/internal/mux"
	"github.com/re-cinq/colony/internal/relay"
	"github.com/re-cinq/colony/internal/sharedstate"
	"github.com/re-cinq/colony/internal/task"
	"github.com/re-cinq/colony/internal/watch"
)

// relayBridge adapts the colony's components to the relay's roster and
// command-handler interfaces. The controller pointer is swapped under the
// mutex when colony.yml is hot-reloaded.
type relayBridge struct {
	mu     sync.RWMutex
	ctrl   *colony.Controller
	queue  *message.Queue
	engine *sharedstate.Engine
}

func (b *relayBridge) controller() *colony.Controller {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctrl
}

func (b *relayBridge) swap(ctrl *colony.Controller) {
	b.mu.Lock()
	b.ctrl = ctrl
	b.mu.Unlock()
}

func (b *relayBridge) RoleOf(agentID string) (string, bool) { return b.controller().RoleOf(agentID) }
func (b *relayBridge) AgentIDs() []string                   { return b.controller().AgentIDs() }
func (b *relayBridge) SessionName() string                  { return b.controller().SessionName() }

func (b *relayBridge) SendMessage(to, content string, msgType message.Type) error {
	_, err := b.queue.Send("relay", to, content, msgType)
	return err
}

func (b *relayBridge) CreateTask(title, description, assignedTo string) error {
	_, err := b.engine.CreateTask(title, description, assignedTo, nil)
	return err
}

func (b *relayBridge) StartAgent(agentID string) error { return b.controller().StartAgent(agentID) }
func (b *relayBridge) StopAgent(agentID string) error  { return b.controller().StopAgent(agentID) }

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Connect this colony to its remote control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		log := logger()
		ctrl, err := colony.New(repo, log)
		if err != nil {
			return err
		}
		if err := ctrl.LoadState(); err != nil {
			return err
		}

		relayCfg := ctrl.Cfg.Relay
		if relayCfg.URL == "" {
			return fmt.Errorf("relay.url is not configured in colony.yml")
		}
		colonyID := relayCfg.ColonyID
		if colonyID == "" {
			colonyID = ctrl.SessionName()
		}
		token := relay.ResolveAuthToken(relayCfg.AuthToken)
		if token == "" {
			return cerrors.New(cerrors.KindAuth, "relay auth token missing: set relay.auth_token in colony.yml or the COLONY_RELAY_TOKEN environment variable")
		}

		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()

		bridge := &relayBridge{ctrl: ctrl, queue: message.New(repo), engine: engine}
		taskQueue := task.New(repo)

		client := relay.New(relayCfg.URL, colonyID, token, log)
		client.Roster = bridge
		client.Handler = bridge
		if driver, err := mux.New(); err == nil {
			client.Driver = driver
		} else {
			log.Warn("multiplexer unavailable, relay will report every agent as stopped", "error", err)
		}
		client.Tasks = func() []task.Task {
			tasks, err := taskQueue.LoadAll()
			if err != nil {
				return nil
			}
			return tasks
		}
		client.Messages = func() []message.Message {
			msgs, err := bridge.queue.LoadAll()
			if err != nil {
				return nil
			}
			return msgs
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Pick up colony.yml edits while the relay runs; a bad edit keeps
		// the previous good configuration.
		go func() {
			_ = watch.Config(ctx, fileutil.ConfigPath(repo), log, func(cfg *config.Config) {
				next, err := colony.New(repo, log)
				if err != nil {
					log.Warn("config reload: rebuilding controller failed", "error", err)
					return
				}
				_ = next.LoadState()
				bridge.swap(next)
			})
		}()

		log.Info("relay connecting", "url", relayCfg.URL, "colony", colonyID)
		err = client.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}
