package colony

import (
	"fmt"

	"github.com/re-cinq/colony/internal/cerrors"
	"github.com/re-cinq/colony/internal/mux"
)

// ensureDriver lazily resolves the multiplexer driver for single-agent
// operations arriving outside the full start sequence (relay commands).
func (c *Controller) ensureDriver() (*mux.Driver, error) {
	if c.driver != nil {
		return c.driver, nil
	}
	driver, err := mux.New()
	if err != nil {
		return nil, err
	}
	c.driver = driver
	return driver, nil
}

// StartAgent launches a single declared agent into the colony's session,
// splitting a new pane (or creating the session if none exists yet).
func (c *Controller) StartAgent(agentID string) error {
	rec, ok := c.Agents[agentID]
	if !ok {
		return cerrors.NotFound("agent %s is not declared in configuration", agentID)
	}
	driver, err := c.ensureDriver()
	if err != nil {
		return err
	}

	session := c.SessionName()
	cmd := launchCommand(rec.Config, rec.WorktreePath, rec.ProjectPath)

	var target string
	if !driver.SessionExists(session) {
		if err := driver.NewSession(session, rec.WorktreePath, cmd); err != nil {
			return cerrors.Mux(err, "starting agent %s", agentID)
		}
		target = session + ":0.0"
	} else {
		idx, err := driver.SplitWindow(session+":0", mux.SplitHorizontal, rec.WorktreePath, cmd)
		if err != nil {
			return cerrors.Mux(err, "starting agent %s", agentID)
		}
		target = fmt.Sprintf("%s:0.%d", session, idx)
		if err := driver.SelectLayout(session+":0", mux.LayoutTiled); err != nil && c.logger != nil {
			c.logger.Warn("failed to re-tile layout", "error", err)
		}
	}

	if err := driver.SetPaneTitle(target, mux.AgentPaneTitle(agentID)); err != nil && c.logger != nil {
		c.logger.Warn("failed to set pane title", "agent", agentID, "error", err)
	}
	if err := driver.PipePane(target, rec.LogPath); err != nil && c.logger != nil {
		c.logger.Warn("failed to pipe pane to log", "agent", agentID, "error", err)
	}

	rec.Status = StatusRunning
	if c.logger != nil {
		c.logger.Info("agent started", "agent", agentID, "pane", target)
	}
	return c.SaveState()
}

// StopAgent kills the pane bearing the agent's title and clears its record.
func (c *Controller) StopAgent(agentID string) error {
	rec, ok := c.Agents[agentID]
	if !ok {
		return cerrors.NotFound("agent %s is not declared in configuration", agentID)
	}
	driver, err := c.ensureDriver()
	if err != nil {
		return err
	}

	paneID, err := driver.FindPane(c.SessionName(), mux.AgentPaneTitle(agentID))
	if err != nil {
		return err
	}
	if paneID != "" {
		if err := driver.KillPane(paneID); err != nil {
			return err
		}
	}

	rec.Status = StatusIdle
	rec.PID = 0
	if c.logger != nil {
		c.logger.Info("agent stopped", "agent", agentID)
	}
	return c.SaveState()
}

// RoleOf returns the declared role for an agent id. Part of the roster the
// relay consults for its snapshots.
func (c *Controller) RoleOf(agentID string) (string, bool) {
	a, ok := c.Cfg.AgentByID(agentID)
	if !ok {
		return "", false
	}
	return a.Role, true
}

// AgentIDs returns every declared agent id, in declaration order.
func (c *Controller) AgentIDs() []string {
	ids := make([]string, 0, len(c.Cfg.Agents))
	for _, a := range c.Cfg.Agents {
		ids = append(ids, a.ID)
	}
	return ids
}
