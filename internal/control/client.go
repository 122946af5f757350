package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/types"
)

// Client sends control commands to a running agent
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new control client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    30 * time.Second, // analyze may wait on the model
	}
}

// SetTimeout sets the client timeout for commands
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SendCommand sends a command to the agent and waits for response
func (c *Client) SendCommand(cmd Command) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent (is vigil watch running?): %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

// Stats requests the agent statistics
func (c *Client) Stats() (*Response, error) {
	return c.SendCommand(Command{Type: CommandStats})
}

// Pending requests the batch awaiting approval
func (c *Client) Pending() (*Response, error) {
	return c.SendCommand(Command{Type: CommandPending})
}

// Approve commits the pending batch
func (c *Client) Approve() (*Response, error) {
	return c.SendCommand(Command{Type: CommandApprove})
}

// Reject discards the pending batch
func (c *Client) Reject() (*Response, error) {
	return c.SendCommand(Command{Type: CommandReject})
}

// Analyze runs both analysis tiers on path
func (c *Client) Analyze(path string) (*Response, error) {
	return c.SendCommand(Command{Type: CommandAnalyze, Path: path})
}

// Fix applies a fix for finding in path
func (c *Client) Fix(path string, finding types.Finding, dryRun bool) (*Response, error) {
	return c.SendCommand(Command{Type: CommandFix, Path: path, Finding: &finding, DryRun: dryRun})
}

// Config reads the configuration, applying update first when it is non-nil
func (c *Client) Config(update *agent.Update) (*Response, error) {
	return c.SendCommand(Command{Type: CommandConfig, Update: update})
}

// Analytics requests the pattern store summary
func (c *Client) Analytics() (*Response, error) {
	return c.SendCommand(Command{Type: CommandAnalytics})
}
