package control

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Exit codes returned by the CLI
const (
	ExitOK          = 0
	ExitUsage       = 1
	ExitRejected    = 2
	ExitUnreachable = 3
	ExitConfig      = 4
)

// UnreachableHint is printed when the control endpoint cannot be reached
const UnreachableHint = "Ensure Ferryx is running and restart policy is enabled."

// DefaultTriggerTimeout bounds a restart request
const DefaultTriggerTimeout = 2 * time.Second

// RestartURL returns the control endpoint for port
func RestartURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, RestartPath)
}

// Trigger asks a running relay to restart through its control plane
type Trigger struct {
	client  *http.Client
	baseURL func(port int) string
	out     io.Writer
}

// NewTrigger creates a trigger printing its one-line outcome to out
func NewTrigger(out io.Writer) *Trigger {
	return &Trigger{
		client:  &http.Client{Timeout: DefaultTriggerTimeout},
		baseURL: RestartURL,
		out:     out,
	}
}

// RequestRestart posts the restart request to the loopback control port and
// returns the process exit code for the outcome.
func (t *Trigger) RequestRestart(ctx context.Context, port int) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL(port), nil)
	if err != nil {
		fmt.Fprintf(t.out, "Restart failed: %v\n", err)
		return ExitUsage
	}

	resp, err := t.client.Do(req)
	if err != nil {
		fmt.Fprintf(t.out, "Restart failed: %v\n", err)
		fmt.Fprintln(t.out, UnreachableHint)
		return ExitUnreachable
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fmt.Fprintf(t.out, "Restart failed: HTTP %d\n", resp.StatusCode)
		return ExitRejected
	}

	fmt.Fprintln(t.out, "Restart requested.")
	return ExitOK
}
