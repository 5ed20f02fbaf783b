// File: cmd/approver.go
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// consoleApprover asks the operator to confirm each action on the terminal.
// Enter or "y" approves; anything starting with "n" denies.
type consoleApprover struct {
	in  *bufio.Reader
	out io.Writer
}

func newConsoleApprover(in io.Reader, out io.Writer) *consoleApprover {
	return &consoleApprover{in: bufio.NewReader(in), out: out}
}

// Approve prints the pending action and reads one line. EOF on stdin is
// treated as an error: an unattended run must use --yes instead of silently
// approving everything.
func (a *consoleApprover) Approve(action *schemas.ChosenAction, provider string) (bool, error) {
	fmt.Fprintf(a.out, "\n[%s] about to execute: %s\nProceed? [Y/n] ", provider, action.String())

	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("approval input closed: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "" || strings.HasPrefix(answer, "y"), nil
}
