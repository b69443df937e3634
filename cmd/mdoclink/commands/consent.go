package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"mdoclink/internal/domain"
)

// terminalConsent prompts on the terminal for every disclosure decision.
type terminalConsent struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalConsent(in io.Reader, out io.Writer) *terminalConsent {
	return &terminalConsent{in: bufio.NewReader(in), out: out}
}

func (c *terminalConsent) RequestConsent(_ context.Context, req domain.ConsentRequest) (bool, error) {
	fmt.Fprintf(c.out, "\nReader requests from %s (credential %s):\n", req.DocType, req.CredentialID)
	for ns, elems := range req.Requested {
		for _, e := range elems {
			retain := ""
			if e.IntentToRetain {
				retain = " (reader intends to retain)"
			}
			fmt.Fprintf(c.out, "  %s / %s%s\n", ns, e.Identifier, retain)
		}
	}
	if req.ReaderAuthenticated {
		fmt.Fprintln(c.out, "Reader authentication: verified")
	} else {
		fmt.Fprintln(c.out, "Reader authentication: NOT present")
	}
	fmt.Fprint(c.out, "Disclose? [y/N]: ")

	line, err := c.in.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

var _ domain.ConsentHandler = (*terminalConsent)(nil)
