// Package prompt provides interactive credential and confirmation prompting.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"vum-unrestrict/internal/credential"
)

// Prompter reads interactive input for connection retries. When standard
// input is not a terminal, prompting is disabled and every request fails,
// so non-interactive runs never hang waiting for an operator.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	fd          int
	interactive bool
}

// New creates a prompter reading from stdin and writing to stderr
func New() *Prompter {
	fd := int(os.Stdin.Fd())
	return &Prompter{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stderr,
		fd:          fd,
		interactive: term.IsTerminal(fd),
	}
}

// NewWithStreams creates a prompter over explicit streams. Input is treated
// as interactive; used by tests.
func NewWithStreams(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:          bufio.NewReader(in),
		out:         out,
		fd:          -1,
		interactive: true,
	}
}

// Interactive reports whether prompting is possible
func (p *Prompter) Interactive() bool {
	return p.interactive
}

// Credential prompts for a username and password for an endpoint. The
// password is read with echo disabled when a terminal is available.
func (p *Prompter) Credential(endpoint, defaultUser string) (credential.Credential, error) {
	if !p.interactive {
		return credential.Credential{}, fmt.Errorf("cannot prompt for credentials: standard input is not a terminal")
	}

	if defaultUser != "" {
		fmt.Fprintf(p.out, "Username for %s [%s]: ", endpoint, defaultUser)
	} else {
		fmt.Fprintf(p.out, "Username for %s: ", endpoint)
	}

	username, err := p.readLine()
	if err != nil {
		return credential.Credential{}, fmt.Errorf("failed to read username: %w", err)
	}
	if username == "" {
		username = defaultUser
	}
	if username == "" {
		return credential.Credential{}, fmt.Errorf("username cannot be empty")
	}

	fmt.Fprintf(p.out, "Password for %s@%s: ", username, endpoint)
	secret, err := p.readSecret()
	if err != nil {
		return credential.Credential{}, fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(p.out)

	return credential.Credential{Username: username, Secret: secret}, nil
}

// Confirm asks a yes/no question; only "y" or "yes" confirms
func (p *Prompter) Confirm(question string) (bool, error) {
	if !p.interactive {
		return false, fmt.Errorf("cannot prompt for confirmation: standard input is not a terminal")
	}

	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	answer, err := p.readLine()
	if err != nil {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}

	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

// readLine reads one trimmed line of input
func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads a password without echoing it when a terminal is
// available, falling back to a plain line read otherwise
func (p *Prompter) readSecret() ([]byte, error) {
	if p.fd >= 0 && term.IsTerminal(p.fd) {
		return term.ReadPassword(p.fd)
	}

	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	return []byte(line), nil
}
