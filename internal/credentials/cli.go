package credentials

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// TerminalReader reads a password without echoing it.
type TerminalReader interface {
	ReadPassword() (string, error)
}

// StdinTerminalReader reads a hidden password from the controlling
// terminal, or nil when stdin is not a TTY.
func StdinTerminalReader() TerminalReader {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return &ttyReader{fd: fd}
}

type ttyReader struct {
	fd int
}

func (r *ttyReader) ReadPassword() (string, error) {
	raw, err := term.ReadPassword(r.fd)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// PromptPassword prompts for a password, reading a plain line from
// reader. Used when stdin is piped and in tests.
func PromptPassword(reader io.Reader, writer io.Writer, username string) (string, error) {
	_, _ = fmt.Fprintf(writer, "Enter WebDAV password for %s: ", username)

	scanner := bufio.NewScanner(reader)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no input received")
}

// PromptPasswordWithTTY prompts for a password, preferring hidden
// terminal input when a TerminalReader is available and falling back to
// line input otherwise.
func PromptPasswordWithTTY(reader io.Reader, writer io.Writer, username string, tty TerminalReader) (string, error) {
	if tty == nil {
		return PromptPassword(reader, writer, username)
	}

	_, _ = fmt.Fprintf(writer, "Enter WebDAV password for %s: ", username)
	password, err := tty.ReadPassword()
	_, _ = fmt.Fprintln(writer)
	if err != nil {
		return "", err
	}
	return password, nil
}
