// Package wire implements the line-framed textual command/reply codec
// exchanged between the master and its slaves.
//
// Commands: "id verb args\n", with multi-line args permitted for the
// genmoves family, terminated by a blank line. Replies mirror GTP:
// "=id payload\n\n" on success, "?id payload\n\n" on failure, where
// payload may itself span multiple lines.
package wire

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Verbs the master issues to slaves. Only the two genmoves verbs carry a
// blank-line-terminated multi-line args block (see isMultilineVerb).
const (
	VerbGenmoves        = "pachi-genmoves"
	VerbGenmovesCleanup = "pachi-genmoves_cleanup"
	VerbPlay            = "play"
	VerbFinalStatusList = "final_status_list"
)

func isMultilineVerb(verb string) bool {
	return verb == VerbGenmoves || verb == VerbGenmovesCleanup
}

// Command is one entry of the master's command history. Gen counts
// in-place mutations to this entry (registry.ReplaceLast bumps it
// without changing ID) so sessions can tell "retransmit the same id
// with refreshed args" apart from "nothing changed, keep waiting" —
// it is bookkeeping only and never appears on the wire.
type Command struct {
	ID   int64
	Verb string
	Args string // may contain embedded newlines for multi-line verbs
	Gen  int64
}

// Status is the outcome a reply carries.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
)

// Reply is one slave's response to a command id.
type Reply struct {
	ID      int64
	Status  Status
	Payload string // may contain embedded newlines
}

// FormatFloat7 renders a float with the wire's documented 7 fractional digits.
func FormatFloat7(v float64) string {
	return strconv.FormatFloat(v, 'f', 7, 64)
}

// WriteCommand writes a Command in wire format, blank-line terminating
// multi-line verbs.
func WriteCommand(w *bufio.Writer, cmd Command) error {
	if isMultilineVerb(cmd.Verb) {
		lines := strings.Split(cmd.Args, "\n")
		if _, err := fmt.Fprintf(w, "%d %s %s\n", cmd.ID, cmd.Verb, lines[0]); err != nil {
			return err
		}
		for _, l := range lines[1:] {
			if l == "" {
				continue
			}
			if _, err := fmt.Fprintf(w, "%s\n", l); err != nil {
				return err
			}
		}
		if _, err := w.WriteString("\n"); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(w, "%d %s %s\n", cmd.ID, cmd.Verb, cmd.Args); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadCommand parses the next Command off r. io.EOF (or a wrapped
// variant) propagates from the underlying reader on a closed connection.
func ReadCommand(r *bufio.Reader) (Command, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return Command{}, err
	}
	line = strings.TrimRight(line, "\r\n")

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return Command{}, fmt.Errorf("wire: malformed command line %q", line)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Command{}, fmt.Errorf("wire: malformed command id %q: %w", parts[0], err)
	}
	verb := parts[1]
	firstArgs := ""
	if len(parts) == 3 {
		firstArgs = parts[2]
	}

	if !isMultilineVerb(verb) {
		return Command{ID: id, Verb: verb, Args: firstArgs}, nil
	}

	var b strings.Builder
	b.WriteString(firstArgs)
	for {
		l, err := r.ReadString('\n')
		if err != nil {
			return Command{}, err
		}
		l = strings.TrimRight(l, "\r\n")
		if l == "" {
			break
		}
		b.WriteString("\n")
		b.WriteString(l)
	}
	return Command{ID: id, Verb: verb, Args: b.String()}, nil
}

// WriteReply writes a Reply, always blank-line terminated.
func WriteReply(w *bufio.Writer, r Reply) error {
	sigil := "="
	if r.Status == StatusFailure {
		sigil = "?"
	}
	lines := strings.Split(r.Payload, "\n")
	if _, err := fmt.Fprintf(w, "%s%d %s\n", sigil, r.ID, lines[0]); err != nil {
		return err
	}
	for _, l := range lines[1:] {
		if _, err := fmt.Fprintf(w, "%s\n", l); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("\n"); err != nil {
		return err
	}
	return w.Flush()
}

// ReadReply parses the next Reply off r, collecting payload lines until
// the terminating blank line.
func ReadReply(r *bufio.Reader) (Reply, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return Reply{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return Reply{}, fmt.Errorf("wire: empty reply header")
	}

	var status Status
	switch line[0] {
	case '=':
		status = StatusSuccess
	case '?':
		status = StatusFailure
	default:
		return Reply{}, fmt.Errorf("wire: malformed reply header %q", line)
	}

	rest := line[1:]
	sp := strings.IndexByte(rest, ' ')
	var idStr, firstPayload string
	if sp < 0 {
		idStr = rest
	} else {
		idStr = rest[:sp]
		firstPayload = rest[sp+1:]
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return Reply{}, fmt.Errorf("wire: malformed reply id %q: %w", idStr, err)
	}

	var b strings.Builder
	b.WriteString(firstPayload)
	for {
		l, err := r.ReadString('\n')
		if err != nil {
			return Reply{}, err
		}
		l = strings.TrimRight(l, "\r\n")
		if l == "" {
			break
		}
		b.WriteString("\n")
		b.WriteString(l)
	}
	return Reply{ID: id, Status: status, Payload: b.String()}, nil
}
