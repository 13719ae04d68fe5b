package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/forj-oss/forj/pkg/lorj"
)

type line struct {
	text string
	err  error
}

// terminalPrompter asks setup questions on a terminal. Answers are read
// from a background reader, started on the first question, so a cancelled
// context ends the wait.
type terminalPrompter struct {
	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan line
}

var _ lorj.Prompter = (*terminalPrompter)(nil)

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: in, out: out, lines: make(chan line)}
}

func (p *terminalPrompter) read() {
	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		p.lines <- line{text: scanner.Text()}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	p.lines <- line{err: err}
	close(p.lines)
}

func (p *terminalPrompter) readLine(ctx context.Context) (string, error) {
	p.once.Do(func() { go p.read() })
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(l.text), l.err
	}
}

// Ask prints q and reads the answer. An empty answer keeps the default.
// With choices, the answer is a choice or its number. The default of an
// encrypted question is never printed.
func (p *terminalPrompter) Ask(ctx context.Context, q lorj.Question) (string, error) {
	for {
		if len(q.Choices) > 0 {
			fmt.Fprintf(p.out, "%s\n", q.Desc)
			for i, c := range q.Choices {
				fmt.Fprintf(p.out, "  %d. %s\n", i+1, c)
			}
		}
		prompt := q.Desc
		if len(q.Choices) > 0 {
			prompt = "Your choice"
		}
		// The line reader cannot turn echo off.
		if q.Encrypted {
			prompt += " (input is visible)"
		}
		if q.Default != "" && !q.Encrypted {
			fmt.Fprintf(p.out, "%s [%s]: ", prompt, q.Default)
		} else {
			fmt.Fprintf(p.out, "%s: ", prompt)
		}

		answer, err := p.readLine(ctx)
		if err != nil {
			return "", err
		}
		if answer == "" {
			answer = q.Default
		}
		if len(q.Choices) == 0 {
			if answer == "" && q.Required {
				fmt.Fprintln(p.out, "A value is required.")
				continue
			}
			return answer, nil
		}
		if choice, ok := pickChoice(q.Choices, answer); ok {
			return choice, nil
		}
		fmt.Fprintf(p.out, "'%s' is not a valid choice.\n", answer)
	}
}

func pickChoice(choices []string, answer string) (string, bool) {
	if slices.Contains(choices, answer) {
		return answer, true
	}
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(choices) {
		return choices[n-1], true
	}
	return "", false
}
