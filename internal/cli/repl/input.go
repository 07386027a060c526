package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// LineReader supplies input lines. *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

var _ LineReader = (*readline.Instance)(nil)

// NewTerminal opens an interactive line editor with history.
func NewTerminal(prompt, historyFile string) (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open terminal failed: %w", err)
	}
	return rl, nil
}

// scanner reads lines from a plain stream, for piped input and tests.
type scanner struct {
	reader *bufio.Reader
	closer io.Closer
}

// NewScanner reads lines from r. Prompts are not echoed.
func NewScanner(r io.Reader) LineReader {
	s := &scanner{reader: bufio.NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *scanner) Readline() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *scanner) SetPrompt(string) {}

func (s *scanner) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// syncWriter serialises writes from the input loop, the tracker observer
// and the leaderboard listener.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) printLine(format string, args ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = fmt.Fprintf(w.w, format+"\n", args...)
}
