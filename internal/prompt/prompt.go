// Package prompt asks the operator to confirm edits with a single key.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/eiannone/keyboard"
	"github.com/mattn/go-isatty"
)

// ErrAborted is returned when the operator presses Ctrl+C or Esc.
var ErrAborted = errors.New("aborted by operator")

// ErrNotInteractive is returned when confirmation is needed but stdin is
// not a terminal.
var ErrNotInteractive = errors.New("confirmation needs a terminal; use --always")

type keyReader func() (rune, keyboard.Key, error)

// Keyboard confirms with y, n or a. Answering a accepts every later
// question without asking.
type Keyboard struct {
	out     io.Writer
	readKey keyReader
	always  bool
}

// New returns a prompt reading single keys from the terminal.
func New() *Keyboard {
	return &Keyboard{out: os.Stdout, readKey: keyboard.GetSingleKey}
}

// Interactive reports whether stdin is a terminal.
func Interactive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Confirm prints question and waits for an answer. Anything other than
// y or a counts as no.
func (k *Keyboard) Confirm(question string) (bool, error) {
	if k.always {
		return true, nil
	}
	fmt.Fprintf(k.out, "%s ([y]es, [N]o, [a]ll) ", question)
	char, key, err := k.readKey()
	if err != nil {
		fmt.Fprintln(k.out)
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch key {
	case keyboard.KeyCtrlC, keyboard.KeyEsc:
		fmt.Fprintln(k.out, "^C")
		return false, ErrAborted
	}
	if char != 0 {
		fmt.Fprint(k.out, string(char))
	}
	fmt.Fprintln(k.out)
	switch char {
	case 'y', 'Y':
		return true, nil
	case 'a', 'A':
		k.always = true
		return true, nil
	}
	return false, nil
}
