package main

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// errNoTerminal is returned when a confirmation is needed but stdin is not
// a terminal.
var errNoTerminal = errors.New("confirmation needed but stdin is not a terminal; pass --yes")

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

var stdinIsTerminalFn = stdinIsTerminal

// confirm asks a yes/no question. Aborting the prompt counts as no.
func confirm(title string) (bool, error) {
	if !stdinIsTerminalFn() {
		return false, errNoTerminal
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}
