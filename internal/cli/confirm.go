package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// errNotInteractive is returned when consent is asked on a non-terminal stdin.
var errNotInteractive = errors.New("confirmation requires an interactive terminal")

// promptConfirmer asks for consent on a terminal and returns the raw reply.
type promptConfirmer struct {
	in  io.Reader
	out io.Writer
}

func (c *promptConfirmer) Confirm(ctx context.Context, prompt string) (string, error) {
	if f, ok := c.in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return "", errNotInteractive
	}
	fmt.Fprint(c.out, prompt)

	type reply struct {
		line string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		line, err := bufio.NewReader(c.in).ReadString('\n')
		ch <- reply{strings.TrimRight(line, "\r\n"), err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && !errors.Is(r.err, io.EOF) {
			return "", fmt.Errorf("failed to read confirmation: %w", r.err)
		}
		return r.line, nil
	}
}
