package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ReadUtterances reads one utterance per line from r and calls fn for each
// non-blank line. When prompt is non-empty it is written to w before every read.
// It stops at EOF, or early with fn's error.
func ReadUtterances(r io.Reader, w io.Writer, prompt string, fn func(text string) error) error {
	scanner := bufio.NewScanner(r)
	for {
		if prompt != "" {
			fmt.Fprint(w, prompt)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := fn(text); err != nil {
			return err
		}
	}
}
