package workflow

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/prompt"
)

// Validator inspects generated text. With final=false it sees a prefix of the
// output and must only reject text that can no longer become valid.
type Validator func(text string, final bool) error

// HeadingValidator requires output to open with an H1, or with the first
// section's H1 when sections are given.
func HeadingValidator(sections []prompt.Section) Validator {
	want := "# "
	if len(sections) > 0 {
		want = "# " + strings.TrimSpace(sections[0].Title)
	}
	return func(text string, final bool) error {
		got := strings.TrimLeft(text, " \t\r\n")
		n := min(len(got), len(want))
		if !strings.EqualFold(got[:n], want[:n]) || (final && n < len(want)) {
			return fmt.Errorf("the response must start with %q", want)
		}
		return nil
	}
}
