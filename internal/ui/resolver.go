package ui

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/steveyegge/versync/internal/conflict"
)

// Prompt asks for a decision on one conflict. i and n give its position.
type Prompt func(ctx context.Context, mc conflict.MergeConflict, i, n int) (conflict.Resolution, error)

// TerminalResolver asks about each conflict on the controlling terminal.
// Aborting any prompt cancels the whole merge.
type TerminalResolver struct {
	prompt Prompt
}

// NewTerminalResolver returns a resolver using huh select prompts.
func NewTerminalResolver() *TerminalResolver {
	return &TerminalResolver{prompt: huhPrompt}
}

// NewPromptResolver returns a resolver that asks prompt.
func NewPromptResolver(prompt Prompt) *TerminalResolver {
	return &TerminalResolver{prompt: prompt}
}

// Resolve implements conflict.Resolver.
func (r *TerminalResolver) Resolve(ctx context.Context, conflicts []conflict.MergeConflict) ([]conflict.MergeConflict, error) {
	out := make([]conflict.MergeConflict, len(conflicts))
	for i, mc := range conflicts {
		res, err := r.prompt(ctx, mc, i, len(conflicts))
		if err != nil {
			return nil, err
		}
		if res == conflict.Unresolved {
			return nil, conflict.ErrResolutionCancelled
		}
		mc.Resolution = res
		out[i] = mc
	}
	return out, nil
}

var _ conflict.Resolver = (*TerminalResolver)(nil)

// IsTerminal reports whether both stdin and stdout are terminals.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func huhPrompt(ctx context.Context, mc conflict.MergeConflict, i, n int) (conflict.Resolution, error) {
	choice := "ours"
	title := fmt.Sprintf("Conflict %d of %d: %s", i+1, n, label(mc))

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(title).
				Description(Describe(mc)),
			huh.NewSelect[string]().
				Title("Keep which version?").
				Options(
					huh.NewOption("Keep mine", "ours"),
					huh.NewOption("Take incoming", "theirs"),
					huh.NewOption("Cancel the merge", "cancel"),
				).
				Value(&choice),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return conflict.Unresolved, conflict.ErrResolutionCancelled
		}
		return conflict.Unresolved, err
	}

	switch choice {
	case "ours":
		return conflict.KeepOurs, nil
	case "theirs":
		return conflict.TakeTheirs, nil
	default:
		return conflict.Unresolved, nil
	}
}

func label(mc conflict.MergeConflict) string {
	if mc.Name != "" {
		return mc.Name
	}
	return mc.Key
}

// Describe summarises what each side did to the conflicting key.
func Describe(mc conflict.MergeConflict) string {
	side := func(content []byte) string {
		switch {
		case content == nil:
			return "deleted"
		case mc.Base == nil:
			return "added"
		default:
			return "modified"
		}
	}
	s := fmt.Sprintf("mine: %s, incoming: %s", side(mc.Ours), side(mc.Theirs))
	if mc.Message != "" {
		s += "\n" + mc.Message
	}
	return s
}
