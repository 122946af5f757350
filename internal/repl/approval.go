package repl

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/steveyegge/vigil/internal/batch"
)

// RenderBatch prints a batch awaiting approval with its commit message and
// the fixes it would commit.
func RenderBatch(w io.Writer, b *batch.Batch) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	if b == nil {
		fmt.Fprintf(w, "\n%s No commit awaiting approval.\n\n", yellow("ℹ"))
		return
	}

	fmt.Fprintf(w, "\n%s\n", cyan("Pending Commit"))
	fmt.Fprintf(w, "%s %s\n", bold("Batch:"), gray(b.ID))
	fmt.Fprintf(w, "%s %d fix(es) across %d file(s)\n", bold("Fixes:"), len(b.Fixes), len(b.Files))
	fmt.Fprintln(w)

	for _, f := range b.Files {
		fmt.Fprintf(w, "  %s\n", green(f))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s\n", bold("Message:"))
	for _, line := range strings.Split(b.Message, "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "To approve: %s\n", green("approve"))
	fmt.Fprintf(w, "To reject:  %s\n", yellow("reject"))
	fmt.Fprintln(w)
}

// RenderCommit prints the outcome of an approval.
func RenderCommit(w io.Writer, r *batch.CommitResult) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	if r.NoOp {
		fmt.Fprintf(w, "\n%s Nothing to commit; files already match HEAD.\n\n", yellow("ℹ"))
		return
	}
	files := 0
	if r.Batch != nil {
		files = len(r.Batch.Files)
	}
	fmt.Fprintf(w, "\n%s Committed %s (%d file(s))\n\n", green("✓"), shortHash(r.Hash), files)
}

// RenderRejected prints a rejected batch.
func RenderRejected(w io.Writer, b *batch.Batch) {
	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(w, "\n%s Rejected %d fix(es); changes stay in the working tree uncommitted.\n\n", yellow("✗"), len(b.Fixes))
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
