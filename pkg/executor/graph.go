package executor

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// ValidateChain walks the dependency chain and rejects cycles and
// executors without a pipeline.
func ValidateChain(e *Executor) error {
	seen := make(map[*Executor]bool)
	for cur := e; cur != nil; cur = cur.Depends {
		if seen[cur] {
			return fmt.Errorf("executor chain has a cycle through %q", cur.Name)
		}
		seen[cur] = true
		if cur.Steps == nil {
			return fmt.Errorf("executor %q has no pipeline", cur.Name)
		}
	}
	return nil
}

// Chain returns the executors in execution order, dependencies first.
// The chain must already be validated.
func Chain(e *Executor) []*Executor {
	var chain []*Executor
	for cur := e; cur != nil; cur = cur.Depends {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

var (
	chainNameStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	chainMetaStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	chainStepStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// PrintChain renders the executor chain in execution order together
// with each executor's step names. Used by the debug flag before a run.
func PrintChain(w io.Writer, e *Executor) error {
	if err := ValidateChain(e); err != nil {
		return err
	}
	for i, ex := range Chain(e) {
		indent := strings.Repeat("  ", i)
		connector := ""
		if i > 0 {
			connector = "└─ "
		}
		fmt.Fprintf(w, "%s%s%s %s\n",
			indent, connector,
			chainNameStyle.Render(ex.Name),
			chainMetaStyle.Render(fmt.Sprintf("(%d tasks, %d workers)", ex.Tasks, ex.Workers)))
		fmt.Fprintf(w, "%s   %s\n",
			indent,
			chainStepStyle.Render(strings.Join(pipeline.Names(ex.Steps()), " → ")))
	}
	return nil
}
