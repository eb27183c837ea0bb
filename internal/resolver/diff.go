package resolver

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/compose-network/mortar/internal/ledger"
	"github.com/compose-network/mortar/internal/module"
	"github.com/olekukonko/tablewriter"
)

// Diff is a dry-run report of a graph against the committed entry.
type Diff struct {
	Module    string
	Rows      []DiffRow
	New       []string
	Changed   []string
	Unchanged []string
	// Removed are committed elements the module no longer declares. They are reported, never pruned.
	Removed []string

	CommittedCount int
	DeclaredCount  int
	// Deployments counts new or changed bindings.
	Deployments int
}

type DiffRow struct {
	Name   string
	Type   ledger.ElementType
	Status string
}

// CheckIfDiff resolves graph against entry and summarizes the result.
func CheckIfDiff(graph *module.Graph, entry *ledger.Entry, extra ...*ledger.Entry) (Diff, error) {
	if entry == nil {
		entry = ledger.NewEntry()
	}

	plan, err := Resolve(graph, entry, extra...)
	if err != nil {
		return Diff{}, err
	}

	diff := Diff{
		Module:         graph.Module,
		CommittedCount: len(entry.Elements),
		DeclaredCount:  graph.Len(),
	}

	for _, node := range plan.Nodes {
		diff.Rows = append(diff.Rows, DiffRow{
			Name:   node.Name(),
			Type:   node.Element.ElementType(),
			Status: node.Status.String(),
		})
		switch node.Status {
		case StatusNew:
			diff.New = append(diff.New, node.Name())
		case StatusChanged:
			diff.Changed = append(diff.Changed, node.Name())
		case StatusUnchanged:
			diff.Unchanged = append(diff.Unchanged, node.Name())
		}
	}

	for name, record := range entry.Elements {
		if !graph.Has(name) {
			diff.Removed = append(diff.Removed, name)
			diff.Rows = append(diff.Rows, DiffRow{Name: name, Type: record.Type, Status: "removed"})
		}
	}
	slices.Sort(diff.Removed)
	slices.SortFunc(diff.Rows[len(diff.Rows)-len(diff.Removed):], func(a, b DiffRow) int {
		return strings.Compare(a.Name, b.Name)
	})
	diff.Deployments = len(plan.Bindings(StatusNew)) + len(plan.Bindings(StatusChanged))

	return diff, nil
}

// Shrunk reports whether the module declares fewer elements than are committed.
func (d Diff) Shrunk() bool {
	return len(d.Removed) > 0 || d.DeclaredCount < d.CommittedCount
}

// Differs reports whether anything would change or the element count moved.
func (d Diff) Differs() bool {
	return len(d.New) > 0 || len(d.Changed) > 0 || d.Shrunk() || d.DeclaredCount != d.CommittedCount
}

// NothingToDeploy reports whether no binding is new or changed.
func (d Diff) NothingToDeploy() bool {
	return d.Deployments == 0
}

// PrintDiff renders the diff as a table followed by a summary.
func PrintDiff(w io.Writer, d Diff) error {
	if _, err := fmt.Fprintf(w, "module %s: %d declared, %d committed\n", d.Module, d.DeclaredCount, d.CommittedCount); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Element", "Type", "Status")
	for _, row := range d.Rows {
		if err := table.Append(row.Name, string(row.Type), row.Status); err != nil {
			return fmt.Errorf("failed to render diff row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render diff: %w", err)
	}

	if d.Shrunk() {
		if _, err := fmt.Fprintf(w, "the ledger holds %d element(s) this module no longer declares; they are not pruned: %v\n",
			len(d.Removed), d.Removed); err != nil {
			return err
		}
	}

	if d.NothingToDeploy() {
		_, err := fmt.Fprintln(w, "nothing to deploy")
		return err
	}

	_, err := fmt.Fprintf(w, "%d new, %d changed, %d unchanged\n", len(d.New), len(d.Changed), len(d.Unchanged))
	return err
}
