package token

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/cordon-auth/cordon/datalog"
)

// WorldDump renders the evaluated fact store as a markdown table,
// one row per fact with its origin. Facts are sorted for stable
// output.
func (az *Authorizer) WorldDump() string {
	type row struct {
		origin string
		fact   string
	}
	var rows []row
	az.world.Facts().Each(func(o datalog.Origin, f datalog.Fact) {
		pf, err := factFromDatalog(f, az.symbols)
		factText := ""
		if err != nil {
			factText = fmt.Sprintf("<unprintable: %v>", err)
		} else {
			factText = pf.String()
		}
		rows = append(rows, row{origin: originLabel(o), fact: factText})
	})
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].origin != rows[j].origin {
			return rows[i].origin < rows[j].origin
		}
		return rows[i].fact < rows[j].fact
	})

	tableString := &strings.Builder{}
	alignment := []tw.Align{tw.AlignNone, tw.AlignNone}
	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header([]string{"origin", "fact"})
	for _, r := range rows {
		table.Append([]string{r.origin, r.fact})
	}
	table.Render()

	tableString.WriteString(fmt.Sprintf("\n_%d facts_\n", len(rows)))
	return tableString.String()
}

func originLabel(o datalog.Origin) string {
	parts := make([]string, 0, len(o))
	for _, b := range o {
		switch b {
		case datalog.AuthorizerOrigin:
			parts = append(parts, "authorizer")
		case 0:
			parts = append(parts, "authority")
		default:
			parts = append(parts, fmt.Sprintf("block %d", b))
		}
	}
	return strings.Join(parts, ", ")
}

// PrintWorld writes the fact table and a colored summary of the
// authorization outcome to w (stdout when nil). Color is applied
// only when w is a terminal.
func (az *Authorizer) PrintWorld(w io.Writer, decision *Decision, authErr error) {
	if w == nil {
		w = os.Stdout
	}
	useColor := false
	if f, ok := w.(*os.File); ok {
		fi, err := f.Stat()
		useColor = err == nil && (fi.Mode()&os.ModeCharDevice) != 0
	}
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	if !useColor {
		green = fmt.Sprint
		red = fmt.Sprint
	}

	fmt.Fprint(w, az.WorldDump())
	switch {
	case authErr != nil:
		fmt.Fprintf(w, "%s %v\n", red("denied:"), authErr)
	case decision != nil:
		fmt.Fprintf(w, "%s %s\n", green("allowed:"), decision)
	}
}

// FactCount returns the number of facts in the evaluated world.
func (az *Authorizer) FactCount() int {
	return az.world.Facts().Len()
}

// Checks returns the canonical sources of every loaded check, in
// evaluation order.
func (az *Authorizer) Checks() []string {
	out := make([]string, len(az.checks))
	for i, c := range az.checks {
		out[i] = c.source
	}
	return out
}

// Policies returns the canonical sources of every policy, in
// consultation order.
func (az *Authorizer) Policies() []string {
	out := make([]string, len(az.policies))
	for i, p := range az.policies {
		out[i] = p.source
	}
	return out
}

// PrintFacts renders the facts derivable from a parsed fact name
// filter; an empty filter prints everything. Helper for debugging
// authorizer programs.
func (az *Authorizer) PrintFacts(name string) []string {
	var out []string
	az.world.Facts().Each(func(o datalog.Origin, f datalog.Fact) {
		pf, err := factFromDatalog(f, az.symbols)
		if err != nil {
			return
		}
		if name != "" && pf.Name != name {
			return
		}
		out = append(out, pf.String())
	})
	sort.Strings(out)
	return out
}
