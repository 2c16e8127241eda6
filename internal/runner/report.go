package runner

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// WriteReport renders the per-rule table followed by the machine-parsable
// summary lines the webhook path reads back out of the run output.
func WriteReport(w io.Writer, rep Report) {
	for _, sr := range rep.Specs {
		fmt.Fprintf(w, "spec %s (task %s)\n", sr.Path, sr.TaskID)
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"Expectation", "Rule", "Path", "Result", "Detail"})
		for _, er := range sr.Expectations {
			for _, rr := range er.Rules {
				tw.AppendRow(table.Row{er.Key, rr.Rule.Kind, rr.Rule.Path, passLabel(rr.Pass), rr.Detail})
			}
		}
		tw.Render()
		fmt.Fprintln(w)
	}
	if rep.Base != "" {
		fmt.Fprintf(w, "base ref: %s\n", rep.Base)
	}
	for _, sr := range rep.Specs {
		for _, er := range sr.Expectations {
			status := "FAIL"
			if er.Pass {
				status = "PASS"
			}
			fmt.Fprintf(w, "expectation %s: %s\n", er.Key, status)
		}
	}
	if rep.AllPass {
		fmt.Fprintln(w, "result: PASS")
	} else {
		fmt.Fprintln(w, "result: FAIL")
	}
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}
