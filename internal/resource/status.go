package resource

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/me/gomint/pkg/model"
)

// Statuses summarises every resource against the job list.
func Statuses(resources []Resource, jobs []*model.Job) []model.ResourceStatus {
	out := make([]model.ResourceStatus, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.Status(jobs))
	}
	return out
}

// PrintStatus writes the resource table shown after every dispatch.
func PrintStatus(w io.Writer, resources []Resource, jobs []*model.Job) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tKIND\tSTATUS\tACCEPTING")
	for _, s := range Statuses(resources, jobs) {
		accepting := "no"
		if s.Accepting {
			accepting = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d pending, %d complete, %d broken\t%s\n",
			s.Name, s.Kind, s.Pending, s.Complete, s.Broken, accepting)
	}
	return tw.Flush()
}
