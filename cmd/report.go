package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/inference-sim/dessim/sim/flowline"
)

// printReport writes a human-readable run report to w.
func printReport(w io.Writer, name string, r *flowline.Report, wall time.Duration) {
	fmt.Fprintf(w, "=== Flow Line: %s ===\n", name)
	fmt.Fprintf(w, "Jobs Released        : %s\n", humanize.Comma(int64(r.Released)))
	fmt.Fprintf(w, "Jobs Completed       : %s\n", humanize.Comma(int64(r.Completed)))
	if r.Scrapped > 0 {
		fmt.Fprintf(w, "Jobs Scrapped        : %s\n", humanize.Comma(int64(r.Scrapped)))
	}
	fmt.Fprintf(w, "End Time             : %s\n", humanize.FormatFloat("#,###.##", r.EndTime))
	fmt.Fprintf(w, "Throughput           : %.4f jobs/time unit\n", r.Throughput)
	fmt.Fprintf(w, "Mean Flow Time       : %.3f\n", r.MeanFlowTime)
	fmt.Fprintf(w, "Max Flow Time        : %.3f\n", r.MaxFlowTime)
	fmt.Fprintf(w, "Max WIP              : %d\n", r.MaxWIP)
	fmt.Fprintf(w, "Events Processed     : %s\n", humanize.Comma(r.Events))
	fmt.Fprintf(w, "Wall Time            : %s\n", wall.Round(time.Millisecond))
	if r.Failed > 0 {
		fmt.Fprintf(w, "Failed Processes     : %d\n", r.Failed)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSTATION\tMACHINES\tSERVED\tUTILISATION\tMAX BUFFER")
	for _, st := range r.Stations {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.1f%%\t%d\n",
			st.Name, st.Machines, humanize.Comma(int64(st.Served)), st.Utilisation*100, st.MaxBuffer)
	}
	tw.Flush()
}
