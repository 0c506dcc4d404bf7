package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kilianp07/repairdispatch/app/plugins"
	"github.com/kilianp07/repairdispatch/config"
	dispatchlog "github.com/kilianp07/repairdispatch/core/dispatch/logging"
	"github.com/kilianp07/repairdispatch/core/events"
)

type logsFlags struct {
	OrderID  string
	MasterID string
	Kind     string
	Since    time.Duration
	Limit    int
}

var logsOpts logsFlags

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query the escalation event log",
	RunE:  queryLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsOpts.OrderID, "order", "", "order id filter")
	logsCmd.Flags().StringVar(&logsOpts.MasterID, "master", "", "master id filter")
	logsCmd.Flags().StringVar(&logsOpts.Kind, "kind", "", "event kind filter (e.g. OrderAccepted)")
	logsCmd.Flags().DurationVar(&logsOpts.Since, "since", 0, "only events newer than this duration")
	logsCmd.Flags().IntVar(&logsOpts.Limit, "limit", 50, "keep the most recent records")
	rootCmd.AddCommand(logsCmd)
}

func (f logsFlags) query(now time.Time) (dispatchlog.LogQuery, error) {
	q := dispatchlog.LogQuery{OrderID: f.OrderID, MasterID: f.MasterID, Limit: f.Limit}
	if f.Kind != "" {
		k, ok := events.ParseKind(f.Kind)
		if !ok {
			return q, fmt.Errorf("unknown event kind %q", f.Kind)
		}
		q.Kind = k.String()
	}
	if f.Since > 0 {
		q.Start = now.Add(-f.Since)
	}
	return q, nil
}

func queryLogs(cmd *cobra.Command, args []string) error {
	q, err := logsOpts.query(time.Now())
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := plugins.NewLogStore(cfg.Logging)
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	defer st.Close()

	recs, err := st.Query(context.Background(), q)
	if err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"Time", "Kind", "Order", "Master", "Assignment", "Detail"})
	for _, r := range recs {
		tw.AppendRow(table.Row{r.Timestamp.Format(time.RFC3339), r.Kind, r.OrderID, r.MasterID, r.AssignmentID, detail(r)})
	}
	tw.Render()
	return nil
}

func detail(r dispatchlog.LogRecord) string {
	switch r.Kind {
	case events.KindMasterNotified.String():
		return "rank=" + strconv.Itoa(r.Rank) + " score=" + strconv.FormatFloat(r.Score, 'f', 3, 64)
	case events.KindAllMastersRejected.String():
		return "candidates=" + strconv.Itoa(r.Candidates)
	}
	return r.Reason
}
