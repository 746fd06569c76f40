package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"priorityline/internal/app"
	"priorityline/internal/engine"
	prioritylinesdk "priorityline/sdk/go"
)

// reportFlags select a period and scope and, optionally, a remote server.
type reportFlags struct {
	month, year         int
	position, objective string
	server, token, key  string
}

func (f *reportFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.position, "position", "", "position id filter")
	cmd.Flags().StringVar(&f.objective, "objective", "", "objective id filter")
	cmd.Flags().StringVar(&f.server, "server", "", "query a running server (e.g. http://127.0.0.1:8080) instead of the local database")
	cmd.Flags().StringVar(&f.token, "token", "", "bearer token for --server")
	cmd.Flags().StringVar(&f.key, "api-key", "", "API key for --server (default $PRIORITYLINE_API_KEY)")
}

func (f *reportFlags) bindPeriod(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.month, "month", 0, "month 1-12 (default current)")
	cmd.Flags().IntVar(&f.year, "year", 0, "year (default current)")
}

func (f *reportFlags) scope() engine.Scope {
	return engine.Scope{PositionID: f.position, ObjectiveID: f.objective}
}

func (f *reportFlags) client() *prioritylinesdk.Client {
	c := prioritylinesdk.New(f.server)
	c.BearerToken = f.token
	c.APIKey = f.key
	if c.APIKey == "" && c.BearerToken == "" {
		c.APIKey = viper.GetString("api_key")
	}
	return c
}

// run fetches through the SDK when --server is set, otherwise evaluates
// locally. Local results are re-decoded into the SDK types so both paths
// print identically.
func (f *reportFlags) run(ctx context.Context, out any, remote func(*prioritylinesdk.Client) (any, error), local func(context.Context, *app.App) (any, error)) error {
	if f.server != "" {
		res, err := remote(f.client())
		if err != nil {
			return err
		}
		return convert(res, out)
	}
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		res, err := local(ctx, a)
		if err != nil {
			return err
		}
		return convert(res, out)
	})
}

func convert(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func prioritiesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "priorities", Short: "Inspect classified priorities"}
	cmd.AddCommand(prioritiesListCmd())
	return cmd
}

func prioritiesListCmd() *cobra.Command {
	var f reportFlags
	var page, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List priorities classified for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res prioritylinesdk.PriorityPage
			err := f.run(cmd.Context(), &res,
				func(c *prioritylinesdk.Client) (any, error) {
					return c.ListPriorities(cmd.Context(), prioritylinesdk.Query{
						Month: f.month, Year: f.year, PositionID: f.position, ObjectiveID: f.objective, Page: page, Limit: limit,
					})
				},
				func(ctx context.Context, a *app.App) (any, error) {
					return a.Engine.ListPriorities(ctx, engine.ListOptions{
						Month: f.month, Year: f.year, Scope: f.scope(), Page: page, Limit: limit,
					})
				})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Position", "Due", "Status", "Class", "Compliance"})
			for _, p := range res.Items {
				tw.AppendRow(table.Row{p.ID, p.Name, p.PositionID, p.UntilAt.Format("2006-01-02"), p.Status, p.MonthlyClass, p.Compliance})
			}
			if res.ICP != nil {
				tw.AppendFooter(table.Row{fmt.Sprintf("%d-%02d", res.ICP.Year, res.ICP.Month), "", "", "", "", "ICP", fmt.Sprintf("%.2f%%", res.ICP.ICP)})
			}
			tw.Render()
			fmt.Printf("page %d, %d of %d\n", res.Page, len(res.Items), res.Total)
			return nil
		},
	}
	f.bind(cmd)
	f.bindPeriod(cmd)
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", engine.DefaultPageLimit, "page size (max 200)")
	return cmd
}

func icpCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "icp", Short: "Index of Compliance of Priorities"}
	cmd.AddCommand(icpShowCmd())
	cmd.AddCommand(icpSeriesCmd())
	return cmd
}

func icpShowCmd() *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show ICP and bucket counts for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res prioritylinesdk.ICP
			err := f.run(cmd.Context(), &res,
				func(c *prioritylinesdk.Client) (any, error) {
					return c.GetICP(cmd.Context(), prioritylinesdk.Query{Month: f.month, Year: f.year, PositionID: f.position, ObjectiveID: f.objective})
				},
				func(ctx context.Context, a *app.App) (any, error) {
					return a.Engine.PeriodICP(ctx, f.month, f.year, f.scope())
				})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.SetTitle(fmt.Sprintf("ICP %d-%02d", res.Year, res.Month))
			tw.AppendRows([]table.Row{
				{"Not completed (previous months)", res.NotCompletedPreviousMonths},
				{"Not completed (overdue)", res.NotCompletedOverdue},
				{"In progress", res.InProgress},
				{"Completed (previous months)", res.CompletedPreviousMonths},
				{"Completed late", res.CompletedLate},
				{"Completed in other month", res.CompletedInOtherMonth},
				{"Completed on time", res.CompletedOnTime},
				{"Canceled", res.Canceled},
				{"Completed early", res.CompletedEarly},
			})
			tw.AppendFooter(table.Row{fmt.Sprintf("ICP (%d/%d)", res.TotalCompleted, res.TotalPlanned), fmt.Sprintf("%.2f%%", res.ICP)})
			tw.Render()
			return nil
		},
	}
	f.bind(cmd)
	f.bindPeriod(cmd)
	return cmd
}

func icpSeriesCmd() *cobra.Command {
	var f reportFlags
	var from, to string
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Show monthly ICP for a range (YYYY-MM, max 36 months)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res prioritylinesdk.Series
			err := f.run(cmd.Context(), &res,
				func(c *prioritylinesdk.Client) (any, error) {
					return c.GetICPSeries(cmd.Context(), from, to, f.position, f.objective)
				},
				func(ctx context.Context, a *app.App) (any, error) {
					return a.Engine.ICPSeries(ctx, from, to, f.scope())
				})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.SetTitle(fmt.Sprintf("ICP %s .. %s", res.From, res.To))
			tw.AppendHeader(table.Row{"Month", "Planned", "Completed", "Overdue", "Canceled", "ICP"})
			for _, it := range res.Items {
				tw.AppendRow(table.Row{
					fmt.Sprintf("%d-%02d", it.Year, it.Month),
					it.TotalPlanned,
					it.TotalCompleted,
					it.NotCompletedOverdue + it.NotCompletedPreviousMonths,
					it.Canceled,
					fmt.Sprintf("%.2f%%", it.ICP),
				})
			}
			tw.Render()
			return nil
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&from, "from", "", "first month YYYY-MM (default 11 months before --to)")
	cmd.Flags().StringVar(&to, "to", "", "last month YYYY-MM (default current month)")
	return cmd
}
