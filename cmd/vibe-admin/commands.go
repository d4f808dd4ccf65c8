package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"vibe-planner/internal/config"
	"vibe-planner/internal/database"
	"vibe-planner/internal/entitlement"
	"vibe-planner/internal/history"
	"vibe-planner/internal/kv"
	"vibe-planner/internal/logging"
	"vibe-planner/internal/metrics"
	"vibe-planner/internal/plantext"

	"github.com/spf13/cobra"
)

type options struct {
	dbPath    string
	tiersFile string
	chatID    int64
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "vibe-admin",
		Short:         "Administer the vibe planner bot's data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			if opts.dbPath == "" {
				opts.dbPath = envOr("VIBE_DATABASE_PATH", "data/vibe.db")
			}
			if opts.tiersFile == "" {
				opts.tiersFile = os.Getenv("VIBE_TIERS_FILE")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (default $VIBE_DATABASE_PATH or data/vibe.db)")
	cmd.PersistentFlags().StringVar(&opts.tiersFile, "tiers", "", "YAML tier catalog (default $VIBE_TIERS_FILE)")

	cmd.AddCommand(
		chatsCmd(opts),
		historyCmd(opts),
		entitlementCmd(opts),
		metricsCmd(opts),
		planCmd(),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func openDB(opts *options) (*database.DB, error) {
	db, err := database.NewDB(opts.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.dbPath, err)
	}
	return db, nil
}

func (o *options) catalog() (entitlement.Catalog, error) {
	if o.tiersFile == "" {
		return entitlement.DefaultCatalog(), nil
	}
	return entitlement.LoadCatalogFile(o.tiersFile)
}

func chatFlag(cmd *cobra.Command, opts *options) {
	cmd.Flags().Int64Var(&opts.chatID, "chat", 0, "Telegram chat id")
	_ = cmd.MarkFlagRequired("chat")
}

func chatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chats with stored data",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			ids, err := kv.Namespaces(cmd.Context(), db.SQL)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func historyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Saved plans of a chat",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved plans, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			store := history.NewStore(chatStore(db, opts.chatID), time.Now, logging.Discard())
			return printHistory(cmd.OutOrStdout(), store.List(cmd.Context()))
		},
	}
	chatFlag(list, opts)

	rate := &cobra.Command{
		Use:   "rate PLAN_ID RATING",
		Short: "Set the 1-5 rating of a saved plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("rating must be a number: %w", err)
			}
			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			store := history.NewStore(chatStore(db, opts.chatID), time.Now, logging.Discard())
			if _, ok := store.Get(cmd.Context(), args[0]); !ok {
				return fmt.Errorf("no saved plan %q in chat %d", args[0], opts.chatID)
			}
			if err := store.Rate(cmd.Context(), args[0], rating); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rated %s %d/5\n", args[0], rating)
			return nil
		},
	}
	chatFlag(rate, opts)

	cmd.AddCommand(list, rate)
	return cmd
}

func printHistory(w io.Writer, plans []history.SavedPlan) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSAVED\tRATING\tTITLE")
	for _, p := range plans {
		rating := "-"
		if p.Rating != nil {
			rating = strconv.Itoa(*p.Rating)
		}
		title := plantext.DefaultTitle
		if doc := plantext.Parse(p.PlanContent); len(doc.Options) > 0 {
			title = doc.Options[0].Title()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.SavedAt.Format(time.DateTime), rating, title)
	}
	return tw.Flush()
}

func entitlementCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entitlement",
		Short: "Free allowance and subscription of a chat",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the entitlement record and what the next plan would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeDB, err := entitlementStore(opts)
			if err != nil {
				return err
			}
			defer closeDB()
			return printEntitlement(cmd.Context(), cmd.OutOrStdout(), store, time.Now())
		},
	}
	chatFlag(show, opts)

	grant := &cobra.Command{
		Use:   "grant TIER",
		Short: "Activate a tier without a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeDB, err := entitlementStore(opts)
			if err != nil {
				return err
			}
			defer closeDB()

			now := time.Now()
			if _, err := store.ActivateSubscription(cmd.Context(), entitlement.TierID(args[0]), now); err != nil {
				return err
			}
			return printEntitlement(cmd.Context(), cmd.OutOrStdout(), store, now)
		},
	}
	chatFlag(grant, opts)

	cmd.AddCommand(show, grant)
	return cmd
}

func entitlementStore(opts *options) (*entitlement.Store, func(), error) {
	catalog, err := opts.catalog()
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB(opts)
	if err != nil {
		return nil, nil, err
	}
	store := entitlement.NewStore(chatStore(db, opts.chatID), catalog, entitlement.WithLogger(logging.Discard()))
	return store, func() { db.Close() }, nil
}

func printEntitlement(ctx context.Context, w io.Writer, store *entitlement.Store, now time.Time) error {
	rec := store.Get(ctx, now)
	d := store.Peek(ctx, now)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Tier:\t%s\n", rec.Tier)
	fmt.Fprintf(tw, "Expiry:\t%s\n", formatTime(rec.Expiry))
	fmt.Fprintf(tw, "Plans used:\t%d\n", rec.PlanCount)
	fmt.Fprintf(tw, "Remaining:\t%d\n", store.Remaining(ctx, now))
	fmt.Fprintf(tw, "Last free plan:\t%s\n", formatTime(rec.LastFreePlanAt))
	if d.Allowed {
		fmt.Fprintf(tw, "Next plan:\tallowed (%s, %s)\n", d.Grant, d.Reason)
	} else {
		fmt.Fprintf(tw, "Next plan:\tblocked for %s (%s)\n", d.TimeLeft.Round(time.Second), d.Reason)
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func metricsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Generator usage metrics",
	}

	var days int
	usage := &cobra.Command{
		Use:   "usage",
		Short: "Daily token usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			rows, err := metrics.NewStore(db.SQL).GetDailyUsage(cmd.Context(), days)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tPROMPT\tCOMPLETION\tCALLS\tFAILED")
			for _, d := range rows {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", d.Date, d.TotalPrompt, d.TotalCompletion, d.TotalExecution, d.Failures)
			}
			return tw.Flush()
		},
	}
	usage.Flags().IntVar(&days, "days", 7, "Number of days to show")

	var keep int
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove old metric records",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			affected, err := metrics.NewStore(db.SQL).Cleanup(cmd.Context(), keep)
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully removed %d old metric records.\n", affected)
			return nil
		},
	}
	cleanup.Flags().IntVar(&keep, "days", 30, "Keep records for the last N days")

	cmd.AddCommand(usage, cleanup)
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Work with generator output",
	}

	var city string
	inspect := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Parse a generator response and show its blocks (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			raw, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			return inspectPlan(cmd.OutOrStdout(), string(raw), city)
		},
	}
	inspect.Flags().StringVar(&city, "city", envOr("VIBE_CITY", "Accra, Ghana"), "City used for map links")

	cmd.AddCommand(inspect)
	return cmd
}

func inspectPlan(w io.Writer, raw, city string) error {
	doc := plantext.Parse(raw)
	if len(doc.Options) == 0 {
		return fmt.Errorf("no plan blocks found")
	}
	for i, b := range doc.Options {
		fmt.Fprintf(w, "Block %d: %s\n", i+1, b.Title())
		for _, f := range b.Fields {
			fmt.Fprintf(w, "  %s: %s\n", f.Key, f.Value)
		}
		if place, ok := b.Lookup("Location"); ok && place != "" {
			fmt.Fprintf(w, "  map: %s\n", plantext.MapURL(place, city))
		}
	}
	if doc.Recommendation != "" {
		fmt.Fprintf(w, "Recommendation: %s\n", doc.Recommendation)
	}
	if dest, ok := plantext.Destination(raw); ok {
		fmt.Fprintf(w, "Destination: %s\n", dest)
	} else {
		fmt.Fprintln(w, "Destination: "+plantext.NotAvailable)
	}
	return nil
}

func chatStore(db *database.DB, chatID int64) kv.Store {
	return kv.NewSQLiteStore(db.SQL, strconv.FormatInt(chatID, 10))
}
