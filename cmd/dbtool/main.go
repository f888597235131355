package main

import (
	"context"
	"database/sql"
	"delivery-run-service/internal/adapters/repositories"
	"delivery-run-service/internal/config"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/platform/db"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	config.LoadDotEnv()

	rootCmd := &cobra.Command{
		Use:   "dbtool",
		Short: "Operate the delivery run database",
		Long: `dbtool prepares and inspects the Postgres store used by the delivery run service.
It reads DATABASE_URL from the environment or a .env file.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(driversCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func openDB(ctx context.Context) (*sql.DB, error) {
	url := config.Get("DATABASE_URL", "")
	if url == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return db.Open(ctx, url)
}

// withDB opens the database for the duration of fn.
func withDB(fn func(ctx context.Context, conn *sql.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		conn, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer conn.Close()
		return fn(cmd.Context(), conn)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema",
		RunE: withDB(func(ctx context.Context, conn *sql.DB) error {
			fmt.Println("Initializing database schema...")
			if err := repositories.InitSchema(ctx, conn); err != nil {
				return err
			}
			fmt.Println(color.GreenString("Schema ready."))
			return nil
		}),
	}
}

func seedCmd() *cobra.Command {
	var ordersPath, driversPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load orders and drivers from JSON seed files",
		Long: `Seed upserts orders and drivers. Orders that already exist keep their stored
geocode unless their address changed. The schema is created first if missing.`,
		RunE: withDB(func(ctx context.Context, conn *sql.DB) error {
			if err := repositories.InitSchema(ctx, conn); err != nil {
				return err
			}

			if ordersPath != "" {
				n, err := repositories.SeedOrdersFromJSON(ctx, conn, ordersPath)
				if err != nil {
					return err
				}
				fmt.Printf("Seeded %s orders from %s\n", color.CyanString("%d", n), ordersPath)
			}
			if driversPath != "" {
				n, err := repositories.SeedDriversFromJSON(ctx, conn, driversPath)
				if err != nil {
					return err
				}
				fmt.Printf("Seeded %s drivers from %s\n", color.CyanString("%d", n), driversPath)
			}
			fmt.Println(color.GreenString("Seeding complete."))
			return nil
		}),
	}

	cmd.Flags().StringVar(&ordersPath, "orders", config.Get("SEED_PATH", "data/seeds/orders.json"), "orders seed file (empty to skip)")
	cmd.Flags().StringVar(&driversPath, "drivers", config.Get("DRIVERS_SEED_PATH", "data/seeds/drivers.json"), "drivers seed file (empty to skip)")
	return cmd
}

func runsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List delivery runs with their plan totals",
		RunE: withDB(func(ctx context.Context, conn *sql.DB) error {
			runs, err := repositories.NewPostgresRunRepository(conn).ListRuns(ctx)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No delivery runs.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tRUN\tORDERS\tROUTES\tUNASSIGNED\tKM\tMIN\tSTATUS")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.1f\t%.0f\t%s\n",
					r.DeliveryDate, r.RunID, r.OrderCount, r.RouteCount, r.UnassignedCount,
					r.DistanceKm, r.DurationMin, statusLabel(r.Status))
			}
			return w.Flush()
		}),
	}
}

func driversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the driver directory",
		RunE: withDB(func(ctx context.Context, conn *sql.DB) error {
			drivers, err := repositories.NewPostgresDriverDirectory(conn).ListDrivers(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DRIVER\tNAME\tACTIVE")
			for _, d := range drivers {
				active := color.GreenString("yes")
				if !d.Active {
					active = color.New(color.Faint).Sprint("no")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.DriverID, d.Name, active)
			}
			return w.Flush()
		}),
	}
}

// statusLabel colours a run status. Keep it in the last column: tabwriter
// counts escape bytes as width.
func statusLabel(s domain.RunStatus) string {
	switch s {
	case domain.StatusDraft:
		return color.New(color.FgYellow).Sprint(s)
	case domain.StatusLocked:
		return color.New(color.FgCyan).Sprint(s)
	case domain.StatusRouted:
		return color.New(color.FgMagenta).Sprint(s)
	case domain.StatusDispatched:
		return color.New(color.FgBlue, color.Bold).Sprint(s)
	case domain.StatusCompleted:
		return color.New(color.FgGreen).Sprint(s)
	}
	return string(s)
}
