// Command racectl runs race-day operations against the Simple5K database
// without going through the HTTP API.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/playperu/simple5k/internal/config"
	"github.com/playperu/simple5k/internal/database"
	"github.com/playperu/simple5k/internal/migrations"
	"github.com/playperu/simple5k/internal/report"
	"github.com/playperu/simple5k/internal/store"
	"github.com/playperu/simple5k/internal/timing"
	"github.com/playperu/simple5k/internal/tracker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// env is what every command works against.
type env struct {
	db     *sql.DB
	store  *store.SQLiteStore
	engine *timing.Engine
	out    io.Writer
}

func newApp(stdout, stderr io.Writer) *cli.App {
	var e env
	return &cli.App{
		Name:      "racectl",
		Usage:     "Simple5K race-day operations",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "SQLite database path (defaults to DB_PATH)"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			path := cfg.DBPath
			if c.IsSet("db") {
				path = c.String("db")
			}
			db, err := database.Open(c.Context, path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

			e.db = db
			e.store = store.New(db)
			e.engine = timing.New(e.store, timing.WithLogger(logger))
			e.out = stdout
			return nil
		},
		After: func(*cli.Context) error {
			if e.db != nil {
				return e.db.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			migrateCommand(&e),
			raceCommand(&e),
			emailCommand(&e),
			apiKeyCommand(&e),
			adminCommand(&e),
		},
	}
}

func migrateCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "database migrations",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply pending migrations",
				Action: func(c *cli.Context) error {
					if err := migrations.Run(e.db); err != nil {
						return err
					}
					return printVersion(e)
				},
			},
			{
				Name:  "down",
				Usage: "roll back the latest migration",
				Action: func(c *cli.Context) error {
					if err := migrations.Rollback(e.db); err != nil {
						return err
					}
					return printVersion(e)
				},
			},
			{
				Name:   "version",
				Usage:  "print the schema version",
				Action: func(c *cli.Context) error { return printVersion(e) },
			},
		},
	}
}

func printVersion(e *env) error {
	v, err := migrations.Version(e.db)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "schema version %d\n", v)
	return nil
}

func raceFlag() cli.Flag {
	return &cli.Int64Flag{Name: "race", Aliases: []string{"r"}, Usage: "race id", Required: true}
}

func atFlag() cli.Flag {
	return &cli.StringFlag{Name: "at", Usage: "RFC 3339 timestamp (defaults to now)"}
}

func raceCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "race",
		Usage: "race clock, numbering and results",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list races",
				Action: func(c *cli.Context) error {
					races, err := e.store.ListRaces(c.Context)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tLAPS\tSTARTED")
					for _, r := range races {
						started := "-"
						if r.StartTime != nil {
							started = r.StartTime.Format(time.RFC3339)
						}
						fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", r.ID, r.Name, r.Status.Label(), r.LapsCount, started)
					}
					return tw.Flush()
				},
			},
			{
				Name:  "start",
				Usage: "start the race clock",
				Flags: []cli.Flag{raceFlag(), atFlag()},
				Action: func(c *cli.Context) error {
					at, err := parseAt(c.String("at"))
					if err != nil {
						return err
					}
					race, err := e.engine.StartRace(c.Context, c.Int64("race"), at)
					if err != nil {
						return err
					}
					if race.StartTime == nil {
						// Stopped before it ever started.
						fmt.Fprintf(e.out, "race %d %s\n", race.ID, race.Status.Label())
						return nil
					}
					fmt.Fprintf(e.out, "race %d %s, started %s\n", race.ID, race.Status.Label(), race.StartTime.Format(time.RFC3339Nano))
					return nil
				},
			},
			{
				Name:  "stop",
				Usage: "stop the race clock and re-sort placements",
				Flags: []cli.Flag{raceFlag(), atFlag()},
				Action: func(c *cli.Context) error {
					at, err := parseAt(c.String("at"))
					if err != nil {
						return err
					}
					race, err := e.engine.StopRace(c.Context, c.Int64("race"), at)
					if err != nil {
						return err
					}
					fmt.Fprintf(e.out, "race %d %s\n", race.ID, race.Status.Label())
					return nil
				},
			},
			{
				Name:  "recompute",
				Usage: "rebuild times and places from recorded laps",
				Flags: []cli.Flag{raceFlag()},
				Action: func(c *cli.Context) error {
					sum, err := e.engine.RecomputePlacements(c.Context, c.Int64("race"))
					if err != nil {
						return err
					}
					fmt.Fprintf(e.out, "recomputed %d, skipped %d, renumbered %d\n", sum.Recomputed, sum.Skipped, sum.Renumbered)
					return nil
				},
			},
			{
				Name:  "numbers",
				Usage: "assign bib numbers to runners without one",
				Flags: []cli.Flag{raceFlag()},
				Action: func(c *cli.Context) error {
					assigned, err := e.engine.AssignNumbers(c.Context, c.Int64("race"))
					if err != nil {
						return err
					}
					for _, a := range assigned {
						fmt.Fprintf(e.out, "%d\t%s\n", a.Number, a.Name)
					}
					fmt.Fprintf(e.out, "%d bibs assigned\n", len(assigned))
					return nil
				},
			},
			{
				Name:  "tag",
				Usage: "bind a registered tag to a bib",
				Flags: []cli.Flag{
					raceFlag(),
					&cli.IntFlag{Name: "bib", Required: true},
					&cli.StringFlag{Name: "tag", Required: true},
					&cli.BoolFlag{Name: "create", Usage: "register the tag if it is unknown"},
				},
				Action: func(c *cli.Context) error {
					mode := timing.TagStrict
					if c.Bool("create") {
						mode = timing.TagUpsert
					}
					a, err := e.engine.AssignTag(c.Context, c.Int64("race"), c.Int("bib"), c.String("tag"), mode)
					if err != nil {
						return err
					}
					fmt.Fprintf(e.out, "bib %d (%s) now wears tag %s #%d\n", c.Int("bib"), a.Runner.Name(), a.Tag.RFIDHex, a.Tag.TagNumber)
					return nil
				},
			},
			{
				Name:  "shirts",
				Usage: "count shirt sizes for packet pickup",
				Flags: []cli.Flag{raceFlag()},
				Action: func(c *cli.Context) error {
					if _, err := e.store.RaceByID(c.Context, c.Int64("race")); err != nil {
						return err
					}
					counts, err := e.store.ShirtSizes(c.Context, c.Int64("race"))
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SIZE	COUNT")
					for _, sc := range counts {
						label := sc.Size.Label()
						if sc.Size == "" {
							label = "Not given"
						}
						fmt.Fprintf(tw, "%s\t%d\n", label, sc.Count)
					}
					return tw.Flush()
				},
			},
			{
				Name:  "export",
				Usage: "write the results workbook",
				Flags: []cli.Flag{
					raceFlag(),
					&cli.PathFlag{Name: "out", Aliases: []string{"o"}, Usage: "output .xlsx path", Required: true},
				},
				Action: func(c *cli.Context) error {
					return exportResults(c.Context, e, c.Int64("race"), c.Path("out"))
				},
			},
		},
	}
}

func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return timing.ParseInstant(s)
}

func exportResults(ctx context.Context, e *env, raceID int64, path string) error {
	race, err := e.store.RaceByID(ctx, raceID)
	if err != nil {
		return err
	}
	runners, err := e.store.RunnersByRace(ctx, raceID)
	if err != nil {
		return err
	}
	laps, err := e.store.LapsByRace(ctx, raceID)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteXLSX(f, report.Build(race, runners, laps)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "wrote %s\n", path)
	return nil
}

func emailCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "email",
		Usage: "admin email jobs, sent by the server's mail worker",
		Subcommands: []*cli.Command{
			{
				Name:  "queue",
				Usage: "queue a message to a race's runners",
				Flags: []cli.Flag{
					raceFlag(),
					&cli.StringFlag{Name: "subject", Required: true},
					&cli.StringFlag{Name: "body", Required: true},
					&cli.BoolFlag{Name: "unpaid", Usage: "only unpaid runners, with a payment link"},
				},
				Action: func(c *cli.Context) error {
					j, err := e.store.CreateEmailJob(c.Context, tracker.EmailJob{
						RaceID:         c.Int64("race"),
						Subject:        c.String("subject"),
						Body:           c.String("body"),
						UnpaidReminder: c.Bool("unpaid"),
					})
					if err != nil {
						return err
					}
					fmt.Fprintf(e.out, "email job %d queued\n", j.ID)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "list email jobs, newest first",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "race", Aliases: []string{"r"}, Usage: "race id (defaults to every race)"},
				},
				Action: func(c *cli.Context) error {
					jobs, err := e.store.EmailJobs(c.Context, c.Int64("race"))
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tRACE\tSUBJECT\tSTATUS\tSENT\tERROR")
					for _, j := range jobs {
						fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%s\n", j.ID, j.RaceID, j.Subject, j.Status, j.Sent, j.Error)
					}
					return tw.Flush()
				},
			},
			{
				Name:  "reset-stuck",
				Usage: "fail every job still marked sending",
				Action: func(c *cli.Context) error {
					n, err := e.store.ResetStuckEmailJobs(c.Context, time.Time{}, time.Now())
					if err != nil {
						return err
					}
					fmt.Fprintf(e.out, "reset %d stuck email jobs\n", n)
					return nil
				},
			},
		},
	}
}

func apiKeyCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "apikey",
		Usage: "timing client API keys",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "issue a key; it is printed once",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: racectl apikey create NAME", 2)
					}
					k, plain, err := e.store.CreateAPIKey(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					fmt.Fprintf(e.out, "%s\t%s\n%s\n", k.ID, k.Name, plain)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "list keys",
				Action: func(c *cli.Context) error {
					keys, err := e.store.ListAPIKeys(c.Context)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tNAME\tKEY\tACTIVE")
					for _, k := range keys {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", k.ID, k.Name, k.Masked(), k.Active)
					}
					return tw.Flush()
				},
			},
			{
				Name:      "revoke",
				Usage:     "deactivate a key",
				ArgsUsage: "ID",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: racectl apikey revoke ID", 2)
					}
					if err := e.store.DeactivateAPIKey(c.Context, c.Args().First()); err != nil {
						return err
					}
					fmt.Fprintf(e.out, "revoked %s\n", c.Args().First())
					return nil
				},
			},
		},
	}
}

func adminCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "admin accounts",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "add an admin account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"RACECTL_ADMIN_PASSWORD"}},
				},
				Action: func(c *cli.Context) error {
					a, err := e.store.CreateAdmin(c.Context, c.String("email"), c.String("password"))
					if err != nil {
						return err
					}
					fmt.Fprintf(e.out, "admin %d %s\n", a.ID, a.Email)
					return nil
				},
			},
		},
	}
}
