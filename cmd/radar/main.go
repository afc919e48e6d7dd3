package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/araddon/dateparse"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/SignalRadar/internal/config"
	"github.com/TobiSchelling/SignalRadar/internal/database"
	"github.com/TobiSchelling/SignalRadar/internal/pipeline"
	"github.com/TobiSchelling/SignalRadar/internal/scheduler"
	"github.com/TobiSchelling/SignalRadar/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()

	quadrantColors = map[string]*color.Color{
		database.QuadrantCompetitors: color.New(color.FgRed),
		database.QuadrantIndustry:    color.New(color.FgBlue),
		database.QuadrantSnigel:      color.New(color.FgGreen),
		database.QuadrantAnomalies:   color.New(color.FgMagenta),
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "radar",
	Short:   "Competitor and industry signal radar",
	Long:    "radar polls competitor and industry feeds, classifies items into quadrants, watches competitor pages for changes, and serves the resulting signals.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetFlags(log.LstdFlags)

		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if verbose || strings.EqualFold(cfg.Logging.Level, "DEBUG") {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(signalsCmd)
	rootCmd.AddCommand(sourcesCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("radar", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/radar/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sources and the LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and recent run status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", faint(db.Path()))
		fmt.Println(bold("Signals:"))
		fmt.Printf("  Total: %d\n", stats.Signals)
		for _, q := range []string{database.QuadrantCompetitors, database.QuadrantIndustry, database.QuadrantSnigel, database.QuadrantAnomalies} {
			fmt.Printf("  %s: %d\n", quadrantColors[q].Sprint(q), stats.SignalsByQuadrant[q])
		}
		fmt.Println(bold("\nSources:"))
		fmt.Printf("  Feeds: %d\n", stats.FeedSources)
		fmt.Printf("  Web monitors: %d\n", stats.WebMonitors)
		fmt.Printf("  Snapshots: %d\n", stats.Snapshots)

		runs, err := db.RecentScanRuns(ctx, 5)
		if err != nil {
			return fmt.Errorf("getting scan runs: %w", err)
		}
		fmt.Println(bold("\nRecent runs:"))
		if len(runs) == 0 {
			fmt.Println("  None yet. Run 'radar poll' or 'radar serve'.")
		}
		for _, r := range runs {
			state := green("ok")
			if r.Errors != nil {
				state = red("errors")
			}
			created := ""
			if r.CreatedAt != nil {
				created = *r.CreatedAt
			}
			fmt.Printf("  %s  %-11s %3d found, %3d new  %6dms  %s\n",
				faint(created), r.RunType, r.ItemsFound, r.ItemsClassified, r.DurationMS, state)
		}
		return nil
	},
}

// --- poll / monitor commands ---

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch, classify and store feed items once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) *pipeline.Result {
			return p.PollFeeds(ctx)
		})
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check every web monitor once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) *pipeline.Result {
			return p.PollWebMonitors(ctx)
		})
	},
}

func runOnce(parent context.Context, run func(context.Context, *pipeline.Pipeline) *pipeline.Result) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	result := run(ctx, pipeline.FromConfig(ctx, cfg, db))
	if result.Err != nil {
		return errors.New(result.Summary())
	}
	fmt.Printf("%s %s\n", green("Done:"), result.Summary())
	for _, e := range result.Errors {
		fmt.Printf("  %s %s\n", yellow("!"), e)
	}
	return nil
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll on a schedule and serve the JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		p := pipeline.FromConfig(ctx, cfg, db)
		sched := scheduler.New(cfg.Schedule.Interval, cfg.Schedule.StartupDelay,
			scheduler.Task{Name: "feed poll", Run: func(ctx context.Context) { p.PollFeeds(ctx) }},
			scheduler.Task{Name: "web monitor", Run: func(ctx context.Context) { p.PollWebMonitors(ctx) }},
		)
		if err := sched.Start(); err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		serveErr := server.Serve(ctx, server.New(db, p.Aggregator()), port)

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			log.Printf("Scheduler stop: %v", err)
		}
		return serveErr
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 3000, "Port to run server on (overrides server.port)")
}

// --- signals command ---

var (
	sigQuadrant string
	sigSource   string
	sigSearch   string
	sigMinRel   int
	sigSince    string
	sigSort     string
	sigLimit    int
	sigOffset   int
	sigWebOnly  bool
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "List stored signals",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if sigQuadrant != "" && !database.IsQuadrant(sigQuadrant) {
			return fmt.Errorf("unknown quadrant %q", sigQuadrant)
		}
		f := database.SignalFilter{
			Quadrant:     sigQuadrant,
			SourceKey:    sigSource,
			Search:       sigSearch,
			MinRelevance: sigMinRel,
			SortBy:       sigSort,
			Limit:        sigLimit,
			Offset:       sigOffset,
		}
		if sigWebOnly {
			f.SourceType = database.SourceTypeWebMonitor
		}
		if sigSince != "" {
			t, err := dateparse.ParseIn(sigSince, time.UTC)
			if err != nil {
				return fmt.Errorf("invalid --since %q: %w", sigSince, err)
			}
			f.From = &t
		}

		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		page, err := db.QuerySignals(ctx, f)
		if err != nil {
			return err
		}
		if page.Total == 0 {
			fmt.Println("No signals match. Run 'radar poll' to collect some.")
			return nil
		}

		for _, s := range page.Items {
			c, ok := quadrantColors[s.Quadrant]
			if !ok {
				c = color.New(color.Reset)
			}
			date := "unknown date"
			if s.PubDate != nil {
				date = *s.PubDate
			}
			fmt.Printf("[%2d] %s %s\n", s.Relevance, c.Sprintf("%-11s", s.Quadrant), bold(s.Title))
			fmt.Printf("     %s  %s\n", s.Label, faint(date))
			if s.Link != nil {
				fmt.Printf("     %s\n", faint(*s.Link))
			}
		}
		fmt.Printf("\nShowing %d-%d of %d\n", page.Offset+1, page.Offset+len(page.Items), page.Total)
		return nil
	},
}

func init() {
	signalsCmd.Flags().StringVarP(&sigQuadrant, "quadrant", "q", "", "Only this quadrant (competitors, industry, snigel, anomalies)")
	signalsCmd.Flags().StringVar(&sigSource, "competitor", "", "Only signals for this competitor key")
	signalsCmd.Flags().StringVarP(&sigSearch, "search", "s", "", "Substring search in title and label")
	signalsCmd.Flags().IntVar(&sigMinRel, "min-relevance", 0, "Minimum relevance (1-10)")
	signalsCmd.Flags().StringVar(&sigSince, "since", "", "Only signals published on or after this date")
	signalsCmd.Flags().StringVar(&sigSort, "sort", "date", "Sort by date or relevance")
	signalsCmd.Flags().IntVarP(&sigLimit, "limit", "n", 20, "Maximum number of signals")
	signalsCmd.Flags().IntVar(&sigOffset, "offset", 0, "Skip this many signals")
	signalsCmd.Flags().BoolVar(&sigWebOnly, "changes", false, "Only web change signals")
}

// --- sources command ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage monitored feeds and pages",
}

var sourcesListType string

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enabled sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		sources, err := db.GetSources(ctx, sourcesListType)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("No sources. Add one with: radar sources add <url>")
			return nil
		}

		for _, s := range sources {
			key := ""
			if s.CompetitorKey != nil {
				key = " (" + *s.CompetitorKey + ")"
			}
			polled := "never polled"
			if s.LastPolledAt != nil {
				polled = "polled " + *s.LastPolledAt
			}
			fmt.Printf("  [%d] %-11s %-10s %s%s\n", s.ID, s.Type, s.Category, bold(s.Name), key)
			fmt.Printf("        %s  %s\n", s.URL, faint(polled))
		}
		return nil
	},
}

var (
	addType       string
	addName       string
	addCompetitor string
	addCategory   string
)

var sourcesAddCmd = &cobra.Command{
	Use:   "add [url]",
	Short: "Add a feed or web monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		src := database.Source{
			Type:     addType,
			URL:      args[0],
			Name:     addName,
			Category: addCategory,
		}
		if addCompetitor != "" {
			src.CompetitorKey = &addCompetitor
		}
		src, err := database.NormalizeSource(src)
		if err != nil {
			return err
		}

		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.InsertSource(ctx, src)
		if database.IsDuplicate(err) {
			return fmt.Errorf("%s source %s already exists", src.Type, src.URL)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Added %s source [%d]: %s\n", src.Type, id, src.URL)
		return nil
	},
}

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid source ID: %s", args[0])
		}

		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		src, err := db.GetSource(ctx, id)
		if err != nil {
			return err
		}
		if src == nil {
			return fmt.Errorf("source %d not found", id)
		}

		if err := db.DeleteSource(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Removed source [%d]: %s\n", id, src.URL)
		return nil
	},
}

func init() {
	sourcesListCmd.Flags().StringVarP(&sourcesListType, "type", "t", "", "Only rss or web_monitor sources")

	sourcesAddCmd.Flags().StringVarP(&addType, "type", "t", database.SourceTypeRSS, "rss or web_monitor")
	sourcesAddCmd.Flags().StringVar(&addName, "name", "", "Display name")
	sourcesAddCmd.Flags().StringVar(&addCompetitor, "competitor", "", "Competitor key this source belongs to")
	sourcesAddCmd.Flags().StringVar(&addCategory, "category", "", "competitor or industry (inferred when empty)")

	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesRemoveCmd)
}

// openDB opens the signal store and seeds sources from config on first use.
func openDB(ctx context.Context) (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := database.Open(filepath.Join(dataDir, "radar.db"))
	if err != nil {
		return nil, err
	}
	if _, err := db.SeedSources(ctx, cfg.Sources); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding sources: %w", err)
	}
	return db, nil
}
