package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/archive"
	"github.com/Honjitsu-Seiten/SeitenBot2/internal/config"
	"github.com/Honjitsu-Seiten/SeitenBot2/internal/db"
	"github.com/Honjitsu-Seiten/SeitenBot2/internal/logging"
	"github.com/Honjitsu-Seiten/SeitenBot2/internal/mediawiki"
	"github.com/Honjitsu-Seiten/SeitenBot2/internal/prompt"
	"github.com/Honjitsu-Seiten/SeitenBot2/internal/report"
	"github.com/Honjitsu-Seiten/SeitenBot2/internal/sdfile"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/utils"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	app := &cli.App{
		Name:                 "sdfile",
		Usage:                "Delete local files that were moved to Wikimedia Commons",
		Version:              version.Version,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:      "run",
				Usage:     "Verify candidates and delete the eligible ones",
				ArgsUsage: "[title...]",
				Flags: append(commonFlags(),
					&cli.BoolFlag{
						Name:  "always",
						Usage: "Do not ask before deleting or saving",
					},
					&cli.BoolFlag{
						Name:  "ignorelist",
						Usage: "Neither read nor write the skip list",
					},
					&cli.BoolFlag{
						Name:  "recent",
						Usage: "Treat the newest candidates first",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of candidates (0 for all)",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Verify only; delete, tag and save nothing",
					},
				),
				Action: runBot,
			},
			{
				Name:  "status",
				Usage: "Show the statistics of a run",
				Flags: append(commonFlags(),
					&cli.StringFlag{
						Name:  "run",
						Usage: "Run ID (latest run by default)",
					},
				),
				Action: showStatus,
			},
			{
				Name:  "report",
				Usage: "Export the outcomes of a run as a spreadsheet",
				Flags: append(commonFlags(),
					&cli.StringFlag{
						Name:     "out",
						Usage:    "Path of the .xlsx file to write",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "run",
						Usage: "Run ID (latest run by default)",
					},
				),
				Action: exportReport,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("sdfile failed")
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to the YAML configuration",
		},
		&cli.StringFlag{
			Name:  "journal",
			Usage: "Path to the run journal database",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "trace, debug, info, warn or error",
		},
	}
}

// loadConfig reads the configuration and sets up logging.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if path := c.String("journal"); path != "" {
		cfg.Journal.Path = path
	}
	if level := c.String("log-level"); level != "" {
		cfg.LogLevel = level
	}
	logging.Setup(cfg.LogLevel)
	return cfg, nil
}

func newSite(ctx context.Context, sc config.SiteConfig) (*mediawiki.Client, error) {
	client, err := mediawiki.New(mediawiki.Options{
		APIURL:      sc.APIURL,
		UserAgent:   sc.UserAgent,
		MinInterval: sc.MinInterval,
		Timeout:     sc.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if sc.Username != "" {
		if err := client.Login(ctx, sc.Username, sc.Password); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// runBot verifies the candidates and deletes what may be deleted.
//
// Candidates are the titles given as arguments, or the members of the
// configured category. Ctrl+C stops the run after the current file and
// still writes the skip list.
func runBot(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Info().Str("version", version.String()).Msg("starting sdfile")

	local, err := newSite(ctx, cfg.Local)
	if err != nil {
		return fmt.Errorf("failed to connect to the local wiki: %w", err)
	}
	remote, err := newSite(ctx, cfg.Remote)
	if err != nil {
		return fmt.Errorf("failed to connect to the remote wiki: %w", err)
	}

	rules, err := sdfile.NewRules(cfg)
	if err != nil {
		return err
	}
	if err := rules.ExpandTemplates(ctx, local); err != nil {
		return err
	}

	journal, err := db.New(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()

	deps := sdfile.Deps{
		Local:   local,
		Remote:  remote,
		Rules:   rules,
		Ledger:  cfg.Ledger,
		Journal: journal,
		Log:     logging.For("bot"),
	}

	if cfg.Archive.Enabled() {
		archiver, err := archive.New(cfg.Archive, logging.For("archive"))
		if err != nil {
			return err
		}
		if err := archiver.Check(ctx); err != nil {
			return err
		}
		deps.Archiver = archiver
	}

	opts := sdfile.Options{
		Always:     c.Bool("always"),
		IgnoreList: c.Bool("ignorelist"),
		DryRun:     c.Bool("dry-run"),
		Progress:   isatty.IsTerminal(os.Stderr.Fd()),
	}
	if !opts.Always && !opts.DryRun {
		if !prompt.Interactive() {
			return prompt.ErrNotInteractive
		}
		deps.Confirm = prompt.New()
		// the bar would be drawn over the questions
		opts.Progress = false
	}
	bot := sdfile.NewBot(deps, opts)

	var titles []string
	if c.Args().Len() > 0 {
		for _, arg := range c.Args().Slice() {
			titles = append(titles, rules.LocalTitle(rules.LocalName(arg)))
		}
	} else {
		titles, err = bot.Candidates(ctx, cfg.Bot.CandidateCategory, c.Bool("recent"), c.Int("limit"))
		if err != nil {
			return err
		}
	}

	stats, err := bot.Run(ctx, titles)
	if stats != nil {
		printStats(stats)
	}
	if errors.Is(err, prompt.ErrAborted) {
		return nil
	}
	return err
}

func openJournal(c *cli.Context) (*db.DB, string, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, "", err
	}
	journal, err := db.New(cfg.Journal.Path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open journal: %w", err)
	}
	runID := c.String("run")
	if runID == "" {
		if runID, err = journal.LatestRunID(); err != nil {
			journal.Close()
			return nil, "", err
		}
	}
	return journal, runID, nil
}

// showStatus prints the statistics of a run.
func showStatus(c *cli.Context) error {
	journal, runID, err := openJournal(c)
	if err != nil {
		return err
	}
	defer journal.Close()

	run, err := journal.GetRun(runID)
	if err != nil {
		return err
	}
	stats, err := journal.GetStats(runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run: %s\n", run.ID)
	fmt.Printf("Started: %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if !run.FinishedAt.IsZero() {
		fmt.Printf("Duration: %s\n", utils.FormatDuration(run.FinishedAt.Sub(run.StartedAt)))
	} else {
		fmt.Println("Duration: unfinished")
	}
	fmt.Printf("Candidates: %d\n", run.Candidates)
	printStats(stats)
	return nil
}

// exportReport writes the outcomes of a run to a workbook.
func exportReport(c *cli.Context) error {
	journal, runID, err := openJournal(c)
	if err != nil {
		return err
	}
	defer journal.Close()

	run, err := journal.GetRun(runID)
	if err != nil {
		return err
	}
	stats, err := journal.GetStats(runID)
	if err != nil {
		return err
	}
	outcomes, err := journal.GetOutcomes(runID)
	if err != nil {
		return err
	}

	out := c.String("out")
	if err := report.Write(out, run, stats, outcomes); err != nil {
		return err
	}
	fmt.Printf("Wrote %d outcomes of run %s to %s\n", len(outcomes), runID, out)
	return nil
}

func printStats(stats *models.Stats) {
	fmt.Printf("Files: %d\n", stats.TotalFiles)
	fmt.Printf("- Deleted: %d\n", stats.Deleted)
	fmt.Printf("- Tagged: %d\n", stats.Tagged)
	fmt.Printf("- Skipped: %d\n", stats.Skipped)
	fmt.Printf("- Eligible: %d\n", stats.Eligible)
	fmt.Printf("- Failed: %d\n", stats.Failed)

	codes := make([]string, 0, len(stats.ByReason))
	for code := range stats.ByReason {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Printf("  Reason %s: %d\n", code, stats.ByReason[code])
	}
}
