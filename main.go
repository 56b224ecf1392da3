package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/twpayne/dedupscan/internal/config"
	"github.com/twpayne/dedupscan/internal/dedup"
	"github.com/twpayne/dedupscan/internal/find"
	"github.com/twpayne/dedupscan/internal/fstable"
	"github.com/twpayne/dedupscan/internal/snapshot"
	"github.com/twpayne/dedupscan/internal/stats"
)

type cli struct {
	configPath string
	verbose    bool
	progress   bool
	statistics bool
	config     *config.Config
	stdout     io.Writer
	stderr     io.Writer
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{
		config: config.Default(),
		stdout: stdout,
		stderr: stderr,
	}
}

func (c *cli) newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dedupscan",
		Short:         "Find duplicate files and measure the space they waste",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfig(cmd.Flags())
		},
	}
	rootCmd.SetOut(c.stdout)
	rootCmd.SetErr(c.stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "verbose")
	flags.BoolVar(&c.progress, "progress", false, "show progress")
	flags.BoolVar(&c.statistics, "statistics", false, "print statistics")
	c.addConfigFlags(flags)

	rootCmd.AddCommand(
		c.newScanCmd(),
		c.newComputeCmd(),
		c.newDuplicatesCmd(),
		c.newConfigCmd(),
	)
	return rootCmd
}

// addConfigFlags adds flags that override values in the config file.
func (c *cli) addConfigFlags(flags *pflag.FlagSet) {
	flags.IntVarP(&c.config.MaxGoroutines, "parallelism", "j", c.config.MaxGoroutines, "parallelism")
	flags.StringVar(&c.config.DigestAlgorithm, "algorithm", c.config.DigestAlgorithm, "digest algorithm (blake3 or xxh3)")
	flags.BoolVar(&c.config.DirectoryEntries, "directory-entries", c.config.DirectoryEntries, "record directories")
	flags.BoolVar(&c.config.FileContent, "file-content", c.config.FileContent, "store file content in the table")
	flags.BoolVar(&c.config.ContentTypes, "content-types", c.config.ContentTypes, "detect content types of duplicates")
	flags.BoolVarP(&c.config.KeepGoing, "keep-going", "k", c.config.KeepGoing, "continue after errors reading files")
	flags.StringVar(&c.config.SnapshotPath, "snapshot", c.config.SnapshotPath, "snapshot path")
	flags.StringVar(&c.config.LogLevel, "log-level", c.config.LogLevel, "log level")
}

// loadConfig loads the config file, if any, and then re-applies any flags set
// on the command line so that they take precedence.
func (c *cli) loadConfig(flags *pflag.FlagSet) error {
	if c.configPath != "" {
		fileConfig, err := config.Load(c.configPath)
		if err != nil {
			return err
		}
		changed := make(map[*pflag.Flag]string)
		flags.Visit(func(flag *pflag.Flag) {
			changed[flag] = flag.Value.String()
		})
		*c.config = *fileConfig
		for flag, value := range changed {
			if err := flag.Value.Set(value); err != nil {
				return err
			}
		}
	}
	if err := c.config.Validate(); err != nil {
		return err
	}

	level, err := logrus.ParseLevel(c.config.LogLevel)
	if err != nil {
		return err
	}
	if c.verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(c.stderr)
	return nil
}

func (c *cli) newScanCmd() *cobra.Command {
	var save string
	scanCmd := &cobra.Command{
		Use:   "scan [root...]",
		Short: "Scan directories and optionally save a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			finder := c.newFinder(args)
			finder.Refresh = true
			if save != "" {
				finder.SnapshotPath = save
			}
			var table *fstable.Table
			if err := c.runFinder(finder, func() (err error) {
				table, err = finder.Table()
				return err
			}); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "%d entries, %s total, %s content, %s digests\n",
				table.Len(),
				units.BytesSize(float64(table.TotalSize())),
				units.BytesSize(float64(table.ContentSize())),
				table.DigestAlgorithm(),
			)
			return nil
		},
	}
	scanCmd.Flags().StringVar(&save, "save", "", "save snapshot to path")
	return scanCmd
}

func (c *cli) newComputeCmd() *cobra.Command {
	var load string
	var top int
	computeCmd := &cobra.Command{
		Use:   "compute [root...]",
		Short: "Compute the space that deduplication would save",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.report(args, load)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("top") {
				top = c.config.Top
			}
			if top < 0 {
				return fmt.Errorf("%d: invalid top", top)
			}
			c.printSummary(report, top)
			return nil
		},
	}
	computeCmd.Flags().StringVar(&load, "load", "", "load snapshot from path instead of scanning")
	computeCmd.Flags().IntVar(&top, "top", 10, "number of largest duplicate groups to show")
	return computeCmd
}

func (c *cli) newDuplicatesCmd() *cobra.Command {
	var load string
	var threshold int
	duplicatesCmd := &cobra.Command{
		Use:   "duplicates [root...]",
		Short: "Print sets of duplicate files as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.report(args, load)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = c.config.Threshold
			}
			encoder := json.NewEncoder(c.stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(report.Duplicates(threshold))
		},
	}
	duplicatesCmd.Flags().StringVar(&load, "load", "", "load snapshot from path instead of scanning")
	duplicatesCmd.Flags().IntVarP(&threshold, "threshold", "n", 2, "threshold")
	return duplicatesCmd
}

func (c *cli) newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.config.Encode(c.stdout)
		},
	}
}

func (c *cli) newFinder(roots []string) *find.Finder {
	if len(roots) == 0 {
		roots = []string{"."}
	}
	for i, root := range roots {
		roots[i] = filepath.Clean(root)
	}
	return &find.Finder{
		Roots:            roots,
		SnapshotPath:     c.config.SnapshotPath,
		DirectoryEntries: c.config.DirectoryEntries,
		FileContent:      c.config.FileContent,
		ContentTypes:     c.config.ContentTypes,
		KeepGoing:        c.config.KeepGoing,
		Algorithm:        fstable.DigestAlgorithm(c.config.DigestAlgorithm),
		MaxGoroutines:    c.config.MaxGoroutines,
		Logger:           logrus.StandardLogger(),
		Statistics:       &stats.Statistics{},
	}
}

// runFinder calls f with finder's progress and statistics reporting set up.
func (c *cli) runFinder(finder *find.Finder, f func() error) error {
	if c.progress {
		bar := progressbar.NewOptions64(-1,
			progressbar.OptionSetDescription("scanning"),
			progressbar.OptionSetWriter(c.stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		)
		finder.Progress = func(string) {
			_ = bar.Add(1)
		}
		defer func() {
			_ = bar.Finish()
		}()
	}
	err := f()
	if c.statistics {
		if printErr := finder.Statistics.Print(c.stderr); printErr != nil {
			err = errors.Join(err, printErr)
		}
	}
	return err
}

// report returns the duplication report of the snapshot at load or, if load
// is empty or cannot be loaded, of roots.
func (c *cli) report(roots []string, load string) (*dedup.Report, error) {
	if load != "" {
		s, err := snapshot.Load(load)
		if err != nil {
			logrus.WithError(err).WithField("path", load).Warn("cannot load snapshot, scanning")
			return c.scanReport(roots)
		}
		var options []dedup.Option
		if c.config.ContentTypes {
			var root string
			if len(s.Roots) == 1 {
				root = s.Roots[0]
			}
			options = append(options, dedup.WithContentTypes(root))
		}
		return dedup.AnalyzeTable(s.Table, options...), nil
	}
	return c.scanReport(roots)
}

func (c *cli) scanReport(roots []string) (*dedup.Report, error) {
	finder := c.newFinder(roots)
	var report *dedup.Report
	err := c.runFinder(finder, func() (err error) {
		report, err = finder.FindDuplicates()
		return err
	})
	return report, err
}

func (c *cli) printSummary(report *dedup.Report, top int) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	percent := 100 * float64(report.DuplicatedBytes()) / max(1, float64(report.TotalBytes))
	bold.Fprintln(c.stdout, "Summary")
	fmt.Fprintf(c.stdout, "  files:         %d\n", report.Files)
	fmt.Fprintf(c.stdout, "  groups:        %d\n", report.GroupCount())
	fmt.Fprintf(c.stdout, "  total:         %s\n", units.BytesSize(float64(report.TotalBytes)))
	fmt.Fprintf(c.stdout, "  deduplicated:  %s\n", units.BytesSize(float64(report.DedupedBytes)))
	green.Fprintf(c.stdout, "  savings:       %s (%.1f%%)\n", units.BytesSize(float64(report.DuplicatedBytes())), percent)
	if report.Undigested > 0 {
		yellow.Fprintf(c.stdout, "  undigested:    %d (%s)\n", report.Undigested, units.BytesSize(float64(report.UndigestedBytes)))
	}

	if groups := report.Top(top); len(groups) > 0 {
		bold.Fprintln(c.stdout, "Largest duplicate groups")
		for _, group := range groups {
			fmt.Fprintf(c.stdout, "  %s  %d x %s, %s wasted\n",
				group.Digest, len(group.Members), units.BytesSize(float64(group.Size)), units.BytesSize(float64(group.WastedBytes())))
			for _, member := range group.Members {
				fmt.Fprintf(c.stdout, "    %s\n", member)
			}
		}
	}

	if names := report.ContentTypeNames(); len(names) > 0 {
		bold.Fprintln(c.stdout, "Wasted bytes by content type")
		for _, name := range names {
			fmt.Fprintf(c.stdout, "  %-40s %s\n", name, units.BytesSize(float64(report.ContentTypes[name])))
		}
	}
}

func run() error {
	return newCLI(os.Stdout, os.Stderr).newRootCmd().Execute()
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
