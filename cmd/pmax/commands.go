package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pmaxtools/internal/app"
	"pmaxtools/internal/batch"
	"pmaxtools/internal/config"
	"pmaxtools/internal/demand"
	"pmaxtools/internal/infrastructure"
	"pmaxtools/internal/services"
	"pmaxtools/internal/sheets"
	"pmaxtools/internal/validation"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "pmax",
		Short:        "Analytic Pmax for exponentiated demand curves",
		Long:         "pmax computes the price of maximum expenditure (Pmax) for fitted\nexponentiated demand parameters, one set at a time or for whole spreadsheets.",
		Version:      config.AppVersion,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (overrides "+config.ConfigFileEnv+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Console log level for one-shot commands")

	root.AddCommand(
		newSolveCmd(opts),
		newBatchCmd(opts),
		newServeCmd(opts),
		newConfigCmd(),
	)
	return root
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configFile != "" {
		return config.LoadFile(o.configFile)
	}
	return config.Load()
}

// cliLogger logs to stderr in tint's colored text format
func (o *rootOptions) cliLogger(stderr io.Writer) (*slog.Logger, error) {
	return infrastructure.NewLogger(config.LoggingConfig{
		Level:  o.logLevel,
		Format: "text",
		Output: "console",
	}, stderr)
}

func newSolveCmd(opts *rootOptions) *cobra.Command {
	var p demand.Params
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "solve",
		Short:   "Solve a single parameter set",
		Example: `  pmax solve --q0 4.1849 --alpha 0.00518467 --k 5.31159`,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := demand.SolveParams(p)
			if err != nil {
				return err
			}
			entry, err := demand.Describe(demand.ReportInput{
				Params:      p,
				Analytic:    res.Analytic,
				Approximate: res.Approximate,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, services.SolveView{Params: p, Result: res, Report: entry, Text: entry.String()})
			}
			fmt.Fprintln(out, entry.String())
			return nil
		},
	}

	cmd.Flags().Float64Var(&p.Q0, "q0", 0, "Demand intensity Q0")
	cmd.Flags().Float64Var(&p.Alpha, "alpha", 0, "Rate of change in elasticity")
	cmd.Flags().Float64Var(&p.K, "k", 0, "Span of the demand curve in log units")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	for _, name := range []string{"q0", "alpha", "k"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newBatchCmd(opts *rootOptions) *cobra.Command {
	var (
		outputPath  string
		example     bool
		parallelism int
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "batch [file.xlsx|file.csv]",
		Short: "Solve every row of a spreadsheet",
		Long: `batch reads Q0, Alpha and K from the first three columns of a spreadsheet,
solves every row, prints the completed grid and the per-row report, and
optionally writes the result to an .xlsx or .csv file.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if example {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.cliLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			files := validation.NewFileValidator(config.Default().Server.MaxUploadBytes, logger)
			var outFormat sheets.Format
			if outputPath != "" {
				if outFormat, err = files.ValidateOutput(outputPath); err != nil {
					return err
				}
			}

			var grid batch.Grid
			if example {
				grid = batch.ExampleGrid()
			} else {
				if _, err := files.ValidateInput(args[0]); err != nil {
					return err
				}
				if grid, err = importFile(args[0]); err != nil {
					return err
				}
			}

			bc := batch.DefaultConfig()
			bc.RowParallelism = parallelism
			bc.BatchTimeout = timeout
			bc.MaxRows = 0
			orch := batch.NewOrchestrator(bc, nil, logger)
			svc := services.NewPmaxService(orch, config.BatchConfig{}, logger)
			defer svc.Stop(time.Second)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			c, err := svc.Run(ctx, grid)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printGrid(out, c.Sheet)
			if text := c.ReportText(); text != "" {
				fmt.Fprintln(out)
				fmt.Fprintln(out, text)
			}
			for _, w := range c.Warnings {
				logger.Warn("row skipped", slog.Int("row", w.Row+1), slog.String("reason", w.Message))
			}

			if outputPath != "" {
				if err := exportFile(outputPath, outFormat, c); err != nil {
					return err
				}
				fmt.Fprintf(out, "\nWrote %s\n", outputPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the result to an .xlsx or .csv file")
	cmd.Flags().BoolVar(&example, "example", false, "Solve the built-in example grid instead of a file")
	cmd.Flags().IntVar(&parallelism, "parallelism", 1, "Rows solved concurrently")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the batch after this long (0 = no limit)")
	return cmd
}

func importFile(path string) (batch.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()
	return sheets.Import(f, path)
}

func exportFile(path string, format sheets.Format, c batch.Completion) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}

	if format == sheets.FormatCSV {
		err = sheets.WriteCSV(f, c.Sheet)
	} else {
		err = sheets.WriteWorkbook(f, c)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func printGrid(w io.Writer, sheet batch.Grid) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(batch.ColumnNames[:], "\t"))
	for _, row := range sheet {
		cells := make([]string, batch.NumColumns)
		copy(cells, row)
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			application, err := app.NewApplication(cfg)
			if err != nil {
				return err
			}
			return application.Run()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides configuration)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "List the environment variables the service reads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Usage(cmd.OutOrStdout())
		},
	}
}
