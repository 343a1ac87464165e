package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/medforms/internal/config"
	"github.com/ehr/medforms/internal/domain/cds"
	"github.com/ehr/medforms/internal/domain/medform"
	"github.com/ehr/medforms/internal/domain/nursing"
	"github.com/ehr/medforms/internal/domain/validation"
	"github.com/ehr/medforms/internal/platform/db"
	"github.com/ehr/medforms/migrations"
)

// errInvalidForm makes `check` exit non-zero without printing a usage error.
var errInvalidForm = errors.New("form is invalid")

func main() {
	rootCmd := &cobra.Command{
		Use:           "medforms-server",
		Short:         "Medical form validation and clinical coherence API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(kbCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errInvalidForm) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// cliLogger writes to stderr so command output on stdout stays parseable.
func cliLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.WarnLevel)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the validation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// loadTables builds the base rule tables, applying RULES_FILE when set.
func loadTables(cfg *config.Config) (*cds.Tables, error) {
	tables := cds.DefaultTables()
	if cfg.RulesFile == "" {
		return tables, nil
	}
	return cds.LoadRulesFile(cfg.RulesFile, tables)
}

func checkCmd() *cobra.Command {
	var opts checkOptions
	cmd := &cobra.Command{
		Use:   "check <file.json>",
		Short: "Validate a form snapshot and print the validation state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tables, err := loadTables(cfg)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open form: %w", err)
			}
			defer f.Close()

			logger := cliLogger()
			cdsSvc := cds.NewService(tables, nil, cds.CoherenceOptions{FlagUnknownCodes: cfg.FlagUnknownCodes}, logger)
			svc := validation.NewService(cdsSvc, validation.NewRegistry(cfg.SessionTTL, logger), nil, validation.Config{}, logger)

			valid, err := runCheck(cmd.OutOrStdout(), f, opts, svc)
			if err != nil {
				return err
			}
			if !valid {
				return errInvalidForm
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Nursing, "nursing", false, "Treat the file as a nursing care plan")
	cmd.Flags().Float64Var(&opts.Age, "age", 0, "Patient age in years (0 = unknown)")
	cmd.Flags().StringVar(&opts.Type, "type", string(cds.ConsultationFirstVisit), "Consultation type")
	cmd.Flags().StringVar(&opts.Risk, "risk", string(cds.RiskLow), "Patient risk level")
	return cmd
}

type checkOptions struct {
	Nursing bool
	Age     float64
	Type    string
	Risk    string
}

// runCheck decodes a form from r over the family defaults, validates it
// completely and writes the result as indented JSON.
func runCheck(w io.Writer, r io.Reader, opts checkOptions, svc *validation.Service) (bool, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return false, fmt.Errorf("read form: %w", err)
	}

	var res validation.Result
	if opts.Nursing {
		form := nursing.NewForm("", "")
		if err := json.Unmarshal(raw, &form); err != nil {
			return false, fmt.Errorf("decode nursing form: %w", err)
		}
		res = svc.ValidateNursing(form)
	} else {
		form := medform.NewForm("", "")
		if err := json.Unmarshal(raw, &form); err != nil {
			return false, fmt.Errorf("decode medical form: %w", err)
		}
		res = svc.ValidateMedical(form, cds.ProtocolContext{
			ConsultationType: cds.ConsultationType(opts.Type),
			PatientAge:       opts.Age,
			RiskLevel:        cds.RiskLevel(opts.Risk),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return false, fmt.Errorf("write result: %w", err)
	}
	return res.State.IsValid, nil
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the effective rule tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tables, err := loadTables(cfg)
			if err != nil {
				return err
			}
			return writeCatalog(cmd.OutOrStdout(), tables, format)
		},
	}
	cmd.Flags().String("format", "yaml", "Output format: yaml or json")
	return cmd
}

func writeCatalog(w io.Writer, tables *cds.Tables, format string) error {
	doc := tables.Document()
	switch format {
	case "yaml", "yml":
		return cds.EncodeYAML(w, doc)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	return fmt.Errorf("unknown format %q (want yaml or json)", format)
}

func kbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Write the built-in knowledge tables into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.HasDatabase() {
				return fmt.Errorf("DATABASE_URL is required")
			}
			tables, err := loadTables(cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := cds.NewService(tables, cds.NewKnowledgeRepoPG(pool), cds.CoherenceOptions{}, cliLogger())
			n, err := svc.Seed(ctx)
			if err != nil {
				return fmt.Errorf("seed failed after %d row(s): %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d row(s).\n", n)
			return nil
		},
	})
	return cmd
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "medforms-server",
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	newMigrator := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		dir, _ := cmd.Flags().GetString("dir")
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if !cfg.HasDatabase() {
			return nil, nil, fmt.Errorf("DATABASE_URL is required")
		}
		pool, err := db.NewPool(cmd.Context(), poolConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		if dir != "" {
			return db.NewMigrator(pool, os.DirFS(dir)), pool.Close, nil
		}
		return db.NewMigrator(pool, migrations.FS), pool.Close, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, done, err := newMigrator(cmd)
			if err != nil {
				return err
			}
			defer done()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, done, err := newMigrator(cmd)
			if err != nil {
				return err
			}
			defer done()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
