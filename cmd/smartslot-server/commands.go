package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartslot/smartslot/internal/config"
	"github.com/smartslot/smartslot/internal/domain/triage"
	"github.com/smartslot/smartslot/internal/platform/auth"
	"github.com/smartslot/smartslot/internal/platform/db"
	"github.com/smartslot/smartslot/internal/platform/messaging"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run Postgres migrations for the snapshot table",
	}

	newMigrator := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for migrations")
		}
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.MigrationsDir
		}
		pool, err := openPool(cmd.Context(), cfg)
		if err != nil {
			return nil, nil, err
		}
		m, err := db.NewMigrator(pool, os.DirFS(dir), cfg.DBSchema)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return m, pool.Close, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := newMigrator(cmd)
			if err != nil {
				return err
			}
			defer done()
			count, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := newMigrator(cmd)
			if err != nil {
				return err
			}
			defer done()
			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			for _, s := range statuses {
				status, at := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						at = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, at)
			}
			return w.Flush()
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
		cmd.AddCommand(c)
	}
	return cmd
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect the stored queue snapshot",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, closer := newLogger(cfg)
			defer closer.Close()

			st, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.close()

			snap, err := st.repo.Load(cmd.Context())
			if err != nil {
				return err
			}
			if snap == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "no snapshot stored")
				return nil
			}
			snap.Normalize()
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	})
	return cmd
}

// classification is the output of the classify command.
type classification struct {
	Urgency triage.Urgency `json:"urgency"`
	Score   int            `json:"score"`
	Source  string         `json:"source"`
}

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [file]",
		Short: "Classify a JSON triage document from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || args[0] == "-" {
				return runClassify(cmd.InOrStdin(), cmd.OutOrStdout())
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return runClassify(f, cmd.OutOrStdout())
		},
	}
	return cmd
}

func runClassify(r io.Reader, w io.Writer) error {
	var a triage.Answers
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return fmt.Errorf("decode triage document: %w", err)
	}
	if err := a.Validate(); err != nil {
		return err
	}
	res, err := triage.NewRuleClassifier().Classify(context.Background(), &a)
	if err != nil {
		return err
	}
	return writeJSON(w, classification{Urgency: res.Urgency, Score: triage.Score(&a), Source: string(res.Source)})
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage staff bearer tokens",
	}
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed staff token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			return runIssueToken(cmd.OutOrStdout(), cfg, subject, roles, ttl)
		},
	}
	issue.Flags().String("subject", "", "Staff member identifier (required)")
	issue.Flags().StringSlice("roles", []string{"staff"}, "Roles to grant")
	issue.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	cmd.AddCommand(issue)
	return cmd
}

func runIssueToken(w io.Writer, cfg *config.Config, subject string, roles []string, ttl time.Duration) error {
	if strings.TrimSpace(subject) == "" {
		return fmt.Errorf("--subject is required")
	}
	if cfg.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is not set")
	}
	token, err := auth.IssueToken(auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: []byte(cfg.AuthSigningKey)}, subject, roles, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect queue events on NATS",
	}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print queue events as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.NATSURL == "" {
				return fmt.Errorf("NATS_URL is not set")
			}
			logger, closer := newLogger(cfg)
			defer closer.Close()

			ncfg := messaging.DefaultConfig()
			ncfg.URL = cfg.NATSURL
			ncfg.Name = "smartslot-events-tail"
			nc, err := messaging.Connect(ncfg, logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			return nc.Subscribe(ctx, strings.TrimSuffix(cfg.NATSSubject, ".")+".>", func(subject string, data []byte) {
				fmt.Fprintf(out, "%s %s\n", subject, data)
			})
		},
	}
	cmd.AddCommand(tail)
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
