package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/predyx-ai/predyx/pkg/audit"
	"github.com/predyx-ai/predyx/pkg/config"
	"github.com/predyx-ai/predyx/pkg/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the prediction audit log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditShowCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		configPath  string
		queryType   string
		backendName string
		fingerprint string
		outcome     string
		since       string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, cleanup, err := openAuditRecorder(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				QueryType:   queryType,
				Backend:     backendName,
				Fingerprint: fingerprint,
				Outcome:     outcome,
				Limit:       limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			records, err := r.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatAuditRecords(records))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to predyx config file")
	cmd.Flags().StringVar(&queryType, "query-type", "", "filter by query type")
	cmd.Flags().StringVar(&backendName, "backend", "", "filter by backend")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "filter by request fingerprint")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max records to return")

	return cmd
}

func newAuditShowCmd() *cobra.Command {
	var (
		configPath string
		requestID  string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a single audit record by request ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return fmt.Errorf("--request-id is required")
			}

			r, cleanup, err := openAuditRecorder(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := r.Query(context.Background(), models.AuditQueryOpts{
				RequestID: requestID,
				Limit:     1,
			})
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No record found for that request ID.")
				return nil
			}

			rec := records[0]
			fmt.Printf("Request ID:   %s\n", rec.RequestID)
			fmt.Printf("Fingerprint:  %s\n", rec.Fingerprint)
			fmt.Printf("Query Type:   %s\n", rec.QueryType)
			fmt.Printf("Cache Tier:   %s\n", rec.CacheTier)
			fmt.Printf("Backend:      %s\n", rec.Backend)
			fmt.Printf("Route Reason: %s\n", rec.RouteReason)
			fmt.Printf("Verdict:      %s\n", rec.Verdict)
			fmt.Printf("Confidence:   %.2f\n", rec.Confidence)
			fmt.Printf("Anomaly:      %t\n", rec.Anomaly)
			if rec.Severity != "" {
				fmt.Printf("Severity:     %s\n", rec.Severity)
			}
			fmt.Printf("Outcome:      %s\n", rec.Outcome)
			fmt.Printf("Latency:      %dms\n", rec.LatencyMs)
			fmt.Printf("Time:         %s\n", rec.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to predyx config file")
	cmd.Flags().StringVar(&requestID, "request-id", "", "request ID to show")

	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show audit statistics by query type and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, cleanup, err := openAuditRecorder(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := r.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatAuditStats(stats))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to predyx config file")
	return cmd
}

func newAuditCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit records older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, cleanup, err := openAuditRecorder(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := r.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audit records.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to predyx config file")
	return cmd
}

func openAuditRecorder(configPath string) (*audit.Recorder, func(), error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
	}
	auditCfg := cfg.Audit
	if auditCfg.DBPath == "" {
		auditCfg.DBPath = cfg.DBPath
	}

	r, err := audit.New(auditCfg, zap.NewNop())
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return r, func() { _ = r.Close() }, nil
}

func formatAuditRecords(records []models.AuditRecord) string {
	if len(records) == 0 {
		return "No audit records found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-16s %-6s %-18s %-16s %8s %-20s\n",
		"REQUEST ID", "QUERY TYPE", "TIER", "BACKEND", "OUTCOME", "LATENCY", "TIME")
	b.WriteString(strings.Repeat("-", 128) + "\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "%-38s %-16s %-6s %-18s %-16s %6dms %-20s\n",
			rec.RequestID, rec.QueryType, rec.CacheTier, rec.Backend,
			rec.Outcome, rec.LatencyMs,
			rec.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-12s %8s %8s\n", "QUERY TYPE", "DAY", "COUNT", "HITS")
	b.WriteString(strings.Repeat("-", 52) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-20s %-12s %8d %8d\n", s.QueryType, s.Day, s.Count, s.Hits)
	}
	return b.String()
}
