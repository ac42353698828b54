package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"redmansion/internal/credentials"
	"redmansion/internal/models"
	"redmansion/internal/security"
	"redmansion/internal/service"
)

var (
	userName      string
	tokenTTL      time.Duration
	awardAmount   int
	awardSource   string
	awardSourceID string
	awardReason   string
	gcRetention   time.Duration
	backupOutput  string
	backupInput   string
)

func registerCommands(root *cobra.Command) {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Migrations already ran while opening the database
			fmt.Println("Migrations completed successfully")
			return nil
		},
	}

	userCmd := &cobra.Command{Use: "user", Short: "Manage readers"}
	userCreateCmd := &cobra.Command{
		Use:   "create [id]",
		Short: "Create a reader (a UUID is generated when id is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runUserCreate,
	}
	userCreateCmd.Flags().StringVar(&userName, "name", "", "Display name (generated when empty)")
	userShowCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a reader's level, XP and recent transactions",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserShow,
	}
	userCmd.AddCommand(userCreateCmd, userShowCmd)

	tokenCmd := &cobra.Command{Use: "token", Short: "Bearer tokens for the HTTP API"}
	tokenIssueCmd := &cobra.Command{
		Use:   "issue <userId>",
		Short: "Issue a signed access token",
		Args:  cobra.ExactArgs(1),
		RunE:  runTokenIssue,
	}
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.AddCommand(tokenIssueCmd)

	awardCmd := &cobra.Command{
		Use:   "award <userId>",
		Short: "Grant XP once for a source id",
		Args:  cobra.ExactArgs(1),
		RunE:  runAward,
	}
	awardCmd.Flags().IntVar(&awardAmount, "amount", 0, "XP to grant")
	awardCmd.Flags().StringVar(&awardSource, "source", string(models.SourceAdmin), "Source tag")
	awardCmd.Flags().StringVar(&awardSourceID, "source-id", "", "Idempotency key, e.g. chapter-3")
	awardCmd.Flags().StringVar(&awardReason, "reason", "manual grant", "Reason shown in the ledger")
	_ = awardCmd.MarkFlagRequired("source-id")

	locksCmd := &cobra.Command{Use: "locks", Short: "Maintain XP locks"}
	locksGCCmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete locks older than the retention window",
		RunE:  runLocksGC,
	}
	locksGCCmd.Flags().DurationVar(&gcRetention, "retention", 0, "Retention window (default LOCK_RETENTION)")
	locksCmd.AddCommand(locksGCCmd)

	progressCmd := &cobra.Command{Use: "progress", Short: "Daily task progress"}
	progressResetCmd := &cobra.Command{
		Use:   "reset <userId>",
		Short: "Delete all progress of a guest account",
		Args:  cobra.ExactArgs(1),
		RunE:  runProgressReset,
	}
	progressCmd.AddCommand(progressResetCmd)

	backupCmd := &cobra.Command{Use: "backup", Short: "Export or restore the ledger"}
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export users, ledger and progress to JSON",
		RunE:  runExport,
	}
	exportCmd.Flags().StringVar(&backupOutput, "output", "", "Output file path (default: backup_YYYYMMDD_HHMMSS.json)")
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Restore a JSON backup into an empty database",
		RunE:  runImport,
	}
	importCmd.Flags().StringVar(&backupInput, "input", "", "Input file path")
	_ = importCmd.MarkFlagRequired("input")
	backupCmd.AddCommand(exportCmd, importCmd)

	root.AddCommand(migrateCmd, userCmd, tokenCmd, awardCmd, locksCmd, progressCmd, backupCmd)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	id := ""
	if len(args) == 1 {
		id = args[0]
	}
	name := userName
	if name == "" {
		generated, err := credentials.GenerateDisplayName()
		if err != nil {
			return fmt.Errorf("failed to generate display name: %w", err)
		}
		name = generated
	}
	user, err := a.users.CreateUser(cmd.Context(), id, name)
	if err != nil {
		return err
	}
	return printJSON(user)
}

func runUserShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	user, err := a.ledger.GetUser(ctx, args[0])
	if err != nil {
		return err
	}
	level, err := a.ledger.GetLevelInfo(ctx, args[0])
	if err != nil {
		return err
	}
	txns, err := a.ledger.ListTransactions(ctx, args[0], 10)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"user":         user,
		"level":        level,
		"transactions": txns,
	})
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	tokens, err := security.NewTokenManager(a.cfg.JWTSecret)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(args[0], tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runAward(cmd *cobra.Command, args []string) error {
	result, err := a.ledger.AwardXP(cmd.Context(), service.AwardRequest{
		UserID:   args[0],
		Amount:   awardAmount,
		Reason:   awardReason,
		Source:   models.XPSource(awardSource),
		SourceID: awardSourceID,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runLocksGC(cmd *cobra.Command, args []string) error {
	retention := gcRetention
	if retention <= 0 {
		retention = a.cfg.LockRetention
	}
	n, err := a.ledger.PurgeExpiredLocks(cmd.Context(), retention)
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d locks older than %s\n", n, retention)
	return nil
}

func runProgressReset(cmd *cobra.Command, args []string) error {
	n, err := a.tracker.ResetProgress(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d progress rows of %s\n", n, args[0])
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	outputPath := backupOutput
	// Generate default filename if not provided
	if outputPath == "" {
		outputPath = fmt.Sprintf("backup_%s.json", time.Now().Format("20060102_150405"))
	}

	// Ensure directory exists
	if dir := filepath.Dir(outputPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	if err := a.backup.Export(cmd.Context(), outputPath); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	fileInfo, err := os.Stat(outputPath)
	if err != nil {
		return err
	}
	fmt.Printf("Export complete: %s (%.2f MB)\n", outputPath, float64(fileInfo.Size())/1024/1024)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(backupInput); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", backupInput)
	}
	if err := a.backup.Import(cmd.Context(), backupInput); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	fmt.Println("Import complete")
	return nil
}
