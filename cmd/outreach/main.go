package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/leaseline/outreach/internal/config"
	"github.com/leaseline/outreach/internal/crypto"
	"github.com/leaseline/outreach/internal/engine"
	"github.com/leaseline/outreach/internal/mail"
	"github.com/leaseline/outreach/internal/models"
	"github.com/leaseline/outreach/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "outreach",
		Short: "Email outreach pipeline: outbox dispatch, inbox scan, sheet reconciliation",
		Long: `outreach drives one user's email pipeline. Each run drains the outbox,
scans the inbox for replies, matches them to threads, and reconciles
extracted field updates into the client sheet.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(deadLettersCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(mailboxCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads config, opens the pool, and resolves the configured user.
// The caller owns the pool.
func bootstrap(ctx context.Context) (*config.Config, *pgxpool.Pool, string, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.UserEmail == "" {
		return nil, nil, "", fmt.Errorf("OUTREACH_USER_EMAIL is required")
	}

	pool, err := store.NewConnection(ctx, cfg)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}

	userID, err := store.GetOrCreateUser(ctx, pool, cfg.UserEmail)
	if err != nil {
		pool.Close()
		return nil, nil, "", err
	}

	return cfg, pool, userID, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run: drain the outbox, then scan the inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, pool, userID, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer store.CloseConnection(pool)

			keeper, err := crypto.NewKeeper(cfg.EncryptionKeyBase64)
			if err != nil {
				return fmt.Errorf("failed to create keeper: %w", err)
			}

			settings, err := store.GetMailboxSettings(ctx, pool, userID)
			if err != nil {
				return fmt.Errorf("no mailbox configured for %s: %w (run `outreach mailbox set` first)", cfg.UserEmail, err)
			}

			imapPass, err := keeper.Open(settings.EncryptedIMAPPassword)
			if err != nil {
				return fmt.Errorf("failed to open IMAP credential: %w", err)
			}
			smtpPass, err := keeper.Open(settings.EncryptedSMTPPassword)
			if err != nil {
				return fmt.Errorf("failed to open SMTP credential: %w", err)
			}

			gateway := mail.NewGateway(
				settings.IMAPServerHostname, settings.IMAPUsername, imapPass,
				settings.SMTPServerHostname, settings.SMTPUsername, smtpPass,
				settings.FromAddress, cfg.MailTLS,
			)

			var proposer engine.Proposer = engine.NoopProposer{}
			if cfg.ProposerURL != "" {
				proposer = engine.NewRemoteProposer(cfg.ProposerURL)
			} else {
				log.Printf("OUTREACH_PROPOSER_URL not set; scanning without field extraction")
			}

			service := engine.NewService(pool, gateway, proposer, userID,
				time.Duration(cfg.LookbackHours)*time.Hour, cfg.ScanPageSize)

			report, err := service.Run(ctx)
			printReport(report)
			return err
		},
	}
}

func printReport(report *engine.RunReport) {
	if report == nil {
		return
	}

	if d := report.Dispatch; d != nil {
		fmt.Printf("Outbox: %s sent, %s dead-lettered\n",
			color.New(color.FgGreen).Sprintf("%d", len(d.Sent)),
			color.New(color.FgRed).Sprintf("%d", len(d.DeadLettered)))
		for itemID, message := range d.Errors {
			fmt.Printf("  %s %s: %s\n", color.New(color.FgYellow).Sprint("!"), itemID, message)
		}
	}

	if s := report.Scan; s != nil {
		fmt.Printf("Scan: %d scanned, %s processed, %d skipped, %d unroutable, %s failed\n",
			s.Scanned,
			color.New(color.FgGreen).Sprintf("%d", s.Processed),
			s.Skipped, s.Unroutable,
			color.New(color.FgRed).Sprintf("%d", s.Failed))
		if s.Truncated {
			fmt.Println(color.New(color.FgYellow).Sprint("  scan truncated; last-scan timestamp not advanced"))
		}
	}
}

func enqueueCmd() *cobra.Command {
	var clientID string
	var recipients []string
	var script string
	var rowNumber int

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue an outreach message for the next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			_, pool, userID, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer store.CloseConnection(pool)

			item := &models.OutboxItem{
				UserID:     userID,
				ClientID:   clientID,
				Recipients: recipients,
				Script:     script,
			}
			if rowNumber > 0 {
				item.RowNumber = &rowNumber
			}

			if err := store.EnqueueOutboxItem(ctx, pool, item); err != nil {
				return err
			}

			fmt.Printf("%s queued %s for %s\n",
				color.New(color.FgGreen).Sprint("✓"), item.ID, strings.Join(recipients, ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "client the message belongs to")
	cmd.Flags().StringSliceVar(&recipients, "to", nil, "recipient address (repeatable)")
	cmd.Flags().StringVar(&script, "script", "", "message body")
	cmd.Flags().IntVar(&rowNumber, "row", 0, "sheet row the message is about")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("script")

	return cmd
}

func outboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outbox",
		Short: "List pending sends",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			_, pool, userID, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer store.CloseConnection(pool)

			items, err := store.ListPendingOutbox(ctx, pool, userID)
			if err != nil {
				return err
			}

			if len(items) == 0 {
				fmt.Println("Outbox is empty")
				return nil
			}

			for _, item := range items {
				attempts := ""
				if item.Attempts > 0 {
					attempts = color.New(color.FgYellow).Sprintf(" [%d attempts: %s]", item.Attempts, item.LastError)
				}
				fmt.Printf("%s → %s%s\n", item.ID, strings.Join(item.Recipients, ", "), attempts)
			}
			return nil
		},
	}
}

func deadLettersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dead-letters",
		Short: "List sends that exhausted their retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			_, pool, userID, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer store.CloseConnection(pool)

			letters, err := store.ListDeadLetters(ctx, pool, userID)
			if err != nil {
				return err
			}

			if len(letters) == 0 {
				fmt.Println("No dead letters")
				return nil
			}

			for _, letter := range letters {
				fmt.Printf("%s → %s (%d attempts)\n  %s\n",
					letter.OutboxItemID,
					strings.Join(letter.Recipients, ", "),
					letter.Attempts,
					color.New(color.FgRed).Sprint(letter.FailureReason))
			}
			return nil
		},
	}
}

func notificationsCmd() *cobra.Command {
	var clientID string
	var limit int

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List recent notifications for a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			_, pool, userID, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer store.CloseConnection(pool)

			counters, err := store.GetClientCounters(ctx, pool, userID, clientID)
			if err != nil {
				return err
			}
			fmt.Printf("Unread: %s, sheet updates: %d\n",
				color.New(color.FgCyan).Sprintf("%d", counters.Unread), counters.NewUpdateCount)

			notifications, err := store.ListNotifications(ctx, pool, userID, clientID, limit)
			if err != nil {
				return err
			}

			for _, n := range notifications {
				kind := string(n.Kind)
				if n.Priority == models.PriorityImportant {
					kind = color.New(color.FgRed).Sprint(kind)
				}
				fmt.Printf("%s  %s  %s", n.CreatedAt.Format(time.RFC3339), kind, n.Email)
				if n.RowNumber != nil {
					fmt.Printf("  row %d", *n.RowNumber)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "client to inspect")
	cmd.Flags().IntVar(&limit, "limit", 20, "max notifications to show")
	_ = cmd.MarkFlagRequired("client")

	return cmd
}

func mailboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailbox",
		Short: "Manage the user's mail server configuration",
	}
	cmd.AddCommand(mailboxSetCmd())
	return cmd
}

func mailboxSetCmd() *cobra.Command {
	var imapAddr, imapUser, imapPass string
	var smtpAddr, smtpUser, smtpPass string
	var from string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Save mail server settings; credentials are stored encrypted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, pool, userID, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer store.CloseConnection(pool)

			keeper, err := crypto.NewKeeper(cfg.EncryptionKeyBase64)
			if err != nil {
				return fmt.Errorf("failed to create keeper: %w", err)
			}

			settings := &models.MailboxSettings{
				UserID:             userID,
				IMAPServerHostname: imapAddr,
				IMAPUsername:       imapUser,
				SMTPServerHostname: smtpAddr,
				SMTPUsername:       smtpUser,
				FromAddress:        from,
			}

			// Empty passwords keep the stored credentials unchanged.
			if imapPass != "" {
				if settings.EncryptedIMAPPassword, err = keeper.Seal(imapPass); err != nil {
					return fmt.Errorf("failed to seal IMAP credential: %w", err)
				}
			}
			if smtpPass != "" {
				if settings.EncryptedSMTPPassword, err = keeper.Seal(smtpPass); err != nil {
					return fmt.Errorf("failed to seal SMTP credential: %w", err)
				}
			}

			if err := store.SaveMailboxSettings(ctx, pool, settings); err != nil {
				return err
			}

			fmt.Printf("%s mailbox settings saved for %s\n",
				color.New(color.FgGreen).Sprint("✓"), cfg.UserEmail)
			return nil
		},
	}

	cmd.Flags().StringVar(&imapAddr, "imap-addr", "", "IMAP host:port")
	cmd.Flags().StringVar(&imapUser, "imap-user", "", "IMAP username")
	cmd.Flags().StringVar(&imapPass, "imap-pass", "", "IMAP password")
	cmd.Flags().StringVar(&smtpAddr, "smtp-addr", "", "SMTP host:port")
	cmd.Flags().StringVar(&smtpUser, "smtp-user", "", "SMTP username")
	cmd.Flags().StringVar(&smtpPass, "smtp-pass", "", "SMTP password")
	cmd.Flags().StringVar(&from, "from", "", "From address for outbound mail")
	_ = cmd.MarkFlagRequired("imap-addr")
	_ = cmd.MarkFlagRequired("smtp-addr")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}
