package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailsync/internal/cache"
	"mailsync/internal/config"
	"mailsync/internal/email"
	"mailsync/internal/smtp"
)

func newSendCmd() *cobra.Command {
	var to string
	var cc string
	var bcc string
	var subject string
	var body string
	var bodyFile string
	var attachments []string
	var replyUID string
	var replyFolder string
	var replyAll bool

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an email or reply to a cached message",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.ValidateSMTP(cfg); err != nil {
				return err
			}

			content, err := loadBody(body, bodyFile)
			if err != nil {
				return err
			}

			c := email.Compose{
				From:    cfg.Auth.Username,
				Subject: subject,
				Body:    content,
			}
			if replyUID != "" {
				uid, err := parseUID(replyUID)
				if err != nil {
					return err
				}
				store, err := cache.NewSQLiteStore(cfg.Sync.CachePath)
				if err != nil {
					return fmt.Errorf("opening cache: %w", err)
				}
				entry, err := store.Get(ctx, cfg.Auth.Username, replyFolder, uid)
				_ = store.Close()
				if err != nil {
					return err
				}
				if entry == nil {
					return fmt.Errorf("message %d not cached in %s; run mailsync sync first", uid, replyFolder)
				}
				c = email.Reply(entry.Message, cfg.Auth.Username, content, replyAll)
				if subject != "" {
					c.Subject = subject
				}
			}
			c.To = append(c.To, splitList(to)...)
			c.Cc = append(c.Cc, splitList(cc)...)
			c.Bcc = splitList(bcc)
			c.Attachments = attachments

			recipients := email.Recipients(c)
			if len(recipients) == 0 {
				return fmt.Errorf("at least one recipient is required")
			}

			msg, err := email.Build(c)
			if err != nil {
				return err
			}

			log := newLogger(cmd.ErrOrStderr(), cfg.Log.Level)
			auth := smtp.Auth{Username: cfg.Auth.Username, Password: cfg.Auth.Password}
			if err := smtp.Send(ctx, cfg.SMTPParams(), auth, c.From, recipients, msg, smtp.WithLogger(log)); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sent to %d recipient(s).\n", len(recipients))
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Comma-separated recipients")
	cmd.Flags().StringVar(&cc, "cc", "", "Comma-separated CC recipients")
	cmd.Flags().StringVar(&bcc, "bcc", "", "Comma-separated BCC recipients")
	cmd.Flags().StringVar(&subject, "subject", "", "Message subject")
	cmd.Flags().StringVar(&body, "body", "", "Message body")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "Path to file containing message body")
	cmd.Flags().StringSliceVar(&attachments, "attachment", nil, "Attachment file paths (repeatable)")
	cmd.Flags().StringVar(&replyUID, "reply-uid", "", "UID of the cached message to reply to")
	cmd.Flags().StringVar(&replyFolder, "reply-folder", "INBOX", "Folder of the message to reply to")
	cmd.Flags().BoolVar(&replyAll, "reply-all", false, "Reply to all original recipients")

	return cmd
}
