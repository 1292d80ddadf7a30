package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/models"
)

// ErrSettingsNotFound is returned when a user has no mailbox settings yet.
var ErrSettingsNotFound = errors.New("mailbox settings not found")

// GetOrCreateUser returns the user's id for the given email.
// If no user exists with that email, it creates a new one.
func GetOrCreateUser(ctx context.Context, pool *pgxpool.Pool, email string) (string, error) {
	var userID string

	err := pool.QueryRow(ctx, `
		INSERT INTO users (email)
		VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, email).Scan(&userID)

	if err != nil {
		return "", fmt.Errorf("failed to get or create user: %w", err)
	}

	return userID, nil
}

// SaveMailboxSettings saves or updates the mail server configuration for a user.
func SaveMailboxSettings(ctx context.Context, pool *pgxpool.Pool, s *models.MailboxSettings) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO mailbox_settings (
			user_id,
			imap_server_hostname,
			imap_username,
			encrypted_imap_password,
			smtp_server_hostname,
			smtp_username,
			encrypted_smtp_password,
			from_address
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			imap_server_hostname = EXCLUDED.imap_server_hostname,
			imap_username = EXCLUDED.imap_username,
			encrypted_imap_password = COALESCE(EXCLUDED.encrypted_imap_password, mailbox_settings.encrypted_imap_password),
			smtp_server_hostname = EXCLUDED.smtp_server_hostname,
			smtp_username = EXCLUDED.smtp_username,
			encrypted_smtp_password = COALESCE(EXCLUDED.encrypted_smtp_password, mailbox_settings.encrypted_smtp_password),
			from_address = EXCLUDED.from_address,
			updated_at = now()
	`,
		s.UserID,
		s.IMAPServerHostname,
		s.IMAPUsername,
		s.EncryptedIMAPPassword,
		s.SMTPServerHostname,
		s.SMTPUsername,
		s.EncryptedSMTPPassword,
		s.FromAddress,
	)

	if err != nil {
		return fmt.Errorf("failed to save mailbox settings: %w", err)
	}

	return nil
}

// GetMailboxSettings returns the mail server configuration for a user.
func GetMailboxSettings(ctx context.Context, pool *pgxpool.Pool, userID string) (*models.MailboxSettings, error) {
	var s models.MailboxSettings

	err := pool.QueryRow(ctx, `
		SELECT user_id, imap_server_hostname, imap_username, encrypted_imap_password,
		       smtp_server_hostname, smtp_username, encrypted_smtp_password,
		       from_address, created_at, updated_at
		FROM mailbox_settings
		WHERE user_id = $1
	`, userID).Scan(
		&s.UserID,
		&s.IMAPServerHostname,
		&s.IMAPUsername,
		&s.EncryptedIMAPPassword,
		&s.SMTPServerHostname,
		&s.SMTPUsername,
		&s.EncryptedSMTPPassword,
		&s.FromAddress,
		&s.CreatedAt,
		&s.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox settings: %w", err)
	}

	return &s, nil
}
