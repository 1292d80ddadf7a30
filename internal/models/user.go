package models

import "time"

// User owns one mailbox and one set of client sheets.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client is one outreach client of a user. Counters for the notification
// ledger live on this record.
type Client struct {
	ID                      string     `json:"id"`
	UserID                  string     `json:"user_id"`
	Name                    string     `json:"name"`
	LastNotificationSummary string     `json:"last_notification_summary,omitempty"`
	LastNotificationAt      *time.Time `json:"last_notification_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
}

// MailboxSettings holds a user's mail server configuration and encrypted
// credentials.
type MailboxSettings struct {
	UserID                string    `json:"user_id"`
	IMAPServerHostname    string    `json:"imap_server_hostname"`
	IMAPUsername          string    `json:"imap_username"`
	EncryptedIMAPPassword []byte    `json:"-"`
	SMTPServerHostname    string    `json:"smtp_server_hostname"`
	SMTPUsername          string    `json:"smtp_username"`
	EncryptedSMTPPassword []byte    `json:"-"`
	FromAddress           string    `json:"from_address"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}
