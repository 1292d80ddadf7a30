package store

import (
	"context"
	"errors"
	"testing"

	"github.com/leaseline/outreach/internal/models"
	"github.com/leaseline/outreach/internal/testutil"
)

func TestGetOrCreateUser(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	first, err := GetOrCreateUser(ctx, pool, "owner@outreach.test")
	if err != nil {
		t.Fatalf("GetOrCreateUser failed: %v", err)
	}
	if first == "" {
		t.Fatal("Expected a user id")
	}

	second, err := GetOrCreateUser(ctx, pool, "owner@outreach.test")
	if err != nil {
		t.Fatalf("GetOrCreateUser failed: %v", err)
	}
	if second != first {
		t.Errorf("Expected the same id for the same email, got %s and %s", first, second)
	}
}

func TestMailboxSettingsRoundTrip(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	keeper := testutil.GetTestKeeper(t)

	userID, err := GetOrCreateUser(ctx, pool, "owner@outreach.test")
	if err != nil {
		t.Fatalf("GetOrCreateUser failed: %v", err)
	}

	if _, err := GetMailboxSettings(ctx, pool, userID); !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("Expected ErrSettingsNotFound before setup, got %v", err)
	}

	sealedIMAP, err := keeper.Seal("imap-secret")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	sealedSMTP, err := keeper.Seal("smtp-secret")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	settings := &models.MailboxSettings{
		UserID:                userID,
		IMAPServerHostname:    "imap.example.com:993",
		IMAPUsername:          "owner",
		EncryptedIMAPPassword: sealedIMAP,
		SMTPServerHostname:    "smtp.example.com:587",
		SMTPUsername:          "owner",
		EncryptedSMTPPassword: sealedSMTP,
		FromAddress:           "owner@outreach.test",
	}
	if err := SaveMailboxSettings(ctx, pool, settings); err != nil {
		t.Fatalf("SaveMailboxSettings failed: %v", err)
	}

	retrieved, err := GetMailboxSettings(ctx, pool, userID)
	if err != nil {
		t.Fatalf("GetMailboxSettings failed: %v", err)
	}
	if retrieved.IMAPServerHostname != "imap.example.com:993" {
		t.Errorf("Unexpected IMAP hostname: %s", retrieved.IMAPServerHostname)
	}

	imapPass, err := keeper.Open(retrieved.EncryptedIMAPPassword)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if imapPass != "imap-secret" {
		t.Errorf("Expected imap-secret, got %s", imapPass)
	}

	t.Run("re-save without passwords keeps stored credentials", func(t *testing.T) {
		update := &models.MailboxSettings{
			UserID:             userID,
			IMAPServerHostname: "imap2.example.com:993",
			IMAPUsername:       "owner",
			SMTPServerHostname: "smtp.example.com:587",
			SMTPUsername:       "owner",
			FromAddress:        "owner@outreach.test",
		}
		if err := SaveMailboxSettings(ctx, pool, update); err != nil {
			t.Fatalf("SaveMailboxSettings failed: %v", err)
		}

		retrieved, err := GetMailboxSettings(ctx, pool, userID)
		if err != nil {
			t.Fatalf("GetMailboxSettings failed: %v", err)
		}
		if retrieved.IMAPServerHostname != "imap2.example.com:993" {
			t.Errorf("Expected updated hostname, got %s", retrieved.IMAPServerHostname)
		}

		smtpPass, err := keeper.Open(retrieved.EncryptedSMTPPassword)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if smtpPass != "smtp-secret" {
			t.Errorf("Expected smtp-secret to survive the update, got %s", smtpPass)
		}
	})
}
