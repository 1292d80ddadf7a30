package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/mail"
	"github.com/leaseline/outreach/internal/store"
)

// After the first already-processed hit, the scan may look at this many
// further messages before stopping. Tolerates out-of-order delivery near the
// boundary without re-walking the full history.
const peekLimit = 3

// ScanStats summarizes one inbox pass.
type ScanStats struct {
	Scanned    int
	Processed  int
	Skipped    int
	Unroutable int
	Failed     int
	Truncated  bool
}

// Scanner walks a bounded window of inbound messages, newest first, and hands
// each unseen one to the processing pipeline at most once.
type Scanner struct {
	Pool     *pgxpool.Pool
	Provider mail.Provider
	Matcher  *Matcher
	UserID   string
	Lookback time.Duration
	PageSize int

	// Process handles one matched message. Its error is logged, never
	// propagated: the message is marked processed regardless. A poisoned
	// message must not block every future run, at the cost of possibly
	// losing one whose failure was transient.
	Process func(ctx context.Context, threadID string, msg *mail.InboundMessage) error

	now func() time.Time
}

// NewScanner builds a Scanner with the given window parameters.
func NewScanner(pool *pgxpool.Pool, provider mail.Provider, matcher *Matcher, userID string, lookback time.Duration, pageSize int) *Scanner {
	return &Scanner{
		Pool:     pool,
		Provider: provider,
		Matcher:  matcher,
		UserID:   userID,
		Lookback: lookback,
		PageSize: pageSize,
		now:      time.Now,
	}
}

// Run executes one scan pass. Pagination stops at the lookback cutoff; a
// stretch of already-processed messages longer than the peek allowance stops
// the scan early (a truncated pass does not update the last-scan timestamp).
func (s *Scanner) Run(ctx context.Context) (*ScanStats, error) {
	cutoff := s.now().Add(-s.Lookback)
	stats := &ScanStats{}

	token := ""
	peeking := false
	peeksLeft := peekLimit

pages:
	for {
		page, next, err := s.Provider.ListInbound(ctx, token, s.PageSize)
		if err != nil {
			return stats, fmt.Errorf("failed to list inbound messages: %w", err)
		}

		for _, msg := range page {
			if msg.ReceivedAt.Before(cutoff) {
				break pages
			}

			if peeking {
				if peeksLeft == 0 {
					stats.Truncated = true
					break pages
				}
				peeksLeft--
			}

			stats.Scanned++

			key := processedKey(msg)
			seen, err := store.HasProcessed(ctx, s.Pool, s.UserID, key)
			if err != nil {
				return stats, err
			}
			if seen {
				stats.Skipped++
				peeking = true
				continue
			}

			s.handle(ctx, msg, key, stats)
		}

		if next == "" {
			break
		}
		token = next
	}

	if !stats.Truncated {
		if err := store.SetLastScan(ctx, s.Pool, s.UserID, s.now()); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// handle runs one message through the pipeline and marks it processed
// unconditionally, even when processing failed.
func (s *Scanner) handle(ctx context.Context, msg *mail.InboundMessage, key string, stats *ScanStats) {
	if err := s.process(ctx, msg, stats); err != nil {
		stats.Failed++
		log.Printf("Failed to process message %s: %v", msg.ProviderID, err)
	}

	if err := store.MarkProcessed(ctx, s.Pool, s.UserID, key); err != nil {
		log.Printf("Failed to mark message %s processed: %v", msg.ProviderID, err)
	}
}

func (s *Scanner) process(ctx context.Context, msg *mail.InboundMessage, stats *ScanStats) error {
	threadID, err := s.Matcher.ResolveThread(ctx, msg.Headers)
	if errors.Is(err, ErrUnroutable) {
		stats.Unroutable++
		log.Printf("Dropping unroutable message %s from %s", msg.ProviderID, msg.From)
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.Matcher.RecordInbound(ctx, threadID, msg); err != nil {
		return err
	}

	stats.Processed++

	if s.Process != nil {
		return s.Process(ctx, threadID, msg)
	}
	return nil
}

// processedKey prefers the provider message id and falls back to the
// provider's internal id so headerless messages still get a stable key.
func processedKey(msg *mail.InboundMessage) string {
	if msg.Headers.MessageID != "" {
		return store.EncodeMessageKey(msg.Headers.MessageID)
	}
	return store.EncodeMessageKey(msg.ProviderID)
}
