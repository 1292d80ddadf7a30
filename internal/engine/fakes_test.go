package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/leaseline/outreach/internal/mail"
	"github.com/leaseline/outreach/internal/models"
)

// fakeProvider serves an in-memory mailbox, newest first, and fabricates
// draft identifiers the way a real provider would.
type fakeProvider struct {
	mu sync.Mutex

	inbound []*mail.InboundMessage
	drafts  map[string]*mail.DraftInfo
	bodies  map[string]string
	sent    []string

	pageCalls      int
	createFailures int
	sendFailures   int
	seq            int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		drafts: make(map[string]*mail.DraftInfo),
		bodies: make(map[string]string),
	}
}

func (f *fakeProvider) addInbound(msg *mail.InboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Prepend: the newest message comes first.
	f.inbound = append([]*mail.InboundMessage{msg}, f.inbound...)
}

func (f *fakeProvider) ListInbound(_ context.Context, pageToken string, pageSize int) ([]*mail.InboundMessage, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pageCalls++

	start := 0
	if pageToken != "" {
		var err error
		if start, err = strconv.Atoi(pageToken); err != nil {
			return nil, "", err
		}
	}
	if start >= len(f.inbound) {
		return nil, "", nil
	}

	end := start + pageSize
	if end > len(f.inbound) {
		end = len(f.inbound)
	}

	next := ""
	if end < len(f.inbound) {
		next = strconv.Itoa(end)
	}

	return f.inbound[start:end], next, nil
}

func (f *fakeProvider) CreateDraft(_ context.Context, draft *mail.Draft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createFailures > 0 {
		f.createFailures--
		return "", fmt.Errorf("provider unavailable")
	}

	f.seq++
	draftID := fmt.Sprintf("draft-%d", f.seq)
	messageID := fmt.Sprintf("<out-%d@provider.test>", f.seq)

	conversationID := messageID
	if len(draft.References) > 0 {
		conversationID = draft.References[0]
	}

	f.drafts[draftID] = &mail.DraftInfo{
		DraftID:        draftID,
		MessageID:      messageID,
		ConversationID: conversationID,
		Subject:        draft.Subject,
	}
	f.bodies[draftID] = draft.Body

	return draftID, nil
}

func (f *fakeProvider) DraftIdentifiers(_ context.Context, draftID string) (*mail.DraftInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, ok := f.drafts[draftID]
	if !ok {
		return nil, fmt.Errorf("unknown draft %s", draftID)
	}
	copied := *info
	return &copied, nil
}

func (f *fakeProvider) SendDraft(_ context.Context, draftID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendFailures > 0 {
		f.sendFailures--
		return fmt.Errorf("smtp connection refused")
	}

	if _, ok := f.drafts[draftID]; !ok {
		return fmt.Errorf("unknown draft %s", draftID)
	}
	f.sent = append(f.sent, draftID)
	return nil
}

func (f *fakeProvider) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeProvider) lastSentInfo() *mail.DraftInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	info := *f.drafts[f.sent[len(f.sent)-1]]
	return &info
}

func (f *fakeProvider) lastSentBody() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.bodies[f.sent[len(f.sent)-1]]
}

// fakeProposer replays a fixed proposal and records every request it sees.
type fakeProposer struct {
	mu       sync.Mutex
	proposal *models.Proposal
	err      error
	requests []*ProposalRequest
}

func (f *fakeProposer) Propose(_ context.Context, req *ProposalRequest) (*models.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.proposal == nil {
		return &models.Proposal{}, nil
	}
	return f.proposal, nil
}

func (f *fakeProposer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
