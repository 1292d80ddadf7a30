package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leaseline/outreach/internal/models"
)

// RemoteProposer calls an HTTP extraction endpoint: the request is posted as
// JSON and the response body must be a proposal document. The engine
// validates the proposal after the call, so this type only moves bytes.
type RemoteProposer struct {
	URL    string
	Client *http.Client
}

// NewRemoteProposer builds a proposer for the given endpoint. Extraction can
// be slow, so the default timeout is generous.
func NewRemoteProposer(url string) *RemoteProposer {
	return &RemoteProposer{
		URL:    url,
		Client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *RemoteProposer) Propose(ctx context.Context, req *ProposalRequest) (*models.Proposal, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build proposal request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("proposal endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("proposal endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	var proposal models.Proposal
	if err := json.NewDecoder(resp.Body).Decode(&proposal); err != nil {
		return nil, fmt.Errorf("failed to decode proposal: %w", err)
	}

	return &proposal, nil
}

// NoopProposer returns an empty proposal. With no extraction endpoint
// configured, scanning still matches threads and records messages; it just
// never touches the sheet.
type NoopProposer struct{}

func (NoopProposer) Propose(ctx context.Context, req *ProposalRequest) (*models.Proposal, error) {
	return &models.Proposal{}, nil
}
