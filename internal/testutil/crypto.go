package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/leaseline/outreach/internal/crypto"
)

// GetTestKeeper creates a credential keeper with a deterministic key for
// testing. Shared across test packages to avoid duplication.
func GetTestKeeper(t *testing.T) *crypto.Keeper {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	base64Key := base64.StdEncoding.EncodeToString(key)

	keeper, err := crypto.NewKeeper(base64Key)
	if err != nil {
		t.Fatalf("Failed to create keeper: %v", err)
	}
	return keeper
}
