package store

import "encoding/base64"

// EncodeMessageKey encodes a raw message id into a key that is safe to use as
// a primary-key component regardless of the characters the provider puts in
// its ids. Unpadded base64url, so the same id always encodes the same way.
func EncodeMessageKey(messageID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(messageID))
}
