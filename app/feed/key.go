package feed

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// SeenKey identifies an item for delivery tracking. The title takes part so
// that unrelated feeds reusing an id or link do not shadow each other.
func SeenKey(item Item) string {
	unique := strings.Join([]string{item.FeedURL, item.ID, item.Link, item.Title}, "\n")
	hash := sha1.Sum([]byte(unique))
	return hex.EncodeToString(hash[:])
}
