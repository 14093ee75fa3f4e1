// Package signing builds the canonical, domain-bound message an external
// signer (wallet, HSM) signs for a receipt. The ledger never holds keys and
// never verifies signatures; it only defines the exact bytes both sides hash.
package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Context binds every signable message to one deployment so a signature
// collected in one environment cannot be replayed in another.
type Context struct {
	ChainID     string `json:"chain_id"`
	AppDomain   string `json:"app_domain"`
	SpecVersion string `json:"spec_version"`
}

// MessageFields are the receipt attributes embedded in the signed message.
type MessageFields struct {
	EpochID        string
	UserID         string
	WorkItemID     string
	Role           string
	ValuationUnits string
	ArtifactRef    string
	RationaleRef   string
}

// BuildReceiptMessage renders the canonical six-line message. The format is a
// cross-system contract: changing it requires a SpecVersion bump, since every
// verifier must reconstruct these bytes exactly.
func BuildReceiptMessage(ctx Context, f MessageFields) string {
	lines := []string{
		ctx.AppDomain + ":" + ctx.SpecVersion + ":" + ctx.ChainID,
		"epoch:" + f.EpochID,
		"receipt:" + f.UserID + ":" + f.WorkItemID + ":" + f.Role,
		"units:" + f.ValuationUnits,
		"artifact:" + f.ArtifactRef,
		"rationale:" + f.RationaleRef,
	}
	return strings.Join(lines, "\n")
}

// HashReceiptMessage returns the lowercase hex SHA-256 of the message bytes.
func HashReceiptMessage(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}
