package domain

import "fmt"

// The ledger's failure modes are a closed set of typed errors so callers can
// match with errors.As instead of string probing.

// EpochNotOpenError indicates a write that requires an open epoch.
type EpochNotOpenError struct {
	EpochID int64
}

func (e EpochNotOpenError) Error() string {
	return fmt.Sprintf("epoch %d is not open", e.EpochID)
}

// EpochAlreadyClosedError indicates a close attempt on a closed epoch.
type EpochAlreadyClosedError struct {
	EpochID int64
}

func (e EpochAlreadyClosedError) Error() string {
	return fmt.Sprintf("epoch %d already closed", e.EpochID)
}

// PoolComponentMissingError blocks a close until every configured pool
// component has been recorded.
type PoolComponentMissingError struct {
	EpochID     int64
	ComponentID string
}

func (e PoolComponentMissingError) Error() string {
	return fmt.Sprintf("epoch %d missing pool component %s", e.EpochID, e.ComponentID)
}

// IssuerNotAuthorizedError indicates the actor lacks the role an action needs.
type IssuerNotAuthorizedError struct {
	Address      string
	RequiredRole string
}

func (e IssuerNotAuthorizedError) Error() string {
	return fmt.Sprintf("issuer %s lacks required role %s", e.Address, e.RequiredRole)
}

// ReceiptSignatureInvalidError marks a receipt whose signature failed
// verification against its canonical message. Verification itself happens
// outside the ledger; this is the vocabulary verifiers report with.
type ReceiptSignatureInvalidError struct {
	ReceiptID string
	Reason    string
}

func (e ReceiptSignatureInvalidError) Error() string {
	return fmt.Sprintf("receipt %s signature invalid: %s", e.ReceiptID, e.Reason)
}
