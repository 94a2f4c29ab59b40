package types

import (
	"context"
	"strings"
	"time"
)

// Standard document collections.
const (
	CollectionProgress    = "progress"
	CollectionBalances    = "balances"
	CollectionVaults      = "vaults"
	CollectionInventories = "inventories"
	CollectionReceipts    = "receipts"
	CollectionAnomalies   = "anomalies"
	CollectionLobbies     = "lobbies"
)

// StandardCollections lists all collections for enumeration (export, import).
var StandardCollections = []string{
	CollectionProgress,
	CollectionBalances,
	CollectionVaults,
	CollectionInventories,
	CollectionReceipts,
	CollectionAnomalies,
	CollectionLobbies,
}

// DocRef addresses one document.
type DocRef struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

func (r DocRef) String() string { return r.Collection + "/" + r.ID }

// Validate rejects references with an empty collection or id.
func (r DocRef) Validate() error {
	if strings.TrimSpace(r.Collection) == "" || strings.TrimSpace(r.ID) == "" {
		return ErrInvalidRef
	}
	return nil
}

// Reference helpers for the standard collections.
func ProgressRef(userID string) DocRef  { return DocRef{CollectionProgress, userID} }
func BalanceRef(userID string) DocRef   { return DocRef{CollectionBalances, userID} }
func VaultRef(userID string) DocRef     { return DocRef{CollectionVaults, userID} }
func InventoryRef(userID string) DocRef { return DocRef{CollectionInventories, userID} }
func LobbyRef(lobbyID string) DocRef    { return DocRef{CollectionLobbies, lobbyID} }

// ReceiptRef is keyed by the idempotency key (userID, challengeID).
func ReceiptRef(userID, challengeID string) DocRef {
	return DocRef{CollectionReceipts, userID + ":" + challengeID}
}

// AnomalyRef shares the receipt key so one grant flags at most once.
func AnomalyRef(userID, challengeID string) DocRef {
	return DocRef{CollectionAnomalies, userID + ":" + challengeID}
}

// Document is a stored JSON body with its optimistic-concurrency version.
type Document struct {
	Ref       DocRef    `json:"ref"`
	Version   int64     `json:"version"`
	Body      []byte    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tx is one optimistic transaction attempt. Reads join the read set; writes
// are buffered and applied all-or-nothing at commit. Get observes the
// transaction's own buffered writes.
type Tx interface {
	// Get decodes the document into dst. Returns false when it does not exist.
	Get(ref DocRef, dst any) (bool, error)

	// Set creates or replaces the document at commit.
	Set(ref DocRef, value any) error

	// Delete removes the document at commit. Deleting a missing document is a no-op.
	Delete(ref DocRef) error
}

// DocumentStore is the storage transaction primitive every engine component
// builds on.
type DocumentStore interface {
	// RunTx runs fn against a fresh Tx and commits its writes. If any document
	// read by fn changed before commit, nothing is written and an error
	// carrying CodeConflict is returned. RunTx never retries; see txn.Run.
	RunTx(ctx context.Context, fn func(tx Tx) error) error

	// Get reads one committed document outside any transaction.
	Get(ctx context.Context, ref DocRef, dst any) (bool, error)

	// List returns every committed document in a collection ordered by id.
	List(ctx context.Context, collection string) ([]Document, error)

	// Detach releases backend resources. Idempotent.
	Detach() error
}
