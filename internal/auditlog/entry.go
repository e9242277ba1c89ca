package auditlog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the hash of the genesis entry; every chain starts from it.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event describes the terminal outcome of one registration operation.
type Event struct {
	Operation string `json:"operation"` // register, decommission, reset
	Action    string `json:"action"`    // create, update-then-revoke, revoke-only, destroy, reset, none
	NodeName  string `json:"node_name"`
	Certname  string `json:"certname"`
	Actor     string `json:"actor"` // caller login
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
}

// Entry is a single chained audit record.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Event
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// hashEntry computes the SHA-256 over an entry's fields. Never called on the
// genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s|%t|%s|%s",
		e.Index, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Operation, e.Action, e.NodeName, e.Certname, e.Actor,
		e.Success, e.Message, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func genesis(now time.Time) *Entry {
	return &Entry{
		Index:     0,
		Timestamp: now,
		Event:     Event{Operation: "genesis", Actor: "registrar", Success: true},
		PrevHash:  GenesisHash,
		Hash:      GenesisHash,
	}
}

// verifyChain checks link and hash consistency of an ordered entry slice.
func verifyChain(prev, curr *Entry) error {
	if prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
		}
		return nil
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("entry %d has invalid hash", curr.Index)
	}
	return nil
}
