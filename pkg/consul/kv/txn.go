package kv

import (
	"fmt"
	"strings"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
)

// TxnVerb is a transaction operation on a single key.
type TxnVerb string

const (
	VerbSet            TxnVerb = "set"
	VerbCAS            TxnVerb = "cas"
	VerbLock           TxnVerb = "lock"
	VerbUnlock         TxnVerb = "unlock"
	VerbGet            TxnVerb = "get"
	VerbGetTree        TxnVerb = "get-tree"
	VerbCheckIndex     TxnVerb = "check-index"
	VerbCheckSession   TxnVerb = "check-session"
	VerbCheckNotExists TxnVerb = "check-not-exists"
	VerbDelete         TxnVerb = "delete"
	VerbDeleteTree     TxnVerb = "delete-tree"
	VerbDeleteCAS      TxnVerb = "delete-cas"
)

// TxnOp is one operation of a transaction. Which fields matter depends on
// Verb: Index for the cas and check-index verbs, Session for lock, unlock
// and check-session.
type TxnOp struct {
	Verb    TxnVerb
	Key     string
	Value   string
	Flags   uint64
	Index   uint64
	Session string
}

type wireTxnOp struct {
	KV wireTxnKV `json:"KV"`
}

type wireTxnKV struct {
	Verb    TxnVerb `json:"Verb"`
	Key     string  `json:"Key"`
	Value   []byte  `json:"Value,omitempty"`
	Flags   uint64  `json:"Flags,omitempty"`
	Index   uint64  `json:"Index,omitempty"`
	Session string  `json:"Session,omitempty"`
}

func (op TxnOp) wire() wireTxnOp {
	kv := wireTxnKV{
		Verb:    op.Verb,
		Key:     op.Key,
		Flags:   op.Flags,
		Index:   op.Index,
		Session: op.Session,
	}
	if op.Value != "" {
		kv.Value = []byte(op.Value)
	}
	return wireTxnOp{KV: kv}
}

type wireTxnResult struct {
	Results []struct {
		KV *wireKeyValue `json:"KV"`
	} `json:"Results"`
	Errors []TxnOpError `json:"Errors"`
}

// TxnOpError names the operation that made a transaction roll back.
type TxnOpError struct {
	OpIndex int    `json:"OpIndex"`
	What    string `json:"What"`
}

// TxnError is a rolled back transaction.
type TxnError struct {
	Errors []TxnOpError
}

func (e *TxnError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, oe := range e.Errors {
		parts = append(parts, fmt.Sprintf("op %d: %s", oe.OpIndex, oe.What))
	}
	return fmt.Sprintf("%s: transaction rolled back: %s", consul.ErrUpdate, strings.Join(parts, "; "))
}

// Is reports whether target is consul.ErrUpdate.
func (e *TxnError) Is(target error) bool { return target == consul.ErrUpdate }
