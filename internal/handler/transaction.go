package handler

import (
	"sync"

	"redis/internal/protocol"
)

// QueuedCommand is a command deferred by MULTI for later EXEC.
type QueuedCommand struct {
	Name string
	Args []string
}

// Transaction holds the per-connection MULTI/EXEC/DISCARD state. Unlike the
// teacher's Transaction, there is no WatchedKeys/Dirty pair: WATCH/UNWATCH
// are not in the supported command surface, so the optimistic-locking half
// of the teacher's design has nothing to attach to.
type Transaction struct {
	InTransaction bool
	Queue         []QueuedCommand
}

func NewTransaction() *Transaction {
	return &Transaction{Queue: make([]QueuedCommand, 0)}
}

func (t *Transaction) Reset() {
	t.InTransaction = false
	t.Queue = t.Queue[:0]
}

// TransactionManager tracks one Transaction per connection id.
type TransactionManager struct {
	mu           sync.Mutex
	transactions map[int64]*Transaction
}

func NewTransactionManager() *TransactionManager {
	return &TransactionManager{transactions: make(map[int64]*Transaction)}
}

// GetTransaction gets or creates the transaction for connectionID.
func (tm *TransactionManager) GetTransaction(connectionID int64) *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tx, ok := tm.transactions[connectionID]; ok {
		return tx
	}
	tx := NewTransaction()
	tm.transactions[connectionID] = tx
	return tx
}

// RemoveClient drops connectionID's transaction, called on disconnect.
func (tm *TransactionManager) RemoveClient(connectionID int64) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.transactions, connectionID)
}

// IsTransactionCommand reports whether cmd is one of the queue-bypass
// transaction control commands.
func IsTransactionCommand(cmd string) bool {
	switch cmd {
	case "MULTI", "EXEC", "DISCARD":
		return true
	}
	return false
}

func (h *CommandHandler) registerTransactionCommands() {
	h.register("MULTI", 1, 1, true, false, handleMulti)
	h.register("EXEC", 1, 1, true, false, handleExec)
	h.register("DISCARD", 1, 1, true, false, handleDiscard)
}

func handleMulti(h *CommandHandler, connID int64, args []string) []byte {
	tx := h.txManager.GetTransaction(connID)
	tx.InTransaction = true
	tx.Queue = tx.Queue[:0]
	return protocol.EncodeSimpleString("OK")
}

// handleExec runs every queued command in order and collects the replies
// into one array, per §4.4 — a failing command yields an error entry in
// that array without aborting the remaining queue.
func handleExec(h *CommandHandler, connID int64, args []string) []byte {
	tx := h.txManager.GetTransaction(connID)
	if !tx.InTransaction {
		return protocol.EncodeError("ERR EXEC without MULTI")
	}

	queued := tx.Queue
	tx.Reset()

	replies := make([][]byte, 0, len(queued))
	for _, cmd := range queued {
		replies = append(replies, h.executeByName(connID, cmd.Name, cmd.Args))
	}
	return protocol.EncodeRawArray(replies)
}

func handleDiscard(h *CommandHandler, connID int64, args []string) []byte {
	tx := h.txManager.GetTransaction(connID)
	if !tx.InTransaction {
		return protocol.EncodeError("ERR DISCARD without MULTI")
	}
	tx.Reset()
	return protocol.EncodeSimpleString("OK")
}
