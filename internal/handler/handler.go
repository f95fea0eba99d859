package handler

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"redis/internal/protocol"
	"redis/internal/replication"
	"redis/internal/storage"
)

// HandlerFunc implements one command. args excludes the command name
// itself; the name has already been upper-cased by the dispatcher.
type HandlerFunc func(h *CommandHandler, connID int64, args []string) []byte

// commandEntry carries everything the dispatcher needs to know about a
// command without inspecting its handler: arity, queue-bypass, and
// write-propagation eligibility, grounded on the teacher's writeCommands
// set (command_utils.go) generalized into per-entry metadata.
type commandEntry struct {
	// minArgs is the minimum argument count (including the command name
	// itself, to match Redis's own arity convention).
	minArgs int
	// maxArgs caps argument count; 0 means unbounded.
	maxArgs       int
	bypassesQueue bool
	isWrite       bool
	fn            HandlerFunc
}

// DispatchResult is what Dispatch returns to the ConnectionLoop: the reply
// bytes to write, plus whether this command just turned the connection
// into a replica stream (PSYNC) the connection loop must now hand off to
// the ack-reading path instead of ordinary command dispatch.
type DispatchResult struct {
	Response         []byte
	PromoteToReplica bool
	FullResyncOffset int64
}

// CommandHandler owns the command table and the shared components every
// handler needs: the store, the waiter registry, per-connection
// transaction state, and (on the master) the replica registry used for
// write propagation.
type CommandHandler struct {
	store     *storage.Store
	waiters   *WaiterRegistry
	txManager *TransactionManager
	slowLog   *SlowLog
	commands  map[string]*commandEntry

	replicas   *replication.ReplicaRegistry // nil if this server has no role as master yet
	masterLink *replication.MasterLink      // set via SetMasterLink when this server is a replica
	isMaster   func() bool

	infoGroup singleflight.Group

	logger *zap.Logger
}

func NewCommandHandler(store *storage.Store, replicas *replication.ReplicaRegistry, isMaster func() bool, slowThreshold time.Duration, logger *zap.Logger) *CommandHandler {
	h := &CommandHandler{
		store:     store,
		waiters:   NewWaiterRegistry(),
		txManager: NewTransactionManager(),
		slowLog:   NewSlowLog(128, slowThreshold),
		replicas:  replicas,
		isMaster:  isMaster,
		logger:    logger.Named("dispatch"),
	}
	h.slowLog.SetLogger(logger)
	h.registerCommands()
	return h
}

// SetMasterLink wires the replica-side link this handler reports identity
// through for INFO replication — called by the server after constructing
// both, since MasterLink itself is built after the handler to avoid an
// import cycle (see ApplyFunc).
func (h *CommandHandler) SetMasterLink(link *replication.MasterLink) {
	h.masterLink = link
}

func (h *CommandHandler) Store() *storage.Store        { return h.store }
func (h *CommandHandler) Waiters() *WaiterRegistry     { return h.waiters }
func (h *CommandHandler) TxManager() *TransactionManager { return h.txManager }

func (h *CommandHandler) registerCommands() {
	h.commands = make(map[string]*commandEntry)

	h.registerStringCommands()
	h.registerListCommands()
	h.registerStreamCommands()
	h.registerTransactionCommands()
	h.registerReplicationCommands()
}

func (h *CommandHandler) register(name string, minArgs, maxArgs int, bypassesQueue, isWrite bool, fn HandlerFunc) {
	h.commands[name] = &commandEntry{
		minArgs:       minArgs,
		maxArgs:       maxArgs,
		bypassesQueue: bypassesQueue,
		isWrite:       isWrite,
		fn:            fn,
	}
}

// IsWriteCommand reports whether name is flagged for replica propagation.
// A method backed by the dispatch table, replacing the teacher's
// package-level function over a second hand-kept set in command_utils.go.
func (h *CommandHandler) IsWriteCommand(name string) bool {
	entry, ok := h.commands[strings.ToUpper(name)]
	return ok && entry.isWrite
}

// Dispatch runs one client-facing command for connID, honoring the
// transaction queue-bypass rule and, when this server is master, the
// write-propagation rule. args includes the command name at args[0].
func (h *CommandHandler) Dispatch(connID int64, args []string) DispatchResult {
	if len(args) == 0 {
		return DispatchResult{Response: protocol.EncodeError("ERR empty command")}
	}

	name := strings.ToUpper(args[0])
	entry, ok := h.commands[name]
	if !ok {
		return DispatchResult{Response: protocol.EncodeError("ERR unknown command '" + args[0] + "'")}
	}
	if !arityOK(entry, len(args)) {
		return DispatchResult{Response: protocol.EncodeError("ERR wrong number of arguments for '" + strings.ToLower(args[0]) + "' command")}
	}

	tx := h.txManager.GetTransaction(connID)
	if tx.InTransaction && !entry.bypassesQueue {
		tx.Queue = append(tx.Queue, QueuedCommand{Name: name, Args: args[1:]})
		return DispatchResult{Response: protocol.EncodeSimpleString("QUEUED")}
	}

	return h.execute(connID, name, entry, args[1:])
}

func (h *CommandHandler) execute(connID int64, name string, entry *commandEntry, args []string) DispatchResult {
	started := time.Now()
	resp := entry.fn(h, connID, args)
	h.slowLog.LogIfSlow(connID, name, args, time.Since(started))

	if h.isMaster != nil && h.isMaster() && entry.isWrite && h.replicas != nil {
		h.replicas.Propagate(replication.EncodePropagationFrame(name, args))
	}

	result := DispatchResult{Response: resp}
	if name == "PSYNC" && h.replicas != nil {
		result.PromoteToReplica = true
		result.FullResyncOffset = h.replicas.MasterOffset()
	}
	return result
}

// executeByName looks up and runs name directly, bypassing the queue check
// — used by EXEC to run its queued commands.
func (h *CommandHandler) executeByName(connID int64, name string, args []string) []byte {
	entry, ok := h.commands[name]
	if !ok {
		return protocol.EncodeError("ERR unknown command '" + name + "'")
	}
	return h.execute(connID, name, entry, args).Response
}

// SilentDispatch runs a command received over the replication stream with
// no reply, for MasterLink's command-application path. Propagation never
// triggers here, since replicas aren't master.
func (h *CommandHandler) SilentDispatch(connID int64, args []string) {
	if len(args) == 0 {
		return
	}
	name := strings.ToUpper(args[0])
	entry, ok := h.commands[name]
	if !ok {
		h.logger.Warn("unknown command from master", zap.String("command", name))
		return
	}
	entry.fn(h, connID, args[1:])
}

func arityOK(entry *commandEntry, n int) bool {
	if n < entry.minArgs {
		return false
	}
	if entry.maxArgs > 0 && n > entry.maxArgs {
		return false
	}
	return true
}

// RemoveConnection cleans up a disconnecting client's transaction state.
func (h *CommandHandler) RemoveConnection(connID int64) {
	h.txManager.RemoveClient(connID)
}
