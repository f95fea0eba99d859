package handler

import (
	"strconv"
	"strings"
	"time"

	"redis/internal/protocol"
	"redis/internal/storage"
)

func (h *CommandHandler) registerStringCommands() {
	h.register("PING", 1, 2, true, false, handlePing)
	h.register("ECHO", 2, 2, true, false, handleEcho)
	h.register("SET", 3, 5, false, true, handleSet)
	h.register("GET", 2, 2, false, false, handleGet)
	h.register("INCR", 2, 2, false, true, handleIncr)
	h.register("TYPE", 2, 2, true, false, handleType)
}

func handlePing(h *CommandHandler, connID int64, args []string) []byte {
	if len(args) > 0 {
		return protocol.EncodeBulkString(args[0])
	}
	return protocol.EncodeSimpleString("PONG")
}

func handleEcho(h *CommandHandler, connID int64, args []string) []byte {
	return protocol.EncodeBulkString(args[0])
}

// handleSet implements SET key value [PX ms], per §4.2's "unconditionally
// overwrite, clear any prior TTL on plain set".
func handleSet(h *CommandHandler, connID int64, args []string) []byte {
	key, value := args[0], args[1]

	if len(args) == 2 {
		h.store.Set(key, value)
		return protocol.EncodeSimpleString("OK")
	}

	if len(args) != 4 || !strings.EqualFold(args[2], "PX") {
		return protocol.EncodeError("ERR syntax error")
	}

	ms, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil || ms <= 0 {
		return protocol.EncodeError("ERR invalid expire time in 'set' command")
	}

	h.store.SetWithTTL(key, value, time.Now().Add(time.Duration(ms)*time.Millisecond))
	return protocol.EncodeSimpleString("OK")
}

func handleGet(h *CommandHandler, connID int64, args []string) []byte {
	value, ok, err := h.store.Get(args[0])
	if err != nil {
		return storeErrorReply(err)
	}
	if !ok {
		return protocol.EncodeNullBulkString()
	}
	return protocol.EncodeBulkString(value)
}

func handleIncr(h *CommandHandler, connID int64, args []string) []byte {
	n, err := h.store.Incr(args[0], 1)
	if err != nil {
		return storeErrorReply(err)
	}
	return protocol.EncodeInteger64(n)
}

func handleType(h *CommandHandler, connID int64, args []string) []byte {
	return protocol.EncodeSimpleString(h.store.TypeName(args[0]))
}

// storeErrorReply renders a *storage.StoreError to its RESP wire string —
// the single place a typed error crosses into the wire format, per §2.1's
// "rendered to the exact wire string only at the dispatch/encode boundary".
func storeErrorReply(err error) []byte {
	if se, ok := err.(*storage.StoreError); ok {
		return protocol.EncodeError(se.Text)
	}
	return protocol.EncodeError("ERR " + err.Error())
}
