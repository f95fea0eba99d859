package handler

import (
	"strconv"
	"strings"
	"time"

	"redis/internal/protocol"
	"redis/internal/storage"
)

func (h *CommandHandler) registerStreamCommands() {
	h.register("XADD", 5, 0, false, true, handleXAdd)
	h.register("XRANGE", 4, 4, true, false, handleXRange)
	h.register("XREAD", 4, 0, false, false, handleXRead)
	h.register("XINFO", 3, 3, true, false, handleXInfo)
}

// handleXAdd implements XADD key id field value [field value ...].
func handleXAdd(h *CommandHandler, connID int64, args []string) []byte {
	key, rawID := args[0], args[1]
	fieldArgs := args[2:]
	if len(fieldArgs)%2 != 0 {
		return protocol.EncodeError("ERR wrong number of arguments for 'xadd' command")
	}

	fields := make([]storage.Field, 0, len(fieldArgs)/2)
	for i := 0; i < len(fieldArgs); i += 2 {
		fields = append(fields, storage.Field{Name: fieldArgs[i], Value: fieldArgs[i+1]})
	}

	id, err := h.store.XAdd(key, rawID, fields)
	if err != nil {
		return storeErrorReply(err)
	}
	h.waiters.Notify(key, 1)
	return protocol.EncodeBulkString(id.String())
}

// handleXRange implements XRANGE key start end.
func handleXRange(h *CommandHandler, connID int64, args []string) []byte {
	start, err := storage.ParseRangeBound(args[1], false)
	if err != nil {
		return storeErrorReply(err)
	}
	end, err := storage.ParseRangeBound(args[2], true)
	if err != nil {
		return storeErrorReply(err)
	}

	entries, err := h.store.XRange(args[0], start, end)
	if err != nil {
		return storeErrorReply(err)
	}
	return encodeStreamEntries(entries)
}

// handleXRead implements XREAD [BLOCK ms] STREAMS key [key ...] id [id ...].
func handleXRead(h *CommandHandler, connID int64, args []string) []byte {
	blockMs := -1
	i := 0
	if i < len(args) && strings.EqualFold(args[i], "BLOCK") {
		ms, err := strconv.Atoi(args[i+1])
		if err != nil || ms < 0 {
			return protocol.EncodeError("ERR timeout is negative")
		}
		blockMs = ms
		i += 2
	}

	if i >= len(args) || !strings.EqualFold(args[i], "STREAMS") {
		return protocol.EncodeError("ERR syntax error")
	}
	rest := args[i+1:]
	if len(rest)%2 != 0 || len(rest) == 0 {
		return protocol.EncodeError("ERR Unbalanced 'xread' list of streams: for each stream key an ID must be specified.")
	}

	n := len(rest) / 2
	keys := rest[:n]
	cursors := make(map[string]storage.StreamID, n)
	for idx, key := range keys {
		token := rest[n+idx]
		id, err := resolveXReadCursor(h, key, token)
		if err != nil {
			return storeErrorReply(err)
		}
		cursors[key] = id
	}

	reads, err := h.store.XRead(cursors)
	if err != nil {
		return storeErrorReply(err)
	}
	if len(reads) > 0 || blockMs < 0 {
		return encodeStreamReads(reads)
	}

	w := &Waiter{ID: NextWaiterID(), Ch: make(chan struct{})}
	h.waiters.Register(keys, w)

	wait := func() bool {
		if blockMs == 0 {
			<-w.Ch
			return true
		}
		select {
		case <-w.Ch:
			return true
		case <-time.After(time.Duration(blockMs) * time.Millisecond):
			h.waiters.Unregister(w)
			return false
		}
	}

	if !wait() {
		return protocol.EncodeNilArray()
	}

	reads, err = h.store.XRead(cursors)
	if err != nil {
		return storeErrorReply(err)
	}
	if len(reads) == 0 {
		return protocol.EncodeNilArray()
	}
	return encodeStreamReads(reads)
}

// resolveXReadCursor resolves the "$" cursor at receipt time, per §9.2's
// open-question resolution — a later-arriving entry never retroactively
// satisfies a "$" cursor captured before it.
func resolveXReadCursor(h *CommandHandler, key, token string) (storage.StreamID, error) {
	if token == "$" {
		return h.store.LastStreamID(key)
	}
	return storage.ParseRangeBound(token, false)
}

func handleXInfo(h *CommandHandler, connID int64, args []string) []byte {
	if !strings.EqualFold(args[0], "STREAM") {
		return protocol.EncodeError("ERR syntax error")
	}
	info, err := h.store.XInfo(args[1])
	if err != nil {
		return storeErrorReply(err)
	}
	if info == nil {
		return protocol.EncodeError("ERR no such key")
	}

	fields := []protocol.Value{
		{Kind: protocol.BulkString, Str: "length"},
		{Kind: protocol.Integer, Int: int64(info.Length)},
		{Kind: protocol.BulkString, Str: "last-generated-id"},
		{Kind: protocol.BulkString, Str: info.LastID.String()},
		{Kind: protocol.BulkString, Str: "first-entry"},
		encodeStreamInfoEntry(info.FirstEntry),
		{Kind: protocol.BulkString, Str: "last-entry"},
		encodeStreamInfoEntry(info.LastEntry),
	}
	return protocol.Encode(protocol.Value{Kind: protocol.Array, Array: fields})
}

// encodeStreamInfoEntry renders one of XINFO's first-entry/last-entry
// fields, nil-array when the stream has no such entry yet.
func encodeStreamInfoEntry(e *storage.StreamEntry) protocol.Value {
	if e == nil {
		return protocol.Value{Kind: protocol.NullArray}
	}
	return encodeStreamEntry(*e)
}

func encodeStreamEntries(entries []storage.StreamEntry) []byte {
	items := make([]protocol.Value, 0, len(entries))
	for _, e := range entries {
		items = append(items, encodeStreamEntry(e))
	}
	return protocol.Encode(protocol.Value{Kind: protocol.Array, Array: items})
}

func encodeStreamEntry(e storage.StreamEntry) protocol.Value {
	fieldVals := make([]protocol.Value, 0, len(e.Fields)*2)
	for _, f := range e.Fields {
		fieldVals = append(fieldVals,
			protocol.Value{Kind: protocol.BulkString, Str: f.Name},
			protocol.Value{Kind: protocol.BulkString, Str: f.Value},
		)
	}
	return protocol.Value{Kind: protocol.Array, Array: []protocol.Value{
		{Kind: protocol.BulkString, Str: e.ID.String()},
		{Kind: protocol.Array, Array: fieldVals},
	}}
}

func encodeStreamReads(reads []storage.StreamRead) []byte {
	items := make([]protocol.Value, 0, len(reads))
	for _, r := range reads {
		entryVals := make([]protocol.Value, 0, len(r.Entries))
		for _, e := range r.Entries {
			entryVals = append(entryVals, encodeStreamEntry(e))
		}
		items = append(items, protocol.Value{Kind: protocol.Array, Array: []protocol.Value{
			{Kind: protocol.BulkString, Str: r.Key},
			{Kind: protocol.Array, Array: entryVals},
		}})
	}
	return protocol.Encode(protocol.Value{Kind: protocol.Array, Array: items})
}
