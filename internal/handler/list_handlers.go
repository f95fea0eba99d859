package handler

import (
	"strconv"
	"time"

	"redis/internal/protocol"
)

func (h *CommandHandler) registerListCommands() {
	h.register("LPUSH", 3, 0, false, true, handleLPush)
	h.register("RPUSH", 3, 0, false, true, handleRPush)
	h.register("LPOP", 2, 3, false, true, handleLPop)
	h.register("LRANGE", 4, 4, true, false, handleLRange)
	h.register("LLEN", 2, 2, true, false, handleLLen)
	// BLPOP is not in the propagated-write list — only the plain push/pop
	// verbs generate replication traffic.
	h.register("BLPOP", 3, 0, false, false, handleBLPop)
}

func handleLPush(h *CommandHandler, connID int64, args []string) []byte {
	key, values := args[0], args[1:]
	n, err := h.store.LPush(key, values...)
	if err != nil {
		return storeErrorReply(err)
	}
	h.waiters.Notify(key, len(values))
	return protocol.EncodeInteger(n)
}

func handleRPush(h *CommandHandler, connID int64, args []string) []byte {
	key, values := args[0], args[1:]
	n, err := h.store.RPush(key, values...)
	if err != nil {
		return storeErrorReply(err)
	}
	h.waiters.Notify(key, len(values))
	return protocol.EncodeInteger(n)
}

func handleLPop(h *CommandHandler, connID int64, args []string) []byte {
	key := args[0]
	count := 1
	hadCount := len(args) == 2
	if hadCount {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return protocol.EncodeError("ERR value is not an integer or out of range")
		}
		count = n
	}

	result, err := h.store.LPop(key, count)
	if err != nil {
		return storeErrorReply(err)
	}
	if result == nil {
		return protocol.EncodeNullBulkString()
	}
	if !hadCount {
		return protocol.EncodeBulkString(result[0])
	}
	return protocol.EncodeArray(result)
}

func handleLRange(h *CommandHandler, connID int64, args []string) []byte {
	start, err1 := strconv.Atoi(args[1])
	stop, err2 := strconv.Atoi(args[2])
	if err1 != nil || err2 != nil {
		return protocol.EncodeError("ERR value is not an integer or out of range")
	}

	result, err := h.store.LRange(args[0], start, stop)
	if err != nil {
		return storeErrorReply(err)
	}
	return protocol.EncodeArray(result)
}

func handleLLen(h *CommandHandler, connID int64, args []string) []byte {
	n, err := h.store.LLen(args[0])
	if err != nil {
		return storeErrorReply(err)
	}
	return protocol.EncodeInteger(n)
}

// handleBLPop implements BLPOP key [key ...] timeout, blocking until one of
// the keys has data or the timeout elapses. Per §5, timeout == 0 waits
// without a deadline.
func handleBLPop(h *CommandHandler, connID int64, args []string) []byte {
	keys := args[:len(args)-1]
	timeoutSec, err := strconv.ParseFloat(args[len(args)-1], 64)
	if err != nil || timeoutSec < 0 {
		return protocol.EncodeError("ERR timeout is negative")
	}

	for {
		for _, key := range keys {
			popped, err := h.store.LPop(key, 1)
			if err != nil {
				return storeErrorReply(err)
			}
			if len(popped) > 0 {
				return protocol.EncodeArray([]string{key, popped[0]})
			}
		}

		w := &Waiter{ID: NextWaiterID(), Ch: make(chan struct{})}
		h.waiters.Register(keys, w)

		if timeoutSec == 0 {
			<-w.Ch
			continue
		}

		select {
		case <-w.Ch:
			continue
		case <-time.After(time.Duration(timeoutSec * float64(time.Second))):
			h.waiters.Unregister(w)
			return protocol.EncodeNilArray()
		}
	}
}
