package handler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SlowLogEntry represents a slow command entry.
type SlowLogEntry struct {
	ID        int64
	Timestamp time.Time
	Duration  time.Duration
	ClientID  int64
	Command   string
	Args      []string
}

// SlowLog tracks commands that ran longer than threshold, independent of
// any disconnect policy — it is a logging hook, not enforcement.
type SlowLog struct {
	mu        sync.RWMutex
	entries   []SlowLogEntry
	maxLen    int
	threshold time.Duration
	idCounter int64
	logger    *zap.Logger
}

func NewSlowLog(maxLen int, threshold time.Duration) *SlowLog {
	return &SlowLog{
		entries:   make([]SlowLogEntry, 0, maxLen),
		maxLen:    maxLen,
		threshold: threshold,
	}
}

// SetLogger attaches the logger entries are reported through; nil is safe
// and simply suppresses reporting.
func (s *SlowLog) SetLogger(logger *zap.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		s.logger = nil
		return
	}
	s.logger = logger.Named("slowlog")
}

// LogIfSlow records command if its duration is at least threshold,
// returning whether it was logged.
func (s *SlowLog) LogIfSlow(clientID int64, command string, args []string, duration time.Duration) bool {
	if duration < s.threshold {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.idCounter++
	entry := SlowLogEntry{
		ID:        s.idCounter,
		Timestamp: time.Now(),
		Duration:  duration,
		ClientID:  clientID,
		Command:   command,
		Args:      args,
	}

	s.entries = append([]SlowLogEntry{entry}, s.entries...)
	if len(s.entries) > s.maxLen {
		s.entries = s.entries[:s.maxLen]
	}

	if s.logger != nil {
		s.logger.Info("slow command",
			zap.Int64("client_id", clientID),
			zap.String("command", command),
			zap.Duration("duration", duration))
	}
	return true
}

func (s *SlowLog) Get(count int) []SlowLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if count <= 0 || count > len(s.entries) {
		count = len(s.entries)
	}
	result := make([]SlowLogEntry, count)
	copy(result, s.entries[:count])
	return result
}

func (s *SlowLog) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *SlowLog) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
}

func (s *SlowLog) SetThreshold(threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = threshold
}

func (s *SlowLog) GetThreshold() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}
