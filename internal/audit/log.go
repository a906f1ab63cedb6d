package audit

import (
	"sync"
	"time"
)

// Entry 为一条审计流水。
type Entry struct {
	Time   time.Time
	Event  string
	Fields map[string]interface{}
}

// Sink 由持久化协作方实现，Append 失败由实现方自行处理，不回传给核心。
type Sink interface {
	Persist(entry Entry)
}

// Log 是固定容量的环形审计日志：写入 O(1)，写满后淘汰最旧一条。
type Log struct {
	mu      sync.Mutex
	entries []Entry
	head    int
	size    int
	sinks   []Sink
	now     func() time.Time
}

// NewLog 创建容量为 capacity 的审计日志。
func NewLog(capacity int, sinks ...Sink) *Log {
	if capacity <= 0 {
		capacity = 256
	}
	return &Log{
		entries: make([]Entry, capacity),
		sinks:   sinks,
		now:     time.Now,
	}
}

// Append 追加一条流水并异步通知持久化方。
func (l *Log) Append(event string, fields map[string]interface{}) {
	entry := Entry{Time: l.now().UTC(), Event: event, Fields: fields}

	l.mu.Lock()
	idx := (l.head + l.size) % len(l.entries)
	if l.size == len(l.entries) {
		l.head = (l.head + 1) % len(l.entries)
	} else {
		l.size++
	}
	l.entries[idx] = entry
	sinks := l.sinks
	l.mu.Unlock()

	for _, s := range sinks {
		s.Persist(entry)
	}
}

// Entries 按时间顺序返回当前保留的全部流水副本。
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.entries[(l.head+i)%len(l.entries)])
	}
	return out
}

// Len 返回当前保留的条数。
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
