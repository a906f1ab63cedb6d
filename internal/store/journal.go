package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradeflow/internal/audit"
)

// Journal 把审计流水落盘到 SQLite，实现 audit.Sink。
// 写入经由缓冲通道交给后台协程，核心状态机不等待磁盘。
type Journal struct {
	db     *sql.DB
	logger *zap.Logger

	queue chan audit.Entry
	done  chan struct{}
	once  sync.Once
}

const journalQueueSize = 1024

// NewJournal 创建审计流水存储并初始化表结构。
func NewJournal(store *Store, logger *zap.Logger) (*Journal, error) {
	if store == nil {
		return nil, errors.New("store: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Journal{
		db:     store.DB(),
		logger: logger,
		queue:  make(chan audit.Entry, journalQueueSize),
		done:   make(chan struct{}),
	}

	if err := j.initSchema(); err != nil {
		return nil, err
	}

	go j.run()
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `CREATE TABLE IF NOT EXISTS audit_journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TEXT NOT NULL,
		event TEXT NOT NULL,
		fields TEXT
	);`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("store: 初始化审计表失败: %w", err)
	}
	return nil
}

// Persist 实现 audit.Sink。队列写满时丢弃并记日志，绝不阻塞调用方。
func (j *Journal) Persist(entry audit.Entry) {
	select {
	case j.queue <- entry:
	default:
		j.logger.Warn("审计落盘队列已满，丢弃一条流水", zap.String("event", entry.Event))
	}
}

// Close 停止后台写入并等待队列排空。
func (j *Journal) Close() {
	j.once.Do(func() {
		close(j.queue)
		<-j.done
	})
}

func (j *Journal) run() {
	defer close(j.done)
	for entry := range j.queue {
		j.write(entry)
	}
}

func (j *Journal) write(entry audit.Entry) {
	payload, err := json.Marshal(entry.Fields)
	if err != nil {
		j.logger.Warn("审计字段序列化失败", zap.String("event", entry.Event), zap.Error(err))
		payload = []byte("{}")
	}

	_, err = j.db.Exec(
		`INSERT INTO audit_journal (occurred_at, event, fields) VALUES (?, ?, ?)`,
		entry.Time.UTC().Format(time.RFC3339Nano), entry.Event, string(payload),
	)
	if err != nil {
		j.logger.Warn("审计流水落盘失败", zap.String("event", entry.Event), zap.Error(err))
	}
}
