package recorder

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/scalpbot/goscalp/internal/reconcile"
	"github.com/scalpbot/goscalp/pkg/logger"
)

// Store SQLite 审计存储。全部写入尽力而为：失败只记日志，
// 绝不把交易主流程拖下水。
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS reconciliations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id    TEXT NOT NULL,
	mode        TEXT NOT NULL,
	leg         TEXT NOT NULL,
	tag         TEXT NOT NULL,
	net         INTEGER NOT NULL,
	rem_entry   INTEGER NOT NULL,
	rem_bracket INTEGER NOT NULL,
	rem_plain   INTEGER NOT NULL,
	plain_count INTEGER NOT NULL,
	note        TEXT,
	created_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS order_actions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id   TEXT NOT NULL,
	action     TEXT NOT NULL,
	order_id   TEXT NOT NULL,
	result     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS candles (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	close      REAL NOT NULL,
	ssma       REAL,
	lsma       REAL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recon_cycle ON reconciliations(cycle_id);
`

// Open 打开（必要时初始化）审计库
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "打开审计库失败")
	}
	// 单写者即可，限制连接数避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "初始化审计库结构失败")
	}
	return &Store{db: db}, nil
}

// Close 关闭审计库
func (s *Store) Close() error {
	return s.db.Close()
}

func nowStr() string {
	return time.Now().Format(time.RFC3339)
}

// RecordReconciliation 落一条对账结果
func (s *Store) RecordReconciliation(cycleID string, mode, leg, tag string, in reconcile.Inputs, note string) {
	_, err := s.db.Exec(
		`INSERT INTO reconciliations (cycle_id, mode, leg, tag, net, rem_entry, rem_bracket, rem_plain, plain_count, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cycleID, mode, leg, tag, in.Net, in.RemEntry, in.RemBracket, in.RemPlain, in.PlainCount, note, nowStr())
	if err != nil {
		logger.WithField("component", "recorder").Warnf("⚠️ 对账记录写入失败: %v", err)
	}
}

// RecordOrderAction 落一条订单动作
func (s *Store) RecordOrderAction(cycleID, action, orderID, result string) {
	_, err := s.db.Exec(
		`INSERT INTO order_actions (cycle_id, action, order_id, result, created_at) VALUES (?, ?, ?, ?, ?)`,
		cycleID, action, orderID, result, nowStr())
	if err != nil {
		logger.WithField("component", "recorder").Warnf("⚠️ 订单动作写入失败: %v", err)
	}
}

// RecordCandle 落一根收盘 K 线与当时的均线
func (s *Store) RecordCandle(close float64, ssma, lsma *float64) {
	_, err := s.db.Exec(
		`INSERT INTO candles (close, ssma, lsma, created_at) VALUES (?, ?, ?, ?)`,
		close, nullableFloat(ssma), nullableFloat(lsma), nowStr())
	if err != nil {
		logger.WithField("component", "recorder").Warnf("⚠️ K 线记录写入失败: %v", err)
	}
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// ReconciliationCount 某轮对账落库条数（运维排查用）
func (s *Store) ReconciliationCount(cycleID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM reconciliations WHERE cycle_id = ?`, cycleID).Scan(&n)
	return n, err
}
