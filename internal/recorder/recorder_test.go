package recorder

import (
	"path/filepath"
	"testing"

	"github.com/scalpbot/goscalp/internal/reconcile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("打开审计库失败: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordReconciliation(t *testing.T) {
	s := openTestStore(t)
	in := reconcile.Inputs{Net: 150, RemBracket: 150}
	s.RecordReconciliation("cycle-1", "mid", "CE", "Open - Full", in, "")
	s.RecordReconciliation("cycle-1", "mid", "PE", "Ready for Entry", reconcile.Inputs{}, "")
	s.RecordReconciliation("cycle-2", "end", "CE", "Open - Full", in, "")

	n, err := s.ReconciliationCount("cycle-1")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if n != 2 {
		t.Fatalf("cycle-1 应有 2 条记录，实际 %d", n)
	}
}

func TestRecordOrderActionAndCandle(t *testing.T) {
	s := openTestStore(t)
	s.RecordOrderAction("cycle-1", "cancel_order", "ORD-1", "ok")

	ssma := 101.5
	s.RecordCandle(102.0, &ssma, nil) // lsma 还没凑够数据

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM order_actions`).Scan(&count); err != nil || count != 1 {
		t.Fatalf("订单动作记录错误: n=%d err=%v", count, err)
	}
	var close float64
	var lsma *float64
	if err := s.db.QueryRow(`SELECT close, lsma FROM candles`).Scan(&close, &lsma); err != nil {
		t.Fatalf("K 线记录读取失败: %v", err)
	}
	if close != 102.0 || lsma != nil {
		t.Fatalf("K 线记录错误: close=%v lsma=%v", close, lsma)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("打开失败: %v", err)
	}
	s.RecordOrderAction("c", "cancel_order", "X", "ok")
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("重开失败: %v", err)
	}
	defer s2.Close()
	var count int
	if err := s2.db.QueryRow(`SELECT COUNT(*) FROM order_actions`).Scan(&count); err != nil || count != 1 {
		t.Fatalf("重开后数据丢失: n=%d err=%v", count, err)
	}
}
