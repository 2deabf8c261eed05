package ledger

import (
	"sync"

	"wellness_auction/internal/models"
)

// Ledger 單一拍賣的出價帳本，最新在前。
// 任一時刻最多只有一筆 active（或 provisional）紀錄；
// 翻轉舊紀錄與插入新紀錄在同一臨界區內完成，
// 讀取端不會觀察到兩筆同時在頂的中間狀態。
type Ledger struct {
	mu        sync.RWMutex
	auctionID uint64
	records   []models.BidRecord
}

func New(auctionID uint64) *Ledger {
	return &Ledger{auctionID: auctionID}
}

// AuctionID 帳本所屬拍賣
func (l *Ledger) AuctionID() uint64 {
	return l.auctionID
}

// Apply 寫入一筆新的最高出價。金額未嚴格高於現有最高出價時
// 視為過期或重播而忽略（回傳 false）。
func (l *Ledger) Apply(rec models.BidRecord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.AuctionID != 0 && rec.AuctionID != l.auctionID {
		return false
	}

	// 先翻轉再插入
	for i := range l.records {
		if !l.records[i].IsTop() {
			continue
		}
		if rec.BidAmount <= l.records[i].BidAmount {
			return false
		}
		l.records[i].Status = models.BidStatusOutbid
	}

	l.records = append([]models.BidRecord{rec}, l.records...)
	return true
}

// Hydrate 以伺服器出價歷史整批取代帳本內容。
// 伺服器回應已是權威排序，事件推導的暫定紀錄一併被取代。
func (l *Ledger) Hydrate(history []models.BidRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = make([]models.BidRecord, len(history))
	copy(l.records, history)
}

// Records 取得帳本快照（最新在前）
func (l *Ledger) Records() []models.BidRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.BidRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Top 取得目前的最高出價
func (l *Ledger) Top() (models.BidRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := range l.records {
		if l.records[i].IsTop() {
			return l.records[i], true
		}
	}
	return models.BidRecord{}, false
}

// Len 帳本筆數
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
