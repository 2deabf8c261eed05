package models

// PointsBalance 使用者點數餘額。扣點由伺服器記帳，
// 客戶端只重新抓取，不自行計算減項。
type PointsBalance struct {
	TotalPoints int64 `json:"total_points"`
}
