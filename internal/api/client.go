package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"wellness_auction/internal/config"
	"wellness_auction/internal/models"

	"go.uber.org/zap"
)

// Client 後端儀表板 API 的客戶端。
// 只依賴請求／回應的 JSON 形狀，傳輸細節由後端擁有。
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		token:   cfg.APIToken,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		logger: logger,
	}
}

// ActiveAuction 取得進行中的拍賣，沒有時回傳 nil
func (c *Client) ActiveAuction(ctx context.Context) (*models.Auction, error) {
	body, status, err := c.get(ctx, "/api/v1/auctions/active")
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 ||
		string(bytes.TrimSpace(body)) == "null" {
		return nil, nil
	}

	var auction models.Auction
	if err := json.Unmarshal(body, &auction); err != nil {
		return nil, fmt.Errorf("failed to decode active auction: %w", err)
	}
	return &auction, nil
}

// ScheduledAuctions 取得尚未開始的拍賣清單
func (c *Client) ScheduledAuctions(ctx context.Context) ([]models.Auction, error) {
	return c.getAuctionList(ctx, "/api/v1/auctions/scheduled")
}

// EndedAuctions 取得已結束的拍賣清單（含 winner_name）
func (c *Client) EndedAuctions(ctx context.Context) ([]models.Auction, error) {
	return c.getAuctionList(ctx, "/api/v1/auctions/ended")
}

// PointsBalance 取得使用者點數餘額
func (c *Client) PointsBalance(ctx context.Context) (int64, error) {
	body, _, err := c.get(ctx, "/api/v1/points/balance")
	if err != nil {
		return 0, err
	}

	var balance models.PointsBalance
	if err := json.Unmarshal(body, &balance); err != nil {
		return 0, fmt.Errorf("failed to decode points balance: %w", err)
	}
	return balance.TotalPoints, nil
}

// BidHistory 取得指定拍賣的權威出價歷史（最新在前）
func (c *Client) BidHistory(ctx context.Context, auctionID uint64) ([]models.BidRecord, error) {
	body, _, err := c.get(ctx, fmt.Sprintf("/api/v1/auctions/%d/bids", auctionID))
	if err != nil {
		return nil, err
	}

	var history []models.BidRecord
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, fmt.Errorf("failed to decode bid history: %w", err)
	}
	return history, nil
}

// PlaceBidRequest 出價請求
type PlaceBidRequest struct {
	Amount int64 `json:"amount"`
}

// PlaceBid 提交出價。伺服器拒絕時回傳 *Error，Message 保留伺服器原文。
func (c *Client) PlaceBid(ctx context.Context, auctionID uint64, amount int64) error {
	payload, err := json.Marshal(PlaceBidRequest{Amount: amount})
	if err != nil {
		return fmt.Errorf("failed to encode bid request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/auctions/%d/bids", c.baseURL, auctionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build bid request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bid request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := decodeError(resp.StatusCode, body)
		c.logger.Warn("Bid rejected by server",
			zap.Uint64("auction_id", auctionID),
			zap.Int64("amount", amount),
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message),
		)
		return apiErr
	}

	return nil
}

// StreamURL 指定拍賣的推播串流位址
func (c *Client) StreamURL(auctionID uint64) string {
	return fmt.Sprintf("%s/api/v1/auctions/%d/stream", c.baseURL, auctionID)
}

// Token 推播訂閱共用的 bearer token
func (c *Client) Token() string {
	return c.token
}

func (c *Client) getAuctionList(ctx context.Context, path string) ([]models.Auction, error) {
	body, _, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var auctions []models.Auction
	if err := json.Unmarshal(body, &auctions); err != nil {
		return nil, fmt.Errorf("failed to decode auction list: %w", err)
	}
	return auctions, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, resp.StatusCode, decodeError(resp.StatusCode, body)
	}

	return body, resp.StatusCode, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
