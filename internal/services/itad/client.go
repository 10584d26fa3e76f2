package itad

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"steam-family-bot/internal/models"
	"steam-family-bot/internal/ratelimit"

	"github.com/go-resty/resty/v2"
)

const apiBase = "https://api.isthereanydeal.com"

// Client talks to the IsThereAnyDeal API for historical-low prices.
type Client struct {
	apiKey  string
	client  *resty.Client
	limiter ratelimit.Limiter
	retry   ratelimit.RetryPolicy
}

func NewClient(apiKey string, timeout time.Duration, limiter ratelimit.Limiter, retry ratelimit.RetryPolicy) *Client {
	client := resty.New()
	client.SetTimeout(timeout)

	return &Client{
		apiKey:  apiKey,
		client:  client,
		limiter: limiter,
		retry:   retry,
	}
}

func (c *Client) HasKey() bool {
	return c.apiKey != ""
}

// LookupGameID maps a Steam appid to ITAD's internal game id. Unknown
// apps are a soft miss.
func (c *Client) LookupGameID(ctx context.Context, appid string) (string, error) {
	var gameID string
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":   c.apiKey,
				"appid": appid,
			}).
			Get(apiBase + "/games/lookup/v1")
		if err != nil {
			return ratelimit.Retryable(fmt.Errorf("itad lookup %s: %w", appid, err))
		}
		if resp.StatusCode() == 429 || resp.StatusCode() >= 500 {
			return ratelimit.Retryable(fmt.Errorf("itad lookup %s: HTTP %d", appid, resp.StatusCode()))
		}
		if resp.StatusCode() != 200 {
			return nil // soft miss
		}

		var parsed struct {
			Found bool `json:"found"`
			Game  struct {
				ID string `json:"id"`
			} `json:"game"`
		}
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			return ratelimit.Retryable(fmt.Errorf("itad lookup %s: %w", appid, err))
		}
		if !parsed.Found {
			return nil
		}
		gameID = parsed.Game.ID
		return nil
	})
	return gameID, err
}

// HistoricalLow fetches the all-time low price for one appid. Returns
// (nil, nil) when ITAD does not know the game.
func (c *Client) HistoricalLow(ctx context.Context, appid string) (*models.HistoricalLow, error) {
	gameID, err := c.LookupGameID(ctx, appid)
	if err != nil || gameID == "" {
		return nil, err
	}

	var low *models.HistoricalLow
	err = c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParam("key", c.apiKey).
			SetHeader("Content-Type", "application/json").
			SetBody([]string{gameID}).
			Post(apiBase + "/games/storelow/v2")
		if err != nil {
			return ratelimit.Retryable(fmt.Errorf("itad storelow %s: %w", appid, err))
		}
		if resp.StatusCode() == 429 || resp.StatusCode() >= 500 {
			return ratelimit.Retryable(fmt.Errorf("itad storelow %s: HTTP %d", appid, resp.StatusCode()))
		}
		if resp.StatusCode() != 200 {
			return nil
		}

		var parsed []struct {
			ID   string `json:"id"`
			Lows []struct {
				Price struct {
					Amount   float64 `json:"amount"`
					Currency string  `json:"currency"`
				} `json:"price"`
				Shop struct {
					Name string `json:"name"`
				} `json:"shop"`
			} `json:"lows"`
		}
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			return ratelimit.Retryable(fmt.Errorf("itad storelow %s: %w", appid, err))
		}
		if len(parsed) == 0 || len(parsed[0].Lows) == 0 {
			return nil
		}

		best := parsed[0].Lows[0]
		for _, l := range parsed[0].Lows[1:] {
			if l.Price.Amount < best.Price.Amount {
				best = l
			}
		}
		low = &models.HistoricalLow{
			AppID:    appid,
			GameID:   gameID,
			Price:    best.Price.Amount,
			Currency: best.Price.Currency,
			Shop:     best.Shop.Name,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return low, nil
}
