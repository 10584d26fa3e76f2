package discordapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"steam-family-bot/internal/models"
	"steam-family-bot/internal/ratelimit"

	"github.com/go-resty/resty/v2"
)

const apiBase = "https://discord.com/api/v10"

// Client does bot-token REST lookups against the Discord API. Only
// username resolution lives here; command handling is a separate
// consumer of the cache layer.
type Client struct {
	token   string
	client  *resty.Client
	limiter ratelimit.Limiter
	retry   ratelimit.RetryPolicy
}

func NewClient(token string, timeout time.Duration, limiter ratelimit.Limiter, retry ratelimit.RetryPolicy) *Client {
	client := resty.New()
	client.SetTimeout(timeout)

	return &Client{
		token:   token,
		client:  client,
		limiter: limiter,
		retry:   retry,
	}
}

func (c *Client) HasToken() bool {
	return c.token != ""
}

// Username resolves a Discord user id to a display name. Unknown users
// are a soft miss.
func (c *Client) Username(ctx context.Context, discordID string) (*models.DiscordName, error) {
	if c.token == "" {
		return nil, fmt.Errorf("discord bot token not configured")
	}

	var name *models.DiscordName
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.client.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bot "+c.token).
			Get(fmt.Sprintf("%s/users/%s", apiBase, discordID))
		if err != nil {
			return ratelimit.Retryable(fmt.Errorf("discord user %s: %w", discordID, err))
		}
		if resp.StatusCode() == 429 || resp.StatusCode() >= 500 {
			return ratelimit.Retryable(fmt.Errorf("discord user %s: HTTP %d", discordID, resp.StatusCode()))
		}
		if resp.StatusCode() != 200 {
			return nil // unknown user, soft miss
		}

		var parsed struct {
			Username   string `json:"username"`
			GlobalName string `json:"global_name"`
		}
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			return ratelimit.Retryable(fmt.Errorf("discord user %s: %w", discordID, err))
		}

		username := parsed.GlobalName
		if username == "" {
			username = parsed.Username
		}
		name = &models.DiscordName{DiscordID: discordID, Username: username}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return name, nil
}
