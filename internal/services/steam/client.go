package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"steam-family-bot/internal/models"
	"steam-family-bot/internal/ratelimit"

	"github.com/go-resty/resty/v2"
)

const (
	webAPIBase   = "https://api.steampowered.com"
	storeAPIBase = "https://store.steampowered.com/api"

	// Steam store category id for Family Sharing.
	familySharingCategoryID = 62
)

// Client talks to the Steam Web API and the Store API. The two API
// classes carry separate rate limiters so web-API callers never
// contend with store-API callers.
type Client struct {
	apiKey       string
	client       *resty.Client
	webLimiter   ratelimit.Limiter
	storeLimiter ratelimit.Limiter
	retry        ratelimit.RetryPolicy

	appListMu sync.Mutex
	appList   map[string]string // appid -> name, lazy bulk fallback
}

func NewClient(apiKey string, timeout time.Duration, web, store ratelimit.Limiter, retry ratelimit.RetryPolicy) *Client {
	client := resty.New()
	client.SetTimeout(timeout)

	return &Client{
		apiKey:       apiKey,
		client:       client,
		webLimiter:   web,
		storeLimiter: store,
		retry:        retry,
	}
}

// HasKey reports whether a Web API key was configured. Store API calls
// work without one.
func (c *Client) HasKey() bool {
	return c.apiKey != ""
}

type appDetailsEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Name       string `json:"name"`
		Type       string `json:"type"`
		IsFree     bool   `json:"is_free"`
		Categories []struct {
			ID          int    `json:"id"`
			Description string `json:"description"`
		} `json:"categories"`
		PriceOverview struct {
			DiscountPercent  int    `json:"discount_percent"`
			Final            int    `json:"final"` // cents
			Initial          int    `json:"initial"`
			FinalFormatted   string `json:"final_formatted"`
			InitialFormatted string `json:"initial_formatted"`
		} `json:"price_overview"`
		Recommendations struct {
			Total int `json:"total"`
		} `json:"recommendations"`
	} `json:"data"`
}

// AppDetails fetches store metadata for one appid. A missing or
// success:false entry is a soft miss (nil, nil) and is not retried;
// 429/5xx and network errors are retried with backoff.
func (c *Client) AppDetails(ctx context.Context, appid string) (*models.GameDetails, error) {
	var details *models.GameDetails
	err := c.retry.Do(ctx, func() error {
		if err := c.storeLimiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParam("appids", appid).
			Get(storeAPIBase + "/appdetails")
		if err != nil {
			return ratelimit.Retryable(fmt.Errorf("appdetails %s: %w", appid, err))
		}
		if retryableStatus(resp.StatusCode()) {
			return ratelimit.Retryable(fmt.Errorf("appdetails %s: HTTP %d", appid, resp.StatusCode()))
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("appdetails %s: HTTP %d", appid, resp.StatusCode())
		}

		var envelope map[string]appDetailsEnvelope
		if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
			return ratelimit.Retryable(fmt.Errorf("appdetails %s: %w", appid, err))
		}

		entry, ok := envelope[appid]
		if !ok || !entry.Success {
			return nil // not on the store, soft miss
		}

		d := &models.GameDetails{
			AppID:           appid,
			Name:            entry.Data.Name,
			Type:            entry.Data.Type,
			IsFree:          entry.Data.IsFree,
			ReviewCount:     entry.Data.Recommendations.Total,
			DiscountPercent: entry.Data.PriceOverview.DiscountPercent,
			PriceFinal:      float64(entry.Data.PriceOverview.Final) / 100,
			PriceInitial:    float64(entry.Data.PriceOverview.Initial) / 100,
			FinalFormatted:  entry.Data.PriceOverview.FinalFormatted,
		}
		for _, cat := range entry.Data.Categories {
			d.Categories = append(d.Categories, cat.Description)
			if cat.ID == familySharingCategoryID {
				d.FamilySharing = true
			}
		}
		details = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// AppName is the fallback lookup when appdetails yields nothing: a
// one-time bulk applist fetch answers name queries from memory.
func (c *Client) AppName(ctx context.Context, appid string) (string, error) {
	c.appListMu.Lock()
	defer c.appListMu.Unlock()

	if c.appList == nil {
		if err := c.loadAppListLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.appList[appid], nil
}

func (c *Client) loadAppListLocked(ctx context.Context) error {
	if err := c.webLimiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.client.R().
		SetContext(ctx).
		Get(webAPIBase + "/ISteamApps/GetAppList/v2/")
	if err != nil {
		return fmt.Errorf("applist: %w", err)
	}

	var list struct {
		AppList struct {
			Apps []struct {
				AppID int64  `json:"appid"`
				Name  string `json:"name"`
			} `json:"apps"`
		} `json:"applist"`
	}
	if err := json.Unmarshal(resp.Body(), &list); err != nil {
		return fmt.Errorf("applist: %w", err)
	}

	c.appList = make(map[string]string, len(list.AppList.Apps))
	for _, app := range list.AppList.Apps {
		c.appList[strconv.FormatInt(app.AppID, 10)] = app.Name
	}
	return nil
}

// OwnedGames returns the appids a user owns.
func (c *Client) OwnedGames(ctx context.Context, steamID string) (*models.OwnedGames, error) {
	body, err := c.webGet(ctx, "/IPlayerService/GetOwnedGames/v1/", map[string]string{
		"steamid": steamID,
	})
	if err != nil || body == nil {
		return nil, err
	}

	var parsed struct {
		Response struct {
			Games []struct {
				AppID int64 `json:"appid"`
			} `json:"games"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("owned games %s: %w", steamID, err)
	}

	owned := &models.OwnedGames{SteamID: steamID}
	for _, g := range parsed.Response.Games {
		owned.AppIDs = append(owned.AppIDs, strconv.FormatInt(g.AppID, 10))
	}
	return owned, nil
}

// Wishlist returns the appids on a user's wishlist.
func (c *Client) Wishlist(ctx context.Context, steamID string) (*models.Wishlist, error) {
	body, err := c.webGet(ctx, "/IWishlistService/GetWishlist/v1/", map[string]string{
		"steamid": steamID,
	})
	if err != nil || body == nil {
		return nil, err
	}

	var parsed struct {
		Response struct {
			Items []struct {
				AppID int64 `json:"appid"`
			} `json:"items"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("wishlist %s: %w", steamID, err)
	}

	wl := &models.Wishlist{SteamID: steamID}
	for _, item := range parsed.Response.Items {
		wl.AppIDs = append(wl.AppIDs, strconv.FormatInt(item.AppID, 10))
	}
	return wl, nil
}

// FamilySharedLibrary resolves the user's family group and returns the
// apps every member of the group can see.
func (c *Client) FamilySharedLibrary(ctx context.Context, steamID string) (*models.FamilyLibrary, error) {
	body, err := c.webGet(ctx, "/IFamilyGroupsService/GetFamilyGroupForUser/v1/", map[string]string{
		"steamid": steamID,
	})
	if err != nil || body == nil {
		return nil, err
	}

	var group struct {
		Response struct {
			FamilyGroupID string `json:"family_groupid"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &group); err != nil {
		return nil, fmt.Errorf("family group %s: %w", steamID, err)
	}
	if group.Response.FamilyGroupID == "" {
		return nil, nil // not in a family group
	}

	body, err = c.webGet(ctx, "/IFamilyGroupsService/GetSharedLibraryApps/v1/", map[string]string{
		"family_groupid": group.Response.FamilyGroupID,
		"include_own":    "true",
	})
	if err != nil || body == nil {
		return nil, err
	}

	var apps struct {
		Response struct {
			Apps []struct {
				AppID int64 `json:"appid"`
			} `json:"apps"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &apps); err != nil {
		return nil, fmt.Errorf("shared library: %w", err)
	}

	lib := &models.FamilyLibrary{FetchedAt: time.Now()}
	for _, app := range apps.Response.Apps {
		lib.AppIDs = append(lib.AppIDs, strconv.FormatInt(app.AppID, 10))
	}
	return lib, nil
}

// PlayerSummaries returns persona names keyed by SteamID64.
func (c *Client) PlayerSummaries(ctx context.Context, steamIDs []string) (map[string]string, error) {
	if len(steamIDs) == 0 {
		return map[string]string{}, nil
	}
	ids := steamIDs[0]
	for _, id := range steamIDs[1:] {
		ids += "," + id
	}

	body, err := c.webGet(ctx, "/ISteamUser/GetPlayerSummaries/v2/", map[string]string{
		"steamids": ids,
	})
	if err != nil || body == nil {
		return nil, err
	}

	var parsed struct {
		Response struct {
			Players []struct {
				SteamID     string `json:"steamid"`
				PersonaName string `json:"personaname"`
			} `json:"players"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("player summaries: %w", err)
	}

	names := make(map[string]string, len(parsed.Response.Players))
	for _, p := range parsed.Response.Players {
		names[p.SteamID] = p.PersonaName
	}
	return names, nil
}

// webGet runs one key-authenticated Web API call under the limiter and
// the shared retry policy. A nil body with nil error is a soft miss.
func (c *Client) webGet(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("steam web api key not configured")
	}

	var body []byte
	err := c.retry.Do(ctx, func() error {
		if err := c.webLimiter.Wait(ctx); err != nil {
			return err
		}
		req := c.client.R().
			SetContext(ctx).
			SetQueryParam("key", c.apiKey)
		for k, v := range params {
			req.SetQueryParam(k, v)
		}
		resp, err := req.Get(webAPIBase + path)
		if err != nil {
			return ratelimit.Retryable(fmt.Errorf("steam %s: %w", path, err))
		}
		switch {
		case retryableStatus(resp.StatusCode()):
			return ratelimit.Retryable(fmt.Errorf("steam %s: HTTP %d", path, resp.StatusCode()))
		case resp.StatusCode() == 403 || resp.StatusCode() == 401:
			return fmt.Errorf("steam %s: HTTP %d (check API key)", path, resp.StatusCode())
		case resp.StatusCode() != 200:
			return nil // private profile or similar, soft miss
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
