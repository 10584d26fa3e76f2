package models

import (
	"time"
)

// FamilyMember maps a SteamID64 to a display name and, once linked,
// a Discord account.
type FamilyMember struct {
	SteamID      string    `json:"steam_id" gorm:"primaryKey;size:17"`
	FriendlyName string    `json:"friendly_name" gorm:"not null"`
	DiscordID    *string   `json:"discord_id" gorm:"index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserRegistration is the self-service discord<->steam link. The unique
// index on SteamID enforces the 1:1 mapping in both directions.
type UserRegistration struct {
	DiscordID string    `json:"discord_id" gorm:"primaryKey"`
	SteamID   string    `json:"steam_id" gorm:"uniqueIndex;not null;size:17"`
	CreatedAt time.Time `json:"created_at"`
}

// SavedGame records an appid the bot has already announced as newly
// added to the shared library. Replaced wholesale by the new-game check.
type SavedGame struct {
	AppID      string    `json:"appid" gorm:"primaryKey"`
	DetectedAt time.Time `json:"detected_at"`
}

// CacheRow is the shared shape of every cache table. ExpiresAt nil
// means the entry is permanent.
type CacheRow struct {
	Key       string     `json:"key" gorm:"primaryKey"`
	Payload   []byte     `json:"payload"`
	CachedAt  time.Time  `json:"cached_at"`
	ExpiresAt *time.Time `json:"expires_at" gorm:"index"`
}

// GameDetails is the normalized appdetails payload cached permanently
// per appid.
type GameDetails struct {
	AppID           string   `json:"appid"`
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	IsFree          bool     `json:"is_free"`
	Categories      []string `json:"categories,omitempty"`
	FamilySharing   bool     `json:"family_sharing"`
	ReviewCount     int      `json:"review_count"`
	DiscountPercent int      `json:"discount_percent"`
	PriceFinal      float64  `json:"price_final"`
	PriceInitial    float64  `json:"price_initial"`
	FinalFormatted  string   `json:"final_formatted,omitempty"`
}

// OwnedGames is the per-user owned-games payload.
type OwnedGames struct {
	SteamID string   `json:"steam_id"`
	AppIDs  []string `json:"appids"`
}

// Wishlist is the per-user wishlist payload.
type Wishlist struct {
	SteamID string   `json:"steam_id"`
	AppIDs  []string `json:"appids"`
}

// FamilyLibrary is the shared-library snapshot payload.
type FamilyLibrary struct {
	AppIDs    []string  `json:"appids"`
	FetchedAt time.Time `json:"fetched_at"`
}

// HistoricalLow is the ITAD historical-low payload per appid.
type HistoricalLow struct {
	AppID    string  `json:"appid"`
	GameID   string  `json:"game_id"` // ITAD internal identifier
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Shop     string  `json:"shop,omitempty"`
}

// DiscordName is the cached username payload per Discord ID.
type DiscordName struct {
	DiscordID string `json:"discord_id"`
	Username  string `json:"username"`
}

// DealCandidate is computed on demand from the details, ITAD and
// wishlist caches. Never persisted.
type DealCandidate struct {
	AppID           string   `json:"appid"`
	Name            string   `json:"name"`
	CurrentPrice    float64  `json:"current_price"`
	OriginalPrice   float64  `json:"original_price"`
	DiscountPercent int      `json:"discount_percent"`
	HistoricalLow   float64  `json:"historical_low"`
	InterestedUsers []string `json:"interested_users"`
}
