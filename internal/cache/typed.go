package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"steam-family-bot/internal/models"
)

// TTLPolicy holds the per-kind expiry policy. Game details are
// permanent; everything else is refreshable.
type TTLPolicy struct {
	OwnedGames    time.Duration
	Wishlist      time.Duration
	FamilyLibrary time.Duration
	ITADPrice     time.Duration
	DiscordName   time.Duration
}

func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		OwnedGames:    6 * time.Hour,
		Wishlist:      2 * time.Hour,
		FamilyLibrary: 30 * time.Minute,
		ITADPrice:     6 * time.Hour,
		DiscordName:   time.Hour,
	}
}

// TTL returns the policy duration for a kind (Permanent for details).
func (p TTLPolicy) TTL(kind Kind) time.Duration {
	switch kind {
	case KindOwnedGames:
		return p.OwnedGames
	case KindWishlist:
		return p.Wishlist
	case KindFamilyLibrary:
		return p.FamilyLibrary
	case KindITADPrice:
		return p.ITADPrice
	case KindDiscordName:
		return p.DiscordName
	}
	return Permanent
}

// Typed wraps the raw Store with per-kind payload marshalling so
// callers never touch raw rows.
type Typed struct {
	Store  *Store
	Policy TTLPolicy
}

func NewTyped(store *Store, policy TTLPolicy) *Typed {
	return &Typed{Store: store, Policy: policy}
}

func getAs[T any](s *Store, kind Kind, key string) (*T, error) {
	payload, err := s.Get(kind, key)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("cache payload %s/%s: %w", kind, key, err)
	}
	return &v, nil
}

func (t *Typed) put(kind Kind, key string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s/%s: %w", kind, key, err)
	}
	return t.Store.Put(kind, key, payload, t.Policy.TTL(kind))
}

func (t *Typed) GameDetails(appid string) (*models.GameDetails, error) {
	return getAs[models.GameDetails](t.Store, KindGameDetails, appid)
}

func (t *Typed) PutGameDetails(d *models.GameDetails) error {
	return t.put(KindGameDetails, d.AppID, d)
}

func (t *Typed) OwnedGames(steamID string) (*models.OwnedGames, error) {
	return getAs[models.OwnedGames](t.Store, KindOwnedGames, steamID)
}

func (t *Typed) PutOwnedGames(o *models.OwnedGames) error {
	return t.put(KindOwnedGames, o.SteamID, o)
}

func (t *Typed) Wishlist(steamID string) (*models.Wishlist, error) {
	return getAs[models.Wishlist](t.Store, KindWishlist, steamID)
}

func (t *Typed) PutWishlist(w *models.Wishlist) error {
	return t.put(KindWishlist, w.SteamID, w)
}

// FamilyLibrary uses a single well-known key; there is one family.
const familyLibraryKey = "family"

func (t *Typed) FamilyLibrary() (*models.FamilyLibrary, error) {
	return getAs[models.FamilyLibrary](t.Store, KindFamilyLibrary, familyLibraryKey)
}

func (t *Typed) PutFamilyLibrary(l *models.FamilyLibrary) error {
	return t.put(KindFamilyLibrary, familyLibraryKey, l)
}

func (t *Typed) HistoricalLow(appid string) (*models.HistoricalLow, error) {
	return getAs[models.HistoricalLow](t.Store, KindITADPrice, appid)
}

func (t *Typed) PutHistoricalLow(h *models.HistoricalLow) error {
	return t.put(KindITADPrice, h.AppID, h)
}

func (t *Typed) DiscordName(discordID string) (*models.DiscordName, error) {
	return getAs[models.DiscordName](t.Store, KindDiscordName, discordID)
}

func (t *Typed) PutDiscordName(n *models.DiscordName) error {
	return t.put(KindDiscordName, n.DiscordID, n)
}
