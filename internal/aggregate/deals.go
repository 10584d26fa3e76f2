package aggregate

import (
	"log"
	"sort"

	"steam-family-bot/internal/cache"
	"steam-family-bot/internal/models"
)

// Thresholds tune deal classification per call site: the scheduled
// check and an admin "force deals" can run different pairs.
type Thresholds struct {
	HighDiscount int     // % discount that qualifies alone
	LowDiscount  int     // % discount that needs a historical-low match
	LowBand      float64 // price <= historical_low * band
}

func DefaultThresholds() Thresholds {
	return Thresholds{HighDiscount: 30, LowDiscount: 15, LowBand: 1.2}
}

// IsDeal classifies one price point. The high threshold is inclusive;
// the historical-low band is exclusive at its upper edge, so a price
// sitting exactly at low*band does not qualify. A zero historical low
// means no ITAD data and only the high rule can fire.
func IsDeal(discountPercent int, currentPrice, historicalLow float64, th Thresholds) bool {
	if discountPercent >= th.HighDiscount {
		return true
	}
	if discountPercent < th.LowDiscount {
		return false
	}
	if historicalLow <= 0 {
		return false
	}
	return currentPrice < historicalLow*th.LowBand
}

// Finder joins the detail, ITAD and wishlist caches into user-facing
// aggregates. All methods are pure reads over the current cache
// snapshot.
type Finder struct {
	cache *cache.Typed
}

func NewFinder(c *cache.Typed) *Finder {
	return &Finder{cache: c}
}

// CommonWishlist returns the overlap map for the given members'
// cached wishlists. Members without fresh wishlist data are skipped.
func (f *Finder) CommonWishlist(steamIDs []string) map[string][]string {
	wishlists := make(map[string][]string, len(steamIDs))
	for _, id := range steamIDs {
		wl, err := f.cache.Wishlist(id)
		if err != nil {
			log.Printf("Wishlist read failed for %s: %v", id, err)
			continue
		}
		if wl == nil {
			continue
		}
		wishlists[id] = wl.AppIDs
	}
	return WishlistOverlap(wishlists)
}

// FilterShareable keeps the overlap appids that look like real,
// buyable games worth announcing: paid, family-shareable, with review
// signal, and not already in the shared library. Appids without cached
// details are dropped.
func (f *Finder) FilterShareable(overlap map[string][]string) map[string][]string {
	var owned map[string]bool
	if lib, err := f.cache.FamilyLibrary(); err == nil && lib != nil {
		owned = make(map[string]bool, len(lib.AppIDs))
		for _, id := range lib.AppIDs {
			owned[id] = true
		}
	}

	filtered := make(map[string][]string)
	for appid, users := range overlap {
		if owned[appid] {
			continue
		}
		details, err := f.cache.GameDetails(appid)
		if err != nil || details == nil {
			continue
		}
		if details.IsFree || !details.FamilySharing || details.ReviewCount == 0 {
			continue
		}
		filtered[appid] = users
	}
	return filtered
}

// Deals builds deal candidates for the given appids from the cached
// detail and ITAD data, resolving interested users from the wishlist
// overlap. Appids missing price data are skipped silently so a handler
// always gets a (possibly partial) result.
func (f *Finder) Deals(appids []string, interested map[string][]string, th Thresholds) []models.DealCandidate {
	var deals []models.DealCandidate
	for _, appid := range appids {
		details, err := f.cache.GameDetails(appid)
		if err != nil || details == nil || details.IsFree {
			continue
		}

		var histLow float64
		if low, err := f.cache.HistoricalLow(appid); err == nil && low != nil {
			histLow = low.Price
		}

		if !IsDeal(details.DiscountPercent, details.PriceFinal, histLow, th) {
			continue
		}

		deals = append(deals, models.DealCandidate{
			AppID:           appid,
			Name:            details.Name,
			CurrentPrice:    details.PriceFinal,
			OriginalPrice:   details.PriceInitial,
			DiscountPercent: details.DiscountPercent,
			HistoricalLow:   histLow,
			InterestedUsers: interested[appid],
		})
	}

	sort.Slice(deals, func(i, j int) bool {
		return deals[i].DiscountPercent > deals[j].DiscountPercent
	})
	return deals
}

// CommonLibrary intersects the cached owned-games lists for the given
// members.
func (f *Finder) CommonLibrary(steamIDs []string) []string {
	var lists [][]string
	for _, id := range steamIDs {
		owned, err := f.cache.OwnedGames(id)
		if err != nil {
			log.Printf("Owned games read failed for %s: %v", id, err)
			continue
		}
		if owned == nil {
			continue
		}
		lists = append(lists, owned.AppIDs)
	}
	return CommonGames(lists...)
}
