package aggregate

import (
	"sort"
)

// CommonGames intersects the owned-game lists of N users, pairwise
// reduced, and returns the shared appids sorted. Zero lists intersect
// to nothing; a single list is its own intersection. Input ordering is
// irrelevant.
func CommonGames(lists ...[]string) []string {
	if len(lists) == 0 {
		return []string{}
	}

	common := make(map[string]bool, len(lists[0]))
	for _, id := range lists[0] {
		common[id] = true
	}

	for _, list := range lists[1:] {
		next := make(map[string]bool, len(list))
		for _, id := range list {
			if common[id] {
				next[id] = true
			}
		}
		common = next
	}

	out := make([]string, 0, len(common))
	for id := range common {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// WishlistOverlap maps each appid to the steam IDs that want it,
// keeping only appids wanted by two or more members. The interested
// lists come back sorted for stable output.
func WishlistOverlap(wishlists map[string][]string) map[string][]string {
	interested := make(map[string][]string)
	for steamID, appids := range wishlists {
		seen := make(map[string]bool, len(appids))
		for _, appid := range appids {
			if seen[appid] {
				continue
			}
			seen[appid] = true
			interested[appid] = append(interested[appid], steamID)
		}
	}

	overlap := make(map[string][]string)
	for appid, users := range interested {
		if len(users) < 2 {
			continue
		}
		sort.Strings(users)
		overlap[appid] = users
	}
	return overlap
}
