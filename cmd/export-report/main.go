package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"steam-family-bot/internal/aggregate"
	"steam-family-bot/internal/cache"
	"steam-family-bot/internal/config"
	"steam-family-bot/internal/database"

	"github.com/joho/godotenv"
	"github.com/xuri/excelize/v2"
)

var (
	outFlag  = flag.String("out", "deals_report.xlsx", "output xlsx path")
	highFlag = flag.Int("high", 0, "high discount threshold override")
	lowFlag  = flag.Int("low", 0, "low discount threshold override")
)

// export-report renders the current cache state into a spreadsheet:
// one sheet of deal candidates over the wishlist overlap, one sheet of
// the common library. Pure cache reads, no upstream calls.
func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}

	store := cache.NewStore(db)
	policy := cache.TTLPolicy{
		OwnedGames:    cfg.OwnedGamesTTL,
		Wishlist:      cfg.WishlistTTL,
		FamilyLibrary: cfg.FamilyLibraryTTL,
		ITADPrice:     cfg.ITADPriceTTL,
		DiscordName:   cfg.DiscordNameTTL,
	}
	finder := aggregate.NewFinder(cache.NewTyped(store, policy))

	members, err := database.ListMembers(db)
	if err != nil {
		log.Fatal("Failed to list members:", err)
	}
	steamIDs := make([]string, 0, len(members))
	names := make(map[string]string, len(members))
	for _, m := range members {
		steamIDs = append(steamIDs, m.SteamID)
		names[m.SteamID] = m.FriendlyName
	}

	th := aggregate.Thresholds{
		HighDiscount: cfg.DealHighDiscount,
		LowDiscount:  cfg.DealLowDiscount,
		LowBand:      cfg.DealLowBand,
	}
	if *highFlag > 0 {
		th.HighDiscount = *highFlag
	}
	if *lowFlag > 0 {
		th.LowDiscount = *lowFlag
	}

	overlap := finder.FilterShareable(finder.CommonWishlist(steamIDs))
	appids := make([]string, 0, len(overlap))
	for appid := range overlap {
		appids = append(appids, appid)
	}
	deals := finder.Deals(appids, overlap, th)
	common := finder.CommonLibrary(steamIDs)

	f := excelize.NewFile()
	defer f.Close()

	dealSheet := "Deals"
	f.SetSheetName("Sheet1", dealSheet)
	headers := []string{"AppID", "Name", "Current Price", "Original Price", "Discount %", "Historical Low", "Interested"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(dealSheet, cell, h)
	}
	for row, d := range deals {
		interested := make([]string, 0, len(d.InterestedUsers))
		for _, id := range d.InterestedUsers {
			if name, ok := names[id]; ok {
				interested = append(interested, name)
			} else {
				interested = append(interested, id)
			}
		}
		values := []interface{}{d.AppID, d.Name, d.CurrentPrice, d.OriginalPrice, d.DiscountPercent, d.HistoricalLow, strings.Join(interested, ", ")}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(dealSheet, cell, v)
		}
	}

	commonSheet := "Common Library"
	f.NewSheet(commonSheet)
	f.SetCellValue(commonSheet, "A1", "AppID")
	for row, appid := range common {
		f.SetCellValue(commonSheet, fmt.Sprintf("A%d", row+2), appid)
	}

	if err := f.SaveAs(*outFlag); err != nil {
		log.Fatal("Failed to write report:", err)
	}
	log.Printf("Wrote %s: %d deals, %d common games for %d members", *outFlag, len(deals), len(common), len(members))
}
