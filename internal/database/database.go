package database

import (
	"fmt"
	"log"
	"time"

	"steam-family-bot/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Cache table names, one per resource kind. They share the CacheRow
// shape; gorm is pointed at them via Table().
const (
	TableGameDetails   = "game_details_cache"
	TableOwnedGames    = "owned_games_cache"
	TableWishlist      = "wishlist_cache"
	TableFamilyLibrary = "family_library_cache"
	TableITADPrice     = "itad_price_cache"
	TableDiscordName   = "discord_name_cache"
)

var cacheTables = []string{
	TableGameDetails,
	TableOwnedGames,
	TableWishlist,
	TableFamilyLibrary,
	TableITADPrice,
	TableDiscordName,
}

func CacheTables() []string {
	out := make([]string, len(cacheTables))
	copy(out, cacheTables)
	return out
}

// Initialize opens the SQLite database file and creates the schema
// idempotently. An inaccessible database file is fatal to startup, so
// the error propagates to the caller.
func Initialize(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// SQLite is single-writer; one open connection keeps transactions
	// short and non-overlapping.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&models.FamilyMember{},
		&models.UserRegistration{},
		&models.SavedGame{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate entity tables: %w", err)
	}

	for _, table := range cacheTables {
		if err := db.Table(table).AutoMigrate(&models.CacheRow{}); err != nil {
			return nil, fmt.Errorf("failed to migrate cache table %s: %w", table, err)
		}
	}

	log.Println("Database initialized successfully")
	return db, nil
}

// UpsertMember inserts or updates a family member keyed by steam ID.
// An existing discord link is kept when the incoming record has none.
func UpsertMember(db *gorm.DB, m *models.FamilyMember) error {
	assignments := map[string]interface{}{
		"friendly_name": m.FriendlyName,
		"updated_at":    time.Now(),
	}
	if m.DiscordID != nil {
		assignments["discord_id"] = *m.DiscordID
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "steam_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(m).Error
}

func ListMembers(db *gorm.DB) ([]models.FamilyMember, error) {
	var members []models.FamilyMember
	if err := db.Order("friendly_name").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to list family members: %w", err)
	}
	return members, nil
}

func MemberBySteamID(db *gorm.DB, steamID string) (*models.FamilyMember, error) {
	var m models.FamilyMember
	err := db.First(&m, "steam_id = ?", steamID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Register links a Discord account to a Steam account. The upsert keyed
// on discord_id plus the unique index on steam_id keeps the mapping 1:1
// in both directions; re-registering the same pair is a no-op.
func Register(db *gorm.DB, discordID, steamID string) error {
	reg := models.UserRegistration{
		DiscordID: discordID,
		SteamID:   steamID,
		CreatedAt: time.Now(),
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "discord_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"steam_id": steamID}),
	}).Create(&reg).Error
}

func RegistrationByDiscordID(db *gorm.DB, discordID string) (*models.UserRegistration, error) {
	var reg models.UserRegistration
	err := db.First(&reg, "discord_id = ?", discordID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// SavedGameIDs returns the set of appids already announced.
func SavedGameIDs(db *gorm.DB) (map[string]bool, error) {
	var saved []models.SavedGame
	if err := db.Find(&saved).Error; err != nil {
		return nil, fmt.Errorf("failed to load saved games: %w", err)
	}
	ids := make(map[string]bool, len(saved))
	for _, g := range saved {
		ids[g.AppID] = true
	}
	return ids, nil
}

// ReplaceSavedGames swaps the announced-games set wholesale inside one
// transaction, the replace-all semantics the new-game check relies on.
func ReplaceSavedGames(db *gorm.DB, appIDs []string) error {
	now := time.Now()
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.SavedGame{}).Error; err != nil {
			return err
		}
		for _, id := range appIDs {
			if err := tx.Create(&models.SavedGame{AppID: id, DetectedAt: now}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
