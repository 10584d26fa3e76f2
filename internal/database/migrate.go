package database

import (
	"bufio"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"steam-family-bot/internal/models"

	"gorm.io/gorm"
)

var legacyOnce sync.Once

// ImportLegacyState seeds the family-member table from the static
// config list and imports the old flat-file registration and
// saved-games state. Guarded by a process-local sync.Once so repeated
// calls from startup paths do not re-read the files; the upserts make
// a second process run a no-op as well.
func ImportLegacyState(db *gorm.DB, seedMembers, registrationsPath, savedGamesPath string) {
	legacyOnce.Do(func() {
		importSeedMembers(db, seedMembers)
		importRegistrations(db, registrationsPath)
		importSavedGames(db, savedGamesPath)
	})
}

// importSeedMembers parses "steamid:name,steamid:name".
func importSeedMembers(db *gorm.DB, seed string) {
	if seed == "" {
		return
	}
	count := 0
	for _, entry := range strings.Split(seed, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		m := models.FamilyMember{
			SteamID:      parts[0],
			FriendlyName: parts[1],
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		if err := UpsertMember(db, &m); err != nil {
			log.Printf("Seed member %s import failed: %v", parts[0], err)
			continue
		}
		count++
	}
	if count > 0 {
		log.Printf("Imported %d seed family members", count)
	}
}

// importRegistrations reads "discordid:steamid" lines.
func importRegistrations(db *gorm.DB, path string) {
	f, err := os.Open(path)
	if err != nil {
		return // no legacy file, nothing to do
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if err := Register(db, parts[0], parts[1]); err != nil {
			log.Printf("Legacy registration %s import failed: %v", parts[0], err)
			continue
		}
		count++
	}
	if count > 0 {
		log.Printf("Imported %d legacy registrations from %s", count, path)
	}
}

// importSavedGames reads one appid per line. Existing rows are kept so
// detection timestamps survive re-imports.
func importSavedGames(db *gorm.DB, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		appid := strings.TrimSpace(scanner.Text())
		if appid == "" {
			continue
		}
		res := db.Where(models.SavedGame{AppID: appid}).
			FirstOrCreate(&models.SavedGame{AppID: appid, DetectedAt: time.Now()})
		if res.Error != nil {
			log.Printf("Legacy saved game %s import failed: %v", appid, res.Error)
			continue
		}
		count++
	}
	if count > 0 {
		log.Printf("Imported %d legacy saved games from %s", count, path)
	}
}

// ResetLegacyImportForTest clears the once guard so tests can exercise
// the import twice.
func ResetLegacyImportForTest() {
	legacyOnce = sync.Once{}
}
