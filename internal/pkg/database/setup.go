package database

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/opalvpn/opald/app/models"
	"github.com/opalvpn/opald/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// GetDB returns the global database handle.
func GetDB() *gorm.DB {
	return DB
}

// SetDB replaces the global handle; used by tests to point the package at an
// in-memory database.
func SetDB(db *gorm.DB) {
	DB = db
}

// SetupDatabase connects using DB_DSN when set (sqlite or mysql DSN), or the
// classic DB_USER/DB_PASSWORD/DB_HOST/DB_NAME variables for MySQL. Retries a
// few times so the service survives the database container coming up late.
func SetupDatabase() {
	dsn := env.GetEnv("DB_DSN", "")
	if dsn == "" {
		// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			env.GetEnv("DB_USER", ""),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_HOST", "127.0.0.1"),
			env.GetEnv("DB_PORT", "3306"),
			env.GetEnv("DB_NAME", ""),
		)
	}

	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = Open(dsn)
		if err == nil {
			if errMigrate := Migrate(DB); errMigrate != nil {
				panic(errMigrate)
			}
			return
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	panic(err)
}

// Open opens a GORM connection, picking the driver from the DSN shape.
// Duplicate-key errors are translated so callers can match
// gorm.ErrDuplicatedKey regardless of dialect.
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{TranslateError: true}
	if isSQLiteDSN(dsn) {
		return gorm.Open(sqlite.Open(normalizeSQLiteDSN(dsn)), cfg)
	}
	return gorm.Open(mysql.New(mysql.Config{
		DSN:                       dsn,
		DefaultStringSize:         256,
		DisableDatetimePrecision:  true,
		DontSupportRenameIndex:    true,
		DontSupportRenameColumn:   true,
		SkipInitializeWithVersion: false,
	}), cfg)
}

// Migrate creates or updates the ledger tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Account{},
		&models.Invoice{},
	)
}

func isSQLiteDSN(dsn string) bool {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "file:"),
		strings.HasPrefix(lower, "sqlite://"),
		lower == ":memory:":
		return true
	}
	return false
}

func normalizeSQLiteDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(trimmed), "sqlite://") {
		return "file:" + trimmed[len("sqlite://"):]
	}
	return trimmed
}
