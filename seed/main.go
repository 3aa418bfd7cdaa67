package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/cratehub/cratehub_api/model"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	var (
		seedType = flag.String("type", "all", "Type of seeding: all, users, packages")
		help     = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	db, err := gorm.Open(postgres.Open(dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&model.User{}, &model.Subscription{}, &model.OrgMembership{}, &model.AnonymousUsage{}, &model.Package{}, &model.Collection{}); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	switch *seedType {
	case "all":
		log.Println("Running complete database seeding...")
		if err := seedUsers(db); err != nil {
			log.Fatalf("Failed to seed users: %v", err)
		}
		if err := seedPackages(db); err != nil {
			log.Fatalf("Failed to seed packages: %v", err)
		}
	case "users":
		if err := seedUsers(db); err != nil {
			log.Fatalf("Failed to seed users: %v", err)
		}
	case "packages":
		if err := seedPackages(db); err != nil {
			log.Fatalf("Failed to seed packages: %v", err)
		}
	default:
		log.Fatalf("Unknown seed type: %s. Use 'all', 'users', or 'packages'", *seedType)
	}

	log.Println("Seeding completed successfully")
}

func dsn() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	user := envOr("DB_USER", "postgres")
	pass := os.Getenv("DB_PASSWORD")
	name := envOr("DB_NAME", "cratehub_api")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", host, port, user, pass, name)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func seedUsers(db *gorm.DB) error {
	password := envOr("SEED_ADMIN_PASSWORD", "ChangeMe123!")
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := model.User{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Email:    envOr("SEED_ADMIN_EMAIL", "admin@cratehub.dev"),
		Username: "admin",
		Password: string(hash),
		Role:     model.RoleAdmin,
		IsActive: true,
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&admin).Error
}

func seedPackages(db *gorm.DB) error {
	var admin model.User
	if err := db.Where("role = ?", model.RoleAdmin).First(&admin).Error; err != nil {
		return fmt.Errorf("seed users before packages: %w", err)
	}

	packages := []model.Package{
		{Name: "http-retry", Description: "Retrying HTTP client wrapper with jittered backoff", Category: "networking", Version: "1.4.2"},
		{Name: "csv-stream", Description: "Streaming CSV parser for large files", Category: "parsing", Version: "0.9.1"},
		{Name: "memo-cache", Description: "In-process memoization cache with TTL eviction", Category: "caching", Version: "2.1.0"},
		{Name: "cfg-loader", Description: "Layered configuration loader for env, files and flags", Category: "config", Version: "1.0.3"},
	}

	for i := range packages {
		packages[i].ID = uuid.Must(uuid.NewV7()).String()
		packages[i].OwnerID = admin.ID
		packages[i].IsPublished = true
		packages[i].CreatedAt = time.Now()
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&packages).Error
}

func showHelp() {
	fmt.Println("Database Seeding Tool")
	fmt.Println()
	fmt.Println("Usage: go run seed/main.go [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -type string   Type of seeding: all, users, packages (default \"all\")")
	fmt.Println("  -help          Show this help message")
}
