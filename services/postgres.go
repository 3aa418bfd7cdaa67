package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/alphabatem/common/context"
	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/model"
	"github.com/cratehub/cratehub_api/shared"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type PostgresService struct {
	context.DefaultService
	db *gorm.DB

	database string
}

const POSTGRES_SVC = "postgres_svc"

func (ds PostgresService) Id() string {
	return POSTGRES_SVC
}

func (ds PostgresService) Db() *gorm.DB {
	return ds.db
}

func (ds *PostgresService) Configure(ctx *context.Context) error {
	ds.database = os.Getenv("DATABASE_URL")
	if ds.database == "" {
		host := os.Getenv("DB_HOST")
		if host == "" {
			host = "localhost"
		}
		port := os.Getenv("DB_PORT")
		if port == "" {
			port = "5432"
		}
		user := os.Getenv("DB_USER")
		if user == "" {
			user = "postgres"
		}
		password := os.Getenv("DB_PASSWORD")
		if password == "" {
			password = "postgres"
		}
		dbname := os.Getenv("DB_NAME")
		if dbname == "" {
			dbname = "cratehub_api"
		}
		sslmode := os.Getenv("DB_SSLMODE")
		if sslmode == "" {
			sslmode = "disable"
		}

		ds.database = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			host, user, password, dbname, port, sslmode)
	}

	return ds.DefaultService.Configure(ctx)
}

func (ds *PostgresService) Start() (err error) {
	maxRetries := 10
	retryDelay := time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.Printf("Attempting to connect to database (attempt %d/%d)...", attempt, maxRetries)

		ds.db, err = gorm.Open(postgres.Open(ds.database), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Error),
		})

		if err == nil {
			sqlDB, dbErr := ds.db.DB()
			if dbErr == nil {
				pingErr := sqlDB.Ping()
				if pingErr == nil {
					break
				}
				err = pingErr
			} else {
				err = dbErr
			}
		}

		if attempt == maxRetries {
			log.Printf("Failed to connect to database after %d attempts: %v", maxRetries, err)
			return err
		}

		log.Printf("Database connection failed: %v. Retrying in %v...", err, retryDelay)
		time.Sleep(retryDelay)

		retryDelay *= 2
		if retryDelay > 10*time.Second {
			retryDelay = 10 * time.Second
		}
	}

	err = ds.db.AutoMigrate(
		&model.User{},
		&model.Subscription{},
		&model.OrgMembership{},
		&model.AnonymousUsage{},
		&model.Package{},
		&model.Collection{},
	)
	if err != nil {
		log.Printf("Failed to migrate database: %v", err)
		return err
	}

	log.Println("Database connected and migrated successfully")
	return nil
}

func (ds *PostgresService) Shutdown() {
	sqlDB, err := ds.db.DB()
	if err == nil {
		sqlDB.Close()
	}
}

func (ds *PostgresService) HandleError(err error) error {
	if err == nil {
		return nil
	}

	var statusCode int
	var errorType string

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		statusCode = http.StatusNotFound
		errorType = "NOT_FOUND"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		statusCode = http.StatusConflict
		errorType = "CONFLICT"
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		statusCode = http.StatusBadRequest
		errorType = "FOREIGN_KEY_VIOLATION"
	default:
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			statusCode = http.StatusConflict
			errorType = "UNIQUE_CONSTRAINT"
		} else if strings.Contains(err.Error(), "connection refused") {
			statusCode = http.StatusServiceUnavailable
			errorType = "DATABASE_CONNECTION_ERROR"
		} else {
			statusCode = http.StatusInternalServerError
			errorType = "INTERNAL_ERROR"
		}
	}

	logEntry := log.WithFields(log.Fields{
		"status_code": statusCode,
		"error_type":  errorType,
		"error":       err.Error(),
	})

	if statusCode >= 500 {
		logEntry.Error("Database error occurred")
	} else {
		logEntry.Warn("Database operation failed")
	}

	return fmt.Errorf("%s: %w", errorType, err)
}

// ==================== ANONYMOUS QUOTA METHODS ====================

// CheckAnonymousPlaygroundQuota reads the usage row for the fingerprint
// and month. Absence of a row means the full quota is available.
func (ds *PostgresService) CheckAnonymousPlaygroundQuota(fingerprintHash, month string) (*dto.QuotaCheckResult, error) {
	var usage model.AnonymousUsage
	err := ds.db.Where("fingerprint_hash = ? AND month = ?", fingerprintHash, month).First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &dto.QuotaCheckResult{HasQuota: true}, nil
		}
		return nil, err
	}

	firstUsed := usage.FirstUsedAt
	return &dto.QuotaCheckResult{
		HasQuota:    usage.UsageCount < shared.AnonymousQuotaLimit,
		UsageCount:  usage.UsageCount,
		FirstUsedAt: &firstUsed,
	}, nil
}

// ClaimAnonymousPlaygroundUsage atomically claims one free run. The
// ON CONFLICT increment only fires while usage_count is below the limit, so
// N concurrent claims for the same fingerprint net exactly one grant; the
// losers see RowsAffected == 0 and are reported as denied.
func (ds *PostgresService) ClaimAnonymousPlaygroundUsage(t dto.AnonTracking) (*dto.QuotaClaimResult, error) {
	now := time.Now()
	id, _ := uuid.NewV7()

	usage := model.AnonymousUsage{
		ID:              id.String(),
		FingerprintHash: t.FingerprintHash,
		Month:           t.Month,
		UsageCount:      1,
		FirstUsedAt:     now,
		LastIP:          t.IP,
		LastIPSubnet:    t.IPSubnet,
		LastUserAgent:   t.UserAgent,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	res := ds.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "fingerprint_hash"}, {Name: "month"}},
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("anonymous_usages.usage_count < ?", shared.AnonymousQuotaLimit),
		}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"usage_count":     gorm.Expr("anonymous_usages.usage_count + 1"),
			"last_ip":         t.IP,
			"last_ip_subnet":  t.IPSubnet,
			"last_user_agent": t.UserAgent,
			"updated_at":      now,
		}),
	}).Create(&usage)
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		check, err := ds.CheckAnonymousPlaygroundQuota(t.FingerprintHash, t.Month)
		if err != nil {
			return &dto.QuotaClaimResult{Granted: false, UsageCount: shared.AnonymousQuotaLimit}, nil
		}
		return &dto.QuotaClaimResult{
			Granted:     false,
			UsageCount:  check.UsageCount,
			FirstUsedAt: check.FirstUsedAt,
		}, nil
	}

	var current model.AnonymousUsage
	if err := ds.db.Where("fingerprint_hash = ? AND month = ?", t.FingerprintHash, t.Month).First(&current).Error; err != nil {
		return &dto.QuotaClaimResult{Granted: true, UsageCount: 1}, nil
	}

	firstUsed := current.FirstUsedAt
	return &dto.QuotaClaimResult{Granted: true, UsageCount: current.UsageCount, FirstUsedAt: &firstUsed}, nil
}

// ReleaseAnonymousPlaygroundUsage returns a claimed run after a request that
// did not produce a successful response.
func (ds *PostgresService) ReleaseAnonymousPlaygroundUsage(fingerprintHash, month string) error {
	return ds.db.Model(&model.AnonymousUsage{}).
		Where("fingerprint_hash = ? AND month = ? AND usage_count > 0", fingerprintHash, month).
		Update("usage_count", gorm.Expr("usage_count - 1")).Error
}

// RecordAnonymousRunDetails stores which package and model a granted run
// exercised. Best-effort metadata; the count was settled at claim time.
func (ds *PostgresService) RecordAnonymousRunDetails(t dto.AnonTracking) error {
	return ds.db.Model(&model.AnonymousUsage{}).
		Where("fingerprint_hash = ? AND month = ?", t.FingerprintHash, t.Month).
		Updates(map[string]interface{}{
			"last_package_id": t.PackageID,
			"last_model":      t.Model,
			"updated_at":      time.Now(),
		}).Error
}

// ==================== TIER LOOKUP ====================

// GetUserTier resolves the rate-limit tier for a user: verified org members
// outrank active subscribers, everyone else is free.
func (ds *PostgresService) GetUserTier(userID string) (string, error) {
	var orgCount int64
	if err := ds.db.Model(&model.OrgMembership{}).
		Where("user_id = ? AND is_verified = ?", userID, true).
		Count(&orgCount).Error; err != nil {
		return "", err
	}
	if orgCount > 0 {
		return shared.TierVerifiedOrgMember, nil
	}

	var subCount int64
	if err := ds.db.Model(&model.Subscription{}).
		Where("user_id = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)",
			userID, "active", time.Now()).
		Count(&subCount).Error; err != nil {
		return "", err
	}
	if subCount > 0 {
		return shared.TierSubscriber, nil
	}

	return shared.TierFree, nil
}

// ==================== USER METHODS ====================

func (ds *PostgresService) CreateUser(user *model.User) (*model.User, error) {
	if user.ID == "" {
		id, _ := uuid.NewV7()
		user.ID = id.String()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()

	if err := ds.db.Create(user).Error; err != nil {
		return nil, ds.HandleError(err)
	}
	return user, nil
}

func (ds *PostgresService) GetUser(userID string) (*model.User, error) {
	var user model.User
	if err := ds.db.Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, ds.HandleError(err)
	}
	return &user, nil
}

func (ds *PostgresService) GetUserByEmail(email string) (*model.User, error) {
	var user model.User
	if err := ds.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ==================== PACKAGE METHODS ====================

func (ds *PostgresService) CreatePackage(pkg *model.Package) (*model.Package, error) {
	if pkg.ID == "" {
		id, _ := uuid.NewV7()
		pkg.ID = id.String()
	}
	pkg.CreatedAt = time.Now()
	pkg.UpdatedAt = time.Now()

	if err := ds.db.Create(pkg).Error; err != nil {
		return nil, ds.HandleError(err)
	}
	return pkg, nil
}

func (ds *PostgresService) GetPackage(id string) (*model.Package, error) {
	var pkg model.Package
	if err := ds.db.Where("id = ?", id).First(&pkg).Error; err != nil {
		return nil, ds.HandleError(err)
	}
	return &pkg, nil
}

func (ds *PostgresService) ListPackages(search, category string, page, limit int) ([]model.Package, int64, error) {
	var packages []model.Package
	var total int64

	query := ds.db.Model(&model.Package{}).Where("is_published = ?", true)

	if search != "" {
		query = query.Where("name ILIKE ? OR description ILIKE ?", "%"+search+"%", "%"+search+"%")
	}
	if category != "" {
		query = query.Where("category = ?", category)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, ds.HandleError(err)
	}

	offset := (page - 1) * limit
	if err := query.Order("downloads DESC").Limit(limit).Offset(offset).Find(&packages).Error; err != nil {
		return nil, 0, ds.HandleError(err)
	}

	return packages, total, nil
}

func (ds *PostgresService) UpdatePackage(pkg *model.Package) error {
	pkg.UpdatedAt = time.Now()
	if err := ds.db.Save(pkg).Error; err != nil {
		return ds.HandleError(err)
	}
	return nil
}

func (ds *PostgresService) IncrementDownloads(packageID string) error {
	return ds.db.Model(&model.Package{}).Where("id = ?", packageID).
		Update("downloads", gorm.Expr("downloads + 1")).Error
}

// ==================== COLLECTION METHODS ====================

func (ds *PostgresService) CreateCollection(collection *model.Collection) (*model.Collection, error) {
	if collection.ID == "" {
		id, _ := uuid.NewV7()
		collection.ID = id.String()
	}
	collection.CreatedAt = time.Now()
	collection.UpdatedAt = time.Now()

	if err := ds.db.Create(collection).Error; err != nil {
		return nil, ds.HandleError(err)
	}
	return collection, nil
}

func (ds *PostgresService) GetCollection(id string) (*model.Collection, error) {
	var collection model.Collection
	if err := ds.db.Where("id = ?", id).First(&collection).Error; err != nil {
		return nil, ds.HandleError(err)
	}
	return &collection, nil
}

func (ds *PostgresService) ListCollectionsByOwner(ownerID string) ([]model.Collection, error) {
	var collections []model.Collection
	if err := ds.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&collections).Error; err != nil {
		return nil, ds.HandleError(err)
	}
	return collections, nil
}
