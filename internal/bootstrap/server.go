package bootstrap

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	app "github.com/mohammadpnp/roster-import/internal/application/user"
	"github.com/mohammadpnp/roster-import/internal/config"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/authz"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/cache"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/file"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/repository"
	httpecho "github.com/mohammadpnp/roster-import/internal/interfaces/http/echo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Infrastructure holds the shared connections the server is built on.
// Redis is nil unless INDEX_BACKEND is redis.
type Infrastructure struct {
	DB    *gorm.DB
	Pool  *pgxpool.Pool
	Redis redis.UniversalClient
}

// NewExistingIndex returns the Postgres lookup, fronted by Redis when one
// is configured.
func NewExistingIndex(cfg *config.Configuration, db *gorm.DB, rdb redis.UniversalClient) domain.ExistingRecordIndex {
	var index domain.ExistingRecordIndex = repository.NewExistingUserIndex(db)
	if cfg.Index.Backend == "redis" && rdb != nil {
		index = cache.NewRedisIndex(rdb, index, cfg.Index.Prefix, cfg.Index.TTL)
	}
	return index
}

func NewValidator(cfg *config.Configuration, index domain.ExistingRecordIndex) *app.Validator {
	return app.NewValidator(index, app.ValidatorConfig{
		Priority: app.StatusPriority(cfg.Import.StatusPriority),
	})
}

func NewNormalizer(cfg *config.Configuration) *app.FieldNormalizer {
	return app.NewFieldNormalizer(app.NormalizerConfig{
		MaxFileBytes: cfg.Import.MaxFileBytes,
		MaxRows:      cfg.Import.MaxRows,
	})
}

// NewRoleDefaults loads the casbin policy that default permissions are
// resolved from. The caller owns reloading it.
func NewRoleDefaults(cfg *config.Configuration, logger *logrus.Logger) (*authz.RoleDefaults, error) {
	return authz.NewRoleDefaults(authz.Config{
		ModelPath:  cfg.Authz.ModelPath,
		PolicyPath: cfg.Authz.PolicyPath,
		Logger:     logger.WithField("component", "role_defaults"),
	})
}

// NewBatchService wires the import workflow onto the given infrastructure.
func NewBatchService(cfg *config.Configuration, infra Infrastructure, roles domain.RoleDefaults, logger *logrus.Logger) *app.BatchService {
	index := NewExistingIndex(cfg, infra.DB, infra.Redis)
	// A caching index must forget identifiers a rollback removed.
	invalidator, _ := index.(domain.IdentifierInvalidator)

	store := repository.NewUserRecordStore(infra.Pool)
	jobRepo := repository.NewImportJobRepository(infra.DB)
	jobs := app.NewImportJobController(store, jobRepo, app.JobControllerConfig{
		RollbackWindow:    cfg.Import.RollbackWindow,
		ApplyRate:         cfg.Import.ApplyRate,
		RevertConcurrency: cfg.Import.RevertConcurrency,
		Invalidator:       invalidator,
		Logger:            logger.WithField("component", "import_job_controller"),
	})
	validator := NewValidator(cfg, index)

	return app.NewBatchService(app.BatchServiceDeps{
		Normalizer:  NewNormalizer(cfg),
		Validator:   validator,
		Selection:   app.NewSelectionManager(validator),
		Jobs:        jobs,
		Assignments: app.NewAssignmentStage(jobs, roles, store, logger.WithField("component", "assignment_stage")),
		Sheets:      file.NewSpreadsheetReader(),
		JobFinder:   jobRepo,
	})
}

func NewHTTPServer(cfg *config.Configuration, infra Infrastructure, roles domain.RoleDefaults, logger *logrus.Logger) *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true
	server.Validator = httpecho.NewRequestValidator()

	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	server.Use(httpecho.RequestLogger(logger.WithField("component", "http")))
	server.Use(middleware.BodyLimit(cfg.BodyLimit))

	batches := NewBatchService(cfg, infra, roles, logger)
	importHandler := httpecho.NewImportHandler(batches)
	jobHandler := httpecho.NewJobHandler(batches, logger.WithField("component", "job_handler"))
	userQueryRepo := repository.NewUserQueryRepository(infra.DB)
	getUserByID := app.NewGetUserByID(userQueryRepo)
	userHandler := httpecho.NewUserHandler(getUserByID)

	httpecho.RegisterRoutes(server, importHandler, jobHandler, userHandler)

	if cfg.Prometheus.Enabled {
		server.GET(cfg.Prometheus.Path, echo.WrapHandler(promhttp.Handler()))
	}
	server.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return server
}
