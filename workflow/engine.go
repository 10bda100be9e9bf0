package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/governance_backend/config"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("governance-engine")

// Engine is the governance engine. Every mutating operation authorizes the
// actor, takes the per-entity lock, and runs its domain write together with
// the audit write in a single transaction.
type Engine struct {
	DB         *gorm.DB
	Logger     *logrus.Logger
	Clock      utils.Clock
	Locker     Locker
	Authorizer Authorizer
	// Archive receives canonical generation snapshots. Nil disables archiving.
	Archive SnapshotArchive
	// OutboxEnabled enqueues an AuditOutboxRecord with every audit row.
	OutboxEnabled bool
}

func NewEngine(db *gorm.DB, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Engine{
		DB:         db,
		Logger:     logger,
		Clock:      utils.SystemClock{},
		Locker:     NewLocalLocker(),
		Authorizer: AllowAll{},
	}
}

func (e *Engine) now() time.Time {
	return e.Clock.Now().UTC()
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "workflow."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// authorize asks the external permission service whether actor may act.
func (e *Engine) authorize(ctx context.Context, actor Actor, perm Permission, resource Resource) error {
	if actor.Id == "" {
		return utils.NewInvalidInput("actor", "is required")
	}
	if e.Authorizer == nil || e.Authorizer.CanPerform(ctx, actor, perm, resource) {
		return nil
	}
	return utils.NewForbidden("actor " + actor.Id + " may not " + string(perm))
}

// inTx runs fn in one transaction; any error rolls back both the domain write
// and the audit write.
func (e *Engine) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := e.DB.WithContext(ctx).Transaction(fn)
	return e.mapStorageError(ctx, err)
}

func (e *Engine) mapStorageError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var ge *utils.GovernanceError
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return utils.NewStorageUnavailable(err)
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return utils.NewConflict("", "", "duplicate key")
	}
	if e.Logger != nil {
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		e.Logger.WithFields(logrus.Fields{
			"field":          "Engine",
			"correlation_id": correlationId,
		}).Error("storage failure: " + err.Error())
	}
	return utils.NewStorageUnavailable(err)
}
