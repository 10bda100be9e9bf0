package workflow

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

func (e *Engine) CreatePeriod(ctx context.Context, actor Actor, input models.NewReportingPeriod) (result *models.ReportingPeriod, err error) {
	ctx, span := e.startSpan(ctx, "CreatePeriod")
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if input.EndDate.Before(input.StartDate.Time) {
		err = utils.NewInvalidInput("end_date", "must not be before start_date")
		return nil, err
	}
	if err = e.authorize(ctx, actor, PermPeriodWrite, Resource{Type: models.EntityReportingPeriod}); err != nil {
		return nil, err
	}

	period := models.ReportingPeriod{
		Name:      strings.TrimSpace(input.Name),
		StartDate: utils.DateOnly(input.StartDate.Time),
		EndDate:   utils.DateOnly(input.EndDate.Time),
	}
	period.Stamp(e.now())
	err = e.inTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&period).Error; err != nil {
			return err
		}
		var changes changeSet
		changes.add("name", "", period.Name)
		changes.add("start_date", "", dateOrEmpty(&period.StartDate))
		changes.add("end_date", "", dateOrEmpty(&period.EndDate))
		_, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionCreate,
			EntityType: models.EntityReportingPeriod,
			EntityId:   period.ID,
			Changes:    changes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &period, nil
}

func (e *Engine) GetPeriod(ctx context.Context, id string) (result *models.ReportingPeriod, err error) {
	ctx, span := e.startSpan(ctx, "GetPeriod", attribute.String("period_id", id))
	defer func() { endSpan(span, err) }()

	result, err = fetchById[models.ReportingPeriod](e.DB.WithContext(ctx), models.EntityReportingPeriod, id)
	if err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return result, nil
}

// CreateGeneration stores a new draft generation of the period's report. The
// checksum is the SHA-256 of the canonical snapshot encoding, so identical
// content always yields the identical checksum.
func (e *Engine) CreateGeneration(ctx context.Context, actor Actor, periodId string, input models.NewGeneration) (result *models.Generation, err error) {
	ctx, span := e.startSpan(ctx, "CreateGeneration", attribute.String("period_id", periodId))
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateInput(input); err != nil {
		return nil, err
	}
	snapshot, err := normalizeSnapshot(input.Snapshot)
	if err != nil {
		return nil, err
	}
	canonical, err := utils.CanonicalJSON(snapshot)
	if err != nil {
		err = utils.NewInvalidInput("snapshot", "cannot be encoded: "+err.Error())
		return nil, err
	}
	checksum := utils.Checksum(canonical)
	sectionCount, dataPointCount := snapshot.Counts()

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		period, err := fetchById[models.ReportingPeriod](tx, models.EntityReportingPeriod, periodId)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, actor, PermGenerationCreate, Resource{Type: models.EntityReportingPeriod, Id: period.ID}); err != nil {
			return err
		}
		if e.Archive != nil {
			if err := e.Archive.Put(ctx, checksum, canonical); err != nil {
				return utils.NewStorageUnavailable(err)
			}
		}

		now := e.now()
		generation := models.Generation{
			PeriodId:       period.ID,
			Status:         models.GenerationStatusDraft,
			Checksum:       checksum,
			SectionCount:   sectionCount,
			DataPointCount: dataPointCount,
			GeneratedBy:    actor.Id,
			GeneratedAt:    now,
			VariantName:    normalizeNote(input.VariantName),
			Note:           normalizeNote(input.Note),
			Snapshot:       string(canonical),
		}
		generation.Stamp(now)
		if err := tx.Create(&generation).Error; err != nil {
			return err
		}

		var changes changeSet
		changes.add("period_id", "", generation.PeriodId)
		changes.add("status", "", string(generation.Status))
		changes.add("checksum", "", generation.Checksum)
		changes.add("section_count", "", strconv.Itoa(generation.SectionCount))
		changes.add("data_point_count", "", strconv.Itoa(generation.DataPointCount))
		changes.add("variant_name", "", strOrEmpty(generation.VariantName))
		if _, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionCreate,
			EntityType: models.EntityGeneration,
			EntityId:   generation.ID,
			Changes:    changes,
			Note:       generation.Note,
		}); err != nil {
			return err
		}
		result = &generation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// normalizeSnapshot trims ids, replaces nil slices with empty ones and rejects
// duplicate section or data point ids. Order is kept as rendered. All text
// must be valid UTF-8.
func normalizeSnapshot(in models.ReportSnapshot) (models.ReportSnapshot, error) {
	out := models.ReportSnapshot{Sections: make([]models.SnapshotSection, 0, len(in.Sections))}
	seenSections := make(map[string]bool, len(in.Sections))
	seenDataPoints := make(map[string]bool)
	for _, section := range in.Sections {
		section.SectionId = strings.TrimSpace(section.SectionId)
		if err := requireUTF8("section_id", section.SectionId, "title", section.Title); err != nil {
			return models.ReportSnapshot{}, err
		}
		if seenSections[section.SectionId] {
			return models.ReportSnapshot{}, utils.NewInvalidInput("section_id", "duplicate section "+section.SectionId)
		}
		seenSections[section.SectionId] = true

		dataPoints := make([]models.SnapshotDataPoint, 0, len(section.DataPoints))
		for _, dp := range section.DataPoints {
			dp.DataPointId = strings.TrimSpace(dp.DataPointId)
			dp.CompletenessStatus = models.ParseCompletenessStatus(string(dp.CompletenessStatus))
			if err := requireUTF8("data_point_id", dp.DataPointId, "name", dp.Name, "value", dp.Value,
				"unit", dp.Unit, "completeness_status", string(dp.CompletenessStatus)); err != nil {
				return models.ReportSnapshot{}, err
			}
			for key, value := range dp.Attributes {
				if err := requireUTF8("attributes", key, "attributes", value); err != nil {
					return models.ReportSnapshot{}, err
				}
			}
			if seenDataPoints[dp.DataPointId] {
				return models.ReportSnapshot{}, utils.NewInvalidInput("data_point_id", "duplicate data point "+dp.DataPointId)
			}
			seenDataPoints[dp.DataPointId] = true
			dataPoints = append(dataPoints, dp)
		}
		section.DataPoints = dataPoints
		out.Sections = append(out.Sections, section)
	}
	return out, nil
}

// requireUTF8 takes field/value pairs and reports the first value that is not
// valid UTF-8 as InvalidInput on its field.
func requireUTF8(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if !utf8.ValidString(pairs[i+1]) {
			return utils.NewInvalidInput(pairs[i], "must be valid UTF-8 text")
		}
	}
	return nil
}

func (e *Engine) GetGeneration(ctx context.Context, id string) (result *models.Generation, err error) {
	ctx, span := e.startSpan(ctx, "GetGeneration", attribute.String("generation_id", id))
	defer func() { endSpan(span, err) }()

	result, err = fetchById[models.Generation](e.DB.WithContext(ctx), models.EntityGeneration, id)
	if err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return result, nil
}

// ListHistory returns every generation of the period, final or not, newest first.
func (e *Engine) ListHistory(ctx context.Context, periodId string) (results []*models.Generation, err error) {
	ctx, span := e.startSpan(ctx, "ListHistory", attribute.String("period_id", periodId))
	defer func() { endSpan(span, err) }()

	db := e.DB.WithContext(ctx)
	if _, err = fetchById[models.ReportingPeriod](db, models.EntityReportingPeriod, periodId); err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	if err = db.Where("period_id = ?", periodId).Order("generated_at DESC").Order("id DESC").Find(&results).Error; err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return results, nil
}

// MarkFinal flags a draft generation as final. The transition is one-way.
func (e *Engine) MarkFinal(ctx context.Context, actor Actor, id string, note *string) (result *models.Generation, err error) {
	ctx, span := e.startSpan(ctx, "MarkFinal", attribute.String("generation_id", id))
	defer func() { endSpan(span, err) }()

	unlock, err := e.lockEntity(ctx, models.EntityGeneration, id)
	defer unlock()
	if err != nil {
		return nil, err
	}

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		generation, err := fetchById[models.Generation](tx, models.EntityGeneration, id)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, actor, PermGenerationFinalize, Resource{Type: models.EntityGeneration, Id: generation.ID}); err != nil {
			return err
		}
		if generation.IsFinal() {
			return utils.NewInvalidTransition(models.EntityGeneration, generation.ID, "generation is already final")
		}

		now := e.now()
		markedBy := actor.Id
		if err := saveVersioned[models.Generation](tx, models.EntityGeneration, generation.ID, generation.Version, map[string]interface{}{
			"status":          models.GenerationStatusFinal,
			"marked_final_at": &now,
			"marked_final_by": &markedBy,
		}, now); err != nil {
			return err
		}

		var changes changeSet
		changes.add("status", string(generation.Status), string(models.GenerationStatusFinal))
		changes.add("marked_final_at", "", timeOrEmpty(&now))
		changes.add("marked_final_by", "", markedBy)

		generation.Status = models.GenerationStatusFinal
		generation.MarkedFinalAt = &now
		generation.MarkedFinalBy = &markedBy
		generation.Version++
		generation.UpdatedAt = now

		if _, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionMarkFinal,
			EntityType: models.EntityGeneration,
			EntityId:   generation.ID,
			Changes:    changes,
			Note:       note,
		}); err != nil {
			return err
		}
		result = generation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CanonicalGeneration is the period's most recently finalised generation.
func (e *Engine) CanonicalGeneration(ctx context.Context, periodId string) (result *models.Generation, err error) {
	ctx, span := e.startSpan(ctx, "CanonicalGeneration", attribute.String("period_id", periodId))
	defer func() { endSpan(span, err) }()

	db := e.DB.WithContext(ctx)
	if _, err = fetchById[models.ReportingPeriod](db, models.EntityReportingPeriod, periodId); err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	var generation models.Generation
	err = db.Where("period_id = ? AND status = ?", periodId, models.GenerationStatusFinal).
		Order("marked_final_at DESC").Order("id DESC").
		First(&generation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = &utils.GovernanceError{
			Kind:    utils.ErrorKindNotFound,
			Entity:  models.EntityGeneration,
			Message: "period " + periodId + " has no final generation",
			Err:     utils.ErrorRecordNotFound,
		}
		return nil, err
	}
	if err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return &generation, nil
}

// VerifyGeneration recomputes the checksum of the stored snapshot.
func (e *Engine) VerifyGeneration(ctx context.Context, id string) (result *models.GenerationVerification, err error) {
	ctx, span := e.startSpan(ctx, "VerifyGeneration", attribute.String("generation_id", id))
	defer func() { endSpan(span, err) }()

	generation, err := fetchById[models.Generation](e.DB.WithContext(ctx), models.EntityGeneration, id)
	if err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return verify(generation), nil
}

// VerifyPeriod verifies every generation of a period, or of all periods when periodId is empty.
func (e *Engine) VerifyPeriod(ctx context.Context, periodId string) (results []*models.GenerationVerification, err error) {
	ctx, span := e.startSpan(ctx, "VerifyPeriod", attribute.String("period_id", periodId))
	defer func() { endSpan(span, err) }()

	db := e.DB.WithContext(ctx)
	if periodId != "" {
		if _, err = fetchById[models.ReportingPeriod](db, models.EntityReportingPeriod, periodId); err != nil {
			err = e.mapStorageError(ctx, err)
			return nil, err
		}
		db = db.Where("period_id = ?", periodId)
	}
	var generations []*models.Generation
	if err = db.Order("generated_at ASC").Order("id ASC").Find(&generations).Error; err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	results = make([]*models.GenerationVerification, 0, len(generations))
	for _, generation := range generations {
		results = append(results, verify(generation))
	}
	return results, nil
}

func verify(generation *models.Generation) *models.GenerationVerification {
	computed := utils.Checksum([]byte(generation.Snapshot))
	return &models.GenerationVerification{
		GenerationId:     generation.ID,
		StoredChecksum:   generation.Checksum,
		ComputedChecksum: computed,
		Valid:            computed == generation.Checksum,
	}
}
