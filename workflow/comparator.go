package workflow

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// CompareGenerations diffs the stored snapshots of two generations in the
// direction from -> to. It reads only and writes no audit entry.
func (e *Engine) CompareGenerations(ctx context.Context, fromId string, toId string) (result *models.GenerationDiff, err error) {
	ctx, span := e.startSpan(ctx, "CompareGenerations",
		attribute.String("from_generation_id", fromId),
		attribute.String("to_generation_id", toId))
	defer func() { endSpan(span, err) }()

	db := e.DB.WithContext(ctx)
	from, err := fetchById[models.Generation](db, models.EntityGeneration, fromId)
	if err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	to, err := fetchById[models.Generation](db, models.EntityGeneration, toId)
	if err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	fromSnapshot, err := from.DecodeSnapshot()
	if err != nil {
		err = utils.NewStorageUnavailable(err)
		return nil, err
	}
	toSnapshot, err := to.DecodeSnapshot()
	if err != nil {
		err = utils.NewStorageUnavailable(err)
		return nil, err
	}

	result = DiffSnapshots(*fromSnapshot, *toSnapshot)
	result.FromGenerationId = from.ID
	result.ToGenerationId = to.ID
	result.ChecksumsEqual = from.Checksum == to.Checksum
	return result, nil
}

type locatedDataPoint struct {
	sectionId string
	dataPoint models.SnapshotDataPoint
}

// DiffSnapshots compares sections by section id and data points by data point
// id. Items only in from are removed, only in to are added, and items in both
// with a different value are changed. A section also counts as changed when
// its title or its set of data points differs.
func DiffSnapshots(from models.ReportSnapshot, to models.ReportSnapshot) *models.GenerationDiff {
	diff := &models.GenerationDiff{Changes: []models.DiffItem{}}

	fromSections := indexSections(from)
	toSections := indexSections(to)
	fromDataPoints := indexDataPoints(from)
	toDataPoints := indexDataPoints(to)

	for _, section := range from.Sections {
		other, ok := toSections[section.SectionId]
		if !ok {
			diff.Sections.Removed++
			diff.Changes = append(diff.Changes, models.DiffItem{Kind: models.DiffKindRemoved, SectionId: section.SectionId})
			continue
		}
		if sectionChanged(section, other) {
			diff.Sections.Changed++
			diff.Changes = append(diff.Changes, models.DiffItem{Kind: models.DiffKindChanged, SectionId: section.SectionId})
		}
	}
	for _, section := range to.Sections {
		if _, ok := fromSections[section.SectionId]; !ok {
			diff.Sections.Added++
			diff.Changes = append(diff.Changes, models.DiffItem{Kind: models.DiffKindAdded, SectionId: section.SectionId})
		}
	}

	for _, section := range from.Sections {
		for _, dp := range section.DataPoints {
			other, ok := toDataPoints[dp.DataPointId]
			if !ok {
				diff.DataPoints.Removed++
				oldValue := dp.Value
				diff.Changes = append(diff.Changes, models.DiffItem{
					Kind:        models.DiffKindRemoved,
					SectionId:   section.SectionId,
					DataPointId: dp.DataPointId,
					OldValue:    &oldValue,
				})
				continue
			}
			if !valuesEqual(dp.Value, other.dataPoint.Value) {
				diff.DataPoints.Changed++
				oldValue, newValue := dp.Value, other.dataPoint.Value
				diff.Changes = append(diff.Changes, models.DiffItem{
					Kind:        models.DiffKindChanged,
					SectionId:   other.sectionId,
					DataPointId: dp.DataPointId,
					OldValue:    &oldValue,
					NewValue:    &newValue,
				})
			}
		}
	}
	for _, section := range to.Sections {
		for _, dp := range section.DataPoints {
			if _, ok := fromDataPoints[dp.DataPointId]; ok {
				continue
			}
			diff.DataPoints.Added++
			newValue := dp.Value
			diff.Changes = append(diff.Changes, models.DiffItem{
				Kind:        models.DiffKindAdded,
				SectionId:   section.SectionId,
				DataPointId: dp.DataPointId,
				NewValue:    &newValue,
			})
		}
	}
	return diff
}

func indexSections(snapshot models.ReportSnapshot) map[string]models.SnapshotSection {
	index := make(map[string]models.SnapshotSection, len(snapshot.Sections))
	for _, section := range snapshot.Sections {
		index[section.SectionId] = section
	}
	return index
}

func indexDataPoints(snapshot models.ReportSnapshot) map[string]locatedDataPoint {
	index := make(map[string]locatedDataPoint)
	for _, section := range snapshot.Sections {
		for _, dp := range section.DataPoints {
			index[dp.DataPointId] = locatedDataPoint{sectionId: section.SectionId, dataPoint: dp}
		}
	}
	return index
}

func sectionChanged(from models.SnapshotSection, to models.SnapshotSection) bool {
	if from.Title != to.Title || len(from.DataPoints) != len(to.DataPoints) {
		return true
	}
	toValues := make(map[string]string, len(to.DataPoints))
	for _, dp := range to.DataPoints {
		toValues[dp.DataPointId] = dp.Value
	}
	for _, dp := range from.DataPoints {
		value, ok := toValues[dp.DataPointId]
		if !ok || !valuesEqual(dp.Value, value) {
			return true
		}
	}
	return false
}

// valuesEqual treats numerically equal decimals ("1.50" and "1.5") as the same value.
func valuesEqual(a string, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == b {
		return true
	}
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	if errA != nil || errB != nil {
		return false
	}
	return da.Equal(db)
}
