package detection

import (
	"fmt"
	"strings"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/model"
)

// FallbackType is reported for class indices the table does not cover.
const FallbackType = model.DefectSurfaceIrregularity

// ClassTable maps model class indices to defect types.
type ClassTable []model.DefectType

// DefaultClassTable follows the class order the detector was trained with.
func DefaultClassTable() ClassTable {
	return ClassTable(model.AllDefectTypes())
}

// ParseClassTable builds a table from class names such as "crack" or "Void".
func ParseClassTable(names []string) (ClassTable, error) {
	if len(names) == 0 {
		return DefaultClassTable(), nil
	}
	t := make(ClassTable, 0, len(names))
	for _, n := range names {
		dt := model.DefectType(strings.ToLower(strings.TrimSpace(n)))
		if !dt.Valid() {
			return nil, fmt.Errorf("%w: unknown class name %q", domain.ErrInvalidArgument, n)
		}
		t = append(t, dt)
	}
	return t, nil
}

func (t ClassTable) Lookup(idx int) model.DefectType {
	if idx < 0 || idx >= len(t) {
		return FallbackType
	}
	return t[idx]
}
