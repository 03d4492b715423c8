package catalog

import (
	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// measure is the parsed size of an entry.
type measure struct {
	dims    *entities.Dimensions
	length  float64 // single-length sizes, e.g. borde "18 m"
	present bool
}

func parseMeasure(size string) measure {
	if size == "" {
		return measure{}
	}
	if d, ok := entities.ParseSize(size); ok {
		return measure{dims: &d, present: true}
	}
	if l, ok := entities.ParseLength(size); ok {
		return measure{length: l, present: true}
	}
	if l, ok := entities.ParseBareNumber(size); ok {
		return measure{length: l, present: true}
	}
	return measure{}
}

// nodeFamily matches the family rules against an entry's name, category
// and aliases one at a time, so words from different fields never combine
// into a phrase. Generic rules are skipped: "malla sombra" names every family.
func nodeFamily(e *models.CatalogEntry) (models.FlowType, bool) {
	for _, text := range append([]string{e.Name, e.Category}, e.Aliases...) {
		if f, ok := MatchFamily(text, true); ok {
			return f, true
		}
	}
	return "", false
}

// classify decides which product flow owns an entry. It walks the entry and
// then its ancestors, honouring an explicit Family hint first and the family
// rules second, and falls back to the size pattern: a roll-length pair
// (W x 100) is a roll, any other pair a finished piece.
func classify(entries map[string]*models.CatalogEntry, e *models.CatalogEntry, m measure) models.FlowType {
	visited := make(map[string]bool)
	for node := e; node != nil && !visited[node.ID]; node = entries[node.ParentID] {
		visited[node.ID] = true
		if f := models.FlowType(entities.Fold(node.Family)); f.IsProduct() {
			return f
		}
		if f, ok := nodeFamily(node); ok {
			return f
		}
		if node.ParentID == "" {
			break
		}
	}
	if m.dims != nil {
		if m.dims.Bulk() {
			return models.FlowRollo
		}
		return models.FlowConfeccionada
	}
	return ""
}
