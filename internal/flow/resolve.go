package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// productInterestPrefix is the family prefix recorded by older campaigns,
// e.g. "malla_sombra" or "malla_sombra_rollo".
const productInterestPrefix = "malla_sombra"

// resolveFlow walks the flow resolution chain; the first link that yields a
// product flow wins. It never returns a product flow for bulk dimensions
// alone and falls back to the default flow.
func (m *Manager) resolveFlow(ctx context.Context, t *Turn, ents entities.Entities) (models.FlowType, string) {
	sess := t.Session
	if f := sess.CurrentFlow(); f.IsProduct() {
		return f, "pinned"
	}
	if ref := normalizeRef(t.Channel.AdFlowRef); ref != "" {
		if f, ok := adFlowAliases[ref]; ok {
			return f, "ad_flow_ref"
		}
	}
	if id := strings.TrimSpace(t.Channel.AdProductID); id != "" {
		if f, ok := adProductFlows[strings.ToUpper(id)]; ok {
			return f, "ad_product"
		}
		if snap := m.snapshot(ctx); snap != nil {
			if f, ok := snap.FamilyOf(id); ok {
				return f, "ad_product"
			}
		}
	}
	if f := t.Classification.ProductFlow(); f != "" {
		return f, "classifier"
	}
	if f, ok := flowFromInterest(sess.ProductInterest); ok {
		return f, "product_interest"
	}
	if f, ok := matchKeywordFlow(t.Text, false); ok {
		return f, "keyword"
	}
	if snap := m.snapshot(ctx); snap != nil {
		if f, ok := snap.MatchAlias(t.Text); ok {
			return f, "alias"
		}
	}
	if d, ok := dimensionPair(ents, t.Classification.Entities); ok && !d.Bulk() {
		f, claimed, err := m.index.ResolveFlow(ctx, d.Width, d.Length)
		if err != nil {
			slog.Warn("Manager.resolveFlow: catalog lookup failed", "customerID", t.CustomerID, "error", err)
		}
		if err != nil || !claimed {
			return models.FlowConfeccionada, "dimensions_unclaimed"
		}
		return f, "dimensions"
	}
	return models.FlowDefault, "default"
}

// flowFromInterest maps a recorded product interest to a flow. Interests
// under the "malla_sombra" family map to the flow named by their suffix, or
// to confeccionada when the suffix names none.
func flowFromInterest(interest string) (models.FlowType, bool) {
	pi := normalizeRef(interest)
	if pi == "" {
		return "", false
	}
	if f := models.FlowType(pi); f.IsProduct() {
		return f, true
	}
	if strings.HasPrefix(pi, productInterestPrefix) {
		suffix := strings.Trim(strings.TrimPrefix(pi, productInterestPrefix), "_")
		if f := models.FlowType(suffix); f.IsProduct() {
			return f, true
		}
		return models.FlowConfeccionada, true
	}
	return "", false
}

// dimensionPair picks the parsed pair, or the classifier's width and height.
func dimensionPair(ents entities.Entities, ce models.ClassifiedEntities) (entities.Dimensions, bool) {
	if ents.Dimensions != nil {
		return *ents.Dimensions, true
	}
	if ce.Width != nil && ce.Height != nil && *ce.Width > 0 && *ce.Height > 0 {
		return entities.Dimensions{Width: *ce.Width, Length: *ce.Height}, true
	}
	return entities.Dimensions{}, false
}

func normalizeRef(s string) string {
	s = entities.Fold(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// snapshot returns the current catalog snapshot, or nil when it is unavailable.
func (m *Manager) snapshot(ctx context.Context) *catalog.Snapshot {
	snap, err := m.index.Get(ctx)
	if err != nil {
		slog.Warn("Manager.snapshot: catalog unavailable", "error", err)
		return nil
	}
	return snap
}
