// Package sources turns a pharmacy inventory snapshot into ordered pricing
// sources for a medication line.
package sources

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
	"github.com/drfirst/go-rxcharge/internal/pricing/quantity"
	"github.com/drfirst/go-rxcharge/internal/pricing/units"
)

// Source is one allocatable unit of inventory: a whole row or one batch.
type Source struct {
	InventoryItemID   string     `json:"inventoryItemId"`
	BatchID           string     `json:"batchId,omitempty"`
	AvailableQuantity float64    `json:"availableQuantity"`
	UnitCost          float64    `json:"unitCost"`
	ExpiryDate        *time.Time `json:"expiryDate,omitempty"`
	BrandName         string     `json:"brandName"`
	GenericName       string     `json:"genericName,omitempty"`
	ContainerSize     string     `json:"containerSize,omitempty"`
	ContainerUnit     string     `json:"containerUnit,omitempty"`
	// StockFactor is the number of priced units in one stock unit. It is 1
	// unless a per-container row was normalised to per-ml pricing.
	StockFactor float64 `json:"stockFactor"`
}

// Options tune source building.
type Options struct {
	// IncludeDepleted keeps sources with no available stock, for quoting
	// without regard to availability.
	IncludeDepleted bool
}

// SourceSet is the result of building sources for a line.
type SourceSet struct {
	Sources []Source
	// Matched counts inventory rows that matched the line.
	Matched int
	// Unpriced counts candidate sources dropped for lack of a usable unit cost.
	Unpriced int
	// Fuzzy is set when rows were found by name similarity only.
	Fuzzy bool
}

// Builder matches medication lines against inventory. It holds no state.
type Builder struct{}

// NewBuilder creates a builder.
func NewBuilder() *Builder { return &Builder{} }

type candidate struct {
	item      inventory.Item
	onlyBatch string
}

// Build returns the pricing sources for line ordered by ascending expiry, with
// undated sources last. Ties keep snapshot order.
func (b *Builder) Build(line prescription.MedicationLine, req quantity.Requirement, snapshot []inventory.Item, opts Options) SourceSet {
	var set SourceSet
	var candidates []candidate

	if len(line.Matches) > 0 {
		candidates = fromHints(line.Matches, snapshot)
	} else {
		candidates = matchRows(line, req, snapshot, exactNameMatch, true)
		if len(candidates) == 0 {
			candidates = matchRows(line, req, snapshot, fuzzyNameMatch, false)
			set.Fuzzy = len(candidates) > 0
		}
	}

	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if !seen[c.item.ID] {
			seen[c.item.ID] = true
			set.Matched++
		}
		for _, raw := range expand(Classify(c.item), c.onlyBatch) {
			src, ok := price(raw)
			if !ok {
				set.Unpriced++
				continue
			}
			if req.Volumetric() {
				if src, ok = perML(src, raw.item); !ok {
					set.Unpriced++
					continue
				}
			}
			if src.AvailableQuantity <= 0 && !opts.IncludeDepleted {
				continue
			}
			if src.AvailableQuantity < 0 {
				src.AvailableQuantity = 0
			}
			set.Sources = append(set.Sources, src)
		}
	}

	sort.SliceStable(set.Sources, func(i, j int) bool {
		return expiresBefore(set.Sources[i].ExpiryDate, set.Sources[j].ExpiryDate)
	})
	return set
}

func expiresBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.Before(*b)
	}
}

func fromHints(refs []prescription.MatchRef, snapshot []inventory.Item) []candidate {
	byID := make(map[string]inventory.Item, len(snapshot))
	for _, item := range snapshot {
		byID[item.ID] = item
	}
	out := make([]candidate, 0, len(refs))
	for _, ref := range refs {
		item, ok := byID[ref.InventoryItemID]
		if !ok {
			continue
		}
		out = append(out, candidate{item: item, onlyBatch: ref.BatchID})
	}
	return out
}

type namePredicate func(lineNames, itemNames []string) bool

// matchRows filters snapshot by name, capacity and strength. With
// strictCapacity set, rows that declare no container capacity are rejected
// whenever the line prescribes one.
func matchRows(line prescription.MedicationLine, req quantity.Requirement, snapshot []inventory.Item, nameMatch namePredicate, strictCapacity bool) []candidate {
	lineNames := normalizedNames(line.Name, line.GenericName)
	if len(lineNames) == 0 {
		return nil
	}
	var out []candidate
	for _, item := range snapshot {
		if !nameMatch(lineNames, normalizedNames(item.BrandName, item.GenericName)) {
			continue
		}
		if !capacityMatches(line, req, item, strictCapacity) || !strengthMatches(line, req, item) {
			continue
		}
		out = append(out, candidate{item: item})
	}
	return out
}

func exactNameMatch(lineNames, itemNames []string) bool {
	for _, l := range lineNames {
		for _, i := range itemNames {
			if l == i {
				return true
			}
		}
	}
	return false
}

const minFuzzyLength = 3

func fuzzyNameMatch(lineNames, itemNames []string) bool {
	for _, l := range lineNames {
		for _, i := range itemNames {
			if len(l) < minFuzzyLength || len(i) < minFuzzyLength {
				continue
			}
			if strings.Contains(l, i) || strings.Contains(i, l) {
				return true
			}
		}
	}
	return false
}

func normalizedNames(names ...string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if v := normalizeName(n); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// normalizeName lowercases and collapses punctuation and whitespace to single spaces.
func normalizeName(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// capacityMatches keeps explicit-count rows whose declared container capacity
// equals the prescribed capacity. Rows that declare no capacity are kept only
// when strict is false.
func capacityMatches(line prescription.MedicationLine, req quantity.Requirement, item inventory.Item, strict bool) bool {
	if req.Form.Category != prescription.CategoryExplicitCount {
		return true
	}
	want, ok := units.ToCanonicalMagnitude(line.Strength, line.StrengthUnit)
	if !ok {
		return true
	}
	have, ok := containerCapacity(item)
	if !ok {
		return !strict
	}
	return want.Equal(have)
}

func containerCapacity(item inventory.Item) (units.Magnitude, bool) {
	if m, ok := units.ToCanonicalMagnitude(item.ContainerSize, item.ContainerUnit); ok {
		return m, true
	}
	return units.ToCanonicalMagnitude(item.Strength, item.StrengthUnit)
}

// strengthMatches rejects solid dosed rows whose per-unit strength differs
// from the prescribed one, e.g. 250 mg capsules for a 500 mg line.
func strengthMatches(line prescription.MedicationLine, req quantity.Requirement, item inventory.Item) bool {
	if req.Form.Category != prescription.CategoryDosed || req.Form.Liquid {
		return true
	}
	want, ok := units.ToCanonicalMagnitude(line.Strength, line.StrengthUnit)
	if !ok {
		return true
	}
	have, ok := units.ToCanonicalMagnitude(item.Strength, item.StrengthUnit)
	if !ok {
		return true
	}
	return want.Equal(have)
}

func price(raw rawSource) (Source, bool) {
	src := Source{
		InventoryItemID:   raw.item.ID,
		AvailableQuantity: raw.item.CurrentStock,
		ExpiryDate:        raw.item.ExpiryDate,
		BrandName:         raw.item.BrandName,
		GenericName:       raw.item.GenericName,
		ContainerSize:     raw.item.ContainerSize,
		ContainerUnit:     raw.item.ContainerUnit,
		StockFactor:       1,
	}
	priceText := raw.item.SellingPrice
	if raw.batch != nil {
		src.BatchID = raw.batch.ID
		src.AvailableQuantity = raw.batch.Quantity
		// an undated batch inherits the row's expiry
		if raw.batch.ExpiryDate != nil {
			src.ExpiryDate = raw.batch.ExpiryDate
		}
		if strings.TrimSpace(raw.batch.SellingPrice) != "" {
			priceText = raw.batch.SellingPrice
		}
	}
	cost, ok := units.ExtractNumericMagnitude(priceText)
	if !ok || cost < 0 {
		return Source{}, false
	}
	src.UnitCost = cost
	return src, true
}

// perML converts a per-container source to per-ml pricing. Measured-liquid
// rows are already per ml and are returned unchanged.
func perML(src Source, item inventory.Item) (Source, bool) {
	if prescription.ParseDosageForm(item.DosageForm).Category == prescription.CategoryMeasured {
		return src, true
	}
	volume, ok := containerCapacity(item)
	if !ok || volume.Dimension != units.DimensionVolume || volume.Value <= 0 {
		return Source{}, false
	}
	src.UnitCost /= volume.Value
	src.AvailableQuantity *= volume.Value
	src.StockFactor = volume.Value
	return src, true
}
