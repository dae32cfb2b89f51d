// Package matching suggests inventory records for reviewed line items. It
// never writes; the reviewer's choice still arrives through commit.
package matching

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository"
)

type Status string

const (
	StatusMatched Status = "matched"
	StatusReview  Status = "review"
	StatusNew     Status = "new"
)

const (
	matchThreshold  = 0.9
	reviewThreshold = 0.5
	maxSuggestions  = 5
)

// Candidate is one inventory record proposed for a line item.
type Candidate struct {
	InventoryID uuid.UUID `json:"inventory_id"`
	Name        string    `json:"name"`
	Confidence  float64   `json:"confidence"`
	MatchedOn   string    `json:"matched_on"` // upc | vendor_code | name
}

// Suggestion is the outcome for one line item.
type Suggestion struct {
	Position    int         `json:"position"`
	ProductName string      `json:"product_name"`
	Status      Status      `json:"status"`
	Match       *Candidate  `json:"match,omitempty"`
	Suggestions []Candidate `json:"suggestions"`
}

type Service struct {
	inventory repository.InventoryRepository
	logger    *slog.Logger
}

func NewService(inventory repository.InventoryRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{inventory: inventory, logger: logger}
}

// Suggest ranks the tenant's active records for every item. An exact UPC or
// vendor code hit is a certain match; otherwise names are compared by
// normalized edit-distance similarity.
func (s *Service) Suggest(ctx context.Context, tenant string, items []entity.LineItem) ([]Suggestion, error) {
	recs, err := s.inventory.ListInventory(ctx, tenant, true)
	if err != nil {
		return nil, err
	}
	out := make([]Suggestion, len(items))
	for i, it := range items {
		pos := it.Position
		if pos == 0 {
			pos = i + 1
		}
		out[i] = suggest(it, recs)
		out[i].Position = pos
	}
	s.logger.Debug("matching.suggested", "tenant_id", tenant, "items", len(items), "records", len(recs))
	return out, nil
}

func suggest(it entity.LineItem, recs []*entity.InventoryRecord) Suggestion {
	sg := Suggestion{ProductName: it.ProductName, Suggestions: []Candidate{}}
	upc := strings.TrimSpace(it.UPC)
	code := strings.TrimSpace(it.VendorCode)
	name := normalize(it.ProductName)

	var cands []Candidate
	for _, r := range recs {
		c := Candidate{InventoryID: r.ID, Name: r.Name}
		switch {
		case upc != "" && strings.EqualFold(upc, r.UPC):
			c.Confidence, c.MatchedOn = 1, "upc"
		case code != "" && strings.EqualFold(code, r.SKU):
			c.Confidence, c.MatchedOn = 1, "vendor_code"
		case name != "":
			c.Confidence, c.MatchedOn = levenshtein.Similarity(name, normalize(r.Name), nil), "name"
		}
		if c.Confidence > 0 {
			cands = append(cands, c)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Confidence > cands[j].Confidence })
	if len(cands) > maxSuggestions {
		cands = cands[:maxSuggestions]
	}
	sg.Suggestions = append(sg.Suggestions, cands...)

	switch {
	case len(cands) > 0 && (cands[0].Confidence > matchThreshold || cands[0].Confidence == 1):
		best := cands[0]
		sg.Status, sg.Match = StatusMatched, &best
	case len(cands) > 0 && cands[0].Confidence >= reviewThreshold:
		sg.Status = StatusReview
	default:
		sg.Status = StatusNew
	}
	return sg
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
