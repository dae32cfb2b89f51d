// Package synthetic is the offline extraction strategy. It fabricates a
// plausible invoice from fixed vendor and product catalogs so the rest of the
// pipeline runs without a live model. Output depends only on the page content
// and the configured clock's date, and is always marked as synthetic.
package synthetic

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/llm"
)

type vendor struct {
	contact entity.VendorContact
	prefix  string
}

type product struct {
	name     string
	code     string
	upc      string
	cost     string
	category constants.Category
	shelf    int // days until expiry, 0 = not perishable
}

var vendors = []vendor{
	{prefix: "FVD", contact: entity.VendorContact{
		Name: "Fresh Valley Dairy Co.", EIN: "84-1029384", Website: "https://freshvalleydairy.example",
		Email: "orders@freshvalleydairy.example", Phone: "(555) 201-4400", Fax: "(555) 201-4401",
		ShippingAddress: "1200 Creamery Rd, Madison, WI 53703", POCName: "Dana Whitfield",
	}},
	{prefix: "GCB", contact: entity.VendorContact{
		Name: "Golden Crust Bakery Supply", EIN: "36-5550192", Website: "https://goldencrust.example",
		Email: "billing@goldencrust.example", Phone: "(555) 330-1822",
		ShippingAddress: "88 Mill St, Chicago, IL 60607", WarehouseAddress: "4100 S Ashland Ave, Chicago, IL 60609",
		POCName: "Luis Ortega",
	}},
	{prefix: "MBD", contact: entity.VendorContact{
		Name: "Metro Beverage Distributors", EIN: "13-7781120", Website: "https://metrobev.example",
		Email: "ar@metrobev.example", Phone: "(555) 918-7700",
		ShippingAddress: "55 Harbor Blvd, Newark, NJ 07105", POCName: "Priya Natarajan",
	}},
	{prefix: "CPF", contact: entity.VendorContact{
		Name: "Countryside Produce Farms", Phone: "(555) 472-0090", Email: "sales@countryside.example",
		ShippingAddress: "RR 2 Box 17, Salinas, CA 93901",
	}},
}

var catalog = []product{
	{"Whole Milk 1 gal", "DA-1001", "041900076641", "2.00", constants.Dairy, 14},
	{"Large Eggs 12 ct", "DA-1040", "011110038364", "2.35", constants.Dairy, 28},
	{"Sharp Cheddar 8 oz", "DA-1210", "021000658831", "3.10", constants.Dairy, 90},
	{"Greek Yogurt 32 oz", "DA-1302", "818290011237", "4.25", constants.Dairy, 21},
	{"Sourdough Loaf", "BK-2001", "073130000120", "1.50", constants.Bakery, 5},
	{"Whole Wheat Bread", "BK-2015", "072250011372", "1.75", constants.Bakery, 7},
	{"Butter Croissant 4 pk", "BK-2110", "074323094312", "3.40", constants.Bakery, 4},
	{"Orange Juice 52 oz", "BV-3003", "048500202807", "3.05", constants.Beverages, 30},
	{"Sparkling Water 12 pk", "BV-3120", "012993441012", "4.60", constants.Beverages, 365},
	{"Cold Brew Coffee 32 oz", "BV-3302", "852909003114", "3.95", constants.Beverages, 60},
	{"Bananas per lb", "PR-4011", "000000040110", "0.45", constants.Produce, 6},
	{"Gala Apples 3 lb", "PR-4133", "033383000358", "3.20", constants.Produce, 30},
	{"Paper Towels 6 roll", "HH-5006", "030772054102", "5.80", constants.Household, 0},
	{"Kettle Chips 8 oz", "SN-6018", "084114032348", "2.15", constants.Snacks, 120},
}

// Generator implements llm.Extractor without any network dependency.
type Generator struct {
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock pins the date used for invoice_date and expiry.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func New(logger *slog.Logger, opts ...Option) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ llm.Extractor = (*Generator)(nil)

// Extract fabricates one page. The same page content always yields the same
// vendor, items and totals.
func (g *Generator) Extract(ctx context.Context, page llm.Page) (entity.Extraction, []byte, error) {
	if err := ctx.Err(); err != nil {
		return entity.Extraction{}, nil, err
	}
	seed := seedFor(page)
	rng := rand.New(rand.NewSource(seed))

	v := vendors[rng.Intn(len(vendors))]
	today := g.now().UTC().Truncate(24 * time.Hour)

	n := 2 + rng.Intn(5)
	picked := rng.Perm(len(catalog))[:n]
	items := make([]entity.LineItem, 0, n)
	for i, idx := range picked {
		p := catalog[idx]
		qty := decimal.NewFromInt(int64(1 + rng.Intn(48)))
		// +/- 10% around the list cost
		jitter := decimal.NewFromInt(int64(rng.Intn(21) - 10)).Div(decimal.NewFromInt(100))
		base := decimal.RequireFromString(p.cost)
		cost := base.Add(base.Mul(jitter)).Round(2)
		li := entity.LineItem{
			Position:    i + 1,
			ProductName: p.name,
			VendorCode:  p.code,
			UPC:         p.upc,
			Quantity:    qty,
			UnitCost:    cost,
			TotalPrice:  qty.Mul(cost).Round(2),
			Category:    string(p.category),
		}
		if p.shelf > 0 {
			exp := today.AddDate(0, 0, p.shelf)
			li.Expiry = &exp
		}
		items = append(items, li)
	}

	meta := entity.InvoiceMetadata{
		InvoiceNumber:  v.prefix + "-" + strconv.FormatInt(seed%1000000, 10),
		InvoiceDate:    &today,
		TotalTax:       decimal.Zero,
		TotalTransport: decimal.NewFromInt(int64([]int{0, 0, 15, 25}[rng.Intn(4)])),
	}
	// Half of the fixtures leave the grand total unprinted so the
	// post-processor path is exercised.
	if rng.Intn(2) == 0 {
		sum := decimal.Zero
		for _, it := range items {
			sum = sum.Add(it.TotalPrice)
		}
		meta.TotalTax = sum.Mul(decimal.RequireFromString("0.06")).Round(2)
		meta.TotalAmount = sum.Add(meta.TotalTax).Add(meta.TotalTransport).Round(2)
	}

	out := entity.Extraction{
		Vendor:   v.contact,
		Metadata: meta,
		Items:    items,
		Source:   constants.SourceSynthetic,
	}
	raw, _ := json.Marshal(out)

	g.logger.Info("llm.extract.synthetic",
		"page", page.Index,
		"vendor", out.Vendor.Name,
		"items", len(out.Items),
	)
	return out, raw, nil
}

func seedFor(page llm.Page) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(page.Text)))
	_, _ = h.Write(page.Image)
	_, _ = h.Write([]byte(strconv.Itoa(page.Index)))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
