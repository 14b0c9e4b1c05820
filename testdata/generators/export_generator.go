package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"marketplace-ledger-reconciler/internal/models"
	"marketplace-ledger-reconciler/internal/parsers"
)

// ExportGenerator generates one consistent set of sales, payment, tax and
// refund exports laid out like a supplier panel download.
type ExportGenerator struct {
	Orders      int
	StartDate   time.Time
	Days        int
	SellerState string
	// ReturnRatio is the share of order lines that end up returned
	ReturnRatio float64
	// BlankIDRatio is the share of rows written without an order id
	BlankIDRatio float64
	// DuplicateRatio is the share of rows repeated later in the same file
	DuplicateRatio float64

	rng *rand.Rand
}

// OrderLine is one generated sub-order
type OrderLine struct {
	OrderID    string
	SubOrderNo string
	Product    string
	SKU        string
	Quantity   int
	Status     string
	OrderDate  time.Time
	State      string
	City       string
	Pincode    string
	Price      decimal.Decimal
	Shipping   decimal.Decimal
	GSTRate    decimal.Decimal
	HSN        string
	Returned   bool
}

var (
	products = []struct{ name, sku, hsn string }{
		{"Cotton Kurti", "KUR-001", "6204"},
		{"Steel Water Bottle", "BTL-750", "7323"},
		{"Phone Case", "CASE-11", "3926"},
		{"Silk Saree", "SAR-SLK", "5007"},
		{"Kids T-Shirt", "TEE-K04", "6109"},
	}
	places = []struct{ state, city, pincode string }{
		{"Kerala", "Kochi", "682001"},
		{"Maharashtra", "Pune", "411001"},
		{"Karnataka", "Bengaluru", "560001"},
		{"Goa", "Panaji", "403001"},
		{"Tamil Nadu", "Chennai", "600001"},
	}
	gstRates       = []int64{5, 12, 18}
	deliveredState = []string{"Delivered", "Shipped", "Delivered", "Delivered"}
	returnStates   = []string{"RTO Complete", "Customer Return", "Return Received"}
	returnReasons  = []string{"Size issue", "Damaged item", "Customer not available", "Wrong product"}
)

func main() {
	var (
		outputDir   = flag.String("output-dir", "../generated", "Output directory for generated exports")
		format      = flag.String("format", "xlsx", "Export format: xlsx or csv")
		orders      = flag.Int("orders", 200, "Number of orders to generate")
		startDate   = flag.String("start-date", "2024-01-01", "First order date (YYYY-MM-DD)")
		days        = flag.Int("days", 30, "Number of days orders are spread over")
		sellerState = flag.String("seller-state", "Kerala", "State the seller ships from; decides CGST/SGST versus IGST")
		returnRatio = flag.Float64("return-ratio", 0.15, "Share of order lines that are returned")
		blankRatio  = flag.Float64("blank-id-ratio", 0.02, "Share of rows written without an order id")
		dupRatio    = flag.Float64("duplicate-ratio", 0.02, "Share of rows repeated within a file")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
	)
	flag.Parse()

	start, err := time.Parse(models.CanonicalDateLayout, *startDate)
	if err != nil {
		log.Fatalf("Invalid start date: %v", err)
	}
	tableFormat, err := parsers.ParseFormat(*format)
	if err != nil {
		log.Fatalf("Invalid format: %v", err)
	}
	codec, err := parsers.NewCodec(tableFormat)
	if err != nil {
		log.Fatalf("Failed to create codec: %v", err)
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	generator := &ExportGenerator{
		Orders:         *orders,
		StartDate:      start,
		Days:           *days,
		SellerState:    *sellerState,
		ReturnRatio:    *returnRatio,
		BlankIDRatio:   *blankRatio,
		DuplicateRatio: *dupRatio,
		rng:            rand.New(rand.NewSource(*seed)),
	}

	lines := generator.GenerateLines()
	exports := map[models.RecordKind][]map[models.Field]string{
		models.KindSales:   generator.SalesRows(lines),
		models.KindPayment: generator.PaymentRows(lines),
		models.KindTax:     generator.TaxRows(lines),
		models.KindRefund:  generator.RefundRows(lines),
	}

	for _, kind := range models.AllRecordKinds() {
		headers := parsers.SupplierPanelProfile.Headers[kind]
		table := generator.BuildTable(headers, exports[kind])

		data, err := codec.Encode(table)
		if err != nil {
			log.Fatalf("Failed to encode %s export: %v", kind, err)
		}
		path := filepath.Join(*outputDir, fmt.Sprintf("%s.%s", kind, codec.Extension()))
		if err := os.WriteFile(path, data, 0644); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
		fmt.Printf("Generated %d %s rows in %s\n", table.Len(), kind, path)
	}

	fmt.Printf("Order lines: %d\n", len(lines))
	fmt.Printf("Seed used: %d\n", *seed)
	fmt.Printf("Ingest with: reconciler ingest --profile supplier-panel --kind <kind> --file <file>\n")
}

// GenerateLines creates one or more sub-orders per order
func (g *ExportGenerator) GenerateLines() []OrderLine {
	var lines []OrderLine
	for i := 0; i < g.Orders; i++ {
		orderID := fmt.Sprintf("%d", 100000000+i)
		orderDate := g.StartDate.AddDate(0, 0, g.rng.Intn(max(g.Days, 1)))
		place := places[g.rng.Intn(len(places))]

		subOrders := 1
		if g.rng.Float64() < 0.2 {
			subOrders = 2
		}
		for j := 1; j <= subOrders; j++ {
			product := products[g.rng.Intn(len(products))]
			line := OrderLine{
				OrderID:    orderID,
				SubOrderNo: fmt.Sprintf("%s_%d", orderID, j),
				Product:    product.name,
				SKU:        product.sku,
				HSN:        product.hsn,
				Quantity:   1 + g.rng.Intn(3),
				OrderDate:  orderDate,
				State:      place.state,
				City:       place.city,
				Pincode:    place.pincode,
				Price:      decimal.NewFromInt(int64(149 + g.rng.Intn(1850))),
				Shipping:   decimal.NewFromInt(int64(40 + g.rng.Intn(60))),
				GSTRate:    decimal.NewFromInt(gstRates[g.rng.Intn(len(gstRates))]),
			}
			if g.rng.Float64() < g.ReturnRatio {
				line.Returned = true
				line.Status = returnStates[g.rng.Intn(len(returnStates))]
			} else {
				line.Status = deliveredState[g.rng.Intn(len(deliveredState))]
			}
			lines = append(lines, line)
		}
	}
	return lines
}

func (g *ExportGenerator) total(line OrderLine) decimal.Decimal {
	return line.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
}

// SalesRows builds the order report
func (g *ExportGenerator) SalesRows(lines []OrderLine) []map[models.Field]string {
	rows := make([]map[models.Field]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, map[models.Field]string{
			models.FieldOrderID:         line.SubOrderNo,
			models.FieldSubOrderID:      line.SubOrderNo,
			models.FieldProductName:     line.Product,
			models.FieldSKU:             line.SKU,
			models.FieldQuantity:        fmt.Sprintf("%d", line.Quantity),
			models.FieldStatus:          line.Status,
			models.FieldOrderDate:       line.OrderDate.Format("02-01-2006"),
			models.FieldCustomerState:   line.State,
			models.FieldCustomerCity:    line.City,
			models.FieldCustomerPincode: line.Pincode,
			models.FieldSellingPrice:    line.Price.StringFixed(2),
			models.FieldWholesalePrice:  line.Price.Mul(decimal.NewFromFloat(0.9)).StringFixed(2),
			models.FieldShippingCharge:  line.Shipping.StringFixed(2),
		})
	}
	return rows
}

// PaymentRows builds the settlement report; returned lines settle at zero
// minus the return shipping charge.
func (g *ExportGenerator) PaymentRows(lines []OrderLine) []map[models.Field]string {
	rows := make([]map[models.Field]string, 0, len(lines))
	for _, line := range lines {
		gross := g.total(line)
		commission := gross.Mul(decimal.NewFromFloat(0.12)).Round(2)
		tcs := gross.Mul(decimal.NewFromFloat(0.01)).Round(2)
		tds := gross.Mul(decimal.NewFromFloat(0.001)).Round(2)
		net := gross.Sub(commission).Sub(tcs).Sub(tds).Sub(line.Shipping)

		mode := "Prepaid"
		if g.rng.Float64() < 0.6 {
			mode = "COD"
		}
		if line.Returned {
			net = line.Shipping.Neg()
		}

		rows = append(rows, map[models.Field]string{
			models.FieldOrderID:       line.SubOrderNo,
			models.FieldSubOrderID:    line.SubOrderNo,
			models.FieldPaymentMode:   mode,
			models.FieldHSN:           line.HSN,
			models.FieldCommission:    commission.StringFixed(2),
			models.FieldTCS:           tcs.StringFixed(2),
			models.FieldTDS:           tds.StringFixed(2),
			models.FieldShipperCharge: line.Shipping.StringFixed(2),
			models.FieldNetAmount:     net.StringFixed(2),
			models.FieldStatus:        line.Status,
		})
	}
	return rows
}

// TaxRows builds the GST invoice report
func (g *ExportGenerator) TaxRows(lines []OrderLine) []map[models.Field]string {
	rows := make([]map[models.Field]string, 0, len(lines))
	for i, line := range lines {
		invoice := g.total(line)
		hundred := decimal.NewFromInt(100)
		taxable := invoice.Mul(hundred).Div(hundred.Add(line.GSTRate)).Round(2)
		tax := invoice.Sub(taxable)

		row := map[models.Field]string{
			models.FieldOrderID:       line.SubOrderNo,
			models.FieldSubOrderID:    line.SubOrderNo,
			models.FieldInvoiceNumber: fmt.Sprintf("INV%07d", i+1),
			models.FieldInvoiceDate:   line.OrderDate.AddDate(0, 0, 1).Format("02/01/2006"),
			models.FieldHSN:           line.HSN,
			models.FieldGSTRate:       line.GSTRate.String(),
			models.FieldTaxableValue:  taxable.StringFixed(2),
			models.FieldInvoiceAmount: invoice.StringFixed(2),
			models.FieldCGST:          "0.00",
			models.FieldSGST:          "0.00",
			models.FieldIGST:          "0.00",
		}
		if line.State == g.SellerState {
			half := tax.Div(decimal.NewFromInt(2)).Round(2)
			row[models.FieldCGST] = half.StringFixed(2)
			row[models.FieldSGST] = tax.Sub(half).StringFixed(2)
		} else {
			row[models.FieldIGST] = tax.StringFixed(2)
		}
		rows = append(rows, row)
	}
	return rows
}

// RefundRows builds the return report for returned lines only
func (g *ExportGenerator) RefundRows(lines []OrderLine) []map[models.Field]string {
	var rows []map[models.Field]string
	for _, line := range lines {
		if !line.Returned {
			continue
		}
		gross := g.total(line)
		deduction := line.Shipping
		hundred := decimal.NewFromInt(100)
		gstRefund := gross.Sub(gross.Mul(hundred).Div(hundred.Add(line.GSTRate))).Round(2)

		rows = append(rows, map[models.Field]string{
			models.FieldOrderID:         line.SubOrderNo,
			models.FieldSubOrderID:      line.SubOrderNo,
			models.FieldRefundAmount:    gross.Sub(deduction).StringFixed(2),
			models.FieldDeductionAmount: deduction.StringFixed(2),
			models.FieldRefundReason:    returnReasons[g.rng.Intn(len(returnReasons))],
			models.FieldRefundDate:      line.OrderDate.AddDate(0, 0, 7+g.rng.Intn(7)).Format("2006-01-02"),
			models.FieldGSTRefund:       gstRefund.StringFixed(2),
			models.FieldStatus:          line.Status,
		})
	}
	return rows
}

// BuildTable lays rows out under the export's header text, blanking the
// order id of some rows and repeating others.
func (g *ExportGenerator) BuildTable(headers parsers.HeaderMap, rows []map[models.Field]string) *parsers.Table {
	table := &parsers.Table{}
	seen := make(map[string]bool)
	for _, field := range headers.Fields() {
		header := headers.Header(field)
		if !seen[header] {
			seen[header] = true
			table.Headers = append(table.Headers, header)
		}
	}

	var repeats []parsers.Row
	for _, row := range rows {
		values := make(map[string]string, len(headers))
		for _, field := range headers.Fields() {
			values[headers.Header(field)] = row[field]
		}
		if g.rng.Float64() < g.BlankIDRatio {
			values[headers.Header(models.FieldOrderID)] = ""
		}

		table.Rows = append(table.Rows, parsers.Row{Values: values})
		if g.rng.Float64() < g.DuplicateRatio {
			repeats = append(repeats, parsers.Row{Values: values})
		}
	}
	table.Rows = append(table.Rows, repeats...)

	for i := range table.Rows {
		table.Rows[i].Line = i + 2
	}
	return table
}
