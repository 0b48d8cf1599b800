// Package seed provisions stock ledger rows in bulk for local runs and load
// tests.
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
)

// Item is one product to provision.
type Item struct {
	ProductID string
	Quantity  int
}

// Provisioner creates a product's ledger row.
type Provisioner interface {
	ProvisionStock(ctx context.Context, productID string, initial int) (*domain.StockLedgerEntry, error)
}

// Result counts what a run did.
type Result struct {
	Created int
	Skipped int
}

// Parse reads "product_id,quantity" records. Blank lines and lines starting
// with '#' are ignored.
func Parse(r io.Reader) ([]Item, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	var items []Item
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		line, _ := cr.FieldPos(0)

		id := strings.TrimSpace(rec[0])
		if id == "" {
			return nil, fmt.Errorf("line %d: product_id is empty", line)
		}
		qty, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil || qty < 0 {
			return nil, fmt.Errorf("line %d: invalid quantity %q", line, rec[1])
		}
		items = append(items, Item{ProductID: id, Quantity: qty})
	}
}

// Generate returns n items named prefix-00001 and up, each with qty units.
func Generate(prefix string, n, qty int) []Item {
	items := make([]Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, Item{ProductID: fmt.Sprintf("%s-%05d", prefix, i), Quantity: qty})
	}
	return items
}

// Run provisions every item. Products that already have a ledger row are
// skipped so a seed can be re-run safely.
func Run(ctx context.Context, p Provisioner, items []Item, logger *slog.Logger) (Result, error) {
	var res Result
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := p.ProvisionStock(ctx, it.ProductID, it.Quantity)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, apperrors.ErrAlreadyExists):
			res.Skipped++
			logger.DebugContext(ctx, "stock already provisioned", slog.String("product_id", it.ProductID))
		default:
			return res, fmt.Errorf("provision %s: %w", it.ProductID, err)
		}
	}
	return res, nil
}
