package reference

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/console/model"
)

// Adapter renders entities of one resource into display rows.
type Adapter struct {
	def      *model.ResourceDefinition
	resolver *Resolver
}

// NewAdapter creates an adapter for def. resolver may be nil when the
// resource has no reference columns.
func NewAdapter(def *model.ResourceDefinition, resolver *Resolver) *Adapter {
	return &Adapter{def: def, resolver: resolver}
}

// Row renders one entity. Reference cells whose label is not known yet show
// the placeholder and are resolved in the background; onSettled fires when
// such a label lands in the cache.
func (a *Adapter) Row(ctx context.Context, sctx *model.SessionContext, e model.Entity, onSettled func()) model.Row {
	row := model.Row{
		ID:      e.ID(a.def.EffectiveIDField()),
		Deleted: e.IsDeleted(a.def.EffectiveDeletedAtField()),
		Cells:   make(map[string]model.Cell, len(a.def.Columns)),
	}
	for _, col := range a.def.Columns {
		row.Cells[col.Field] = a.cell(ctx, sctx, col, e[col.Field], onSettled)
	}
	return row
}

// Rows renders entities in order.
func (a *Adapter) Rows(ctx context.Context, sctx *model.SessionContext, entities []model.Entity, onSettled func()) []model.Row {
	rows := make([]model.Row, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, a.Row(ctx, sctx, e, onSettled))
	}
	return rows
}

func (a *Adapter) cell(ctx context.Context, sctx *model.SessionContext, col model.ColumnDefinition, raw any, onSettled func()) model.Cell {
	switch col.Type {
	case model.ColumnReference:
		if col.Reference == nil {
			return model.Cell{Text: model.FormatValue(raw), Value: raw}
		}
		ref, ok := model.ParseReference(raw, col.Reference.LabelField)
		if !ok {
			return model.Cell{}
		}
		text := ref.Label
		if a.resolver != nil {
			text = a.resolver.Text(ctx, sctx, col.Reference.Resource, ref, onSettled)
		}
		return model.Cell{Text: text, Reference: &ref}
	case model.ColumnMoney:
		return model.Cell{Text: formatMoney(raw, col.Format), Value: raw}
	case model.ColumnDate:
		return model.Cell{Text: formatDate(raw, col.Format), Value: raw}
	case model.ColumnStatus:
		text := model.FormatValue(raw)
		if mapped, ok := col.StatusMap[text]; ok {
			text = mapped
		}
		return model.Cell{Text: text, Value: raw}
	default:
		return model.Cell{Text: model.FormatValue(raw), Value: raw}
	}
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

func formatMoney(raw any, currency string) string {
	var amount float64
	switch v := raw.(type) {
	case float64:
		amount = v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return v
		}
		amount = f
	case nil:
		return ""
	default:
		return model.FormatValue(v)
	}
	text := strconv.FormatFloat(amount, 'f', 2, 64)
	if currency == "" {
		return text
	}
	if sym, ok := currencySymbols[strings.ToUpper(currency)]; ok {
		return sym + text
	}
	return fmt.Sprintf("%s %s", currency, text)
}

func formatDate(raw any, format string) string {
	s, ok := raw.(string)
	if !ok || s == "" {
		return model.FormatValue(raw)
	}
	layout := format
	switch format {
	case "", "date":
		layout = "2006-01-02"
	case "datetime":
		layout = "2006-01-02 15:04"
	}
	for _, in := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(in, s); err == nil {
			return t.Format(layout)
		}
	}
	return s
}
