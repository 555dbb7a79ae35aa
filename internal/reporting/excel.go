package reporting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/tradebotlab/crypto-bot-engine/internal/bot"
)

// ExcelExporter writes a bot's order and position history to a workbook.
type ExcelExporter struct {
	store bot.Store
}

func NewExcelExporter(store bot.Store) *ExcelExporter {
	return &ExcelExporter{store: store}
}

type excelStyles struct {
	header   int
	currency int
}

// WriteOrdersXLSX writes one Orders sheet and one Positions sheet for the bot.
func (e *ExcelExporter) WriteOrdersXLSX(ctx context.Context, botID, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	orders, err := e.store.OrdersByBot(ctx, botID)
	if err != nil {
		return err
	}
	positions, err := e.store.PositionsByBot(ctx, botID)
	if err != nil {
		return err
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const ordersSheet = "Orders"
	const positionsSheet = "Positions"
	fx.SetSheetName(fx.GetSheetName(0), ordersSheet)
	fx.NewSheet(positionsSheet)

	styles, err := createStyles(fx)
	if err != nil {
		return err
	}

	headers := []string{"Order ID", "Run ID", "Symbol", "Side", "Type", "Qty", "Fill Price", "Fees", "Status", "Created", "Filled"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		fx.SetCellValue(ordersSheet, cell, h)
		fx.SetCellStyle(ordersSheet, cell, cell, styles.header)
	}
	for row, o := range orders {
		filled := ""
		if o.FilledAt != nil {
			filled = o.FilledAt.Format("2006-01-02 15:04:05")
		}
		values := []interface{}{
			o.ID, o.RunID, o.Symbol, string(o.Side), string(o.Type),
			o.Qty.InexactFloat64(), o.FillPrice.InexactFloat64(), o.Fees.InexactFloat64(),
			string(o.Status), o.CreatedAt.Format("2006-01-02 15:04:05"), filled,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			fx.SetCellValue(ordersSheet, cell, v)
		}
		for _, col := range []int{6, 7, 8} {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			fx.SetCellStyle(ordersSheet, cell, cell, styles.currency)
		}
	}

	posHeaders := []string{"Symbol", "Qty", "Avg Entry", "Realized PnL", "DCA Index", "Opened"}
	for col, h := range posHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		fx.SetCellValue(positionsSheet, cell, h)
		fx.SetCellStyle(positionsSheet, cell, cell, styles.header)
	}
	for row, p := range positions {
		values := []interface{}{
			p.Symbol, p.Qty.InexactFloat64(), p.AvgEntryPrice.InexactFloat64(),
			p.RealizedPnL.InexactFloat64(), p.DCAIndex, p.OpenedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			fx.SetCellValue(positionsSheet, cell, v)
		}
	}

	return fx.SaveAs(path)
}

func createStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	styles.header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.currency, err = fx.NewStyle(&excelize.Style{
		NumFmt: 4, // #,##0.00
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	return styles, err
}
