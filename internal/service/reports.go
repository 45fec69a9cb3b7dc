package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BryanFarras/TokoKami/internal/cache"
	"github.com/BryanFarras/TokoKami/internal/domain"
	"github.com/BryanFarras/TokoKami/internal/store"
)

const (
	TrendWeek  = "week"
	TrendMonth = "month"
	TrendYear  = "year"

	defaultTopProducts = 5
	maxTopProducts     = 50
	recentTransactions = 5
)

func (s *Service) SalesSummary(ctx context.Context) (domain.SalesSummary, error) {
	return cachedLoad(ctx, s, cache.ScopeReports, cache.KeyReportsBase+"summary", s.opts.ReportCacheTTL, s.repo.GetSalesSummary)
}

// SalesTrend buckets sales by day (week, month) or by calendar month (year).
// Buckets without sales are omitted.
func (s *Service) SalesTrend(ctx context.Context, rangeName string) ([]domain.TrendPoint, error) {
	if rangeName == "" {
		rangeName = TrendMonth
	}

	now := s.opts.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var from time.Time
	layout := "2006-01-02"
	switch rangeName {
	case TrendWeek:
		from = today.AddDate(0, 0, -6)
	case TrendMonth:
		from = today.AddDate(0, 0, -29)
	case TrendYear:
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -11, 0)
		layout = "2006-01"
	default:
		return nil, store.Validation("range must be one of week, month, year")
	}

	key := fmt.Sprintf("%strend:%s:%s", cache.KeyReportsBase, rangeName, today.Format("2006-01-02"))
	return cachedLoad(ctx, s, cache.ScopeReports, key, s.opts.ReportCacheTTL, func(ctx context.Context) ([]domain.TrendPoint, error) {
		records, err := s.repo.ListSalesSince(ctx, from)
		if err != nil {
			return nil, err
		}
		return bucketSales(records, layout), nil
	})
}

func bucketSales(records []domain.SalesRecord, layout string) []domain.TrendPoint {
	totals := make(map[string]decimal.Decimal)
	for _, r := range records {
		bucket := r.Date.UTC().Format(layout)
		totals[bucket] = totals[bucket].Add(r.Total)
	}

	points := make([]domain.TrendPoint, 0, len(totals))
	for date, sales := range totals {
		points = append(points, domain.TrendPoint{Date: date, Sales: sales})
	}
	slices.SortFunc(points, func(a, b domain.TrendPoint) int { return cmp.Compare(a.Date, b.Date) })
	return points
}

// TopProducts ranks products by quantity sold. limit defaults to 5 and is
// capped at 50.
func (s *Service) TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	if limit < 1 {
		limit = defaultTopProducts
	}
	if limit > maxTopProducts {
		limit = maxTopProducts
	}

	key := fmt.Sprintf("%stop-products:%d", cache.KeyReportsBase, limit)
	return cachedLoad(ctx, s, cache.ScopeReports, key, s.opts.ReportCacheTTL, func(ctx context.Context) ([]domain.TopProduct, error) {
		return s.repo.GetTopProducts(ctx, limit)
	})
}

func (s *Service) ReportDetails(ctx context.Context) (domain.ReportDetails, error) {
	return cachedLoad(ctx, s, cache.ScopeReports, cache.KeyReportsBase+"details", s.opts.ReportCacheTTL, s.loadReportDetails)
}

func (s *Service) loadReportDetails(ctx context.Context) (domain.ReportDetails, error) {
	financials, err := s.repo.GetFinancials(ctx, recentTransactions)
	if err != nil {
		return domain.ReportDetails{}, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.ReportDetails{}, err
	}
	materials, err := s.repo.ListRawMaterials(ctx)
	if err != nil {
		return domain.ReportDetails{}, err
	}

	return domain.ReportDetails{
		Financials: financials,
		Inventory:  buildInventory(products, materials, s.opts.LowStockThreshold),
	}, nil
}

func buildInventory(products []domain.Product, materials []domain.RawMaterial, threshold int) domain.InventoryReport {
	report := domain.InventoryReport{
		StockLevels:     make([]domain.StockLevel, 0, len(products)),
		TotalValue:      decimal.Zero,
		LowRawMaterials: []domain.RawMaterial{},
	}

	for _, p := range products {
		low := p.Stock < threshold
		if low {
			report.LowStockItems++
		}
		report.StockLevels = append(report.StockLevels, domain.StockLevel{
			ID:    p.ID,
			Name:  p.Name,
			Stock: p.Stock,
			IsLow: low,
		})
		report.TotalValue = report.TotalValue.Add(p.CostPrice.Mul(decimal.NewFromInt(int64(p.Stock))))
	}
	slices.SortFunc(report.StockLevels, func(a, b domain.StockLevel) int {
		if c := cmp.Compare(a.Stock, b.Stock); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	limit := decimal.NewFromInt(int64(threshold))
	for _, m := range materials {
		if m.Stock.LessThan(limit) {
			report.LowRawMaterials = append(report.LowRawMaterials, m)
		}
	}
	return report
}
