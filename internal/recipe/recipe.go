// Package recipe computes product cost from its ingredient list.
package recipe

import (
	"github.com/shopspring/decimal"

	"github.com/BryanFarras/TokoKami/internal/domain"
	"github.com/BryanFarras/TokoKami/internal/store"
)

// Rollup returns Σ unit_cost × amount over the ingredient list, rounded half
// away from zero to store.MoneyPlaces. unitCosts is keyed by raw material id
// and must contain every referenced material.
func Rollup(ingredients []domain.Ingredient, unitCosts map[int64]decimal.Decimal) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, ingredient := range ingredients {
		if ingredient.Amount.IsNegative() {
			return decimal.Zero, store.Validation("ingredient amount must not be negative")
		}
		unitCost, ok := unitCosts[ingredient.RawMaterialID]
		if !ok {
			return decimal.Zero, store.NotFound("raw material", ingredient.RawMaterialID)
		}
		total = total.Add(unitCost.Mul(ingredient.Amount))
	}
	return total.Round(store.MoneyPlaces), nil
}

// Apply sets product.CostPrice from the recipe unless the cost is manual.
func Apply(product *domain.Product, unitCosts map[int64]decimal.Decimal) error {
	if product.ManualCost {
		return nil
	}
	cost, err := Rollup(product.Ingredients, unitCosts)
	if err != nil {
		return err
	}
	product.CostPrice = cost
	return nil
}

// Normalize merges duplicate raw material references and drops zero amounts.
// Order of first appearance is kept.
func Normalize(ingredients []domain.Ingredient) ([]domain.Ingredient, error) {
	index := make(map[int64]int, len(ingredients))
	out := make([]domain.Ingredient, 0, len(ingredients))
	for _, ingredient := range ingredients {
		if ingredient.RawMaterialID < 1 {
			return nil, store.Validation("ingredient raw_material_id is required")
		}
		if ingredient.Amount.IsNegative() {
			return nil, store.Validation("ingredient amount must not be negative")
		}
		if ingredient.Amount.IsZero() {
			continue
		}
		if i, ok := index[ingredient.RawMaterialID]; ok {
			out[i].Amount = out[i].Amount.Add(ingredient.Amount)
			continue
		}
		index[ingredient.RawMaterialID] = len(out)
		out = append(out, domain.Ingredient{RawMaterialID: ingredient.RawMaterialID, Amount: ingredient.Amount})
	}
	return out, nil
}

// MaterialIDs lists the distinct raw materials a recipe references.
func MaterialIDs(ingredients []domain.Ingredient) []int64 {
	seen := make(map[int64]struct{}, len(ingredients))
	ids := make([]int64, 0, len(ingredients))
	for _, ingredient := range ingredients {
		if _, ok := seen[ingredient.RawMaterialID]; ok {
			continue
		}
		seen[ingredient.RawMaterialID] = struct{}{}
		ids = append(ids, ingredient.RawMaterialID)
	}
	return ids
}
