package main

import (
	"fmt"
	"strconv"
	"strings"

	"abada_sales/internal/model"
)

// parseItemSpecs 解析 TYPE[:SIZE]:QTY；abada/addon 是两种类型的简写。
func parseItemSpecs(specs []string) ([]model.ItemRequest, error) {
	out := make([]model.ItemRequest, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(strings.TrimSpace(spec), ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid item %q: want TYPE[:SIZE]:QTY", spec)
		}
		qty, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			return nil, fmt.Errorf("invalid item %q: quantity must be a number", spec)
		}
		req := model.ItemRequest{Type: itemType(parts[0]), Quantity: qty}
		if len(parts) == 3 {
			req.Size = parts[1]
		}
		out = append(out, req)
	}
	return out, nil
}

func itemType(s string) model.ItemType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abada", "primary":
		return model.ItemPrimary
	case "addon", "add-on":
		return model.ItemAddOn
	}
	return model.ItemType(s)
}
