package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Highrates/vspomni-sub000/internal/cart"
	"github.com/Highrates/vspomni-sub000/internal/commerce"
)

type productLookup interface {
	GetProduct(ctx context.Context, slug string) (*commerce.Product, error)
}

// resolveLineVariant maps a cart line to its backend variant identifier.
// A line that already carries one is reused without a lookup. Each failure
// mode gets its own shopper-facing message.
func resolveLineVariant(ctx context.Context, backend productLookup, line cart.Line) (string, error) {
	if line.VariantID != "" {
		return line.VariantID, nil
	}

	product, err := backend.GetProduct(ctx, line.Slug)
	if err != nil {
		if errors.Is(err, commerce.ErrProductNotFound) {
			return "", userErrorf(err, "%q is no longer available. Remove it from your cart to continue.", displayName(line))
		}
		return "", fmt.Errorf("failed to resolve %q: %w", displayName(line), err)
	}
	if !product.Available {
		return "", userErrorf(nil, "%q is no longer available for purchase. Remove it from your cart to continue.", productName(product, line))
	}

	var sizes []string
	for _, variant := range product.Variants {
		if variant.Size == line.Size {
			return variant.ID, nil
		}
		sizes = append(sizes, variant.Size)
	}

	if len(sizes) > 0 {
		return "", userErrorf(nil, "Size %s of %q is no longer offered. Available sizes: %s.", line.Size, productName(product, line), strings.Join(sizes, ", "))
	}
	return "", userErrorf(nil, "We couldn't match %q (%s) to a purchasable item. Remove it from your cart and add it again.", productName(product, line), line.Size)
}

func displayName(line cart.Line) string {
	if line.Name != "" {
		return line.Name
	}
	return line.Slug
}

func productName(product *commerce.Product, line cart.Line) string {
	if product != nil && product.Name != "" {
		return product.Name
	}
	return displayName(line)
}
