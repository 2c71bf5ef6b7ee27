package token

import (
	"context"
	"errors"
	"fmt"

	"abada_sales/internal/store"
)

const maxMintAttempts = 5

// Registry 登记 token 的存储能力。
type Registry interface {
	TokenExists(ctx context.Context, token string) (bool, error)
}

// Mint 生成一个尚未登记的 token，并交给 assign 落库。
// assign 返回 ErrDuplicate（并发下的撞号）时换一个重试；其他错误直接返回。
func Mint(ctx context.Context, reg Registry, assign func(token string) error) (string, error) {
	for attempt := 1; attempt <= maxMintAttempts; attempt++ {
		tok, err := Generate()
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		exists, err := reg.TokenExists(ctx, tok)
		if err != nil {
			return "", err
		}
		if exists {
			continue
		}
		err = assign(tok)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: could not mint a unique token after %d attempts", store.ErrDuplicate, maxMintAttempts)
}
