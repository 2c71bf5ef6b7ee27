package token

import (
	"context"
	"errors"

	"abada_sales/internal/apperr"
	"abada_sales/internal/model"
	"abada_sales/internal/store"
)

// ErrNotFound 对外只暴露"找到 / 没找到"，不泄露凭证类型。
var ErrNotFound = apperr.New(apperr.KindNotFound, "token not found")

// Lookup 是解析器需要的存储能力，*store.Store 满足该接口。
type Lookup interface {
	FindOrderByToken(ctx context.Context, token string) (*model.Order, error)
	FindCourtesyByToken(ctx context.Context, token string) (*model.Courtesy, error)
}

type Resolver struct {
	lookup Lookup
}

func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve 依次尝试各个候选形式；每个候选先查订单再查赠票，第一个命中即返回。无副作用。
func (r *Resolver) Resolve(ctx context.Context, raw string) (model.Entitlement, error) {
	for _, c := range Candidates(raw) {
		o, err := r.lookup.FindOrderByToken(ctx, c)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		cs, err := r.lookup.FindCourtesyByToken(ctx, c)
		if err == nil {
			return cs, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}
