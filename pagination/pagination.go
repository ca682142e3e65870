// Package pagination carries an offset/limit page through a request
// context, mirroring the appview pagination helper this service is
// modeled on.
package pagination

import (
	"context"
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 30
	MaxLimit     = 100
)

type Page struct {
	Offset int
	Limit  int
}

func FirstPage() Page {
	return Page{Offset: 0, Limit: DefaultLimit}
}

func (p Page) Next() Page {
	return Page{Offset: p.Offset + p.Limit, Limit: p.Limit}
}

func (p Page) Previous() Page {
	offset := p.Offset - p.Limit
	if offset < 0 {
		offset = 0
	}
	return Page{Offset: offset, Limit: p.Limit}
}

type ctxKey struct{}

func IntoContext(ctx context.Context, p Page) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) Page {
	v := ctx.Value(ctxKey{})
	if v == nil {
		return FirstPage()
	}
	return v.(Page)
}

// FromRequest parses `limit` and `offset` query parameters, clamping limit
// to [1, MaxLimit] and offset to >= 0.
func FromRequest(r *http.Request) Page {
	p := FirstPage()
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		}
	}

	return p
}
