package store

import "context"

// Paging defaults.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page selects a 1-based page of results.
type Page struct {
	Number int
	Size   int
}

// NewPage returns a page with out-of-range values replaced by defaults.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// Options returns find options for the page, newest documents first.
func (p Page) Options() FindOptions {
	return FindOptions{
		Skip:   (p.Number - 1) * p.Size,
		Limit:  p.Size,
		Newest: true,
	}
}

// Pagination describes a returned page.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PageResult is a page of decoded documents.
type PageResult[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// FindPage counts and fetches one page of documents matching filter and
// decodes each one.
func FindPage[T any](ctx context.Context, s Store, collection string, filter Filter, page Page, decode func(Document) (T, error)) (*PageResult[T], error) {
	total, err := s.Count(ctx, collection, filter)
	if err != nil {
		return nil, err
	}

	docs, err := s.Find(ctx, collection, filter, page.Options())
	if err != nil {
		return nil, err
	}

	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := decode(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	totalPages := int((total + int64(page.Size) - 1) / int64(page.Size))
	return &PageResult[T]{
		Data: items,
		Pagination: Pagination{
			Page:       page.Number,
			PageSize:   page.Size,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}
