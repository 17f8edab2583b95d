package types

// PaginationResponse describes the page returned by a list endpoint
type PaginationResponse struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListResponse is a page of items plus its pagination
type ListResponse[T any] struct {
	Items      []T                `json:"items"`
	Pagination PaginationResponse `json:"pagination"`
}

// NewListResponse pages items selected with filter out of total matches
func NewListResponse[T any](items []T, total int, filter *QueryFilter) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	limit := filter.GetLimit()
	if filter.IsUnlimited() {
		limit = total
	}
	offset := filter.GetOffset()
	return ListResponse[T]{
		Items: items,
		Pagination: PaginationResponse{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
		},
	}
}
