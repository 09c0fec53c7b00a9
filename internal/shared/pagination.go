package shared

import "math"

const (
	// DefaultPageLimit is applied when the caller does not ask for a limit.
	DefaultPageLimit = 50
	// MaxPageLimit caps page sizes for listing endpoints.
	MaxPageLimit = 200
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = DefaultPageLimit
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PageRequest is a validated page/limit pair.
type PageRequest struct {
	Page  int
	Limit int
}

// Offset returns the row offset of the page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

// NormalizePage applies defaults and rejects out of range values.
func NormalizePage(op string, page, limit int) (PageRequest, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	fields := map[string]string{}
	if page < 1 {
		fields["page"] = "page must be >= 1"
	}
	if limit < 1 || limit > MaxPageLimit {
		fields["limit"] = "limit must be between 1 and 200"
	}
	if len(fields) > 0 {
		return PageRequest{}, Validation(op, fields)
	}
	return PageRequest{Page: page, Limit: limit}, nil
}
