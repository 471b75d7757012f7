package handlers

import (
	"math"
	"net/http"
	"net/url"
	"strconv"

	"weather-stats/internal/models"
	"weather-stats/internal/repository"
)

// Page size defaults used when the handler is built without explicit limits
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// errInvalidPage is returned for a page past the last one that has results
const errInvalidPage = "Invalid page."

// Paginator turns page/page_size query parameters into limit/offset pairs
type Paginator struct {
	DefaultPageSize int
	MaxPageSize     int
}

type pageRequest struct {
	Page     int
	PageSize int
}

func (p pageRequest) limit() int  { return p.PageSize }
func (p pageRequest) offset() int { return (p.Page - 1) * p.PageSize }

// parse reads page and page_size from the query string. page must be a
// positive integer; page_size falls back to the default when unusable and is
// capped at the maximum. A page no result set can reach is a not-found error.
func (p Paginator) parse(query url.Values) (pageRequest, error) {
	defaultSize := p.DefaultPageSize
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	maxSize := p.MaxPageSize
	if maxSize <= 0 {
		maxSize = MaxPageSize
	}

	req := pageRequest{Page: 1, PageSize: defaultSize}

	if raw := query.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return req, &models.ValidationError{Field: "page", Value: raw, Message: errInvalidPage}
		}
		req.Page = page
	}

	if raw := query.Get("page_size"); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil && size > 0 {
			req.PageSize = size
		}
	}
	if req.PageSize > maxSize {
		req.PageSize = maxSize
	}

	// offsets and next-page links must stay within int
	if req.Page > math.MaxInt/req.PageSize {
		return req, &repository.NotFoundError{Resource: "page", ID: strconv.Itoa(req.Page)}
	}

	return req, nil
}

// PageResponse is the paginated list envelope
type PageResponse struct {
	Count    int         `json:"count"`
	Next     *string     `json:"next"`
	Previous *string     `json:"previous"`
	Results  interface{} `json:"results"`
}

func newPageResponse(r *http.Request, req pageRequest, total int, results interface{}) PageResponse {
	resp := PageResponse{Count: total, Results: results}

	if req.Page*req.PageSize < total {
		next := pageURL(r, req.Page+1)
		resp.Next = &next
	}
	if req.Page > 1 {
		prev := pageURL(r, req.Page-1)
		resp.Previous = &prev
	}

	return resp
}

// pageURL rebuilds the absolute request URL pointing at page. The first page
// drops the page parameter.
func pageURL(r *http.Request, page int) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	query := r.URL.Query()
	if page <= 1 {
		query.Del("page")
	} else {
		query.Set("page", strconv.Itoa(page))
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: query.Encode(),
	}
	return u.String()
}
