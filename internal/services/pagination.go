package services

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ClampLimit bounds limit to [1, MaxLimit]. Out-of-range values are not an error.
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Offset returns the number of rows to skip for a 1-based page.
func Offset(page, limit int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * limit
}
