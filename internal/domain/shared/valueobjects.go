package shared

import (
	"math"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identity Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// ProgressKey identifies one member's progress inside one group.
type ProgressKey struct {
	GroupID  string
	MemberID string
}

// NewProgressKey trims and validates both halves of the key.
func NewProgressKey(groupID, memberID string) (ProgressKey, error) {
	k := ProgressKey{
		GroupID:  strings.TrimSpace(groupID),
		MemberID: strings.TrimSpace(memberID),
	}
	if err := k.Validate(); err != nil {
		return ProgressKey{}, err
	}
	return k, nil
}

// Validate checks that both identifiers are present.
func (k ProgressKey) Validate() error {
	if k.GroupID == "" {
		return ErrInvalidGroupID
	}
	if k.MemberID == "" {
		return ErrInvalidMemberID
	}
	return nil
}

// String returns the canonical "group:member" form used for lock and cache keys.
func (k ProgressKey) String() string {
	return ProgressAggregateID(k.GroupID, k.MemberID)
}

// ═══════════════════════════════════════════════════════════════════════════
// Rank Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Rank is a 1-based leaderboard position.
type Rank int

const (
	MinRank  Rank = 1
	Unranked Rank = 0
)

// IsValid checks if the rank is valid.
func (r Rank) IsValid() bool {
	return r >= MinRank
}

// Int returns the underlying int value.
func (r Rank) Int() int {
	return int(r)
}

// IsTop returns true if the rank is in the top N.
func (r Rank) IsTop(n int) bool {
	return r.IsValid() && int(r) <= n
}

// Medal returns a medal emoji for the podium.
func (r Rank) Medal() string {
	switch r {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	default:
		return ""
	}
}

// Percentile returns the "top N%" figure for this rank within a population
// of size n, rounded to the nearest integer. An empty population yields 100.
func (r Rank) Percentile(n int) int {
	if n <= 0 {
		return 100
	}
	if !r.IsValid() || int(r) > n {
		return 0
	}
	return int(math.Round((1 - float64(r-1)/float64(n)) * 100))
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}
