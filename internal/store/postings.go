package store

import (
	"context"
	"fmt"
	"strings"
)

// PostingFilter is the read-side filter for the public catalog.
type PostingFilter struct {
	Query            string
	OrganizationName string
	Country          string
	Remote           *bool
	Status           string
	Tag              string
	SortBy           string // created_at | updated_at | deadline | published_at
	SortDesc         bool
	Limit            int
	Offset           int
}

var postingSortColumns = map[string]string{
	"created_at":   "created_at",
	"updated_at":   "updated_at",
	"deadline":     "deadline",
	"published_at": "published_at",
}

// ListPostings returns catalog rows matching the filter. The q filter is a
// LIKE match over title, organization and description; there is no
// full-text engine behind this by design.
func (s *Store) ListPostings(ctx context.Context, f PostingFilter) ([]*Posting, error) {
	var conditions []string
	var args []any

	if f.Query != "" {
		like := "%" + f.Query + "%"
		conditions = append(conditions,
			"(title LIKE ? OR organization_name LIKE ? OR COALESCE(description_text,'') LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.OrganizationName != "" {
		conditions = append(conditions, "organization_name = ?")
		args = append(args, f.OrganizationName)
	}
	if f.Country != "" {
		conditions = append(conditions, "country = ?")
		args = append(args, f.Country)
	}
	if f.Remote != nil {
		conditions = append(conditions, "remote = ?")
		if *f.Remote {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, f.Status)
	}
	if f.Tag != "" {
		// tags is a JSON array of strings; LIKE on the quoted token.
		conditions = append(conditions, "tags LIKE ?")
		args = append(args, `%"`+f.Tag+`"%`)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	sortCol, ok := postingSortColumns[f.SortBy]
	if !ok {
		sortCol = "created_at"
	}
	direction := "ASC"
	if f.SortDesc {
		direction = "DESC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(
		"SELECT %s FROM postings %s ORDER BY %s %s, id ASC LIMIT ? OFFSET ?",
		PostingColumns, where, sortCol, direction,
	)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var postings []*Posting
	for rows.Next() {
		p, err := ScanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

// GetPosting returns a posting by id, or nil when absent.
func (s *Store) GetPosting(ctx context.Context, id string) (*Posting, error) {
	row := s.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM postings WHERE id = ?", PostingColumns), id)
	p, err := ScanPosting(row)
	if IsNoRows(err) {
		return nil, nil
	}
	return p, err
}
