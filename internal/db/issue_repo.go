package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"letterdrop/internal/types"
)

// IssueRepo provides data access for the newsletter_issues table. Issues are
// insert-only; there is no update path.
type IssueRepo struct {
	db DBTX
}

// NewIssueRepo creates a new IssueRepo backed by the given database
// connection (pool or transaction).
func NewIssueRepo(db DBTX) *IssueRepo {
	return &IssueRepo{db: db}
}

var _ types.IssueRepository = (*IssueRepo)(nil)

// Create inserts a new issue. The caller must set the ID (prefixed UUID,
// e.g. "issue_...") before calling.
func (r *IssueRepo) Create(ctx context.Context, issue *types.NewsletterIssue) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO newsletter_issues (id, title, body_html, body_text, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		issue.ID,
		issue.Title,
		issue.BodyHTML,
		issue.BodyText,
		nilIfZeroTime(issue.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create issue", err)
	}
	return nil
}

// GetByID retrieves an issue by ID. Returns not_found_issue if no row exists.
func (r *IssueRepo) GetByID(ctx context.Context, id string) (*types.NewsletterIssue, error) {
	var issue types.NewsletterIssue
	err := r.db.QueryRow(ctx,
		`SELECT id, title, body_html, body_text, created_at
		 FROM newsletter_issues
		 WHERE id = $1`,
		id,
	).Scan(&issue.ID, &issue.Title, &issue.BodyHTML, &issue.BodyText, &issue.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundIssue, "issue not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get issue", err)
	}
	return &issue, nil
}
