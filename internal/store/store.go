// Package store persists the local registry of ingested repositories, so
// commands can resolve a repository by id, name, or URL without asking
// the server.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mkarlsen/repochat/internal/models"
)

// ErrNotFound is returned when no registry entry matches.
var ErrNotFound = errors.New("store: repository not found")

// dbFileName is the registry database inside the data directory.
const dbFileName = "repochat.db"

// Store is the sqlite-backed repository registry.
type Store struct {
	db *sql.DB
}

// Open creates or opens the registry database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dsn := filepath.Join(dataDir, dbFileName) + "?_journal=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Upsert records a repository, replacing an existing entry with the same
// id. LastUsedAt and IngestedAt default to now when zero.
func (s *Store) Upsert(ctx context.Context, repo models.Repo) error {
	if repo.ID == "" {
		return errors.New("store: repository id is empty")
	}
	now := time.Now()
	if repo.IngestedAt.IsZero() {
		repo.IngestedAt = now
	}
	if repo.LastUsedAt.IsZero() {
		repo.LastUsedAt = now
	}
	if repo.Name == "" {
		repo.Name = models.RepoNameFromURL(repo.GithubURL)
	}

	query := `
	INSERT INTO repos (repo_id, github_url, name, status, ingested_at, last_used_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(repo_id) DO UPDATE SET
		github_url = excluded.github_url,
		name = excluded.name,
		status = excluded.status,
		last_used_at = excluded.last_used_at`

	_, err := s.db.ExecContext(ctx, query,
		repo.ID, repo.GithubURL, repo.Name, string(repo.Status),
		repo.IngestedAt.Unix(), repo.LastUsedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert repo: %w", err)
	}
	return nil
}

// Get returns the repository with the given id.
func (s *Store) Get(ctx context.Context, repoID string) (models.Repo, error) {
	return s.queryOne(ctx, `WHERE repo_id = ?`, repoID)
}

// Resolve finds a repository by id, exact name, or GitHub URL, in that
// order. URL references resolve even when never ingested through this
// client, because the id derives from the URL.
func (s *Store) Resolve(ctx context.Context, ref string) (models.Repo, error) {
	if repo, err := s.queryOne(ctx, `WHERE repo_id = ?`, ref); err == nil {
		return repo, nil
	} else if !errors.Is(err, ErrNotFound) {
		return models.Repo{}, err
	}

	if repo, err := s.queryOne(ctx, `WHERE name = ? ORDER BY last_used_at DESC LIMIT 1`, ref); err == nil {
		return repo, nil
	} else if !errors.Is(err, ErrNotFound) {
		return models.Repo{}, err
	}

	return s.queryOne(ctx, `WHERE github_url = ?`, ref)
}

// List returns all repositories, most recently used first.
func (s *Store) List(ctx context.Context) ([]models.Repo, error) {
	query := `
	SELECT repo_id, github_url, name, status, ingested_at, last_used_at
	FROM repos ORDER BY last_used_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var repos []models.Repo
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repos: %w", err)
	}
	return repos, nil
}

// Touch bumps the repository's last_used_at to now.
func (s *Store) Touch(ctx context.Context, repoID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE repos SET last_used_at = ? WHERE repo_id = ?`,
		time.Now().Unix(), repoID,
	)
	if err != nil {
		return fmt.Errorf("touch repo: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus updates the ingestion status of a repository.
func (s *Store) SetStatus(ctx context.Context, repoID string, status models.IngestStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE repos SET status = ? WHERE repo_id = ?`,
		string(status), repoID,
	)
	if err != nil {
		return fmt.Errorf("set repo status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("status rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a repository from the registry.
func (s *Store) Delete(ctx context.Context, repoID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM repos WHERE repo_id = ?`, repoID)
	if err != nil {
		return fmt.Errorf("delete repo: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryOne(ctx context.Context, where string, arg string) (models.Repo, error) {
	query := `
	SELECT repo_id, github_url, name, status, ingested_at, last_used_at
	FROM repos ` + where

	repo, err := scanRepo(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Repo{}, ErrNotFound
	}
	if err != nil {
		return models.Repo{}, err
	}
	return repo, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRepo(row scanner) (models.Repo, error) {
	var repo models.Repo
	var status string
	var ingestedAt, lastUsedAt int64

	if err := row.Scan(&repo.ID, &repo.GithubURL, &repo.Name, &status, &ingestedAt, &lastUsedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Repo{}, err
		}
		return models.Repo{}, fmt.Errorf("scan repo row: %w", err)
	}

	repo.Status = models.IngestStatus(status)
	repo.IngestedAt = time.Unix(ingestedAt, 0)
	repo.LastUsedAt = time.Unix(lastUsedAt, 0)
	return repo, nil
}
