package store

const schema = `
CREATE TABLE IF NOT EXISTS repos (
	repo_id      TEXT PRIMARY KEY,
	github_url   TEXT NOT NULL,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL,
	ingested_at  INTEGER NOT NULL,
	last_used_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_repos_url ON repos(github_url);
CREATE INDEX IF NOT EXISTS idx_repos_name ON repos(name);
CREATE INDEX IF NOT EXISTS idx_repos_last_used ON repos(last_used_at);
`
