// Package vcs publishes generated fixes to a version control host.
package vcs

import (
	"context"
	"time"
)

// Repo identifies a repository on the host.
type Repo struct {
	Owner string
	Name  string
}

// FileContent is a single file fetched from the repository.
type FileContent struct {
	Path    string
	Content string
	SHA     string
}

// ChangeRequest describes the pull request to open for a fix.
type ChangeRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// ChangeRequestResult is the created pull request.
type ChangeRequestResult struct {
	Number    int
	URL       string
	CreatedAt time.Time
}

// Publisher is the host adapter used by the fix engine. Implementations
// return plain errors; the engine classifies them.
type Publisher interface {
	// GetFile fetches file content at the given ref. An empty ref means the
	// default branch.
	GetFile(ctx context.Context, repo Repo, path, ref string) (*FileContent, error)

	// CreateBranch creates a branch pointing at the head of base.
	CreateBranch(ctx context.Context, repo Repo, branch, base string) error

	// CommitFiles writes the given files to branch in a single commit and
	// returns the commit SHA.
	CommitFiles(ctx context.Context, repo Repo, branch, message string, files map[string]string) (string, error)

	// CreateChangeRequest opens a pull request.
	CreateChangeRequest(ctx context.Context, repo Repo, req ChangeRequest) (*ChangeRequestResult, error)

	// PostComment adds a comment to an existing pull request.
	PostComment(ctx context.Context, repo Repo, number int, body string) error
}
