package vcs

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/fixd/internal/config"
)

// GitHubConfig holds GitHub publisher configuration.
type GitHubConfig struct {
	Token config.Secret `koanf:"token"`
	// BaseURL overrides the API endpoint, for GitHub Enterprise or tests.
	BaseURL string `koanf:"base_url"`
}

// GitHub publishes fixes via the GitHub API. Commits are built with the Git
// data API (blob, tree, commit, ref) so a multi-file fix lands as one commit.
type GitHub struct {
	client *github.Client
	logger *zap.Logger
}

// NewGitHub creates an authenticated GitHub publisher.
func NewGitHub(ctx context.Context, cfg GitHubConfig, logger *zap.Logger) (*GitHub, error) {
	if !cfg.Token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
	}

	return &GitHub{client: client, logger: logger}, nil
}

func (g *GitHub) GetFile(ctx context.Context, repo Repo, path, ref string) (*FileContent, error) {
	fileContent, _, _, err := g.client.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, &github.RepositoryContentGetOptions{
		Ref: ref,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file content: %w", err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("path %q is a directory, not a file", path)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode file content: %w", err)
	}

	return &FileContent{
		Path:    path,
		Content: content,
		SHA:     fileContent.GetSHA(),
	}, nil
}

func (g *GitHub) CreateBranch(ctx context.Context, repo Repo, branch, base string) error {
	baseRef, _, err := g.client.Git.GetRef(ctx, repo.Owner, repo.Name, "refs/heads/"+base)
	if err != nil {
		return fmt.Errorf("failed to resolve base branch %q: %w", base, err)
	}

	_, _, err = g.client.Git.CreateRef(ctx, repo.Owner, repo.Name, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: baseRef.Object.SHA},
	})
	if err != nil {
		return fmt.Errorf("failed to create branch %q: %w", branch, err)
	}

	g.logger.Info("created branch",
		zap.String("repo", repo.Owner+"/"+repo.Name),
		zap.String("branch", branch),
		zap.String("base", base))
	return nil
}

func (g *GitHub) CommitFiles(ctx context.Context, repo Repo, branch, message string, files map[string]string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("no files to commit")
	}

	ref, _, err := g.client.Git.GetRef(ctx, repo.Owner, repo.Name, "refs/heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("failed to resolve branch %q: %w", branch, err)
	}
	parentSHA := ref.Object.GetSHA()

	parentCommit, _, err := g.client.Git.GetCommit(ctx, repo.Owner, repo.Name, parentSHA)
	if err != nil {
		return "", fmt.Errorf("failed to get parent commit: %w", err)
	}

	// Sorted paths keep tree construction deterministic.
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	entries := make([]*github.TreeEntry, 0, len(paths))
	for _, path := range paths {
		blob, _, err := g.client.Git.CreateBlob(ctx, repo.Owner, repo.Name, &github.Blob{
			Content:  github.String(files[path]),
			Encoding: github.String("utf-8"),
		})
		if err != nil {
			return "", fmt.Errorf("failed to create blob for %q: %w", path, err)
		}
		entries = append(entries, &github.TreeEntry{
			Path: github.String(path),
			Mode: github.String("100644"),
			Type: github.String("blob"),
			SHA:  blob.SHA,
		})
	}

	tree, _, err := g.client.Git.CreateTree(ctx, repo.Owner, repo.Name, parentCommit.Tree.GetSHA(), entries)
	if err != nil {
		return "", fmt.Errorf("failed to create tree: %w", err)
	}

	commit, _, err := g.client.Git.CreateCommit(ctx, repo.Owner, repo.Name, &github.Commit{
		Message: github.String(message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.String(parentSHA)}},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}

	ref.Object.SHA = commit.SHA
	if _, _, err := g.client.Git.UpdateRef(ctx, repo.Owner, repo.Name, ref, false); err != nil {
		return "", fmt.Errorf("failed to update branch ref: %w", err)
	}

	g.logger.Info("committed files",
		zap.String("repo", repo.Owner+"/"+repo.Name),
		zap.String("branch", branch),
		zap.Int("files", len(files)),
		zap.String("sha", commit.GetSHA()))
	return commit.GetSHA(), nil
}

func (g *GitHub) CreateChangeRequest(ctx context.Context, repo Repo, req ChangeRequest) (*ChangeRequestResult, error) {
	pr, _, err := g.client.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
		Title: github.String(req.Title),
		Body:  github.String(req.Body),
		Head:  github.String(req.Head),
		Base:  github.String(req.Base),
		Draft: github.Bool(req.Draft),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	g.logger.Info("created pull request",
		zap.String("repo", repo.Owner+"/"+repo.Name),
		zap.Int("number", pr.GetNumber()),
		zap.Bool("draft", req.Draft))
	return &ChangeRequestResult{
		Number:    pr.GetNumber(),
		URL:       pr.GetHTMLURL(),
		CreatedAt: pr.GetCreatedAt().Time,
	}, nil
}

func (g *GitHub) PostComment(ctx context.Context, repo Repo, number int, body string) error {
	_, _, err := g.client.Issues.CreateComment(ctx, repo.Owner, repo.Name, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}
