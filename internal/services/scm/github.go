package scm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the GitHub REST API endpoint
	DefaultBaseURL = "https://api.github.com"
	// DefaultTimeout is the timeout for GitHub API calls
	DefaultTimeout = 15 * time.Second
)

// FeatureRequest is a user-submitted feature to file as a pull request
type FeatureRequest struct {
	Title       string
	Description string
	RequestedBy string
}

// PullRequest identifies the created pull request
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"html_url"`
}

// Client files feature requests in source control
type Client interface {
	SubmitFeatureRequest(ctx context.Context, req *FeatureRequest) (*PullRequest, error)
}

// GitHubClient implements Client against the GitHub REST API. Calls are not
// retried; a failed submission surfaces to the user, who can resend.
type GitHubClient struct {
	httpClient *http.Client
	baseURL    string
	owner      string
	repo       string
	logger     *zap.Logger
}

var _ Client = (*GitHubClient)(nil)

// NewGitHubClient creates a client for one repository, given as "owner/name"
func NewGitHubClient(token, repository string, logger *zap.Logger) (*GitHubClient, error) {
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("repository must be in owner/name form, got %q", repository)
	}

	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), source)
	httpClient.Timeout = DefaultTimeout

	return &GitHubClient{
		httpClient: httpClient,
		baseURL:    DefaultBaseURL,
		owner:      owner,
		repo:       repo,
		logger:     logger,
	}, nil
}

// SubmitFeatureRequest files the request as a pull request adding a markdown
// document: resolve the default branch, cut a branch from its head, commit
// the document, open the pull.
func (c *GitHubClient) SubmitFeatureRequest(ctx context.Context, req *FeatureRequest) (*PullRequest, error) {
	defaultBranch, err := c.defaultBranch(ctx)
	if err != nil {
		return nil, err
	}

	baseSHA, err := c.branchHead(ctx, defaultBranch)
	if err != nil {
		return nil, err
	}

	slug := slugify(req.Title)
	branch := fmt.Sprintf("feature-request/%s-%d", slug, time.Now().Unix())
	if err := c.createBranch(ctx, branch, baseSHA); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("feature-requests/%s.md", slug)
	document := renderDocument(req)
	if err := c.createFile(ctx, branch, path, fmt.Sprintf("Add feature request: %s", req.Title), document); err != nil {
		return nil, err
	}

	pull, err := c.createPull(ctx, branch, defaultBranch, req)
	if err != nil {
		return nil, err
	}

	c.logger.Info("feature request filed",
		zap.String("repo", c.owner+"/"+c.repo),
		zap.Int("pull_number", pull.Number))

	return pull, nil
}

func (c *GitHubClient) defaultBranch(ctx context.Context) (string, error) {
	var repo struct {
		DefaultBranch string `json:"default_branch"`
	}
	url := fmt.Sprintf("%s/repos/%s/%s", c.baseURL, c.owner, c.repo)
	if err := c.do(ctx, http.MethodGet, url, nil, &repo); err != nil {
		return "", fmt.Errorf("failed to get repository: %w", err)
	}
	return repo.DefaultBranch, nil
}

func (c *GitHubClient) branchHead(ctx context.Context, branch string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	url := fmt.Sprintf("%s/repos/%s/%s/git/ref/heads/%s", c.baseURL, c.owner, c.repo, branch)
	if err := c.do(ctx, http.MethodGet, url, nil, &ref); err != nil {
		return "", fmt.Errorf("failed to get branch head: %w", err)
	}
	return ref.Object.SHA, nil
}

func (c *GitHubClient) createBranch(ctx context.Context, branch, sha string) error {
	body := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	}
	url := fmt.Sprintf("%s/repos/%s/%s/git/refs", c.baseURL, c.owner, c.repo)
	if err := c.do(ctx, http.MethodPost, url, body, nil); err != nil {
		return fmt.Errorf("failed to create branch: %w", err)
	}
	return nil
}

func (c *GitHubClient) createFile(ctx context.Context, branch, path, message, content string) error {
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, c.owner, c.repo, path)
	if err := c.do(ctx, http.MethodPut, url, body, nil); err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

func (c *GitHubClient) createPull(ctx context.Context, branch, base string, req *FeatureRequest) (*PullRequest, error) {
	body := map[string]string{
		"title": "Feature request: " + req.Title,
		"head":  branch,
		"base":  base,
		"body":  req.Description,
	}
	pull := &PullRequest{}
	url := fmt.Sprintf("%s/repos/%s/%s/pulls", c.baseURL, c.owner, c.repo)
	if err := c.do(ctx, http.MethodPost, url, body, pull); err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}
	return pull, nil
}

func (c *GitHubClient) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("github returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func renderDocument(req *FeatureRequest) string {
	var sb strings.Builder
	sb.WriteString("# " + req.Title + "\n\n")
	sb.WriteString(req.Description + "\n\n")
	sb.WriteString("---\n")
	sb.WriteString("Requested by: " + req.RequestedBy + "\n")
	sb.WriteString("Submitted: " + time.Now().UTC().Format(time.RFC3339) + "\n")
	return sb.String()
}

// slugify turns a title into a branch and file safe slug
func slugify(s string) string {
	var sb strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteRune('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		slug = "feature-request"
	}
	return slug
}
