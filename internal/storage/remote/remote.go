// Package remote stores ledger tables as CSV files committed to a source
// repository. Reads fetch raw file content; writes go through the repository
// contents API, using each file's blob SHA as its revision marker.
package remote

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"loyalty-ledger/internal/storage"
)

const (
	defaultRawBaseURL = "https://raw.githubusercontent.com"
	defaultBranch     = "main"
	defaultTimeout    = 10 * time.Second

	// unknownRevision marks a file whose content could not be read, so no
	// write may be based on it until the next successful load.
	unknownRevision = "?"
)

// Config identifies the repository and credentials.
type Config struct {
	Owner  string
	Repo   string
	Branch string
	Token  string
	// Dir is an optional folder inside the repository.
	Dir        string
	RawBaseURL string
	// APIBaseURL overrides the API endpoint (enterprise installs, tests).
	APIBaseURL string
	Timeout    time.Duration
}

// Store reads and commits table files in a remote repository.
type Store struct {
	cfg    Config
	http   *http.Client
	client *github.Client
	logger *slog.Logger

	mu sync.Mutex
	// revisions holds the blob SHA each file had when it was last read or
	// written by this store; "" means the file did not exist.
	revisions map[string]string
}

// New validates cfg and builds the HTTP and API clients.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("remote storage requires owner and repo")
	}
	if cfg.Token == "" {
		return nil, errors.New("remote storage requires a token")
	}
	if cfg.Branch == "" {
		cfg.Branch = defaultBranch
	}
	if cfg.RawBaseURL == "" {
		cfg.RawBaseURL = defaultRawBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	client := github.NewClient(httpClient).WithAuthToken(cfg.Token)
	if cfg.APIBaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.APIBaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid api base url: %w", err)
		}
		client.BaseURL = base
	}

	return &Store{
		cfg:       cfg,
		http:      httpClient,
		client:    client,
		logger:    logger,
		revisions: map[string]string{},
	}, nil
}

func (s *Store) filePath(id storage.TableID) string {
	if s.cfg.Dir == "" {
		return id.FileName()
	}
	return path.Join(s.cfg.Dir, id.FileName())
}

func (s *Store) rawURL(id storage.TableID) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s",
		strings.TrimSuffix(s.cfg.RawBaseURL, "/"), s.cfg.Owner, s.cfg.Repo, s.cfg.Branch, s.filePath(id))
}

// LoadTable fetches the raw file. Any failure is logged and yields an empty
// table so that an unreachable remote does not take the ledger down. The
// revision of what was read is remembered and later writes must match it.
func (s *Store) LoadTable(ctx context.Context, id storage.TableID) (storage.Table, error) {
	empty := storage.Table{ID: id}
	p := s.filePath(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.rawURL(id), nil)
	if err != nil {
		return empty, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		s.logger.Warn("remote table unavailable", "table", string(id), "error", err)
		s.setRevision(p, unknownRevision)
		return empty, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		s.setRevision(p, "")
		return empty, nil
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("remote table fetch failed", "table", string(id), "status", resp.StatusCode)
		s.setRevision(p, unknownRevision)
		return empty, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Warn("remote table read failed", "table", string(id), "error", err)
		s.setRevision(p, unknownRevision)
		return empty, nil
	}
	s.setRevision(p, BlobSHA(data))

	table, err := storage.DecodeCSV(id, data)
	if err != nil {
		s.logger.Warn("ignoring malformed remote table", "table", string(id), "error", err)
		return empty, nil
	}
	return table, nil
}

type stagedFile struct {
	id      storage.TableID
	path    string
	content []byte
	sha     string // empty when the file does not exist yet
}

// SaveTables stages every file (encoding it and reading its current SHA)
// before committing any of them. A file that changed since this store last
// read it fails the whole call with storage.ErrConflict before anything is
// committed. A commit that fails after an earlier one succeeded is reported
// as storage.ErrPartialWrite.
func (s *Store) SaveTables(ctx context.Context, message string, tables ...storage.Table) error {
	staged := make([]stagedFile, 0, len(tables))
	for _, t := range tables {
		content, err := storage.EncodeCSV(t)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", t.ID, err)
		}
		p := s.filePath(t.ID)
		sha, err := s.currentSHA(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to stage %s: %w", t.ID, err)
		}
		if expected, ok := s.revision(p); ok && expected != sha {
			return fmt.Errorf("%w: %s changed since it was read", storage.ErrConflict, p)
		}
		staged = append(staged, stagedFile{id: t.ID, path: p, content: content, sha: sha})
	}

	committed := 0
	for _, f := range staged {
		if err := s.commit(ctx, f, message); err != nil {
			if committed > 0 {
				return fmt.Errorf("%w: %d of %d committed: %w", storage.ErrPartialWrite, committed, len(staged), err)
			}
			return err
		}
		committed++
	}
	return nil
}

func (s *Store) revision(p string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha, ok := s.revisions[p]
	return sha, ok
}

func (s *Store) setRevision(p, sha string) {
	s.mu.Lock()
	s.revisions[p] = sha
	s.mu.Unlock()
}

// BlobSHA returns the git blob hash of content, which is the SHA the
// contents API reports for a file with that content.
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) currentSHA(ctx context.Context, p string) (string, error) {
	file, _, resp, err := s.client.Repositories.GetContents(ctx, s.cfg.Owner, s.cfg.Repo, p,
		&github.RepositoryContentGetOptions{Ref: s.cfg.Branch})
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory", p)
	}
	return file.GetSHA(), nil
}

func (s *Store) commit(ctx context.Context, f stagedFile, message string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: f.content,
		Branch:  github.String(s.cfg.Branch),
	}

	var (
		res  *github.RepositoryContentResponse
		resp *github.Response
		err  error
	)
	if f.sha == "" {
		res, resp, err = s.client.Repositories.CreateFile(ctx, s.cfg.Owner, s.cfg.Repo, f.path, opts)
	} else {
		opts.SHA = github.String(f.sha)
		res, resp, err = s.client.Repositories.UpdateFile(ctx, s.cfg.Owner, s.cfg.Repo, f.path, opts)
	}
	if err != nil {
		if isConflict(resp, f.sha == "") {
			return fmt.Errorf("%w: %s was modified concurrently: %w", storage.ErrConflict, f.path, err)
		}
		return fmt.Errorf("failed to commit %s: %w", f.path, err)
	}

	sha := res.GetContent().GetSHA()
	if sha == "" {
		sha = BlobSHA(f.content)
	}
	s.setRevision(f.path, sha)
	s.logger.Info("remote table committed", "table", string(f.id), "created", f.sha == "")
	return nil
}

// isConflict reports whether the API rejected a write because the file's
// revision moved. Creating a file that already exists is answered with 422.
func isConflict(resp *github.Response, creating bool) bool {
	if resp == nil {
		return false
	}
	switch resp.StatusCode {
	case http.StatusConflict:
		return true
	case http.StatusUnprocessableEntity:
		return creating
	}
	return false
}
