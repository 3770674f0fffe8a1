package docs

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"basegraph.app/coordinator/internal/auth"
	"basegraph.app/coordinator/internal/model"
)

const (
	commentFields  = "nextPageToken,comments(id,content,createdTime,resolved,anchor,quotedFileContent(value),author(displayName,emailAddress),replies(id,content,createdTime,author(displayName,emailAddress)))"
	revisionFields = "nextPageToken,revisions(id,modifiedTime,size,lastModifyingUser(displayName,emailAddress))"
	fileFields     = "id,name,modifiedTime,owners(displayName,emailAddress)"
)

// GoogleSource reads comments, revisions and file metadata from the Drive v3 API.
type GoogleSource struct {
	drive   *drive.Service
	tokens  oauth2.TokenSource
	limiter *rate.Limiter
}

type GoogleOptions struct {
	// Endpoint overrides the Drive API base URL.
	Endpoint string
	// RatePerSecond paces page requests. Zero disables pacing.
	RatePerSecond float64
	// ClientOptions are appended last, after the token source.
	ClientOptions []option.ClientOption
}

func NewGoogleSource(ctx context.Context, tokens oauth2.TokenSource, opts GoogleOptions) (*GoogleSource, error) {
	var clientOpts []option.ClientOption
	if tokens != nil {
		clientOpts = append(clientOpts, option.WithTokenSource(tokens))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	svc, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	return &GoogleSource{drive: svc, tokens: tokens, limiter: limiter}, nil
}

func (s *GoogleSource) Preflight(ctx context.Context) error {
	if s.tokens == nil {
		return nil
	}
	if _, err := s.tokens.Token(); err != nil {
		return fmt.Errorf("%w: %v", auth.ErrCredentials, err)
	}
	return nil
}

func (s *GoogleSource) ListComments(ctx context.Context, docID string) ([]model.Comment, error) {
	var out []model.Comment
	pageToken := ""
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		call := s.drive.Comments.List(docID).
			Fields(commentFields).
			IncludeDeleted(false).
			PageSize(100).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, err
		}
		for _, c := range page.Comments {
			out = append(out, mapComment(c))
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

func (s *GoogleSource) ListRevisions(ctx context.Context, docID string) ([]model.Revision, error) {
	var out []model.Revision
	pageToken := ""
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		call := s.drive.Revisions.List(docID).
			Fields(revisionFields).
			PageSize(200).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, err
		}
		for _, r := range page.Revisions {
			out = append(out, mapRevision(r))
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

func (s *GoogleSource) GetMetadata(ctx context.Context, docID string) (model.DocumentMetadata, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return model.DocumentMetadata{}, err
	}
	f, err := s.drive.Files.Get(docID).
		Fields(fileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return model.DocumentMetadata{}, err
	}

	meta := model.DocumentMetadata{
		ID:           f.Id,
		Title:        f.Name,
		LastModified: parseTime(f.ModifiedTime),
	}
	if meta.ID == "" {
		meta.ID = docID
	}
	if meta.Title == "" {
		meta.Title = "Untitled"
	}
	if len(f.Owners) > 0 {
		meta.Owner = mapUser(f.Owners[0]).DisplayName
	}
	return meta, nil
}

func mapComment(c *drive.Comment) model.Comment {
	out := model.Comment{
		ID:          c.Id,
		Author:      mapUser(c.Author),
		Content:     c.Content,
		CreatedTime: parseTime(c.CreatedTime),
		Resolved:    c.Resolved,
		Anchor:      c.Anchor,
	}
	if c.QuotedFileContent != nil {
		out.QuotedContent = c.QuotedFileContent.Value
	}
	for _, r := range c.Replies {
		out.Replies = append(out.Replies, model.Reply{
			ID:          r.Id,
			Author:      mapUser(r.Author),
			Content:     r.Content,
			CreatedTime: parseTime(r.CreatedTime),
		})
	}
	return out
}

func mapRevision(r *drive.Revision) model.Revision {
	out := model.Revision{
		ID:           r.Id,
		ModifiedTime: parseTime(r.ModifiedTime),
		Size:         r.Size,
	}
	if r.LastModifyingUser != nil {
		u := mapUser(r.LastModifyingUser)
		out.Author = &u
	}
	return out
}

func mapUser(u *drive.User) model.User {
	if u == nil || u.DisplayName == "" {
		name := "Unknown"
		if u != nil && u.EmailAddress != "" {
			name = u.EmailAddress
		}
		return model.User{DisplayName: name}
	}
	return model.User{DisplayName: u.DisplayName, Email: u.EmailAddress}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
