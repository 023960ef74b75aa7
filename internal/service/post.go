package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/sakif/geosocial/internal/apperror"
	"github.com/sakif/geosocial/internal/auth"
	"github.com/sakif/geosocial/internal/model"
	"github.com/sakif/geosocial/internal/repository"
)

const (
	MsgInvalidPostID = "Post doesnt exist"
	MsgPostNotFound  = "Post not found"

	DefaultNearbyRadiusKm = 10.0
	MaxNearbyRadiusKm     = 100.0
	DefaultNearbyLimit    = 50
	MaxNearbyLimit        = 200

	defaultListLimit = 20
	maxListLimit     = 100
)

// PostService manages a user's posts. Owner routes follow the same checks
// as profiles: parse the user id, require it to be the caller, then look
// the post up. A post that belongs to someone else is reported as missing.
type PostService struct {
	posts  repository.PostRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewPostService(posts repository.PostRepository, logger *slog.Logger) *PostService {
	return &PostService{posts: posts, logger: logger, now: time.Now}
}

// PostInput creates a post. Date defaults to now.
type PostInput struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Location     *model.Location `json:"location"`
	Date         time.Time       `json:"date"`
	Participants []int64         `json:"participants"`
	AccessGroups []string        `json:"accessGroups"`
	Picture      string          `json:"picture"`
}

func (in *PostInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Picture = strings.TrimSpace(in.Picture)
	in.AccessGroups = normalizeGroups(in.AccessGroups)
}

func (in PostInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title,
			validation.Required.Error("Please enter a title"),
			validation.Length(1, 200).Error("Title must be at most 200 characters"),
		),
		validation.Field(&in.Description,
			validation.Required.Error("Please enter a description"),
			validation.Length(1, 10000).Error("Description must be at most 10000 characters"),
		),
		validation.Field(&in.Location,
			validation.Required.Error("Please enter a location"),
			validation.By(validLocation),
		),
		validation.Field(&in.Picture, is.URL.Error("Picture must be a URL")),
	)
}

// PostPatch is a partial post update. Nil fields are left unchanged.
type PostPatch struct {
	Title        *string         `json:"title"`
	Description  *string         `json:"description"`
	Location     *model.Location `json:"location"`
	Date         *time.Time      `json:"date"`
	Participants *[]int64        `json:"participants"`
	AccessGroups *[]string       `json:"accessGroups"`
	Picture      *string         `json:"picture"`
}

func (p PostPatch) apply(post *model.Post) {
	if p.Title != nil {
		post.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		post.Description = strings.TrimSpace(*p.Description)
	}
	if p.Location != nil {
		post.Location = *p.Location
	}
	if p.Date != nil && !p.Date.IsZero() {
		post.Date = p.Date.UTC()
	}
	if p.Participants != nil {
		post.Participants = *p.Participants
	}
	if p.AccessGroups != nil {
		post.AccessGroups = normalizeGroups(*p.AccessGroups)
	}
	if p.Picture != nil {
		post.Picture = strings.TrimSpace(*p.Picture)
	}
}

func validLocation(value interface{}) error {
	loc, ok := value.(*model.Location)
	if !ok || loc == nil {
		return nil
	}
	return validation.ValidateStruct(loc,
		validation.Field(&loc.Lat, validation.Min(-90.0), validation.Max(90.0)),
		validation.Field(&loc.Lng, validation.Min(-180.0), validation.Max(180.0)),
	)
}

// validatePost re-checks a post after a patch was applied.
func validatePost(post *model.Post) error {
	in := PostInput{
		Title:       post.Title,
		Description: post.Description,
		Location:    &post.Location,
		Picture:     post.Picture,
	}
	return in.Validate()
}

func normalizeGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g != "" && !slices.Contains(out, g) {
			out = append(out, g)
		}
	}
	return out
}

func (s *PostService) Create(ctx context.Context, caller auth.Identity, rawUserID string, in PostInput) (*model.Post, error) {
	ownerID, err := authorize(caller, rawUserID, MsgUserDoesntExist, MsgNoAccess)
	if err != nil {
		return nil, err
	}

	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}

	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	post := &model.Post{
		OwnerID:      ownerID,
		Title:        in.Title,
		Description:  in.Description,
		Location:     *in.Location,
		Date:         date.UTC(),
		Participants: in.Participants,
		AccessGroups: in.AccessGroups,
		Picture:      in.Picture,
	}

	err = insertWithNextID(ctx, s.logger, s.posts.MaxID, func(ctx context.Context, id int64) error {
		post.ID = id
		return s.posts.Create(ctx, post)
	})
	if err != nil {
		if apperror.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("service/post: creating post for user %d: %w", ownerID, err)
	}

	s.logger.Info("post created", slog.Int64("userID", ownerID), slog.Int64("postID", post.ID))
	return post, nil
}

// List returns the caller's posts, newest first.
func (s *PostService) List(ctx context.Context, caller auth.Identity, rawUserID string, opts repository.ListOptions) ([]model.Post, error) {
	ownerID, err := authorize(caller, rawUserID, MsgUserDoesntExist, MsgNoAccess)
	if err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	opts.Limit = min(opts.Limit, maxListLimit)
	opts.Offset = max(opts.Offset, 0)

	posts, err := s.posts.ListByOwner(ctx, ownerID, opts)
	if err != nil {
		return nil, fmt.Errorf("service/post: listing posts of user %d: %w", ownerID, err)
	}
	return posts, nil
}

func (s *PostService) Get(ctx context.Context, caller auth.Identity, rawUserID, rawPostID string) (*model.Post, error) {
	_, post, err := s.owned(ctx, caller, rawUserID, rawPostID)
	return post, err
}

func (s *PostService) Update(ctx context.Context, caller auth.Identity, rawUserID, rawPostID string, patch PostPatch) (*model.Post, error) {
	ownerID, post, err := s.owned(ctx, caller, rawUserID, rawPostID)
	if err != nil {
		return nil, err
	}

	patch.apply(post)
	if err := validatePost(post); err != nil {
		return nil, validationError(err)
	}

	err = s.posts.Update(ctx, post)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotFoundMessage(MsgPostNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("service/post: updating post %d: %w", post.ID, err)
	}

	s.logger.Info("post updated", slog.Int64("userID", ownerID), slog.Int64("postID", post.ID))
	return post, nil
}

func (s *PostService) Delete(ctx context.Context, caller auth.Identity, rawUserID, rawPostID string) error {
	ownerID, post, err := s.owned(ctx, caller, rawUserID, rawPostID)
	if err != nil {
		return err
	}

	err = s.posts.Delete(ctx, post.ID)
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.NotFoundMessage(MsgPostNotFound)
	}
	if err != nil {
		return fmt.Errorf("service/post: deleting post %d: %w", post.ID, err)
	}

	s.logger.Info("post deleted", slog.Int64("userID", ownerID), slog.Int64("postID", post.ID))
	return nil
}

// owned authorizes the caller for rawUserID and loads one of their posts.
func (s *PostService) owned(ctx context.Context, caller auth.Identity, rawUserID, rawPostID string) (int64, *model.Post, error) {
	ownerID, err := authorize(caller, rawUserID, MsgUserDoesntExist, MsgNoAccess)
	if err != nil {
		return 0, nil, err
	}
	postID, err := ParseID(rawPostID, MsgInvalidPostID)
	if err != nil {
		return 0, nil, err
	}

	post, err := s.posts.GetByID(ctx, postID)
	if errors.Is(err, apperror.ErrNotFound) {
		return 0, nil, apperror.NotFoundMessage(MsgPostNotFound)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("service/post: loading post %d: %w", postID, err)
	}
	if post.OwnerID != ownerID {
		return 0, nil, apperror.NotFoundMessage(MsgPostNotFound)
	}
	return ownerID, post, nil
}

// NearbyQuery selects posts around a point. Zero RadiusKm and Limit take
// the defaults; larger values are capped.
type NearbyQuery struct {
	Lat      float64
	Lng      float64
	RadiusKm float64
	Limit    int
}

func (q *NearbyQuery) normalize() {
	if q.RadiusKm <= 0 {
		q.RadiusKm = DefaultNearbyRadiusKm
	}
	q.RadiusKm = min(q.RadiusKm, MaxNearbyRadiusKm)
	if q.Limit <= 0 {
		q.Limit = DefaultNearbyLimit
	}
	q.Limit = min(q.Limit, MaxNearbyLimit)
}

func (q NearbyQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Lat, validation.Min(-90.0).Error("lat must be between -90 and 90"), validation.Max(90.0).Error("lat must be between -90 and 90")),
		validation.Field(&q.Lng, validation.Min(-180.0).Error("lng must be between -180 and 180"), validation.Max(180.0).Error("lng must be between -180 and 180")),
	)
}

// NearbyPost is a search hit with its distance from the query point.
type NearbyPost struct {
	model.Post
	DistanceKm float64 `json:"distanceKm"`
}

// Nearby returns the posts within q.RadiusKm of (q.Lat, q.Lng) that caller
// may see, closest first. A post is visible when it is public, owned by the
// caller, or tags the caller as a participant.
func (s *PostService) Nearby(ctx context.Context, caller auth.Identity, q NearbyQuery) ([]NearbyPost, error) {
	q.normalize()
	if err := q.Validate(); err != nil {
		return nil, validationError(err)
	}

	center := model.Location{Lat: q.Lat, Lng: q.Lng}
	seen := make(map[int64]bool)
	var hits []NearbyPost

	for _, area := range searchAreas(center, q.RadiusKm) {
		posts, err := s.posts.ListInArea(ctx, area)
		if err != nil {
			return nil, fmt.Errorf("service/post: searching near %.4f,%.4f: %w", q.Lat, q.Lng, err)
		}
		for _, p := range posts {
			if seen[p.ID] || !visibleTo(&p, caller.ID) {
				continue
			}
			d := center.DistanceKm(p.Location)
			if d > q.RadiusKm {
				continue
			}
			seen[p.ID] = true
			hits = append(hits, NearbyPost{Post: p, DistanceKm: d})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].DistanceKm != hits[j].DistanceKm {
			return hits[i].DistanceKm < hits[j].DistanceKm
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func visibleTo(p *model.Post, userID int64) bool {
	return p.IsPublic() || p.OwnerID == userID || slices.Contains(p.Participants, userID)
}

// searchAreas returns the bounding rectangles to query. A box crossing the
// antimeridian is split in two.
func searchAreas(center model.Location, radiusKm float64) []repository.Area {
	minLat, maxLat, minLng, maxLng := center.BoundingBox(radiusKm)

	switch {
	case minLng < -180:
		return []repository.Area{
			{MinLat: minLat, MaxLat: maxLat, MinLng: minLng + 360, MaxLng: 180},
			{MinLat: minLat, MaxLat: maxLat, MinLng: -180, MaxLng: maxLng},
		}
	case maxLng > 180:
		return []repository.Area{
			{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: 180},
			{MinLat: minLat, MaxLat: maxLat, MinLng: -180, MaxLng: maxLng - 360},
		}
	default:
		return []repository.Area{{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: maxLng}}
	}
}
