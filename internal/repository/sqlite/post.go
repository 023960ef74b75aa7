package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/geosocial/internal/apperror"
	"github.com/sakif/geosocial/internal/model"
	"github.com/sakif/geosocial/internal/repository"
)

var _ repository.PostRepository = (*PostDB)(nil)

// PostDB stores posts in the posts table. Participants and access groups
// are kept as JSON arrays in TEXT columns.
type PostDB struct {
	conn *sql.DB
}

const postColumns = `record_id, id, owner_id, title, description, lat, lng, date,
	participants, access_groups, picture, created_at, updated_at`

func (p *PostDB) Create(ctx context.Context, post *model.Post) error {
	now := time.Now().UTC()
	post.RecordID = xid.New().String()
	post.CreatedAt = now
	post.UpdatedAt = now

	participants, groups, err := encodeLists(post)
	if err != nil {
		return err
	}

	_, err = p.conn.ExecContext(ctx,
		`INSERT INTO posts (`+postColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.RecordID,
		post.ID,
		post.OwnerID,
		post.Title,
		post.Description,
		post.Location.Lat,
		post.Location.Lng,
		post.Date.UTC(),
		participants,
		groups,
		post.Picture,
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("sqlite: inserting post %d: %w", post.ID, err)
	}
	return nil
}

func (p *PostDB) GetByID(ctx context.Context, id int64) (*model.Post, error) {
	rows, err := p.conn.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting post %d: %w", id, err)
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting post %d: %w", id, err)
	}
	if len(posts) == 0 {
		return nil, apperror.NotFound("post", strconv.FormatInt(id, 10))
	}
	return &posts[0], nil
}

// ListByOwner returns the owner's posts, newest date first.
func (p *PostDB) ListByOwner(ctx context.Context, ownerID int64, opts repository.ListOptions) ([]model.Post, error) {
	rows, err := p.conn.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE owner_id = ?
		 ORDER BY date DESC, id DESC
		 LIMIT ? OFFSET ?`,
		ownerID, limitOrAll(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing posts for %d: %w", ownerID, err)
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing posts for %d: %w", ownerID, err)
	}
	return posts, nil
}

// ListInArea returns posts whose location lies inside the rectangle. The
// rectangle must not cross the antimeridian; callers split it first.
func (p *PostDB) ListInArea(ctx context.Context, area repository.Area) ([]model.Post, error) {
	rows, err := p.conn.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?
		 ORDER BY date DESC, id DESC
		 LIMIT ?`,
		area.MinLat, area.MaxLat, area.MinLng, area.MaxLng, limitOrAll(area.Limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing posts in area: %w", err)
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing posts in area: %w", err)
	}
	return posts, nil
}

func (p *PostDB) MaxID(ctx context.Context) (int64, error) {
	var id int64
	err := p.conn.QueryRowContext(ctx,
		`SELECT id FROM posts ORDER BY id DESC LIMIT 1`,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("sqlite: reading max post id: %w", err)
	}
	return id, nil
}

// Update overwrites the mutable fields of an existing post. OwnerID and
// CreatedAt are never changed.
func (p *PostDB) Update(ctx context.Context, post *model.Post) error {
	post.UpdatedAt = time.Now().UTC()

	participants, groups, err := encodeLists(post)
	if err != nil {
		return err
	}

	result, err := p.conn.ExecContext(ctx,
		`UPDATE posts
		 SET title = ?, description = ?, lat = ?, lng = ?, date = ?,
		     participants = ?, access_groups = ?, picture = ?, updated_at = ?
		 WHERE id = ?`,
		post.Title,
		post.Description,
		post.Location.Lat,
		post.Location.Lng,
		post.Date.UTC(),
		participants,
		groups,
		post.Picture,
		post.UpdatedAt,
		post.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating post %d: %w", post.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("post", strconv.FormatInt(post.ID, 10))
	}
	return nil
}

func (p *PostDB) Delete(ctx context.Context, id int64) error {
	result, err := p.conn.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting post %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("post", strconv.FormatInt(id, 10))
	}
	return nil
}

// DeleteByOwner removes every post owned by ownerID. Deleting zero rows is
// not an error.
func (p *PostDB) DeleteByOwner(ctx context.Context, ownerID int64) error {
	if _, err := p.conn.ExecContext(ctx, `DELETE FROM posts WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("sqlite: deleting posts of %d: %w", ownerID, err)
	}
	return nil
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func encodeLists(post *model.Post) (participants, groups string, err error) {
	ps := post.Participants
	if ps == nil {
		ps = []int64{}
	}
	gs := post.AccessGroups
	if gs == nil {
		gs = []string{}
	}

	pb, err := json.Marshal(ps)
	if err != nil {
		return "", "", fmt.Errorf("sqlite: encoding participants: %w", err)
	}
	gb, err := json.Marshal(gs)
	if err != nil {
		return "", "", fmt.Errorf("sqlite: encoding access groups: %w", err)
	}
	return string(pb), string(gb), nil
}

func scanPosts(rows *sql.Rows) ([]model.Post, error) {
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		var (
			post         model.Post
			participants string
			groups       string
		)
		err := rows.Scan(
			&post.RecordID,
			&post.ID,
			&post.OwnerID,
			&post.Title,
			&post.Description,
			&post.Location.Lat,
			&post.Location.Lng,
			&post.Date,
			&participants,
			&groups,
			&post.Picture,
			&post.CreatedAt,
			&post.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(participants), &post.Participants); err != nil {
			return nil, fmt.Errorf("decoding participants of post %d: %w", post.ID, err)
		}
		if err := json.Unmarshal([]byte(groups), &post.AccessGroups); err != nil {
			return nil, fmt.Errorf("decoding access groups of post %d: %w", post.ID, err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return posts, nil
}
