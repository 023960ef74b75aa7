package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/geosocial/internal/apperror"
	"github.com/sakif/geosocial/internal/model"
	"github.com/sakif/geosocial/internal/repository"
)

var _ repository.PostRepository = (*PostDB)(nil)

type PostDB struct {
	conn *sql.DB
}

const postColumns = `record_id, id, owner_id, title, description, lat, lng, date, participants, access_groups, picture, created_at, updated_at`

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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		post.RecordID, post.ID, post.OwnerID, post.Title, post.Description,
		post.Location.Lat, post.Location.Lng, post.Date.UTC(),
		participants, groups, post.Picture, post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("postgres: inserting post %d: %w", post.ID, err)
	}
	return nil
}

func (p *PostDB) GetByID(ctx context.Context, id int64) (*model.Post, error) {
	posts, err := p.query(ctx, fmt.Sprintf("getting post %d", id), `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, apperror.NotFound("post", strconv.FormatInt(id, 10))
	}
	return &posts[0], nil
}

func (p *PostDB) ListByOwner(ctx context.Context, ownerID int64, opts repository.ListOptions) ([]model.Post, error) {
	var limit any
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	return p.query(ctx, fmt.Sprintf("listing posts for %d", ownerID),
		`SELECT `+postColumns+` FROM posts
		 WHERE owner_id = $1
		 ORDER BY date DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		ownerID, limit, opts.Offset)
}

func (p *PostDB) ListInArea(ctx context.Context, area repository.Area) ([]model.Post, error) {
	var limit any
	if area.Limit > 0 {
		limit = area.Limit
	}
	return p.query(ctx, "listing posts in area",
		`SELECT `+postColumns+` FROM posts
		 WHERE lat BETWEEN $1 AND $2 AND lng BETWEEN $3 AND $4
		 ORDER BY date DESC, id DESC
		 LIMIT $5`,
		area.MinLat, area.MaxLat, area.MinLng, area.MaxLng, limit)
}

func (p *PostDB) MaxID(ctx context.Context) (int64, error) {
	var id int64
	if err := p.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM posts`).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: reading max post id: %w", err)
	}
	return id, nil
}

func (p *PostDB) Update(ctx context.Context, post *model.Post) error {
	post.UpdatedAt = time.Now().UTC()

	participants, groups, err := encodeLists(post)
	if err != nil {
		return err
	}

	result, err := p.conn.ExecContext(ctx,
		`UPDATE posts
		 SET title = $1, description = $2, lat = $3, lng = $4, date = $5,
		     participants = $6, access_groups = $7, picture = $8, updated_at = $9
		 WHERE id = $10`,
		post.Title, post.Description, post.Location.Lat, post.Location.Lng, post.Date.UTC(),
		participants, groups, post.Picture, post.UpdatedAt, post.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: updating post %d: %w", post.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("post", strconv.FormatInt(post.ID, 10))
	}
	return nil
}

func (p *PostDB) Delete(ctx context.Context, id int64) error {
	result, err := p.conn.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deleting post %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("post", strconv.FormatInt(id, 10))
	}
	return nil
}

func (p *PostDB) DeleteByOwner(ctx context.Context, ownerID int64) error {
	if _, err := p.conn.ExecContext(ctx, `DELETE FROM posts WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("postgres: deleting posts of %d: %w", ownerID, err)
	}
	return nil
}

// query runs a post SELECT; op describes it in store errors.
func (p *PostDB) query(ctx context.Context, op, query string, args ...any) ([]model.Post, error) {
	rows, err := p.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		var (
			post                 model.Post
			participants, groups []byte
		)
		if err := rows.Scan(
			&post.RecordID, &post.ID, &post.OwnerID, &post.Title, &post.Description,
			&post.Location.Lat, &post.Location.Lng, &post.Date,
			&participants, &groups, &post.Picture, &post.CreatedAt, &post.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", op, err)
		}
		if err := json.Unmarshal(participants, &post.Participants); err != nil {
			return nil, fmt.Errorf("postgres: decoding participants of post %d: %w", post.ID, err)
		}
		if err := json.Unmarshal(groups, &post.AccessGroups); err != nil {
			return nil, fmt.Errorf("postgres: decoding access groups of post %d: %w", post.ID, err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return posts, nil
}

// encodeLists renders the JSONB columns. Nil slices are stored as [].
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
		return "", "", fmt.Errorf("postgres: encoding participants: %w", err)
	}
	gb, err := json.Marshal(gs)
	if err != nil {
		return "", "", fmt.Errorf("postgres: encoding access groups: %w", err)
	}
	return string(pb), string(gb), nil
}
