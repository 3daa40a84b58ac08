package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

const profileColumns = "id, name, container, max_resolution, video_codec, audio_codec, include_shorts, include_live, embed_subtitles, embed_metadata, output_template, extra_options, created_at, updated_at"

func scanProfile(row interface{ Scan(...any) error }) (*models.Profile, error) {
	var (
		p                    models.Profile
		extra                string
		createdAt, updatedAt int64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Container, &p.MaxResolution, &p.VideoCodec, &p.AudioCodec,
		&p.IncludeShorts, &p.IncludeLive, &p.EmbedSubtitles, &p.EmbedMetadata,
		&p.OutputTemplate, &extra, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if extra != "" && extra != "{}" {
		if err := json.Unmarshal([]byte(extra), &p.ExtraOptions); err != nil {
			return nil, fmt.Errorf("profile %d extra options: %w", p.ID, err)
		}
	}
	p.CreatedAt = unixToTime(createdAt)
	p.UpdatedAt = unixToTime(updatedAt)
	return &p, nil
}

func marshalOptions(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal options: %w", err)
	}
	return string(b), nil
}

// CreateProfile inserts a new profile; duplicate names map to ErrConflict.
func (s *Store) CreateProfile(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	extra, err := marshalOptions(p.ExtraOptions)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO profiles (name, container, max_resolution, video_codec, audio_codec, include_shorts, include_live, embed_subtitles, embed_metadata, output_template, extra_options, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Container, p.MaxResolution, p.VideoCodec, p.AudioCodec,
		p.IncludeShorts, p.IncludeLive, p.EmbedSubtitles, p.EmbedMetadata,
		p.OutputTemplate, extra, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("profile name %q: %w", p.Name, ErrConflict)
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, id)
}

// GetProfile returns the profile with the given id.
func (s *Store) GetProfile(ctx context.Context, id int64) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+profileColumns+" FROM profiles WHERE id = ?", id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %d: %w", id, err)
	}
	return p, nil
}

// ListProfiles returns all profiles ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+profileColumns+" FROM profiles ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProfile replaces the mutable attributes of a profile.
func (s *Store) UpdateProfile(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	extra, err := marshalOptions(p.ExtraOptions)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE profiles SET name = ?, container = ?, max_resolution = ?, video_codec = ?, audio_codec = ?, include_shorts = ?, include_live = ?, embed_subtitles = ?, embed_metadata = ?, output_template = ?, extra_options = ?, updated_at = ?
WHERE id = ?`,
		p.Name, p.Container, p.MaxResolution, p.VideoCodec, p.AudioCodec,
		p.IncludeShorts, p.IncludeLive, p.EmbedSubtitles, p.EmbedMetadata,
		p.OutputTemplate, extra, time.Now().Unix(), p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("profile name %q: %w", p.Name, ErrConflict)
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("profile %d: %w", p.ID, ErrNotFound)
	}
	return s.GetProfile(ctx, p.ID)
}

// DeleteProfile removes a profile. Deletion is forbidden while any list
// still references it.
func (s *Store) DeleteProfile(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var refs int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM video_lists WHERE profile_id = ?", id).Scan(&refs); err != nil {
			return fmt.Errorf("count profile references: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("profile %d referenced by %d lists: %w", id, refs, ErrConflict)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM profiles WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("delete profile: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("profile %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
