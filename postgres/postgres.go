// Package postgres implements the backend stores on PostgreSQL through bun.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/pegaoupassa/swipe-core/api"
)

const (
	defaultFeedLimit = 10
	// defaultRadiusKm applies when a location is known but no distance
	// filter is set.
	defaultRadiusKm = 100
)

// distanceExpr is the great-circle distance in kilometres between the
// profile and the (latitude, longitude, latitude) arguments.
const distanceExpr = "6371 * acos(least(1, cos(radians(?)) * cos(radians(p.latitude)) * cos(radians(p.longitude) - radians(?)) + sin(radians(?)) * sin(radians(p.latitude))))"

// A Publisher receives message changes once they are committed.
type Publisher interface {
	Publish(ctx context.Context, ev api.ChangeEvent) error
}

var (
	_ api.ProfileStore  = (*Postgres)(nil)
	_ api.SwipeStore    = (*Postgres)(nil)
	_ api.QuotaStore    = (*Postgres)(nil)
	_ api.MatchStore    = (*Postgres)(nil)
	_ api.MessageStore  = (*Postgres)(nil)
	_ api.ReactionStore = (*Postgres)(nil)
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun    *bun.DB
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string, logger *slog.Logger) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun:    db,
		logger: logger,
		now:    time.Now,
	}, nil
}

// PublishTo makes every message write publish a change event to p.
func (pg *Postgres) PublishTo(p Publisher) {
	pg.pub = p
}

// Close closes the database handle.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// CreateSchema creates the tables that do not exist yet.
func (pg *Postgres) CreateSchema(ctx context.Context) error {
	if _, err := pg.bun.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	models := []any{
		(*profile)(nil),
		(*photo)(nil),
		(*swipe)(nil),
		(*match)(nil),
		(*conversation)(nil),
		(*message)(nil),
		(*reaction)(nil),
	}
	for _, m := range models {
		if _, err := pg.bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func photosByPosition(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Order("ph.position ASC")
}

// GetFeed returns candidates userID has not swiped yet. Incognito profiles
// are only shown to users they liked. With a location the candidates are
// limited to the distance filter and ordered nearest first.
func (pg *Postgres) GetFeed(ctx context.Context, userID string, f api.FeedFilters) ([]api.Profile, error) {
	now := pg.now()
	limit := f.Limit
	if limit <= 0 {
		limit = defaultFeedLimit
	}

	swiped := pg.bun.NewSelect().Model((*swipe)(nil)).Column("swiped_id").Where("swiper_id = ?", userID)
	fans := pg.bun.NewSelect().Model((*swipe)(nil)).Column("swiper_id").
		Where("swiped_id = ?", userID).
		Where("action = ?", api.DecisionLike)

	var ps []profile
	q := pg.bun.NewSelect().
		Model(&ps).
		Relation("Photos", photosByPosition).
		Where("p.id != ?", userID).
		Where("p.is_active").
		Where("(NOT p.is_incognito OR p.id IN (?))", fans).
		Where("p.id NOT IN (?)", swiped).
		Limit(limit)

	if f.Gender != "" {
		q = q.Where("p.gender = ?", f.Gender)
	}
	if f.MinAge > 0 {
		q = q.Where("p.birth_date <= ?", now.AddDate(-f.MinAge, 0, 0))
	}
	if f.MaxAge > 0 {
		q = q.Where("p.birth_date > ?", now.AddDate(-(f.MaxAge + 1), 0, 0))
	}
	if f.MinHeight > 0 {
		q = q.Where("p.height >= ?", f.MinHeight)
	}
	if f.Zodiac != "" {
		q = q.Where("p.zodiac_sign = ?", f.Zodiac)
	}

	if loc := f.Location; loc != nil {
		radius := f.MaxDistance
		if radius <= 0 {
			radius = defaultRadiusKm
		}
		q = q.ColumnExpr("p.*").
			ColumnExpr(distanceExpr+" AS distance", loc.Latitude, loc.Longitude, loc.Latitude).
			Where("p.latitude IS NOT NULL AND p.longitude IS NOT NULL").
			Where(distanceExpr+" <= ?", loc.Latitude, loc.Longitude, loc.Latitude, radius).
			OrderExpr("distance ASC")
	} else {
		q = q.Order("p.created_at DESC")
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]api.Profile, len(ps))
	for i, p := range ps {
		out[i] = p.APIProfile(now)
	}
	return out, nil
}

// GetProfile returns one profile, api.ErrNotFound if it does not exist.
func (pg *Postgres) GetProfile(ctx context.Context, userID string) (api.Profile, error) {
	p := new(profile)
	err := pg.bun.NewSelect().
		Model(p).
		Relation("Photos", photosByPosition).
		Where("p.id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Profile{}, fmt.Errorf("profile %s: %w", userID, api.ErrNotFound)
	}
	if err != nil {
		return api.Profile{}, fmt.Errorf("scan: %w", err)
	}
	return p.APIProfile(pg.now()), nil
}

// CreateSwipe records the swipe and, when it completes a mutual like,
// creates the match and its conversation in the same transaction. A repeated
// swipe keeps the first decision.
func (pg *Postgres) CreateSwipe(ctx context.Context, actorID, targetID string, decision api.Decision) (api.SwipeResult, error) {
	var (
		res     api.SwipeResult
		matched *match
	)
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		s := &swipe{SwiperID: actorID, SwipedID: targetID, Action: string(decision)}
		_, err := tx.NewInsert().
			Model(s).
			On("CONFLICT (swiper_id, swiped_id) DO UPDATE").
			Set("swiper_id = EXCLUDED.swiper_id").
			Returning("*").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert swipe: %w", err)
		}
		res.Swipe = s.APISwipe()
		if s.Action != string(api.DecisionLike) {
			return nil
		}

		mutual, err := tx.NewSelect().
			Model((*swipe)(nil)).
			Where("swiper_id = ?", targetID).
			Where("swiped_id = ?", actorID).
			Where("action = ?", api.DecisionLike).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("check mutual like: %w", err)
		}
		if !mutual {
			return nil
		}

		u1, u2 := orderedPair(actorID, targetID)
		m := &match{User1ID: u1, User2ID: u2}
		_, err = tx.NewInsert().
			Model(m).
			On("CONFLICT (user1_id, user2_id) DO UPDATE").
			Set("user1_id = EXCLUDED.user1_id").
			Returning("*").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		c := &conversation{MatchID: m.ID}
		_, err = tx.NewInsert().
			Model(c).
			On("CONFLICT (match_id) DO UPDATE").
			Set("match_id = EXCLUDED.match_id").
			Returning("*").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		m.Conversation = c
		matched = m
		return nil
	})
	if err != nil {
		return api.SwipeResult{}, err
	}
	if matched != nil {
		m := matched.APIMatch(actorID, pg.now())
		res.Match = &m
	}
	return res, nil
}

// GetReceivedLikes returns the profiles that liked userID and that userID
// has not swiped yet.
func (pg *Postgres) GetReceivedLikes(ctx context.Context, userID string) ([]api.Profile, error) {
	likers := pg.bun.NewSelect().Model((*swipe)(nil)).Column("swiper_id").
		Where("swiped_id = ?", userID).
		Where("action = ?", api.DecisionLike)
	swiped := pg.bun.NewSelect().Model((*swipe)(nil)).Column("swiped_id").Where("swiper_id = ?", userID)

	var ps []profile
	err := pg.bun.NewSelect().
		Model(&ps).
		Relation("Photos", photosByPosition).
		Where("p.id IN (?)", likers).
		Where("p.id NOT IN (?)", swiped).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	now := pg.now()
	out := make([]api.Profile, len(ps))
	for i, p := range ps {
		out[i] = p.APIProfile(now)
	}
	return out, nil
}

// GetQuota returns the daily like counter of userID.
func (pg *Postgres) GetQuota(ctx context.Context, userID string) (api.Quota, error) {
	p := new(profile)
	err := pg.bun.NewSelect().
		Model(p).
		Column("daily_likes_count", "daily_likes_reset_at", "is_vip").
		Where("p.id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Quota{}, fmt.Errorf("profile %s: %w", userID, api.ErrNotFound)
	}
	if err != nil {
		return api.Quota{}, fmt.Errorf("scan: %w", err)
	}
	q := api.Quota{Count: p.DailyLikesCount, IsVIP: p.IsVIP}
	if p.DailyLikesResetAt != nil {
		q.ResetAt = *p.DailyLikesResetAt
	}
	return q, nil
}

// IncrementLikeCount takes one like from the daily counter, starting a new
// day when the previous one ended.
func (pg *Postgres) IncrementLikeCount(ctx context.Context, userID string) error {
	const expired = "daily_likes_reset_at IS NULL OR daily_likes_reset_at <= now()"
	res, err := pg.bun.NewUpdate().
		Model((*profile)(nil)).
		Set("daily_likes_count = CASE WHEN "+expired+" THEN 1 ELSE daily_likes_count + 1 END").
		Set("daily_likes_reset_at = CASE WHEN "+expired+" THEN date_trunc('day', now()) + interval '1 day' ELSE daily_likes_reset_at END").
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("profile %s: %w", userID, api.ErrNotFound)
	}
	return nil
}

// GetAllMatches returns the matches of userID with the other user's profile,
// the conversation preview and the unread count, newest first.
func (pg *Postgres) GetAllMatches(ctx context.Context, userID string) ([]api.Match, error) {
	var ms []match
	err := pg.bun.NewSelect().
		Model(&ms).
		Relation("User1").
		Relation("User2").
		Relation("Conversation").
		Where("m.user1_id = ? OR m.user2_id = ?", userID, userID).
		Order("m.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if len(ms) == 0 {
		return []api.Match{}, nil
	}

	var (
		others  []string
		convIDs []string
	)
	for _, m := range ms {
		if m.User1ID == userID {
			others = append(others, m.User2ID)
		} else {
			others = append(others, m.User1ID)
		}
		if m.Conversation != nil {
			convIDs = append(convIDs, m.Conversation.ID)
		}
	}

	var photos []photo
	err = pg.bun.NewSelect().
		Model(&photos).
		Where("ph.user_id IN (?)", bun.In(others)).
		Order("ph.position ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan photos: %w", err)
	}
	byUser := make(map[string][]photo)
	for _, ph := range photos {
		byUser[ph.UserID] = append(byUser[ph.UserID], ph)
	}

	unread, err := pg.unreadCounts(ctx, userID, convIDs)
	if err != nil {
		return nil, err
	}

	now := pg.now()
	out := make([]api.Match, len(ms))
	for i, m := range ms {
		if m.User1 != nil {
			m.User1.Photos = byUser[m.User1ID]
		}
		if m.User2 != nil {
			m.User2.Photos = byUser[m.User2ID]
		}
		out[i] = m.APIMatch(userID, now)
		out[i].UnreadCount = unread[out[i].ConversationID]
	}
	return out, nil
}

func (pg *Postgres) unreadCounts(ctx context.Context, userID string, convIDs []string) (map[string]int, error) {
	out := make(map[string]int)
	if len(convIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ConversationID string `bun:"conversation_id"`
		Unread         int    `bun:"unread"`
	}
	err := pg.bun.NewSelect().
		Model((*message)(nil)).
		Column("conversation_id").
		ColumnExpr("count(*) AS unread").
		Where("conversation_id IN (?)", bun.In(convIDs)).
		Where("sender_id != ?", userID).
		Where("NOT is_read").
		Group("conversation_id").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("scan unread counts: %w", err)
	}
	for _, r := range rows {
		out[r.ConversationID] = r.Unread
	}
	return out, nil
}
