package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agrilovers/internal/auth"
	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
)

// Статусы заявок в друзья.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestDeclined = "declined"
	RequestCanceled = "canceled"
)

// FriendsManager — заявки в друзья и симметричные дружбы.
type FriendsManager struct {
	gw *gateway.Gateway
}

func NewFriendsManager(gw *gateway.Gateway) *FriendsManager {
	return &FriendsManager{gw: gw}
}

// GetFriendStatus — отношение текущего пользователя к другому.
// Без таблиц дружбы (42P01) статус "unavailable", а не ошибка.
func (m *FriendsManager) GetFriendStatus(ctx context.Context, otherID string) (model.FriendStatusResult, error) {
	defer logger.DeferLogDuration("friends.GetFriendStatus", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return model.FriendStatusResult{Status: model.FriendNone}, err
	}
	if otherID == uid {
		return model.FriendStatusResult{Status: model.FriendSelf}, nil
	}
	var isFriend bool
	err = m.gw.DB.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM friendships WHERE user_id = $1 AND friend_id = $2)`, uid, otherID).Scan(&isFriend)
	if err != nil {
		if gateway.IsUndefinedTable(err) {
			return model.FriendStatusResult{Status: model.FriendUnavailable}, nil
		}
		return model.FriendStatusResult{Status: model.FriendNone}, fmt.Errorf("friendsMgr.GetFriendStatus: %w", err)
	}
	if isFriend {
		return model.FriendStatusResult{Status: model.FriendFriends}, nil
	}
	var id, requester string
	err = m.gw.DB.QueryRow(ctx,
		`SELECT id::text, requester_id::text FROM friend_requests
		 WHERE status = 'pending'
		   AND ((requester_id = $1 AND receiver_id = $2) OR (requester_id = $2 AND receiver_id = $1))
		 ORDER BY created_at DESC LIMIT 1`, uid, otherID).Scan(&id, &requester)
	switch {
	case err == nil && requester == uid:
		return model.FriendStatusResult{Status: model.FriendOutgoing, RequestID: id}, nil
	case err == nil:
		return model.FriendStatusResult{Status: model.FriendIncoming, RequestID: id}, nil
	case gateway.IsUndefinedTable(err):
		return model.FriendStatusResult{Status: model.FriendUnavailable}, nil
	case noRows(err) == gateway.ErrNotFound:
		return model.FriendStatusResult{Status: model.FriendNone}, nil
	}
	return model.FriendStatusResult{Status: model.FriendNone}, fmt.Errorf("friendsMgr.GetFriendStatus request: %w", err)
}

const requestCols = `r.id::text, r.requester_id::text, r.receiver_id::text, r.status, r.created_at, r.responded_at`

// SendFriendRequest: повторная заявка (23505) возвращает уже существующую.
func (m *FriendsManager) SendFriendRequest(ctx context.Context, receiverID string) (*model.FriendRequest, error) {
	defer logger.DeferLogDuration("friends.SendFriendRequest", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	if receiverID == uid {
		return nil, &gateway.ValidationError{Field: "receiver", Reason: "cannot befriend yourself"}
	}
	scan := func(row pgx.Row) (*model.FriendRequest, error) {
		r := &model.FriendRequest{}
		err := row.Scan(&r.ID, &r.RequesterID, &r.ReceiverID, &r.Status, &r.CreatedAt, &r.RespondedAt)
		return r, err
	}
	r, err := scan(m.gw.DB.QueryRow(ctx,
		`INSERT INTO friend_requests AS r (requester_id, receiver_id) VALUES ($1, $2) RETURNING `+requestCols,
		uid, receiverID))
	if err == nil {
		return r, nil
	}
	if !gateway.IsUniqueViolation(err) {
		return nil, fmt.Errorf("friendsMgr.SendFriendRequest: %w", err)
	}
	r, err = scan(m.gw.DB.QueryRow(ctx,
		`SELECT `+requestCols+` FROM friend_requests r
		 WHERE r.requester_id = $1 AND r.receiver_id = $2 AND r.status = 'pending'`, uid, receiverID))
	if err != nil {
		return nil, fmt.Errorf("friendsMgr.SendFriendRequest existing: %w", noRows(err))
	}
	return r, nil
}

// CancelFriendRequest — отзыв своей заявки.
func (m *FriendsManager) CancelFriendRequest(ctx context.Context, requestID string) error {
	defer logger.DeferLogDuration("friends.CancelFriendRequest", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	tag, err := m.gw.DB.Exec(ctx,
		`UPDATE friend_requests SET status = 'canceled', responded_at = NOW()
		 WHERE id = $1 AND requester_id = $2 AND status = 'pending'`, requestID, uid)
	if err != nil {
		return fmt.Errorf("friendsMgr.CancelFriendRequest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

// RespondToFriendRequest принимает или отклоняет входящую заявку.
// Принятие создаёт дружбу в обе стороны.
func (m *FriendsManager) RespondToFriendRequest(ctx context.Context, requestID string, accept bool) error {
	defer logger.DeferLogDuration("friends.RespondToFriendRequest", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	status := RequestDeclined
	if accept {
		status = RequestAccepted
	}
	var requester string
	err = m.gw.DB.QueryRow(ctx,
		`UPDATE friend_requests SET status = $3, responded_at = NOW()
		 WHERE id = $1 AND receiver_id = $2 AND status = 'pending'
		 RETURNING requester_id::text`, requestID, uid, status).Scan(&requester)
	if err != nil {
		return fmt.Errorf("friendsMgr.RespondToFriendRequest: %w", noRows(err))
	}
	if !accept {
		return nil
	}
	if _, err := m.gw.DB.Exec(ctx,
		`INSERT INTO friendships (user_id, friend_id) VALUES ($1, $2), ($2, $1)
		 ON CONFLICT (user_id, friend_id) DO NOTHING`, uid, requester); err != nil {
		return fmt.Errorf("friendsMgr.RespondToFriendRequest friendship: %w", err)
	}
	return nil
}

// GetFriends — профили друзей пользователя (по умолчанию текущего).
func (m *FriendsManager) GetFriends(ctx context.Context, userID string) ([]model.Friend, error) {
	defer logger.DeferLogDuration("friends.GetFriends", time.Now())()
	if userID == "" {
		uid, err := m.gw.RequireUser()
		if err != nil {
			return nil, err
		}
		userID = uid
	}
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT f.id::text, `+profileCols("p")+`
		 FROM friendships f JOIN profiles p ON p.id = f.friend_id
		 WHERE f.user_id = $1
		 ORDER BY p.first_name, p.last_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("friendsMgr.GetFriends: %w", err)
	}
	return collect(rows, "friendsMgr.GetFriends", func(r pgx.Rows) (model.Friend, error) {
		var f model.Friend
		p := &f.Profile
		err := r.Scan(&f.FriendshipID, &p.ID, &p.FirstName, &p.LastName, &p.AvatarURL, &p.Phone, &p.Province,
			&p.District, &p.FarmerType, &p.Crops, &p.Livestock, &p.FarmSizeHa, &p.Bio, &p.IsVerified, &p.CreatedAt)
		return f, err
	})
}

// GetPendingRequests — входящие заявки.
func (m *FriendsManager) GetPendingRequests(ctx context.Context) ([]model.FriendRequest, error) {
	return m.requests(ctx, "friends.GetPendingRequests", "r.receiver_id", "r.requester_id")
}

// GetSentRequests — исходящие заявки.
func (m *FriendsManager) GetSentRequests(ctx context.Context) ([]model.FriendRequest, error) {
	return m.requests(ctx, "friends.GetSentRequests", "r.requester_id", "r.receiver_id")
}

func (m *FriendsManager) requests(ctx context.Context, op, mine, other string) ([]model.FriendRequest, error) {
	defer logger.DeferLogDuration(op, time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+requestCols+`, `+refCols("pr")+`
		 FROM friend_requests r JOIN profiles pr ON pr.id = `+other+`
		 WHERE `+mine+` = $1 AND r.status = 'pending'
		 ORDER BY r.created_at DESC`, uid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return collect(rows, op, func(r pgx.Rows) (model.FriendRequest, error) {
		var fr model.FriendRequest
		var ref model.ProfileRef
		err := r.Scan(dest([]any{&fr.ID, &fr.RequesterID, &fr.ReceiverID, &fr.Status, &fr.CreatedAt, &fr.RespondedAt},
			refDest(&ref))...)
		if ref.ID == fr.RequesterID {
			fr.Requester = ref
		} else {
			fr.Receiver = ref
		}
		return fr, err
	})
}

// RemoveFriend удаляет дружбу в обе стороны.
func (m *FriendsManager) RemoveFriend(ctx context.Context, friendID string) error {
	defer logger.DeferLogDuration("friends.RemoveFriend", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	if _, err := m.gw.DB.Exec(ctx,
		`DELETE FROM friendships
		 WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)`, uid, friendID); err != nil {
		return fmt.Errorf("friendsMgr.RemoveFriend: %w", err)
	}
	return nil
}

// GetFriendSuggestions — фермеры из той же провинции или района, без друзей и ожидающих заявок.
func (m *FriendsManager) GetFriendSuggestions(ctx context.Context, province, district string, limit int) ([]model.Profile, error) {
	defer logger.DeferLogDuration("friends.GetFriendSuggestions", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+profileCols("p")+`
		 FROM profiles p
		 WHERE p.id <> $1
		   AND (($2::text <> '' AND p.province = $2) OR ($3::text <> '' AND p.district = $3))
		   AND NOT EXISTS (SELECT 1 FROM friendships f WHERE f.user_id = $1 AND f.friend_id = p.id)
		   AND NOT EXISTS (SELECT 1 FROM friend_requests r WHERE r.status = 'pending'
		         AND ((r.requester_id = $1 AND r.receiver_id = p.id) OR (r.requester_id = p.id AND r.receiver_id = $1)))
		 ORDER BY (p.district = $3) DESC, p.created_at DESC
		 LIMIT $4`, uid, province, district, limitOr(limit))
	if err != nil {
		return nil, fmt.Errorf("friendsMgr.GetFriendSuggestions: %w", err)
	}
	return collect(rows, "friendsMgr.GetFriendSuggestions", scanProfileRow)
}

// GetMutualFriends — пересечение списков друзей.
func (m *FriendsManager) GetMutualFriends(ctx context.Context, otherID string) ([]model.Profile, error) {
	defer logger.DeferLogDuration("friends.GetMutualFriends", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+profileCols("p")+`
		 FROM friendships a
		 JOIN friendships b ON b.friend_id = a.friend_id AND b.user_id = $2
		 JOIN profiles p ON p.id = a.friend_id
		 WHERE a.user_id = $1
		 ORDER BY p.first_name`, uid, otherID)
	if err != nil {
		return nil, fmt.Errorf("friendsMgr.GetMutualFriends: %w", err)
	}
	return collect(rows, "friendsMgr.GetMutualFriends", scanProfileRow)
}

func scanProfileRow(r pgx.Rows) (model.Profile, error) {
	p, err := auth.ScanProfile(r)
	if err != nil {
		return model.Profile{}, err
	}
	return *p, nil
}
