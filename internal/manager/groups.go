package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
	"github.com/agrilovers/internal/realtime"
)

// Роли участников группы.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"
)

// GroupFilter — фильтр каталога групп.
type GroupFilter struct {
	GroupType string
	CropTag   string
	Province  string
	Query     string
	Limit     int
}

// GroupChatSubscription — живая подписка на чат одной группы.
// Освобождается только через GroupsManager.UnsubscribeFromGroupMessages.
type GroupChatSubscription struct {
	groupID string
	ch      *realtime.Channel
}

func (s *GroupChatSubscription) GroupID() string { return s.groupID }
func (s *GroupChatSubscription) Active() bool    { return s != nil && s.ch.Active() }

// GroupsManager — группы, участники, заявки и групповой чат.
type GroupsManager struct {
	gw *gateway.Gateway

	mu   sync.Mutex
	subs map[string]*GroupChatSubscription
}

func NewGroupsManager(gw *gateway.Gateway) *GroupsManager {
	return &GroupsManager{gw: gw, subs: make(map[string]*GroupChatSubscription)}
}

const groupViewCols = `id::text, name, COALESCE(description,''), group_type, COALESCE(crop_tag,''), COALESCE(province,''),
	COALESCE(district,''), is_public, created_by::text, created_at, members_count, COALESCE(user_role,''),
	COALESCE(creator_first_name,''), COALESCE(creator_last_name,''), COALESCE(creator_avatar_url,'')`

const groupLegacyCols = `g.id::text, g.name, COALESCE(g.description,''), g.group_type, COALESCE(g.crop_tag,''),
	COALESCE(g.province,''), COALESCE(g.district,''), g.is_public, g.created_by::text, g.created_at,
	COALESCE(cr.first_name,''), COALESCE(cr.last_name,''), COALESCE(cr.avatar_url,'')`

func groupBaseDest(g *model.Group) []any {
	return []any{&g.ID, &g.Name, &g.Description, &g.GroupType, &g.CropTag, &g.Province, &g.District,
		&g.IsPublic, &g.CreatedBy, &g.CreatedAt}
}

func creatorDest(g *model.Group) []any {
	return []any{&g.Creator.FirstName, &g.Creator.LastName, &g.Creator.AvatarURL}
}

func scanGroupView(rows pgx.Rows) (model.Group, error) {
	var g model.Group
	err := rows.Scan(dest(groupBaseDest(&g), []any{&g.MembersCount, &g.UserRole}, creatorDest(&g))...)
	g.Creator.ID = g.CreatedBy
	g.IsMember = g.UserRole != ""
	return g, err
}

const groupWhere = `
	 WHERE ($1::text = '' OR group_type = $1)
	   AND ($2::text = '' OR crop_tag = $2)
	   AND ($3::text = '' OR province = $3)
	   AND ($4::text = '%%' OR name ILIKE $4 OR description ILIKE $4)`

// GetGroups читает groups_with_stats; без представления считает участников вручную.
func (m *GroupsManager) GetGroups(ctx context.Context, f GroupFilter) ([]model.Group, error) {
	defer logger.DeferLogDuration("groups.GetGroups", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+groupViewCols+` FROM groups_with_stats`+groupWhere+`
		 ORDER BY created_at DESC LIMIT $5`,
		f.GroupType, f.CropTag, f.Province, likePattern(f.Query), limitOr(f.Limit))
	if err != nil {
		if gateway.IsUndefinedTable(err) {
			logger.Warnf("groups: groups_with_stats missing, using manual aggregation")
			return m.getGroupsLegacy(ctx, f)
		}
		return nil, fmt.Errorf("groupsMgr.GetGroups: %w", err)
	}
	return collect(rows, "groupsMgr.GetGroups", scanGroupView)
}

func (m *GroupsManager) getGroupsLegacy(ctx context.Context, f GroupFilter) ([]model.Group, error) {
	where := strings.NewReplacer("group_type", "g.group_type", "crop_tag", "g.crop_tag",
		"province", "g.province", "name", "g.name", "description", "g.description").Replace(groupWhere)
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+groupLegacyCols+`
		 FROM groups g JOIN profiles cr ON cr.id = g.created_by`+where+`
		 ORDER BY g.created_at DESC LIMIT $5`,
		f.GroupType, f.CropTag, f.Province, likePattern(f.Query), limitOr(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("groupsMgr.getGroupsLegacy: %w", err)
	}
	groups, err := collect(rows, "groupsMgr.getGroupsLegacy", func(r pgx.Rows) (model.Group, error) {
		var g model.Group
		err := r.Scan(dest(groupBaseDest(&g), creatorDest(&g))...)
		g.Creator.ID = g.CreatedBy
		return g, err
	})
	if err != nil || len(groups) == 0 {
		return groups, err
	}
	if err := m.fillMembership(ctx, groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// fillMembership досчитывает число участников и роль текущего пользователя.
func (m *GroupsManager) fillMembership(ctx context.Context, groups []model.Group) error {
	ids := make([]string, len(groups))
	for i := range groups {
		ids[i] = groups[i].ID
	}
	var counts map[string]int
	roles := make(map[string]string)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		counts, err = countBy(gctx, m.gw.DB,
			`SELECT group_id::text, COUNT(*)::int FROM group_members WHERE group_id = ANY($1::uuid[]) GROUP BY group_id`, ids)
		return err
	})
	if uid := m.gw.UserID(); uid != "" {
		g.Go(func() error {
			rows, err := m.gw.DB.Query(gctx,
				`SELECT group_id::text, role FROM group_members WHERE group_id = ANY($1::uuid[]) AND user_id = $2::uuid`, ids, uid)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var id, role string
				if err := rows.Scan(&id, &role); err != nil {
					return err
				}
				roles[id] = role
			}
			return rows.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("groupsMgr.fillMembership: %w", err)
	}
	for i := range groups {
		groups[i].MembersCount = counts[groups[i].ID]
		groups[i].UserRole = roles[groups[i].ID]
		groups[i].IsMember = groups[i].UserRole != ""
	}
	return nil
}

// CreateGroup создаёт группу и добавляет создателя администратором.
func (m *GroupsManager) CreateGroup(ctx context.Context, in model.NewGroup) (*model.Group, error) {
	defer logger.DeferLogDuration("groups.CreateGroup", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	if err := required("name", in.Name); err != nil {
		return nil, err
	}
	if in.GroupType == "" {
		in.GroupType = model.GroupTypeGeneral
	}
	g := &model.Group{
		Name: strings.TrimSpace(in.Name), Description: in.Description, GroupType: in.GroupType, CropTag: in.CropTag,
		Province: in.Province, District: in.District, IsPublic: in.IsPublic, CreatedBy: uid,
		MembersCount: 1, UserRole: RoleAdmin, IsMember: true, Creator: model.ProfileRef{ID: uid},
	}
	err = m.gw.DB.QueryRow(ctx,
		`INSERT INTO groups (name, description, group_type, crop_tag, province, district, is_public, created_by)
		 VALUES ($1, NULLIF($2,''), $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), $7, $8)
		 RETURNING id::text, created_at`,
		g.Name, g.Description, string(g.GroupType), g.CropTag, g.Province, g.District, g.IsPublic, uid,
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("groupsMgr.CreateGroup: %w", err)
	}
	if _, err := m.gw.DB.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, $3)`, g.ID, uid, RoleAdmin); err != nil {
		return nil, fmt.Errorf("groupsMgr.CreateGroup admin: %w", err)
	}
	return g, nil
}

// GetGroup — группа с участниками.
func (m *GroupsManager) GetGroup(ctx context.Context, groupID string) (*model.GroupDetails, error) {
	defer logger.DeferLogDuration("groups.GetGroup", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+groupLegacyCols+` FROM groups g JOIN profiles cr ON cr.id = g.created_by WHERE g.id = $1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("groupsMgr.GetGroup: %w", err)
	}
	groups, err := collect(rows, "groupsMgr.GetGroup", func(r pgx.Rows) (model.Group, error) {
		var g model.Group
		err := r.Scan(dest(groupBaseDest(&g), creatorDest(&g))...)
		g.Creator.ID = g.CreatedBy
		return g, err
	})
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, gateway.ErrNotFound
	}
	members, err := m.GetMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	d := &model.GroupDetails{Group: groups[0], Members: members}
	d.MembersCount = len(members)
	uid := m.gw.UserID()
	for _, mem := range members {
		if mem.UserID == uid {
			d.UserRole = mem.Role
			d.IsMember = true
		}
	}
	return d, nil
}

func (m *GroupsManager) GetMembers(ctx context.Context, groupID string) ([]model.GroupMember, error) {
	defer logger.DeferLogDuration("groups.GetMembers", time.Now())()
	rows, err := m.gw.DB.Query(ctx,
		`SELECT gm.group_id::text, gm.user_id::text, gm.role, gm.joined_at, `+refCols("pr")+`
		 FROM group_members gm JOIN profiles pr ON pr.id = gm.user_id
		 WHERE gm.group_id = $1
		 ORDER BY gm.joined_at`, groupID)
	if err != nil {
		return nil, fmt.Errorf("groupsMgr.GetMembers: %w", err)
	}
	return collect(rows, "groupsMgr.GetMembers", func(r pgx.Rows) (model.GroupMember, error) {
		var gm model.GroupMember
		err := r.Scan(dest([]any{&gm.GroupID, &gm.UserID, &gm.Role, &gm.JoinedAt}, refDest(&gm.User))...)
		return gm, err
	})
}

// JoinGroup вступает в открытую группу. joined == false — пользователь уже участник (23505).
func (m *GroupsManager) JoinGroup(ctx context.Context, groupID string) (joined bool, err error) {
	defer logger.DeferLogDuration("groups.JoinGroup", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return false, err
	}
	_, err = m.gw.DB.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, $3)`, groupID, uid, RoleMember)
	if err != nil {
		if gateway.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("groupsMgr.JoinGroup: %w", err)
	}
	return true, nil
}

func (m *GroupsManager) LeaveGroup(ctx context.Context, groupID string) error {
	defer logger.DeferLogDuration("groups.LeaveGroup", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	if _, err := m.gw.DB.Exec(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, uid); err != nil {
		return fmt.Errorf("groupsMgr.LeaveGroup: %w", err)
	}
	return nil
}

// AddMember добавляет пользователя; уже состоящий участник не считается ошибкой.
func (m *GroupsManager) AddMember(ctx context.Context, groupID, userID, role string) error {
	defer logger.DeferLogDuration("groups.AddMember", time.Now())()
	if _, err := m.gw.RequireUser(); err != nil {
		return err
	}
	if role == "" {
		role = RoleMember
	}
	_, err := m.gw.DB.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, $3)`, groupID, userID, role)
	if err != nil && !gateway.IsUniqueViolation(err) {
		return fmt.Errorf("groupsMgr.AddMember: %w", err)
	}
	return nil
}

func (m *GroupsManager) UpdateMemberRole(ctx context.Context, groupID, userID, role string) error {
	defer logger.DeferLogDuration("groups.UpdateMemberRole", time.Now())()
	if _, err := m.gw.RequireUser(); err != nil {
		return err
	}
	switch role {
	case RoleAdmin, RoleModerator, RoleMember:
	default:
		return &gateway.ValidationError{Field: "role", Reason: "unknown role"}
	}
	tag, err := m.gw.DB.Exec(ctx,
		`UPDATE group_members SET role = $3 WHERE group_id = $1 AND user_id = $2`, groupID, userID, role)
	if err != nil {
		return fmt.Errorf("groupsMgr.UpdateMemberRole: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

// GetUserGroups — группы, в которых состоит пользователь.
func (m *GroupsManager) GetUserGroups(ctx context.Context) ([]model.Membership, error) {
	defer logger.DeferLogDuration("groups.GetUserGroups", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT gm.role, gm.joined_at, `+groupLegacyCols+`
		 FROM group_members gm
		 JOIN groups g ON g.id = gm.group_id
		 JOIN profiles cr ON cr.id = g.created_by
		 WHERE gm.user_id = $1
		 ORDER BY gm.joined_at DESC`, uid)
	if err != nil {
		return nil, fmt.Errorf("groupsMgr.GetUserGroups: %w", err)
	}
	list, err := collect(rows, "groupsMgr.GetUserGroups", func(r pgx.Rows) (model.Membership, error) {
		var ms model.Membership
		g := &ms.Group
		err := r.Scan(dest([]any{&ms.Role, &ms.JoinedAt}, groupBaseDest(g), creatorDest(g))...)
		g.Creator.ID = g.CreatedBy
		g.UserRole = ms.Role
		g.IsMember = true
		return ms, err
	})
	if err != nil || len(list) == 0 {
		return list, err
	}
	groups := make([]model.Group, len(list))
	for i := range list {
		groups[i] = list[i].Group
	}
	if err := m.fillMembership(ctx, groups); err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Group.MembersCount = groups[i].MembersCount
	}
	return list, nil
}

// GetGroupPosts — посты по культуре группы, иначе по её провинции.
func (m *GroupsManager) GetGroupPosts(ctx context.Context, posts *PostsManager, group *model.Group, limit int) ([]model.Post, error) {
	f := PostFilter{Limit: limit}
	switch {
	case group.CropTag != "":
		f.CropTag = group.CropTag
	case group.Province != "":
		f.Province = group.Province
	}
	return posts.GetPosts(ctx, f)
}

// RequestToJoin подаёт заявку в закрытую группу; повторная заявка возвращает существующую.
func (m *GroupsManager) RequestToJoin(ctx context.Context, groupID string) (*model.JoinRequest, error) {
	defer logger.DeferLogDuration("groups.RequestToJoin", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	r := &model.JoinRequest{GroupID: groupID, UserID: uid, Status: model.JoinPending}
	err = m.gw.DB.QueryRow(ctx,
		`INSERT INTO group_join_requests (group_id, user_id) VALUES ($1, $2) RETURNING id::text, created_at`,
		groupID, uid).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		if !gateway.IsUniqueViolation(err) {
			return nil, fmt.Errorf("groupsMgr.RequestToJoin: %w", err)
		}
		err = m.gw.DB.QueryRow(ctx,
			`SELECT id::text, created_at FROM group_join_requests
			 WHERE group_id = $1 AND user_id = $2 AND status = 'pending'`, groupID, uid).Scan(&r.ID, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("groupsMgr.RequestToJoin existing: %w", noRows(err))
		}
	}
	return r, nil
}

func (m *GroupsManager) GetJoinRequests(ctx context.Context, groupID string) ([]model.JoinRequest, error) {
	defer logger.DeferLogDuration("groups.GetJoinRequests", time.Now())()
	if _, err := m.gw.RequireUser(); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT id::text, group_id::text, user_id::text, status, created_at, responded_at
		 FROM group_join_requests WHERE group_id = $1 AND status = 'pending'
		 ORDER BY created_at`, groupID)
	if err != nil {
		return nil, fmt.Errorf("groupsMgr.GetJoinRequests: %w", err)
	}
	return collect(rows, "groupsMgr.GetJoinRequests", func(r pgx.Rows) (model.JoinRequest, error) {
		var jr model.JoinRequest
		err := r.Scan(&jr.ID, &jr.GroupID, &jr.UserID, &jr.Status, &jr.CreatedAt, &jr.RespondedAt)
		return jr, err
	})
}

// RespondToJoinRequest одобряет или отклоняет заявку; одобрение добавляет участника.
func (m *GroupsManager) RespondToJoinRequest(ctx context.Context, requestID string, approve bool) error {
	defer logger.DeferLogDuration("groups.RespondToJoinRequest", time.Now())()
	if _, err := m.gw.RequireUser(); err != nil {
		return err
	}
	status := model.JoinDeclined
	if approve {
		status = model.JoinApproved
	}
	var groupID, userID string
	err := m.gw.DB.QueryRow(ctx,
		`UPDATE group_join_requests SET status = $2, responded_at = NOW()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING group_id::text, user_id::text`, requestID, string(status)).Scan(&groupID, &userID)
	if err != nil {
		return fmt.Errorf("groupsMgr.RespondToJoinRequest: %w", noRows(err))
	}
	if approve {
		return m.AddMember(ctx, groupID, userID, RoleMember)
	}
	return nil
}

const groupMessageCols = `m.id::text, m.group_id::text, m.sender_id::text, m.content, m.attachments, m.created_at, `

func scanGroupMessage(rows pgx.Rows) (model.Message, error) {
	msg := model.Message{Kind: model.KindGroup, Sender: &model.ProfileRef{}}
	err := rows.Scan(dest([]any{&msg.ID, &msg.GroupID, &msg.SenderID, &msg.Content, &msg.Attachments, &msg.CreatedAt},
		refDest(msg.Sender))...)
	return msg, err
}

// GetGroupMessages — последние сообщения группы по возрастанию времени.
func (m *GroupsManager) GetGroupMessages(ctx context.Context, groupID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("groups.GetGroupMessages", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = MessageHistoryLimit
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+groupMessageCols+refCols("pr")+`
		 FROM group_messages m JOIN profiles pr ON pr.id = m.sender_id
		 WHERE m.group_id = $1
		 ORDER BY m.created_at DESC
		 LIMIT $2`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("groupsMgr.GetGroupMessages: %w", err)
	}
	msgs, err := collect(rows, "groupsMgr.GetGroupMessages", scanGroupMessage)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetGroupMessage перечитывает сообщение группы по id.
func (m *GroupsManager) GetGroupMessage(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("groups.GetGroupMessage", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+groupMessageCols+refCols("pr")+`
		 FROM group_messages m JOIN profiles pr ON pr.id = m.sender_id
		 WHERE m.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("groupsMgr.GetGroupMessage: %w", err)
	}
	msgs, err := collect(rows, "groupsMgr.GetGroupMessage", scanGroupMessage)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, gateway.ErrNotFound
	}
	return &msgs[0], nil
}

// SendGroupMessage — только для участников группы.
func (m *GroupsManager) SendGroupMessage(ctx context.Context, groupID, content string, files []model.Upload) (*model.Message, error) {
	defer logger.DeferLogDuration("groups.SendGroupMessage", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" && len(files) == 0 {
		return nil, &gateway.ValidationError{Field: "content", Reason: "message is empty"}
	}
	if err := gateway.ValidateUploads(files, m.gw.Limits); err != nil {
		return nil, err
	}
	var member bool
	if err := m.gw.DB.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`, groupID, uid,
	).Scan(&member); err != nil {
		return nil, fmt.Errorf("groupsMgr.SendGroupMessage membership: %w", err)
	}
	if !member {
		return nil, &gateway.ValidationError{Field: "group", Reason: "join the group to send messages"}
	}
	atts := []model.Attachment{}
	for _, f := range files {
		if m.gw.Storage == nil {
			return nil, gateway.ErrNotConfigured
		}
		u, err := m.gw.Storage.Upload(ctx, gateway.BucketChatAttachments, gateway.ObjectPath(uid, f.Name), f.ContentType, f.Data)
		if err != nil {
			return nil, fmt.Errorf("groupsMgr.SendGroupMessage upload %s: %w", f.Name, err)
		}
		atts = append(atts, model.Attachment{URL: u, Name: f.Name, ContentType: f.ContentType, Size: f.Size()})
	}

	msg := &model.Message{Kind: model.KindGroup, GroupID: groupID, SenderID: uid, Content: content, Attachments: atts}
	if err := m.gw.DB.QueryRow(ctx,
		`INSERT INTO group_messages (group_id, sender_id, content, attachments) VALUES ($1, $2, $3, $4)
		 RETURNING id::text, created_at`, groupID, uid, content, atts,
	).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("groupsMgr.SendGroupMessage: %w", err)
	}
	full, err := m.GetGroupMessage(ctx, msg.ID)
	if err != nil {
		logger.Warnf("groups: reload sent message %s: %v", msg.ID, err)
		return msg, nil
	}
	return full, nil
}

// SubscribeToGroupMessages подписывается на новые сообщения группы; обработчик получает id.
func (m *GroupsManager) SubscribeToGroupMessages(groupID string, onMessage func(messageID string)) (*GroupChatSubscription, error) {
	f := realtime.Filter{Table: "group_messages", Event: realtime.EventInsert, Column: "group_id", Value: groupID}
	ch, err := m.gw.Subscribe("group:"+groupID, f, func(c realtime.Change) {
		if id := c.Field("id"); id != "" {
			onMessage(id)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("groupsMgr.SubscribeToGroupMessages: %w", err)
	}
	sub := &GroupChatSubscription{groupID: groupID, ch: ch}
	m.mu.Lock()
	prev := m.subs[groupID]
	m.subs[groupID] = sub
	m.mu.Unlock()
	if prev != nil {
		m.gw.RemoveChannel(prev.ch)
	}
	return sub, nil
}

// UnsubscribeFromGroupMessages идемпотентен.
func (m *GroupsManager) UnsubscribeFromGroupMessages(sub *GroupChatSubscription) {
	if sub == nil {
		return
	}
	m.mu.Lock()
	if m.subs[sub.groupID] == sub {
		delete(m.subs, sub.groupID)
	}
	m.mu.Unlock()
	m.gw.RemoveChannel(sub.ch)
}

func (m *GroupsManager) OpenSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if s.Active() {
			n++
		}
	}
	return n
}
