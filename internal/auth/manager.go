package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
)

// Result — исход входа/регистрации для экрана аутентификации.
type Result struct {
	NeedsProfile      bool  `json:"needs_profile"`
	NeedsEmailConfirm bool  `json:"needs_email_confirm"`
	User              *User `json:"user,omitempty"`
}

// Manager — полный контракт аутентификации приложения, включая вход и
// регистрацию по паролю. Реализация: *ProfileManager.
type Manager interface {
	Init(ctx context.Context) error
	LoadUserProfile(ctx context.Context, userID string) (*model.Profile, error)
	CreateProfile(ctx context.Context, p model.Profile) (*model.Profile, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Result, error)
	SignUpWithPassword(ctx context.Context, email, password string) (*Result, error)
	SendOTP(ctx context.Context, ch Channel, target string) error
	VerifyOTP(ctx context.Context, ch Channel, target, code string) (*Result, error)
	SignOut(ctx context.Context) error
	User() *User
	Profile() *model.Profile
	IsAuthenticated() bool
	OnAuthChange(fn func(authenticated bool))
}

var _ Manager = (*ProfileManager)(nil)

// ProfileColumns — порядок колонок для ScanProfile.
const ProfileColumns = `id::text, COALESCE(first_name,''), COALESCE(last_name,''), COALESCE(avatar_url,''),
	COALESCE(phone,''), COALESCE(province,''), COALESCE(district,''), COALESCE(farmer_type,''),
	COALESCE(crops,''), COALESCE(livestock,''), COALESCE(farm_size_ha,0)::float8, COALESCE(bio,''),
	is_verified, created_at`

func ScanProfile(row pgx.Row) (*model.Profile, error) {
	p := &model.Profile{}
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.AvatarURL, &p.Phone, &p.Province, &p.District,
		&p.FarmerType, &p.Crops, &p.Livestock, &p.FarmSizeHa, &p.Bio, &p.IsVerified, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, gateway.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// ProfileManager связывает сессию провайдера с прикладным профилем в таблице profiles.
type ProfileManager struct {
	client *Client
	db     gateway.DB

	mu       sync.RWMutex
	user     *User
	profile  *model.Profile
	onChange func(bool)
	unsub    func()
}

// NewProfileManager: client == nil — бэкенд не настроен, любые вызовы дают ErrNotConfigured.
func NewProfileManager(client *Client, db gateway.DB) *ProfileManager {
	return &ProfileManager{client: client, db: db}
}

func (m *ProfileManager) ready() error {
	if m.client == nil || m.db == nil {
		return gateway.ErrNotConfigured
	}
	return nil
}

func (m *ProfileManager) OnAuthChange(fn func(bool)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *ProfileManager) notify(authed bool) {
	m.mu.RLock()
	fn := m.onChange
	m.mu.RUnlock()
	if fn != nil {
		fn(authed)
	}
}

// Init поднимает сохранённую сессию и подписывается на события клиента.
func (m *ProfileManager) Init(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	s, err := m.client.Restore(ctx)
	if err != nil {
		logger.Warnf("auth: restore session: %v", err)
	}
	if s != nil {
		u := s.User
		m.mu.Lock()
		m.user = &u
		m.mu.Unlock()
		if _, err := m.LoadUserProfile(ctx, u.ID); err != nil {
			logger.Warnf("auth: load profile: %v", err)
		}
	}
	m.unsub = m.client.OnChange(func(ev Event) {
		switch ev.Type {
		case EventSignedIn:
			if ev.Session == nil {
				return
			}
			u := ev.Session.User
			m.mu.Lock()
			m.user = &u
			m.mu.Unlock()
			if _, err := m.LoadUserProfile(ctx, u.ID); err != nil {
				logger.Warnf("auth: load profile: %v", err)
			}
			m.notify(true)
		case EventSignedOut:
			m.mu.Lock()
			m.user, m.profile = nil, nil
			m.mu.Unlock()
			m.notify(false)
		}
	})
	return nil
}

// LoadUserProfile возвращает nil без ошибки, если профиль ещё не создан.
func (m *ProfileManager) LoadUserProfile(ctx context.Context, userID string) (*model.Profile, error) {
	defer logger.DeferLogDuration("auth.LoadUserProfile", time.Now())()
	if err := m.ready(); err != nil {
		return nil, err
	}
	p, err := ScanProfile(m.db.QueryRow(ctx, `SELECT `+ProfileColumns+` FROM profiles WHERE id = $1`, userID))
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authMgr.LoadUserProfile: %w", err)
	}
	m.mu.Lock()
	m.profile = p
	m.mu.Unlock()
	return p, nil
}

// CreateProfile — upsert профиля текущего пользователя.
func (m *ProfileManager) CreateProfile(ctx context.Context, p model.Profile) (*model.Profile, error) {
	defer logger.DeferLogDuration("auth.CreateProfile", time.Now())()
	if err := m.ready(); err != nil {
		return nil, err
	}
	uid := m.client.UserID()
	if uid == "" {
		return nil, gateway.ErrNotAuthenticated
	}
	if strings.TrimSpace(p.FirstName) == "" {
		return nil, &gateway.ValidationError{Field: "first_name", Reason: "first name is required"}
	}
	row := m.db.QueryRow(ctx,
		`INSERT INTO profiles (id, first_name, last_name, avatar_url, phone, province, district, farmer_type, crops, livestock, farm_size_ha, bio)
		 VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), NULLIF($10,''), NULLIF($11::float8, 0), NULLIF($12,''))
		 ON CONFLICT (id) DO UPDATE SET
		   first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, avatar_url = EXCLUDED.avatar_url,
		   phone = EXCLUDED.phone, province = EXCLUDED.province, district = EXCLUDED.district,
		   farmer_type = EXCLUDED.farmer_type, crops = EXCLUDED.crops, livestock = EXCLUDED.livestock,
		   farm_size_ha = EXCLUDED.farm_size_ha, bio = EXCLUDED.bio
		 RETURNING `+ProfileColumns,
		uid, strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName), p.AvatarURL, p.Phone, p.Province,
		p.District, p.FarmerType, p.Crops, p.Livestock, p.FarmSizeHa, p.Bio)
	saved, err := ScanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("authMgr.CreateProfile: %w", err)
	}
	m.mu.Lock()
	m.profile = saved
	m.mu.Unlock()
	return saved, nil
}

func (m *ProfileManager) result(u *User) *Result {
	return &Result{NeedsProfile: m.Profile() == nil, User: u}
}

func (m *ProfileManager) SignInWithPassword(ctx context.Context, email, password string) (*Result, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	s, err := m.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return m.result(&s.User), nil
}

func (m *ProfileManager) SignUpWithPassword(ctx context.Context, email, password string) (*Result, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	res, err := m.client.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if res.Session == nil {
		return &Result{NeedsEmailConfirm: true, User: res.User}, nil
	}
	return m.result(&res.Session.User), nil
}

func (m *ProfileManager) SendOTP(ctx context.Context, ch Channel, target string) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.client.SendOTP(ctx, ch, target)
}

func (m *ProfileManager) VerifyOTP(ctx context.Context, ch Channel, target, code string) (*Result, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	s, err := m.client.VerifyOTP(ctx, ch, target, code)
	if err != nil {
		return nil, err
	}
	return m.result(&s.User), nil
}

func (m *ProfileManager) SignOut(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.client.SignOut(ctx)
}

func (m *ProfileManager) User() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

func (m *ProfileManager) Profile() *model.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

func (m *ProfileManager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil
}

// Close отписывается от клиента.
func (m *ProfileManager) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}
