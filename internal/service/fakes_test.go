package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"teamhub/internal/client"
	"teamhub/internal/common"
	"teamhub/internal/config"
	"teamhub/internal/encryption"
	"teamhub/internal/hashing"
	"teamhub/internal/mailer"
	"teamhub/internal/model"
	"teamhub/internal/otp"
	redisrepo "teamhub/internal/repository/redis"
	"teamhub/internal/token"
	"teamhub/internal/twofa"
)

// -------------------- IN-MEMORY STORES --------------------

type fakeUserStore struct {
	mu         sync.Mutex
	users      map[string]*model.User
	byEmail    map[string]string
	byUsername map[string]string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:      make(map[string]*model.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

func (s *fakeUserStore) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return common.ErrEmailTaken
	}
	if _, ok := s.byUsername[user.Username]; ok {
		return common.ErrUsernameTaken
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now().UTC()

	s.users[user.ID] = user
	s.byEmail[user.Email] = user.ID
	s.byUsername[user.Username] = user.ID
	return nil
}

func (s *fakeUserStore) GetUserByID(_ context.Context, userID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	id, ok := s.byEmail[email]
	s.mu.Unlock()
	if !ok {
		return nil, common.ErrNotFound
	}
	return s.GetUserByID(ctx, id)
}

func (s *fakeUserStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	id, ok := s.byUsername[username]
	s.mu.Unlock()
	if !ok {
		return nil, common.ErrNotFound
	}
	return s.GetUserByID(ctx, id)
}

func (s *fakeUserStore) IsEmailTaken(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byEmail[email]
	return ok, nil
}

func (s *fakeUserStore) IsUsernameTaken(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byUsername[username]
	return ok, nil
}

func (s *fakeUserStore) UpdateTwoFa(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[user.ID]
	if !ok {
		return common.ErrNotFound
	}
	stored.TwoFaStatus = user.TwoFaStatus
	stored.TwoFaSecretEnc = user.TwoFaSecretEnc
	stored.TwoFaSecretDEK = user.TwoFaSecretDEK
	stored.TwoFaKeyID = user.TwoFaKeyID
	return nil
}

func (s *fakeUserStore) UpdateEmail(_ context.Context, user *model.User, newEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[newEmail]; ok {
		return common.ErrEmailTaken
	}
	stored, ok := s.users[user.ID]
	if !ok {
		return common.ErrNotFound
	}
	delete(s.byEmail, stored.Email)
	stored.Email = newEmail
	s.byEmail[newEmail] = user.ID
	user.Email = newEmail
	return nil
}

func (s *fakeUserStore) UpdateProfile(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[user.ID]
	if !ok {
		return common.ErrNotFound
	}
	stored.Name = user.Name
	stored.Description = user.Description
	return nil
}

func (s *fakeUserStore) DisableUser(_ context.Context, user *model.User, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[user.ID]
	if !ok {
		return common.ErrNotFound
	}
	stored.DisabledAt = &at
	user.DisabledAt = &at
	return nil
}

type fakePendingStore struct {
	mu       sync.Mutex
	users    map[string]*model.PendingUser
	sessions map[string]*model.PendingSession
	emails   map[string]*model.PendingEmail
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{
		users:    make(map[string]*model.PendingUser),
		sessions: make(map[string]*model.PendingSession),
		emails:   make(map[string]*model.PendingEmail),
	}
}

func (s *fakePendingStore) CreatePendingUser(_ context.Context, pending *model.PendingUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending.ID == "" {
		pending.ID = uuid.New().String()
	}
	pending.CreatedAt = time.Now().UTC()
	copied := *pending
	s.users[pending.ID] = &copied
	return nil
}

func (s *fakePendingStore) GetPendingUser(_ context.Context, pendingID string) (*model.PendingUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, ok := s.users[pendingID]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := *pending
	return &copied, nil
}

func (s *fakePendingStore) ConsumePendingUser(_ context.Context, pendingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[pendingID]; !ok {
		return false, nil
	}
	delete(s.users, pendingID)
	return true, nil
}

func (s *fakePendingStore) BumpPendingUserAttempts(_ context.Context, pendingID string, prevAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending, ok := s.users[pendingID]; ok && pending.Attempts == prevAttempts {
		pending.Attempts++
	}
	return nil
}

func (s *fakePendingStore) CreatePendingSession(_ context.Context, pending *model.PendingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending.ID == "" {
		pending.ID = uuid.New().String()
	}
	pending.CreatedAt = time.Now().UTC()
	copied := *pending
	s.sessions[pending.ID] = &copied
	return nil
}

func (s *fakePendingStore) GetPendingSession(_ context.Context, pendingID string) (*model.PendingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, ok := s.sessions[pendingID]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := *pending
	return &copied, nil
}

func (s *fakePendingStore) ConsumePendingSession(_ context.Context, pendingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[pendingID]; !ok {
		return false, nil
	}
	delete(s.sessions, pendingID)
	return true, nil
}

func (s *fakePendingStore) BumpPendingSessionAttempts(_ context.Context, pendingID string, prevAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending, ok := s.sessions[pendingID]; ok && pending.Attempts == prevAttempts {
		pending.Attempts++
	}
	return nil
}

func (s *fakePendingStore) CreatePendingEmail(_ context.Context, pending *model.PendingEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending.ID == "" {
		pending.ID = uuid.New().String()
	}
	pending.CreatedAt = time.Now().UTC()
	copied := *pending
	s.emails[pending.ID] = &copied
	return nil
}

func (s *fakePendingStore) GetPendingEmail(_ context.Context, pendingID string) (*model.PendingEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, ok := s.emails[pendingID]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := *pending
	return &copied, nil
}

func (s *fakePendingStore) ConsumePendingEmail(_ context.Context, pendingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[pendingID]; !ok {
		return false, nil
	}
	delete(s.emails, pendingID)
	return true, nil
}

func (s *fakePendingStore) BumpPendingEmailAttempts(_ context.Context, pendingID string, prevAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending, ok := s.emails[pendingID]; ok && pending.Attempts == prevAttempts {
		pending.Attempts++
	}
	return nil
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*model.Session)}
}

func (s *fakeSessionStore) CreateSession(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	session.CreatedAt = time.Now().UTC()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *fakeSessionStore) GetSessionByID(_ context.Context, sessionID string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *fakeSessionStore) RevokeSession(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return common.ErrNotFound
	}
	if session.RevokedAt == nil {
		session.RevokedAt = &at
	}
	return nil
}

func (s *fakeSessionStore) ListSessionsByUser(_ context.Context, userID string) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Session
	for _, session := range s.sessions {
		if session.UserID == userID {
			copied := *session
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeSessionStore) RevokeAllSessions(_ context.Context, userID, except string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.UserID != userID || session.ID == except || session.RevokedAt != nil {
			continue
		}
		revokedAt := at
		session.RevokedAt = &revokedAt
	}
	return nil
}

// -------------------- MAIL & AUDIT --------------------

type sentMail struct {
	kind string // "registration", "account_exists", "signin", "email_change", "email_changed"
	to   string
	code string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

var errMailDown = errors.New("smtp unavailable")

func (m *fakeMailer) SendRegistrationCode(email, username, code string) error {
	return m.record(sentMail{kind: "registration", to: email, code: code})
}

func (m *fakeMailer) SendAccountExistsNotice(email string) error {
	return m.record(sentMail{kind: "account_exists", to: email})
}

func (m *fakeMailer) SendSignInCode(email, code string) error {
	return m.record(sentMail{kind: "signin", to: email, code: code})
}

func (m *fakeMailer) SendEmailChangeCode(newEmail, code string) error {
	return m.record(sentMail{kind: "email_change", to: newEmail, code: code})
}

func (m *fakeMailer) SendEmailChangedNotice(oldEmail, newEmail string) error {
	return m.record(sentMail{kind: "email_changed", to: oldEmail})
}

func (m *fakeMailer) record(mail sentMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errMailDown
	}
	m.sent = append(m.sent, mail)
	return nil
}

func (m *fakeMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}

var _ mailer.Mailer = (*fakeMailer)(nil)

type recordedEvent struct {
	eventType string
	userID    string
	sessionID string
	metadata  map[string]string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *fakeRecorder) Record(_ context.Context, eventType, userID, sessionID string, metadata map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{eventType, userID, sessionID, metadata})
}

func (r *fakeRecorder) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.eventType == eventType {
			return true
		}
	}
	return false
}

// -------------------- HARNESS --------------------

type testEnv struct {
	svc      *AuthService
	users    *fakeUserStore
	pendings *fakePendingStore
	sessions *fakeSessionStore
	mail     *fakeMailer
	events   *fakeRecorder
	codes    *otp.Manager
	twoFa    *twofa.Controller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Pepper:            "test-pepper",
			PepperVersion:     1,
		},
		Auth: config.AuthConfig{
			CodeLength:      6,
			CodeTTL:         30 * time.Minute,
			CodeMaxAttempts: 5,
			AnonTokenTTL:    time.Hour,
			TOTPIssuer:      "Teamhub",
		},
	}

	mr := miniredis.RunT(t)
	redisClient := client.NewRedisClientFromAddr(mr.Addr())

	users := newFakeUserStore()
	pendings := newFakePendingStore()
	sessions := newFakeSessionStore()
	mail := &fakeMailer{}
	events := &fakeRecorder{}

	codes := otp.NewManager(hashing.NewHasher(cfg), cfg.Auth)
	twoFa := twofa.NewController(encryption.NewManager(&config.Config{}, nil), cfg.Auth.TOTPIssuer)

	svc := NewAuthService(
		users,
		pendings,
		sessions,
		redisrepo.NewFlowIndex(redisClient),
		redisrepo.NewSessionCache(redisClient, 15*time.Minute),
		redisrepo.NewAnonTokenCache(redisClient),
		codes,
		token.NewCodec(),
		twoFa,
		mail,
		events,
		cfg,
	)

	return &testEnv{
		svc:      svc,
		users:    users,
		pendings: pendings,
		sessions: sessions,
		mail:     mail,
		events:   events,
		codes:    codes,
		twoFa:    twoFa,
	}
}

// register creates a verified account through the real flows and returns the
// signed-in state.
func (e *testEnv) register(t *testing.T, email, username string) *Registered {
	t.Helper()

	pending, err := e.svc.Register(context.Background(), RegisterInput{Email: email, Username: username})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	registered, err := e.svc.CompleteRegistration(context.Background(), CompleteRegistrationInput{
		PendingUserID: pending.ID,
		Code:          e.mail.last().code,
	})
	if err != nil {
		t.Fatalf("complete registration: %v", err)
	}
	return registered
}

// signIn completes a full code-based sign-in for an existing account
// without 2FA enabled.
func (e *testEnv) signIn(t *testing.T, emailOrUsername string) *SignedIn {
	t.Helper()

	pending, err := e.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: emailOrUsername})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	signedIn, err := e.svc.CompleteSignIn(context.Background(), CompleteSignInInput{
		PendingSessionID: pending.ID,
		Code:             e.mail.last().code,
	})
	if err != nil {
		t.Fatalf("complete sign in: %v", err)
	}
	return signedIn
}
