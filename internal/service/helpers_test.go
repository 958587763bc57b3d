package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"familytasks/internal/database"
	"familytasks/internal/models"
	"familytasks/internal/repository"
	"familytasks/internal/security"
	"familytasks/internal/testutil"
)

type sentEmail struct {
	kind  string
	to    string
	name  string
	token string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (m *fakeMailer) IsEnabled() bool { return true }

func (m *fakeMailer) SendPasswordResetEmail(_ context.Context, to, name, token string) error {
	return m.record("reset", to, name, token)
}

func (m *fakeMailer) SendPasswordSetupEmail(_ context.Context, to, name, token string) error {
	return m.record("setup", to, name, token)
}

func (m *fakeMailer) record(kind, to, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentEmail{kind: kind, to: to, name: name, token: token})
	return nil
}

func (m *fakeMailer) emails() []sentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentEmail(nil), m.sent...)
}

type fixture struct {
	db         *database.DB
	identities *repository.IdentityRepository
	families   *repository.FamilyRepository
	lists      *repository.ListRepository
	mailer     *fakeMailer
	validator  *security.TokenValidator
	auth       *AuthService
	family     *FamilyService
	list       *ListService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	cfg := security.TokenConfig{
		Secret:   []byte("0123456789abcdef0123456789abcdef"),
		Issuer:   "familytasks",
		Audience: "familytasks-api",
		TTL:      24 * time.Hour,
	}
	issuer, err := security.NewTokenIssuer(cfg)
	require.NoError(t, err)
	validator, err := security.NewTokenValidator(cfg)
	require.NoError(t, err)

	f := &fixture{
		db:         db,
		identities: repository.NewIdentityRepository(db),
		families:   repository.NewFamilyRepository(db),
		lists:      repository.NewListRepository(db),
		mailer:     &fakeMailer{},
		validator:  validator,
	}
	f.auth = NewAuthService(db, f.identities, f.families, issuer, f.mailer)
	f.family = NewFamilyService(db, f.identities, f.families, f.auth)
	f.list = NewListService(f.lists)
	return f
}

// register creates a family whose ADMIN is email/password123
func (f *fixture) register(t *testing.T, email string) *Session {
	t.Helper()
	session, err := f.auth.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: "password123",
		Name:     "Parent",
	})
	require.NoError(t, err)
	return session
}

// member adds a member with a password and returns claims for them
func (f *fixture) member(t *testing.T, admin *Session, email string, role models.Role) *security.SessionClaims {
	t.Helper()
	m, err := f.family.AddMember(context.Background(), admin.Claims, AddMemberInput{
		Email:    email,
		Name:     "Member " + string(role),
		Role:     string(role),
		Password: "password123",
	})
	require.NoError(t, err)
	return &security.SessionClaims{
		UserID:    m.UserID,
		AppUserID: m.ID,
		FamilyID:  m.FamilyID,
		Role:      m.Role,
	}
}
