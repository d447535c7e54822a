package user

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu     sync.Mutex
	riders map[string]*Rider
	nextID int
}

func newMemStore() *memStore {
	return &memStore{riders: make(map[string]*Rider)}
}

func (m *memStore) CreateRider(_ context.Context, rider *Rider) (*Rider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rider.ID = m.nextID
	m.riders[rider.Username] = rider
	return rider, nil
}

func (m *memStore) GetRiderByUsername(_ context.Context, username string) (*Rider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return r, nil
}

func TestService_RegisterLoginValidate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), "test-secret")

	reg, err := svc.Register(ctx, &Credentials{Username: "alice", Password: "throttle"})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.ID)

	res, err := svc.Login(ctx, &Credentials{Username: "alice", Password: "throttle"})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Username)

	id, name, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, "alice", name)
}

func TestService_LoginFailures(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), "test-secret")
	_, err := svc.Register(ctx, &Credentials{Username: "bob", Password: "clutch"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		creds Credentials
	}{
		{name: "wrong password", creds: Credentials{Username: "bob", Password: "brake"}},
		{name: "unknown rider", creds: Credentials{Username: "carol", Password: "clutch"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, &tt.creds)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestService_RegisterRejectsBlank(t *testing.T) {
	svc := NewService(newMemStore(), "test-secret")
	_, err := svc.Register(context.Background(), &Credentials{Username: "  ", Password: "x"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_ValidateToken(t *testing.T) {
	svc := NewService(newMemStore(), "test-secret")
	other := NewService(newMemStore(), "other-secret")

	good, err := svc.IssueToken(7, "dana")
	require.NoError(t, err)
	foreign, err := other.IssueToken(7, "dana")
	require.NoError(t, err)

	expiredSvc := NewService(newMemStore(), "test-secret")
	expiredSvc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, err := expiredSvc.IssueToken(7, "dana")
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "valid", token: good},
		{name: "wrong secret", token: foreign, wantErr: true},
		{name: "expired", token: expired, wantErr: true},
		{name: "garbage", token: "not-a-jwt", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, name, err := svc.ValidateToken(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 7, id)
			assert.Equal(t, "dana", name)
		})
	}
}

func TestHandler_RegisterAndLogin(t *testing.T) {
	h := NewHandler(NewService(newMemStore(), "test-secret"), zap.NewNop())

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/register",
		bytes.NewBufferString(`{"username":"erin","password":"apex"}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/login",
		bytes.NewBufferString(`{"username":"erin","password":"apex"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_token")

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/login",
		bytes.NewBufferString(`{"username":"erin","password":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
