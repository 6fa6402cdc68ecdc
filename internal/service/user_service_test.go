package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"anpr-stream/internal/auth"
	"anpr-stream/internal/domain/anpr"
)

type fakeUserStore struct {
	users map[string]*anpr.User
}

func (f *fakeUserStore) GetUserByUsername(_ context.Context, username string) (*anpr.User, error) {
	return f.users[username], nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id uuid.UUID) (*anpr.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, u *anpr.User) error {
	u.ID = uuid.New()
	f.users[u.Username] = u
	return nil
}

func newUserService() (*UserService, *fakeUserStore) {
	store := &fakeUserStore{users: map[string]*anpr.User{}}
	return NewUserService(store, auth.NewIssuer("secret", 30*time.Minute), zerolog.Nop()), store
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name     string
		in       RegisterInput
		wantRole string
		wantErr  error
	}{
		{name: "default role", in: RegisterInput{Username: "op", Password: "secret1"}, wantRole: "staff"},
		{name: "admin", in: RegisterInput{Username: "boss", Password: "secret1", Role: "Admin"}, wantRole: "admin"},
		{name: "short password", in: RegisterInput{Username: "op", Password: "123"}, wantErr: ErrInvalidInput},
		{name: "blank username", in: RegisterInput{Username: " ", Password: "secret1"}, wantErr: ErrInvalidInput},
		{name: "unknown role", in: RegisterInput{Username: "op", Password: "secret1", Role: "root"}, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newUserService()
			user, err := svc.Register(context.Background(), tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			if user.Role != tt.wantRole || !user.IsActive || user.PasswordHash == tt.in.Password {
				t.Errorf("Register() = %+v", user)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _ := newUserService()
	in := RegisterInput{Username: "op", Password: "secret1"}
	if _, err := svc.Register(context.Background(), in); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register(context.Background(), in); !errors.Is(err, ErrConflict) {
		t.Errorf("second Register() error = %v, want ErrConflict", err)
	}
}

func TestLoginAndMe(t *testing.T) {
	svc, store := newUserService()
	user, err := svc.Register(context.Background(), RegisterInput{Username: "op", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := svc.Login(context.Background(), "op", "secret1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.AccessToken == "" || res.TokenType != "bearer" {
		t.Errorf("Login() = %+v", res)
	}

	p, err := auth.NewParser("secret").Parse(res.AccessToken)
	if err != nil || p.UserID != user.ID {
		t.Errorf("token principal = %+v, err = %v", p, err)
	}

	me, err := svc.Me(context.Background(), user.ID)
	if err != nil || me.Username != "op" {
		t.Errorf("Me() = %+v, err = %v", me, err)
	}

	for _, tc := range []struct{ name, user, pass string }{
		{"wrong password", "op", "nope"},
		{"unknown user", "ghost", "secret1"},
	} {
		if _, err := svc.Login(context.Background(), tc.user, tc.pass); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s: Login() error = %v, want ErrUnauthorized", tc.name, err)
		}
	}

	store.users["op"].IsActive = false
	if _, err := svc.Login(context.Background(), "op", "secret1"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("inactive Login() error = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Me(context.Background(), user.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("inactive Me() error = %v, want ErrUnauthorized", err)
	}
}
