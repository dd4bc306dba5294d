package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gwi.com/neura-chat/internal/store"
)

// StorageKey is the local storage entry holding the signed-in user.
const StorageKey = "neura_user_session"

var (
	ErrMissingCredentials = errors.New("please enter both email and password")
	ErrMissingFields      = errors.New("all fields are required")
)

// Provider is the authentication capability the rest of the app depends on.
// LocalProvider is a mock; a real backend only has to satisfy this interface.
type Provider interface {
	Login(ctx context.Context, email, password string) (*store.User, error)
	Signup(ctx context.Context, name, email, password string) (*store.User, error)
	Logout() error
	CurrentUser() (*store.User, error)
}

// LocalStorage is the subset of browser-style storage the mock needs.
type LocalStorage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

type LocalProvider struct {
	storage     LocalStorage
	loginDelay  time.Duration
	signupDelay time.Duration
}

func NewLocalProvider(storage LocalStorage, loginDelay, signupDelay time.Duration) *LocalProvider {
	return &LocalProvider{
		storage:     storage,
		loginDelay:  loginDelay,
		signupDelay: signupDelay,
	}
}

// Login accepts any non-empty credentials and derives the display name from the email.
func (p *LocalProvider) Login(ctx context.Context, email, password string) (*store.User, error) {
	if err := sleep(ctx, p.loginDelay); err != nil {
		return nil, err
	}
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	name, _, _ := strings.Cut(email, "@")
	user := &store.User{
		ID:     newUserID(),
		Name:   name,
		Email:  email,
		Avatar: avatarURL(name),
	}
	if err := p.save(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (p *LocalProvider) Signup(ctx context.Context, name, email, password string) (*store.User, error) {
	if err := sleep(ctx, p.signupDelay); err != nil {
		return nil, err
	}
	if name == "" || email == "" || password == "" {
		return nil, ErrMissingFields
	}

	user := &store.User{
		ID:     newUserID(),
		Name:   name,
		Email:  email,
		Avatar: avatarURL(name),
	}
	if err := p.save(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (p *LocalProvider) Logout() error {
	return p.storage.RemoveItem(StorageKey)
}

// CurrentUser returns nil when nobody is signed in. A corrupt record is
// reported as an error rather than treated as signed out.
func (p *LocalProvider) CurrentUser() (*store.User, error) {
	raw, ok, err := p.storage.GetItem(StorageKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var user store.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("failed to parse stored user: %w", err)
	}
	return &user, nil
}

func (p *LocalProvider) save(user *store.User) error {
	b, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := p.storage.SetItem(StorageKey, string(b)); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newUserID() string {
	return "usr_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

func avatarURL(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=random"
}
