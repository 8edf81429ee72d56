// Package auth owns the signed-in state: it stores the session token on
// login and clears every trace of the session on logout.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"codestreak/backend"
	"codestreak/backend/api"
	"codestreak/internal/cache"
	"codestreak/internal/events"
	"codestreak/internal/utils"
)

// API is the subset of the REST client used for authentication.
type API interface {
	Login(ctx context.Context, username, password string) (*backend.Session, error)
	Register(ctx context.Context, username, email, password string) (*backend.Session, error)
	Logout(ctx context.Context) error
	DeleteAccount(ctx context.Context) error
}

// TokenStore persists the session token.
type TokenStore interface {
	SetToken(ctx context.Context, token string) error
	Token(ctx context.Context) (string, error)
	DeleteToken(ctx context.Context) error
}

// State is the published authentication state.
type State struct {
	Authenticated bool
	Username      string
}

// Logout reasons carried by the LoggedOut event.
const (
	ReasonLogout         = "logout"
	ReasonAccountDeleted = "account_deleted"
	ReasonUnauthorized   = "unauthorized"
)

// Config holds the dependencies of the auth service.
type Config struct {
	API    API
	Tokens TokenStore
	Cache  *cache.Manager
	Bus    *events.Bus
	Log    *zerolog.Logger
	Now    func() time.Time
}

// Service orchestrates login, registration and logout.
type Service struct {
	api    API
	tokens TokenStore
	cache  *cache.Manager
	bus    *events.Bus
	log    zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	subs     map[int]chan State
	nextSub  int
	onLogout []func()
}

// New creates the auth service.
func New(cfg Config) *Service {
	log := utils.Log()
	if cfg.Log != nil {
		log = cfg.Log
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		api:    cfg.API,
		tokens: cfg.Tokens,
		cache:  cfg.Cache,
		bus:    cfg.Bus,
		log:    log.With().Str("component", "auth").Logger(),
		now:    now,
		subs:   make(map[int]chan State),
	}
}

// OnLogout registers fn to run after local session state is cleared.
// Feature loaders register their Reset here.
func (s *Service) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

// Restore derives the state from the stored token and username.
func (s *Service) Restore(ctx context.Context) State {
	st := State{Authenticated: s.IsAuthenticated(ctx)}
	if st.Authenticated {
		st.Username, _ = s.cache.String(ctx, cache.FlagUsername)
	}
	s.publish(st)
	return st
}

// State returns the last published state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel of state changes and an unsubscribe function.
func (s *Service) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan State, 1)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// IsAuthenticated reports whether a session token is available.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	token, err := s.tokens.Token(ctx)
	return err == nil && token != ""
}

// Login signs in and stores the session.
func (s *Service) Login(ctx context.Context, username, password string) (State, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return State{}, errors.New("username and password are required")
	}
	session, err := s.api.Login(ctx, username, password)
	if err != nil {
		return State{}, fmt.Errorf("login: %w", err)
	}
	return s.establish(ctx, session, username)
}

// Register creates an account and stores its session.
func (s *Service) Register(ctx context.Context, username, email, password string) (State, error) {
	username = strings.TrimSpace(username)
	if err := utils.ValidateUsername(username); err != nil {
		return State{}, err
	}
	if err := utils.ValidateEmail(email); err != nil {
		return State{}, err
	}
	if len(password) < 8 {
		return State{}, utils.WrapWithSuggestion(
			errors.New("password too short"),
			"Use at least 8 characters",
		)
	}
	session, err := s.api.Register(ctx, username, email, password)
	if err != nil {
		return State{}, fmt.Errorf("register: %w", err)
	}
	return s.establish(ctx, session, username)
}

// establish stores the token and username, then announces the login.
func (s *Service) establish(ctx context.Context, session *backend.Session, username string) (State, error) {
	if session == nil || session.Token == "" {
		return State{}, errors.New("server returned no session token")
	}
	if session.User.Username != "" {
		username = session.User.Username
	}

	// Cached data of another account must not be shown to this one.
	if previous, ok := s.cache.String(ctx, cache.FlagUsername); ok && !strings.EqualFold(previous, username) {
		if err := s.cache.ClearAll(ctx); err != nil {
			s.log.Warn().Err(err).Msg("clearing previous account cache failed")
		}
		s.resetLoaders()
	}

	if err := s.tokens.SetToken(ctx, session.Token); err != nil {
		return State{}, err
	}
	if err := s.cache.SetString(ctx, cache.FlagUsername, username); err != nil {
		s.log.Debug().Err(err).Msg("username flag not stored")
	}

	st := State{Authenticated: true, Username: username}
	s.publish(st)
	s.log.Info().Str("user", username).Msg("signed in")

	if s.bus != nil {
		if err := s.bus.Publish(events.TopicLoginCompleted, events.LoginCompleted{Username: username, At: s.now()}); err != nil {
			s.log.Warn().Err(err).Msg("login event not published")
		}
	}
	return st, nil
}

// Logout revokes the session on the server (best effort) and clears local state.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.api.Logout(ctx); err != nil {
		s.log.Debug().Err(err).Msg("server logout failed, clearing local session anyway")
	}
	return s.clear(ctx, ReasonLogout)
}

// DeleteAccount deletes the account on the server and clears local state.
// A server refusal keeps the session; a rejected token still clears it.
func (s *Service) DeleteAccount(ctx context.Context) error {
	if err := s.api.DeleteAccount(ctx); err != nil && !errors.Is(err, api.ErrUnauthorized) {
		return fmt.Errorf("delete account: %w", err)
	}
	return s.clear(ctx, ReasonAccountDeleted)
}

// HandleUnauthorized clears the session after the server rejected the token.
func (s *Service) HandleUnauthorized(ctx context.Context) {
	s.mu.Lock()
	wasAuthenticated := s.state.Authenticated
	s.mu.Unlock()

	if !wasAuthenticated && !s.IsAuthenticated(ctx) {
		return
	}
	s.log.Warn().Msg("session rejected by server, signing out")
	if err := s.clear(ctx, ReasonUnauthorized); err != nil {
		s.log.Warn().Err(err).Msg("clearing rejected session failed")
	}
}

// clear removes the cache (including the avatar file), the token and every
// loader's published state. A token that survives the delete comes from the
// environment and is reported as an error.
func (s *Service) clear(ctx context.Context, reason string) error {
	var errs []error
	if err := s.cache.ClearAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.tokens.DeleteToken(ctx); err != nil {
		errs = append(errs, err)
	} else if s.IsAuthenticated(ctx) {
		errs = append(errs, utils.ErrTokenFromEnvironment())
	}
	s.resetLoaders()
	s.publish(State{})

	if s.bus != nil {
		if err := s.bus.Publish(events.TopicLoggedOut, events.LoggedOut{Reason: reason, At: s.now()}); err != nil {
			s.log.Debug().Err(err).Msg("logout event not published")
		}
	}
	return errors.Join(errs...)
}

func (s *Service) resetLoaders() {
	s.mu.Lock()
	hooks := append([]func(){}, s.onLogout...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (s *Service) publish(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}
