package api

import (
	"context"
	"net/http"
	"net/url"

	"codestreak/backend"
)

// =============================================================================
// Auth
// =============================================================================

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, username, password string) (*backend.Session, error) {
	var session backend.Session
	err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/auth/login",
		path:   "/api/auth/login",
		body:   loginRequest{Username: username, Password: password},
	}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Register creates an account and returns its first session.
func (c *Client) Register(ctx context.Context, username, email, password string) (*backend.Session, error) {
	var session backend.Session
	err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/auth/register",
		path:   "/api/auth/register",
		body:   registerRequest{Username: username, Email: email, Password: password},
	}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Logout revokes the current session on the server.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/auth/logout",
		path:   "/api/auth/logout",
		auth:   true,
	}, nil)
}

// DeleteAccount permanently deletes the signed-in account.
func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		route:  "/api/auth/account",
		path:   "/api/auth/account",
		auth:   true,
	}, nil)
}

// =============================================================================
// Home
// =============================================================================

// UserStats fetches the streak and progress summary.
func (c *Client) UserStats(ctx context.Context) (backend.UserStats, error) {
	return get[backend.UserStats](ctx, c, "/api/stats/user", "/api/stats/user", nil)
}

// SolveStats fetches solve counts by difficulty.
func (c *Client) SolveStats(ctx context.Context) (backend.SolveStats, error) {
	return get[backend.SolveStats](ctx, c, "/api/stats/solves", "/api/stats/solves", nil)
}

// RecentSolves fetches the most recent solves, newest first.
func (c *Client) RecentSolves(ctx context.Context) ([]backend.Solve, error) {
	return get[[]backend.Solve](ctx, c, "/api/solves/recent", "/api/solves/recent", nil)
}

// AchievementStats fetches the achievement catalog summary.
func (c *Client) AchievementStats(ctx context.Context) (backend.AchievementStats, error) {
	return get[backend.AchievementStats](ctx, c, "/api/achievements/stats", "/api/achievements/stats", nil)
}

// FreezeDates fetches the streak freeze calendar.
func (c *Client) FreezeDates(ctx context.Context) (backend.FreezeCalendar, error) {
	return get[backend.FreezeCalendar](ctx, c, "/api/freezes", "/api/freezes", nil)
}

type subscriptionResponse struct {
	Subscribed bool `json:"subscribed"`
}

// Subscription reports whether the account has an active subscription.
func (c *Client) Subscription(ctx context.Context) (bool, error) {
	resp, err := get[subscriptionResponse](ctx, c, "/api/subscription", "/api/subscription", nil)
	return resp.Subscribed, err
}

// =============================================================================
// Revisions
// =============================================================================

func modeQuery(mode backend.RevisionMode) url.Values {
	return url.Values{"mode": []string{string(mode)}}
}

// Revisions fetches the revisions of mode bucketed by due date.
func (c *Client) Revisions(ctx context.Context, mode backend.RevisionMode) (backend.GroupedRevisions, error) {
	return get[backend.GroupedRevisions](ctx, c, "/api/revisions", "/api/revisions", modeQuery(mode))
}

// RevisionStats fetches review progress for mode.
func (c *Client) RevisionStats(ctx context.Context, mode backend.RevisionMode) (backend.RevisionStats, error) {
	return get[backend.RevisionStats](ctx, c, "/api/revisions/stats", "/api/revisions/stats", modeQuery(mode))
}

type completeRevisionRequest struct {
	Quality int                  `json:"quality"`
	Mode    backend.RevisionMode `json:"mode"`
}

// CompleteRevision records a review of revision id with recall quality 0-5.
func (c *Client) CompleteRevision(ctx context.Context, id string, quality int, mode backend.RevisionMode) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/revisions/{id}/complete",
		path:   "/api/revisions/" + url.PathEscape(id) + "/complete",
		body:   completeRevisionRequest{Quality: quality, Mode: mode},
		auth:   true,
	}, nil)
}

// =============================================================================
// Friends
// =============================================================================

// Friends fetches the accepted friends.
func (c *Client) Friends(ctx context.Context) ([]backend.Friend, error) {
	return get[[]backend.Friend](ctx, c, "/api/friends", "/api/friends", nil)
}

// ReceivedRequests fetches pending requests sent to the user.
func (c *Client) ReceivedRequests(ctx context.Context) ([]backend.FriendRequest, error) {
	return get[[]backend.FriendRequest](ctx, c, "/api/friends/requests/received", "/api/friends/requests/received", nil)
}

// SentRequests fetches pending requests sent by the user.
func (c *Client) SentRequests(ctx context.Context) ([]backend.FriendRequest, error) {
	return get[[]backend.FriendRequest](ctx, c, "/api/friends/requests/sent", "/api/friends/requests/sent", nil)
}

// FriendStreaks fetches today's streak status of every friend.
func (c *Client) FriendStreaks(ctx context.Context) ([]backend.FriendStreak, error) {
	return get[[]backend.FriendStreak](ctx, c, "/api/friends/streaks", "/api/friends/streaks", nil)
}

type friendRequestBody struct {
	Username string `json:"username"`
}

// SendFriendRequest asks username to become a friend.
func (c *Client) SendFriendRequest(ctx context.Context, username string) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/friends/requests",
		path:   "/api/friends/requests",
		body:   friendRequestBody{Username: username},
		auth:   true,
	}, nil)
}

// AcceptRequest accepts a received friend request.
func (c *Client) AcceptRequest(ctx context.Context, id string) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/friends/requests/{id}/accept",
		path:   "/api/friends/requests/" + url.PathEscape(id) + "/accept",
		auth:   true,
	}, nil)
}

// RejectRequest rejects a received friend request.
func (c *Client) RejectRequest(ctx context.Context, id string) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/friends/requests/{id}/reject",
		path:   "/api/friends/requests/" + url.PathEscape(id) + "/reject",
		auth:   true,
	}, nil)
}

// CancelRequest withdraws a sent friend request.
func (c *Client) CancelRequest(ctx context.Context, id string) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		route:  "/api/friends/requests/{id}",
		path:   "/api/friends/requests/" + url.PathEscape(id),
		auth:   true,
	}, nil)
}

// RemoveFriend removes username from the friends list.
func (c *Client) RemoveFriend(ctx context.Context, username string) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		route:  "/api/friends/{username}",
		path:   "/api/friends/" + url.PathEscape(username),
		auth:   true,
	}, nil)
}

// =============================================================================
// Users
// =============================================================================

func userPath(username, resource string) string {
	return "/api/users/" + url.PathEscape(username) + "/" + resource
}

// UserProfile fetches the public profile of username.
func (c *Client) UserProfile(ctx context.Context, username string) (backend.Profile, error) {
	return get[backend.Profile](ctx, c, "/api/users/{username}/profile", userPath(username, "profile"), nil)
}

// UserSolves fetches the recent solves of username.
func (c *Client) UserSolves(ctx context.Context, username string) ([]backend.Solve, error) {
	return get[[]backend.Solve](ctx, c, "/api/users/{username}/solves", userPath(username, "solves"), nil)
}

// UserAchievements fetches the achievement summary of username.
func (c *Client) UserAchievements(ctx context.Context, username string) (backend.AchievementStats, error) {
	return get[backend.AchievementStats](ctx, c, "/api/users/{username}/achievements", userPath(username, "achievements"), nil)
}
