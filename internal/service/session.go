package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"magicart-access-api/internal/model"
)

// Session is the single current session of this process. It binds the engine
// to the instance identity and tracks who is signed in and which tool is active.
type Session struct {
	engine   *AccessEngine
	identity *IdentityResolver
	delay    time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	current string
	tool    model.ToolID
}

// NewSession creates an anonymous session. delay simulates key verification
// before each redemption.
func NewSession(engine *AccessEngine, identity *IdentityResolver, delay time.Duration, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		engine:   engine,
		identity: identity,
		delay:    delay,
		logger:   logger.With(slog.String("component", "session")),
		tool:     model.DefaultTool,
	}
}

// Identity returns the instance surrogates.
func (s *Session) Identity(ctx context.Context) (model.Identity, error) {
	return s.identity.Resolve(ctx)
}

// Register creates an account from this instance and signs it in.
func (s *Session) Register(ctx context.Context, username, secret string) (*model.Account, error) {
	id, err := s.identity.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	account, err := s.engine.Register(ctx, username, secret, id)
	if err != nil {
		return nil, err
	}
	s.signIn(account.Username)
	return account, nil
}

// Login signs in an existing account.
func (s *Session) Login(ctx context.Context, username, secret string) (*model.Account, error) {
	account, err := s.engine.Login(ctx, username, secret)
	if err != nil {
		return nil, err
	}
	s.signIn(account.Username)
	return account, nil
}

func (s *Session) signIn(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = username
	s.logger.Info("session started", slog.String("username", username))
}

// Logout returns the session to anonymous and resets the active tool.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != "" {
		s.logger.Info("session ended", slog.String("username", s.current))
	}
	s.current = ""
	s.tool = model.DefaultTool
}

// Username returns the signed-in username, or "" when anonymous.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Current returns the signed-in account, or nil when anonymous.
func (s *Session) Current(ctx context.Context) (*model.Account, error) {
	username := s.Username()
	if username == "" {
		return nil, nil
	}
	return s.engine.Account(ctx, username)
}

// IssueKey creates a license key. Only admin accounts may call it.
func (s *Session) IssueKey(ctx context.Context, tier model.Tier, boundUsername string) (*model.LicenseKey, error) {
	username := s.Username()
	if username == "" {
		return nil, ErrNotLoggedIn
	}
	return s.engine.IssueKey(ctx, username, tier, boundUsername)
}

// RedeemKey waits the verification delay and redeems value for the signed-in
// account. Once started it runs to completion even if ctx is cancelled.
func (s *Session) RedeemKey(ctx context.Context, value string) (model.Tier, error) {
	ctx = context.WithoutCancel(ctx)

	username := s.Username()
	if username == "" {
		return model.TierFree, ErrNotLoggedIn
	}
	id, err := s.identity.Resolve(ctx)
	if err != nil {
		return model.TierFree, err
	}

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.engine.RedeemKey(ctx, username, id, value)
}

// AdminBan bans target on behalf of the signed-in admin.
func (s *Session) AdminBan(ctx context.Context, target string) error {
	username := s.Username()
	if username == "" {
		return ErrNotLoggedIn
	}
	return s.engine.AdminBan(ctx, username, target)
}

// GateTool decides whether the session may use tool.
func (s *Session) GateTool(ctx context.Context, tool model.ToolID) (model.GateDecision, error) {
	account, id, err := s.state(ctx)
	if err != nil {
		return model.GateDenied, err
	}
	return s.engine.GateTool(ctx, account, id, tool)
}

// SelectTool makes tool active when the gate allows it.
func (s *Session) SelectTool(ctx context.Context, tool model.ToolID) (model.GateDecision, error) {
	decision, err := s.GateTool(ctx, tool)
	if err != nil || decision != model.GateAllowed {
		return decision, err
	}

	s.mu.Lock()
	s.tool = tool
	s.mu.Unlock()
	return decision, nil
}

// ActiveTool returns the selected tool.
func (s *Session) ActiveTool() model.ToolID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tool
}

// CurrentBanStatus evaluates bans for the session. Anonymous sessions are still
// subject to hardware bans.
func (s *Session) CurrentBanStatus(ctx context.Context) (model.BanStatus, error) {
	account, id, err := s.state(ctx)
	if err != nil {
		return model.BanStatus{}, err
	}
	return s.engine.BanStatus(ctx, account, id)
}

// AnonymousBanStatus evaluates only the hardware bans of this instance, the
// view of a caller that has not proven it is the signed-in account.
func (s *Session) AnonymousBanStatus(ctx context.Context) (model.BanStatus, error) {
	id, err := s.identity.Resolve(ctx)
	if err != nil {
		return model.BanStatus{}, err
	}
	return s.engine.BanStatus(ctx, nil, id)
}

// AnonymousGateTool decides tool for an anonymous session on this instance.
func (s *Session) AnonymousGateTool(ctx context.Context, tool model.ToolID) (model.GateDecision, error) {
	id, err := s.identity.Resolve(ctx)
	if err != nil {
		return model.GateDenied, err
	}
	return s.engine.GateTool(ctx, nil, id, tool)
}

func (s *Session) state(ctx context.Context) (*model.Account, model.Identity, error) {
	id, err := s.identity.Resolve(ctx)
	if err != nil {
		return nil, model.Identity{}, err
	}
	account, err := s.Current(ctx)
	if err != nil {
		return nil, model.Identity{}, err
	}
	return account, id, nil
}
