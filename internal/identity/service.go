package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	pkgAuth "github.com/lapor-warga/portal-backend/pkg/auth"
	"github.com/lapor-warga/portal-backend/pkg/auth/session"
	"github.com/lapor-warga/portal-backend/pkg/config"
	"github.com/lapor-warga/portal-backend/pkg/db"
	"github.com/lapor-warga/portal-backend/pkg/db/models"
	pkgerrors "github.com/lapor-warga/portal-backend/pkg/errors"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/lapor-warga/portal-backend/pkg/security"
)

const invalidCredentialsMessage = "invalid credentials"

type accountStore interface {
	Create(ctx context.Context, account *models.IdentityAccount) error
	FindByEmail(ctx context.Context, email string) (*models.IdentityAccount, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.IdentityAccount, error)
	UpdateEmail(ctx context.Context, id uuid.UUID, email string) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	UpdateLastSignIn(ctx context.Context, id uuid.UUID, at time.Time) error
}

type sessionStore interface {
	Generate(ctx context.Context, accessID, identityID string) (string, error)
	Lookup(ctx context.Context, accessID string) (session.Record, error)
	RotateBound(ctx context.Context, clientID string) (string, error)
	Revoke(ctx context.Context, accessID string) error
	Bind(ctx context.Context, clientID, accessID string) error
	Bound(ctx context.Context, clientID string) (string, error)
	Unbind(ctx context.Context, clientID string) error
}

// ServiceParams bundles the dependencies required to build the identity service.
type ServiceParams struct {
	Accounts       accountStore
	Sessions       sessionStore
	Publisher      Publisher
	JWTConfig      config.JWTConfig
	PasswordConfig config.PasswordConfig
	Logger         *logger.Logger
	Now            func() time.Time
	EventBuffer    int
}

// Service is the local identity provider shared by every client.
type Service struct {
	accounts    accountStore
	sessions    sessionStore
	publisher   Publisher
	jwtCfg      config.JWTConfig
	passwordCfg config.PasswordConfig
	logg        *logger.Logger
	now         func() time.Time
	eventBuffer int
	validate    *validator.Validate
}

// NewService constructs the identity service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Accounts == nil {
		return nil, fmt.Errorf("account repository is required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	publisher := params.Publisher
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	buffer := params.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Service{
		accounts:    params.Accounts,
		sessions:    params.Sessions,
		publisher:   publisher,
		jwtCfg:      params.JWTConfig,
		passwordCfg: params.PasswordConfig,
		logg:        params.Logger,
		now:         now,
		eventBuffer: buffer,
		validate:    validator.New(),
	}, nil
}

// Client returns a provider bound to one client. Each call creates an
// independent event stream; callers own the returned client and must Close it.
func (s *Service) Client(clientID string) (*Client, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "client id is required")
	}
	return &Client{
		svc:      s,
		clientID: clientID,
		events:   newDispatcher(s.eventBuffer),
	}, nil
}

func (s *Service) normalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(normalized, "required,email"); err != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "a valid email is required")
	}
	return normalized, nil
}

func (s *Service) authenticate(ctx context.Context, email, password string) (*models.IdentityAccount, error) {
	input := strings.ToLower(strings.TrimSpace(email))
	if input == "" || password == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	account, err := s.accounts.FindByEmail(ctx, input)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup account")
	}

	valid, err := security.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	if security.NeedsRehash(account.PasswordHash, s.passwordCfg) {
		s.rehash(ctx, account, password)
	}
	return account, nil
}

// rehash upgrades a stored hash to the current cost settings. Failure leaves
// the old hash in place; it still verifies.
func (s *Service) rehash(ctx context.Context, account *models.IdentityAccount, password string) {
	ctx = s.logg.WithIdentityID(ctx, account.ID.String())
	hash, err := security.HashPassword(password, s.passwordCfg)
	if err == nil {
		err = s.accounts.UpdatePasswordHash(ctx, account.ID, hash)
	}
	if err != nil {
		s.logg.Warn(ctx, "identity.rehash_failed: "+err.Error())
		return
	}
	account.PasswordHash = hash
}

func (s *Service) register(ctx context.Context, input SignUpInput) (*models.IdentityAccount, error) {
	email, err := s.normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if err := security.ValidatePassword(input.Password); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}

	if _, err := s.accounts.FindByEmail(ctx, email); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
	} else if !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check account email")
	}

	passwordHash, err := security.HashPassword(input.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	account := &models.IdentityAccount{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Metadata: models.AccountMetadata{
			FullName:   strings.TrimSpace(input.Metadata.FullName),
			NationalID: strings.TrimSpace(input.Metadata.NationalID),
			Address:    strings.TrimSpace(input.Metadata.Address),
			Phone:      strings.TrimSpace(input.Metadata.Phone),
		},
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create account")
	}

	event := CreatedEvent{
		EventID:    uuid.New(),
		IdentityID: account.ID,
		Email:      account.Email,
		Metadata:   identityFromModel(account).Metadata,
		OccurredAt: s.now(),
	}
	if err := s.publisher.PublishIdentityCreated(ctx, event); err != nil {
		// the reconciler synthesizes the profile when provisioning never runs
		s.logg.Error(s.logg.WithIdentityID(ctx, account.ID.String()), "identity.created publish failed", err)
	}
	return account, nil
}

// openSession starts a session for the account and pins it to the client.
func (s *Service) openSession(ctx context.Context, clientID string, account *models.IdentityAccount) (*Session, error) {
	now := s.now()
	accessID := session.NewAccessID()
	if _, err := s.sessions.Generate(ctx, accessID, account.ID.String()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store session")
	}
	if err := s.sessions.Bind(ctx, clientID, accessID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind session")
	}
	if err := s.accounts.UpdateLastSignIn(ctx, account.ID, now); err != nil {
		s.logg.Warn(s.logg.WithIdentityID(ctx, account.ID.String()), "update last sign-in failed: "+err.Error())
	}
	return s.sessionFor(account, clientID, accessID, now)
}

// restore rebuilds the session pinned to the client, or returns nil when there is none.
func (s *Service) restore(ctx context.Context, clientID string) (*Session, error) {
	accessID, err := s.sessions.Bound(ctx, clientID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read session binding")
	}

	rec, err := s.sessions.Lookup(ctx, accessID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.dropBinding(ctx, clientID, "")
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read session")
	}

	identityID, err := uuid.Parse(rec.IdentityID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode session identity")
	}
	account, err := s.accounts.FindByID(ctx, identityID)
	if err != nil {
		if db.IsNotFound(err) {
			s.dropBinding(ctx, clientID, accessID)
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load account")
	}
	return s.sessionFor(account, clientID, accessID, s.now())
}

// dropBinding clears a binding whose session or account is gone. Failures
// only leave a dangling key that the next restore tries again.
func (s *Service) dropBinding(ctx context.Context, clientID, accessID string) {
	logCtx := s.logg.WithClientID(ctx, clientID)
	if accessID != "" {
		if err := s.sessions.Revoke(ctx, accessID); err != nil {
			s.logg.Warn(logCtx, "revoke orphaned session failed: "+err.Error())
		}
	}
	if err := s.sessions.Unbind(ctx, clientID); err != nil {
		s.logg.Warn(logCtx, "unbind stale session failed: "+err.Error())
	}
}

func (s *Service) sessionFor(account *models.IdentityAccount, clientID, accessID string, now time.Time) (*Session, error) {
	token, expiresAt, err := pkgAuth.MintAccessToken(s.jwtCfg, now, pkgAuth.AccessTokenPayload{
		IdentityID: account.ID,
		Email:      account.Email,
		ClientID:   clientID,
		JTI:        accessID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	return &Session{
		Identity:    identityFromModel(account),
		AccessID:    accessID,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}, nil
}
