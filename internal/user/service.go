package user

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/store"
)

// Collection is the record store collection holding accounts.
const Collection = "users"

// Service errors.
var (
	ErrUserNotFound = apperror.NotFound("user not found")
	ErrEmailTaken   = apperror.Conflict("email already registered")
)

// Validation constants.
const (
	MinNameLength = 2
	MaxNameLength = 100
)

// ServiceConfig holds configuration for the user service.
type ServiceConfig struct {
	Store  store.Store
	Logger zerolog.Logger
}

// Service provides directory operations.
type Service struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
	refs   []Reference
}

// NewService creates a new user service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:  cfg.Store,
		logger: cfg.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new active account.
func (s *Service) Create(ctx context.Context, input CreateInput) (*User, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Name = strings.TrimSpace(input.Name)

	if fieldErrors := validateCreateInput(&input); len(fieldErrors) > 0 {
		return nil, &apperror.ValidationError{Errors: fieldErrors}
	}

	_, err := s.store.FindOne(ctx, Collection, store.Where(store.Eq("email", input.Email)))
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	u := &User{
		Email:      input.Email,
		Name:       input.Name,
		Role:       input.Role,
		Status:     StatusActive,
		Phone:      input.Phone,
		Department: input.Department,
		Location:   input.Location,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	doc, err := store.Encode(u)
	if err != nil {
		return nil, err
	}
	delete(doc, store.FieldID)

	id, err := s.store.Insert(ctx, Collection, doc)
	if err != nil {
		return nil, err
	}
	u.ID = id

	s.logger.Info().Str("user_id", id).Str("role", string(u.Role)).Msg("user created")
	return u, nil
}

// Get retrieves an account by ID.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	doc, err := s.store.FindOne(ctx, Collection, store.ByID(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return decode(doc)
}

// SetStatus changes the lifecycle status of an account.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (*User, error) {
	if !status.Valid() {
		return nil, &apperror.ValidationError{Errors: []apperror.FieldError{{Field: "status", Message: "is not a valid status"}}}
	}
	matched, err := s.store.UpdateOne(ctx, Collection, store.ByID(id), store.Document{
		"status":     status,
		"updated_at": s.now(),
	})
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrUserNotFound
	}
	return s.Get(ctx, id)
}

// GuardDeletes registers references Delete checks. It must be called
// before the service is shared.
func (s *Service) GuardDeletes(refs ...Reference) {
	s.refs = append(s.refs, refs...)
}

// Update changes the profile of an account. An empty update returns the
// account unchanged.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*User, error) {
	patch := store.Document{}
	var fieldErrors []apperror.FieldError

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if fe, ok := validateName(name); !ok {
			fieldErrors = append(fieldErrors, fe)
		}
		patch["name"] = name
	}
	if input.Phone != nil {
		patch["phone"] = *input.Phone
	}
	if input.Department != nil {
		patch["department"] = *input.Department
	}
	if input.Location != nil {
		patch["location"] = *input.Location
	}
	if input.Status != nil {
		if !input.Status.Valid() {
			fieldErrors = append(fieldErrors, apperror.FieldError{Field: "status", Message: "is not a valid status"})
		}
		patch["status"] = *input.Status
	}
	if len(fieldErrors) > 0 {
		return nil, &apperror.ValidationError{Errors: fieldErrors}
	}
	if len(patch) == 0 {
		return s.Get(ctx, id)
	}
	patch["updated_at"] = s.now()

	matched, err := s.store.UpdateOne(ctx, Collection, store.ByID(id), patch)
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrUserNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes an account that no open record refers to.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	for _, ref := range s.refs {
		n, err := ref.Count(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperror.Conflict("user still has %d open %s", n, ref.Kind)
		}
	}

	deleted, err := s.store.DeleteOne(ctx, Collection, store.ByID(id))
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrUserNotFound
	}
	s.logger.Info().Str("user_id", id).Msg("user deleted")
	return nil
}

// ListByRoles returns every account holding one of roles, oldest first.
func (s *Service) ListByRoles(ctx context.Context, roles ...Role) ([]*User, error) {
	docs, err := s.store.Find(ctx, Collection, store.Where(store.In("role", roles...)), store.FindOptions{})
	if err != nil {
		return nil, err
	}
	return decodeAll(docs)
}

// List returns a filtered page of accounts, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) (*store.PageResult[*User], error) {
	filter := store.Filter{}
	if opts.Role != "" {
		filter = filter.And(store.Eq("role", opts.Role))
	}
	if opts.Status != "" {
		filter = filter.And(store.Eq("status", opts.Status))
	}
	if opts.Search != "" {
		filter = filter.Or(store.Contains("name", opts.Search), store.Contains("email", opts.Search))
	}

	return store.FindPage(ctx, s.store, Collection, filter, store.NewPage(opts.Page, opts.Size), decode)
}

func validateCreateInput(input *CreateInput) []apperror.FieldError {
	var errs []apperror.FieldError

	if input.Email == "" {
		errs = append(errs, apperror.FieldError{Field: "email", Message: "is required"})
	} else if _, err := mail.ParseAddress(input.Email); err != nil {
		errs = append(errs, apperror.FieldError{Field: "email", Message: "must be a valid email address"})
	}

	if fe, ok := validateName(input.Name); !ok {
		errs = append(errs, fe)
	}

	if !input.Role.Valid() {
		errs = append(errs, apperror.FieldError{Field: "role", Message: "is not a valid role"})
	}

	return errs
}

func validateName(name string) (apperror.FieldError, bool) {
	switch {
	case len(name) < MinNameLength:
		return apperror.FieldError{Field: "name", Message: "must be at least 2 characters"}, false
	case len(name) > MaxNameLength:
		return apperror.FieldError{Field: "name", Message: "must be at most 100 characters"}, false
	}
	return apperror.FieldError{}, true
}

func decode(doc store.Document) (*User, error) {
	var u User
	if err := store.Decode(doc, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func decodeAll(docs []store.Document) ([]*User, error) {
	users := make([]*User, 0, len(docs))
	for _, doc := range docs {
		u, err := decode(doc)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}
