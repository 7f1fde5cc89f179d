package operator

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/bizid"
	"github.com/dmsystem/dms/internal/device"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/user"
)

// Collection is the record store collection holding operators.
const Collection = "operators"

// Validation constants.
const (
	MinNameLength = 2
	MaxNameLength = 100
)

// Registry errors.
var (
	ErrOperatorNotFound = apperror.NotFound("operator not found")
	ErrOperatorInactive = apperror.Validation("Only active operators can receive devices")
	ErrNotHolder        = apperror.Validation("You can only assign devices you hold")
)

// Ledger is the part of the device ledger the registry uses.
type Ledger interface {
	Get(ctx context.Context, id string) (*device.Device, error)
	HeldBy(ctx context.Context, holderID string) ([]*device.Device, error)
	CountHeldBy(ctx context.Context, holderID string) (int64, error)
	SetHolder(ctx context.Context, id string, change device.HolderChange, actor user.Actor) (*device.Device, error)
}

// RegistryConfig holds configuration for the operator registry.
type RegistryConfig struct {
	Store  store.Store
	Ledger Ledger
	IDs    *bizid.Generator
	Logger zerolog.Logger
}

// Registry manages operators and the devices handed to them.
type Registry struct {
	store  store.Store
	ledger Ledger
	ids    *bizid.Generator
	logger zerolog.Logger
	now    func() time.Time
}

// NewRegistry creates a new operator registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	ids := cfg.IDs
	if ids == nil {
		ids = bizid.NewGenerator(cfg.Store)
	}
	return &Registry{
		store:  cfg.Store,
		ledger: cfg.Ledger,
		ids:    ids,
		logger: cfg.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create registers an active operator managed by creator.
func (r *Registry) Create(ctx context.Context, input CreateInput, creator user.Actor) (*Operator, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Phone = strings.TrimSpace(input.Phone)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))

	if fieldErrors := validateCreateInput(&input); len(fieldErrors) > 0 {
		return nil, &apperror.ValidationError{Errors: fieldErrors}
	}

	operatorID, err := r.ids.Next(ctx, bizid.PrefixOperator)
	if err != nil {
		return nil, err
	}

	now := r.now()
	o := &Operator{
		OperatorID:     operatorID,
		Name:           input.Name,
		Phone:          input.Phone,
		Email:          input.Email,
		Address:        input.Address,
		Area:           input.Area,
		City:           input.City,
		AssignedTo:     creator.ID,
		AssignedToName: creator.Name,
		Status:         StatusActive,
		ConnectionType: input.ConnectionType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	doc, err := encode(o)
	if err != nil {
		return nil, err
	}
	id, err := r.store.Insert(ctx, Collection, doc)
	if err != nil {
		return nil, err
	}
	o.ID = id

	r.logger.Info().
		Str("operator_id", id).
		Str("business_id", operatorID).
		Str("assigned_to", creator.ID).
		Msg("operator registered")
	return o, nil
}

// Get retrieves an operator with its current device count.
func (r *Registry) Get(ctx context.Context, id string) (*Operator, error) {
	doc, err := r.store.FindOne(ctx, Collection, store.ByID(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOperatorNotFound
		}
		return nil, err
	}
	return r.withDeviceCount(ctx, doc)
}

// Update changes the details or status of an operator.
func (r *Registry) Update(ctx context.Context, id string, input UpdateInput) (*Operator, error) {
	patch := store.Document{}
	var fieldErrors []apperror.FieldError

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		fieldErrors = appendNameError(fieldErrors, name)
		patch["name"] = name
	}
	if input.Phone != nil {
		phone := strings.TrimSpace(*input.Phone)
		if phone == "" {
			fieldErrors = append(fieldErrors, apperror.FieldError{Field: "phone", Message: "is required"})
		}
		patch["phone"] = phone
	}
	if input.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*input.Email))
		fieldErrors = appendEmailError(fieldErrors, email)
		patch["email"] = email
	}
	if input.Address != nil {
		patch["address"] = *input.Address
	}
	if input.Area != nil {
		patch["area"] = *input.Area
	}
	if input.City != nil {
		patch["city"] = *input.City
	}
	if input.ConnectionType != nil {
		if !input.ConnectionType.Valid() {
			fieldErrors = append(fieldErrors, apperror.FieldError{Field: "connection_type", Message: "is not a valid connection type"})
		}
		patch["connection_type"] = *input.ConnectionType
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
		return r.Get(ctx, id)
	}
	patch["updated_at"] = r.now()

	matched, err := r.store.UpdateOne(ctx, Collection, store.ByID(id), patch)
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrOperatorNotFound
	}
	return r.Get(ctx, id)
}

// Delete removes an operator that holds no devices.
func (r *Registry) Delete(ctx context.Context, id string) error {
	held, err := r.ledger.CountHeldBy(ctx, id)
	if err != nil {
		return err
	}
	if held > 0 {
		return apperror.Conflict("operator still holds %d devices", held)
	}

	deleted, err := r.store.DeleteOne(ctx, Collection, store.ByID(id))
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrOperatorNotFound
	}
	r.logger.Info().Str("operator_id", id).Msg("operator deleted")
	return nil
}

// Devices returns the devices the operator holds.
func (r *Registry) Devices(ctx context.Context, id string) ([]*device.Device, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return r.ledger.HeldBy(ctx, id)
}

// AssignDevice hands a device to an active operator and puts it in use.
// Accounts outside management may only hand over devices they hold.
func (r *Registry) AssignDevice(ctx context.Context, id, deviceID string, actor user.Actor) (*device.Device, error) {
	o, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusActive {
		return nil, ErrOperatorInactive
	}

	d, err := r.ledger.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsManagement() && d.CurrentHolderID != actor.ID {
		return nil, ErrNotHolder
	}
	if d.Status == device.StatusDefective || d.Status == device.StatusMaintenance {
		return nil, apperror.Validation("device %s is %s and cannot be assigned", d.DeviceID, d.Status)
	}

	assigned, err := r.ledger.SetHolder(ctx, d.ID, device.HolderChange{
		From:     device.Holder{ID: d.CurrentHolderID, Name: d.CurrentHolderName, Type: d.CurrentHolderType},
		To:       device.Holder{ID: o.ID, Name: o.Name, Type: device.HolderOperator},
		Location: o.Location(),
		Status:   device.StatusInUse,
		Note:     "Assigned to operator " + o.OperatorID,
	}, actor)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("operator_id", o.ID).
		Str("device_id", d.ID).
		Str("actor_id", actor.ID).
		Msg("device assigned to operator")
	return assigned, nil
}

// List returns a filtered page of operators, newest first.
func (r *Registry) List(ctx context.Context, opts ListOptions) (*store.PageResult[*Operator], error) {
	filter := store.Filter{}
	if opts.AssignedTo != "" {
		filter = filter.And(store.Eq("assigned_to", opts.AssignedTo))
	}
	if opts.Status != "" {
		filter = filter.And(store.Eq("status", opts.Status))
	}
	if opts.Search != "" {
		filter = filter.Or(
			store.Contains("name", opts.Search),
			store.Contains("phone", opts.Search),
			store.Contains("email", opts.Search),
			store.Contains("area", opts.Search),
		)
	}
	decode := func(doc store.Document) (*Operator, error) {
		return r.withDeviceCount(ctx, doc)
	}
	return store.FindPage(ctx, r.store, Collection, filter, store.NewPage(opts.Page, opts.Size), decode)
}

// Stats counts operators, optionally only those managed by assignedTo.
func (r *Registry) Stats(ctx context.Context, assignedTo string) (*Stats, error) {
	base := store.Filter{}
	if assignedTo != "" {
		base = store.Where(store.Eq("assigned_to", assignedTo))
	}

	var stats Stats
	var err error
	if stats.Total, err = r.store.Count(ctx, Collection, base); err != nil {
		return nil, err
	}
	if stats.Active, err = r.store.Count(ctx, Collection, base.And(store.Eq("status", StatusActive))); err != nil {
		return nil, err
	}
	if stats.Inactive, err = r.store.Count(ctx, Collection, base.And(store.Eq("status", StatusInactive))); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CountAssignedTo counts the operators managed by userID.
func (r *Registry) CountAssignedTo(ctx context.Context, userID string) (int64, error) {
	return r.store.Count(ctx, Collection, store.Where(store.Eq("assigned_to", userID)))
}

func (r *Registry) withDeviceCount(ctx context.Context, doc store.Document) (*Operator, error) {
	var o Operator
	if err := store.Decode(doc, &o); err != nil {
		return nil, err
	}
	n, err := r.ledger.CountHeldBy(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.DeviceCount = n
	return &o, nil
}

func validateCreateInput(input *CreateInput) []apperror.FieldError {
	errs := appendNameError(nil, input.Name)
	if input.Phone == "" {
		errs = append(errs, apperror.FieldError{Field: "phone", Message: "is required"})
	}
	errs = appendEmailError(errs, input.Email)
	if input.ConnectionType != "" && !input.ConnectionType.Valid() {
		errs = append(errs, apperror.FieldError{Field: "connection_type", Message: "is not a valid connection type"})
	}
	return errs
}

func appendNameError(errs []apperror.FieldError, name string) []apperror.FieldError {
	if n := len(name); n < MinNameLength || n > MaxNameLength {
		return append(errs, apperror.FieldError{
			Field:   "name",
			Message: fmt.Sprintf("must be between %d and %d characters", MinNameLength, MaxNameLength),
		})
	}
	return errs
}

func appendEmailError(errs []apperror.FieldError, email string) []apperror.FieldError {
	if email == "" {
		return errs
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return append(errs, apperror.FieldError{Field: "email", Message: "must be a valid email address"})
	}
	return errs
}

// encode drops the primary key and the derived device count.
func encode(o *Operator) (store.Document, error) {
	doc, err := store.Encode(o)
	if err != nil {
		return nil, err
	}
	delete(doc, store.FieldID)
	delete(doc, "device_count")
	return doc, nil
}
