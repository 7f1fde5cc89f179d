package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/bizid"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/telemetry"
	"github.com/dmsystem/dms/internal/user"
)

// Record store collections owned by the ledger.
const (
	Collection        = "devices"
	HistoryCollection = "device_history"
)

// Ledger errors.
var (
	ErrDeviceNotFound = apperror.NotFound("device not found")
	ErrSerialExists   = apperror.Conflict("serial number already exists")
	ErrMACExists      = apperror.Conflict("MAC address already exists")
)

// Query limits.
const (
	HistoryLimit   = 100
	TrackingLimit  = 50
	AvailableLimit = 100
)

// Validation constants.
const (
	MaxModelLength        = 100
	MaxSerialLength       = 100
	MaxMACLength          = 50
	MaxManufacturerLength = 100
)

// LedgerConfig holds configuration for the device ledger.
type LedgerConfig struct {
	Store   store.Store
	IDs     *bizid.Generator
	Logger  zerolog.Logger
	Metrics *telemetry.WorkflowMetrics
}

// Ledger owns device records and their history. Devices are only mutated
// through its operations, and every status or holder change is logged.
type Ledger struct {
	store   store.Store
	ids     *bizid.Generator
	logger  zerolog.Logger
	metrics *telemetry.WorkflowMetrics
	now     func() time.Time
}

// NewLedger creates a new device ledger.
func NewLedger(cfg LedgerConfig) *Ledger {
	ids := cfg.IDs
	if ids == nil {
		ids = bizid.NewGenerator(cfg.Store)
	}
	return &Ledger{
		store:   cfg.Store,
		ids:     ids,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a device in the central stock.
func (l *Ledger) Create(ctx context.Context, input CreateInput, actor user.Actor) (*Device, error) {
	input.SerialNumber = strings.TrimSpace(input.SerialNumber)
	input.MACAddress = strings.TrimSpace(input.MACAddress)

	if fieldErrors := validateCreateInput(&input); len(fieldErrors) > 0 {
		return nil, &apperror.ValidationError{Errors: fieldErrors}
	}

	if err := l.ensureUnique(ctx, "serial_number", input.SerialNumber, ErrSerialExists); err != nil {
		return nil, err
	}
	if err := l.ensureUnique(ctx, "mac_address", input.MACAddress, ErrMACExists); err != nil {
		return nil, err
	}

	deviceID, err := l.ids.Next(ctx, bizid.DevicePrefix(string(input.DeviceType)))
	if err != nil {
		return nil, err
	}

	now := l.now()
	d := &Device{
		DeviceID:          deviceID,
		DeviceType:        input.DeviceType,
		Model:             input.Model,
		SerialNumber:      input.SerialNumber,
		MACAddress:        input.MACAddress,
		Manufacturer:      input.Manufacturer,
		Status:            StatusAvailable,
		CurrentLocation:   LocationNOC,
		CurrentHolderType: HolderNOC,
		PurchaseDate:      input.PurchaseDate,
		WarrantyExpiry:    input.WarrantyExpiry,
		Metadata:          input.Metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	doc, err := store.Encode(d)
	if err != nil {
		return nil, err
	}
	id, err := l.store.Insert(ctx, Collection, doc)
	if err != nil {
		return nil, err
	}
	d.ID = id

	l.appendHistory(ctx, &History{
		DeviceID:    id,
		Action:      ActionRegistered,
		StatusAfter: StatusAvailable,
		Location:    LocationNOC,
		Notes:       "Device registered in system",
	}, actor)

	l.logger.Info().
		Str("device_id", id).
		Str("business_id", deviceID).
		Str("serial_number", d.SerialNumber).
		Msg("device registered")

	return l.Get(ctx, id)
}

// Get retrieves a device by primary key.
func (l *Ledger) Get(ctx context.Context, id string) (*Device, error) {
	return l.findOne(ctx, store.ByID(id))
}

// GetBySerial retrieves a device by serial number.
func (l *Ledger) GetBySerial(ctx context.Context, serial string) (*Device, error) {
	return l.findOne(ctx, store.Where(store.Eq("serial_number", serial)))
}

// List returns a filtered page of devices, newest first.
func (l *Ledger) List(ctx context.Context, opts ListOptions) (*store.PageResult[*Device], error) {
	filter := store.Filter{}
	if opts.Status != "" {
		filter = filter.And(store.Eq("status", opts.Status))
	}
	if opts.DeviceType != "" {
		filter = filter.And(store.Eq("device_type", opts.DeviceType))
	}
	if opts.HolderID != "" {
		filter = filter.And(store.Eq("current_holder_id", opts.HolderID))
	}
	if opts.Search != "" {
		filter = filter.Or(
			store.Contains("device_id", opts.Search),
			store.Contains("serial_number", opts.Search),
			store.Contains("mac_address", opts.Search),
			store.Contains("model", opts.Search),
		)
	}
	return store.FindPage(ctx, l.store, Collection, filter, store.NewPage(opts.Page, opts.Size), decodeDevice)
}

// CountHeldBy counts the devices currently held by holderID.
func (l *Ledger) CountHeldBy(ctx context.Context, holderID string) (int64, error) {
	return l.store.Count(ctx, Collection, store.Where(store.Eq("current_holder_id", holderID)))
}

// HeldBy returns the devices currently held by holderID, at most
// AvailableLimit of them.
func (l *Ledger) HeldBy(ctx context.Context, holderID string) ([]*Device, error) {
	docs, err := l.store.Find(ctx, Collection, store.Where(store.Eq("current_holder_id", holderID)), store.FindOptions{Limit: AvailableLimit})
	if err != nil {
		return nil, err
	}
	return decodeDevices(docs)
}

// Available returns devices ready for distribution, optionally restricted to
// those held by holderID.
func (l *Ledger) Available(ctx context.Context, holderID string) ([]*Device, error) {
	filter := store.Where(store.Eq("status", StatusAvailable))
	if holderID != "" {
		filter = filter.And(store.Eq("current_holder_id", holderID))
	}
	docs, err := l.store.Find(ctx, Collection, filter, store.FindOptions{Limit: AvailableLimit})
	if err != nil {
		return nil, err
	}
	return decodeDevices(docs)
}

// Update changes descriptive attributes of a device. It writes no history.
func (l *Ledger) Update(ctx context.Context, id string, input UpdateInput) (*Device, error) {
	if input.DeviceType != nil && !input.DeviceType.Valid() {
		return nil, &apperror.ValidationError{Errors: []apperror.FieldError{{Field: "device_type", Message: "is not a valid device type"}}}
	}

	patch := store.Document{"updated_at": l.now()}
	if input.DeviceType != nil {
		patch["device_type"] = *input.DeviceType
	}
	if input.Model != nil {
		patch["model"] = *input.Model
	}
	if input.Manufacturer != nil {
		patch["manufacturer"] = *input.Manufacturer
	}
	if input.CurrentLocation != nil {
		patch["current_location"] = *input.CurrentLocation
	}
	if input.WarrantyExpiry != nil {
		patch["warranty_expiry"] = *input.WarrantyExpiry
	}
	if input.Metadata != nil {
		patch["metadata"] = input.Metadata
	}

	matched, err := l.store.UpdateOne(ctx, Collection, store.ByID(id), patch)
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrDeviceNotFound
	}
	return l.Get(ctx, id)
}

// Delete removes a device and its history.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	deleted, err := l.store.DeleteOne(ctx, Collection, store.ByID(id))
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrDeviceNotFound
	}

	if _, err := l.store.DeleteMany(ctx, HistoryCollection, store.Where(store.Eq("device_id", id))); err != nil {
		l.logger.Warn().Err(err).Str("device_id", id).Msg("failed to delete device history")
	}
	return nil
}

// SetStatus changes the status of a device and logs the transition.
// An empty note is replaced by a description of the change.
func (l *Ledger) SetStatus(ctx context.Context, id string, status Status, actor user.Actor, note string) (*Device, error) {
	if !status.Valid() {
		return nil, apperror.Validation("invalid device status %q", status)
	}

	before, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	matched, err := l.store.UpdateOne(ctx, Collection, store.ByID(id), store.Document{
		"status":     status,
		"updated_at": l.now(),
	})
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrDeviceNotFound
	}

	if note == "" {
		note = fmt.Sprintf("Status changed from %s to %s", before.Status, status)
	}
	l.appendHistory(ctx, &History{
		DeviceID:     id,
		Action:       ActionStatusChanged,
		StatusBefore: before.Status,
		StatusAfter:  status,
		Location:     before.CurrentLocation,
		Notes:        note,
	}, actor)
	l.metrics.RecordTransition(ctx, "device", string(status))

	return l.Get(ctx, id)
}

// SetHolder transfers custody of a device and logs the transfer.
// A change whose To.ID is empty returns the device to the central stock.
func (l *Ledger) SetHolder(ctx context.Context, id string, change HolderChange, actor user.Actor) (*Device, error) {
	if !change.Status.Valid() {
		return nil, apperror.Validation("invalid device status %q", change.Status)
	}
	if change.Action == "" {
		change.Action = ActionDistributed
	}

	before, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	patch := store.Document{
		"current_holder_id":   nil,
		"current_holder_name": nil,
		"current_holder_type": change.To.Type,
		"current_location":    change.Location,
		"status":              change.Status,
		"updated_at":          l.now(),
	}
	if change.To.ID != "" {
		patch["current_holder_id"] = change.To.ID
		patch["current_holder_name"] = change.To.Name
	}

	matched, err := l.store.UpdateOne(ctx, Collection, store.ByID(id), patch)
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrDeviceNotFound
	}

	l.appendHistory(ctx, &History{
		DeviceID:     id,
		Action:       change.Action,
		FromUserID:   change.From.ID,
		FromUserName: change.From.Name,
		ToUserID:     change.To.ID,
		ToUserName:   change.To.Name,
		StatusBefore: before.Status,
		StatusAfter:  change.Status,
		Location:     change.Location,
		Notes:        change.Note,
	}, actor)
	l.metrics.RecordTransition(ctx, "device", string(change.Status))

	return l.Get(ctx, id)
}

// Annotate appends a history entry that does not change the device,
// such as the details of a defect report.
func (l *Ledger) Annotate(ctx context.Context, entry *History, actor user.Actor) error {
	if _, err := l.Get(ctx, entry.DeviceID); err != nil {
		return err
	}
	return l.insertHistory(ctx, entry, actor)
}

// History returns the history of a device, newest first.
func (l *Ledger) History(ctx context.Context, id string) ([]*History, error) {
	return l.history(ctx, id, HistoryLimit)
}

// Track returns the device with the given serial number and its recent history.
func (l *Ledger) Track(ctx context.Context, serial string) (*Tracking, error) {
	d, err := l.GetBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	history, err := l.history(ctx, d.ID, TrackingLimit)
	if err != nil {
		return nil, err
	}
	return &Tracking{Device: d, History: history}, nil
}

// Stats counts devices per status.
func (l *Ledger) Stats(ctx context.Context) (*Stats, error) {
	count := func(status Status) (int64, error) {
		filter := store.Filter{}
		if status != "" {
			filter = store.Where(store.Eq("status", status))
		}
		return l.store.Count(ctx, Collection, filter)
	}

	var stats Stats
	targets := []struct {
		status Status
		dst    *int64
	}{
		{"", &stats.Total},
		{StatusAvailable, &stats.Available},
		{StatusDistributed, &stats.Distributed},
		{StatusInUse, &stats.InUse},
		{StatusDefective, &stats.Defective},
		{StatusReturned, &stats.Returned},
		{StatusMaintenance, &stats.Maintenance},
	}
	for _, t := range targets {
		n, err := count(t.status)
		if err != nil {
			return nil, err
		}
		*t.dst = n
	}
	return &stats, nil
}

func (l *Ledger) history(ctx context.Context, id string, limit int) ([]*History, error) {
	docs, err := l.store.Find(ctx, HistoryCollection, store.Where(store.Eq("device_id", id)), store.FindOptions{
		Limit:  limit,
		Newest: true,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*History, 0, len(docs))
	for _, doc := range docs {
		var h History
		if err := store.Decode(doc, &h); err != nil {
			return nil, err
		}
		entries = append(entries, &h)
	}
	return entries, nil
}

// appendHistory logs a transition after the device write has committed.
// A failure here cannot undo that write, so it is logged rather than returned.
func (l *Ledger) appendHistory(ctx context.Context, entry *History, actor user.Actor) {
	if err := l.insertHistory(ctx, entry, actor); err != nil {
		l.logger.Error().Err(err).
			Str("device_id", entry.DeviceID).
			Str("action", string(entry.Action)).
			Msg("failed to append device history")
	}
}

func (l *Ledger) insertHistory(ctx context.Context, entry *History, actor user.Actor) error {
	entry.ID = ""
	entry.PerformedBy = actor.ID
	entry.PerformedByName = actor.Name
	entry.Timestamp = l.now()

	doc, err := store.Encode(entry)
	if err != nil {
		return err
	}
	id, err := l.store.Insert(ctx, HistoryCollection, doc)
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

func (l *Ledger) ensureUnique(ctx context.Context, field, value string, conflict error) error {
	_, err := l.store.FindOne(ctx, Collection, store.Where(store.Eq(field, value)))
	if err == nil {
		return conflict
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (l *Ledger) findOne(ctx context.Context, filter store.Filter) (*Device, error) {
	doc, err := l.store.FindOne(ctx, Collection, filter)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return decodeDevice(doc)
}

func validateCreateInput(input *CreateInput) []apperror.FieldError {
	var errs []apperror.FieldError

	if !input.DeviceType.Valid() {
		errs = append(errs, apperror.FieldError{Field: "device_type", Message: "is not a valid device type"})
	}
	errs = appendLengthError(errs, "model", input.Model, MaxModelLength)
	errs = appendLengthError(errs, "serial_number", input.SerialNumber, MaxSerialLength)
	errs = appendLengthError(errs, "mac_address", input.MACAddress, MaxMACLength)
	errs = appendLengthError(errs, "manufacturer", input.Manufacturer, MaxManufacturerLength)

	return errs
}

func appendLengthError(errs []apperror.FieldError, field, value string, maxLen int) []apperror.FieldError {
	switch {
	case value == "":
		return append(errs, apperror.FieldError{Field: field, Message: "is required"})
	case len(value) > maxLen:
		return append(errs, apperror.FieldError{Field: field, Message: fmt.Sprintf("must be at most %d characters", maxLen)})
	}
	return errs
}

func decodeDevice(doc store.Document) (*Device, error) {
	var d Device
	if err := store.Decode(doc, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func decodeDevices(docs []store.Document) ([]*Device, error) {
	devices := make([]*Device, 0, len(docs))
	for _, doc := range docs {
		d, err := decodeDevice(doc)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}
