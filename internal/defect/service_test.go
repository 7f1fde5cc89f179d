package defect_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/approval"
	"github.com/dmsystem/dms/internal/bizid"
	"github.com/dmsystem/dms/internal/defect"
	"github.com/dmsystem/dms/internal/device"
	"github.com/dmsystem/dms/internal/notification"
	"github.com/dmsystem/dms/internal/notification/notificationtest"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/user"
)

type fixture struct {
	service  *defect.Service
	ledger   *device.Ledger
	recorder *notificationtest.Recorder
	store    store.Store
	admin    *user.User
	manager  *user.User
	operator *user.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	ids := bizid.NewGenerator(s).WithClock(func() time.Time {
		return time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	})
	rec := &notificationtest.Recorder{}

	users := user.NewService(user.ServiceConfig{Store: s, Logger: zerolog.Nop()})
	create := func(email, name string, role user.Role) *user.User {
		u, err := users.Create(ctx, user.CreateInput{Email: email, Name: name, Role: role})
		require.NoError(t, err)
		return u
	}

	ledger := device.NewLedger(device.LedgerConfig{Store: s, IDs: ids, Logger: zerolog.Nop()})
	return &fixture{
		service: defect.NewService(defect.ServiceConfig{
			Store:    s,
			Ledger:   ledger,
			Users:    users,
			Notifier: rec,
			IDs:      ids,
			Logger:   zerolog.Nop(),
		}),
		ledger:   ledger,
		recorder: rec,
		store:    s,
		admin:    create("admin@example.com", "Admin", user.RoleAdmin),
		manager:  create("mgr@example.com", "Manager", user.RoleManager),
		operator: create("op@example.com", "Operator", user.RoleOperator),
	}
}

func (f *fixture) device(t *testing.T, serial string) *device.Device {
	t.Helper()
	d, err := f.ledger.Create(context.Background(), device.CreateInput{
		DeviceType:   device.TypeSwitch,
		Model:        "S5720",
		SerialNumber: serial,
		MACAddress:   "MAC-" + serial,
		Manufacturer: "Huawei",
	}, f.admin.Actor())
	require.NoError(t, err)
	return d
}

func (f *fixture) report(t *testing.T, deviceID string, severity defect.Severity) *defect.Report {
	t.Helper()
	r, err := f.service.Create(context.Background(), defect.CreateInput{
		DeviceID:    deviceID,
		DefectType:  defect.TypeHardware,
		Severity:    severity,
		Description: "Port 3 does not link up",
		Images:      []string{"https://img.example.com/1.jpg"},
	}, f.operator.Actor())
	require.NoError(t, err)
	return r
}

func TestService_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "SN-1")

	r := f.report(t, d.ID, defect.SeverityHigh)
	assert.Equal(t, "DEF-2024-0001", r.ReportID)
	assert.Equal(t, defect.StatusReported, r.Status)
	assert.Equal(t, "SN-1", r.DeviceSerial)
	assert.Equal(t, device.TypeSwitch, r.DeviceType)
	assert.Equal(t, f.operator.ID, r.ReportedBy)
	assert.Len(t, r.Images, 1)

	got, err := f.ledger.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusDefective, got.Status)

	history, err := f.ledger.History(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, device.ActionDefectReported, history[0].Action)
	assert.Equal(t, "Defect: hardware - high", history[0].Notes)
	assert.Equal(t, device.StatusAvailable, history[0].StatusBefore)
	assert.Equal(t, device.StatusDefective, history[0].StatusAfter)
	assert.Equal(t, device.ActionStatusChanged, history[1].Action)
	assert.Equal(t, "Defect reported: "+r.ReportID, history[1].Notes)

	msgs := f.recorder.Messages()
	require.Len(t, msgs, 2, "one alert per admin and manager")
	assert.ElementsMatch(t, []string{f.admin.ID, f.manager.ID}, []string{msgs[0].UserID, msgs[1].UserID})
	for _, m := range msgs {
		assert.Equal(t, "New Defect Report", m.Title)
		assert.Equal(t, "A new high severity defect has been reported for device "+d.DeviceID, m.Message)
		assert.Equal(t, notification.TypeWarning, m.Type)
		assert.Equal(t, notification.CategoryDefect, m.Category)
	}

	_, err = f.store.FindOne(ctx, approval.Collection, store.Where(store.Eq("entity_id", r.ID)))
	assert.ErrorIs(t, err, store.ErrNotFound, "defect reports are not gated by approvals")
}

func TestService_CreateAlertSeverity(t *testing.T) {
	tests := []struct {
		severity defect.Severity
		want     notification.Type
	}{
		{defect.SeverityCritical, notification.TypeWarning},
		{defect.SeverityHigh, notification.TypeWarning},
		{defect.SeverityMedium, notification.TypeInfo},
		{defect.SeverityLow, notification.TypeInfo},
	}
	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			f := newFixture(t)
			f.report(t, f.device(t, "SN-1").ID, tt.severity)
			msgs := f.recorder.Messages()
			require.NotEmpty(t, msgs)
			assert.Equal(t, tt.want, msgs[0].Type)
		})
	}
}

func TestService_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "SN-1")

	tests := []struct {
		name  string
		input defect.CreateInput
		field string
	}{
		{"short description", defect.CreateInput{DeviceID: d.ID, DefectType: defect.TypeOther, Severity: defect.SeverityLow, Description: "broken"}, "description"},
		{"long description", defect.CreateInput{DeviceID: d.ID, DefectType: defect.TypeOther, Severity: defect.SeverityLow, Description: strings.Repeat("x", 1001)}, "description"},
		{"bad type", defect.CreateInput{DeviceID: d.ID, DefectType: "cosmic", Severity: defect.SeverityLow, Description: "Port 3 does not link up"}, "defect_type"},
		{"bad severity", defect.CreateInput{DeviceID: d.ID, DefectType: defect.TypeOther, Severity: "meh", Description: "Port 3 does not link up"}, "severity"},
		{"missing device", defect.CreateInput{DefectType: defect.TypeOther, Severity: defect.SeverityLow, Description: "Port 3 does not link up"}, "device_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Create(ctx, tt.input, f.operator.Actor())
			var verr *apperror.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Errors, 1)
			assert.Equal(t, tt.field, verr.Errors[0].Field)
		})
	}

	_, err := f.service.Create(ctx, defect.CreateInput{
		DeviceID:    "missing",
		DefectType:  defect.TypeOther,
		Severity:    defect.SeverityLow,
		Description: "Port 3 does not link up",
	}, f.operator.Actor())
	assert.ErrorIs(t, err, defect.ErrDeviceNotFound)

	got, err := f.ledger.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusAvailable, got.Status)
	assert.Empty(t, f.recorder.Messages())
}

func TestService_UpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.report(t, f.device(t, "SN-1").ID, defect.SeverityLow)
	f.recorder.Reset()

	updated, err := f.service.UpdateStatus(ctx, r.ID, defect.StatusUnderReview, f.manager.Actor(), "Bench test scheduled")
	require.NoError(t, err)
	assert.Equal(t, defect.StatusUnderReview, updated.Status)
	assert.Equal(t, "Bench test scheduled", updated.StatusNotes)

	stored, err := f.service.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bench test scheduled", stored.StatusNotes)

	updated, err = f.service.UpdateStatus(ctx, r.ID, defect.StatusReported, f.manager.Actor(), "")
	require.NoError(t, err)
	assert.Equal(t, defect.StatusReported, updated.Status, "status is overwritten without a transition table")
	assert.Empty(t, updated.StatusNotes)

	msgs := f.recorder.For(f.operator.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Defect Status Updated", msgs[0].Title)
	assert.Equal(t, "Your defect report "+r.ReportID+" status has been updated to under_review", msgs[0].Message)

	_, err = f.service.UpdateStatus(ctx, r.ID, "fixed", f.manager.Actor(), "")
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, err = f.service.UpdateStatus(ctx, "missing", defect.StatusResolved, f.manager.Actor(), "")
	assert.ErrorIs(t, err, defect.ErrReportNotFound)
}

func TestService_Resolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "SN-1")
	r := f.report(t, d.ID, defect.SeverityCritical)
	f.recorder.Reset()

	_, err := f.service.Resolve(ctx, r.ID, "fixed", f.manager.Actor())
	assert.ErrorIs(t, err, apperror.ErrValidation)

	resolved, err := f.service.Resolve(ctx, r.ID, "Replaced the faulty port module", f.manager.Actor())
	require.NoError(t, err)
	assert.Equal(t, defect.StatusResolved, resolved.Status)
	assert.Equal(t, "Replaced the faulty port module", resolved.Resolution)
	assert.Equal(t, f.manager.ID, resolved.ResolvedBy)
	assert.Equal(t, f.manager.Name, resolved.ResolvedByName)
	assert.NotNil(t, resolved.ResolvedAt)

	got, err := f.ledger.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusMaintenance, got.Status)

	history, err := f.ledger.History(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Defect resolved: "+r.ReportID, history[0].Notes)

	msgs := f.recorder.For(f.operator.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Defect Resolved", msgs[0].Title)
	assert.Equal(t, notification.TypeSuccess, msgs[0].Type)
}

func TestService_UpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.report(t, f.device(t, "SN-1").ID, defect.SeverityLow)

	severity := defect.SeverityMedium
	symptoms := "blinking red LED"
	updated, err := f.service.Update(ctx, r.ID, defect.UpdateInput{Severity: &severity, Symptoms: &symptoms})
	require.NoError(t, err)
	assert.Equal(t, defect.SeverityMedium, updated.Severity)
	assert.Equal(t, symptoms, updated.Symptoms)
	assert.Equal(t, r.Description, updated.Description)

	short := "bad"
	_, err = f.service.Update(ctx, r.ID, defect.UpdateInput{Description: &short})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.service.Update(ctx, "missing", defect.UpdateInput{Symptoms: &symptoms})
	assert.ErrorIs(t, err, defect.ErrReportNotFound)

	require.NoError(t, f.service.Delete(ctx, r.ID))
	assert.ErrorIs(t, f.service.Delete(ctx, r.ID), defect.ErrReportNotFound)
	_, err = f.service.Get(ctx, r.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestService_ApplyDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gateway := approval.NewGateway(approval.GatewayConfig{Store: f.store, Logger: zerolog.Nop()})
	gateway.Register(approval.TypeDefect, f.service)

	r := f.report(t, f.device(t, "SN-1").ID, defect.SeverityLow)
	a, err := gateway.Open(ctx, approval.OpenInput{Type: approval.TypeDefect, EntityID: r.ID, Requester: f.operator.Actor()})
	require.NoError(t, err)

	decided, err := gateway.Approve(ctx, a.ID, f.manager.Actor(), "")
	require.NoError(t, err)
	assert.Equal(t, r.ReportID, decided.EntityDetails["report_id"])

	got, err := f.service.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, defect.StatusApproved, got.Status)

	_, err = f.service.Resolve(ctx, r.ID, "Replaced the faulty port module", f.manager.Actor())
	require.NoError(t, err)
	err = f.service.ApplyDecision(ctx, r.ID, approval.Decision{Status: approval.StatusRejected, Actor: f.manager.Actor(), At: time.Now()})
	assert.ErrorIs(t, err, apperror.ErrConflict, "resolved reports keep their status")
}

func TestService_ListAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.report(t, f.device(t, "SN-1").ID, defect.SeverityCritical)
	f.report(t, f.device(t, "SN-2").ID, defect.SeverityLow)

	_, err := f.service.Resolve(ctx, first.ID, "Replaced the faulty port module", f.manager.Actor())
	require.NoError(t, err)

	page, err := f.service.List(ctx, defect.ListOptions{Search: "port 3"})
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)

	page, err = f.service.List(ctx, defect.ListOptions{Severity: defect.SeverityCritical, ReportedBy: f.operator.ID})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, first.ID, page.Data[0].ID)

	stats, err := f.service.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus[defect.StatusResolved])
	assert.Equal(t, int64(1), stats.ByStatus[defect.StatusReported])
	assert.Equal(t, int64(1), stats.BySeverity[defect.SeverityLow])
}
