package distribution_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/approval"
	"github.com/dmsystem/dms/internal/bizid"
	"github.com/dmsystem/dms/internal/device"
	"github.com/dmsystem/dms/internal/distribution"
	"github.com/dmsystem/dms/internal/notification"
	"github.com/dmsystem/dms/internal/notification/notificationtest"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/user"
)

type strictPolicy bool

func (p strictPolicy) StrictTransitions(context.Context) bool { return bool(p) }

type fixture struct {
	engine    *distribution.Engine
	ledger    *device.Ledger
	gateway   *approval.Gateway
	recorder  *notificationtest.Recorder
	admin     user.Actor
	recipient *user.User
}

func newFixture(t *testing.T, strict bool) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	ids := bizid.NewGenerator(s).WithClock(func() time.Time {
		return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	})
	rec := &notificationtest.Recorder{}

	users := user.NewService(user.ServiceConfig{Store: s, Logger: zerolog.Nop()})
	adminUser, err := users.Create(ctx, user.CreateInput{Email: "admin@example.com", Name: "Admin", Role: user.RoleAdmin})
	require.NoError(t, err)
	recipient, err := users.Create(ctx, user.CreateInput{Email: "dist@example.com", Name: "Dist One", Role: user.RoleDistributor})
	require.NoError(t, err)

	ledger := device.NewLedger(device.LedgerConfig{Store: s, IDs: ids, Logger: zerolog.Nop()})
	gateway := approval.NewGateway(approval.GatewayConfig{Store: s, Notifier: rec, Logger: zerolog.Nop()})
	engine := distribution.NewEngine(distribution.EngineConfig{
		Store:     s,
		Ledger:    ledger,
		Users:     users,
		Approvals: gateway,
		Notifier:  rec,
		IDs:       ids,
		Policy:    strictPolicy(strict),
		Logger:    zerolog.Nop(),
	})
	gateway.Register(approval.TypeDistribution, engine)

	return &fixture{
		engine:    engine,
		ledger:    ledger,
		gateway:   gateway,
		recorder:  rec,
		admin:     adminUser.Actor(),
		recipient: recipient,
	}
}

func (f *fixture) device(t *testing.T, serial string) *device.Device {
	t.Helper()
	d, err := f.ledger.Create(context.Background(), device.CreateInput{
		DeviceType:   device.TypeRouter,
		Model:        "AX3000",
		SerialNumber: serial,
		MACAddress:   "MAC-" + serial,
		Manufacturer: "TP-Link",
	}, f.admin)
	require.NoError(t, err)
	return d
}

func (f *fixture) create(t *testing.T, deviceIDs ...string) *distribution.Distribution {
	t.Helper()
	dist, err := f.engine.Create(context.Background(), distribution.CreateInput{
		ToUserID:  f.recipient.ID,
		DeviceIDs: deviceIDs,
	}, f.admin)
	require.NoError(t, err)
	return dist
}

func TestEngine_Create(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	d1 := f.device(t, "SN-1")
	d2 := f.device(t, "SN-2")

	dist := f.create(t, d1.ID, d2.ID)
	assert.Equal(t, "DIST-2024-0001", dist.DistributionID)
	assert.Equal(t, distribution.StatusPending, dist.Status)
	assert.Equal(t, 2, dist.DeviceCount)
	assert.Equal(t, device.HolderNOC, dist.FromUserType)
	assert.Equal(t, device.HolderDistributor, dist.ToUserType)
	assert.Equal(t, f.admin.ID, dist.CreatedBy)

	a, err := f.gateway.ForEntity(ctx, approval.TypeDistribution, dist.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, a.Status)
	assert.Equal(t, f.admin.ID, a.RequestedBy)

	msgs := f.recorder.For(f.recipient.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "New Distribution Request", msgs[0].Title)
	assert.Equal(t, "You have a new distribution request from Admin for 2 device(s)", msgs[0].Message)
	assert.Equal(t, "/distributions/"+dist.ID, msgs[0].Link)

	got, err := f.ledger.Get(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusAvailable, got.Status, "creating a distribution does not move devices")
}

func TestEngine_CreateIsAllOrNothing(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	d1 := f.device(t, "SN-1")
	d2 := f.device(t, "SN-2")
	_, err := f.ledger.SetStatus(ctx, d2.ID, device.StatusDefective, f.admin, "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   distribution.CreateInput
		message string
	}{
		{"no devices", distribution.CreateInput{ToUserID: f.recipient.ID}, "At least one device is required"},
		{"unknown recipient", distribution.CreateInput{ToUserID: "nobody", DeviceIDs: []string{d1.ID}}, "Recipient user not found"},
		{"unknown device", distribution.CreateInput{ToUserID: f.recipient.ID, DeviceIDs: []string{d1.ID, "missing"}}, "Device missing not found"},
		{"unavailable device", distribution.CreateInput{ToUserID: f.recipient.ID, DeviceIDs: []string{d1.ID, d2.ID}}, fmt.Sprintf("Device %s is not available", d2.DeviceID)},
		{"duplicate device", distribution.CreateInput{ToUserID: f.recipient.ID, DeviceIDs: []string{d1.ID, d1.ID}}, fmt.Sprintf("Device %s is listed more than once", d1.ID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Create(ctx, tt.input, f.admin)
			require.ErrorIs(t, err, apperror.ErrValidation)
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	page, err := f.engine.List(ctx, distribution.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Data)

	next := f.create(t, d1.ID)
	assert.Equal(t, "DIST-2024-0001", next.DistributionID, "rejected requests do not consume identifiers")
}

func TestEngine_DeliverHandsDevicesToRecipient(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	d := f.device(t, "SN-100")
	dist := f.create(t, d.ID)

	approved, err := f.engine.AdvanceStatus(ctx, dist.ID, distribution.StatusApproved, f.admin, "")
	require.NoError(t, err)
	assert.Equal(t, distribution.StatusApproved, approved.Status)
	assert.NotNil(t, approved.ApprovalDate)
	assert.Equal(t, f.admin.ID, approved.ApprovedBy)

	a, err := f.gateway.ForEntity(ctx, approval.TypeDistribution, dist.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, a.Status, "approval mirrors the distribution")

	delivered, err := f.engine.AdvanceStatus(ctx, dist.ID, distribution.StatusDelivered, f.admin, "")
	require.NoError(t, err)
	assert.NotNil(t, delivered.DeliveryDate)

	got, err := f.ledger.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusDistributed, got.Status)
	assert.Equal(t, f.recipient.ID, got.CurrentHolderID)
	assert.Equal(t, f.recipient.Name, got.CurrentHolderName)
	assert.Equal(t, device.HolderDistributor, got.CurrentHolderType)
	assert.Equal(t, f.recipient.Name, got.CurrentLocation)

	tracking, err := f.ledger.Track(ctx, "SN-100")
	require.NoError(t, err)
	require.Len(t, tracking.History, 2)
	latest := tracking.History[0]
	assert.Equal(t, device.ActionDistributed, latest.Action)
	assert.Equal(t, device.StatusAvailable, latest.StatusBefore)
	assert.Equal(t, device.StatusDistributed, latest.StatusAfter)
	assert.Equal(t, f.admin.ID, latest.FromUserID)
	assert.Equal(t, f.recipient.ID, latest.ToUserID)
	assert.Equal(t, "Distributed via "+dist.DistributionID, latest.Notes)

	msgs := f.recorder.For(f.admin.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Distribution Approved", msgs[0].Title)
	assert.Equal(t, "Distribution Delivered", msgs[1].Title)
	assert.Equal(t, "Your distribution request "+dist.DistributionID+" has been delivered", msgs[1].Message)
	assert.Equal(t, notification.TypeSuccess, msgs[1].Type)
}

func TestEngine_RejectMirrorsReason(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	dist := f.create(t, f.device(t, "SN-1").ID)

	rejected, err := f.engine.AdvanceStatus(ctx, dist.ID, distribution.StatusRejected, f.admin, "wrong recipient")
	require.NoError(t, err)
	assert.Equal(t, distribution.StatusRejected, rejected.Status)
	assert.Equal(t, "wrong recipient", rejected.Notes)

	a, err := f.gateway.ForEntity(ctx, approval.TypeDistribution, dist.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, a.Status)
	assert.Equal(t, "wrong recipient", a.RejectionReason)

	msgs := f.recorder.For(f.admin.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, notification.TypeWarning, msgs[0].Type)
}

func TestEngine_InTransitLabel(t *testing.T) {
	f := newFixture(t, false)
	dist := f.create(t, f.device(t, "SN-1").ID)

	_, err := f.engine.AdvanceStatus(context.Background(), dist.ID, distribution.StatusInTransit, f.admin, "")
	require.NoError(t, err)

	msgs := f.recorder.For(f.admin.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Distribution In Transit", msgs[0].Title)
	assert.Contains(t, msgs[0].Message, "has been in transit")
}

func TestEngine_StrictTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("open policy accepts any status", func(t *testing.T) {
		f := newFixture(t, false)
		dist := f.create(t, f.device(t, "SN-1").ID)
		_, err := f.engine.AdvanceStatus(ctx, dist.ID, distribution.StatusDelivered, f.admin, "")
		require.NoError(t, err)
		_, err = f.engine.AdvanceStatus(ctx, dist.ID, distribution.StatusPending, f.admin, "")
		assert.NoError(t, err)
	})

	t.Run("strict policy follows the table", func(t *testing.T) {
		f := newFixture(t, true)
		dist := f.create(t, f.device(t, "SN-1").ID)
		_, err := f.engine.AdvanceStatus(ctx, dist.ID, distribution.StatusInTransit, f.admin, "")
		assert.ErrorIs(t, err, apperror.ErrValidation)

		_, err = f.engine.AdvanceStatus(ctx, dist.ID, distribution.StatusApproved, f.admin, "")
		require.NoError(t, err)
		_, err = f.engine.AdvanceStatus(ctx, dist.ID, distribution.StatusInTransit, f.admin, "")
		require.NoError(t, err)
		_, err = f.engine.AdvanceStatus(ctx, dist.ID, distribution.StatusPending, f.admin, "")
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	_, err := newFixture(t, false).engine.AdvanceStatus(ctx, "missing", distribution.StatusApproved, user.Actor{}, "")
	assert.ErrorIs(t, err, distribution.ErrDistributionNotFound)
}

func TestEngine_Cancel(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	dist := f.create(t, f.device(t, "SN-1").ID)

	_, err := f.engine.Cancel(ctx, dist.ID, f.recipient.ID)
	require.ErrorIs(t, err, apperror.ErrValidation)
	assert.Contains(t, err.Error(), "Only the creator can cancel this distribution")

	cancelled, err := f.engine.Cancel(ctx, dist.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, distribution.StatusCancelled, cancelled.Status)

	_, err = f.gateway.ForEntity(ctx, approval.TypeDistribution, dist.ID)
	assert.ErrorIs(t, err, approval.ErrApprovalNotFound, "cancelling withdraws the approval")

	_, err = f.engine.Cancel(ctx, dist.ID, f.admin.ID)
	require.ErrorIs(t, err, apperror.ErrValidation)
	assert.Contains(t, err.Error(), "Only pending distributions can be cancelled")
}

func TestEngine_GatewayDecisions(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	d := f.device(t, "SN-1")
	dist := f.create(t, d.ID)

	a, err := f.gateway.ForEntity(ctx, approval.TypeDistribution, dist.ID)
	require.NoError(t, err)

	decided, err := f.gateway.Approve(ctx, a.ID, f.admin, "")
	require.NoError(t, err)
	assert.Equal(t, dist.DistributionID, decided.EntityDetails["distribution_id"])

	got, err := f.engine.Get(ctx, dist.ID)
	require.NoError(t, err)
	assert.Equal(t, distribution.StatusApproved, got.Status)
	assert.Equal(t, f.admin.Name, got.ApprovedByName)

	held, err := f.ledger.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusAvailable, held.Status)
	assert.Empty(t, held.CurrentHolderID, "approval alone does not move custody")
}

func TestEngine_DecisionDoesNotReviveCancelled(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	dist := f.create(t, f.device(t, "SN-1").ID)

	_, err := f.engine.Cancel(ctx, dist.ID, f.admin.ID)
	require.NoError(t, err)

	err = f.engine.ApplyDecision(ctx, dist.ID, approval.Decision{Status: approval.StatusApproved, Actor: f.admin, At: time.Now()})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	got, err := f.engine.Get(ctx, dist.ID)
	require.NoError(t, err)
	assert.Equal(t, distribution.StatusCancelled, got.Status)
}

func TestEngine_ListAndPending(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	first := f.create(t, f.device(t, "SN-1").ID)
	second := f.create(t, f.device(t, "SN-2").ID)

	_, err := f.engine.AdvanceStatus(ctx, first.ID, distribution.StatusApproved, f.admin, "")
	require.NoError(t, err)

	pending, err := f.engine.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	page, err := f.engine.List(ctx, distribution.ListOptions{Participant: f.recipient.ID})
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)

	page, err = f.engine.List(ctx, distribution.ListOptions{Participant: f.recipient.ID, Search: "0002"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, second.ID, page.Data[0].ID)

	page, err = f.engine.List(ctx, distribution.ListOptions{Participant: "stranger"})
	require.NoError(t, err)
	assert.Empty(t, page.Data)

	page, err = f.engine.List(ctx, distribution.ListOptions{Status: distribution.StatusApproved})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, first.ID, page.Data[0].ID)
}
