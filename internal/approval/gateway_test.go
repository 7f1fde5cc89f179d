package approval_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/approval"
	"github.com/dmsystem/dms/internal/notification"
	"github.com/dmsystem/dms/internal/notification/notificationtest"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/user"
)

var (
	requester = user.Actor{ID: "dist-1", Name: "Dist One", Role: user.RoleDistributor}
	manager   = user.Actor{ID: "mgr-1", Name: "Manager", Role: user.RoleManager}
)

type fakeTarget struct {
	mu        sync.Mutex
	decisions map[string][]approval.Decision
	err       error
}

func (f *fakeTarget) ApplyDecision(_ context.Context, entityID string, d approval.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decisions == nil {
		f.decisions = make(map[string][]approval.Decision)
	}
	f.decisions[entityID] = append(f.decisions[entityID], d)
	return f.err
}

func (f *fakeTarget) Describe(_ context.Context, entityID string, full bool) (map[string]any, error) {
	if entityID == "gone" {
		return nil, apperror.NotFound("entity not found")
	}
	return map[string]any{"entity": entityID, "full": full}, nil
}

func newGateway(t *testing.T) (*approval.Gateway, *fakeTarget, *notificationtest.Recorder) {
	t.Helper()
	rec := &notificationtest.Recorder{}
	g := approval.NewGateway(approval.GatewayConfig{
		Store:    store.NewMemoryStore(),
		Notifier: rec,
		Logger:   zerolog.Nop(),
	})
	target := &fakeTarget{}
	g.Register(approval.TypeDistribution, target)
	g.Register(approval.TypeReturn, target)
	return g, target, rec
}

func open(t *testing.T, g *approval.Gateway, typ approval.Type, entityID string) *approval.Approval {
	t.Helper()
	a, err := g.Open(context.Background(), approval.OpenInput{Type: typ, EntityID: entityID, Requester: requester})
	require.NoError(t, err)
	return a
}

func TestGateway_Open(t *testing.T) {
	g, _, _ := newGateway(t)

	a := open(t, g, approval.TypeDistribution, "d1")
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, approval.StatusPending, a.Status)
	assert.Equal(t, approval.PriorityMedium, a.Priority)
	assert.Equal(t, "distribution", a.EntityType)
	assert.Equal(t, requester.ID, a.RequestedBy)

	_, err := g.Open(context.Background(), approval.OpenInput{Type: "purchase", EntityID: "x", Requester: requester})
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, err = g.Open(context.Background(), approval.OpenInput{Type: approval.TypeReturn, Requester: requester})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestGateway_Approve(t *testing.T) {
	g, target, rec := newGateway(t)
	ctx := context.Background()
	a := open(t, g, approval.TypeDistribution, "d1")

	approved, err := g.Approve(ctx, a.ID, manager, "looks good")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, approved.Status)
	assert.Equal(t, manager.ID, approved.ApprovedBy)
	assert.Equal(t, manager.Name, approved.ApprovedByName)
	assert.NotNil(t, approved.ApprovalDate)
	assert.Equal(t, "looks good", approved.Notes)
	assert.Equal(t, map[string]any{"entity": "d1", "full": true}, approved.EntityDetails)

	require.Len(t, target.decisions["d1"], 1)
	assert.Equal(t, approval.StatusApproved, target.decisions["d1"][0].Status)
	assert.Equal(t, manager, target.decisions["d1"][0].Actor)

	msgs := rec.For(requester.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Request Approved", msgs[0].Title)
	assert.Equal(t, "Your distribution request has been approved by Manager", msgs[0].Message)
	assert.Equal(t, notification.TypeSuccess, msgs[0].Type)
	assert.Equal(t, notification.CategoryApproval, msgs[0].Category)
}

func TestGateway_ApproveTwiceConflicts(t *testing.T) {
	g, target, rec := newGateway(t)
	ctx := context.Background()
	a := open(t, g, approval.TypeDistribution, "d1")

	_, err := g.Approve(ctx, a.ID, manager, "")
	require.NoError(t, err)

	_, err = g.Approve(ctx, a.ID, manager, "")
	assert.ErrorIs(t, err, approval.ErrAlreadyProcessed)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	_, err = g.Reject(ctx, a.ID, manager, "late", "")
	assert.ErrorIs(t, err, apperror.ErrConflict)

	assert.Len(t, target.decisions["d1"], 1, "entity must not see a second decision")
	assert.Len(t, rec.Messages(), 1)
}

func TestGateway_ConcurrentDecisionsOnlyOneWins(t *testing.T) {
	g, target, _ := newGateway(t)
	a := open(t, g, approval.TypeReturn, "r1")

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = g.Approve(context.Background(), a.ID, manager, "")
			} else {
				_, err = g.Reject(context.Background(), a.ID, manager, "no", "")
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperror.ErrConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, racers-1, conflicts)
	assert.Len(t, target.decisions["r1"], 1)
}

func TestGateway_Reject(t *testing.T) {
	g, target, rec := newGateway(t)
	ctx := context.Background()
	a := open(t, g, approval.TypeReturn, "r1")

	rejected, err := g.Reject(ctx, a.ID, manager, "not eligible", "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, rejected.Status)
	assert.Equal(t, "not eligible", rejected.RejectionReason)

	require.Len(t, target.decisions["r1"], 1)
	assert.Equal(t, "not eligible", target.decisions["r1"][0].Reason)

	msgs := rec.For(requester.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Request Rejected", msgs[0].Title)
	assert.Equal(t, "Your return request has been rejected by Manager. Reason: not eligible", msgs[0].Message)
	assert.Equal(t, notification.TypeError, msgs[0].Type)
}

func TestGateway_RejectWithoutReason(t *testing.T) {
	g, _, rec := newGateway(t)
	a := open(t, g, approval.TypeReturn, "r1")

	rejected, err := g.Reject(context.Background(), a.ID, manager, "", "")
	require.NoError(t, err)
	assert.Equal(t, approval.NoReason, rejected.RejectionReason)
	assert.Contains(t, rec.Messages()[0].Message, "Reason: No reason provided")

	stored, err := g.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.NoReason, stored.RejectionReason)
}

func TestGateway_DecisionSurvivesTargetFailure(t *testing.T) {
	g, target, rec := newGateway(t)
	target.err = errors.New("store unavailable")
	a := open(t, g, approval.TypeDistribution, "d1")

	approved, err := g.Approve(context.Background(), a.ID, manager, "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, approved.Status)
	assert.Len(t, rec.Messages(), 1)
}

func TestGateway_NotFound(t *testing.T) {
	g, _, _ := newGateway(t)

	_, err := g.Approve(context.Background(), "missing", manager, "")
	assert.ErrorIs(t, err, approval.ErrApprovalNotFound)

	_, err = g.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestGateway_WithdrawAndMirror(t *testing.T) {
	g, _, _ := newGateway(t)
	ctx := context.Background()
	a := open(t, g, approval.TypeDistribution, "d1")
	b := open(t, g, approval.TypeDistribution, "d2")

	require.NoError(t, g.Withdraw(ctx, approval.TypeDistribution, "d1"))
	_, err := g.Get(ctx, a.ID)
	assert.ErrorIs(t, err, approval.ErrApprovalNotFound)

	changed, err := g.Mirror(ctx, approval.TypeDistribution, "d2", approval.Decision{
		Status: approval.StatusRejected,
		Actor:  manager,
		Reason: "wrong recipient",
	})
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := g.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, got.Status)
	assert.Equal(t, "wrong recipient", got.RejectionReason)

	changed, err = g.Mirror(ctx, approval.TypeDistribution, "d2", approval.Decision{Status: approval.StatusApproved, Actor: manager})
	require.NoError(t, err)
	assert.False(t, changed, "a decided approval is not mirrored again")
}

func TestGateway_List(t *testing.T) {
	g, _, _ := newGateway(t)
	ctx := context.Background()
	open(t, g, approval.TypeDistribution, "d1")
	r := open(t, g, approval.TypeReturn, "r1")
	open(t, g, approval.TypeReturn, "gone")

	_, err := g.Approve(ctx, r.ID, manager, "")
	require.NoError(t, err)

	page, err := g.List(ctx, approval.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "gone", page.Data[0].EntityID)
	assert.Nil(t, page.Data[0].EntityDetails)
	assert.Equal(t, map[string]any{"entity": "d1", "full": false}, page.Data[1].EntityDetails)

	page, err = g.List(ctx, approval.ListOptions{Status: approval.StatusApproved})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, r.ID, page.Data[0].ID)

	page, err = g.List(ctx, approval.ListOptions{Type: approval.TypeDistribution, Search: "dist"})
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
}
