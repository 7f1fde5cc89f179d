package returns

import (
	"context"
	"errors"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/device"
	"github.com/dmsystem/dms/internal/user"
)

// ErrNoTarget is returned when nobody can receive a return.
var ErrNoTarget = apperror.Validation("No admin/manager found to process return")

// TargetResolver picks the account a device is returned to.
type TargetResolver interface {
	Resolve(ctx context.Context, d *device.Device, requester user.Actor) (*user.User, error)
}

// RoleLister lists accounts by role.
type RoleLister interface {
	ListByRoles(ctx context.Context, roles ...user.Role) ([]*user.User, error)
}

// AdminResolver returns every device to the first active admin or manager.
type AdminResolver struct {
	Users RoleLister
}

// Resolve implements TargetResolver.
func (r AdminResolver) Resolve(ctx context.Context, _ *device.Device, _ user.Actor) (*user.User, error) {
	users, err := r.Users.ListByRoles(ctx, user.ManagementRoles...)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Status == user.StatusActive {
			return u, nil
		}
	}
	return nil, ErrNoTarget
}

// HistoryReader reads device history, newest first.
type HistoryReader interface {
	History(ctx context.Context, id string) ([]*device.History, error)
}

// ChainResolver returns a device to whoever handed it to the requester,
// as recorded by the latest custody transfer into the requester's hands.
// Devices that came from the central stock, or whose previous holder is
// no longer active, go to Fallback.
type ChainResolver struct {
	History  HistoryReader
	Users    Directory
	Fallback TargetResolver
}

// Resolve implements TargetResolver.
func (r ChainResolver) Resolve(ctx context.Context, d *device.Device, requester user.Actor) (*user.User, error) {
	history, err := r.History.History(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	for _, h := range history {
		if h.Action != device.ActionDistributed || h.ToUserID != requester.ID {
			continue
		}
		if h.FromUserID == "" {
			break
		}
		u, err := r.Users.Get(ctx, h.FromUserID)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				break
			}
			return nil, err
		}
		if u.Status == user.StatusActive {
			return u, nil
		}
		break
	}
	return r.Fallback.Resolve(ctx, d, requester)
}

// ChainPolicy reports whether returns follow the custody chain.
type ChainPolicy interface {
	ChainAwareReturns(ctx context.Context) bool
}

// SwitchResolver uses Chain while Policy enables chain-aware returns and
// Default otherwise.
type SwitchResolver struct {
	Policy  ChainPolicy
	Chain   TargetResolver
	Default TargetResolver
}

// Resolve implements TargetResolver.
func (r SwitchResolver) Resolve(ctx context.Context, d *device.Device, requester user.Actor) (*user.User, error) {
	if r.Policy != nil && r.Policy.ChainAwareReturns(ctx) {
		return r.Chain.Resolve(ctx, d, requester)
	}
	return r.Default.Resolve(ctx, d, requester)
}
