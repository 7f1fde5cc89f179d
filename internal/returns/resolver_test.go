package returns_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsystem/dms/internal/device"
	"github.com/dmsystem/dms/internal/returns"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/user"
)

type chainPolicy bool

func (p chainPolicy) ChainAwareReturns(context.Context) bool { return bool(p) }

func TestResolvers(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	users := user.NewService(user.ServiceConfig{Store: s, Logger: zerolog.Nop()})
	ledger := device.NewLedger(device.LedgerConfig{Store: s, Logger: zerolog.Nop()})

	create := func(email, name string, role user.Role) *user.User {
		u, err := users.Create(ctx, user.CreateInput{Email: email, Name: name, Role: role})
		require.NoError(t, err)
		return u
	}
	admin := create("admin@example.com", "Admin", user.RoleAdmin)
	distributor := create("dist@example.com", "Distributor", user.RoleDistributor)
	operator := create("op@example.com", "Operator", user.RoleOperator)

	d, err := ledger.Create(ctx, device.CreateInput{
		DeviceType:   device.TypeModem,
		Model:        "DSL-2750",
		SerialNumber: "SN-9",
		MACAddress:   "MAC-9",
		Manufacturer: "D-Link",
	}, admin.Actor())
	require.NoError(t, err)

	hand := func(from, to *user.User, toType device.HolderType) {
		_, err := ledger.SetHolder(ctx, d.ID, device.HolderChange{
			To:       device.Holder{ID: to.ID, Name: to.Name, Type: toType},
			From:     device.Holder{ID: from.ID, Name: from.Name},
			Location: to.Name,
			Status:   device.StatusDistributed,
		}, admin.Actor())
		require.NoError(t, err)
	}
	hand(admin, distributor, device.HolderDistributor)
	hand(distributor, operator, device.HolderOperator)

	fallback := returns.AdminResolver{Users: users}
	chain := returns.ChainResolver{History: ledger, Users: users, Fallback: fallback}

	got, err := fallback.Resolve(ctx, d, operator.Actor())
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.ID)

	got, err = chain.Resolve(ctx, d, operator.Actor())
	require.NoError(t, err)
	assert.Equal(t, distributor.ID, got.ID, "operator returns to the distributor that handed it over")

	got, err = chain.Resolve(ctx, d, distributor.Actor())
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.ID)

	switched := returns.SwitchResolver{Policy: chainPolicy(false), Chain: chain, Default: fallback}
	got, err = switched.Resolve(ctx, d, operator.Actor())
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.ID)

	switched.Policy = chainPolicy(true)
	got, err = switched.Resolve(ctx, d, operator.Actor())
	require.NoError(t, err)
	assert.Equal(t, distributor.ID, got.ID)

	_, err = users.SetStatus(ctx, distributor.ID, user.StatusSuspended)
	require.NoError(t, err)
	got, err = chain.Resolve(ctx, d, operator.Actor())
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.ID, "inactive previous holder falls back")
}
