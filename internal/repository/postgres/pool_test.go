package postgres

import (
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/teatribe/tribes/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var accountColumns = []string{
	"id", "wallet_address", "public_key", "full_name", "profile_photo", "role",
	"device_type", "device_token", "accept_terms", "verified", "created", "updated", "deleted",
}

func accountValues(a model.Account) []any {
	return []any{
		a.ID, a.WalletAddress, a.PublicKey, a.FullName, a.ProfilePhoto, string(a.Role),
		string(a.DeviceType), a.DeviceToken, a.AcceptTerms, a.Verified, a.Created, a.Updated, a.Deleted,
	}
}

func accountRows(accs ...model.Account) *pgxmock.Rows {
	rows := pgxmock.NewRows(accountColumns)
	for _, a := range accs {
		rows.AddRow(accountValues(a)...)
	}
	return rows
}

func memberRows(tribeID uuid.UUID, joined time.Time, accs ...model.Account) *pgxmock.Rows {
	rows := pgxmock.NewRows(append([]string{"tribe_id", "joined"}, accountColumns...))
	for _, a := range accs {
		rows.AddRow(append([]any{tribeID, joined}, accountValues(a)...)...)
	}
	return rows
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testAccount(wallet string) model.Account {
	return model.Account{
		ID:            uuid.Must(uuid.NewV4()),
		WalletAddress: wallet,
		PublicKey:     "0x04" + wallet[2:],
		FullName:      "Ada",
		Role:          model.RoleUser,
		AcceptTerms:   true,
		Created:       testNow.Add(-time.Hour),
	}
}
