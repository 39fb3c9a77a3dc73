package tx

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextCarriesTransaction(t *testing.T) {
	ctx := context.Background()

	_, ok := From(ctx)
	assert.False(t, ok)
	assert.Equal(t, ctx, WithTx(ctx, nil), "nil transactions are not stored")

	sqlTx := &sql.Tx{}
	got, ok := From(WithTx(ctx, sqlTx))
	require.True(t, ok)
	assert.Same(t, sqlTx, got)
}

func TestQuerierFrom(t *testing.T) {
	// lib/pq connects lazily, so Open never touches the network here.
	db, err := sql.Open("postgres", "postgres://localhost/unused?sslmode=disable")
	require.NoError(t, err)
	defer db.Close()

	assert.Same(t, db, QuerierFrom(context.Background(), db))

	sqlTx := &sql.Tx{}
	assert.Same(t, sqlTx, QuerierFrom(WithTx(context.Background(), sqlTx), db))
}
