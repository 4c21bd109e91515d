package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestPgErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	require.True(t, IsUniqueViolation(unique))
	require.False(t, IsSerializationFailure(unique))

	for _, code := range []string{"40001", "40P01"} {
		require.True(t, IsSerializationFailure(&pgconn.PgError{Code: code}), code)
	}
	require.False(t, IsUniqueViolation(errors.New("plain")))
	require.False(t, IsSerializationFailure(nil))
}
