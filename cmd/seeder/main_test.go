package main

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailblast-backend/internal/logger"
)

func TestSeed(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < 5; i++ {
		affected := int64(1)
		if i == 0 {
			affected = 0 // already present
		}
		mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, affected))
	}

	n, err := seed(context.Background(), conn, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
