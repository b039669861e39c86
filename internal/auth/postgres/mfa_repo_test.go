// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/auth/postgres"
)

func TestMFASecretRepository_Upsert(t *testing.T) {
	t.Run("stores secret", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err, "failed to create mock")
		defer mock.Close()

		secret := &auth.MFASecret{
			IdentityID: ulid.Make(),
			Secret:     "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ",
			Enabled:    false,
			CreatedAt:  time.Now(),
		}
		mock.ExpectExec(`INSERT INTO mfa_secrets`).
			WithArgs(secret.IdentityID.String(), secret.Secret, secret.Enabled, secret.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		repo := postgres.NewMFASecretRepository(mock)
		require.NoError(t, repo.Upsert(context.Background(), secret))
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
	})

	t.Run("database error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err, "failed to create mock")
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO mfa_secrets`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("connection refused"))

		repo := postgres.NewMFASecretRepository(mock)
		err = repo.Upsert(context.Background(), &auth.MFASecret{IdentityID: ulid.Make()})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
	})
}

func TestMFASecretRepository_Get(t *testing.T) {
	identityID := ulid.Make()

	t.Run("returns stored secret", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err, "failed to create mock")
		defer mock.Close()

		createdAt := time.Now().UTC()
		mock.ExpectQuery(`SELECT secret, enabled, created_at FROM mfa_secrets WHERE identity_id = \$1`).
			WithArgs(identityID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"secret", "enabled", "created_at"}).
				AddRow("GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", true, createdAt))

		repo := postgres.NewMFASecretRepository(mock)
		got, err := repo.Get(context.Background(), identityID)
		require.NoError(t, err)
		assert.Equal(t, identityID, got.IdentityID)
		assert.Equal(t, "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", got.Secret)
		assert.True(t, got.Enabled)
		assert.Equal(t, createdAt, got.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
	})

	t.Run("returns ErrNotFound when unenrolled", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err, "failed to create mock")
		defer mock.Close()

		mock.ExpectQuery(`SELECT secret, enabled, created_at FROM mfa_secrets WHERE identity_id = \$1`).
			WithArgs(identityID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"secret", "enabled", "created_at"}))

		repo := postgres.NewMFASecretRepository(mock)
		got, err := repo.Get(context.Background(), identityID)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
	})
}

func TestMFASecretRepository_Enable(t *testing.T) {
	identityID := ulid.Make()

	t.Run("enables pending secret", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err, "failed to create mock")
		defer mock.Close()

		mock.ExpectExec(`UPDATE mfa_secrets SET enabled = TRUE WHERE identity_id = \$1`).
			WithArgs(identityID.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := postgres.NewMFASecretRepository(mock)
		require.NoError(t, repo.Enable(context.Background(), identityID))
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
	})

	t.Run("returns ErrNotFound without a secret", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err, "failed to create mock")
		defer mock.Close()

		mock.ExpectExec(`UPDATE mfa_secrets SET enabled = TRUE WHERE identity_id = \$1`).
			WithArgs(identityID.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := postgres.NewMFASecretRepository(mock)
		err = repo.Enable(context.Background(), identityID)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
	})
}

func TestMFASecretRepository_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	defer mock.Close()

	identityID := ulid.Make()
	mock.ExpectExec(`DELETE FROM mfa_secrets WHERE identity_id = \$1`).
		WithArgs(identityID.String()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	// Deleting an absent secret is not an error.
	repo := postgres.NewMFASecretRepository(mock)
	require.NoError(t, repo.Delete(context.Background(), identityID))
	assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
}

func TestBackupCodeRepository_Replace(t *testing.T) {
	identityID := ulid.Make()
	codes := []*auth.BackupCode{
		{ID: ulid.Make(), IdentityID: identityID, CodeHash: "hash-one"},
		{ID: ulid.Make(), IdentityID: identityID, CodeHash: "hash-two"},
	}

	t.Run("swaps the code set in one transaction", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err, "failed to create mock")
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM mfa_backup_codes WHERE identity_id = \$1`).
			WithArgs(identityID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 10))
		for _, code := range codes {
			mock.ExpectExec(`INSERT INTO mfa_backup_codes`).
				WithArgs(code.ID.String(), identityID.String(), code.CodeHash).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
		mock.ExpectCommit()
		mock.ExpectRollback()

		repo := postgres.NewBackupCodeRepository(mock)
		require.NoError(t, repo.Replace(context.Background(), identityID, codes))
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err, "failed to create mock")
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM mfa_backup_codes WHERE identity_id = \$1`).
			WithArgs(identityID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectExec(`INSERT INTO mfa_backup_codes`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		repo := postgres.NewBackupCodeRepository(mock)
		err = repo.Replace(context.Background(), identityID, codes)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
	})
}

func TestBackupCodeRepository_Consume(t *testing.T) {
	identityID := ulid.Make()

	t.Run("marks a fresh code used", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err, "failed to create mock")
		defer mock.Close()

		mock.ExpectExec(`WHERE identity_id = \$1 AND code_hash = \$2 AND used = FALSE`).
			WithArgs(identityID.String(), "code-hash").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := postgres.NewBackupCodeRepository(mock)
		require.NoError(t, repo.Consume(context.Background(), identityID, "code-hash"))
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
	})

	t.Run("spent or unknown code returns ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err, "failed to create mock")
		defer mock.Close()

		mock.ExpectExec(`WHERE identity_id = \$1 AND code_hash = \$2 AND used = FALSE`).
			WithArgs(identityID.String(), "code-hash").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := postgres.NewBackupCodeRepository(mock)
		err = repo.Consume(context.Background(), identityID, "code-hash")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
	})
}

func TestBackupCodeRepository_DeleteAll(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	defer mock.Close()

	identityID := ulid.Make()
	mock.ExpectExec(`DELETE FROM mfa_backup_codes WHERE identity_id = \$1`).
		WithArgs(identityID.String()).
		WillReturnResult(pgxmock.NewResult("DELETE", 8))

	repo := postgres.NewBackupCodeRepository(mock)
	require.NoError(t, repo.DeleteAll(context.Background(), identityID))
	assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
}
