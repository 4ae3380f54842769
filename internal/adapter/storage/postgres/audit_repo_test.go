package postgres

import (
	"context"
	"testing"
	"time"

	"custody-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	caller := domain.AccountID("0xauthority")
	entry := &domain.AuditLog{
		ID:           uuid.New(),
		Caller:       &caller,
		Action:       domain.AuditActionSetFee,
		ResourceType: "custody_state",
		Details:      `{"fee":25}`,
		IPAddress:    "10.0.0.1",
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(entry.ID, authorityParam(&caller), "SET_FEE", "custody_state",
			"", &entry.Details, "10.0.0.1", entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, NewAuditRepo(mock).Create(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}
