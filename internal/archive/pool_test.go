package archive

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockPool(t *testing.T) (*pool, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	poolConfig := DefaultPoolConfig()
	poolConfig.HealthCheckInterval = 0

	p, err := newPool(db, poolConfig, zap.NewNop())
	require.NoError(t, err)
	return p, mock
}

func TestPool_Ping(t *testing.T) {
	p, mock := newMockPool(t)

	mock.ExpectPing()
	require.NoError(t, p.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPool_PingAfterClose(t *testing.T) {
	p, mock := newMockPool(t)

	mock.ExpectClose()
	require.NoError(t, p.Close())
	assert.Error(t, p.Ping(context.Background()))

	// 二次关闭幂等
	assert.NoError(t, p.Close())
}

func TestPool_TransactionRetryOnDeadlock(t *testing.T) {
	p, mock := newMockPool(t)

	// 前两次死锁回滚,第三次提交
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	attempts := 0
	err := p.withTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("deadlock detected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPool_TransactionNonRetryableFailsFast(t *testing.T) {
	p, mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	attempts := 0
	err := p.withTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		return fmt.Errorf("duplicate key value violates unique constraint")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "constraint violations must not be retried")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPool_TransactionRetriesExhausted(t *testing.T) {
	p, mock := newMockPool(t)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	err := p.withTransactionRetry(context.Background(), 2, func(tx *gorm.DB) error {
		return fmt.Errorf("lock wait timeout exceeded")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{fmt.Errorf("deadlock detected"), true},
		{fmt.Errorf("ERROR: could not serialize access (SQLSTATE 40001)"), true},
		{fmt.Errorf("database is locked"), true},
		{fmt.Errorf("driver: bad connection"), true},
		{fmt.Errorf("connection refused"), true},
		{fmt.Errorf("Lock wait timeout exceeded"), true},
		{fmt.Errorf("duplicate key value violates unique constraint"), false},
		{fmt.Errorf("syntax error at or near"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.retryable, isRetryableError(tc.err), "err=%v", tc.err)
	}
}
