package archive

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/copp1723/team-crm-sub000/types"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&SummaryRow{}))

	poolConfig := DefaultPoolConfig()
	poolConfig.HealthCheckInterval = 0
	poolConfig.MaxOpenConns = 1

	a, err := New(db, poolConfig, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func sampleSummary(id string, at time.Time) *types.ExecutiveSummary {
	return &types.ExecutiveSummary{
		ID:                id,
		Headlines:         []string{"Acme renewal at risk"},
		CriticalAttention: []string{"[joe] Unblock Acme renewal (urgency: urgent)"},
		RiskFactors:       []string{"[joe] Acme may churn at renewal"},
		Recommended:       []string{"Loop in legal"},
		Sections: []types.MemberSection{
			{MemberName: "joe", Highlights: []string{"Client Acme renewal is at risk"}},
		},
		RenderedText: "One urgent renewal needs attention.",
		UpdateCount:  3,
		Confidence:   0.85,
		GeneratedAt:  at,
	}
}

func TestArchive_SaveAndRecent(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"sum:a", "sum:b", "sum:c"} {
		require.NoError(t, a.SaveSummary(ctx, sampleSummary(id, base.Add(time.Duration(i)*time.Hour))))
	}

	sums, err := a.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, sums, 2)

	// 倒序:最新的在前
	assert.Equal(t, "sum:c", sums[0].ID)
	assert.Equal(t, "sum:b", sums[1].ID)

	// JSON 列完整往返
	assert.Equal(t, []string{"Acme renewal at risk"}, sums[0].Headlines)
	require.Len(t, sums[0].Sections, 1)
	assert.Equal(t, "joe", sums[0].Sections[0].MemberName)
	assert.Equal(t, 3, sums[0].UpdateCount)
	assert.InDelta(t, 0.85, sums[0].Confidence, 0.001)
}

func TestArchive_EmptySummaryNotArchived(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.SaveSummary(ctx, &types.ExecutiveSummary{
		NoUpdates:   true,
		GeneratedAt: time.Now(),
	}))

	sums, err := a.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, sums)
}

func TestArchive_DuplicateIDRejected(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	sum := sampleSummary("sum:dup", time.Now().UTC())

	require.NoError(t, a.SaveSummary(ctx, sum))
	assert.Error(t, a.SaveSummary(ctx, sum), "primary key collision must surface")
}

func TestArchive_CountSince(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)

	require.NoError(t, a.SaveSummary(ctx, sampleSummary("sum:old", base)))
	require.NoError(t, a.SaveSummary(ctx, sampleSummary("sum:new", base.Add(2*time.Hour))))

	n, err := a.CountSince(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestArchive_PingAfterClose(t *testing.T) {
	a := newTestArchive(t)
	require.NoError(t, a.Ping(context.Background()))
	require.NoError(t, a.Close())
	assert.Error(t, a.Ping(context.Background()))
}

func TestConfig_DSN(t *testing.T) {
	pg := Config{Driver: "postgres", Host: "db", Port: 5432, User: "crm", Password: "s3cret", Name: "teamcrm", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=crm password=s3cret dbname=teamcrm sslmode=disable", pg.DSN())

	my := Config{Driver: "mysql", Host: "db", Port: 3306, User: "crm", Password: "s3cret", Name: "teamcrm"}
	assert.Equal(t, "crm:s3cret@tcp(db:3306)/teamcrm?charset=utf8mb4&parseTime=True&loc=Local", my.DSN())

	lite := Config{Driver: "sqlite", Path: "teamcrm.db"}
	assert.Equal(t, "teamcrm.db", lite.DSN())
}
