package option

import (
	"testing"
	"time"

	"github.com/smallbiznis/ziswaf/pkg/db"
	"github.com/smallbiznis/ziswaf/pkg/db/pagination"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type row struct {
	ID        int64 `gorm:"primaryKey"`
	Rank      int
	CreatedAt time.Time
}

func seed(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&row{}))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		require.NoError(t, conn.Create(&row{ID: int64(i), Rank: i * 10, CreatedAt: base.Add(time.Duration(i) * time.Hour)}).Error)
	}
	return conn
}

func TestApplyOperatorAndPagination(t *testing.T) {
	conn := seed(t)

	var rows []row
	stmt := ApplyOperator(Condition{Field: "rank", Operator: GTE, Value: 20}).Apply(conn.Model(&row{}))
	stmt = ApplyPagination(pagination.Pagination{PageSize: 2}).Apply(stmt)
	require.NoError(t, stmt.Find(&rows).Error)
	require.Len(t, rows, 3)
	require.Equal(t, int64(2), rows[0].ID)

	token, err := pagination.EncodeCursor(pagination.Cursor{ID: "3"})
	require.NoError(t, err)
	rows = nil
	stmt = ApplyPagination(pagination.Pagination{PageSize: 2, PageToken: token}).Apply(conn.Model(&row{}))
	require.NoError(t, stmt.Find(&rows).Error)
	require.Len(t, rows, 2)
	require.Equal(t, int64(4), rows[0].ID)
}

func TestWithSortBy(t *testing.T) {
	conn := seed(t)

	var rows []row
	stmt := WithSortBy(WithQuerySortBy("rank", "asc", map[string]bool{"rank": true})).Apply(conn.Model(&row{}))
	require.NoError(t, stmt.Find(&rows).Error)
	require.Equal(t, 10, rows[0].Rank)

	rows = nil
	stmt = WithSortBy(WithQuerySortBy("rank; drop table rows", "", map[string]bool{"rank": true})).Apply(conn.Model(&row{}))
	require.NoError(t, stmt.Find(&rows).Error)
	require.Len(t, rows, 5)
	require.Equal(t, int64(5), rows[0].ID)
}
