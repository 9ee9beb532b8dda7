package db

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type jsonRow struct {
	ID    string          `gorm:"primaryKey"`
	Tags  JSONStringSlice `gorm:"type:text"`
	Meta  JSONAny         `gorm:"type:text"`
	Steps JSONSteps       `gorm:"type:text"`
	Vec   JSONVector      `gorm:"type:text"`
}

func TestJSONColumnsPersist(t *testing.T) {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gormDB.AutoMigrate(&jsonRow{}))

	row := jsonRow{
		ID:    "r1",
		Tags:  JSONStringSlice{"smoke", "login"},
		Meta:  JSONAny{"module": "auth"},
		Steps: JSONSteps{{"order": float64(1), "description": "open page"}},
		Vec:   JSONVector{0.25, -1, 0.5},
	}
	require.NoError(t, gormDB.Create(&row).Error)

	var got jsonRow
	require.NoError(t, gormDB.First(&got, "id = ?", "r1").Error)
	assert.Equal(t, row.Tags, got.Tags)
	assert.Equal(t, "auth", got.Meta["module"])
	assert.Equal(t, "open page", got.Steps[0]["description"])
	assert.Equal(t, row.Vec, got.Vec)

	empty := jsonRow{ID: "r2"}
	require.NoError(t, gormDB.Create(&empty).Error)
	var gotEmpty jsonRow
	require.NoError(t, gormDB.First(&gotEmpty, "id = ?", "r2").Error)
	assert.Nil(t, gotEmpty.Tags)
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open("oracle", "dsn", DefaultOptions())
	assert.ErrorContains(t, err, "unsupported database type")

	_, err = Open(TypeSQLite, "", DefaultOptions())
	assert.ErrorContains(t, err, "DSN is required")
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%login%", LikePattern("  Login "))
}

func TestJSONScanRejectsNonText(t *testing.T) {
	var m JSONAny
	assert.ErrorContains(t, m.Scan(42), "cannot scan int into JSONAny")

	v := JSONVector{1}
	require.NoError(t, v.Scan(nil))
	assert.Nil(t, v)
	require.NoError(t, v.Scan([]byte("[0.5,2]")))
	assert.Equal(t, JSONVector{0.5, 2}, v)
}
