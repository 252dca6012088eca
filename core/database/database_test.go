package database_test

import (
	"testing"

	"matricula-sync/core/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestConnectSQLiteInMemory(t *testing.T) {
	db, err := database.Connect(database.Config{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	require.NotNil(t, db)

	// Verify the connection actually works.
	var one int
	err = db.Raw("SELECT 1").Scan(&one).Error
	assert.NoError(t, err)
	assert.Equal(t, 1, one)
}

func TestConnectTranslatesDuplicateKey(t *testing.T) {
	db, err := database.Connect(database.Config{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)

	type row struct {
		ID   uint   `gorm:"primaryKey"`
		Code string `gorm:"uniqueIndex;size:32"`
	}
	require.NoError(t, db.AutoMigrate(&row{}))

	require.NoError(t, db.Create(&row{Code: "a"}).Error)
	err = db.Create(&row{Code: "a"}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestConnectMySQLUnreachable(t *testing.T) {
	// Nothing should be listening on this port; Connect must fail, not hang.
	_, err := database.Connect(database.Config{
		Driver:         "mysql",
		Host:           "127.0.0.1",
		Port:           1,
		User:           "root",
		Name:           "matricula",
		TimeoutSeconds: 1,
	})
	assert.Error(t, err)
}
