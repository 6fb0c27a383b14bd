package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ceyewan/scribesnap/connector"
	"github.com/ceyewan/scribesnap/testkit"
	"github.com/ceyewan/scribesnap/xerrors"
)

type testNote struct {
	ID   uint   `gorm:"primaryKey"`
	Text string `gorm:"size:100"`
}

func newTestDB(t *testing.T, cfg *Config) DB {
	t.Helper()
	database, err := New(cfg,
		WithSQLiteConnector(testkit.NewSQLiteConnector(t)),
		WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestNewValidation(t *testing.T) {
	_, err := New(&Config{Driver: "oracle"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = New(&Config{Driver: DriverMySQL})
	assert.ErrorIs(t, err, ErrConnectorRequired)

	conn, err := connector.NewSQLite(&connector.SQLiteConfig{Path: "file:" + testkit.NewID() + "?mode=memory"})
	require.NoError(t, err)
	_, err = New(nil, WithSQLiteConnector(conn))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSQLiteCRUDAndTransaction(t *testing.T) {
	database := newTestDB(t, &Config{EnableTracing: true})
	ctx := context.Background()
	assert.Equal(t, DriverSQLite, database.Driver())

	require.NoError(t, database.DB(ctx).AutoMigrate(&testNote{}))

	t.Run("create and read", func(t *testing.T) {
		note := testNote{Text: "hello"}
		require.NoError(t, database.DB(ctx).Create(&note).Error)

		var got testNote
		require.NoError(t, database.DB(ctx).First(&got, note.ID).Error)
		assert.Equal(t, "hello", got.Text)
	})

	t.Run("transaction rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := database.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
			if err := tx.Create(&testNote{Text: "rolled back"}).Error; err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		var count int64
		require.NoError(t, database.DB(ctx).Model(&testNote{}).Where("text = ?", "rolled back").Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("transaction commit", func(t *testing.T) {
		err := database.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
			return tx.Create(&testNote{Text: "committed"}).Error
		})
		require.NoError(t, err)

		var count int64
		require.NoError(t, database.DB(ctx).Model(&testNote{}).Where("text = ?", "committed").Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}
