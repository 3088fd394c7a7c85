package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/commerce-sync/internal/event"
)

// setupMockDB создаёт мок базы данных с GORM.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

func TestPublish_Success(t *testing.T) {
	gormDB, dbMock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := new(MockRepository)
	publisher := NewPublisher(gormDB, repo, "commerce.events")

	dbMock.ExpectBegin()
	dbMock.ExpectCommit()

	var created *Record
	repo.On("CreateTx", mock.Anything, mock.AnythingOfType("*outbox.Record")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*Record)
		}).
		Return(nil)

	evt := event.New("order.created", "order", "8812", "wh-1", map[string]any{"id": 8812})
	recordID, err := publisher.Publish(context.Background(), evt)

	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, created.ID, recordID)
	assert.Equal(t, "commerce.events", created.PublishTo)
	assert.Equal(t, evt.EventID, created.EventID)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestPublish_InvalidEventRollsBack(t *testing.T) {
	gormDB, dbMock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := new(MockRepository)
	publisher := NewPublisher(gormDB, repo, "commerce.events")

	dbMock.ExpectBegin()
	dbMock.ExpectRollback()

	evt := event.New("", "order", "8812", "wh-1", nil)
	_, err := publisher.Publish(context.Background(), evt)

	assert.Error(t, err)
	repo.AssertNotCalled(t, "CreateTx", mock.Anything, mock.Anything)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestPublish_InsertFailureRollsBack(t *testing.T) {
	gormDB, dbMock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := new(MockRepository)
	publisher := NewPublisher(gormDB, repo, "commerce.events")

	dbMock.ExpectBegin()
	dbMock.ExpectRollback()

	repo.On("CreateTx", mock.Anything, mock.Anything).Return(errors.New("deadlock"))

	evt := event.New("order.created", "order", "8812", "wh-1", map[string]any{"id": 8812})
	_, err := publisher.Publish(context.Background(), evt)

	assert.Error(t, err)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestPublishBatch_SkipsInvalidEvents(t *testing.T) {
	gormDB, dbMock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := new(MockRepository)
	publisher := NewPublisher(gormDB, repo, "commerce.events")

	dbMock.ExpectBegin()
	dbMock.ExpectCommit()

	repo.On("CreateTx", mock.Anything, mock.Anything).Return(nil)

	events := []*event.Event{
		event.New("order.created", "order", "1", "wh-1", map[string]any{"id": 1}),
		event.New("", "order", "2", "wh-2", nil), // невалидное
		event.New("product.updated", "product", "3", "wh-3", map[string]any{"id": 3}),
	}

	results := publisher.PublishBatch(context.Background(), events)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.NotEmpty(t, results[0].RecordID)
	assert.Error(t, results[1].Err)
	assert.Empty(t, results[1].RecordID)
	assert.NoError(t, results[2].Err)
	repo.AssertNumberOfCalls(t, "CreateTx", 2)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}
