package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A named in-memory database per test: cache=shared lets gorm's pooled
	// connections see the same tables while the unique name keeps each
	// test's rows out of every other test's assertions.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schemas := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  key TEXT NOT NULL UNIQUE,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  email TEXT NOT NULL,
  telephone TEXT NOT NULL DEFAULT '',
  mobile TEXT NOT NULL DEFAULT '',
  street TEXT NOT NULL,
  postal_code TEXT NOT NULL,
  city TEXT NOT NULL,
  country TEXT NOT NULL DEFAULT 'FI',
  information TEXT NOT NULL DEFAULT '',
  token TEXT NOT NULL DEFAULT '',
  payment_method_name TEXT NOT NULL DEFAULT '',
  time_created DATETIME NOT NULL,
  time_pending DATETIME,
  time_paid DATETIME,
  time_cancelled DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS transaction_items (
  id TEXT PRIMARY KEY,
  key TEXT NOT NULL UNIQUE,
  item_id TEXT NOT NULL,
  variant_id TEXT,
  transaction_id TEXT NOT NULL,
  purchase_price NUMERIC NOT NULL,
  original_price NUMERIC NOT NULL,
  time_delivered DATETIME,
  created_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS transaction_events (
  id TEXT PRIMARY KEY,
  transaction_id TEXT NOT NULL,
  message TEXT NOT NULL,
  data TEXT,
  created DATETIME
);`,
	}
	for _, schema := range schemas {
		require.NoError(t, db.Exec(schema).Error)
	}
	return db
}

func TestSetupBuildsIsolatedDatabases(t *testing.T) {
	first := NewRepository(setupLedgerTestDB(t))
	second := NewRepository(setupLedgerTestDB(t))

	newStoredTransaction(t, first, "key-private")

	_, err := second.FindByKey(context.Background(), "key-private")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func newStoredTransaction(t *testing.T, repo Repository, key string) *models.Transaction {
	t.Helper()

	transaction := &models.Transaction{
		ID:          uuid.New(),
		Key:         key,
		FirstName:   "Aino",
		LastName:    "Virtanen",
		Email:       "aino@example.fi",
		Street:      "Esimerkkikatu 1",
		PostalCode:  "33100",
		City:        "Tampere",
		Country:     "FI",
		TimeCreated: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateTransaction(context.Background(), transaction))
	return transaction
}

func TestRepositoryRoundTripsTransactionWithItems(t *testing.T) {
	repo := NewRepository(setupLedgerTestDB(t))
	ctx := context.Background()

	transaction := newStoredTransaction(t, repo, "key-roundtrip")
	itemID := uuid.New()
	units := []models.TransactionItem{
		{
			ID:            uuid.New(),
			Key:           "unit-1",
			ItemID:        itemID,
			TransactionID: transaction.ID,
			PurchasePrice: decimal.RequireFromString("20.00"),
			OriginalPrice: decimal.RequireFromString("25.00"),
		},
		{
			ID:            uuid.New(),
			Key:           "unit-2",
			ItemID:        itemID,
			TransactionID: transaction.ID,
			PurchasePrice: decimal.RequireFromString("20.00"),
			OriginalPrice: decimal.RequireFromString("25.00"),
		},
	}
	require.NoError(t, repo.CreateItems(ctx, units))

	loaded, err := repo.FindByKey(ctx, "key-roundtrip")
	require.NoError(t, err)
	assert.Equal(t, transaction.ID, loaded.ID)
	assert.Equal(t, "Aino", loaded.FirstName)
	require.Len(t, loaded.Items, 2)
	assert.True(t, loaded.Items[0].PurchasePrice.Equal(decimal.RequireFromString("20.00")))

	byID, err := repo.FindByID(ctx, transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "key-roundtrip", byID.Key)
	assert.Len(t, byID.Items, 2)
}

func TestRepositoryFindByTokenIgnoresEmptyTokens(t *testing.T) {
	repo := NewRepository(setupLedgerTestDB(t))
	ctx := context.Background()

	transaction := newStoredTransaction(t, repo, "key-token")

	// Token unset: lookups with an empty token must never match.
	_, err := repo.FindByToken(ctx, "")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	transaction.Token = "provider-token-1"
	require.NoError(t, repo.Update(ctx, transaction))

	loaded, err := repo.FindByToken(ctx, "provider-token-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.ID, loaded.ID)
}

func TestRepositoryUpdatePersistsLifecycleTimestamps(t *testing.T) {
	repo := NewRepository(setupLedgerTestDB(t))
	ctx := context.Background()

	transaction := newStoredTransaction(t, repo, "key-lifecycle")

	now := time.Now().UTC()
	transaction.TimePending = &now
	transaction.PaymentMethodName = "paytrail"
	require.NoError(t, repo.Update(ctx, transaction))

	loaded, err := repo.FindByID(ctx, transaction.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.TimePending)
	assert.Equal(t, "paytrail", loaded.PaymentMethodName)
	assert.Nil(t, loaded.TimePaid)
}

func TestRepositoryAppendsAndListsEventsInOrder(t *testing.T) {
	repo := NewRepository(setupLedgerTestDB(t))
	ctx := context.Background()

	transaction := newStoredTransaction(t, repo, "key-events")

	first := &models.TransactionEvent{
		ID:            uuid.New(),
		TransactionID: transaction.ID,
		Message:       "transaction created",
		Created:       time.Now().UTC().Add(-time.Minute),
	}
	second := &models.TransactionEvent{
		ID:            uuid.New(),
		TransactionID: transaction.ID,
		Message:       "payment pending",
		Created:       time.Now().UTC(),
	}
	require.NoError(t, repo.AppendEvent(ctx, first))
	require.NoError(t, repo.AppendEvent(ctx, second))

	events, err := repo.ListEvents(ctx, transaction.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "transaction created", events[0].Message)
	assert.Equal(t, "payment pending", events[1].Message)
}
