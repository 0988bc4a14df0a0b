package db

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type TestClient struct {
	*Client
}

// NewTestClient returns a migrated client backed by its own in-memory sqlite
// database, closed when the test ends.
func NewTestClient(t *testing.T, options ...ClientOption) TestClient {
	t.Helper()

	options = append([]ClientOption{WithNopLogger()}, options...)
	client, err := NewClient(DialectSQLite, DSNMemory(uuid.NewString()), options...)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
	})
	require.NoError(t, client.Migrate())
	return TestClient{Client: client}
}

func (client TestClient) Truncate(t *testing.T, models ...any) {
	t.Helper()

	for _, model := range models {
		err := client.connection.Session(&gorm.Session{
			AllowGlobalUpdate: true,
		}).Delete(model).Error
		require.NoError(t, err)
	}
}

func LoadTestData[Model any](t *testing.T, client TestClient, values []Model) {
	t.Helper()

	require.NoError(t, BatchCreate(client.Client, values))
}
