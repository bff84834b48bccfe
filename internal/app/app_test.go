package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicklnk/quicklnk/internal/config"
	"github.com/quicklnk/quicklnk/internal/db/jsondb"
	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/user"
)

// A failing listener must still stop the remover and close the storage, or
// the file-backed database skips its final flush.
func TestRunCleansUpOnServerError(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "state.json")
	db, err := jsondb.New(dbFile)
	require.NoError(t, err)

	require.NoError(t, db.CreateUser(context.Background(), &user.User{
		ID:    "u-1",
		Email: "alice@example.com",
		Settings: models.Settings{
			WarningThresholdHours: 24,
		},
	}))

	removerStopped := false
	a := &App{
		cfg:              &config.Config{RunAddr: "host-that-cannot-listen:0"},
		db:               db,
		stopLinksRemover: func() { removerStopped = true },
		httpHandler:      http.NotFoundHandler(),
	}

	err = a.Run()
	require.ErrorContains(t, err, "server error")
	assert.True(t, removerStopped)

	reopened, err := jsondb.New(dbFile)
	require.NoError(t, err)
	defer reopened.Close()

	_, found, err := reopened.FindUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.True(t, found)
}
