package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chase-Garrett/sealedchat/internal/auth"
	"github.com/Chase-Garrett/sealedchat/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMigrateNeedsNoSecret(t *testing.T) {
	t.Setenv("SEALEDCHAT_AUTH_SECRET", "")
	path := filepath.Join(t.TempDir(), "chat.db")

	_, err := run(t, "migrate", "--db", path)
	require.NoError(t, err)

	db, err := store.Open(path)
	require.NoError(t, err)
	defer db.Close()
	version, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Positive(t, version)
}

func TestServeRequiresSecret(t *testing.T) {
	t.Setenv("SEALEDCHAT_AUTH_SECRET", "")

	_, err := run(t, "serve", "--db", filepath.Join(t.TempDir(), "chat.db"))
	assert.ErrorContains(t, err, "auth.secret")
}

func TestTokenForRegisteredUser(t *testing.T) {
	t.Setenv("SEALEDCHAT_AUTH_SECRET", "")
	path := filepath.Join(t.TempDir(), "chat.db")

	db, err := store.Open(path)
	require.NoError(t, err)
	_, err = auth.NewUserStorage(db.DB).RegisterNewUser(context.Background(), "alice", "hunter22", "")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = run(t, "token", "alice", "--db", path)
	assert.ErrorContains(t, err, "auth.secret")

	out, err := run(t, "token", "alice", "--db", path, "--secret", "s3cr3t")
	require.NoError(t, err)

	tokens, err := auth.NewTokenService(&auth.TokenConfig{Secret: []byte("s3cr3t"), TTL: time.Hour})
	require.NoError(t, err)
	id, err := tokens.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, auth.Identity("alice"), id)

	_, err = run(t, "token", "ghost", "--db", path, "--secret", "s3cr3t")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}
