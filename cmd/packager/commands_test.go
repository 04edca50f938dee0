package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/dossierpackager/internal/models"
	"github.com/Lllllllleong/dossierpackager/internal/store"
	"github.com/Lllllllleong/dossierpackager/internal/testsupport"
)

type cliTestEnv struct {
	root  string
	store *store.SQLiteStore
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	root := t.TempDir()
	dbPath := filepath.Join(root, "packager.db")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("FILE_PATH", root)
	t.Setenv("SQLITE_PATH", dbPath)
	t.Setenv("PACKAGE_CONCURRENCY", "")
	t.Setenv("PACKAGE_VALIDATE_PDF", "")

	return &cliTestEnv{root: root, store: testsupport.MustOpenStoreAt(t, dbPath)}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, logs bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandPackagesDossiers(t *testing.T) {
	env := setupCLITestEnv(t)
	sub := testsupport.SeedDossier(t, env.store)
	testsupport.AttachFile(t, env.store, env.root, sub, "a.pdf", []byte("a"))
	empty := testsupport.SeedDossier(t, env.store)

	out, err := execute(t, "run", "--concurrency", "1")
	require.NoError(t, err)

	assert.Equal(t, "Packaged 1, failed 1, skipped 0 of 2 dossiers.\n", out)
	assert.Equal(t, models.StatusPackaged, testsupport.MustState(t, env.store, sub).Status)
	assert.Equal(t, models.StatusPackagingFailed, testsupport.MustState(t, env.store, empty).Status)
}

func TestRunCommandNothingToDo(t *testing.T) {
	setupCLITestEnv(t)

	out, err := execute(t, "run")
	require.NoError(t, err)
	assert.Equal(t, "No dossiers to package.\n", out)
}

func TestRunCommandRejectedWhileRunning(t *testing.T) {
	env := setupCLITestEnv(t)
	sub := testsupport.SeedDossier(t, env.store)
	require.NoError(t, env.store.Claim(context.Background(), testsupport.Dossier(sub)))

	_, err := execute(t, "run")
	assert.ErrorContains(t, err, "still running")
	assert.Equal(t, models.StatusProcessing, testsupport.MustState(t, env.store, sub).Status)
}

func TestRunCommandWithSweep(t *testing.T) {
	env := setupCLITestEnv(t)
	sub := testsupport.SeedDossier(t, env.store)
	testsupport.AttachFile(t, env.store, env.root, sub, "a.pdf", []byte("a"))
	require.NoError(t, env.store.Claim(context.Background(), testsupport.Dossier(sub)))

	out, err := execute(t, "run", "--sweep")
	require.NoError(t, err)
	assert.Equal(t, "Packaged 1, failed 0, skipped 0 of 1 dossiers.\n", out)
}

func TestSweepCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	stuck := testsupport.SeedDossier(t, env.store)
	require.NoError(t, env.store.Claim(context.Background(), testsupport.Dossier(stuck)))
	untouched := testsupport.SeedDossier(t, env.store)

	out, err := execute(t, "sweep")
	require.NoError(t, err)

	assert.Equal(t, "Reset 1 dossiers.\n", out)
	assert.Equal(t, models.StatusUnset, testsupport.MustState(t, env.store, stuck).Status)
	assert.Equal(t, models.StatusUnset, testsupport.MustState(t, env.store, untouched).Status)
}

func TestInvalidBackendIsRejected(t *testing.T) {
	setupCLITestEnv(t)
	t.Setenv("STORE_BACKEND", "postgres")

	_, err := execute(t, "sweep")
	assert.ErrorContains(t, err, "STORE_BACKEND")
}
