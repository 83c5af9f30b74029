// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	exists, err := FileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, os.WriteFile(path, []byte("graphs: []\n"), 0o644))
	exists, err = FileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestExpandHome(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)

	got, err := ExpandHome("~/models/a.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "models", "a.yaml"), got)

	got, err = ExpandHome("~")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(usr.HomeDir), got)

	got, err = ExpandHome("relative/a.yaml")
	require.NoError(t, err)
	assert.Equal(t, "relative/a.yaml", got)

	_, err = ExpandHome("~no_such_user_for_sure/a.yaml")
	require.Error(t, err)
}
