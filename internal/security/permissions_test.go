package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionConstants(t *testing.T) {
	assert.Equal(t, os.FileMode(0640), PermConfigFile)
	assert.Equal(t, os.FileMode(0640), PermLogFile)
	assert.Equal(t, os.FileMode(0640), PermDBFile)
	assert.Equal(t, os.FileMode(0750), PermDirectory)
}

func TestOpenAppendFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gitdeployer.log")

	for _, line := range []string{"first\n", "second\n"} {
		file, err := OpenAppendFile(path, PermLogFile)
		require.NoError(t, err)
		_, err = file.WriteString(line)
		file.Close()
		require.NoError(t, err)
	}

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(content))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Mode().Perm()&^PermLogFile, "mode %04o exceeds %04o", info.Mode().Perm(), PermLogFile)
}

func TestOpenAppendFile_MissingDirectory(t *testing.T) {
	_, err := OpenAppendFile(filepath.Join(t.TempDir(), "missing", "gitdeployer.log"), PermLogFile)
	assert.Error(t, err)
}

func TestCreateSecureDir(t *testing.T) {
	root := t.TempDir()

	for _, name := range []string{"markers", "mirrors/site1/.cache"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(root, name)
			require.NoError(t, CreateSecureDir(path, PermDirectory))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.True(t, info.IsDir())
			assert.Equal(t, PermDirectory, info.Mode().Perm())
		})
	}
}

func TestCreateSecureDir_KeepsExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0755))

	require.NoError(t, CreateSecureDir(dir, PermDirectory))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm(), "existing directory must keep its mode")

	file := filepath.Join(dir, "gitdeployer.db")
	require.NoError(t, os.WriteFile(file, nil, 0640))
	assert.Error(t, CreateSecureDir(file, PermDirectory), "path is a file")
}

func TestWorldAccess(t *testing.T) {
	tests := []struct {
		perm     os.FileMode
		readable bool
		writable bool
	}{
		{0600, false, false},
		{0640, false, false},
		{0660, false, false},
		{0700, false, false},
		{0644, true, false},
		{0664, true, false},
		{0755, true, false},
		{0662, false, true},
		{0666, true, true},
		{0777, true, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.readable, IsWorldReadable(tt.perm), "IsWorldReadable(%04o)", tt.perm)
		assert.Equal(t, tt.writable, IsWorldWritable(tt.perm), "IsWorldWritable(%04o)", tt.perm)
	}
}

func TestValidateSecurePermissions(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		perm    os.FileMode
		wantErr bool
	}{
		{0600, false},
		{0640, false},
		{0660, false},
		{0644, true},
		{0666, true},
		{0777, true},
	}

	for _, tt := range tests {
		path := filepath.Join(dir, "targets.yaml")
		require.NoError(t, os.WriteFile(path, []byte("targets: {}\n"), 0600))
		require.NoError(t, os.Chmod(path, tt.perm))

		err := ValidateSecurePermissions(path)
		if tt.wantErr {
			assert.Error(t, err, "%04o", tt.perm)
		} else {
			assert.NoError(t, err, "%04o", tt.perm)
		}
	}
}

func TestValidateSecurePermissions_NonexistentFile(t *testing.T) {
	assert.Error(t, ValidateSecurePermissions(filepath.Join(t.TempDir(), "targets.yaml")))
}
