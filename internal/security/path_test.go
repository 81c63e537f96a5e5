package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pathCase struct {
	path   string
	errMsg string // empty means the path must validate
}

func runPathCases(t *testing.T, validate func(string) error, cases map[string]pathCase) {
	t.Helper()
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := validate(tc.path)
			if tc.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestValidateFilePath(t *testing.T) {
	runPathCases(t, ValidateFilePath, map[string]pathCase{
		"relative registry path": {path: "data/registry.db"},
		"absolute registry path": {path: "/var/lib/waroom/registry.db"},
		"dotted filename":        {path: "data/registry.db.bak"},
		"empty":                  {errMsg: "path cannot be empty"},
		"leading traversal":      {path: "../../../etc/passwd", errMsg: "directory traversal"},
		"embedded traversal":     {path: "data/../../../etc/passwd", errMsg: "directory traversal"},
		"null byte":              {path: "data/\x00registry.db", errMsg: "null byte"},
	})
}

func TestValidateFilePathStrict(t *testing.T) {
	runPathCases(t, ValidateFilePathStrict, map[string]pathCase{
		"bare filename":    {path: "config.json"},
		"nested path":      {path: "conf/waroom.json"},
		"current dir":      {path: "./config.json"},
		"empty":            {errMsg: "path cannot be empty"},
		"absolute path":    {path: "/etc/waroom/config.json", errMsg: "absolute paths not allowed"},
		"parent traversal": {path: "../config.json", errMsg: "directory traversal"},
	})
}

func TestValidateFilePathWithBase(t *testing.T) {
	base := t.TempDir()

	validate := func(path string) error {
		return ValidateFilePathWithBase(path, base)
	}
	runPathCases(t, validate, map[string]pathCase{
		"inside base":          {path: filepath.Join(base, "registry.db")},
		"nested inside base":   {path: filepath.Join(base, "data", "registry.db")},
		"relative inside base": {path: "registry.db"},
		"empty":                {errMsg: "path cannot be empty"},
		"outside base":         {path: "/etc/passwd", errMsg: "escapes base directory"},
		"escape via traversal": {path: filepath.Join(base, "..", "..", "etc", "passwd"), errMsg: "escapes base directory"},
	})
}
