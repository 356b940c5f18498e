package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/insurance":   "pgx5://u:p@localhost:5432/insurance",
		"postgresql://u:p@localhost:5432/insurance": "pgx5://u:p@localhost:5432/insurance",
		"pgx5://localhost/insurance":                "pgx5://localhost/insurance",
	}
	for in, want := range cases {
		require.Equal(t, want, migrateURL(in))
	}
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
}
