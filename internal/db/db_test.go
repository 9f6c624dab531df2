package db

import (
	"io/fs"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "postgres://u:p@h:5432/d?sslmode=disable", want: "pgx5://u:p@h:5432/d?sslmode=disable"},
		{in: "postgresql://u@h/d", want: "pgx5://u@h/d"},
		{in: "pgx5://already", want: "pgx5://already"},
	}
	for _, tc := range cases {
		if got := migrateURL(tc.in); got != tc.want {
			t.Fatalf("migrateURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected up and down migrations, got %d", len(entries))
	}
}
