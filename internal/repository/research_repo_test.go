package repository

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestListQuery(t *testing.T) {
	userID := uuid.New()

	query, args, err := listQuery(userID, "", 20, 40).ToSql()
	if err != nil {
		t.Fatalf("failed to build query: %v", err)
	}
	if strings.Contains(query, "ILIKE") {
		t.Fatalf("unexpected title filter without search: %s", query)
	}
	if !strings.Contains(query, "r.user_id = $1") {
		t.Fatalf("expected dollar placeholders, got %s", query)
	}
	if !strings.Contains(query, "ORDER BY r.created_at DESC LIMIT 20 OFFSET 40") {
		t.Fatalf("expected newest-first paging, got %s", query)
	}
	// squirrel expands driver.Valuer arguments, so the uuid arrives as text.
	if len(args) != 1 || args[0] != userID.String() {
		t.Fatalf("unexpected args %v", args)
	}

	query, args, err = listQuery(userID, "stable", 10, 0).ToSql()
	if err != nil {
		t.Fatalf("failed to build query: %v", err)
	}
	if !strings.Contains(query, `r.title ILIKE $2 ESCAPE '\'`) {
		t.Fatalf("expected case-insensitive title filter, got %s", query)
	}
	if len(args) != 2 || args[1] != "%stable%" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestListQuery_EscapesWildcards(t *testing.T) {
	tests := []struct {
		search string
		want   string
	}{
		{"50%", `%50\%%`},
		{"rate_cut", `%rate\_cut%`},
		{`a\b`, `%a\\b%`},
	}

	for _, tc := range tests {
		_, args, err := listQuery(uuid.New(), tc.search, 20, 0).ToSql()
		if err != nil {
			t.Fatalf("failed to build query: %v", err)
		}
		if len(args) != 2 || args[1] != tc.want {
			t.Fatalf("%q: expected pattern %q, got %v", tc.search, tc.want, args)
		}
	}
}
