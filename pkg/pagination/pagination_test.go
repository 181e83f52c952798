package pagination

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTripIsURLSafe(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2026, 3, 9, 10, 11, 12, 345, time.UTC), ID: uuid.New()}
	encoded := EncodeCursor(want)
	for _, r := range encoded {
		if r == '+' || r == '/' || r == '=' {
			t.Fatalf("cursor %q is not url safe", encoded)
		}
	}
	got, err := ParseCursor(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || got.ID != want.ID {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, want)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	if c, err := ParseCursor("  "); err != nil || c != nil {
		t.Fatalf("blank cursor should be nil, got %v %v", c, err)
	}
	for _, raw := range []string{"!!!", EncodeCursor(Cursor{})[:4], "bm8tc2VwYXJhdG9y"} {
		if _, err := ParseCursor(raw); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("expected ErrInvalidCursor for %q, got %v", raw, err)
		}
	}
}

type row struct {
	id uuid.UUID
	at time.Time
}

func TestTrimReturnsCursorOnlyWhenMoreRowsExist(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]row, 4)
	for i := range rows {
		rows[i] = row{id: uuid.New(), at: base.Add(-time.Duration(i) * time.Minute)}
	}
	key := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page, next := Trim(rows, 3, key)
	if len(page) != 3 || next == nil || next.ID != rows[2].id {
		t.Fatalf("expected 3 rows and cursor at third row, got %d %+v", len(page), next)
	}

	page, next = Trim(rows[:3], 3, key)
	if len(page) != 3 || next != nil {
		t.Fatalf("final page should carry no cursor, got %+v", next)
	}
	if Next(next) != "" {
		t.Fatalf("nil cursor should encode empty")
	}
}

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, MaxLimit + 50: MaxLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
	if LimitWithBuffer(10) != 11 {
		t.Fatalf("buffer should add one row")
	}
}
