package pagination

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseDefaultsWhenQueryEmpty(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Errorf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" {
		t.Errorf("expected empty page token, got %q", params.PageToken)
	}
}

func TestParsePageSizeBounds(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		opts    Options
		want    int
		wantErr error
	}{
		{name: "explicit value", raw: "25", want: 25},
		{name: "capped at max", raw: "500", want: DefaultMaxPageSize},
		{name: "custom max", raw: "80", opts: Options{MaxPageSize: 40}, want: 40},
		{name: "zero rejected", raw: "0", wantErr: ErrInvalidPageSize},
		{name: "negative rejected", raw: "-3", wantErr: ErrInvalidPageSize},
		{name: "non numeric rejected", raw: "lots", wantErr: ErrInvalidPageSize},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			values := url.Values{"pageSize": []string{tc.raw}}
			params, err := Parse(values, tc.opts)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse returned error: %v", err)
			}
			if params.PageSize != tc.want {
				t.Errorf("expected page size %d, got %d", tc.want, params.PageSize)
			}
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	cursor := Cursor{StartAfter: []any{"2026-02-10T00:00:00Z", "ord_01ABC"}}

	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if len(decoded.StartAfter) != 2 {
		t.Fatalf("expected two cursor values, got %d", len(decoded.StartAfter))
	}
	if decoded.StartAfter[1] != "ord_01ABC" {
		t.Errorf("unexpected cursor value: %v", decoded.StartAfter[1])
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if token != "" {
		t.Errorf("expected empty token for empty cursor, got %q", token)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodeToken("!!not-base64!!"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestParseRejectsBadToken(t *testing.T) {
	values := url.Values{"pageToken": []string{"@@@"}}
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
