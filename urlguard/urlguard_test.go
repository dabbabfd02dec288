package urlguard

import (
	"errors"
	"strings"
	"testing"
)

func TestCheck(t *testing.T) {
	g := Guard{Resolve: func(host string) ([]string, error) {
		switch host {
		case "intranet.example":
			return []string{"10.1.2.3"}, nil
		case "example.com":
			return []string{"93.184.216.34"}, nil
		}
		return nil, errors.New("no such host")
	}}
	tests := []struct {
		url  string
		want error
	}{
		{"https://example.com/news/", nil},
		{"http://example.com:8080/", nil},
		{"http://unresolvable.example/", nil},
		{"ftp://example.com/file", ErrScheme},
		{"javascript:alert(1)", ErrScheme},
		{"http://127.0.0.1/admin", ErrPrivateTarget},
		{"http://localhost:8090/", ErrPrivateTarget},
		{"http://10.0.0.1/", ErrPrivateTarget},
		{"http://192.168.1.1/", ErrPrivateTarget},
		{"http://172.16.0.1/", ErrPrivateTarget},
		{"http://169.254.169.254/latest/meta-data", ErrPrivateTarget},
		{"http://[::1]/", ErrPrivateTarget},
		{"http://0.0.0.0/", ErrPrivateTarget},
		{"http://intranet.example/", ErrPrivateTarget},
	}
	for _, tt := range tests {
		err := g.Check(tt.url)
		if tt.want == nil {
			if err != nil {
				t.Errorf("Check(%q): unexpected error %v", tt.url, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("Check(%q): got %v, want %v", tt.url, err, tt.want)
		}
	}
}

func TestCheck_NoHost(t *testing.T) {
	if err := Check("http:///path"); err == nil {
		t.Error("expected error for URL without host")
	}
}

func TestReadLimited(t *testing.T) {
	data := strings.Repeat("x", 100)
	got, err := ReadLimited(strings.NewReader(data), 100)
	if err != nil || len(got) != 100 {
		t.Fatalf("at limit: got %d bytes, %v", len(got), err)
	}
	if _, err := ReadLimited(strings.NewReader(data), 50); !errors.Is(err, ErrTooLarge) {
		t.Errorf("over limit: got %v", err)
	}
}
