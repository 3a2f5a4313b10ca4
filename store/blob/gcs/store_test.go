package gcs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseURI(t *testing.T) {
	bucket, key, err := parseURI("gs://mail/2025/01/02/id/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "mail" || key != "2025/01/02/id/a.txt" {
		t.Errorf("got (%q, %q)", bucket, key)
	}
	for _, bad := range []string{"", "gs://", "gs://mail", "gs://mail/", "s3://mail/key"} {
		if _, _, err := parseURI(bad); !errors.Is(err, ErrInvalidURI) {
			t.Errorf("parseURI(%q) err = %v, want ErrInvalidURI", bad, err)
		}
	}
}

func TestObjectName(t *testing.T) {
	name := objectName("pfx", "mb/3/invoice.pdf", time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC))
	if !strings.HasPrefix(name, "pfx/2024/12/31/") || !strings.HasSuffix(name, "/invoice.pdf") {
		t.Errorf("name = %q", name)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background()); err == nil {
		t.Fatal("expected error without bucket")
	}
}
