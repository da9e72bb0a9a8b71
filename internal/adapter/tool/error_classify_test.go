package tool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"mcpchat/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"plain", errors.New("disk full"), domain.ErrExecution},
		{"refused", errors.New("dial tcp 127.0.0.1:80: connection refused"), domain.ErrTransport},
		{"upper case timeout", errors.New("upstream TIMEOUT"), domain.ErrTransport},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), domain.ErrTransport},
		{"canceled", context.Canceled, domain.ErrTransport},
		{"already validation", domain.Invalid(errors.New("bad")), domain.ErrValidation},
		{"already transport", fmt.Errorf("x: %w", domain.ErrTransport), domain.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Fatalf("classify(%v) = %v, want class %v", tt.err, got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classified error lost the original: %v", got)
			}
		})
	}
}

func TestClassifyExactlyOneClass(t *testing.T) {
	got := classify("op", errors.New("connection reset by peer"))
	if errors.Is(got, domain.ErrExecution) || errors.Is(got, domain.ErrValidation) {
		t.Errorf("transport error carries another class: %v", got)
	}
	if classify("op", nil) != nil {
		t.Error("classify(nil) != nil")
	}
}
