package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"configuration", fmt.Errorf("%w: missing key", ErrConfiguration), KindConfiguration},
		{"client input", ValidateQuestion(""), KindClientInput},
		{"ingestion", fmt.Errorf("%w: %w", ErrIngestion, errors.New("boom")), KindIngestion},
		{"retrieval", fmt.Errorf("%w: %w", ErrRetrieval, errors.New("boom")), KindRetrieval},
		{"recoverable", ErrRecoverableState, KindRecoverableState},
		{"client input inside ingestion", fmt.Errorf("%w: %w", ErrIngestion, ValidateSourceName("")), KindClientInput},
		{"unclassified", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
