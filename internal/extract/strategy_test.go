package extract

import (
	"errors"
	"testing"

	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/llm/openai"
	"github.com/joseph-ayodele/invoice-reconciler/internal/llm/synthetic"
)

func TestNewSelectsStrategy(t *testing.T) {
	cases := []struct {
		name      string
		cfg       common.LLMConfig
		wantLive  bool
		wantError bool
	}{
		{name: "auto without key", cfg: common.LLMConfig{Strategy: "auto"}},
		{name: "empty strategy without key", cfg: common.LLMConfig{}},
		{name: "auto with key", cfg: common.LLMConfig{Strategy: "auto", APIKey: "sk-test"}, wantLive: true},
		{name: "forced synthetic with key", cfg: common.LLMConfig{Strategy: "synthetic", APIKey: "sk-test"}},
		{name: "live with key", cfg: common.LLMConfig{Strategy: "live", APIKey: "sk-test"}, wantLive: true},
		{name: "live without key", cfg: common.LLMConfig{Strategy: "live"}, wantError: true},
		{name: "unknown", cfg: common.LLMConfig{Strategy: "ocr", APIKey: "sk-test"}, wantError: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ex, err := New(tc.cfg, 0, nil)
			if tc.wantError {
				if !errors.Is(err, common.ErrInvalidInput) {
					t.Fatalf("expected config error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_, isLive := ex.(*openai.Client)
			_, isSynthetic := ex.(*synthetic.Generator)
			if tc.wantLive && !isLive {
				t.Fatalf("expected live client, got %T", ex)
			}
			if !tc.wantLive && !isSynthetic {
				t.Fatalf("expected synthetic generator, got %T", ex)
			}
		})
	}
}
