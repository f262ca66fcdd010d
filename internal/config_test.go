package internal

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/starford/tagledger/internal/models"
	"github.com/starford/tagledger/internal/settings"
	"github.com/starford/tagledger/internal/tagservice"
	pkgconfig "github.com/starford/tagledger/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestTagDetailConfig_InvalidStoreIn(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.TagDetail.StoreIn = "cloud"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown store_in should fail")
	}
}

func TestTagDetailConfig_InvalidPolicy(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.TagDetail.OnAmbiguous = "guess"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown on_ambiguous should fail")
	}
}

func TestTagDetailConfig_InvalidSchema(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.TagDetail.Schemas = []settings.TagSchema{{Tag: "meeting"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("schema tag without # should fail")
	}
}

func TestConfig_ParseYAML(t *testing.T) {
	t.Setenv("TAGLEDGER_TEST_TOKEN", "s3cret")
	doc := `
app:
  log_level: debug
  http:
    port: 9000
auth:
  mode: token
  token: ${TAGLEDGER_TEST_TOKEN}
tag_detail:
  store_in: plugin
  on_ambiguous: flag
  schemas:
    - tag: "#meeting"
      attributes:
        - name: room
          default: A1
      items:
        - name: when
          type: date
`
	cfg := NewDefaultConfig()
	if err := pkgconfig.Parse([]byte(doc), cfg); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9000 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Auth.Token != "s3cret" {
		t.Errorf("token = %q", cfg.Auth.Token)
	}
	if cfg.TagDetail.FrontmatterKey != "tag-details" || !cfg.TagDetail.Enabled {
		t.Errorf("defaults lost: %+v", cfg.TagDetail)
	}

	opts := cfg.TagDetail.SettingsDefaults()
	if opts.StoreIn != settings.StoreInPlugin || len(opts.Schemas) != 1 {
		t.Fatalf("settings defaults = %+v", opts)
	}
	sc := opts.Schemas[0]
	if sc.Attributes[0].Default == nil || *sc.Attributes[0].Default != "A1" || sc.Items[0].Type != models.ItemDate {
		t.Errorf("schema = %+v", sc)
	}
	if cfg.TagDetail.ServiceOptions(nil).OnAmbiguous != tagservice.PolicyFlag {
		t.Error("policy not carried to service options")
	}
}
