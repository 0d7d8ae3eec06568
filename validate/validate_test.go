package validate_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lesleslie/mahavishnu/validate"
)

func gitRepo(t *testing.T) (root, repo string) {
	t.Helper()
	root = t.TempDir()
	repo = filepath.Join(root, "service-a")
	if err := os.MkdirAll(filepath.Join(repo, ".git"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return root, repo
}

func TestValidateRepoPath_Accepts(t *testing.T) {
	root, repo := gitRepo(t)
	if err := validate.ValidateRepoPath(root, repo); err != nil {
		t.Fatalf("ValidateRepoPath() = %v, want nil", err)
	}
}

func TestValidateRepoPath_RejectsEmpty(t *testing.T) {
	if err := validate.ValidateRepoPath("", ""); !errors.Is(err, validate.ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestValidateRepoPath_RejectsEscape(t *testing.T) {
	root, _ := gitRepo(t)
	if err := validate.ValidateRepoPath(root, "../../etc"); !errors.Is(err, validate.ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestValidateRepoPath_RejectsMissing(t *testing.T) {
	root, _ := gitRepo(t)
	if err := validate.ValidateRepoPath(root, filepath.Join(root, "does-not-exist")); !errors.Is(err, validate.ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestValidateRepoPath_RejectsNonGit(t *testing.T) {
	root := t.TempDir()
	notRepo := filepath.Join(root, "plain-dir")
	if err := os.MkdirAll(notRepo, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := validate.ValidateRepoPath(root, notRepo); !errors.Is(err, validate.ErrNotAGitRepo) {
		t.Fatalf("err = %v, want ErrNotAGitRepo", err)
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid simple", "task-1", false},
		{"valid with dot", "engine.v2", false},
		{"empty", "", true},
		{"leading punctuation", "-task", true},
		{"contains space", "task 1", true},
		{"too long", string(make([]byte, validate.MaxIdentifierLength+1)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.ValidateIdentifier(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateIdentifier(%q) err = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

type fakeProvider struct {
	name  string
	value string
	err   error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Resolve(ctx context.Context, ref string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.value, nil
}

func TestSecretRef_ParseAndResolve(t *testing.T) {
	ref, err := validate.ParseSecretRef("secretref:vault:db/password")
	if err != nil {
		t.Fatalf("ParseSecretRef() error = %v", err)
	}
	if ref.Provider() != "vault" {
		t.Fatalf("Provider() = %q, want vault", ref.Provider())
	}
	if got := ref.String(); got != "secretref:vault:db/password" {
		t.Fatalf("String() = %q", got)
	}

	providers := map[string]validate.SecretProvider{
		"vault": &fakeProvider{name: "vault", value: "hunter2"},
	}
	resolved, err := ref.Resolve(context.Background(), providers)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved != "hunter2" {
		t.Fatalf("Resolve() = %q, want hunter2", resolved)
	}
}

func TestSecretRef_ParseRejectsMalformed(t *testing.T) {
	cases := []string{"", "plain-value", "secretref:", "secretref:vault", "secretref:vault:"}
	for _, c := range cases {
		if _, err := validate.ParseSecretRef(c); !errors.Is(err, validate.ErrInvalidSecretRef) {
			t.Fatalf("ParseSecretRef(%q) err = %v, want ErrInvalidSecretRef", c, err)
		}
	}
}

func TestSecretRef_ResolveUnregisteredProvider(t *testing.T) {
	ref, err := validate.ParseSecretRef("secretref:unknown:ref")
	if err != nil {
		t.Fatalf("ParseSecretRef() error = %v", err)
	}
	if _, err := ref.Resolve(context.Background(), map[string]validate.SecretProvider{}); err == nil {
		t.Fatal("Resolve() error = nil, want error for unregistered provider")
	}
}
