package mirror

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	t.Setenv(envAgeSecretKey, identity.String())
	t.Setenv(envAgePublicKey, "")

	signer, err := NewSignerFromEnv()
	if err != nil {
		t.Fatalf("NewSignerFromEnv() error = %v", err)
	}
	return signer
}

func TestSignerRoundTrip(t *testing.T) {
	signer := testSigner(t)

	payload := []byte("manifest payload")
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if err := signer.Verify(payload, sig, signer.PublicKeyBase64()); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := signer.Verify([]byte("tampered"), sig, signer.PublicKeyBase64()); err == nil {
		t.Fatal("Verify() accepted a tampered payload")
	}
}

func TestSignerVerifyOnly(t *testing.T) {
	signer := testSigner(t)
	payload := []byte("payload")
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	t.Setenv(envAgeSecretKey, "")
	t.Setenv(envAgePublicKey, signer.PublicKeyBase64())
	verifier, err := NewSignerFromEnv()
	if err != nil {
		t.Fatalf("NewSignerFromEnv() error = %v", err)
	}

	if err := verifier.Verify(payload, sig, ""); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if _, err := verifier.Sign(payload); err == nil {
		t.Fatal("Sign() succeeded without a private key")
	}
}

func TestSignerRequiresKeys(t *testing.T) {
	t.Setenv(envAgeSecretKey, "")
	t.Setenv(envAgePublicKey, "")
	if _, err := NewSignerFromEnv(); err == nil {
		t.Fatal("NewSignerFromEnv() succeeded with no keys")
	}
}

func TestManifestSigningBytesExcludeSignature(t *testing.T) {
	m := Manifest{Version: "1", ID: "abc", Signature: "sig"}

	payload, err := m.SigningBytes()
	if err != nil {
		t.Fatalf("SigningBytes() error = %v", err)
	}
	if strings.Contains(string(payload), "sig") {
		t.Fatalf("signing payload contains the signature: %q", payload)
	}

	unsigned := m
	unsigned.Signature = ""
	again, err := unsigned.SigningBytes()
	if err != nil {
		t.Fatalf("SigningBytes() error = %v", err)
	}
	if string(payload) != string(again) {
		t.Fatal("signing payload depends on the signature field")
	}
}

func TestBundleRoundTrip(t *testing.T) {
	signer := testSigner(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "com/example/lib/1.0/lib-1.0.pom"), "<project/>")
	writeFile(t, filepath.Join(root, "com/example/lib/1.0/lib-1.0.jar"), "jar bytes")
	writeFile(t, filepath.Join(root, "com/example/secret-lib/1.0/secret-lib-1.0.pom"), "<project/>")

	output := filepath.Join(t.TempDir(), "bundles/artifacts.tar.zst")
	manifest, err := BuildBundle(context.Background(), BuildConfig{
		Config: Config{
			Dir:      root,
			Exclude:  []string{"secret"},
			Strategy: StrategyPrefix,
		},
		Output: output,
		Signer: signer,
		Stdout: io.Discard,
	})
	if err != nil {
		t.Fatalf("BuildBundle() error = %v", err)
	}

	if len(manifest.Artifacts) != 1 {
		t.Fatalf("manifest artifacts = %d, want 1 (excluded artifact bundled)", len(manifest.Artifacts))
	}
	if manifest.FileCount() != 2 {
		t.Fatalf("manifest files = %d, want 2", manifest.FileCount())
	}
	if manifest.Signature == "" || manifest.ID == "" {
		t.Fatal("manifest missing signature or id")
	}

	treeDir, imported, err := ImportBundle(context.Background(), output, signer, io.Discard)
	if err != nil {
		t.Fatalf("ImportBundle() error = %v", err)
	}
	defer os.RemoveAll(treeDir)

	if imported.ID != manifest.ID {
		t.Fatalf("imported id = %q, want %q", imported.ID, manifest.ID)
	}

	// The extracted tree has the original layout, so a sync resolves the
	// same coordinates.
	artifacts, _ := scanTree(t, treeDir, nil)
	if len(artifacts) != 1 {
		t.Fatalf("extracted artifacts = %d, want 1", len(artifacts))
	}
	if got := artifacts[0].Coordinate.String(); got != "com.example:lib:1.0" {
		t.Fatalf("extracted coordinate = %s", got)
	}

	data, err := os.ReadFile(filepath.Join(treeDir, "com/example/lib/1.0/lib-1.0.jar"))
	if err != nil {
		t.Fatalf("read extracted jar: %v", err)
	}
	if string(data) != "jar bytes" {
		t.Fatalf("extracted jar = %q", data)
	}
}

func TestImportBundleRejectsTamper(t *testing.T) {
	signer := testSigner(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "com/example/lib/1.0/lib-1.0.pom"), "<project/>")

	output := filepath.Join(t.TempDir(), "artifacts.tar.zst")
	if _, err := BuildBundle(context.Background(), BuildConfig{
		Config: Config{Dir: root, Strategy: StrategyPrefix},
		Output: output,
		Signer: signer,
		Stdout: io.Discard,
	}); err != nil {
		t.Fatalf("BuildBundle() error = %v", err)
	}

	// A different key must not verify the manifest.
	other := testSigner(t)
	if _, _, err := ImportBundle(context.Background(), output, other, io.Discard); err == nil {
		t.Fatal("ImportBundle() accepted a manifest signed by another key")
	}
}
