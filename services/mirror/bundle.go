package mirror

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

const (
	manifestFileName = "manifest.yaml"
	bundleTreePrefix = "tree"
)

// BuildConfig configures bundle creation. The embedded sync configuration
// supplies the tree root, exclusions, size gate and resolver strategy, so a
// bundle contains exactly what a direct sync of the same tree would admit.
type BuildConfig struct {
	Config Config
	Output string
	Signer *Signer
	Logger *log.Logger
	Now    func() time.Time
	Stdout io.Writer
}

// BuildBundle scans the artifact tree through the standard resolver/filter
// pipeline and writes every admitted file plus a signed manifest into a
// tar.zst archive for air-gapped transfer.
func BuildBundle(ctx context.Context, cfg BuildConfig) (*Manifest, error) {
	if cfg.Output == "" {
		return nil, errors.New("output path is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.Config.Dir == "" {
		return nil, errors.New("scan directory is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	artifacts, err := collectArtifacts(ctx, cfg.Config, cfg.Logger)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, errors.New("no artifacts found to bundle")
	}

	entries := make([]ManifestArtifact, 0, len(artifacts))
	for _, art := range artifacts {
		entry, err := manifestEntry(cfg.Config.Dir, art)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Artifact != b.Artifact {
			return a.Artifact < b.Artifact
		}
		return a.Version < b.Version
	})

	manifest := &Manifest{
		Version:          "1",
		ID:               uuid.NewString(),
		CreatedAt:        cfg.Now().UTC().Truncate(time.Second),
		Signer:           cfg.Signer.Recipient(),
		SigningPublicKey: cfg.Signer.PublicKeyBase64(),
		Artifacts:        entries,
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for signing: %w", err)
	}
	sig, err := cfg.Signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	manifest.Signature = sig

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := writeBundle(cfg.Output, manifestBytes, cfg.Config.Dir, entries); err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote bundle %s (%d artifacts, %d files)\n", cfg.Output, len(entries), manifest.FileCount())
	return manifest, nil
}

// collectArtifacts drains a scanner run into a slice. The bundle admits by
// the same rules as a sync; excluded artifacts are reported the same way.
func collectArtifacts(ctx context.Context, cfg Config, logger *log.Logger) ([]Artifact, error) {
	resolver := &Resolver{Root: cfg.Dir, Strategy: cfg.Strategy}
	filter := &Filter{Exclude: cfg.Exclude, MaxSizeMiB: cfg.MaxSizeMiB}
	summary := &Summary{}
	scanner := NewScanner(resolver, filter, summary, logger)

	queue := make(chan Artifact, queueDepth)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- scanner.Run(ctx, queue)
	}()

	var artifacts []Artifact
	for art := range queue {
		artifacts = append(artifacts, art)
	}
	if err := <-scanErr; err != nil {
		return nil, fmt.Errorf("scan %s: %w", cfg.Dir, err)
	}
	return artifacts, nil
}

func manifestEntry(root string, art Artifact) (ManifestArtifact, error) {
	entry := ManifestArtifact{
		Group:    art.Coordinate.GroupID,
		Artifact: art.Coordinate.ArtifactID,
		Version:  art.Coordinate.Version,
	}

	for _, file := range art.Files {
		rel, err := filepath.Rel(root, file.LocalPath)
		if err != nil {
			return ManifestArtifact{}, fmt.Errorf("relative path for %q: %w", file.LocalPath, err)
		}

		f, err := os.Open(file.LocalPath)
		if err != nil {
			return ManifestArtifact{}, fmt.Errorf("open %q: %w", file.LocalPath, err)
		}
		hash := sha256.New()
		size, err := io.Copy(hash, f)
		f.Close()
		if err != nil {
			return ManifestArtifact{}, fmt.Errorf("hash %q: %w", file.LocalPath, err)
		}

		entry.Files = append(entry.Files, ManifestFile{
			Path:   filepath.ToSlash(rel),
			Suffix: file.RemoteSuffix,
			Size:   size,
			SHA256: hex.EncodeToString(hash.Sum(nil)),
		})
	}

	return entry, nil
}

func writeBundle(output string, manifest []byte, root string, entries []ManifestArtifact) error {
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	encoder, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	defer encoder.Close()

	tw := tar.NewWriter(encoder)
	defer tw.Close()

	manifestHeader := &tar.Header{
		Name:     manifestFileName,
		Mode:     0o644,
		Size:     int64(len(manifest)),
		ModTime:  time.Now().UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(manifestHeader); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	if _, err := tw.Write(manifest); err != nil {
		return fmt.Errorf("write manifest body: %w", err)
	}

	for _, entry := range entries {
		for _, file := range entry.Files {
			localPath := filepath.Join(root, filepath.FromSlash(file.Path))
			info, err := os.Stat(localPath)
			if err != nil {
				return fmt.Errorf("stat %q: %w", file.Path, err)
			}

			f, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("open %q: %w", file.Path, err)
			}
			header := &tar.Header{
				Name:     bundleTreePrefix + "/" + file.Path,
				Mode:     int64(info.Mode().Perm()),
				Size:     info.Size(),
				ModTime:  info.ModTime(),
				Typeflag: tar.TypeReg,
			}
			if err := tw.WriteHeader(header); err != nil {
				f.Close()
				return fmt.Errorf("write header for %q: %w", file.Path, err)
			}
			if _, err := io.Copy(tw, f); err != nil {
				f.Close()
				return fmt.Errorf("copy %q: %w", file.Path, err)
			}
			f.Close()
		}
	}

	return nil
}

// ImportBundle verifies and extracts a bundle into a fresh temporary tree
// laid out exactly like the tree it was built from. The caller owns the
// returned directory and normally runs a standard sync over it; every
// per-file idempotency guarantee applies unchanged to imported trees.
func ImportBundle(ctx context.Context, bundlePath string, signer *Signer, stdout io.Writer) (string, *Manifest, error) {
	if bundlePath == "" {
		return "", nil, errors.New("bundle file is required")
	}
	if signer == nil {
		return "", nil, errors.New("signer is required")
	}
	if stdout == nil {
		stdout = os.Stdout
	}

	in, err := os.Open(bundlePath)
	if err != nil {
		return "", nil, fmt.Errorf("open bundle: %w", err)
	}
	defer in.Close()

	decoder, err := zstd.NewReader(in)
	if err != nil {
		return "", nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	tempDir, err := os.MkdirTemp("", "mvnmirror-bundle-*")
	if err != nil {
		return "", nil, fmt.Errorf("temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tempDir) }

	var manifestBytes []byte

	tr := tar.NewReader(decoder)
	for {
		if err := ctx.Err(); err != nil {
			cleanup()
			return "", nil, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cleanup()
			return "", nil, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.ToSlash(filepath.Clean(header.Name))
		if name == manifestFileName {
			data, err := io.ReadAll(tr)
			if err != nil {
				cleanup()
				return "", nil, fmt.Errorf("read manifest: %w", err)
			}
			manifestBytes = data
			continue
		}

		rel, ok := strings.CutPrefix(name, bundleTreePrefix+"/")
		if !ok || rel == "" || strings.HasPrefix(rel, "../") || strings.Contains(rel, "/../") {
			cleanup()
			return "", nil, fmt.Errorf("invalid entry path %q", header.Name)
		}

		target := filepath.Join(tempDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("mkdir for %q: %w", rel, err)
		}
		f, err := os.Create(target)
		if err != nil {
			cleanup()
			return "", nil, fmt.Errorf("create %q: %w", rel, err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			cleanup()
			return "", nil, fmt.Errorf("extract %q: %w", rel, err)
		}
		f.Close()
	}

	if len(manifestBytes) == 0 {
		cleanup()
		return "", nil, errors.New("bundle missing manifest.yaml")
	}

	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != "1" {
		cleanup()
		return "", nil, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}
	if manifest.Signature == "" {
		cleanup()
		return "", nil, errors.New("manifest missing signature")
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if err := signer.Verify(payload, manifest.Signature, manifest.SigningPublicKey); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("verify manifest signature: %w", err)
	}

	for _, art := range manifest.Artifacts {
		for _, file := range art.Files {
			if err := validateBundleFile(tempDir, file); err != nil {
				cleanup()
				return "", nil, err
			}
		}
	}

	fmt.Fprintf(stdout, "verified bundle %s signed at %s (%d artifacts, %d files)\n",
		manifest.ID, manifest.CreatedAt.Format(time.RFC3339), len(manifest.Artifacts), manifest.FileCount())

	return tempDir, &manifest, nil
}

func validateBundleFile(root string, file ManifestFile) error {
	path := filepath.Join(root, filepath.FromSlash(file.Path))
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bundle file %q missing: %w", file.Path, err)
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return fmt.Errorf("hash %q: %w", file.Path, err)
	}
	if size != file.Size {
		return fmt.Errorf("size mismatch for %q: expected %d got %d", file.Path, file.Size, size)
	}
	if computed := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(computed, file.SHA256) {
		return fmt.Errorf("sha256 mismatch for %q", file.Path)
	}
	return nil
}
