// Command build_manifests turns the per-channel release descriptions under
// packaging/updater into signed manifests that autodecode self-update reads.
package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RowanDark/autodecode/internal/env"
	"github.com/RowanDark/autodecode/internal/updater"
)

const (
	signingKeyVar       = "AUTODECODE_UPDATER_SIGNING_KEY"
	legacySigningKeyVar = "AUTOTOOLS_UPDATER_SIGNING_KEY"
)

type artifactInput struct {
	URL    string `yaml:"url"`
	Path   string `yaml:"path"`
	SHA256 string `yaml:"sha256"`
}

type deltaInput struct {
	FromVersion string `yaml:"from_version"`
	URL         string `yaml:"url"`
	Path        string `yaml:"path"`
	SHA256      string `yaml:"sha256"`
}

type buildInput struct {
	OS    string        `yaml:"os"`
	Arch  string        `yaml:"arch"`
	Full  artifactInput `yaml:"full"`
	Delta *deltaInput   `yaml:"delta"`
}

type channelInput struct {
	Channel  string       `yaml:"channel"`
	Version  string       `yaml:"version"`
	NotesURL string       `yaml:"notes_url"`
	Builds   []buildInput `yaml:"builds"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("build_manifests", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configDir := fs.String("config", filepath.Join("packaging", "updater"), "directory holding one YAML file per channel")
	outDir := fs.String("out", filepath.Join("out", "updater"), "output directory for <channel>/manifest.json")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := build(*configDir, *outDir, stdout); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func build(configDir, outDir string, stdout io.Writer) error {
	key, err := loadSigningKey()
	if err != nil {
		return err
	}
	files, err := channelFiles(configDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	now := time.Now().UTC()
	for _, file := range files {
		path, err := processChannel(file, outDir, key, now)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		fmt.Fprintf(stdout, "wrote %s\n", path)
	}
	return nil
}

// channelFiles lists the YAML descriptions in dir, skipping *.example.yml.
func channelFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(name)
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		if strings.HasSuffix(strings.TrimSuffix(name, ext), ".example") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, errors.New("no channel configuration files found")
	}
	return files, nil
}

func processChannel(path, outDir string, key ed25519.PrivateKey, now time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}
	var input channelInput
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&input); err != nil {
		return "", fmt.Errorf("parse config: %w", err)
	}

	channel, err := updater.NormalizeChannel(input.Channel)
	if err != nil {
		return "", err
	}
	manifest := updater.Manifest{
		Version:     strings.TrimSpace(input.Version),
		Channel:     channel,
		NotesURL:    strings.TrimSpace(input.NotesURL),
		GeneratedAt: now.Format(time.RFC3339),
	}
	if manifest.Version == "" {
		return "", errors.New("version is required")
	}
	if len(input.Builds) == 0 {
		return "", errors.New("at least one build must be defined")
	}

	baseDir := filepath.Dir(path)
	for i, b := range input.Builds {
		goos, goarch := strings.TrimSpace(b.OS), strings.TrimSpace(b.Arch)
		if goos == "" || goarch == "" {
			return "", fmt.Errorf("build %d missing os/arch", i)
		}
		full, err := resolveArtifact(b.Full, baseDir)
		if err != nil {
			return "", fmt.Errorf("build %d full artifact: %w", i, err)
		}
		out := updater.Build{OS: goos, Arch: goarch, Full: full}
		if b.Delta != nil {
			from := strings.TrimSpace(b.Delta.FromVersion)
			if from == "" {
				return "", fmt.Errorf("build %d delta: from_version is required", i)
			}
			art, err := resolveArtifact(artifactInput{URL: b.Delta.URL, Path: b.Delta.Path, SHA256: b.Delta.SHA256}, baseDir)
			if err != nil {
				return "", fmt.Errorf("build %d delta: %w", i, err)
			}
			out.Delta = &updater.Delta{FromVersion: from, URL: art.URL, SHA256: art.SHA256}
		}
		manifest.Builds = append(manifest.Builds, out)
	}

	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	encoded = append(encoded, '\n')
	// Round-trip through the client's decoder so a manifest the updater would
	// reject is never published.
	if _, err := updater.DecodeManifest(encoded); err != nil {
		return "", err
	}

	manifestPath := filepath.Join(outDir, channel, "manifest.json")
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return "", fmt.Errorf("create manifest dir: %w", err)
	}
	if err := writeAtomic(manifestPath, encoded, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(key, encoded))
	if err := writeAtomic(manifestPath+".sig", []byte(sig), 0o644); err != nil {
		return "", fmt.Errorf("write signature: %w", err)
	}
	return manifestPath, nil
}

// resolveArtifact fills in the checksum from a local file when sha256 is not
// given. Relative paths are resolved against the channel file.
func resolveArtifact(in artifactInput, baseDir string) (updater.Artifact, error) {
	url := strings.TrimSpace(in.URL)
	if url == "" {
		return updater.Artifact{}, errors.New("artifact url is required")
	}
	if sha := strings.ToLower(strings.TrimSpace(in.SHA256)); sha != "" {
		if _, err := updater.DecodeHex(sha); err != nil {
			return updater.Artifact{}, err
		}
		return updater.Artifact{URL: url, SHA256: sha}, nil
	}

	p := strings.TrimSpace(in.Path)
	if p == "" {
		return updater.Artifact{}, errors.New("artifact sha256 or path must be provided")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, p)
	}
	sum, err := fileSHA256(p)
	if err != nil {
		return updater.Artifact{}, err
	}
	return updater.Artifact{URL: url, SHA256: sum}, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func loadSigningKey() (ed25519.PrivateKey, error) {
	raw, _ := env.Lookup(signingKeyVar, legacySigningKeyVar)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", signingKeyVar)
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", signingKeyVar, err)
	}
	switch len(decoded) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	default:
		return nil, fmt.Errorf("%s has invalid length %d", signingKeyVar, len(decoded))
	}
}
