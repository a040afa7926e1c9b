package updater

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// maxDownloadBytes bounds manifests and artifacts read from the update host.
const maxDownloadBytes = 256 << 20

// ErrNoSource is returned when no update base URL has been configured.
var ErrNoSource = errors.New("no update base URL configured")

// ErrNoPublicKey is returned when no manifest signing key has been configured.
var ErrNoPublicKey = errors.New("no update public key configured")

// Manifest lists the builds published on a channel.
type Manifest struct {
	Version     string  `json:"version"`
	Channel     string  `json:"channel"`
	NotesURL    string  `json:"notes_url,omitempty"`
	GeneratedAt string  `json:"generated_at,omitempty"`
	Builds      []Build `json:"builds"`
}

// Build describes how to update one OS/architecture pair.
type Build struct {
	OS    string   `json:"os"`
	Arch  string   `json:"arch"`
	Full  Artifact `json:"full"`
	Delta *Delta   `json:"delta,omitempty"`
}

// Artifact is a complete binary.
type Artifact struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

// Delta is a bsdiff patch from FromVersion to the manifest version.
type Delta struct {
	FromVersion string `json:"from_version"`
	URL         string `json:"url"`
	SHA256      string `json:"sha256"`
}

// BuildFor returns the build for goos/goarch.
func (m Manifest) BuildFor(goos, goarch string) (Build, bool) {
	for _, b := range m.Builds {
		if strings.EqualFold(b.OS, goos) && strings.EqualFold(b.Arch, goarch) {
			return b, true
		}
	}
	return Build{}, false
}

// DecodeManifest parses manifest JSON and checks the required fields.
func DecodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if strings.TrimSpace(m.Version) == "" {
		return Manifest{}, errors.New("manifest missing version")
	}
	if len(m.Builds) == 0 {
		return Manifest{}, errors.New("manifest missing builds")
	}
	for i, b := range m.Builds {
		if strings.TrimSpace(b.Full.URL) == "" || strings.TrimSpace(b.Full.SHA256) == "" {
			return Manifest{}, fmt.Errorf("manifest build %d (%s/%s) missing full artifact", i, b.OS, b.Arch)
		}
	}
	return m, nil
}

// ParsePublicKey decodes a base64 ed25519 public key.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, ErrNoPublicKey
	}
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode update public key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("update public key has invalid length %d", len(key))
	}
	return ed25519.PublicKey(key), nil
}

// FetchManifest downloads <baseURL>/<channel>/manifest.json and its detached
// .sig, verifies the signature with pub and returns the parsed manifest along
// with the raw bytes that were verified.
func FetchManifest(ctx context.Context, client *http.Client, baseURL, channel string, pub ed25519.PublicKey) (Manifest, []byte, error) {
	if client == nil {
		client = &http.Client{}
	}
	if len(pub) != ed25519.PublicKeySize {
		return Manifest{}, nil, ErrNoPublicKey
	}
	channel, err := NormalizeChannel(channel)
	if err != nil {
		return Manifest{}, nil, err
	}

	manifestURL, err := manifestURLFor(baseURL, channel)
	if err != nil {
		return Manifest{}, nil, err
	}
	manifestData, err := download(ctx, client, manifestURL, "")
	if err != nil {
		return Manifest{}, nil, err
	}
	sigData, err := download(ctx, client, manifestURL+".sig", "")
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("download manifest signature: %w", err)
	}
	sig, err := decodeSignature(sigData)
	if err != nil {
		return Manifest{}, nil, err
	}
	if !ed25519.Verify(pub, manifestData, sig) {
		return Manifest{}, nil, errors.New("manifest signature verification failed")
	}

	manifest, err := DecodeManifest(manifestData)
	if err != nil {
		return Manifest{}, nil, err
	}
	if manifest.Channel != "" && !strings.EqualFold(manifest.Channel, channel) {
		return Manifest{}, nil, fmt.Errorf("manifest is for channel %q, requested %q", manifest.Channel, channel)
	}
	return manifest, manifestData, nil
}

func manifestURLFor(baseURL, channel string) (string, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return "", ErrNoSource
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("base URL %q must use http or https", baseURL)
	}
	u.Path = path.Join(u.Path, channel, "manifest.json")
	return u.String(), nil
}

func download(ctx context.Context, client *http.Client, targetURL, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	if userAgent == "" {
		userAgent = defaultUserAgent("dev")
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", targetURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("download %s: unexpected status %d: %s", targetURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", targetURL, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("download %s: response exceeds %d bytes", targetURL, maxDownloadBytes)
	}
	return data, nil
}

func decodeSignature(raw []byte) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("invalid signature length %d", len(sig))
	}
	return sig, nil
}

// DecodeHex decodes a hex SHA-256 checksum.
func DecodeHex(sum string) ([]byte, error) {
	cleaned := strings.TrimSpace(sum)
	if len(cleaned) == 0 {
		return nil, errors.New("empty checksum")
	}
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("invalid checksum length %d", len(cleaned))
	}
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode checksum: %w", err)
	}
	return b, nil
}
