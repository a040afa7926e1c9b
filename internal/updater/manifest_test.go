package updater

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveManifest(t *testing.T, channel string, manifest, sig []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/"+channel+"/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.UserAgent(), "autodecode/") {
			http.Error(w, "unexpected user agent", http.StatusForbidden)
			return
		}
		w.Write(manifest)
	})
	mux.HandleFunc("/"+channel+"/manifest.json.sig", func(w http.ResponseWriter, r *http.Request) {
		w.Write(sig)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchManifest(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	manifest := Manifest{
		Version: "1.2.3",
		Channel: ChannelBeta,
		Builds: []Build{{
			OS:   "linux",
			Arch: "amd64",
			Full: Artifact{URL: "https://example.com/full", SHA256: "abcd"},
		}},
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	srv := serveManifest(t, ChannelBeta, data, sign(t, priv, data))

	got, raw, err := FetchManifest(context.Background(), srv.Client(), srv.URL+"/", ChannelBeta, pub)
	if err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	if string(raw) != string(data) {
		t.Fatalf("unexpected raw manifest")
	}
	if got.Version != manifest.Version {
		t.Fatalf("expected version %s, got %s", manifest.Version, got.Version)
	}
	build, ok := got.BuildFor("LINUX", "amd64")
	if !ok || build.Full.URL != "https://example.com/full" {
		t.Fatalf("expected case-insensitive build lookup, got %+v %v", build, ok)
	}
	if _, ok := got.BuildFor("plan9", "386"); ok {
		t.Fatal("expected no plan9 build")
	}
}

func TestFetchManifestInvalidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	manifest := []byte(`{"version":"1.0.0","channel":"stable","builds":[{"os":"linux","arch":"amd64","full":{"url":"https://example.com","sha256":"aa"}}]}`)

	tests := []struct {
		name string
		sig  []byte
		key  ed25519.PublicKey
	}{
		{"garbage signature", []byte("invalid"), pub},
		{"short signature", []byte(base64.StdEncoding.EncodeToString([]byte("short"))), pub},
		{"wrong key", sign(t, priv, manifest), otherPub},
		{"tampered manifest", sign(t, priv, []byte(`{"version":"0.0.1"}`)), pub},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serveManifest(t, ChannelStable, manifest, tt.sig)
			if _, _, err := FetchManifest(context.Background(), srv.Client(), srv.URL, ChannelStable, tt.key); err == nil {
				t.Fatalf("expected signature error")
			}
		})
	}
}

func TestFetchManifestChannelMismatch(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	manifest := []byte(`{"version":"1.0.0","channel":"beta","builds":[{"os":"linux","arch":"amd64","full":{"url":"https://example.com","sha256":"aa"}}]}`)
	srv := serveManifest(t, ChannelStable, manifest, sign(t, priv, manifest))

	if _, _, err := FetchManifest(context.Background(), srv.Client(), srv.URL, ChannelStable, pub); err == nil {
		t.Fatal("expected channel mismatch error")
	}
}

func TestFetchManifestRequiresSourceAndKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, _, err := FetchManifest(context.Background(), nil, "", ChannelStable, pub); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
	if _, _, err := FetchManifest(context.Background(), nil, "https://example.com", ChannelStable, nil); !errors.Is(err, ErrNoPublicKey) {
		t.Fatalf("expected ErrNoPublicKey, got %v", err)
	}
	if _, _, err := FetchManifest(context.Background(), nil, "ftp://example.com", ChannelStable, pub); err == nil {
		t.Fatal("expected error for non-http base URL")
	}
}

func TestDecodeManifest(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid", `{"version":"1","builds":[{"os":"linux","arch":"amd64","full":{"url":"u","sha256":"aa"}}]}`, false},
		{"bad json", `{`, true},
		{"missing version", `{"builds":[{"os":"linux","arch":"amd64","full":{"url":"u","sha256":"aa"}}]}`, true},
		{"missing builds", `{"version":"1"}`, true},
		{"missing artifact", `{"version":"1","builds":[{"os":"linux","arch":"amd64"}]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeManifest([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeManifest error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParsePublicKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	got, err := ParsePublicKey(" " + base64.StdEncoding.EncodeToString(pub) + "\n")
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if !got.Equal(pub) {
		t.Fatal("parsed key differs")
	}
	if _, err := ParsePublicKey(""); !errors.Is(err, ErrNoPublicKey) {
		t.Fatalf("expected ErrNoPublicKey, got %v", err)
	}
	if _, err := ParsePublicKey("!!"); err == nil {
		t.Fatal("expected base64 error")
	}
	if _, err := ParsePublicKey(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatal("expected length error")
	}
}

func TestDecodeHex(t *testing.T) {
	if b, err := DecodeHex(" 0aff "); err != nil || len(b) != 2 || b[1] != 0xff {
		t.Fatalf("DecodeHex: %v %v", b, err)
	}
	for _, bad := range []string{"", "abc", "zz"} {
		if _, err := DecodeHex(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
