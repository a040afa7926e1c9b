// Package updater replaces the running autodecode binary with a newer build
// described by a signed manifest, and can roll back to the previous build.
package updater

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	update "github.com/inconshreveable/go-update"

	"github.com/RowanDark/autodecode/internal/logging"
)

// Update modes recorded in Outcome and State.
const (
	ModeCurrent = "current"
	ModeDelta   = "delta"
	ModeFull    = "full"
)

const backupName = "autodecode.previous"

// Client fetches manifests and swaps the binary at ExecPath.
type Client struct {
	Store      *Store
	HTTPClient *http.Client
	BaseURL    string
	// PublicKey is the base64 ed25519 key manifests must be signed with.
	PublicKey      string
	ExecPath       string
	CurrentVersion string
	Out            io.Writer
	Audit          *logging.AuditLogger
}

// UpdateOptions controls how an update should be performed.
type UpdateOptions struct {
	Channel        string
	PersistChannel bool
	// AllowDowngrade installs a release older than the running one.
	AllowDowngrade bool
}

// RollbackOptions controls how a rollback should behave.
type RollbackOptions struct {
	ForceStable bool
}

// Outcome reports what Update did.
type Outcome struct {
	FromVersion string
	Version     string
	Channel     string
	Mode        string
	BackupPath  string
}

// Update fetches the manifest for opts.Channel and, unless the running build
// is already current, applies the delta patch when it matches the running
// version and the full artifact otherwise.
func (c *Client) Update(ctx context.Context, opts UpdateOptions) (Outcome, error) {
	if c.Store == nil {
		return Outcome{}, errors.New("nil state store")
	}
	out := c.out()
	channel, err := NormalizeChannel(opts.Channel)
	if err != nil {
		return Outcome{}, err
	}
	pub, err := ParsePublicKey(c.PublicKey)
	if err != nil {
		return Outcome{}, err
	}
	st, err := c.Store.Load()
	if err != nil {
		return Outcome{}, err
	}

	manifest, _, err := FetchManifest(ctx, c.httpClient(), c.BaseURL, channel, pub)
	if err != nil {
		return Outcome{}, err
	}

	current := c.version()
	outcome := Outcome{FromVersion: current, Version: manifest.Version, Channel: channel}

	if sameVersion(manifest.Version, current) || sameVersion(st.LastAppliedVersion, manifest.Version) {
		fmt.Fprintf(out, "autodecode %s is already the newest build on the %s channel\n", current, channel)
		outcome.Mode = ModeCurrent
		if opts.PersistChannel && st.Channel != channel {
			st.Channel = channel
			if err := c.Store.Save(st); err != nil {
				return Outcome{}, err
			}
		}
		return outcome, nil
	}

	if !opts.AllowDowngrade && isDowngrade(current, manifest.Version) {
		return Outcome{}, fmt.Errorf("%w: %s has %s, running %s", ErrDowngrade, channel, manifest.Version, current)
	}

	build, ok := manifest.BuildFor(runtime.GOOS, runtime.GOARCH)
	if !ok {
		return Outcome{}, fmt.Errorf("no build available for %s/%s in manifest", runtime.GOOS, runtime.GOARCH)
	}
	checksum, err := DecodeHex(build.Full.SHA256)
	if err != nil {
		return Outcome{}, fmt.Errorf("decode full checksum: %w", err)
	}

	execPath, err := c.resolveExecPath()
	if err != nil {
		return Outcome{}, err
	}
	info, err := os.Stat(execPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("stat executable: %w", err)
	}

	backupPath := filepath.Join(c.Store.Dir(), backupName)
	baseOpts := update.Options{
		TargetPath:  execPath,
		TargetMode:  info.Mode(),
		Checksum:    checksum,
		OldSavePath: backupPath,
		Hash:        crypto.SHA256,
	}
	if err := baseOpts.CheckPermissions(); err != nil {
		return Outcome{}, fmt.Errorf("insufficient permissions to update %s: %w", execPath, err)
	}

	var applyErr error
	mode := ModeFull
	if build.Delta != nil && matchesCurrentVersion(build.Delta.FromVersion, current, st.LastAppliedVersion) {
		mode = ModeDelta
		if applyErr = c.applyDelta(ctx, build, baseOpts); applyErr != nil {
			fmt.Fprintf(out, "delta update failed (%v); falling back to full download\n", applyErr)
			mode = ModeFull
		}
	}
	if mode == ModeFull {
		applyErr = c.applyFull(ctx, build, baseOpts)
	}
	if applyErr != nil {
		// Unattended jobs on beta drop back to stable after a failed update.
		if st.Channel == ChannelBeta {
			st.Channel = ChannelStable
			_ = c.Store.Save(st)
		}
		return Outcome{}, applyErr
	}

	st.PreviousVersion = current
	st.LastAppliedVersion = manifest.Version
	st.BackupPath = backupPath
	st.LastAppliedAt = time.Now().UTC()
	st.LastMode = mode
	if opts.PersistChannel {
		st.Channel = channel
	}
	if err := c.Store.Save(st); err != nil {
		return Outcome{}, err
	}

	outcome.Mode = mode
	outcome.BackupPath = backupPath
	c.audit("update", outcome.FromVersion, outcome.Version, channel, mode)
	fmt.Fprintf(out, "updated autodecode to %s on the %s channel (%s)\n", manifest.Version, channel, mode)
	return outcome, nil
}

func (c *Client) applyDelta(ctx context.Context, build Build, opts update.Options) error {
	patchData, err := c.download(ctx, build.Delta.URL)
	if err != nil {
		return fmt.Errorf("download delta: %w", err)
	}
	expected, err := DecodeHex(build.Delta.SHA256)
	if err != nil {
		return fmt.Errorf("decode delta checksum: %w", err)
	}
	actual := sha256.Sum256(patchData)
	if !bytes.Equal(actual[:], expected) {
		return fmt.Errorf("delta checksum mismatch: got %x want %x", actual, expected)
	}
	opts.Patcher = update.NewBSDiffPatcher()
	return apply("apply delta update", patchData, opts)
}

func (c *Client) applyFull(ctx context.Context, build Build, opts update.Options) error {
	data, err := c.download(ctx, build.Full.URL)
	if err != nil {
		return fmt.Errorf("download full artifact: %w", err)
	}
	return apply("apply update", data, opts)
}

func apply(what string, data []byte, opts update.Options) error {
	if err := update.Apply(bytes.NewReader(data), opts); err != nil {
		if rerr := update.RollbackError(err); rerr != nil {
			return fmt.Errorf("%s: %v (rollback failed: %v)", what, err, rerr)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// Rollback restores the backup kept by the last update and returns the
// version now installed.
func (c *Client) Rollback(ctx context.Context, opts RollbackOptions) (string, error) {
	if c.Store == nil {
		return "", errors.New("nil state store")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	st, err := c.Store.Load()
	if err != nil {
		return "", err
	}
	if st.BackupPath == "" {
		return "", errors.New("no rollback backup recorded")
	}
	backup, err := os.ReadFile(st.BackupPath)
	if err != nil {
		return "", fmt.Errorf("read backup binary: %w", err)
	}
	execPath, err := c.resolveExecPath()
	if err != nil {
		return "", err
	}
	info, err := os.Stat(execPath)
	if err != nil {
		return "", fmt.Errorf("stat executable: %w", err)
	}
	sum := sha256.Sum256(backup)
	err = apply("rollback", backup, update.Options{
		TargetPath:  execPath,
		TargetMode:  info.Mode(),
		OldSavePath: st.BackupPath,
		Checksum:    sum[:],
		Hash:        crypto.SHA256,
	})
	if err != nil {
		return "", err
	}

	from := st.LastAppliedVersion
	st.LastAppliedAt = time.Now().UTC()
	st.LastAppliedVersion, st.PreviousVersion = st.PreviousVersion, st.LastAppliedVersion
	st.LastMode = "rollback"
	if opts.ForceStable {
		st.Channel = ChannelStable
	}
	if err := c.Store.Save(st); err != nil {
		return "", err
	}
	c.audit("rollback", from, st.LastAppliedVersion, st.Channel, "rollback")
	fmt.Fprintf(c.out(), "rolled back autodecode to %s\n", st.LastAppliedVersion)
	return st.LastAppliedVersion, nil
}

func (c *Client) audit(action, from, to, channel, mode string) {
	if c.Audit == nil {
		return
	}
	_ = c.Audit.Emit(logging.AuditEvent{
		EventType: logging.EventUpdateApplied,
		Decision:  logging.DecisionInfo,
		Metadata: map[string]any{
			"action":  action,
			"from":    from,
			"to":      to,
			"channel": channel,
			"mode":    mode,
		},
	})
}

func (c *Client) resolveExecPath() (string, error) {
	if strings.TrimSpace(c.ExecPath) != "" {
		return c.ExecPath, nil
	}
	path, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("determine executable path: %w", err)
	}
	return path, nil
}

func (c *Client) download(ctx context.Context, targetURL string) ([]byte, error) {
	return download(ctx, c.httpClient(), targetURL, defaultUserAgent(c.version()))
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) out() io.Writer {
	if c.Out == nil {
		return io.Discard
	}
	return c.Out
}

func (c *Client) version() string {
	if v := strings.TrimSpace(c.CurrentVersion); v != "" {
		return v
	}
	return "dev"
}

func defaultUserAgent(version string) string {
	return fmt.Sprintf("autodecode/%s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func matchesCurrentVersion(from, current, lastApplied string) bool {
	return sameVersion(from, current) || sameVersion(from, lastApplied)
}
