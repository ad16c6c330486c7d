package staging

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cybergis/compute-supervisor/internal/globus"
	"github.com/cybergis/compute-supervisor/internal/shell"
	"github.com/cybergis/compute-supervisor/internal/types"
)

// LocalSource stages a directory on the supervisor host.
type LocalSource struct {
	Path string
}

func (s LocalSource) Fingerprint() string { return filepath.Base(s.Path) }

// StageInto zips Path locally, uploads it via sh and unzips it at
// dstPath, deleting the local zip afterward.
func (s LocalSource) StageInto(ctx context.Context, sh shell.Session, dstPath string) error {
	return zipUploadUnzip(ctx, sh, s.Path, dstPath)
}

// GitSource stages a clone of a registered repository. StageInto
// refreshes the local mirror (clone if absent, else `git pull --ff-only`)
// before reusing the local staging pipeline.
type GitSource struct {
	Git types.Git
}

func (s GitSource) Fingerprint() string { return s.Git.ID }

func (s GitSource) StageInto(ctx context.Context, sh shell.Session, dstPath string) error {
	if err := s.refreshMirror(ctx); err != nil {
		return fmt.Errorf("git source: refresh mirror %s: %w", s.Git.URL, err)
	}
	return zipUploadUnzip(ctx, sh, s.Git.LocalMirrorPath, dstPath)
}

// UpstreamUpdatedAt implements UpstreamTimestamper using the repo's last
// commit time, the only source kind with a working staleness check. The
// local mirror is refreshed first so the time reflects the upstream repo.
func (s GitSource) UpstreamUpdatedAt(ctx context.Context) (time.Time, error) {
	if err := s.refreshMirror(ctx); err != nil {
		return time.Time{}, fmt.Errorf("git source: refresh mirror %s: %w", s.Git.URL, err)
	}
	out, err := exec.CommandContext(ctx, "git", "-C", s.Git.LocalMirrorPath, "log", "-1", "--format=%ct").Output()
	if err != nil {
		return time.Time{}, fmt.Errorf("git log: %w", err)
	}
	var unixSeconds int64
	if _, err := fmt.Sscanf(string(out), "%d", &unixSeconds); err != nil {
		return time.Time{}, fmt.Errorf("parse git log timestamp: %w", err)
	}
	return time.Unix(unixSeconds, 0), nil
}

func (s GitSource) refreshMirror(ctx context.Context) error {
	if _, err := os.Stat(s.Git.LocalMirrorPath); os.IsNotExist(err) {
		cmd := exec.CommandContext(ctx, "git", "clone", s.Git.URL, s.Git.LocalMirrorPath)
		return cmd.Run()
	}
	cmd := exec.CommandContext(ctx, "git", "-C", s.Git.LocalMirrorPath, "pull", "--ff-only")
	return cmd.Run()
}

// GlobusSource stages a folder via a direct remote-to-remote Globus
// transfer; it never touches the supervisor host's local disk.
type GlobusSource struct {
	Client       globus.Client
	Source       globus.Endpoint
	PollInterval time.Duration
}

func (s GlobusSource) Fingerprint() string {
	return sanitizePath(s.Source.CollectionID + "/" + s.Source.Path)
}

// StageInto initiates a remote-to-remote transfer into dstPath and polls
// until it reports SUCCEEDED or FAILED.
func (s GlobusSource) StageInto(ctx context.Context, sh shell.Session, dstPath string) error {
	dst := globus.Endpoint{Path: dstPath}
	taskID, err := s.Client.InitTransfer(ctx, s.Source, dst)
	if err != nil {
		return fmt.Errorf("globus source: init transfer: %w", err)
	}
	interval := s.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if _, err := s.Client.MonitorTransfer(ctx, taskID, interval); err != nil {
		return fmt.Errorf("globus source: transfer %s: %w", taskID, err)
	}
	return nil
}

// EmptySource creates an empty remote directory with no upload.
type EmptySource struct{}

func (EmptySource) Fingerprint() string { return "" }

func (EmptySource) StageInto(ctx context.Context, sh shell.Session, dstPath string) error {
	return sh.Mkdir(ctx, dstPath, true)
}

// zipUploadUnzip implements the Local/Git staging recipe shared by both
// source kinds: zip locally, upload, unzip remotely, delete the local
// zip.
func zipUploadUnzip(ctx context.Context, sh shell.Session, localDir, dstPath string) error {
	zipPath := localDir + ".stage.zip"
	defer os.Remove(zipPath)

	if err := localZip(ctx, localDir, zipPath); err != nil {
		return fmt.Errorf("zip %s: %w", localDir, err)
	}
	remoteZip := dstPath + ".zip"
	if err := sh.Upload(ctx, zipPath, remoteZip, false, false); err != nil {
		return fmt.Errorf("upload %s: %w", zipPath, err)
	}
	if err := sh.Unzip(ctx, remoteZip, dstPath); err != nil {
		return fmt.Errorf("unzip %s: %w", remoteZip, err)
	}
	if err := sh.Rm(ctx, remoteZip); err != nil {
		return fmt.Errorf("remove remote zip %s: %w", remoteZip, err)
	}
	return nil
}

// localZip archives dir into a zip file at zipPath. No ecosystem zip
// library is used elsewhere in the corpus for writing archives (only
// archive/zip readers appear), so this is built directly on the
// standard library.
func localZip(ctx context.Context, dir, zipPath string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := zip.NewWriter(f)
	defer w.Close()

	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		entry, err := w.Create(rel)
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(entry, src)
		return err
	})
}

// sanitizePath renders a Globus path as a filesystem-safe fingerprint.
func sanitizePath(p string) string {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
