package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// stepProtectedPath rejects any write/edit whose canonicalized target is
// inside the configured protected-path set, unless mutations are
// explicitly allowed. Grounded on the teacher's checkDeniedPath idiom
// (canonicalize the root, then test prefix containment).
func stepProtectedPath(_ context.Context, _ *Gate, snap Snapshot, a Action) (Result, bool) {
	if snap.AllowProtectedPathMutations || len(a.FilesystemTargets) == 0 {
		return contOK()
	}
	for _, target := range a.FilesystemTargets {
		abs, err := filepath.Abs(target)
		if err != nil {
			return errDeny(ReasonProtectedPath, err)
		}
		for _, root := range snap.AllowedRoots {
			rootAbs, err := filepath.Abs(root)
			if err != nil {
				continue
			}
			for _, protected := range snap.ProtectedPaths {
				if isPathInside(abs, filepath.Join(rootAbs, protected)) || abs == filepath.Join(rootAbs, protected) {
					return deny(ReasonProtectedPath, fmt.Sprintf("%s is a protected path", protected)), false
				}
			}
		}
	}
	return contOK()
}

// stepRootContainment canonicalizes every filesystem argument and
// requires it land under at least one allowed root, following symlinks
// the same way the teacher's resolvePath does: resolve what exists,
// resolve the nearest existing ancestor for what doesn't, and fail closed
// if resolution itself errors.
func stepRootContainment(_ context.Context, _ *Gate, snap Snapshot, a Action) (Result, bool) {
	if len(a.FilesystemTargets) == 0 {
		return contOK()
	}
	if len(snap.AllowedRoots) == 0 {
		return deny(ReasonOutsideRoots, "no allowed roots configured"), false
	}

	canonicalRoots := make([]string, 0, len(snap.AllowedRoots))
	for _, root := range snap.AllowedRoots {
		canonicalRoots = append(canonicalRoots, canonicalize(root))
	}

	for _, target := range a.FilesystemTargets {
		real, err := resolveCanonical(target)
		if err != nil {
			return errDeny(ReasonOutsideRoots, err)
		}

		inside := false
		for _, root := range canonicalRoots {
			if isPathInside(real, root) {
				inside = true
				break
			}
		}
		if !inside {
			if isSymlink(target) {
				return deny(ReasonSymlinkDenied, fmt.Sprintf("%s resolves outside every allowed root via a symlink", target)), false
			}
			return deny(ReasonOutsideRoots, fmt.Sprintf("%s is outside every allowed root", target)), false
		}
	}
	return contOK()
}

// isSymlink reports whether path itself (not its target) is a symlink.
func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// stepRegularFile rejects non-regular targets (symlinks, sockets,
// non-directory cwds) when the snapshot requires it.
func stepRegularFile(_ context.Context, _ *Gate, snap Snapshot, a Action) (Result, bool) {
	if !snap.RequireRegularFile || len(a.FilesystemTargets) == 0 {
		return contOK()
	}
	for _, target := range a.FilesystemTargets {
		info, err := os.Lstat(target)
		if err != nil {
			if os.IsNotExist(err) {
				continue // not-yet-created target, nothing to validate
			}
			return errDeny(ReasonNotRegularFile, err)
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return deny(ReasonNotRegularFile, fmt.Sprintf("%s is not a regular file or directory", target)), false
		}
	}
	return contOK()
}

// stepSizeBounds enforces max_file_write_bytes and max_command_length as
// hard caps. Snapshot.MaxCommandOutputBytes is carried in the snapshot but
// is not checked by this step or any other gate step.
func stepSizeBounds(_ context.Context, _ *Gate, snap Snapshot, a Action) (Result, bool) {
	if snap.MaxFileWriteBytes > 0 && a.WriteBytes > snap.MaxFileWriteBytes {
		return deny(ReasonContentTooLarge, fmt.Sprintf("write of %d bytes exceeds max_file_write_bytes %d", a.WriteBytes, snap.MaxFileWriteBytes)), false
	}
	if snap.MaxCommandLength > 0 && len(a.Command) > snap.MaxCommandLength {
		return deny(ReasonContentTooLarge, fmt.Sprintf("command of %d chars exceeds max_command_length %d", len(a.Command), snap.MaxCommandLength)), false
	}
	return contOK()
}

// canonicalize resolves a root to its canonical form, tolerating a root
// that does not exist yet.
func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return real
}

// resolveCanonical mirrors the teacher's resolvePath symlink handling:
// resolve the target itself if it exists (following the full symlink
// chain); otherwise resolve the nearest existing ancestor (handling a
// dangling symlink's own chain too) and rejoin the non-existent suffix.
func resolveCanonical(target string) (real string, err error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	if linfo, lerr := os.Lstat(abs); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
		dest, rerr := os.Readlink(abs)
		if rerr != nil {
			return "", fmt.Errorf("cannot resolve symlink %s: %w", abs, rerr)
		}
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(filepath.Dir(abs), dest)
		}
		dest = filepath.Clean(dest)
		return resolveThroughExistingAncestors(dest)
	}

	parent, perr := filepath.EvalSymlinks(filepath.Dir(abs))
	if perr != nil {
		return "", fmt.Errorf("cannot resolve parent of %s: %w", abs, perr)
	}
	return filepath.Join(parent, filepath.Base(abs)), nil
}

// resolveThroughExistingAncestors walks up path until it finds an
// existing ancestor, canonicalizes that, then rejoins the remainder —
// catching chained symlinks (link1 -> link2 -> /outside).
func resolveThroughExistingAncestors(path string) (string, error) {
	current := path
	var suffix []string
	for {
		if real, err := filepath.EvalSymlinks(current); err == nil {
			for i := len(suffix) - 1; i >= 0; i-- {
				real = filepath.Join(real, suffix[i])
			}
			return real, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor found for %s", path)
		}
		suffix = append(suffix, filepath.Base(current))
		current = parent
	}
}

// isPathInside reports whether target is root or a descendant of root.
func isPathInside(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
