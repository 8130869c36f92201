package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Resolve computes the stable fingerprint under which all snapshots for
// a project are grouped. A project cloned as bob/ on one machine and
// alice/ on another still lands in the same vault directory as long as
// both clones share a remote. The fingerprint is never derived from the
// machine hostname.
func Resolve(projectPath string) string {
	if url, ok := remoteOriginURL(projectPath); ok {
		return NormalizeRemoteURL(url)
	}
	return pathFingerprint(projectPath)
}

var (
	scpLikeRe = regexp.MustCompile(`^[\w.-]+@([\w.-]+):(.*)$`)
	uriRe     = regexp.MustCompile(`^(?:https?|ssh|git)://(?:[\w.-]+(?::[^@]*)?@)?([\w.-]+)(?::\d+)?/(.*)$`)
)

// NormalizeRemoteURL reduces the variant remote syntaxes to a single
// canonical host/path form and sanitizes it into a directory name:
//
//	git@github.com:user/repo.git     -> github.com-user-repo
//	https://github.com/user/repo.git -> github.com-user-repo
//	ssh://git@github.com/user/repo   -> github.com-user-repo
func NormalizeRemoteURL(url string) string {
	url = strings.TrimSpace(url)
	url = strings.TrimSuffix(url, ".git")

	if m := scpLikeRe.FindStringSubmatch(url); m != nil {
		return sanitize(m[1] + "/" + m[2])
	}
	if m := uriRe.FindStringSubmatch(url); m != nil {
		return sanitize(m[1] + "/" + m[2])
	}
	return sanitize(url)
}

// pathFingerprint is the fallback identity for projects without a
// remote: the directory basename plus a short hash of the canonical
// absolute path. The basename keeps the vault browsable; the hash keeps
// two unrelated directories that share a name apart.
func pathFingerprint(projectPath string) string {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		abs = projectPath
	}
	abs = filepath.Clean(abs)
	sum := sha256.Sum256([]byte(abs))
	return sanitize(filepath.Base(abs)) + "-" + hex.EncodeToString(sum[:])[:12]
}

var (
	unsafeRe   = regexp.MustCompile(`[/:@\\%\s]+`)
	dashRunsRe = regexp.MustCompile(`-+`)
)

func sanitize(s string) string {
	s = unsafeRe.ReplaceAllString(s, "-")
	s = dashRunsRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func remoteOriginURL(projectPath string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "-C", projectPath, "config", "--get", "remote.origin.url")
	out, err := cmd.Output()
	if err != nil {
		log.Debug().Str("project", projectPath).Err(err).Msg("no git remote for project")
		return "", false
	}
	url := strings.TrimSpace(string(out))
	return url, url != ""
}
