package cache

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
)

// fingerprintLength is the number of hex characters kept from the digest.
const fingerprintLength = 12

var sha1Hasher = utils.NewHasher(utils.SHA1)

// fingerprint derives the entry name. An explicit id makes it depend only
// on (id, args); otherwise the call site that created the entry takes the
// id's place.
func fingerprint(o *options) (string, error) {
	key := []any{o.id}
	if !o.hasID {
		key = []any{o.caller}
	}
	key = append(key, o.args...)
	digest, err := sha1Hasher.HashJSON(key)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint cache arguments: %w", err)
	}
	return utils.ShortHash(digest, fingerprintLength), nil
}

// callSite describes the frame skip levels above its caller.
func callSite(skip int) string {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	name := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s:%d %s", file, line, name)
}

// entryPath returns where the entry lives.
func entryPath(o *options, fp string) string {
	if o.file != "" {
		return o.file
	}
	return filepath.Join(o.dir, fp+".bin")
}

// metaPath returns the sidecar location for an entry path.
func metaPath(path string) string {
	return strings.TrimSuffix(path, ".bin") + ".meta"
}
