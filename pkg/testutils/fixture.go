package testutils

import (
	"context"
	"os"
	"path/filepath"

	"capki/pkg/helper"
)

// CopyFixtures replace dest with copy of src directory tree
func CopyFixtures(ctx context.Context, dest, src string) {
	Must(os.RemoveAll(dest))
	Must(os.MkdirAll(filepath.Dir(dest), 0o755))
	Must(helper.Execute("cp", "-Rp", src, dest).Do(ctx))
}
