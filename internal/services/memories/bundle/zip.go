// Package bundle packs a destination tree into a single zip archive for
// whole-archive upload mode
package bundle

import (
	"archive/zip"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	perr "snapvault/internal/platform/errors"
)

// metaDirName matches the store's bookkeeping dir; it never ships in bundles
const metaDirName = ".snapvault"

// Build zips every committed file under destRoot into outPath. Entries are
// written in sorted path order with fixed timestamps so identical trees
// produce identical archives
func Build(ctx context.Context, destRoot, outPath string) error {
	var files []string
	err := filepath.WalkDir(destRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == metaDirName {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := filepath.Rel(destRoot, p)
		if rerr != nil {
			return rerr
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return perr.Storagef("walking %s: %v", destRoot, err)
	}
	sort.Strings(files)

	tmp := outPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return perr.Storagef("creating bundle: %v", err)
	}

	if err := writeEntries(ctx, out, destRoot, files); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return perr.Storagef("closing bundle: %v", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return perr.Storagef("finalizing bundle: %v", err)
	}
	return nil
}

func writeEntries(ctx context.Context, out io.Writer, destRoot string, files []string) error {
	zw := zip.NewWriter(out)
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return perr.Cancelledf("bundling: %v", err)
		}
		hdr := &zip.FileHeader{
			Name:     filepath.ToSlash(rel),
			Method:   zip.Deflate,
			Modified: time.Unix(0, 0).UTC(),
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return perr.Storagef("adding %s to bundle: %v", rel, err)
		}
		f, err := os.Open(filepath.Join(destRoot, rel))
		if err != nil {
			return perr.Storagef("opening %s: %v", rel, err)
		}
		_, cErr := io.Copy(w, f)
		_ = f.Close()
		if cErr != nil {
			return perr.Storagef("compressing %s: %v", rel, cErr)
		}
	}
	if err := zw.Close(); err != nil {
		return perr.Storagef("sealing bundle: %v", err)
	}
	return nil
}

// Name derives the bundle filename from the destination root
func Name(destRoot string) string {
	base := filepath.Base(filepath.Clean(destRoot))
	if base == "." || base == string(filepath.Separator) || strings.TrimSpace(base) == "" {
		base = "memories"
	}
	return base + ".zip"
}
