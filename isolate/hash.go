// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"chromium.googlesource.com/infra/swarming/isolate-go/internal/common"
)

// HashAlgo is the only algorithm tag a Manifest may declare.
const HashAlgo = "sha-1"

// HashFile streams path's content through SHA-1 and returns its lowercase
// hex digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", wrapConfigError(err, "hashing "+path)
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", wrapConfigError(err, "hashing "+path)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// posixMode reduces a raw os.FileMode for the isolated format: group-write
// and all "other" bits are cleared, owner-write is cleared when readOnly,
// and group-exec is set only when owner-exec and group-read are both set
// (so 0644 becomes 0640 and 0755 becomes 0750). Mode is never reported on
// win.
func posixMode(info os.FileInfo, readOnly bool) uint32 {
	mode := uint32(info.Mode().Perm())
	mode &^= uint32(unix.S_IWGRP | unix.S_IRWXO)
	if readOnly {
		mode &^= uint32(unix.S_IWUSR)
	}
	if mode&(unix.S_IXUSR|unix.S_IRGRP) == uint32(unix.S_IXUSR|unix.S_IRGRP) {
		mode |= uint32(unix.S_IXGRP)
	} else {
		mode &^= uint32(unix.S_IXGRP)
	}
	return mode
}

// WalkEntry is one file or symlink discovered under a directory entry
// during the manifest walk, expressed relative to that directory itself
// so it can be joined back onto the declared path.
type WalkEntry struct {
	RelPath string
	IsLink  bool
}

// Walk recursively lists root (relative to itself), depth-first and in
// sorted order so that repeated compilations of identical inputs produce
// byte-identical output. Symlinks are recorded, not
// followed. Entries whose relative path is rejected by blacklist are
// skipped entirely -- including their subtree, if they are a directory.
func Walk(root string, blacklist common.BlacklistFunc) ([]WalkEntry, error) {
	var out []WalkEntry
	var walk func(dir string) error
	walk = func(dir string) error {
		absDir := filepath.Join(root, dir)
		entries, err := os.ReadDir(absDir)
		if err != nil {
			return wrapConfigError(err, "walking "+absDir)
		}
		names := make([]string, len(entries))
		byName := map[string]os.DirEntry{}
		for i, e := range entries {
			names[i] = e.Name()
			byName[e.Name()] = e
		}
		sort.Strings(names)
		for _, name := range names {
			e := byName[name]
			rel := name
			if dir != "" {
				rel = dir + "/" + name
			}
			if blacklist(rel) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return wrapConfigError(err, "stat "+rel)
			}
			if info.Mode()&os.ModeSymlink != 0 {
				out = append(out, WalkEntry{RelPath: rel, IsLink: true})
				continue
			}
			if e.IsDir() {
				if err := walk(rel); err != nil {
					return err
				}
				continue
			}
			out = append(out, WalkEntry{RelPath: rel})
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return out, nil
}

// FileToEntry hashes (or, for a symlink, reads the target of) the file at
// absPath and returns the FileEntry recorded for it in a manifest. prev, if
// non-nil, is the previously recorded entry for the same path; its hash is
// reused when mtime, size and mode are unchanged and it isn't the sentinel
// "invalid" hash.
//
// touched marks a files_touched entry (a file the command opens but may
// not read): its size/mtime/mode
// are still recorded so staleness can be detected, but its content is never
// read through HashFile, and the resulting entry carries no Hash.
func FileToEntry(absPath string, prev *FileEntry, readOnly bool, isWin bool, touched bool) (FileEntry, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		return FileEntry{}, wrapConfigError(err, "file "+absPath+" is missing")
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(absPath)
		if err != nil {
			return FileEntry{}, wrapConfigError(err, "reading symlink "+absPath)
		}
		return FileEntry{Link: target}, nil
	}

	out := FileEntry{Size: info.Size(), Mtime: info.ModTime().Unix()}
	if !isWin {
		out.Mode = posixMode(info, readOnly)
	}
	if touched {
		return out, nil
	}
	if prev != nil && prev.Hash != "" && prev.Hash != "invalid" &&
		prev.Mtime == out.Mtime && prev.Size == out.Size && prev.Mode == out.Mode {
		out.Hash = prev.Hash
		return out, nil
	}
	digest, err := HashFile(absPath)
	if err != nil {
		return FileEntry{}, err
	}
	out.Hash = digest
	return out, nil
}
