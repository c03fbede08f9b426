// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package isolateserver holds the interface to a content-addressed store.
// The compiler core only ever talks to the StorageApi interface; the one
// implementation shipped here is a dry-run logger, since actual network
// transfer is a host-integration concern.
package isolateserver

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// alreadyCompressed lists file extensions whose content gains nothing from
// another compression pass; items with these extensions upload at level 0.
var alreadyCompressed = map[string]bool{
	".7z": true, ".avi": true, ".cur": true, ".gif": true, ".h264": true,
	".jar": true, ".jpeg": true, ".jpg": true, ".mp4": true, ".pdf": true,
	".png": true, ".wav": true, ".zip": true,
}

// CompressionLevel returns the zlib level to use for a file, by extension.
func CompressionLevel(filename string) int {
	if alreadyCompressed[strings.ToLower(filepath.Ext(filename))] {
		return 0
	}
	return 6
}

// UploadItem is one content-addressed blob to be pushed to the store.
type UploadItem interface {
	GetDigest() string
	GetSize() int64
	IsHighPriority() bool
	GetCompressionLevel() int
	// GetContent streams the item's raw bytes in chunks. The error channel
	// carries at most one error and closes with the content channel.
	GetContent(done <-chan struct{}) (<-chan []byte, <-chan error)
}

// Item carries the metadata shared by every UploadItem implementation.
type Item struct {
	Digest           string
	Size             int64
	HighPriority     bool
	CompressionLevel int
}

func (i *Item) GetDigest() string        { return i.Digest }
func (i *Item) GetSize() int64           { return i.Size }
func (i *Item) IsHighPriority() bool     { return i.HighPriority }
func (i *Item) GetCompressionLevel() int { return i.CompressionLevel }

const contentChunkSize = 1 << 20

// FileItem is an UploadItem backed by a file on disk.
type FileItem struct {
	Item
	Path string
}

func (f *FileItem) GetContent(done <-chan struct{}) (<-chan []byte, <-chan error) {
	chOut := make(chan []byte)
	chError := make(chan error, 1)
	go func() {
		defer close(chOut)
		defer close(chError)
		file, err := os.Open(f.Path)
		if err != nil {
			chError <- err
			return
		}
		defer file.Close()
		for {
			buf := make([]byte, contentChunkSize)
			n, err := file.Read(buf)
			if n > 0 {
				select {
				case chOut <- buf[:n]:
				case <-done:
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				chError <- err
				return
			}
		}
	}()
	return chOut, chError
}

// PushState is the opaque per-item token Contains hands back for items the
// server is missing; it must be passed through to the matching Push call.
type PushState struct {
	UploadURL string
	Finalized bool
}

// StorageApi is the low-level interface to one namespace of a
// content-addressed store. It is oblivious of compression and hashing;
// those are decided by the caller (Storage) per item.
type StorageApi interface {
	Location() string
	Namespace() string

	// Contains filters items down to the subset the server does not hold
	// yet, mapping each missing item to the PushState its upload requires.
	Contains(items []UploadItem) (map[UploadItem]PushState, error)

	// Push uploads one missing item. The returned channel yields the
	// terminal result (nil on success) and is then closed.
	Push(done <-chan struct{}, item UploadItem, pushState PushState) <-chan error
}

// DryLoggingStorageApi implements StorageApi without any network I/O: it
// reports every item as missing and logs each push instead of sending it.
// It is the default implementation, and doubles as the test seam.
type DryLoggingStorageApi struct {
	serverURL, namespace string

	mu     sync.Mutex
	pushed []string // digests, in push order
}

func NewDryLoggingStorageApi(serverURL, namespace string) *DryLoggingStorageApi {
	return &DryLoggingStorageApi{serverURL: serverURL, namespace: namespace}
}

func (a *DryLoggingStorageApi) Location() string  { return a.serverURL }
func (a *DryLoggingStorageApi) Namespace() string { return a.namespace }

func (a *DryLoggingStorageApi) Contains(items []UploadItem) (map[UploadItem]PushState, error) {
	missing := make(map[UploadItem]PushState, len(items))
	for _, item := range items {
		missing[item] = PushState{}
	}
	return missing, nil
}

func (a *DryLoggingStorageApi) Push(done <-chan struct{}, item UploadItem, pushState PushState) <-chan error {
	chError := make(chan error, 1)
	go func() {
		defer close(chError)
		content, contentErr := item.GetContent(done)
		var total int64
		for chunk := range content {
			total += int64(len(chunk))
		}
		if err := <-contentErr; err != nil {
			chError <- err
			return
		}
		a.mu.Lock()
		a.pushed = append(a.pushed, item.GetDigest())
		a.mu.Unlock()
		log.Printf("dry push %s (%d bytes) to %s/%s", item.GetDigest(), total, a.serverURL, a.namespace)
		chError <- nil
	}()
	return chError
}

// Pushed returns the digests pushed so far, in order.
func (a *DryLoggingStorageApi) Pushed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.pushed...)
}

// Storage drives a StorageApi: it batches Contains lookups and pushes the
// missing items one by one.
type Storage struct {
	api StorageApi
}

func NewStorage(serverURL, namespace string) Storage {
	return Storage{api: NewDryLoggingStorageApi(serverURL, namespace)}
}

// NewStorageWithApi wires a caller-supplied StorageApi implementation.
func NewStorageWithApi(api StorageApi) Storage {
	return Storage{api: api}
}

func (s *Storage) Connect() error {
	if s.api == nil {
		return errors.New("isolateserver: no storage api configured")
	}
	return nil
}

// Upload drains chItems, skips the ones the server already holds, and
// pushes the rest. The first push or lookup error aborts the remainder.
func (s *Storage) Upload(done <-chan struct{}, chItems <-chan UploadItem) error {
	var batch []UploadItem
	for item := range chItems {
		batch = append(batch, item)
	}
	missing, err := s.api.Contains(batch)
	if err != nil {
		return err
	}
	for _, item := range batch {
		pushState, ok := missing[item]
		if !ok {
			continue
		}
		select {
		case <-done:
			return errors.New("isolateserver: upload interrupted")
		default:
		}
		if err := <-s.api.Push(done, item, pushState); err != nil {
			return err
		}
	}
	return nil
}
