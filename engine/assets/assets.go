package assets

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/assets/loaders"
	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Max number of file changes buffered between two PollChanges calls.
const maxPendingChanges = 256

var ErrAssetNotFound = errors.New("asset not found")

type AssetInfo struct {
	Path       string
	Type       metadata.ResourceType
	LastLoaded time.Time
}

// AssetManager indexes the asset directory, loads assets through the loader
// registered for their type and watches the directory for changes. Changes
// are queued by the watcher goroutine and delivered as
// EVENT_CODE_ASSET_CHANGED by PollChanges on the caller's goroutine.
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[metadata.ResourceType]Loader

	mutex sync.RWMutex

	events   *core.EventBus
	changes  *containers.RingQueue[string]
	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	watching bool
	isClosed bool
}

func NewAssetManager(events *core.EventBus) (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}

	am := &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[metadata.ResourceType]Loader),
		events:   events,
		changes:  containers.NewRingQueue[string](maxPendingChanges),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	// Register loaders
	am.registerLoader(metadata.ResourceTypeShader, &loaders.ShaderConfigLoader{})
	am.registerLoader(metadata.ResourceTypeShaderBinary, &loaders.BinaryLoader{})
	am.registerLoader(metadata.ResourceTypeShaderSource, &loaders.WGSLLoader{})
	am.registerLoader(metadata.ResourceTypeImage, &loaders.TextureLoader{})
	return am, nil
}

// Initialize indexes every asset under assetsDir and starts watching it.
func (am *AssetManager) Initialize(assetsDir string) error {
	root, err := filepath.Abs(assetsDir)
	if err != nil {
		return errors.Wrapf(err, "resolving %s", assetsDir)
	}
	am.root = root
	if err := am.watchRecursive(root, nil); err != nil {
		return err
	}
	am.watching = true
	go am.start()
	core.LogInfo("asset manager watching %s (%d assets)", root, am.Count())
	return nil
}

func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	if am.watching {
		<-am.stopped
	}
	return am.fsnotify.Close()
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType metadata.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// Path resolves a name relative to the asset root.
func (am *AssetManager) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(am.root, name)
}

// LoadAsset loads an indexed asset with the loader registered for its type.
func (am *AssetManager) LoadAsset(name string, params interface{}) (*metadata.Resource, error) {
	path := am.Path(name)

	am.mutex.Lock()
	asset, exists := am.assets[path]
	if !exists {
		am.mutex.Unlock()
		return nil, errors.Wrap(ErrAssetNotFound, path)
	}
	// Load or reload asset from disk if necessary
	asset.LastLoaded = time.Now()
	am.assets[path] = asset
	am.mutex.Unlock()

	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, errors.Errorf("no loader registered for asset type: %s", asset.Type)
	}
	return loader.Load(path, asset.Type, params)
}

func (am *AssetManager) UnloadAsset(asset *metadata.Resource) error {
	if loader, ok := am.loaders[asset.Type]; ok {
		return loader.Unload(asset)
	}
	return nil
}

// Count is the number of indexed assets.
func (am *AssetManager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

// PollChanges fires EVENT_CODE_ASSET_CHANGED for every file that changed
// since the last call, each path once. It returns the number of events.
func (am *AssetManager) PollChanges() int {
	seen := map[string]bool{}
	for _, path := range am.changes.Drain() {
		if seen[path] {
			continue
		}
		seen[path] = true
		ctx := core.EventContext{}
		ctx.Data.S = path
		am.events.Fire(core.EVENT_CODE_ASSET_CHANGED, am, ctx)
	}
	return len(seen)
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	if e.Has(fsnotify.Create) {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			// Files may land in the directory before it is watched.
			if err := am.watchRecursive(e.Name, am.queueChange); err != nil {
				core.LogWarn("asset watcher: %s", err)
			}
			return
		}
	}
	// Handle create or modify events
	if e.Has(fsnotify.Create) || e.Has(fsnotify.Write) {
		if am.handleFileEvent(e.Name) {
			am.queueChange(e.Name)
		}
	}
	// Editors often replace files by renaming, so the path may come back.
	if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
		am.removeAsset(e.Name)
	}
}

func (am *AssetManager) queueChange(path string) {
	if err := am.changes.Enqueue(path); err != nil {
		core.LogWarn("asset change for %s dropped: %s", path, err)
	}
}

// watchRecursive adds all directories under the given one to the watch list
// and indexes the files found, passing every asset to onAsset if set.
func (am *AssetManager) watchRecursive(path string, onAsset func(string)) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		if am.handleFileEvent(walkPath) && onAsset != nil {
			onAsset(walkPath)
		}
		return nil
	})
}

// Handle the creation or modification of a file. It reports whether the
// file is a known asset type.
func (am *AssetManager) handleFileEvent(path string) bool {
	assetType := metadata.ResourceTypeOf(path)
	if assetType == metadata.ResourceTypeNone {
		return false
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.assets[path] = AssetInfo{
		Path: path,
		Type: assetType,
	}
	return true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	delete(am.assets, path)
}
