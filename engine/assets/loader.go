package assets

import "github.com/spaghettifunk/prism/engine/renderer/metadata"

type Loader interface {
	// params is loader specific, nil selects the defaults.
	Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error)
	Unload(*metadata.Resource) error
}
