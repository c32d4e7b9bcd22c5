package loaders

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// TextureLoader decodes png, jpeg and bmp files into RGBA8 pixels ready for
// upload. params may be a *metadata.ImageResourceParams.
type TextureLoader struct{}

func (tl *TextureLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	var p metadata.ImageResourceParams
	if typed, ok := params.(*metadata.ImageResourceParams); ok && typed != nil {
		p = *typed
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	data := ToRGBA(img, p)
	return &metadata.Resource{
		Name:     filepath.Base(path),
		FullPath: path,
		Type:     metadata.ResourceTypeImage,
		DataSize: uint64(len(data.Pixels)),
		Data:     data,
	}, nil
}

func (tl *TextureLoader) Unload(*metadata.Resource) error {
	return nil
}

// ToRGBA converts img to tightly packed RGBA8, scaled down to fit
// p.MaxExtent and flipped vertically when p.FlipY is set.
func ToRGBA(img image.Image, p metadata.ImageResourceParams) *metadata.ImageResourceData {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if limit := int(p.MaxExtent); limit > 0 && (width > limit || height > limit) {
		if width >= height {
			height = max(1, height*limit/width)
			width = limit
		} else {
			width = max(1, width*limit/height)
			height = limit
		}
	}

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(rgba, rgba.Bounds(), img, bounds, draw.Src, nil)
	}

	if p.FlipY {
		row := make([]uint8, rgba.Stride)
		for y := 0; y < height/2; y++ {
			top := rgba.Pix[y*rgba.Stride : (y+1)*rgba.Stride]
			bottom := rgba.Pix[(height-1-y)*rgba.Stride : (height-y)*rgba.Stride]
			copy(row, top)
			copy(top, bottom)
			copy(bottom, row)
		}
	}

	return &metadata.ImageResourceData{
		ChannelCount: 4,
		Width:        uint32(width),
		Height:       uint32(height),
		Pixels:       rgba.Pix,
	}
}
