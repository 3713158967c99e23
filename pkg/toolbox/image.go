package toolbox

import (
	"context"

	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
)

type GenerateImageInput struct {
	Prompt      string `json:"prompt" jsonschema:"description=What the image should show"`
	Orientation string `json:"orientation,omitempty" jsonschema:"enum=portrait,enum=square,enum=landscape"`
}

var orientationSizes = map[string]string{
	"portrait":  go_openai.CreateImageSize1024x1792,
	"square":    go_openai.CreateImageSize1024x1024,
	"landscape": go_openai.CreateImageSize1792x1024,
}

func imageSize(orientation string) string {
	if s, ok := orientationSizes[orientation]; ok {
		return s
	}
	return go_openai.CreateImageSize1024x1024
}

// GenerateImage returns the URL of the generated image.
func (t *Toolbox) GenerateImage(ctx context.Context, in GenerateImageInput) (string, error) {
	if t.openai == nil {
		return "", errors.New("image generation is not configured")
	}
	resp, err := t.openai.CreateImage(ctx, go_openai.ImageRequest{
		Prompt:         in.Prompt,
		Model:          go_openai.CreateImageModelDallE3,
		Size:           imageSize(in.Orientation),
		Quality:        go_openai.CreateImageQualityHD,
		N:              1,
		ResponseFormat: go_openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", errors.Wrap(err, "generate image")
	}
	if len(resp.Data) == 0 {
		return "", errors.New("no image returned")
	}
	return resp.Data[0].URL, nil
}
