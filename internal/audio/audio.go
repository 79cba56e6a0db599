package audio

import "context"

// Info is the result of probing an audio file.
type Info struct {
	Filetype         string `json:"filetype"`
	Channels         int    `json:"channels"`
	BitsPerSample    int    `json:"bits_per_sample"`
	SamplesPerSecond int    `json:"samples_per_second"`
}

type Inspector interface {
	Inspect(path string) (Info, error)
}

// Converter normalizes audio for backends with strict input requirements.
// Both methods return the path of the converted file.
type Converter interface {
	ToWAV(ctx context.Context, path string) (string, error)
	ToMono(ctx context.Context, path string) (string, error)
}
